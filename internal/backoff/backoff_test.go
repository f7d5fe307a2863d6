package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstant(t *testing.T) {
	s := Constant{Interval: 5 * time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 5*time.Second, s.Delay(attempt))
	}
}

func TestLinear(t *testing.T) {
	s := Linear{Initial: time.Second, Max: 3 * time.Second}
	assert.Equal(t, time.Second, s.Delay(1))
	assert.Equal(t, 2*time.Second, s.Delay(2))
	assert.Equal(t, 3*time.Second, s.Delay(3))
	assert.Equal(t, 3*time.Second, s.Delay(10))
}

func TestExponential(t *testing.T) {
	s := Exponential{Initial: time.Second, Max: 10 * time.Second}
	assert.Equal(t, time.Second, s.Delay(1))
	assert.Equal(t, 2*time.Second, s.Delay(2))
	assert.Equal(t, 4*time.Second, s.Delay(3))
	assert.Equal(t, 8*time.Second, s.Delay(4))
	assert.Equal(t, 10*time.Second, s.Delay(5))
	assert.Equal(t, 10*time.Second, s.Delay(200))
}

func TestExponentialWithJitter_StaysInRange(t *testing.T) {
	s := ExponentialWithJitter{Initial: time.Second, Max: 8 * time.Second}
	for i := 0; i < 100; i++ {
		d := s.Delay(3)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 4*time.Second)
	}
}

func TestDefault(t *testing.T) {
	assert.Equal(t, DefaultInterval, Default().Delay(1))
	assert.Equal(t, DefaultInterval, Default().Delay(3))
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name string
		want Strategy
	}{
		{"", Constant{Interval: 2 * time.Second}},
		{"constant", Constant{Interval: 2 * time.Second}},
		{"Linear", Linear{Initial: 2 * time.Second, Max: time.Minute}},
		{"exponential", Exponential{Initial: 2 * time.Second, Max: time.Minute}},
		{"jitter", ExponentialWithJitter{Initial: 2 * time.Second, Max: time.Minute}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromConfig(tt.name, 2*time.Second, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := FromConfig("fibonacci", time.Second, 0)
	assert.Error(t, err)

	s, err := FromConfig("constant", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, s.Delay(1))
}
