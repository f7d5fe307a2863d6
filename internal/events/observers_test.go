package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/mailqueue/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetricsObserver_CountsByKind(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	obs := NewMetricsObserverWithMeter(provider.Meter("test"))
	ctx := context.Background()
	obs.Observe(ctx, Event{Kind: KindEnqueued, Count: 10})
	obs.Observe(ctx, Event{Kind: KindCompleted, Attempt: 2})
	obs.Observe(ctx, Event{Kind: KindCompleted, Attempt: 1})
	obs.Observe(ctx, Event{Kind: KindFailed, Attempt: 3})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	counts := map[string]int64{}
	var histCount uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				require.Equal(t, "mailqueue.jobs.events", m.Name)
				for _, dp := range data.DataPoints {
					kind, _ := dp.Attributes.Value("kind")
					counts[kind.AsString()] = dp.Value
				}
			case metricdata.Histogram[int64]:
				require.Equal(t, "mailqueue.jobs.attempts", m.Name)
				for _, dp := range data.DataPoints {
					histCount += dp.Count
				}
			}
		}
	}

	assert.Equal(t, int64(10), counts["enqueued"])
	assert.Equal(t, int64(2), counts["completed"])
	assert.Equal(t, int64(1), counts["failed"])
	assert.Equal(t, uint64(3), histCount)
}

func TestRedisPublisher_PublishesJSON(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	ctx := context.Background()
	sub := client.Subscribe(ctx, "mail:events")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client, "mail:events")
	pub.Observe(ctx, Event{Kind: KindRetrying, JobID: "j1", Attempt: 1, Error: "timeout"})

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, KindRetrying, got.Kind)
	assert.Equal(t, "j1", got.JobID)
	assert.Equal(t, "timeout", got.Error)
}

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Archiver_ArchivesOnlyFailures(t *testing.T) {
	fake := &fakeS3{}
	a := newS3Archiver(fake, "bucket", "failed")
	at := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)
	ctx := context.Background()

	a.Observe(ctx, Event{Kind: KindCompleted, JobID: "ok", At: at})
	a.Observe(ctx, Event{Kind: KindFailed, JobID: "bad", Attempt: 3, Error: "rejected", At: at})

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "bucket", aws.ToString(in.Bucket))
	assert.Equal(t, "failed/2026/03/09/bad.json", aws.ToString(in.Key))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))

	var got Event
	require.NoError(t, json.Unmarshal(fake.bodies[0], &got))
	assert.Equal(t, "rejected", got.Error)
}

func TestS3Archiver_ErrorIsSwallowed(t *testing.T) {
	a := newS3Archiver(&fakeS3{err: errors.New("access denied")}, "bucket", "")
	assert.NotPanics(t, func() {
		a.Observe(context.Background(), Event{Kind: KindFailed, JobID: "x", At: time.Now()})
	})
}

func TestRegisterQueueGauge(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	_, err := RegisterQueueGauge(provider.Meter("test"), func(context.Context) (domain.QueueStats, error) {
		return domain.QueueStats{Waiting: 7, Active: 2, Failed: 1}, nil
	})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok {
				continue
			}
			for _, dp := range gauge.DataPoints {
				state, _ := dp.Attributes.Value("state")
				got[state.AsString()] = dp.Value
			}
		}
	}
	assert.Equal(t, int64(7), got["waiting"])
	assert.Equal(t, int64(2), got["active"])
	assert.Equal(t, int64(1), got["failed"])
	assert.Equal(t, int64(0), got["delayed"])
}
