package events

import (
	"context"

	"github.com/ignite/mailqueue/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ignite/mailqueue"

// MetricsObserver records lifecycle events as OpenTelemetry instruments:
//   - mailqueue.jobs.events (Int64Counter) by kind; enqueued and cleared
//     add Count when set
//   - mailqueue.jobs.attempts (Int64Histogram) attempts used by finished
//     jobs, by outcome
type MetricsObserver struct {
	events   metric.Int64Counter
	attempts metric.Int64Histogram
}

// NewMetricsObserver uses the global MeterProvider.
func NewMetricsObserver() *MetricsObserver {
	return NewMetricsObserverWithMeter(otel.Meter(meterName))
}

// NewMetricsObserverWithMeter allows injecting a meter for tests.
func NewMetricsObserverWithMeter(meter metric.Meter) *MetricsObserver {
	// On error the API hands back noop instruments.
	events, _ := meter.Int64Counter(
		"mailqueue.jobs.events",
		metric.WithDescription("Job lifecycle events"),
		metric.WithUnit("{event}"),
	)
	attempts, _ := meter.Int64Histogram(
		"mailqueue.jobs.attempts",
		metric.WithDescription("Delivery attempts used by finished jobs"),
		metric.WithUnit("{attempt}"),
	)
	return &MetricsObserver{events: events, attempts: attempts}
}

func (m *MetricsObserver) Observe(ctx context.Context, e Event) {
	n := int64(1)
	if (e.Kind == KindEnqueued || e.Kind == KindCleared) && e.Count > 0 {
		n = e.Count
	}
	m.events.Add(ctx, n, metric.WithAttributes(attribute.String("kind", string(e.Kind))))

	if e.Kind == KindCompleted || e.Kind == KindFailed {
		m.attempts.Record(ctx, int64(e.Attempt),
			metric.WithAttributes(attribute.String("outcome", string(e.Kind))))
	}
}

// StatsFunc reads current queue counts.
type StatsFunc func(ctx context.Context) (domain.QueueStats, error)

// RegisterQueueGauge exposes mailqueue.jobs.depth, the number of jobs per
// state, read from stats at each collection.
func RegisterQueueGauge(meter metric.Meter, stats StatsFunc) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge(
		"mailqueue.jobs.depth",
		metric.WithDescription("Jobs per state"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}
	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		s, err := stats(ctx)
		if err != nil {
			return err
		}
		for state, n := range map[domain.JobState]int64{
			domain.JobWaiting:   s.Waiting,
			domain.JobActive:    s.Active,
			domain.JobDelayed:   s.Delayed,
			domain.JobCompleted: s.Completed,
			domain.JobFailed:    s.Failed,
		} {
			o.ObserveInt64(gauge, n, metric.WithAttributes(attribute.String("state", string(state))))
		}
		return nil
	}, gauge)
}
