package api

import (
	"net/http"

	"github.com/ignite/mailqueue/internal/pkg/httputil"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// MetricPoint is one data point of a metric snapshot.
type MetricPoint struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"` // histograms only
}

// MetricSnapshot is the JSON form of one instrument.
type MetricSnapshot struct {
	Name   string        `json:"name"`
	Unit   string        `json:"unit,omitempty"`
	Type   string        `json:"type"`
	Points []MetricPoint `json:"points"`
}

// MetricsHandler collects reader on every request and renders the result as
// JSON. Histograms report their sum as value.
//
//	GET /metrics
func MetricsHandler(reader sdkmetric.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(r.Context(), &rm); err != nil {
			httputil.InternalError(w, err)
			return
		}
		out := make([]MetricSnapshot, 0)
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if snap, ok := snapshot(m); ok {
					out = append(out, snap)
				}
			}
		}
		httputil.OK(w, out)
	}
}

func snapshot(m metricdata.Metrics) (MetricSnapshot, bool) {
	snap := MetricSnapshot{Name: m.Name, Unit: m.Unit}
	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		snap.Type = "sum"
		for _, dp := range data.DataPoints {
			snap.Points = append(snap.Points, MetricPoint{Attributes: attrs(dp.Attributes.ToSlice()), Value: float64(dp.Value)})
		}
	case metricdata.Sum[float64]:
		snap.Type = "sum"
		for _, dp := range data.DataPoints {
			snap.Points = append(snap.Points, MetricPoint{Attributes: attrs(dp.Attributes.ToSlice()), Value: dp.Value})
		}
	case metricdata.Gauge[int64]:
		snap.Type = "gauge"
		for _, dp := range data.DataPoints {
			snap.Points = append(snap.Points, MetricPoint{Attributes: attrs(dp.Attributes.ToSlice()), Value: float64(dp.Value)})
		}
	case metricdata.Histogram[int64]:
		snap.Type = "histogram"
		for _, dp := range data.DataPoints {
			snap.Points = append(snap.Points, MetricPoint{Attributes: attrs(dp.Attributes.ToSlice()), Value: float64(dp.Sum), Count: dp.Count})
		}
	case metricdata.Histogram[float64]:
		snap.Type = "histogram"
		for _, dp := range data.DataPoints {
			snap.Points = append(snap.Points, MetricPoint{Attributes: attrs(dp.Attributes.ToSlice()), Value: dp.Sum, Count: dp.Count})
		}
	default:
		return snap, false
	}
	return snap, true
}

func attrs(kvs []attribute.KeyValue) map[string]string {
	if len(kvs) == 0 {
		return nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
