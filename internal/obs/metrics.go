package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics is the minimal metrics surface nodes depend on.
type Metrics interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

// OtelMetrics wraps an OpenTelemetry Meter, lazily creating and caching
// instruments by name, grounded on internal/rag/obs/metrics.go's
// double-checked-locking instrument cache.
type OtelMetrics struct {
	meter   metric.Meter
	mu      sync.RWMutex
	counter map[string]metric.Int64Counter
	hist    map[string]metric.Float64Histogram
}

// NewOtelMetrics builds an OtelMetrics backed by meter.
func NewOtelMetrics(meter metric.Meter) *OtelMetrics {
	return &OtelMetrics{
		meter:   meter,
		counter: map[string]metric.Int64Counter{},
		hist:    map[string]metric.Float64Histogram{},
	}
}

func (o *OtelMetrics) getCounter(name string) metric.Int64Counter {
	o.mu.RLock()
	c, ok := o.counter[name]
	o.mu.RUnlock()
	if ok {
		return c
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.counter[name]; ok {
		return c
	}
	c, _ = o.meter.Int64Counter(name)
	o.counter[name] = c
	return c
}

func (o *OtelMetrics) getHistogram(name string) metric.Float64Histogram {
	o.mu.RLock()
	h, ok := o.hist[name]
	o.mu.RUnlock()
	if ok {
		return h
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.hist[name]; ok {
		return h
	}
	h, _ = o.meter.Float64Histogram(name)
	o.hist[name] = h
	return h
}

func toAttrs(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

func (o *OtelMetrics) IncCounter(name string, labels map[string]string) {
	o.getCounter(name).Add(context.Background(), 1, metric.WithAttributes(toAttrs(labels)...))
}

func (o *OtelMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	o.getHistogram(name).Record(context.Background(), value, metric.WithAttributes(toAttrs(labels)...))
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) IncCounter(string, map[string]string)            {}
func (NoopMetrics) ObserveHistogram(string, float64, map[string]string) {}

// MockMetrics is an in-memory test double recording counts and
// observations, grounded on internal/rag/obs/metrics.go's MockMetrics.
type MockMetrics struct {
	mu       sync.Mutex
	Counters map[string]int
	Hists    map[string][]float64
}

// NewMockMetrics builds an empty MockMetrics.
func NewMockMetrics() *MockMetrics {
	return &MockMetrics{Counters: map[string]int{}, Hists: map[string][]float64{}}
}

func (m *MockMetrics) IncCounter(name string, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
}

func (m *MockMetrics) ObserveHistogram(name string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Hists[name] = append(m.Hists[name], value)
}
