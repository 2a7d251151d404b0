// Package otelmetrics adapts an OpenTelemetry meter to the metrics.Client interface.
package otelmetrics

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cschleiden/go-dslflow/metrics"
)

type instruments struct {
	meter metric.Meter

	// errorHandler receives instrument creation errors. Recording is skipped for
	// instruments that could not be created.
	errorHandler func(error)

	mu            sync.Mutex
	counters      map[string]metric.Int64Counter
	gauges        map[string]metric.Int64Gauge
	distributions map[string]metric.Float64Histogram
	timings       map[string]metric.Float64Histogram
}

type client struct {
	*instruments
	tags metrics.Tags
}

var _ metrics.Client = (*client)(nil)

// New returns a metrics client recording into instruments created lazily on the meter.
// Counters become Int64Counters, gauges Int64Gauges, and distributions and timings
// Float64Histograms. Timings are recorded in milliseconds.
func New(meter metric.Meter, errorHandler func(error)) metrics.Client {
	if errorHandler == nil {
		errorHandler = func(error) {}
	}

	return &client{
		instruments: &instruments{
			meter:         meter,
			errorHandler:  errorHandler,
			counters:      map[string]metric.Int64Counter{},
			gauges:        map[string]metric.Int64Gauge{},
			distributions: map[string]metric.Float64Histogram{},
			timings:       map[string]metric.Float64Histogram{},
		},
	}
}

func (c *client) Counter(name string, tags metrics.Tags, value int64) {
	i, ok := instrument(c.instruments, c.counters, name, func() (metric.Int64Counter, error) {
		return c.meter.Int64Counter(name)
	})
	if ok {
		i.Add(context.Background(), value, c.attributes(tags))
	}
}

func (c *client) Distribution(name string, tags metrics.Tags, value float64) {
	i, ok := instrument(c.instruments, c.distributions, name, func() (metric.Float64Histogram, error) {
		return c.meter.Float64Histogram(name)
	})
	if ok {
		i.Record(context.Background(), value, c.attributes(tags))
	}
}

func (c *client) Gauge(name string, tags metrics.Tags, value int64) {
	i, ok := instrument(c.instruments, c.gauges, name, func() (metric.Int64Gauge, error) {
		return c.meter.Int64Gauge(name)
	})
	if ok {
		i.Record(context.Background(), value, c.attributes(tags))
	}
}

func (c *client) Timing(name string, tags metrics.Tags, duration time.Duration) {
	i, ok := instrument(c.instruments, c.timings, name, func() (metric.Float64Histogram, error) {
		return c.meter.Float64Histogram(name, metric.WithUnit("ms"))
	})
	if ok {
		i.Record(context.Background(), float64(duration)/float64(time.Millisecond), c.attributes(tags))
	}
}

func (c *client) WithTags(tags metrics.Tags) metrics.Client {
	merged := maps.Clone(c.tags)
	if merged == nil {
		merged = metrics.Tags{}
	}
	maps.Copy(merged, tags)

	return &client{instruments: c.instruments, tags: merged}
}

func (c *client) attributes(tags metrics.Tags) metric.MeasurementOption {
	all := make(metrics.Tags, len(c.tags)+len(tags))
	maps.Copy(all, c.tags)
	maps.Copy(all, tags)

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, attribute.String(k, all[k]))
	}

	return metric.WithAttributes(kvs...)
}

func instrument[T any](in *instruments, cache map[string]T, name string, create func() (T, error)) (T, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if i, ok := cache[name]; ok {
		return i, true
	}

	i, err := create()
	if err != nil {
		in.errorHandler(err)
		var zero T
		return zero, false
	}

	cache[name] = i

	return i, true
}
