// Package metrics defines the client the executor and the backends report metrics to.
package metrics

import "time"

type Tags map[string]string

// Client receives metrics. Implementations must be safe for concurrent use.
type Client interface {
	Counter(name string, tags Tags, value int64)

	Distribution(name string, tags Tags, value float64)

	// Gauge records the current value, replacing the previous one for the same tags.
	Gauge(name string, tags Tags, value int64)

	Timing(name string, tags Tags, duration time.Duration)

	// WithTags returns a client adding the given tags to every metric.
	WithTags(tags Tags) Client
}
