package metrics

import (
	"maps"
	"sync"
	"time"

	m "github.com/cschleiden/go-dslflow/metrics"
)

// Recorder is an in-memory metrics client for tests.
type Recorder struct {
	mu       *sync.Mutex
	tags     m.Tags
	counters map[string]int64
	gauges   map[string]int64
	timings  map[string][]time.Duration
}

func NewRecorder() *Recorder {
	return &Recorder{
		mu:       &sync.Mutex{},
		counters: map[string]int64{},
		gauges:   map[string]int64{},
		timings:  map[string][]time.Duration{},
	}
}

var _ m.Client = (*Recorder)(nil)

func (r *Recorder) Counter(name string, tags m.Tags, value int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters[name] += value
}

func (r *Recorder) Distribution(name string, tags m.Tags, value float64) {
	r.Timing(name, tags, time.Duration(value)*time.Millisecond)
}

func (r *Recorder) Gauge(name string, tags m.Tags, value int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gauges[name] = value
}

func (r *Recorder) Timing(name string, tags m.Tags, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timings[name] = append(r.timings[name], duration)
}

// WithTags returns a recorder sharing the same storage.
func (r *Recorder) WithTags(tags m.Tags) m.Client {
	c := *r
	c.tags = maps.Clone(r.tags)
	if c.tags == nil {
		c.tags = m.Tags{}
	}
	maps.Copy(c.tags, tags)

	return &c
}

func (r *Recorder) CounterValue(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.counters[name]
}

func (r *Recorder) GaugeValue(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.gauges[name]
}

func (r *Recorder) TimingCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.timings[name])
}
