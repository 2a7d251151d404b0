package metrics

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer reports the time between its start and Stop as a timing metric.
type Timer struct {
	client Client
	clock  clock.Clock
	start  time.Time
	name   string
	tags   Tags
}

func StartTimer(client Client, name string, tags Tags) *Timer {
	return StartTimerWithClock(clock.New(), client, name, tags)
}

func StartTimerWithClock(c clock.Clock, client Client, name string, tags Tags) *Timer {
	return &Timer{
		client: client,
		clock:  c,
		start:  c.Now(),
		name:   name,
		tags:   tags,
	}
}

// Stop the timer, send the elapsed time as a timing metric and return it.
func (t *Timer) Stop() time.Duration {
	d := t.clock.Since(t.start)
	t.client.Timing(t.name, t.tags, d)

	return d
}
