/*
Package throughput keeps windowed counters of the traffic moving through a
session. Every payload handed to or read from the transport is observed once;
a background ticker rolls the current window into the history every interval.
*/
package throughput

import (
	"sync"
	"time"
)

const (
	interval   time.Duration = time.Second
	maxWindows               = 60
)

type Snapshot struct {
	Unit     string    `json:"unit"`
	Total    int       `json:"total"`
	Messages int       `json:"messages"`
	Start    time.Time `json:"start"`
	Stop     time.Time `json:"stop"`
	Data     []int     `json:"data"`
}

type Throughput struct {
	mu sync.Mutex

	unit     string
	count    int
	total    int
	messages int
	start    time.Time
	stop     time.Time

	// most recent windows, oldest first
	data []int
}

func New(unit string, done <-chan struct{}) *Throughput {
	now := time.Now().UTC()
	t := &Throughput{
		unit:  unit,
		start: now,
		stop:  now,
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				t.roll()
			}
		}
	}()

	return t
}

// Observe counts one message of n units
func (t *Throughput) Observe(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count += n
	t.total += n
	t.messages++
}

func (t *Throughput) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := make([]int, len(t.data))
	copy(data, t.data)

	return Snapshot{
		Unit:     t.unit,
		Total:    t.total,
		Messages: t.messages,
		Start:    t.start,
		Stop:     t.stop,
		Data:     data,
	}
}

func (t *Throughput) roll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stop = time.Now().UTC()
	t.data = append(t.data, t.count)
	if len(t.data) > maxWindows {
		t.data = t.data[len(t.data)-maxWindows:]
	}

	// empty out our current window
	t.count = 0
}
