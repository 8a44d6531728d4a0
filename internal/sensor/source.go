package sensor

import (
	"context"
	"sync"

	"backend-walklog/internal/metrics"
)

// Source wraps one platform sensor. Events is lazy: it yields nothing until Start.
type Source interface {
	Name() string
	IsAvailable() bool
	Start(ctx context.Context) error
	Stop()
	Events() <-chan Event
}

// Feed is a channel-backed Source driven by a platform bridge calling Emit.
type Feed struct {
	name      string
	available bool
	events    chan Event

	mu      sync.RWMutex
	running bool
}

func NewFeed(name string, available bool, buffer int) *Feed {
	if buffer <= 0 {
		buffer = 64
	}
	return &Feed{name: name, available: available, events: make(chan Event, buffer)}
}

func (f *Feed) Name() string         { return f.name }
func (f *Feed) IsAvailable() bool    { return f.available }
func (f *Feed) Events() <-chan Event { return f.events }

func (f *Feed) Start(_ context.Context) error {
	if !f.available {
		return ErrUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.events) > 0 {
		<-f.events
	}
	f.running = true
	return nil
}

func (f *Feed) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *Feed) Running() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

// Emit hands ev to the bus without blocking. It reports false when the feed is
// stopped or its buffer is full.
func (f *Feed) Emit(ev Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.running {
		metrics.SensorDrops.WithLabelValues(f.name).Inc()
		return false
	}
	if ev.Source == "" {
		ev.Source = f.name
	}
	select {
	case f.events <- ev:
		return true
	default:
		metrics.SensorDrops.WithLabelValues(f.name).Inc()
		return false
	}
}
