// Package eventbus merges independent sensor sources into one event stream.
//
// Each running source gets its own forwarding goroutine, so a slow or chatty
// source only ever blocks itself. Order is preserved per source; there is no
// ordering across sources.
package eventbus

import (
	"context"
	"sync"

	"backend-walklog/internal/logging"
	"backend-walklog/internal/sensor"
)

type Bus struct {
	sources []sensor.Source
	out     chan sensor.Event

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  []sensor.Source
}

func New(buffer int, sources ...sensor.Source) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{sources: sources, out: make(chan sensor.Event, buffer)}
}

// Events is the merged stream. It is never closed.
func (b *Bus) Events() <-chan sensor.Event {
	return b.out
}

// Start subscribes to every available source and returns the names of those
// started. Unavailable or failing sources are skipped. Sensor events left over
// from the previous run are discarded first.
func (b *Bus) Start(ctx context.Context) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return names(b.active)
	}

	b.dropStale()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.active = b.active[:0]
	for _, src := range b.sources {
		if !src.IsAvailable() {
			logging.Info().Str("source", src.Name()).Msg("sensor unavailable, skipping")
			continue
		}
		if err := src.Start(runCtx); err != nil {
			logging.Warn().Err(err).Str("source", src.Name()).Msg("sensor failed to start")
			continue
		}
		b.active = append(b.active, src)
		b.wg.Add(1)
		go b.forward(runCtx, src)
	}
	b.running = true
	return names(b.active)
}

// Pause unsubscribes from all sources. Resume subscribes again.
func (b *Bus) Pause() {
	b.Stop()
}

func (b *Bus) Resume(ctx context.Context) []string {
	return b.Start(ctx)
}

func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	active := b.active
	b.active = nil
	b.mu.Unlock()

	for _, src := range active {
		src.Stop()
	}
	cancel()
	b.wg.Wait()
}

func (b *Bus) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Publish injects a control event (TrackingPaused, TrackingResumed) into the
// merged stream. It reports false if the stream buffer is full.
func (b *Bus) Publish(ev sensor.Event) bool {
	select {
	case b.out <- ev:
		return true
	default:
		return false
	}
}

func (b *Bus) forward(ctx context.Context, src sensor.Source) {
	defer b.wg.Done()
	in := src.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-in:
			select {
			case b.out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// dropStale discards sensor events still queued from the previous run. Their
// step totals belong to a segment that has ended. Control events are kept.
func (b *Bus) dropStale() {
	var keep []sensor.Event
	dropped := 0
	for done := false; !done; {
		select {
		case ev := <-b.out:
			if ev.Kind == sensor.TrackingPaused || ev.Kind == sensor.TrackingResumed {
				keep = append(keep, ev)
				continue
			}
			dropped++
		default:
			done = true
		}
	}
	for _, ev := range keep {
		b.Publish(ev)
	}
	if dropped > 0 {
		logging.Debug().Int("dropped", dropped).Msg("discarded events from previous run")
	}
}

func names(sources []sensor.Source) []string {
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		out = append(out, s.Name())
	}
	return out
}
