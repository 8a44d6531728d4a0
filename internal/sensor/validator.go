package sensor

import (
	"context"
	"errors"
	"sync"
	"time"

	"backend-walklog/internal/logging"
	"backend-walklog/internal/metrics"
)

var ErrUnavailable = errors.New("sensor unavailable on this device")

// StepValidator turns raw cumulative step-counter readings into plausible deltas.
type StepValidator interface {
	Validate(rawCumulative int64) (delta int64, ok bool)
	Reset()
}

// JumpValidator treats its first reading as the baseline and rejects single
// deltas above MaxJump. A rejected reading still becomes the baseline, so only
// the jump is lost. A reading below the baseline means the hardware counter was
// reset and becomes the new baseline.
type JumpValidator struct {
	MaxJump int64

	mu       sync.Mutex
	baseline int64
	primed   bool
}

func NewJumpValidator(maxJump int64) *JumpValidator {
	return &JumpValidator{MaxJump: maxJump}
}

func (v *JumpValidator) Validate(raw int64) (int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if raw < 0 {
		return 0, false
	}
	if !v.primed || raw < v.baseline {
		v.baseline = raw
		v.primed = true
		return 0, true
	}
	delta := raw - v.baseline
	if v.MaxJump > 0 && delta > v.MaxJump {
		// Drop the jump itself and count on from the new reading.
		v.baseline = raw
		return 0, false
	}
	v.baseline = raw
	return delta, true
}

func (v *JumpValidator) Reset() {
	v.mu.Lock()
	v.primed = false
	v.baseline = 0
	v.mu.Unlock()
}

// ValidatingSource reads raw cumulative counts from an inner step source and
// emits StepCountUpdate events carrying the validated total since Start.
// Rejected readings are dropped.
type ValidatingSource struct {
	inner     Source
	validator StepValidator
	events    chan Event

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	total  int64
}

func NewValidatingSource(inner Source, validator StepValidator) *ValidatingSource {
	return &ValidatingSource{
		inner:     inner,
		validator: validator,
		events:    make(chan Event, cap(inner.Events())+1),
	}
}

func (s *ValidatingSource) Name() string         { return s.inner.Name() }
func (s *ValidatingSource) IsAvailable() bool    { return s.inner.IsAvailable() }
func (s *ValidatingSource) Events() <-chan Event { return s.events }

func (s *ValidatingSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	if err := s.inner.Start(ctx); err != nil {
		return err
	}
	s.validator.Reset()
	s.total = 0
	// Totals queued from the previous run would be added on top of the new one.
	for drained := false; !drained; {
		select {
		case <-s.events:
		default:
			drained = true
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
	return nil
}

func (s *ValidatingSource) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	s.inner.Stop()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *ValidatingSource) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-s.inner.Events():
			delta, ok := s.validator.Validate(raw.Steps)
			if !ok {
				metrics.StepRejections.Inc()
				logging.Debug().Int64("raw", raw.Steps).Msg("step reading rejected")
				continue
			}
			s.total += delta
			at := raw.At
			if at.IsZero() {
				at = time.Now()
			}
			select {
			case s.events <- Event{Kind: StepCountUpdate, Source: s.inner.Name(), At: at, Steps: s.total}:
			case <-ctx.Done():
				return
			}
		}
	}
}
