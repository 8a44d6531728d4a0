// Package recovery mirrors an in-progress walking session so it can be rebuilt
// after the process dies.
package recovery

import (
	"context"
	"sync"
	"time"
)

// Record is the flat projection of an active session. Emotions are stored as
// their tag strings.
type Record struct {
	Active           bool
	SessionID        string
	StartTime        time.Time
	UpdatedAt        time.Time
	StepCount        int64
	Duration         time.Duration
	Paused           bool
	PreEmotion       string
	PostEmotion      string
	TargetSteps      int64
	TargetActivities int64
}

// Store is the narrow contract the state machine writes through. Load returns a
// zero Record, not an error, when nothing was saved.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
}

type MemoryStore struct {
	mu  sync.Mutex
	rec Record
	set bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return Record{}, nil
	}
	return m.rec, nil
}

func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	m.rec, m.set = rec, true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.rec, m.set = Record{}, false
	m.mu.Unlock()
	return nil
}

// Present reports whether a record is currently stored.
func (m *MemoryStore) Present() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set
}

// Restored is the outcome of Restore.
type Restored struct {
	Record   Record
	Active   bool
	Stale    bool
	Duration time.Duration
}

// Restore reads the stored record and decides how to resume.
//
// Inactive or missing records yield Active=false. An active record without a
// start time is cleared and also yields Active=false. Records whose start time is
// older than staleAfter are cleared and reported as Stale. Otherwise the
// duration is the recorded duration plus, when the record was not paused, the
// wall-clock time since it was last written. A restored session is always
// paused.
func Restore(ctx context.Context, store Store, now time.Time, staleAfter time.Duration) (Restored, error) {
	rec, err := store.Load(ctx)
	if err != nil {
		return Restored{}, err
	}
	if !rec.Active {
		return Restored{Record: rec}, nil
	}
	if rec.StartTime.IsZero() {
		// Nothing can be resumed without a start; drop it so it is not read again.
		if err := store.Clear(ctx); err != nil {
			return Restored{}, err
		}
		return Restored{Record: rec}, nil
	}

	if staleAfter > 0 && now.Sub(rec.StartTime) > staleAfter {
		if err := store.Clear(ctx); err != nil {
			return Restored{}, err
		}
		return Restored{Record: rec, Stale: true}, nil
	}

	duration := rec.Duration
	if !rec.Paused {
		written := rec.UpdatedAt
		if written.IsZero() || written.Before(rec.StartTime) {
			written = rec.StartTime
		}
		if gap := now.Sub(written); gap > 0 {
			duration += gap
		}
	}
	rec.Paused = true
	rec.Duration = duration
	return Restored{Record: rec, Active: true, Duration: duration}, nil
}
