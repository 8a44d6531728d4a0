package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"backend-walklog/internal/logging"
	"backend-walklog/internal/metrics"
)

var (
	ErrAlreadySyncing = errors.New("session sync already in progress")
	ErrNetworkFailure = errors.New("remote server unreachable")
	ErrServerRejected = errors.New("remote server rejected session")
)

type SyncErrorKind int

const (
	SyncAlreadySyncing SyncErrorKind = iota + 1
	SyncNetworkFailure
	SyncServerRejected
)

func (k SyncErrorKind) sentinel() error {
	switch k {
	case SyncAlreadySyncing:
		return ErrAlreadySyncing
	case SyncServerRejected:
		return ErrServerRejected
	default:
		return ErrNetworkFailure
	}
}

// SyncError is returned by SyncSession for every user-retryable failure.
// errors.Is matches both the kind sentinel and the underlying cause.
type SyncError struct {
	Kind      SyncErrorKind
	SessionID string
	Err       error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sync %s: %v", e.SessionID, e.Kind.sentinel())
	}
	return fmt.Sprintf("sync %s: %v: %v", e.SessionID, e.Kind.sentinel(), e.Err)
}

func (e *SyncError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// Receipt is what the remote server returns for an accepted session.
type Receipt struct {
	ServerID string `json:"id"`
	ImageURL string `json:"image_url,omitempty"`
}

// Remote pushes one session. Failures must wrap ErrNetworkFailure or
// ErrServerRejected.
type Remote interface {
	Push(ctx context.Context, s WalkingSession) (Receipt, error)
}

// SyncStore is the slice of the repository the syncer needs.
type SyncStore interface {
	Get(ctx context.Context, id string) (WalkingSession, error)
	MarkSynced(ctx context.Context, id, serverID, imageURL string) error
	MarkSyncFailed(ctx context.Context, id string) error
}

// Syncer pushes completed sessions to the remote server, at most one push per
// session at a time. Pushes run on a context detached from the caller, so a
// caller that goes away does not abandon an upload halfway; the caller gets
// ctx.Err() and the push finishes in the background.
type Syncer struct {
	store   SyncStore
	remote  Remote
	timeout time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func NewSyncer(store SyncStore, remote Remote, timeout time.Duration) *Syncer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Syncer{
		store:    store,
		remote:   remote,
		timeout:  timeout,
		inflight: map[string]struct{}{},
	}
}

func (s *Syncer) SyncSession(ctx context.Context, id string) error {
	// The push can outlive the caller and its id buffer.
	id = strings.Clone(id)
	if !s.acquire(id) {
		metrics.SyncOutcomes.WithLabelValues("already_syncing").Inc()
		return &SyncError{Kind: SyncAlreadySyncing, SessionID: id}
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	result := make(chan error, 1)
	s.wg.Add(1)
	metrics.SyncInFlight.Inc()
	go func() {
		defer s.wg.Done()
		defer metrics.SyncInFlight.Dec()
		err := s.push(pushCtx, id)
		cancel()
		// Release before reporting so an immediate retry is not refused.
		s.release(id)
		result <- err
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		logging.Info().Str("session_id", id).Msg("sync caller gone, push continues in background")
		return ctx.Err()
	}
}

// InFlight reports whether a push for id is outstanding.
func (s *Syncer) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[id]
	return ok
}

// Wait blocks until every outstanding push has finished.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

func (s *Syncer) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Syncer) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func (s *Syncer) push(ctx context.Context, id string) error {
	walk, err := s.store.Get(ctx, id)
	if err != nil {
		metrics.SyncOutcomes.WithLabelValues("error").Inc()
		return err
	}
	if walk.Synced {
		metrics.SyncOutcomes.WithLabelValues("success").Inc()
		return nil
	}

	receipt, err := s.remote.Push(ctx, walk)
	if err != nil {
		kind := SyncNetworkFailure
		outcome := "network"
		if errors.Is(err, ErrServerRejected) {
			kind, outcome = SyncServerRejected, "rejected"
		}
		metrics.SyncOutcomes.WithLabelValues(outcome).Inc()
		if markErr := s.store.MarkSyncFailed(ctx, id); markErr != nil {
			logging.Error().Err(markErr).Str("session_id", id).Msg("failed to record sync failure")
		}
		logging.Warn().Err(err).Str("session_id", id).Msg("session sync failed")
		return &SyncError{Kind: kind, SessionID: id, Err: err}
	}

	if err := s.store.MarkSynced(ctx, id, receipt.ServerID, receipt.ImageURL); err != nil {
		metrics.SyncOutcomes.WithLabelValues("error").Inc()
		return fmt.Errorf("record sync of %s: %w", id, err)
	}
	metrics.SyncOutcomes.WithLabelValues("success").Inc()
	logging.Info().Str("session_id", id).Str("server_id", receipt.ServerID).Msg("session synced")
	return nil
}
