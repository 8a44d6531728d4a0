package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]WalkingSession
	failed   map[string]bool
}

func newFakeStore(sessions ...WalkingSession) *fakeStore {
	fs := &fakeStore{sessions: map[string]WalkingSession{}, failed: map[string]bool{}}
	for _, s := range sessions {
		fs.sessions[s.ID] = s
	}
	return fs
}

func (f *fakeStore) Get(_ context.Context, id string) (WalkingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return WalkingSession{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) MarkSynced(_ context.Context, id, serverID, imageURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	s.Synced, s.ServerID, s.RemoteImageURL, s.SyncState = true, serverID, imageURL, SyncSynced
	f.sessions[id] = s
	return nil
}

func (f *fakeStore) MarkSyncFailed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = true
	s := f.sessions[id]
	s.SyncState = SyncFailed
	f.sessions[id] = s
	return nil
}

func (f *fakeStore) get(id string) WalkingSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

type fakeRemote struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	err     error
}

func (r *fakeRemote) Push(ctx context.Context, s WalkingSession) (Receipt, error) {
	r.calls.Add(1)
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		}
	}
	if r.err != nil {
		return Receipt{}, r.err
	}
	return Receipt{ServerID: "srv-" + s.ID, ImageURL: "https://cdn.example/" + s.ID}, nil
}

func TestSyncSessionSuccess(t *testing.T) {
	store := newFakeStore(WalkingSession{ID: "w1"})
	remote := &fakeRemote{}
	syncer := NewSyncer(store, remote, time.Second)

	if err := syncer.SyncSession(context.Background(), "w1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got := store.get("w1")
	if !got.Synced || got.ServerID != "srv-w1" || got.SyncState != SyncSynced {
		t.Fatalf("expected session marked synced, got %+v", got)
	}

	if err := syncer.SyncSession(context.Background(), "w1"); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if remote.calls.Load() != 1 {
		t.Fatalf("expected exactly one push for a synced session, got %d", remote.calls.Load())
	}
}

func TestSyncSessionConcurrentCallsRejected(t *testing.T) {
	store := newFakeStore(WalkingSession{ID: "w1"})
	remote := &fakeRemote{started: make(chan struct{}, 1), release: make(chan struct{})}
	syncer := NewSyncer(store, remote, 5*time.Second)

	first := make(chan error, 1)
	go func() { first <- syncer.SyncSession(context.Background(), "w1") }()
	<-remote.started

	err := syncer.SyncSession(context.Background(), "w1")
	if !errors.Is(err, ErrAlreadySyncing) {
		t.Fatalf("expected ErrAlreadySyncing, got %v", err)
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Kind != SyncAlreadySyncing {
		t.Fatalf("expected typed sync error, got %v", err)
	}

	close(remote.release)
	if err := <-first; err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if remote.calls.Load() != 1 {
		t.Fatalf("expected exactly one network exchange, got %d", remote.calls.Load())
	}
	if syncer.InFlight("w1") {
		t.Fatalf("expected outstanding entry released")
	}
}

func TestSyncSessionFailureKinds(t *testing.T) {
	cause := errors.New("http 500")
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"network", errors.Join(ErrNetworkFailure, cause), ErrNetworkFailure},
		{"rejected", errors.Join(ErrServerRejected, cause), ErrServerRejected},
		{"unclassified", cause, ErrNetworkFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore(WalkingSession{ID: "w1"})
			syncer := NewSyncer(store, &fakeRemote{err: tc.err}, time.Second)

			err := syncer.SyncSession(context.Background(), "w1")
			if !errors.Is(err, tc.want) || !errors.Is(err, cause) {
				t.Fatalf("expected %v wrapping cause, got %v", tc.want, err)
			}
			got := store.get("w1")
			if got.Synced || !store.failed["w1"] || got.SyncState != SyncFailed {
				t.Fatalf("expected session kept unsynced and marked failed, got %+v", got)
			}
		})
	}
}

func TestSyncSessionNotFound(t *testing.T) {
	syncer := NewSyncer(newFakeStore(), &fakeRemote{}, time.Second)
	if err := syncer.SyncSession(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSyncSessionSurvivesCallerCancel(t *testing.T) {
	store := newFakeStore(WalkingSession{ID: "w1"})
	remote := &fakeRemote{started: make(chan struct{}, 1), release: make(chan struct{})}
	syncer := NewSyncer(store, remote, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- syncer.SyncSession(ctx, "w1") }()
	<-remote.started
	cancel()

	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected caller to see cancellation, got %v", err)
	}
	if !syncer.InFlight("w1") {
		t.Fatalf("expected push still outstanding after caller left")
	}

	close(remote.release)
	syncer.Wait()
	if !store.get("w1").Synced {
		t.Fatalf("expected detached push to complete")
	}
}

func TestSyncSessionRetryRightAfterFailure(t *testing.T) {
	store := newFakeStore(WalkingSession{ID: "w1"})
	remote := &fakeRemote{err: ErrNetworkFailure}
	syncer := NewSyncer(store, remote, time.Second)

	for i := 0; i < 50; i++ {
		err := syncer.SyncSession(context.Background(), "w1")
		if errors.Is(err, ErrAlreadySyncing) {
			t.Fatalf("attempt %d refused as already syncing", i)
		}
		if !errors.Is(err, ErrNetworkFailure) {
			t.Fatalf("attempt %d: expected network failure, got %v", i, err)
		}
		if syncer.InFlight("w1") {
			t.Fatalf("attempt %d: expected entry released once the result is returned", i)
		}
	}

	remote.err = nil
	if err := syncer.SyncSession(context.Background(), "w1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !store.get("w1").Synced {
		t.Fatalf("expected retry to sync the session")
	}
}

func TestSyncSessionKeepsOwnCopyOfID(t *testing.T) {
	store := newFakeStore(WalkingSession{ID: "w1"})
	remote := &fakeRemote{started: make(chan struct{}, 1), release: make(chan struct{})}
	syncer := NewSyncer(store, remote, 5*time.Second)

	// A request buffer that the server reuses once the handler returns.
	buf := []byte("w1")
	id := unsafe.String(&buf[0], len(buf))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- syncer.SyncSession(ctx, id) }()
	<-remote.started
	cancel()
	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected caller to see cancellation, got %v", err)
	}

	copy(buf, "zz")
	close(remote.release)
	syncer.Wait()

	if syncer.InFlight("w1") {
		t.Fatalf("expected entry for w1 released")
	}
	if !store.get("w1").Synced {
		t.Fatalf("expected push to mark w1 synced")
	}
}
