package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:recovery"), s
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	empty, err := store.Load(ctx)
	if err != nil || empty.Active {
		t.Fatalf("expected empty record, got %+v err=%v", empty, err)
	}

	start := time.Now().Add(-5 * time.Minute).Truncate(time.Millisecond)
	rec := Record{
		Active:      true,
		SessionID:   "walk-1",
		StartTime:   start,
		UpdatedAt:   start.Add(time.Minute),
		StepCount:   420,
		Duration:    90 * time.Second,
		Paused:      true,
		PreEmotion:  "HAPPY",
		PostEmotion: "TIRED",
		TargetSteps: 6000,
	}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Active || got.SessionID != "walk-1" || got.StepCount != 420 || got.Duration != 90*time.Second {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.StartTime.Equal(start) || !got.Paused || got.PreEmotion != "HAPPY" || got.PostEmotion != "TIRED" {
		t.Fatalf("unexpected record fields %+v", got)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ = store.Load(ctx)
	if got.Active {
		t.Fatalf("expected cleared record")
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, server := newRedisStore(t)
	server.Close()
	if _, err := store.Load(context.Background()); err == nil {
		t.Fatalf("expected error with redis down")
	}
	if err := store.Save(context.Background(), Record{Active: true}); err == nil {
		t.Fatalf("expected save error with redis down")
	}
}

func TestRestoreInactive(t *testing.T) {
	store := NewMemoryStore()
	res, err := Restore(context.Background(), store, time.Now(), 2*time.Hour)
	if err != nil || res.Active || res.Stale {
		t.Fatalf("expected inactive restore, got %+v err=%v", res, err)
	}
}

func TestRestoreRecentRunningRecord(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore()
	start := now.Add(-10 * time.Minute)
	_ = store.Save(context.Background(), Record{Active: true, SessionID: "w", StartTime: start, UpdatedAt: start, Paused: false, StepCount: 300})

	res, err := Restore(context.Background(), store, now, 2*time.Hour)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !res.Active || !res.Record.Paused {
		t.Fatalf("expected active paused restore, got %+v", res)
	}
	if res.Duration < 10*time.Minute {
		t.Fatalf("expected duration >= 10m, got %v", res.Duration)
	}
	if res.Record.StepCount != 300 {
		t.Fatalf("expected step count kept")
	}
}

func TestRestorePausedRecordKeepsCheckpoint(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore()
	_ = store.Save(context.Background(), Record{
		Active:    true,
		StartTime: now.Add(-30 * time.Minute),
		UpdatedAt: now.Add(-20 * time.Minute),
		Duration:  5 * time.Minute,
		Paused:    true,
	})

	res, err := Restore(context.Background(), store, now, 2*time.Hour)
	if err != nil || !res.Active {
		t.Fatalf("expected active restore: %v", err)
	}
	if res.Duration != 5*time.Minute {
		t.Fatalf("paused record must not accrue wall-clock time, got %v", res.Duration)
	}
}

func TestRestoreStaleRecordCleared(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore()
	_ = store.Save(context.Background(), Record{Active: true, StartTime: now.Add(-3 * time.Hour)})

	res, err := Restore(context.Background(), store, now, 2*time.Hour)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if res.Active || !res.Stale {
		t.Fatalf("expected stale restore, got %+v", res)
	}
	if store.Present() {
		t.Fatalf("expected stale record cleared")
	}
}

func TestRestoreActiveRecordWithoutStartCleared(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Save(context.Background(), Record{Active: true, SessionID: "w", StepCount: 40})

	res, err := Restore(context.Background(), store, time.Now(), 2*time.Hour)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if res.Active || res.Stale {
		t.Fatalf("expected nothing to resume, got %+v", res)
	}
	if store.Present() {
		t.Fatalf("expected record without start time cleared")
	}
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Load(context.Context) (Record, error) {
	return Record{}, errors.New("disk gone")
}

func TestRestoreLoadError(t *testing.T) {
	if _, err := Restore(context.Background(), &failingStore{}, time.Now(), time.Hour); err == nil {
		t.Fatalf("expected load error")
	}
}
