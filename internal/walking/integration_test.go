package walking

import (
	"context"
	"testing"
	"time"

	"backend-walklog/internal/eventbus"
	"backend-walklog/internal/recovery"
	"backend-walklog/internal/sensor"
	"backend-walklog/internal/session"
)

func waitFor(t *testing.T, m *Machine, what string, cond func(UiState) bool) UiState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s, err := m.State(context.Background())
		if err != nil {
			t.Fatalf("state: %v", err)
		}
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s, last state %+v", what, s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMachineWithEventBus(t *testing.T) {
	rawSteps := sensor.NewFeed("step", true, 16)
	locations := sensor.NewFeed("location", true, 16)
	gyro := sensor.NewFeed("accelerometer", false, 16)
	bus := eventbus.New(32,
		sensor.NewValidatingSource(rawSteps, sensor.NewJumpValidator(500)),
		locations,
		gyro,
	)

	sessions := newFakeSessions()
	m := New(Options{
		Bus:          bus,
		Recovery:     recovery.NewMemoryStore(),
		Sessions:     sessions,
		TickInterval: 10 * time.Millisecond,
	})
	defer m.Close(context.Background())

	ctx := context.Background()
	_ = m.Init(ctx)
	if err := m.StartWalking(ctx, session.EmotionHappy); err != nil {
		t.Fatalf("start: %v", err)
	}
	s := waitFor(t, m, "sources", func(s UiState) bool { return len(s.Sources) > 0 })
	if len(s.Sources) != 2 {
		t.Fatalf("expected unavailable source skipped, got %v", s.Sources)
	}

	rawSteps.Emit(sensor.Event{Kind: sensor.StepCountUpdate, Steps: 1000})
	rawSteps.Emit(sensor.Event{Kind: sensor.StepCountUpdate, Steps: 1100})
	rawSteps.Emit(sensor.Event{Kind: sensor.StepCountUpdate, Steps: 90000})
	now := time.Now()
	locations.Emit(sensor.Event{Kind: sensor.LocationUpdate, Locations: []sensor.Location{
		{Lat: 51.5, Lng: -0.12, Timestamp: now},
		{Lat: 51.501, Lng: -0.12, Timestamp: now.Add(time.Second)},
	}})
	waitFor(t, m, "steps and locations", func(s UiState) bool {
		return s.StepCount == 100 && s.LocationCount == 2
	})

	bus.Publish(sensor.Paused(time.Now()))
	waitFor(t, m, "pause", func(s UiState) bool { return s.Paused })
	if rawSteps.Running() || locations.Running() {
		t.Fatalf("expected sources stopped while paused")
	}
	if rawSteps.Emit(sensor.Event{Kind: sensor.StepCountUpdate, Steps: 1200}) {
		t.Fatalf("expected stopped feed to drop readings")
	}

	bus.Publish(sensor.Resumed(time.Now()))
	waitFor(t, m, "resume", func(s UiState) bool { return !s.Paused && rawSteps.Running() })
	rawSteps.Emit(sensor.Event{Kind: sensor.StepCountUpdate, Steps: 40})
	rawSteps.Emit(sensor.Event{Kind: sensor.StepCountUpdate, Steps: 70})
	waitFor(t, m, "steps after resume", func(s UiState) bool { return s.StepCount == 130 })

	if err := m.StopWalking(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if bus.Running() {
		t.Fatalf("expected bus stopped after completion")
	}
	if saved := sessions.only(); saved.StepCount != 130 || len(saved.Locations) != 2 || len(saved.FilteredLocations) != 2 {
		t.Fatalf("unexpected saved session %+v", saved)
	}
}

func TestQueuedTotalsCountedOnceAcrossPauseResume(t *testing.T) {
	rawSteps := sensor.NewFeed("step", true, 16)
	bus := eventbus.New(32, sensor.NewValidatingSource(rawSteps, sensor.NewJumpValidator(500)))
	m := New(Options{
		Bus:          bus,
		Recovery:     recovery.NewMemoryStore(),
		Sessions:     newFakeSessions(),
		TickInterval: time.Hour,
	})
	defer m.Close(context.Background())

	ctx := context.Background()
	_ = m.Init(ctx)
	if err := m.StartWalking(ctx, session.EmotionHappy); err != nil {
		t.Fatalf("start: %v", err)
	}
	rawSteps.Emit(sensor.Event{Kind: sensor.StepCountUpdate, Steps: 1000})
	rawSteps.Emit(sensor.Event{Kind: sensor.StepCountUpdate, Steps: 1100})
	waitFor(t, m, "first steps", func(s UiState) bool { return s.StepCount == 100 })

	// Hold the loop so the next total sits on the bus through pause and resume.
	err := m.do(ctx, func() error {
		rawSteps.Emit(sensor.Event{Kind: sensor.StepCountUpdate, Steps: 1200})
		deadline := time.Now().Add(time.Second)
		for len(bus.Events()) == 0 {
			if time.Now().After(deadline) {
				t.Errorf("total never reached the bus")
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		m.reduceCtx(ctx, sensor.Paused(time.Now()))
		m.reduceCtx(ctx, sensor.Resumed(time.Now()))
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if got := waitFor(t, m, "resume", func(s UiState) bool { return !s.Paused }).StepCount; got != 200 {
		t.Fatalf("expected queued total applied before pause, got %d", got)
	}

	rawSteps.Emit(sensor.Event{Kind: sensor.StepCountUpdate, Steps: 5000})
	rawSteps.Emit(sensor.Event{Kind: sensor.StepCountUpdate, Steps: 5030})
	waitFor(t, m, "steps after resume", func(s UiState) bool { return s.StepCount == 230 })
	time.Sleep(20 * time.Millisecond)
	if got := waitFor(t, m, "settled", func(UiState) bool { return true }).StepCount; got != 230 {
		t.Fatalf("expected 230 steps, got %d", got)
	}
}

func TestPeriodicRecoveryFlush(t *testing.T) {
	clock := newFakeClock()
	rec := recovery.NewMemoryStore()
	m := New(Options{
		Recovery:      rec,
		Sessions:      newFakeSessions(),
		Clock:         clock.Now,
		TickInterval:  5 * time.Millisecond,
		FlushInterval: time.Second,
	})
	defer m.Close(context.Background())

	ctx := context.Background()
	_ = m.Init(ctx)
	_ = m.StartWalking(ctx, session.EmotionContent)
	_ = m.Dispatch(ctx, sensor.Event{Kind: sensor.StepCountUpdate, Steps: 321})
	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		r, _ := rec.Load(ctx)
		if r.StepCount == 321 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected flushed step count, got %+v", r)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
