package walking

import (
	"context"
	"math"
	"time"

	"backend-walklog/internal/logging"
	"backend-walklog/internal/metrics"
	"backend-walklog/internal/recovery"
	"backend-walklog/internal/sensor"
	"backend-walklog/internal/session"
)

// Two fixes closer than this in both coordinates are the same fix.
const duplicateEpsilonDeg = 1e-6

// walk is the loop-owned session state.
type walk struct {
	phase Phase
	id    string
	start time.Time

	pre, post session.Emotion
	goals     session.Goals

	steps    int64
	stepBase int64

	// checkpoint is elapsed time banked before the current running segment.
	checkpoint   time.Duration
	segmentStart time.Time
	paused       bool

	locations []sensor.Location
	current   *sensor.Location
	distanceM float64

	activity string
	accel    float64
	sources  []string

	dirty     bool
	lastFlush time.Time

	snapshot *session.WalkingSession
	saved    bool
	saveErr  error
}

func (w *walk) elapsed(now time.Time) time.Duration {
	if w.phase != PhaseActive || w.paused {
		return w.checkpoint
	}
	if d := now.Sub(w.segmentStart); d > 0 {
		return w.checkpoint + d
	}
	return w.checkpoint
}

func (m *Machine) reduce(ev sensor.Event) {
	m.reduceCtx(context.Background(), ev)
}

func (m *Machine) reduceCtx(ctx context.Context, ev sensor.Event) {
	metrics.SensorEvents.WithLabelValues(ev.Kind.String()).Inc()
	if m.st.phase != PhaseActive {
		return
	}

	switch ev.Kind {
	case sensor.StepCountUpdate:
		m.onSteps(ev)
	case sensor.LocationUpdate:
		m.onLocations(ev.Locations)
	case sensor.ActivityStateChange:
		m.st.activity = ev.Activity
		m.publish()
	case sensor.AccelerometerUpdate:
		m.st.accel = math.Sqrt(ev.Accel[0]*ev.Accel[0] + ev.Accel[1]*ev.Accel[1] + ev.Accel[2]*ev.Accel[2])
	case sensor.TrackingPaused:
		m.pause(ctx)
	case sensor.TrackingResumed:
		m.resume(ctx)
	}
}

func (m *Machine) onSteps(ev sensor.Event) {
	if m.st.paused {
		return
	}
	candidate := m.st.stepBase + ev.Steps
	if candidate < m.st.steps {
		metrics.StepClamps.Inc()
		logging.Warn().Str("session_id", m.st.id).Int64("current", m.st.steps).Int64("incoming", candidate).
			Msg("validated step count went backwards, keeping current")
		return
	}
	if candidate == m.st.steps {
		return
	}
	m.st.steps = candidate
	m.st.dirty = true
	m.publish()
}

func (m *Machine) onLocations(points []sensor.Location) {
	if m.st.paused {
		return
	}
	appended := false
	for _, p := range points {
		if n := len(m.st.locations); n > 0 && isDuplicate(m.st.locations[n-1], p) {
			continue
		}
		if n := len(m.st.locations); n > 0 {
			last := m.st.locations[n-1]
			m.st.distanceM += session.DistanceM([]sensor.Location{last, p})
		}
		m.st.locations = append(m.st.locations, p)
		appended = true
	}
	if !appended {
		return
	}
	last := m.st.locations[len(m.st.locations)-1]
	m.st.current = &last
	m.st.dirty = true
	m.publish()
}

func isDuplicate(a, b sensor.Location) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return true
	}
	return math.Abs(a.Lat-b.Lat) < duplicateEpsilonDeg && math.Abs(a.Lng-b.Lng) < duplicateEpsilonDeg
}

func (m *Machine) pause(ctx context.Context) {
	if m.st.paused {
		return
	}
	now := m.opts.Clock()
	m.opts.Bus.Pause()
	m.applyQueued(ctx)
	m.st.checkpoint = m.st.elapsed(now)
	m.st.paused = true
	m.stopTicker()
	m.saveRecovery(ctx, "sync")
	logging.Info().Str("session_id", m.st.id).Dur("elapsed", m.st.checkpoint).Msg("walking paused")
	m.publish()
}

func (m *Machine) resume(ctx context.Context) {
	if !m.st.paused {
		return
	}
	m.st.segmentStart = m.opts.Clock()
	m.st.paused = false
	// Sources restart their validated totals from zero.
	m.st.stepBase = m.st.steps
	m.st.sources = m.opts.Bus.Resume(ctx)
	m.startTicker()
	m.saveRecovery(ctx, "sync")
	logging.Info().Str("session_id", m.st.id).Msg("walking resumed")
	m.publish()
}

// applyQueued reduces readings the stopped bus had already merged. They were
// taken before the pause or stop, so they still count. The bus drops whatever
// is left when it starts again.
func (m *Machine) applyQueued(ctx context.Context) {
	for {
		select {
		case ev, ok := <-m.events:
			if !ok {
				return
			}
			if ev.Kind == sensor.TrackingPaused || ev.Kind == sensor.TrackingResumed {
				continue
			}
			m.reduceCtx(ctx, ev)
		default:
			return
		}
	}
}

func (m *Machine) onTick() {
	if m.st.phase != PhaseActive || m.st.paused {
		return
	}
	now := m.opts.Clock()
	if m.st.dirty && now.Sub(m.st.lastFlush) >= m.opts.FlushInterval {
		m.saveRecovery(context.Background(), "flush")
	}
	m.publish()
}

func (m *Machine) restore(ctx context.Context) {
	now := m.opts.Clock()
	res, err := recovery.Restore(ctx, m.opts.Recovery, now, m.opts.StaleAfter)
	if err != nil {
		logging.Error().Err(err).Msg("recovery record unreadable, starting fresh")
		m.st = walk{phase: PhaseAwaitingEmotion}
		return
	}
	if res.Stale {
		logging.Info().Str("session_id", res.Record.SessionID).Time("started", res.Record.StartTime).
			Msg("discarding stale walking session")
	}
	if !res.Active {
		m.st = walk{phase: PhaseAwaitingEmotion}
		return
	}

	rec := res.Record
	pre, ok := session.ParseEmotion(rec.PreEmotion)
	if !ok {
		pre = session.DefaultEmotion
	}
	post, _ := session.ParseEmotion(rec.PostEmotion)
	id := rec.SessionID
	if id == "" {
		id = m.opts.NewID()
	}
	m.st = walk{
		phase:      PhaseActive,
		id:         id,
		start:      rec.StartTime,
		pre:        pre,
		post:       post,
		goals:      session.Goals{TargetSteps: rec.TargetSteps, TargetActivities: rec.TargetActivities},
		steps:      rec.StepCount,
		stepBase:   rec.StepCount,
		checkpoint: res.Duration,
		paused:     true,
		lastFlush:  now,
	}
	m.saveRecovery(ctx, "sync")
	logging.Info().Str("session_id", id).Int64("steps", rec.StepCount).Dur("elapsed", res.Duration).
		Msg("restored walking session, paused until resumed")
}

// freeze ends tracking and builds the completion snapshot.
func (m *Machine) freeze() {
	now := m.opts.Clock()
	m.opts.Bus.Stop()
	m.applyQueued(context.Background())
	m.st.checkpoint = m.st.elapsed(now)
	m.st.paused = true
	m.stopTicker()

	snap := m.liveSession(now)
	snap.EndTime = &now
	snap.FilteredLocations, snap.SmoothedLocations = session.DeriveTracks(snap.Locations, m.opts.MaxAccuracyM, m.opts.SmoothingWindow)

	m.st.phase = PhaseCompleted
	m.st.post = snap.PostEmotion
	m.st.snapshot = &snap
	m.st.saved = false
	logging.Info().Str("session_id", snap.ID).Int64("steps", snap.StepCount).Float64("distance_m", snap.TotalDistanceM).
		Msg("walking stopped")
}

func (m *Machine) persist(ctx context.Context) error {
	started := time.Now()
	err := m.opts.Sessions.Save(ctx, *m.st.snapshot)
	if err != nil {
		metrics.PersistDuration.WithLabelValues("failure").Observe(time.Since(started).Seconds())
		m.st.saveErr = err
		// Keep a paused mirror so a crash before the retry can still restore the walk.
		m.saveRecoveryRecord(ctx, "sync", m.recoveryRecord(m.opts.Clock(), true))
		logging.Error().Err(err).Str("session_id", m.st.id).Msg("completion write failed, snapshot retained")
		return &PersistenceError{SessionID: m.st.id, Err: err}
	}
	metrics.PersistDuration.WithLabelValues("success").Observe(time.Since(started).Seconds())
	m.st.saved = true
	m.st.saveErr = nil
	m.clearRecovery(ctx)
	return nil
}

func (m *Machine) liveSession(now time.Time) session.WalkingSession {
	post := m.st.post
	if post == "" {
		post = m.st.pre
	}
	locs := append([]sensor.Location(nil), m.st.locations...)
	return session.WalkingSession{
		ID:             m.st.id,
		StartTime:      m.st.start,
		DurationSec:    int64(m.st.elapsed(now) / time.Second),
		StepCount:      m.st.steps,
		Locations:      locs,
		TotalDistanceM: session.DistanceM(locs),
		PreEmotion:     m.st.pre,
		PostEmotion:    post,
		CreatedDate:    session.CreatedDate(m.st.start),
		Goals:          m.st.goals,
		SyncState:      session.SyncPending,
	}
}

func (m *Machine) recoveryRecord(now time.Time, paused bool) recovery.Record {
	return recovery.Record{
		Active:           true,
		SessionID:        m.st.id,
		StartTime:        m.st.start,
		UpdatedAt:        now,
		StepCount:        m.st.steps,
		Duration:         m.st.elapsed(now),
		Paused:           paused,
		PreEmotion:       string(m.st.pre),
		PostEmotion:      string(m.st.post),
		TargetSteps:      m.st.goals.TargetSteps,
		TargetActivities: m.st.goals.TargetActivities,
	}
}

func (m *Machine) saveRecovery(ctx context.Context, mode string) {
	now := m.opts.Clock()
	m.saveRecoveryRecord(ctx, mode, m.recoveryRecord(now, m.st.paused))
}

func (m *Machine) saveRecoveryRecord(ctx context.Context, mode string, rec recovery.Record) {
	if err := m.opts.Recovery.Save(ctx, rec); err != nil {
		metrics.RecoveryWrites.WithLabelValues(mode, "failure").Inc()
		logging.Error().Err(err).Str("session_id", rec.SessionID).Str("mode", mode).Msg("recovery write failed")
		return
	}
	metrics.RecoveryWrites.WithLabelValues(mode, "success").Inc()
	m.st.dirty = false
	m.st.lastFlush = rec.UpdatedAt
}

func (m *Machine) clearRecovery(ctx context.Context) {
	if err := m.opts.Recovery.Clear(ctx); err != nil {
		logging.Error().Err(err).Msg("recovery clear failed")
	}
}

func (m *Machine) view() UiState {
	now := m.opts.Clock()
	elapsed := m.st.elapsed(now)
	state := UiState{
		Phase:         m.st.phase,
		SessionID:     m.st.id,
		PreEmotion:    m.st.pre,
		PostEmotion:   m.st.post,
		StepCount:     m.st.steps,
		Elapsed:       elapsed,
		ElapsedSec:    int64(elapsed / time.Second),
		Paused:        m.st.paused,
		DistanceM:     m.st.distanceM,
		LocationCount: len(m.st.locations),
		Activity:      m.st.activity,
		Acceleration:  m.st.accel,
		Sources:       append([]string(nil), m.st.sources...),
		Goals:         m.st.goals,
		Saved:         m.st.saved,
	}
	if m.st.current != nil {
		cur := *m.st.current
		state.CurrentLocation = &cur
	}
	if m.st.saveErr != nil {
		state.SaveError = m.st.saveErr.Error()
	}
	if m.st.snapshot != nil {
		state.DistanceM = m.st.snapshot.TotalDistanceM
		state.PostEmotion = m.st.snapshot.PostEmotion
	}
	return state
}
