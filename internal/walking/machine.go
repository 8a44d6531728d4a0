// Package walking owns the walking session state machine.
//
// A single goroutine reduces user commands, merged sensor events and timer
// ticks one at a time, so session fields are never touched concurrently.
// Public methods hand a closure to that goroutine and wait for it.
package walking

import (
	"context"
	"sync"
	"time"

	"backend-walklog/internal/logging"
	"backend-walklog/internal/recovery"
	"backend-walklog/internal/sensor"
	"backend-walklog/internal/session"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// StateChannel is the stream channel that always carries the current UiState.
const StateChannel = "current"

type Bus interface {
	Events() <-chan sensor.Event
	Start(ctx context.Context) []string
	Pause()
	Resume(ctx context.Context) []string
	Stop()
}

type SessionStore interface {
	Save(ctx context.Context, s session.WalkingSession) error
	UpdatePostEmotion(ctx context.Context, id string, emotion session.Emotion) error
	UpdateNoteAndImage(ctx context.Context, id, note, imagePath string) error
	Delete(ctx context.Context, id string) error
}

type GoalProvider interface {
	Goals(ctx context.Context) (session.Goals, error)
}

type Attacher interface {
	AttachImage(ctx context.Context, sessionID, srcPath string) (string, error)
}

type Publisher interface {
	Broadcast(channel string, payload []byte)
}

type Options struct {
	Bus       Bus
	Recovery  recovery.Store
	Sessions  SessionStore
	Goals     GoalProvider
	Attacher  Attacher
	Publisher Publisher

	Clock func() time.Time
	NewID func() string

	TickInterval  time.Duration
	FlushInterval time.Duration
	StaleAfter    time.Duration

	// MaxAccuracyM excludes worse fixes from the filtered track.
	MaxAccuracyM    float64
	SmoothingWindow int
}

type Machine struct {
	opts   Options
	cmds   chan func()
	events <-chan sensor.Event
	quit   chan struct{}
	closed sync.Once
	exited chan struct{}

	// owned by the loop goroutine
	st     walk
	ticker *time.Ticker
	subs   map[chan UiState]struct{}
}

func New(opts Options) *Machine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 10 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * time.Hour
	}
	if opts.MaxAccuracyM <= 0 {
		opts.MaxAccuracyM = 50
	}
	if opts.SmoothingWindow <= 0 {
		opts.SmoothingWindow = 5
	}
	if opts.Bus == nil {
		opts.Bus = nopBus{}
	}
	if opts.Recovery == nil {
		opts.Recovery = recovery.NewMemoryStore()
	}

	m := &Machine{
		opts:   opts,
		cmds:   make(chan func()),
		events: opts.Bus.Events(),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
		subs:   map[chan UiState]struct{}{},
	}
	go m.run()
	return m
}

func (m *Machine) run() {
	defer close(m.exited)
	for {
		select {
		case <-m.quit:
			return
		case fn := <-m.cmds:
			fn()
		case ev := <-m.events:
			m.reduce(ev)
		case <-m.tickC():
			m.onTick()
		}
	}
}

func (m *Machine) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case m.cmds <- func() { errc <- fn() }:
	case <-m.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// Init restores an active session from the recovery store, or moves to
// PhaseAwaitingEmotion. It only acts once.
func (m *Machine) Init(ctx context.Context) error {
	return m.do(ctx, func() error {
		if m.st.phase != PhaseUninitialized {
			return nil
		}
		m.restore(ctx)
		m.publish()
		return nil
	})
}

// StartWalking begins tracking with the given pre-walk emotion.
func (m *Machine) StartWalking(ctx context.Context, pre session.Emotion) error {
	return m.do(ctx, func() error {
		if !pre.Valid() {
			return precondition("a pre-walk emotion is required")
		}
		switch {
		case m.st.phase == PhaseAwaitingEmotion:
		case m.st.phase == PhaseCompleted && m.st.saved:
		case m.st.phase == PhaseCompleted:
			return precondition("previous walk is not saved yet")
		default:
			return precondition("cannot start while " + m.st.phase.String())
		}

		var goals session.Goals
		if m.opts.Goals != nil {
			g, err := m.opts.Goals.Goals(ctx)
			if err != nil {
				logging.Warn().Err(err).Msg("goal lookup failed, starting without targets")
			} else {
				goals = g
			}
		}

		now := m.opts.Clock()
		m.st = walk{
			phase:        PhaseActive,
			id:           m.opts.NewID(),
			start:        now,
			segmentStart: now,
			pre:          pre,
			goals:        goals,
			lastFlush:    now,
		}
		m.saveRecovery(ctx, "sync")
		m.st.sources = m.opts.Bus.Start(ctx)
		m.startTicker()
		logging.Info().Str("session_id", m.st.id).Str("pre_emotion", string(pre)).Strs("sources", m.st.sources).Msg("walking started")
		m.publish()
		return nil
	})
}

// PauseWalking and ResumeWalking are no-ops outside the matching sub-state.
func (m *Machine) PauseWalking(ctx context.Context) error {
	return m.Dispatch(ctx, sensor.Paused(m.opts.Clock()))
}

func (m *Machine) ResumeWalking(ctx context.Context) error {
	return m.Dispatch(ctx, sensor.Resumed(m.opts.Clock()))
}

// Dispatch reduces one event and waits until it is applied.
func (m *Machine) Dispatch(ctx context.Context, ev sensor.Event) error {
	return m.do(ctx, func() error {
		m.reduceCtx(ctx, ev)
		return nil
	})
}

// StopWalking freezes the session and blocks until the completion snapshot is
// durable. After a failed write the snapshot is retained; calling StopWalking
// again retries the write without touching sensors.
func (m *Machine) StopWalking(ctx context.Context) error {
	return m.do(ctx, func() error {
		switch {
		case m.st.phase == PhaseActive:
			m.freeze()
		case m.st.phase == PhaseCompleted && m.st.snapshot != nil && !m.st.saved:
			logging.Info().Str("session_id", m.st.id).Msg("retrying completion write")
		case m.st.phase == PhaseCompleted && m.st.saved:
			return nil
		default:
			return precondition("no active walk to stop")
		}
		err := m.persist(ctx)
		m.publish()
		return err
	})
}

// CancelWalking discards the current walk from any active sub-state, or an
// unsaved completed walk. It leaves no session row and no recovery record.
func (m *Machine) CancelWalking(ctx context.Context) error {
	return m.do(ctx, func() error {
		switch {
		case m.st.phase == PhaseActive:
		case m.st.phase == PhaseCompleted && !m.st.saved:
			if err := m.opts.Sessions.Delete(ctx, m.st.id); err != nil {
				logging.Warn().Err(err).Str("session_id", m.st.id).Msg("could not delete unsaved session row")
			}
		default:
			return nil
		}
		m.stopTicker()
		m.opts.Bus.Stop()
		m.clearRecovery(ctx)
		logging.Info().Str("session_id", m.st.id).Msg("walking cancelled")
		m.st = walk{phase: PhaseAwaitingEmotion}
		m.publish()
		return nil
	})
}

// UpdatePostWalkEmotion sets the post-walk emotion once a session id exists.
func (m *Machine) UpdatePostWalkEmotion(ctx context.Context, emotion session.Emotion) error {
	return m.do(ctx, func() error {
		if !emotion.Valid() {
			return precondition("unknown emotion " + string(emotion))
		}
		switch m.st.phase {
		case PhaseActive:
			m.st.post = emotion
			m.saveRecovery(ctx, "sync")
		case PhaseCompleted:
			// A saved walk keeps showing what the row holds.
			if m.st.saved {
				if err := m.opts.Sessions.UpdatePostEmotion(ctx, m.st.id, emotion); err != nil {
					return err
				}
			}
			m.st.post = emotion
			m.st.snapshot.PostEmotion = emotion
		default:
			return ErrNoSession
		}
		m.publish()
		return nil
	})
}

// UpdateNoteAndImage attaches a note and, when imageSrc is set, a copy of the
// image. Only a saved, completed session accepts attachments.
func (m *Machine) UpdateNoteAndImage(ctx context.Context, note, imageSrc string) error {
	return m.do(ctx, func() error {
		if m.st.phase != PhaseCompleted || m.st.snapshot == nil {
			return ErrNoSession
		}
		if !m.st.saved {
			return precondition("walk is not saved yet")
		}
		imagePath := ""
		if imageSrc != "" {
			if m.opts.Attacher == nil {
				return precondition("image attachments are not configured")
			}
			stored, err := m.opts.Attacher.AttachImage(ctx, m.st.id, imageSrc)
			if err != nil {
				return err
			}
			imagePath = stored
		}
		if err := m.opts.Sessions.UpdateNoteAndImage(ctx, m.st.id, note, imagePath); err != nil {
			return err
		}
		m.st.snapshot.Note = note
		if imagePath != "" {
			m.st.snapshot.LocalImagePath = imagePath
		}
		m.publish()
		return nil
	})
}

func (m *Machine) State(ctx context.Context) (UiState, error) {
	var out UiState
	err := m.do(ctx, func() error {
		out = m.view()
		return nil
	})
	return out, err
}

// Session returns the live record while tracking, or the completion snapshot.
func (m *Machine) Session(ctx context.Context) (session.WalkingSession, error) {
	var out session.WalkingSession
	err := m.do(ctx, func() error {
		switch m.st.phase {
		case PhaseActive:
			out = m.liveSession(m.opts.Clock())
		case PhaseCompleted:
			out = *m.st.snapshot
			out.Locations = append([]session.Location(nil), m.st.snapshot.Locations...)
		default:
			return ErrNoSession
		}
		return nil
	})
	return out, err
}

// Subscribe returns a channel of state updates. Slow subscribers miss updates
// rather than stall the machine. Call the returned func to unsubscribe.
func (m *Machine) Subscribe(ctx context.Context) (<-chan UiState, func(), error) {
	ch := make(chan UiState, 16)
	err := m.do(ctx, func() error {
		m.subs[ch] = struct{}{}
		ch <- m.view()
		return nil
	})
	if err != nil {
		return nil, func() {}, err
	}
	cancel := func() {
		_ = m.do(context.Background(), func() error {
			if _, ok := m.subs[ch]; ok {
				delete(m.subs, ch)
				close(ch)
			}
			return nil
		})
	}
	return ch, cancel, nil
}

// Close stops sensors and the loop. An active walk stays in the recovery
// store so the next process can restore it.
func (m *Machine) Close(ctx context.Context) error {
	err := m.do(ctx, func() error {
		m.stopTicker()
		m.opts.Bus.Stop()
		if m.st.phase == PhaseActive {
			m.saveRecovery(ctx, "sync")
		}
		for ch := range m.subs {
			close(ch)
		}
		m.subs = map[chan UiState]struct{}{}
		return nil
	})
	m.closed.Do(func() { close(m.quit) })
	<-m.exited
	if err == ErrClosed {
		return nil
	}
	return err
}

func (m *Machine) tickC() <-chan time.Time {
	if m.ticker == nil {
		return nil
	}
	return m.ticker.C
}

func (m *Machine) startTicker() {
	if m.ticker == nil {
		m.ticker = time.NewTicker(m.opts.TickInterval)
	}
}

func (m *Machine) stopTicker() {
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
}

func (m *Machine) publish() {
	state := m.view()
	for ch := range m.subs {
		select {
		case ch <- state:
		default:
		}
	}
	if m.opts.Publisher == nil {
		return
	}
	payload, err := json.Marshal(state)
	if err != nil {
		logging.Error().Err(err).Msg("encode walking state")
		return
	}
	m.opts.Publisher.Broadcast(StateChannel, payload)
	if state.SessionID != "" {
		m.opts.Publisher.Broadcast(state.SessionID, payload)
	}
}

type nopBus struct{}

func (nopBus) Events() <-chan sensor.Event     { return nil }
func (nopBus) Start(context.Context) []string  { return nil }
func (nopBus) Pause()                          {}
func (nopBus) Resume(context.Context) []string { return nil }
func (nopBus) Stop()                           {}
