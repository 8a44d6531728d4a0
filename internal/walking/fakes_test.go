package walking

import (
	"context"
	"errors"
	"sync"
	"time"

	"backend-walklog/internal/sensor"
	"backend-walklog/internal/session"
)

var errDisk = errors.New("disk full")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSessions struct {
	mu          sync.Mutex
	rows        map[string]session.WalkingSession
	saves       int
	failSaves   int
	failEmotion bool
	emotions    []session.Emotion
	notes       []string
	deletes     []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: map[string]session.WalkingSession{}}
}

func (f *fakeSessions) Save(_ context.Context, s session.WalkingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.failSaves > 0 {
		f.failSaves--
		return errDisk
	}
	f.rows[s.ID] = s
	return nil
}

func (f *fakeSessions) UpdatePostEmotion(_ context.Context, id string, e session.Emotion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEmotion {
		return errDisk
	}
	row, ok := f.rows[id]
	if !ok {
		return session.ErrNotFound
	}
	row.PostEmotion = e
	f.rows[id] = row
	f.emotions = append(f.emotions, e)
	return nil
}

func (f *fakeSessions) UpdateNoteAndImage(_ context.Context, id, note, imagePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return session.ErrNotFound
	}
	row.Note = note
	if imagePath != "" {
		row.LocalImagePath = imagePath
	}
	f.rows[id] = row
	f.notes = append(f.notes, note)
	return nil
}

func (f *fakeSessions) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeSessions) only() session.WalkingSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		return s
	}
	return session.WalkingSession{}
}

type fakeBus struct {
	mu                            sync.Mutex
	starts, pauses, resumes, stop int
	events                        chan sensor.Event
}

func newFakeBus() *fakeBus {
	return &fakeBus{events: make(chan sensor.Event)}
}

func (b *fakeBus) Events() <-chan sensor.Event { return b.events }

func (b *fakeBus) Start(context.Context) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	return []string{"step", "location"}
}

func (b *fakeBus) Pause() {
	b.mu.Lock()
	b.pauses++
	b.mu.Unlock()
}

func (b *fakeBus) Resume(context.Context) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resumes++
	return []string{"step", "location"}
}

func (b *fakeBus) Stop() {
	b.mu.Lock()
	b.stop++
	b.mu.Unlock()
}

func (b *fakeBus) counts() (starts, pauses, resumes, stops int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts, b.pauses, b.resumes, b.stop
}

type staticGoals session.Goals

func (g staticGoals) Goals(context.Context) (session.Goals, error) {
	return session.Goals(g), nil
}

type fakeAttacher struct {
	calls []string
}

func (a *fakeAttacher) AttachImage(_ context.Context, sessionID, src string) (string, error) {
	a.calls = append(a.calls, src)
	return "/media/" + sessionID + "/copy.jpg", nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (p *fakePublisher) Broadcast(channel string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.messages == nil {
		p.messages = map[string][][]byte{}
	}
	p.messages[channel] = append(p.messages[channel], payload)
}

func (p *fakePublisher) count(channel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[channel])
}
