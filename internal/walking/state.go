package walking

import (
	"errors"
	"fmt"
	"time"

	"backend-walklog/internal/sensor"
	"backend-walklog/internal/session"
)

type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseAwaitingEmotion
	PhaseActive
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingEmotion:
		return "awaiting_emotion"
	case PhaseActive:
		return "active"
	case PhaseCompleted:
		return "completed"
	default:
		return "uninitialized"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UiState is the read-only view published to the UI. Elapsed excludes every
// paused interval.
type UiState struct {
	Phase           Phase            `json:"phase"`
	SessionID       string           `json:"session_id,omitempty"`
	PreEmotion      session.Emotion  `json:"pre_emotion,omitempty"`
	PostEmotion     session.Emotion  `json:"post_emotion,omitempty"`
	StepCount       int64            `json:"step_count"`
	Elapsed         time.Duration    `json:"-"`
	ElapsedSec      int64            `json:"elapsed_sec"`
	Paused          bool             `json:"paused"`
	DistanceM       float64          `json:"distance_m"`
	LocationCount   int              `json:"location_count"`
	CurrentLocation *sensor.Location `json:"current_location,omitempty"`
	Activity        string           `json:"activity,omitempty"`
	Acceleration    float64          `json:"acceleration"`
	Sources         []string         `json:"sources,omitempty"`
	Goals           session.Goals    `json:"goals"`
	Saved           bool             `json:"saved"`
	SaveError       string           `json:"save_error,omitempty"`
}

var (
	ErrInvalidPrecondition = errors.New("invalid precondition")
	ErrNoSession           = errors.New("no walking session")
	ErrPersistence         = errors.New("walking session not persisted")
	ErrClosed              = errors.New("walking machine closed")
)

// PersistenceError reports a failed completion write. The snapshot is kept
// and the next StopWalking retries it.
type PersistenceError struct {
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist walking session %s: %v", e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func precondition(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidPrecondition, msg)
}
