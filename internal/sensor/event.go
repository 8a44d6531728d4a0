package sensor

import "time"

type Kind int

const (
	StepCountUpdate Kind = iota + 1
	LocationUpdate
	ActivityStateChange
	AccelerometerUpdate
	TrackingPaused
	TrackingResumed
)

func (k Kind) String() string {
	switch k {
	case StepCountUpdate:
		return "step"
	case LocationUpdate:
		return "location"
	case ActivityStateChange:
		return "activity"
	case AccelerometerUpdate:
		return "accelerometer"
	case TrackingPaused:
		return "paused"
	case TrackingResumed:
		return "resumed"
	default:
		return "unknown"
	}
}

// Location is one GPS fix. Accuracy is the horizontal radius in meters, nil when unknown.
type Location struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
}

// Event is a raw notification from one source, or a tracking control event.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind   Kind
	Source string
	At     time.Time

	// Steps is the validated step total since the step source was last started.
	Steps     int64
	Locations []Location

	Activity   string
	Confidence int

	Accel [3]float64
}

func Paused(at time.Time) Event {
	return Event{Kind: TrackingPaused, Source: "control", At: at}
}

func Resumed(at time.Time) Event {
	return Event{Kind: TrackingResumed, Source: "control", At: at}
}
