package session

import (
	"time"

	"backend-walklog/internal/sensor"
	"backend-walklog/internal/shared/geo"
)

type Emotion string

const (
	EmotionHappy     Emotion = "HAPPY"
	EmotionJoyful    Emotion = "JOYFUL"
	EmotionContent   Emotion = "CONTENT"
	EmotionDepressed Emotion = "DEPRESSED"
	EmotionTired     Emotion = "TIRED"
	EmotionIrritated Emotion = "IRRITATED"

	// DefaultEmotion replaces unreadable emotion tags on read-back.
	DefaultEmotion = EmotionContent
)

var emotions = map[Emotion]struct{}{
	EmotionHappy: {}, EmotionJoyful: {}, EmotionContent: {},
	EmotionDepressed: {}, EmotionTired: {}, EmotionIrritated: {},
}

func ParseEmotion(s string) (Emotion, bool) {
	e := Emotion(s)
	_, ok := emotions[e]
	return e, ok
}

func (e Emotion) Valid() bool {
	_, ok := emotions[e]
	return ok
}

type SyncState string

const (
	SyncPending SyncState = "PENDING"
	SyncSynced  SyncState = "SYNCED"
	SyncFailed  SyncState = "FAILED"
)

type Location = sensor.Location

// Goals are the targets active when the walk started.
type Goals struct {
	TargetSteps      int64 `json:"target_steps"`
	TargetActivities int64 `json:"target_activities"`
}

// WalkingSession is the durable record of one walk. EndTime is nil while the
// walk is still being tracked.
type WalkingSession struct {
	ID                string     `json:"id"`
	ServerID          string     `json:"server_id,omitempty"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	DurationSec       int64      `json:"duration_sec"`
	StepCount         int64      `json:"step_count"`
	Locations         []Location `json:"locations"`
	FilteredLocations []Location `json:"filtered_locations,omitempty"`
	SmoothedLocations []Location `json:"smoothed_locations,omitempty"`
	TotalDistanceM    float64    `json:"total_distance_m"`
	PreEmotion        Emotion    `json:"pre_emotion"`
	PostEmotion       Emotion    `json:"post_emotion"`
	Note              string     `json:"note,omitempty"`
	LocalImagePath    string     `json:"local_image_path,omitempty"`
	RemoteImageURL    string     `json:"remote_image_url,omitempty"`
	CreatedDate       string     `json:"created_date"`
	Goals             Goals      `json:"goals"`
	SyncState         SyncState  `json:"sync_state"`
	Synced            bool       `json:"synced"`
}

const createdDateLayout = "2006-01-02"

func CreatedDate(t time.Time) string {
	return t.Format(createdDateLayout)
}

// DistanceM is the summed great-circle length of the recorded path.
func DistanceM(locations []Location) float64 {
	return geo.PathLengthM(toPoints(locations))
}

// DeriveTracks returns the accuracy-filtered path and its moving-average
// smoothing. Fixes without an accuracy are kept. Both are nil for fewer than
// two usable points.
func DeriveTracks(locations []Location, maxAccuracyM float64, window int) (filtered, smoothed []Location) {
	for _, l := range locations {
		if maxAccuracyM > 0 && l.Accuracy != nil && *l.Accuracy > maxAccuracyM {
			continue
		}
		filtered = append(filtered, l)
	}
	if len(filtered) < 2 {
		return nil, nil
	}
	points := geo.MovingAverage(toPoints(filtered), window)
	smoothed = make([]Location, len(filtered))
	for i, p := range points {
		smoothed[i] = Location{Lat: p.Lat, Lng: p.Lng, Timestamp: filtered[i].Timestamp}
	}
	return filtered, smoothed
}

func toPoints(locations []Location) []geo.Point {
	points := make([]geo.Point, len(locations))
	for i, l := range locations {
		points[i] = geo.Point{Lat: l.Lat, Lng: l.Lng}
	}
	return points
}
