package session

import (
	"context"
	"errors"
	"time"

	"backend-walklog/internal/db"
	"backend-walklog/internal/logging"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("walking session not found")

// Repository persists walking sessions in Postgres. Location tracks are stored
// as JSON text and decoded leniently: a corrupted payload reads back as an
// empty track rather than failing the row.
type Repository struct {
	db db.Querier
}

func NewRepository(db db.Querier) *Repository {
	return &Repository{db: db}
}

const selectColumns = `
	SELECT id, COALESCE(server_id,''), start_time, COALESCE(end_time, 'epoch'::timestamptz), duration_sec, step_count,
	       COALESCE(locations,''), COALESCE(filtered_locations,''), COALESCE(smoothed_locations,''),
	       total_distance_m, pre_emotion, COALESCE(post_emotion,''), COALESCE(note,''),
	       COALESCE(image_path,''), COALESCE(image_url,''), created_date,
	       target_steps, target_activities, sync_state, synced
	FROM walking_sessions`

// Save upserts a completed session. Re-saving the same id replaces the row, so
// a retried completion write is safe.
func (r *Repository) Save(ctx context.Context, s WalkingSession) error {
	if s.SyncState == "" {
		s.SyncState = SyncPending
	}
	if s.PostEmotion == "" {
		s.PostEmotion = s.PreEmotion
	}
	if s.CreatedDate == "" {
		s.CreatedDate = CreatedDate(s.StartTime)
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO walking_sessions (id, start_time, end_time, duration_sec, step_count,
			locations, filtered_locations, smoothed_locations, total_distance_m,
			pre_emotion, post_emotion, note, image_path, created_date,
			target_steps, target_activities, sync_state, synced)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO UPDATE SET
			end_time=EXCLUDED.end_time, duration_sec=EXCLUDED.duration_sec, step_count=EXCLUDED.step_count,
			locations=EXCLUDED.locations, filtered_locations=EXCLUDED.filtered_locations,
			smoothed_locations=EXCLUDED.smoothed_locations, total_distance_m=EXCLUDED.total_distance_m,
			post_emotion=EXCLUDED.post_emotion
	`, s.ID, s.StartTime, s.EndTime, s.DurationSec, s.StepCount,
		encodeLocations(s.Locations), encodeLocations(s.FilteredLocations), encodeLocations(s.SmoothedLocations),
		s.TotalDistanceM, string(s.PreEmotion), string(s.PostEmotion), s.Note, s.LocalImagePath, s.CreatedDate,
		s.Goals.TargetSteps, s.Goals.TargetActivities, string(s.SyncState), s.Synced)
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (WalkingSession, error) {
	row := r.db.QueryRow(ctx, selectColumns+` WHERE id=$1`, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return WalkingSession{}, ErrNotFound
	}
	return s, err
}

func (r *Repository) List(ctx context.Context, limit int) ([]WalkingSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, selectColumns+` ORDER BY start_time DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []WalkingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *Repository) UpdatePostEmotion(ctx context.Context, id string, emotion Emotion) error {
	tag, err := r.db.Exec(ctx, `UPDATE walking_sessions SET post_emotion=$2 WHERE id=$1`, id, string(emotion))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateNoteAndImage touches only the note and image columns.
func (r *Repository) UpdateNoteAndImage(ctx context.Context, id, note, imagePath string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE walking_sessions
		SET note=$2, image_path=COALESCE(NULLIF($3,''), image_path)
		WHERE id=$1
	`, id, note, imagePath)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) MarkSynced(ctx context.Context, id, serverID, imageURL string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE walking_sessions
		SET server_id=$2, image_url=COALESCE(NULLIF($3,''), image_url), sync_state=$4, synced=true
		WHERE id=$1
	`, id, serverID, imageURL, string(SyncSynced))
	return err
}

func (r *Repository) MarkSyncFailed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE walking_sessions SET sync_state=$2 WHERE id=$1 AND synced=false
	`, id, string(SyncFailed))
	return err
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM walking_sessions WHERE id=$1`, id)
	return err
}

func scanSession(row pgx.Row) (WalkingSession, error) {
	var (
		s                        WalkingSession
		endTime                  time.Time
		locs, filtered, smoothed string
		preEmotion, postEmotion  string
		syncState                string
	)
	err := row.Scan(&s.ID, &s.ServerID, &s.StartTime, &endTime, &s.DurationSec, &s.StepCount,
		&locs, &filtered, &smoothed,
		&s.TotalDistanceM, &preEmotion, &postEmotion, &s.Note,
		&s.LocalImagePath, &s.RemoteImageURL, &s.CreatedDate,
		&s.Goals.TargetSteps, &s.Goals.TargetActivities, &syncState, &s.Synced)
	if err != nil {
		return WalkingSession{}, err
	}

	if endTime.After(time.Unix(0, 0)) {
		s.EndTime = &endTime
	}
	s.Locations = decodeLocations(s.ID, "locations", locs)
	if filtered != "" {
		s.FilteredLocations = decodeLocations(s.ID, "filtered_locations", filtered)
	}
	if smoothed != "" {
		s.SmoothedLocations = decodeLocations(s.ID, "smoothed_locations", smoothed)
	}

	s.PreEmotion = readEmotion(preEmotion, DefaultEmotion)
	s.PostEmotion = readEmotion(postEmotion, s.PreEmotion)
	s.SyncState = SyncState(syncState)
	if s.SyncState == "" {
		s.SyncState = SyncPending
	}
	return s, nil
}

func encodeLocations(locations []Location) string {
	if len(locations) == 0 {
		return ""
	}
	b, err := json.Marshal(locations)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeLocations(id, column, raw string) []Location {
	locations := []Location{}
	if raw == "" {
		return locations
	}
	if err := json.Unmarshal([]byte(raw), &locations); err != nil {
		logging.Warn().Err(err).Str("session_id", id).Str("column", column).Msg("unreadable location payload, using empty track")
		return []Location{}
	}
	return locations
}

func readEmotion(raw string, fallback Emotion) Emotion {
	if e, ok := ParseEmotion(raw); ok {
		return e
	}
	return fallback
}
