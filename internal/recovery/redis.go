package recovery

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldActive           = "active"
	fieldSessionID        = "session_id"
	fieldStartTime        = "start_time"
	fieldUpdatedAt        = "updated_at"
	fieldStepCount        = "step_count"
	fieldDurationMs       = "duration_ms"
	fieldPaused           = "paused"
	fieldPreEmotion       = "pre_emotion"
	fieldPostEmotion      = "post_emotion"
	fieldTargetSteps      = "target_steps"
	fieldTargetActivities = "target_activities"
)

// RedisStore keeps the record in a single hash so every Save replaces all
// fields atomically.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "walking:recovery"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (Record, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Record{}, err
	}
	if len(values) == 0 {
		return Record{}, nil
	}
	return Record{
		Active:           values[fieldActive] == "1",
		SessionID:        values[fieldSessionID],
		StartTime:        parseUnixMilli(values[fieldStartTime]),
		UpdatedAt:        parseUnixMilli(values[fieldUpdatedAt]),
		StepCount:        parseInt(values[fieldStepCount]),
		Duration:         time.Duration(parseInt(values[fieldDurationMs])) * time.Millisecond,
		Paused:           values[fieldPaused] == "1",
		PreEmotion:       values[fieldPreEmotion],
		PostEmotion:      values[fieldPostEmotion],
		TargetSteps:      parseInt(values[fieldTargetSteps]),
		TargetActivities: parseInt(values[fieldTargetActivities]),
	}, nil
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.HSet(ctx, s.key,
			fieldActive, boolString(rec.Active),
			fieldSessionID, rec.SessionID,
			fieldStartTime, strconv.FormatInt(rec.StartTime.UnixMilli(), 10),
			fieldUpdatedAt, strconv.FormatInt(rec.UpdatedAt.UnixMilli(), 10),
			fieldStepCount, strconv.FormatInt(rec.StepCount, 10),
			fieldDurationMs, strconv.FormatInt(rec.Duration.Milliseconds(), 10),
			fieldPaused, boolString(rec.Paused),
			fieldPreEmotion, rec.PreEmotion,
			fieldPostEmotion, rec.PostEmotion,
			fieldTargetSteps, strconv.FormatInt(rec.TargetSteps, 10),
			fieldTargetActivities, strconv.FormatInt(rec.TargetActivities, 10),
		)
		return nil
	})
	return err
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseInt(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseUnixMilli(v string) time.Time {
	n := parseInt(v)
	if n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}
