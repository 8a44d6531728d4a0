package goal

import (
	"context"
	"errors"

	"backend-walklog/internal/db"
	"backend-walklog/internal/session"

	"github.com/jackc/pgx/v5"
)

// Service reads the user's current walking targets. Users without a row get
// the configured defaults.
type Service struct {
	db       db.Querier
	userID   string
	defaults session.Goals
}

func NewService(db db.Querier, userID string, defaults session.Goals) *Service {
	return &Service{db: db, userID: userID, defaults: defaults}
}

func (s *Service) Goals(ctx context.Context) (session.Goals, error) {
	if s.db == nil {
		return s.defaults, nil
	}
	var g session.Goals
	err := s.db.QueryRow(ctx, `
		SELECT target_steps, target_activities
		FROM walking_goals WHERE user_id=$1
	`, s.userID).Scan(&g.TargetSteps, &g.TargetActivities)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, db.ErrOffline) {
		return s.defaults, nil
	}
	if err != nil {
		return session.Goals{}, err
	}
	return g, nil
}
