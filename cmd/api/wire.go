package main

import (
	"context"
	"time"

	"backend-walklog/internal/config"
	"backend-walklog/internal/db"
	"backend-walklog/internal/eventbus"
	"backend-walklog/internal/goal"
	"backend-walklog/internal/logging"
	"backend-walklog/internal/recovery"
	"backend-walklog/internal/remote"
	"backend-walklog/internal/sensor"
	"backend-walklog/internal/server"
	"backend-walklog/internal/session"
	"backend-walklog/internal/storage"
	"backend-walklog/internal/stream"
	"backend-walklog/internal/walking"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type components struct {
	feeds    sensor.Feeds
	bus      *eventbus.Bus
	sessions *session.Repository
	syncer   *session.Syncer
	hub      *stream.Hub
	machine  *walking.Machine
}

func build(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client) *components {
	var q db.Querier = db.Offline{}
	if pg != nil {
		q = pg
	}

	feeds := sensor.Feeds{
		"step":          sensor.NewFeed("step", true, cfg.EventBuffer),
		"location":      sensor.NewFeed("location", true, cfg.EventBuffer),
		"activity":      sensor.NewFeed("activity", true, cfg.EventBuffer),
		"accelerometer": sensor.NewFeed("accelerometer", true, cfg.EventBuffer),
	}
	bus := eventbus.New(cfg.EventBuffer,
		sensor.NewValidatingSource(feeds["step"], sensor.NewJumpValidator(cfg.MaxStepJump)),
		feeds["location"],
		feeds["activity"],
		feeds["accelerometer"],
	)

	sessions := session.NewRepository(q)
	var remoteOpts []remote.Option
	if cfg.SyncToken != "" {
		remoteOpts = append(remoteOpts, remote.WithToken(cfg.SyncToken))
	}
	syncer := session.NewSyncer(sessions, remote.NewClient(cfg.SyncBaseURL, remoteOpts...), cfg.SyncTimeout)

	hub := stream.NewHub(rdb)
	defaults := session.Goals{TargetSteps: cfg.DefaultTargetSteps, TargetActivities: cfg.DefaultTargetActivities}

	machine := walking.New(walking.Options{
		Bus:           bus,
		Recovery:      recoveryStore(ctx, cfg, rdb),
		Sessions:      sessions,
		Goals:         goal.NewService(q, cfg.DeviceUserID, defaults),
		Attacher:      storage.NewService(q, cfg.MediaDir),
		Publisher:     hub,
		TickInterval:  cfg.TickInterval,
		FlushInterval: cfg.RecoveryFlushInterval,
		StaleAfter:    cfg.RecoveryStaleAfter,
	})
	if err := machine.Init(ctx); err != nil {
		logging.Error().Err(err).Msg("walking machine init failed")
	}

	return &components{
		feeds:    feeds,
		bus:      bus,
		sessions: sessions,
		syncer:   syncer,
		hub:      hub,
		machine:  machine,
	}
}

// recoveryStore prefers Redis so an active walk survives a process restart.
func recoveryStore(ctx context.Context, cfg config.Config, rdb *redis.Client) recovery.Store {
	if rdb == nil {
		return recovery.NewMemoryStore()
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logging.Warn().Err(err).Msg("redis unavailable, recovery kept in memory")
		return recovery.NewMemoryStore()
	}
	return recovery.NewRedisStore(rdb, cfg.RecoveryKey)
}

func (c *components) serverDeps() server.Deps {
	return server.Deps{
		Machine:  c.machine,
		Sessions: c.sessions,
		Syncer:   c.syncer,
		Feeds:    c.feeds,
		Stream:   c.hub,
	}
}

// close leaves an active walk in the recovery store and lets pending
// syncs finish within ctx.
func (c *components) close(ctx context.Context) {
	if err := c.machine.Close(ctx); err != nil {
		logging.Warn().Err(err).Msg("walking machine close")
	}
	done := make(chan struct{})
	go func() {
		c.syncer.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn().Msg("shutdown before pending syncs finished")
	}
	if err := c.hub.Close(); err != nil {
		logging.Warn().Err(err).Msg("stream hub close")
	}
}
