package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrOffline = errors.New("database offline")

// Offline stands in for the pool when Postgres could not be reached at boot.
// Every call fails with ErrOffline.
type Offline struct{}

func (Offline) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ErrOffline
}

func (Offline) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, ErrOffline
}

func (Offline) QueryRow(context.Context, string, ...any) pgx.Row {
	return offlineRow{}
}

type offlineRow struct{}

func (offlineRow) Scan(...any) error { return ErrOffline }
