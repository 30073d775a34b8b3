package logstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore/driver"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore/memlogstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore/pglogstore"
)

type TimeFilter = driver.TimeFilter
type ListLogsRequest = driver.ListLogsRequest
type ListLogsResponse = driver.ListLogsResponse
type StatsRequest = driver.StatsRequest
type Stats = driver.Stats

type LogStore = driver.LogStore

type DriverOpts struct {
	PG *pgxpool.Pool
}

func NewLogStore(ctx context.Context, driverOpts DriverOpts) (LogStore, error) {
	if driverOpts.PG != nil {
		store := pglogstore.NewLogStore(driverOpts.PG)
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, errors.New("no driver provided")
}

// NewMemLogStore returns an in-memory log store for testing and local
// single-process setups.
func NewMemLogStore() LogStore {
	return memlogstore.NewLogStore()
}
