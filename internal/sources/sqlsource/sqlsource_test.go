package sqlsource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

type fakeTenantLister struct {
	ids   []int64
	err   error
	calls int
}

func (f *fakeTenantLister) ListActiveOrgIDs(ctx context.Context) ([]int64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.ids, nil
}

func TestRowToEvent(t *testing.T) {
	t.Parallel()
	source := New(nil, logging.NewNopLogger())

	event, err := source.rowToEvent(42, 1001, 84, "appointment_booked", []byte(`{"appointmentId": 7}`))
	require.NoError(t, err)

	assert.Equal(t, "84-appointment_booked-42", event.ID)
	assert.Equal(t, int64(84), event.OrgID)
	assert.Equal(t, int64(1001), event.OrgUnitRID)
	assert.Equal(t, int64(42), event.SourceID)
	assert.Equal(t, models.Data{"appointmentId": float64(7)}, event.Payload)
	assert.Equal(t, models.SourceKindRelational, event.Source.Kind)
	assert.Equal(t, DefaultTable, event.Source.Name)
	assert.Equal(t, int64(42), event.Source.Offset)
}

func TestRowToEvent_MalformedMessage(t *testing.T) {
	t.Parallel()
	source := New(nil, logging.NewNopLogger())

	_, err := source.rowToEvent(42, 1001, 84, "appointment_booked", []byte(`not json`))
	assert.Error(t, err)
}

func TestCommitNeverRegresses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	source := New(nil, logging.NewNopLogger())

	require.NoError(t, source.Commit(ctx, 100))
	require.NoError(t, source.Commit(ctx, 50))
	assert.Equal(t, int64(100), source.cursor)
}

func TestAllowedTenantsCaching(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Now().UTC()
	lister := &fakeTenantLister{ids: []int64{84, 85}}
	source := New(nil, logging.NewNopLogger(),
		WithTenantAllowlist(lister, 30*time.Second),
		WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		ids, err := source.allowedTenants(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{84, 85}, ids)
	}
	assert.Equal(t, 1, lister.calls, "allowlist should be served from cache inside the TTL")

	now = now.Add(time.Minute)
	_, err := source.allowedTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestAllowedTenantsFallsBackToCacheOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Now().UTC()
	lister := &fakeTenantLister{ids: []int64{84}}
	source := New(nil, logging.NewNopLogger(),
		WithTenantAllowlist(lister, time.Second),
		WithClock(func() time.Time { return now }))

	ids, err := source.allowedTenants(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{84}, ids)

	lister.err = errors.New("redis down")
	now = now.Add(time.Minute)
	ids, err = source.allowedTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{84}, ids)
}
