package integrationstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/integrationstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/util/testutil"
)

func setupStore(t *testing.T) integrationstore.Store {
	t.Helper()
	return integrationstore.New(testutil.CreateTestRedisClient(t))
}

func TestIntegrationStore_CRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	input := testutil.IntegrationFactory.Any(
		testutil.IntegrationFactory.WithID("cfg_1"),
		testutil.IntegrationFactory.WithOrgID(84),
		testutil.IntegrationFactory.WithSigning("whsec_test"),
	)
	require.NoError(t, store.CreateIntegration(ctx, input))

	t.Run("retrieve roundtrip", func(t *testing.T) {
		got, err := store.RetrieveIntegration(ctx, 84, "cfg_1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "cfg_1", got.ID)
		assert.Equal(t, int64(84), got.OrgID)
		assert.Equal(t, input.EventType, got.EventType)
		assert.Equal(t, input.URL, got.URL)
		assert.True(t, got.IsActive)
		assert.True(t, got.SigningEnabled)
		assert.Equal(t, "whsec_test", got.SigningSecret)
		assert.Equal(t, models.TransformSimple, got.Transformation.Mode)
	})

	t.Run("duplicate create rejected", func(t *testing.T) {
		err := store.CreateIntegration(ctx, input)
		assert.ErrorIs(t, err, integrationstore.ErrDuplicateIntegration)
	})

	t.Run("retrieve missing fails", func(t *testing.T) {
		got, err := store.RetrieveIntegration(ctx, 84, "nope")
		assert.ErrorIs(t, err, integrationstore.ErrIntegrationNotFound)
		assert.Nil(t, got)
	})

	t.Run("delete hides integration", func(t *testing.T) {
		require.NoError(t, store.DeleteIntegration(ctx, 84, "cfg_1"))

		got, err := store.RetrieveIntegration(ctx, 84, "cfg_1")
		assert.ErrorIs(t, err, integrationstore.ErrIntegrationDeleted)
		assert.Nil(t, got)

		list, err := store.ListIntegrationsByOrg(ctx, 84)
		require.NoError(t, err)
		assert.Empty(t, list)

		assert.ErrorIs(t, store.DeleteIntegration(ctx, 84, "missing"), integrationstore.ErrIntegrationNotFound)
	})

	t.Run("create after delete revives", func(t *testing.T) {
		require.NoError(t, store.CreateIntegration(ctx, input))
		got, err := store.RetrieveIntegration(ctx, 84, "cfg_1")
		require.NoError(t, err)
		require.NotNil(t, got)
	})
}

func TestIntegrationStore_ListOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	base := time.Now().Truncate(time.Millisecond)
	for _, spec := range []struct {
		id        string
		updatedAt time.Time
	}{
		{"cfg_old", base.Add(-2 * time.Hour)},
		{"cfg_b", base},
		{"cfg_a", base},
		{"cfg_new", base.Add(time.Hour)},
	} {
		integration := testutil.IntegrationFactory.Any(
			testutil.IntegrationFactory.WithID(spec.id),
			testutil.IntegrationFactory.WithUpdatedAt(spec.updatedAt),
		)
		require.NoError(t, store.UpsertIntegration(ctx, integration))
	}

	list, err := store.ListIntegrationsByOrg(ctx, 84)
	require.NoError(t, err)
	require.Len(t, list, 4)

	ids := make([]string, len(list))
	for i, integration := range list {
		ids[i] = integration.ID
	}
	// Newest update first, ID ascending on ties.
	assert.Equal(t, []string{"cfg_new", "cfg_a", "cfg_b", "cfg_old"}, ids)
}

func TestIntegrationStore_MatchEvent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	// Org 84 is the parent of units 435 and 3264.
	require.NoError(t, store.UpsertOrgUnit(ctx, models.OrgUnit{RID: 435, ParentRID: 84, Name: "clinic-a"}))
	require.NoError(t, store.UpsertOrgUnit(ctx, models.OrgUnit{RID: 3264, ParentRID: 84, Name: "clinic-b"}))

	upsert := func(integration models.Integration) {
		t.Helper()
		require.NoError(t, store.UpsertIntegration(ctx, integration))
	}

	upsert(testutil.IntegrationFactory.Any(
		testutil.IntegrationFactory.WithID("parent_registered"),
		testutil.IntegrationFactory.WithOrgID(84),
		testutil.IntegrationFactory.WithEventType("PATIENT_REGISTERED"),
	))
	upsert(testutil.IntegrationFactory.Any(
		testutil.IntegrationFactory.WithID("parent_wildcard"),
		testutil.IntegrationFactory.WithOrgID(84),
		testutil.IntegrationFactory.WithEventType(models.EventTypeAny),
	))
	upsert(testutil.IntegrationFactory.Any(
		testutil.IntegrationFactory.WithID("parent_entity_only"),
		testutil.IntegrationFactory.WithOrgID(84),
		testutil.IntegrationFactory.WithEventType("PATIENT_REGISTERED"),
		testutil.IntegrationFactory.WithScope(models.ScopeEntityOnly),
	))
	upsert(testutil.IntegrationFactory.Any(
		testutil.IntegrationFactory.WithID("parent_excludes_435"),
		testutil.IntegrationFactory.WithOrgID(84),
		testutil.IntegrationFactory.WithEventType("PATIENT_REGISTERED"),
		testutil.IntegrationFactory.WithExcludedOrgUnitRIDs([]int64{435}),
	))
	upsert(testutil.IntegrationFactory.Any(
		testutil.IntegrationFactory.WithID("parent_inactive"),
		testutil.IntegrationFactory.WithOrgID(84),
		testutil.IntegrationFactory.WithEventType("PATIENT_REGISTERED"),
		testutil.IntegrationFactory.WithIsActive(false),
	))
	upsert(testutil.IntegrationFactory.Any(
		testutil.IntegrationFactory.WithID("unit_own"),
		testutil.IntegrationFactory.WithOrgID(435),
		testutil.IntegrationFactory.WithEventType("PATIENT_REGISTERED"),
	))
	upsert(testutil.IntegrationFactory.Any(
		testutil.IntegrationFactory.WithID("unit_other_type"),
		testutil.IntegrationFactory.WithOrgID(435),
		testutil.IntegrationFactory.WithEventType("ORDER_PLACED"),
	))

	matchedIDs := func(event models.Event) []string {
		t.Helper()
		matched, err := store.MatchEvent(ctx, event)
		require.NoError(t, err)
		ids := make([]string, len(matched))
		for i, summary := range matched {
			ids[i] = summary.ID
		}
		return ids
	}

	t.Run("event on child unit inherits parent configs", func(t *testing.T) {
		ids := matchedIDs(testutil.EventFactory.Any(
			testutil.EventFactory.WithOrgID(84),
			testutil.EventFactory.WithOrgUnitRID(435),
			testutil.EventFactory.WithType("PATIENT_REGISTERED"),
		))
		// Own config plus inherited parent configs; entity-only and
		// excluded ones filtered out, inactive never matches.
		assert.ElementsMatch(t, []string{"unit_own", "parent_registered", "parent_wildcard"}, ids)
	})

	t.Run("unexcluded sibling sees exclusion config", func(t *testing.T) {
		ids := matchedIDs(testutil.EventFactory.Any(
			testutil.EventFactory.WithOrgID(84),
			testutil.EventFactory.WithOrgUnitRID(3264),
			testutil.EventFactory.WithType("PATIENT_REGISTERED"),
		))
		assert.ElementsMatch(t, []string{"parent_registered", "parent_wildcard", "parent_excludes_435"}, ids)
	})

	t.Run("event directly on parent matches entity-only", func(t *testing.T) {
		ids := matchedIDs(testutil.EventFactory.Any(
			testutil.EventFactory.WithOrgID(84),
			testutil.EventFactory.WithType("PATIENT_REGISTERED"),
		))
		assert.ElementsMatch(t,
			[]string{"parent_registered", "parent_wildcard", "parent_entity_only", "parent_excludes_435"},
			ids)
	})

	t.Run("unknown event type only matches wildcard", func(t *testing.T) {
		ids := matchedIDs(testutil.EventFactory.Any(
			testutil.EventFactory.WithOrgID(84),
			testutil.EventFactory.WithType("SOMETHING_ELSE"),
		))
		assert.ElementsMatch(t, []string{"parent_wildcard"}, ids)
	})

	t.Run("org without hierarchy record matches nothing foreign", func(t *testing.T) {
		ids := matchedIDs(testutil.EventFactory.Any(
			testutil.EventFactory.WithOrgID(999),
			testutil.EventFactory.WithType("PATIENT_REGISTERED"),
		))
		assert.Empty(t, ids)
	})
}

func TestIntegrationStore_MatchOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	base := time.Now().Truncate(time.Millisecond)
	for _, spec := range []struct {
		id        string
		updatedAt time.Time
	}{
		{"cfg_b", base},
		{"cfg_a", base},
		{"cfg_newest", base.Add(time.Minute)},
	} {
		require.NoError(t, store.UpsertIntegration(ctx, testutil.IntegrationFactory.Any(
			testutil.IntegrationFactory.WithID(spec.id),
			testutil.IntegrationFactory.WithUpdatedAt(spec.updatedAt),
		)))
	}

	matched, err := store.MatchEvent(ctx, testutil.EventFactory.Any())
	require.NoError(t, err)
	require.Len(t, matched, 3)
	assert.Equal(t, "cfg_newest", matched[0].ID)
	assert.Equal(t, "cfg_a", matched[1].ID)
	assert.Equal(t, "cfg_b", matched[2].ID)
}

func TestIntegrationStore_LegacyFieldSpellings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := testutil.CreateTestRedisClient(t)
	store := integrationstore.New(client)

	// Hash written by the system this store replaced: camelCase id and
	// parent fields, no canonical counterparts.
	key := "org:{84}:integration:legacy_cfg"
	require.NoError(t, client.HSet(ctx, key,
		"integrationConfigId", "legacy_cfg",
		"entityParentRid", "84",
		"event_type", "PATIENT_REGISTERED",
		"is_active", "true",
		"url", "https://legacy.example.com/hook",
	).Err())

	got, err := store.RetrieveIntegration(ctx, 84, "legacy_cfg")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "legacy_cfg", got.ID)
	assert.Equal(t, int64(84), got.OrgID)
	assert.True(t, got.IsActive)
	assert.Equal(t, "https://legacy.example.com/hook", got.URL)
}

func TestIntegrationStore_ListActiveOrgIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := setupStore(t)

	require.NoError(t, store.UpsertIntegration(ctx, testutil.IntegrationFactory.Any(
		testutil.IntegrationFactory.WithID("a1"),
		testutil.IntegrationFactory.WithOrgID(84),
	)))
	require.NoError(t, store.UpsertIntegration(ctx, testutil.IntegrationFactory.Any(
		testutil.IntegrationFactory.WithID("b1"),
		testutil.IntegrationFactory.WithOrgID(435),
		testutil.IntegrationFactory.WithIsActive(false),
	)))
	require.NoError(t, store.UpsertIntegration(ctx, testutil.IntegrationFactory.Any(
		testutil.IntegrationFactory.WithID("c1"),
		testutil.IntegrationFactory.WithOrgID(3264),
	)))

	orgIDs, err := store.ListActiveOrgIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{84, 3264}, orgIDs)
}
