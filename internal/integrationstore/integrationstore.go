package integrationstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/redis"
)

const deletedRetention = 7 * 24 * time.Hour

// Store owns integration configurations and the org-unit hierarchy they
// hang off. All keys carry the owning org in a hash tag so every
// per-org operation lands on one cluster slot.
type Store interface {
	RetrieveIntegration(ctx context.Context, orgID int64, integrationID string) (*models.Integration, error)
	ListIntegrationsByOrg(ctx context.Context, orgID int64) ([]models.Integration, error)
	CreateIntegration(ctx context.Context, integration models.Integration) error
	UpsertIntegration(ctx context.Context, integration models.Integration) error
	DeleteIntegration(ctx context.Context, orgID int64, integrationID string) error

	UpsertOrgUnit(ctx context.Context, unit models.OrgUnit) error
	RetrieveOrgUnit(ctx context.Context, rid int64) (*models.OrgUnit, error)

	MatchEvent(ctx context.Context, event models.Event) ([]models.IntegrationSummary, error)
	ListActiveOrgIDs(ctx context.Context) ([]int64, error)
}

var (
	ErrDuplicateIntegration = errors.New("integration already exists")
	ErrIntegrationNotFound  = errors.New("integration does not exist")
	ErrIntegrationDeleted   = errors.New("integration has been deleted")
)

type storeImpl struct {
	redisClient  redis.Cmdable
	deploymentID string
}

var _ Store = (*storeImpl)(nil)

type StoreOption func(*storeImpl)

// WithDeploymentID namespaces every key, letting several deployments
// share one Redis.
func WithDeploymentID(deploymentID string) StoreOption {
	return func(s *storeImpl) {
		s.deploymentID = deploymentID
	}
}

func New(redisClient redis.Cmdable, opts ...StoreOption) Store {
	store := &storeImpl{redisClient: redisClient}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *storeImpl) deploymentPrefix() string {
	if s.deploymentID == "" {
		return ""
	}
	return fmt.Sprintf("%s:", s.deploymentID)
}

func (s *storeImpl) redisIntegrationKey(orgID int64, integrationID string) string {
	return fmt.Sprintf("%sorg:{%d}:integration:%s", s.deploymentPrefix(), orgID, integrationID)
}

func (s *storeImpl) redisIntegrationSummaryKey(orgID int64) string {
	return fmt.Sprintf("%sorg:{%d}:integrations", s.deploymentPrefix(), orgID)
}

func (s *storeImpl) redisOrgUnitKey(rid int64) string {
	return fmt.Sprintf("%sorgunit:%d", s.deploymentPrefix(), rid)
}

func (s *storeImpl) redisOrgIndexKey() string {
	return s.deploymentPrefix() + "orgs"
}

func (s *storeImpl) RetrieveIntegration(ctx context.Context, orgID int64, integrationID string) (*models.Integration, error) {
	hash, err := s.redisClient.HGetAll(ctx, s.redisIntegrationKey(orgID, integrationID)).Result()
	if err != nil {
		return nil, err
	}
	if len(hash) == 0 {
		return nil, ErrIntegrationNotFound
	}
	if _, deleted := hash["deleted_at"]; deleted {
		return nil, ErrIntegrationDeleted
	}
	integration := &models.Integration{OrgID: orgID}
	if err := parseIntegrationHash(hash, integration); err != nil {
		return nil, err
	}
	return integration, nil
}

func (s *storeImpl) listSummariesByOrg(ctx context.Context, orgID int64) ([]models.IntegrationSummary, error) {
	hash, err := s.redisClient.HGetAll(ctx, s.redisIntegrationSummaryKey(orgID)).Result()
	if err != nil {
		if err == redis.Nil {
			return []models.IntegrationSummary{}, nil
		}
		return nil, err
	}
	summaries := make([]models.IntegrationSummary, 0, len(hash))
	for _, raw := range hash {
		summary := models.IntegrationSummary{}
		if err := summary.UnmarshalBinary([]byte(raw)); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *storeImpl) ListIntegrationsByOrg(ctx context.Context, orgID int64) ([]models.Integration, error) {
	summaries, err := s.listSummariesByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	pipe := s.redisClient.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(summaries))
	for i, summary := range summaries {
		cmds[i] = pipe.HGetAll(ctx, s.redisIntegrationKey(orgID, summary.ID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	integrations := make([]models.Integration, 0, len(summaries))
	for _, cmd := range cmds {
		hash, err := cmd.Result()
		if err != nil {
			return nil, err
		}
		if len(hash) == 0 {
			continue
		}
		integration := models.Integration{OrgID: orgID}
		if err := parseIntegrationHash(hash, &integration); err != nil {
			return nil, err
		}
		integrations = append(integrations, integration)
	}

	sortIntegrations(integrations)
	return integrations, nil
}

func (s *storeImpl) CreateIntegration(ctx context.Context, integration models.Integration) error {
	key := s.redisIntegrationKey(integration.OrgID, integration.ID)
	if fields, err := s.redisClient.HGetAll(ctx, key).Result(); err != nil {
		return err
	} else if len(fields) > 0 {
		if _, isDeleted := fields["deleted_at"]; !isDeleted {
			return ErrDuplicateIntegration
		}
	}
	return s.UpsertIntegration(ctx, integration)
}

func (s *storeImpl) UpsertIntegration(ctx context.Context, integration models.Integration) error {
	key := s.redisIntegrationKey(integration.OrgID, integration.ID)

	// Marshal nested structures before touching Redis so a bad value
	// never leaves a half-written hash behind.
	authJSON, err := json.Marshal(integration.Auth)
	if err != nil {
		return fmt.Errorf("invalid integration auth: %w", err)
	}
	transformationJSON, err := json.Marshal(integration.Transformation)
	if err != nil {
		return fmt.Errorf("invalid integration transformation: %w", err)
	}
	var scheduleJSON []byte
	if integration.Schedule != nil {
		scheduleJSON, err = json.Marshal(integration.Schedule)
		if err != nil {
			return fmt.Errorf("invalid integration schedule: %w", err)
		}
	}
	excludedJSON, err := json.Marshal(integration.ExcludedOrgUnitRIDs)
	if err != nil {
		return fmt.Errorf("invalid integration exclusions: %w", err)
	}

	now := time.Now()
	if integration.CreatedAt.IsZero() {
		integration.CreatedAt = now
	}
	if integration.UpdatedAt.IsZero() {
		integration.UpdatedAt = now
	}

	summaryKey := s.redisIntegrationSummaryKey(integration.OrgID)
	_, err = s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Persist(ctx, key)
		pipe.HDel(ctx, key, "deleted_at")

		pipe.HSet(ctx, key, "id", integration.ID)
		pipe.HSet(ctx, key, "org_id", integration.OrgID)
		pipe.HSet(ctx, key, "org_unit_rid", integration.OrgUnitRID)
		pipe.HSet(ctx, key, "event_type", integration.EventType)
		pipe.HSet(ctx, key, "direction", string(integration.Direction))
		pipe.HSet(ctx, key, "is_active", integration.IsActive)
		pipe.HSet(ctx, key, "url", integration.URL)
		pipe.HSet(ctx, key, "method", integration.Method)
		pipe.HSet(ctx, key, "auth", authJSON)
		pipe.HSet(ctx, key, "timeout_seconds", integration.TimeoutSeconds)
		pipe.HSet(ctx, key, "retry_count", integration.RetryCount)
		pipe.HSet(ctx, key, "transformation", transformationJSON)
		pipe.HSet(ctx, key, "signing_secret", integration.SigningSecret)
		pipe.HSet(ctx, key, "signing_enabled", integration.SigningEnabled)
		pipe.HSet(ctx, key, "delivery_mode", string(integration.DeliveryMode))
		pipe.HSet(ctx, key, "scope", string(integration.Scope))
		pipe.HSet(ctx, key, "excluded_org_unit_rids", excludedJSON)
		pipe.HSet(ctx, key, "created_at", integration.CreatedAt.UnixMilli())
		pipe.HSet(ctx, key, "updated_at", integration.UpdatedAt.UnixMilli())

		if scheduleJSON != nil {
			pipe.HSet(ctx, key, "schedule", scheduleJSON)
		} else {
			pipe.HDel(ctx, key, "schedule")
		}

		pipe.HSet(ctx, summaryKey, integration.ID, integration.ToSummary())
		return nil
	})
	if err != nil {
		return err
	}

	return s.redisClient.SAdd(ctx, s.redisOrgIndexKey(), integration.OrgID).Err()
}

func (s *storeImpl) DeleteIntegration(ctx context.Context, orgID int64, integrationID string) error {
	key := s.redisIntegrationKey(orgID, integrationID)
	if exists, err := s.redisClient.Exists(ctx, key).Result(); err != nil {
		return err
	} else if exists == 0 {
		return ErrIntegrationNotFound
	}

	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.redisIntegrationSummaryKey(orgID), integrationID)
		pipe.HSet(ctx, key, "deleted_at", time.Now().UnixMilli())
		pipe.Expire(ctx, key, deletedRetention)
		return nil
	})
	return err
}

func (s *storeImpl) UpsertOrgUnit(ctx context.Context, unit models.OrgUnit) error {
	return s.redisClient.HSet(ctx, s.redisOrgUnitKey(unit.RID),
		"rid", unit.RID,
		"parent_rid", unit.ParentRID,
		"name", unit.Name,
	).Err()
}

func (s *storeImpl) RetrieveOrgUnit(ctx context.Context, rid int64) (*models.OrgUnit, error) {
	hash, err := s.redisClient.HGetAll(ctx, s.redisOrgUnitKey(rid)).Result()
	if err != nil {
		return nil, err
	}
	if len(hash) == 0 {
		return nil, nil
	}
	unit := &models.OrgUnit{RID: rid}
	if v, ok := hash["parent_rid"]; ok {
		if unit.ParentRID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("corrupt org unit %d: %w", rid, err)
		}
	}
	unit.Name = hash["name"]
	return unit, nil
}

// parentOf resolves the hierarchy parent of an org. Orgs without a
// hierarchy record, or with no parent, are their own parent.
func (s *storeImpl) parentOf(ctx context.Context, orgID int64) (int64, error) {
	unit, err := s.RetrieveOrgUnit(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if unit == nil || unit.ParentRID == 0 {
		return orgID, nil
	}
	return unit.ParentRID, nil
}

// MatchEvent resolves the integrations an event fans out to: configs
// attached to the emitting org plus configs inherited from its
// hierarchy parent, filtered by activeness, direction, event-type
// selector, scope, and exclusion lists. Results are ordered newest
// update first with ID as the tiebreaker, so fan-out order is stable
// across replays.
func (s *storeImpl) MatchEvent(ctx context.Context, event models.Event) ([]models.IntegrationSummary, error) {
	orgID := event.OrgID
	if event.OrgUnitRID != 0 {
		orgID = event.OrgUnitRID
	}
	parentID, err := s.parentOf(ctx, orgID)
	if err != nil {
		return nil, err
	}

	matched := []models.IntegrationSummary{}
	seen := map[string]struct{}{}
	appendMatches := func(ownerID int64) error {
		summaries, err := s.listSummariesByOrg(ctx, ownerID)
		if err != nil {
			return err
		}
		for _, summary := range summaries {
			if _, dup := seen[summary.ID]; dup {
				continue
			}
			if !summary.IsActive || !summary.IsOutbound() {
				continue
			}
			if !summary.MatchesEventType(event.Type) {
				continue
			}
			if !summary.AppliesTo(ownerID, orgID) {
				continue
			}
			seen[summary.ID] = struct{}{}
			matched = append(matched, summary)
		}
		return nil
	}

	if err := appendMatches(orgID); err != nil {
		return nil, err
	}
	if parentID != orgID {
		if err := appendMatches(parentID); err != nil {
			return nil, err
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return matched, nil
}

// ListActiveOrgIDs returns orgs with at least one active integration.
// Source pollers use it as a tenant allowlist.
func (s *storeImpl) ListActiveOrgIDs(ctx context.Context) ([]int64, error) {
	members, err := s.redisClient.SMembers(ctx, s.redisOrgIndexKey()).Result()
	if err != nil {
		if err == redis.Nil {
			return []int64{}, nil
		}
		return nil, err
	}

	orgIDs := make([]int64, 0, len(members))
	for _, member := range members {
		orgID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		summaries, err := s.listSummariesByOrg(ctx, orgID)
		if err != nil {
			return nil, err
		}
		for _, summary := range summaries {
			if summary.IsActive {
				orgIDs = append(orgIDs, orgID)
				break
			}
		}
	}
	sort.Slice(orgIDs, func(i, j int) bool { return orgIDs[i] < orgIDs[j] })
	return orgIDs, nil
}

func sortIntegrations(integrations []models.Integration) {
	sort.Slice(integrations, func(i, j int) bool {
		if !integrations[i].UpdatedAt.Equal(integrations[j].UpdatedAt) {
			return integrations[i].UpdatedAt.After(integrations[j].UpdatedAt)
		}
		return integrations[i].ID < integrations[j].ID
	})
}
