package integrationstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

// Field spellings written by the system this store replaced. They are
// accepted on read so existing hashes keep resolving; writes always use
// the canonical snake_case names.
const (
	legacyFieldID    = "integrationConfigId"
	legacyFieldOrgID = "entityParentRid"
)

func hashField(hash map[string]string, canonical, legacy string) (string, bool) {
	if v, ok := hash[canonical]; ok {
		return v, true
	}
	if legacy != "" {
		if v, ok := hash[legacy]; ok {
			return v, true
		}
	}
	return "", false
}

func parseIntegrationHash(hash map[string]string, integration *models.Integration) error {
	if v, ok := hashField(hash, "id", legacyFieldID); ok {
		integration.ID = v
	}
	if v, ok := hashField(hash, "org_id", legacyFieldOrgID); ok {
		orgID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt integration %s: bad org_id: %w", integration.ID, err)
		}
		integration.OrgID = orgID
	}
	if v, ok := hash["org_unit_rid"]; ok && v != "" {
		rid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt integration %s: bad org_unit_rid: %w", integration.ID, err)
		}
		integration.OrgUnitRID = rid
	}

	integration.EventType = hash["event_type"]
	integration.Direction = models.Direction(hash["direction"])
	integration.IsActive = hash["is_active"] == "1" || hash["is_active"] == "true"
	integration.URL = hash["url"]
	integration.Method = hash["method"]
	integration.SigningSecret = hash["signing_secret"]
	integration.SigningEnabled = hash["signing_enabled"] == "1" || hash["signing_enabled"] == "true"
	integration.DeliveryMode = models.DeliveryMode(hash["delivery_mode"])
	integration.Scope = models.Scope(hash["scope"])

	if v, ok := hash["timeout_seconds"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("corrupt integration %s: bad timeout_seconds: %w", integration.ID, err)
		}
		integration.TimeoutSeconds = n
	}
	if v, ok := hash["retry_count"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("corrupt integration %s: bad retry_count: %w", integration.ID, err)
		}
		integration.RetryCount = n
	}

	if v, ok := hash["auth"]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &integration.Auth); err != nil {
			return fmt.Errorf("corrupt integration %s: bad auth: %w", integration.ID, err)
		}
	}
	if v, ok := hash["transformation"]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &integration.Transformation); err != nil {
			return fmt.Errorf("corrupt integration %s: bad transformation: %w", integration.ID, err)
		}
	}
	if v, ok := hash["schedule"]; ok && v != "" {
		schedule := models.ScheduleConfig{}
		if err := json.Unmarshal([]byte(v), &schedule); err != nil {
			return fmt.Errorf("corrupt integration %s: bad schedule: %w", integration.ID, err)
		}
		integration.Schedule = &schedule
	}
	if v, ok := hash["excluded_org_unit_rids"]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &integration.ExcludedOrgUnitRIDs); err != nil {
			return fmt.Errorf("corrupt integration %s: bad exclusions: %w", integration.ID, err)
		}
	}

	if v, ok := hash["created_at"]; ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt integration %s: bad created_at: %w", integration.ID, err)
		}
		integration.CreatedAt = time.UnixMilli(ms)
	}
	if v, ok := hash["updated_at"]; ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt integration %s: bad updated_at: %w", integration.ID, err)
		}
		integration.UpdatedAt = time.UnixMilli(ms)
	}

	return nil
}
