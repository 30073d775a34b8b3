package apirouter

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore/driver"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

const defaultListLimit = 50

// Publisher enqueues delivery tasks for manual retries and replays.
type Publisher interface {
	Publish(ctx context.Context, task models.DeliveryTask) error
}

type LogHandlers struct {
	logger   *logging.Logger
	logs     logstore.LogStore
	delivery Publisher
}

func NewLogHandlers(logger *logging.Logger, logs logstore.LogStore, delivery Publisher) *LogHandlers {
	return &LogHandlers{logger: logger, logs: logs, delivery: delivery}
}

func (h *LogHandlers) List(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	req := driver.ListLogsRequest{
		OrgID:         orgID,
		IntegrationID: c.Query("integration_id"),
		EventID:       c.Query("event_id"),
		Search:        c.Query("search"),
		Next:          c.Query("next"),
		Limit:         queryInt(c, "limit", defaultListLimit),
	}
	if status := c.Query("status"); status != "" {
		req.Statuses = []models.LogStatus{models.LogStatus(status)}
	}
	if trigger := c.Query("trigger"); trigger != "" {
		req.TriggerType = models.TriggerType(trigger)
	}
	if since, ok := queryTime(c, "since"); ok {
		req.TimeFilter.GTE = &since
	}

	resp, err := h.logs.ListLogs(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Data, "next": resp.Next})
}

func (h *LogHandlers) Retrieve(c *gin.Context) {
	log, ok := h.retrieveLog(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, log)
}

func (h *LogHandlers) ListAttempts(c *gin.Context) {
	log, ok := h.retrieveLog(c)
	if !ok {
		return
	}

	attempts, err := h.logs.ListAttempts(c.Request.Context(), log.TraceID)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.JSON(http.StatusOK, attempts)
}

// Retry re-enqueues a delivery from its log with a MANUAL trigger. The
// attempt picks up on the same trace, so the log keeps its history.
func (h *LogHandlers) Retry(c *gin.Context) {
	log, ok := h.retrieveLog(c)
	if !ok {
		return
	}
	if log.Status == models.LogSuccess {
		AbortWithError(c, http.StatusConflict, ErrorResponse{Message: "delivery already succeeded"})
		return
	}
	if log.TriggerType == models.TriggerSchedule {
		AbortWithError(c, http.StatusConflict, ErrorResponse{Message: "scheduled deliveries retry through their entry"})
		return
	}

	task := models.DeliveryTask{
		TraceID: log.TraceID,
		Event: models.Event{
			ID:         log.EventID,
			OrgID:      log.OrgID,
			Type:       log.EventType,
			Payload:    log.EventPayload,
			ReceivedAt: log.StartedAt,
		},
		IntegrationID: log.IntegrationID,
		Attempt:       log.AttemptCount,
		Trigger:       models.TriggerManual,
		ActionIndex:   log.ActionIndex,
	}
	if err := h.delivery.Publish(c.Request.Context(), task); err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}

	h.logger.Ctx(c.Request.Context()).Info("manual retry enqueued",
		zap.String("trace_id", log.TraceID),
		zap.String("integration_id", log.IntegrationID))
	c.JSON(http.StatusAccepted, gin.H{"trace_id": log.TraceID, "attempt": log.AttemptCount + 1})
}

// BulkRetry re-enqueues every RETRYING log that matches the filters,
// newest first. Scheduled deliveries are skipped; they retry through
// their schedule entry.
func (h *LogHandlers) BulkRetry(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	req := driver.ListLogsRequest{
		OrgID:         orgID,
		IntegrationID: c.Query("integration_id"),
		Statuses:      []models.LogStatus{models.LogRetrying},
		Limit:         queryInt(c, "limit", defaultListLimit),
	}
	if since, ok := queryTime(c, "since"); ok {
		req.TimeFilter.GTE = &since
	}

	resp, err := h.logs.ListLogs(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}

	retried := 0
	traceIDs := make([]string, 0, len(resp.Data))
	for _, log := range resp.Data {
		if log.TriggerType == models.TriggerSchedule {
			continue
		}
		task := models.DeliveryTask{
			TraceID: log.TraceID,
			Event: models.Event{
				ID:         log.EventID,
				OrgID:      log.OrgID,
				Type:       log.EventType,
				Payload:    log.EventPayload,
				ReceivedAt: log.StartedAt,
			},
			IntegrationID: log.IntegrationID,
			Attempt:       log.AttemptCount,
			Trigger:       models.TriggerManual,
			ActionIndex:   log.ActionIndex,
		}
		if err := h.delivery.Publish(c.Request.Context(), task); err != nil {
			AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
			return
		}
		retried++
		traceIDs = append(traceIDs, log.TraceID)
	}

	h.logger.Ctx(c.Request.Context()).Info("bulk retry enqueued",
		zap.Int64("org_id", orgID),
		zap.Int("count", retried))
	c.JSON(http.StatusAccepted, gin.H{"retried": retried, "trace_ids": traceIDs})
}

func (h *LogHandlers) Stats(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	req := driver.StatsRequest{
		OrgID:         orgID,
		IntegrationID: c.Query("integration_id"),
	}
	if since, ok := queryTime(c, "since"); ok {
		req.TimeFilter.GTE = &since
	}

	stats, err := h.logs.Stats(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *LogHandlers) retrieveLog(c *gin.Context) (*models.ExecutionLog, bool) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return nil, false
	}

	log, err := h.logs.RetrieveLog(c.Request.Context(), orgID, c.Param("traceID"))
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return nil, false
	}
	if log == nil {
		AbortWithError(c, http.StatusNotFound, NewErrNotFound("execution log"))
		return nil, false
	}
	return log, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func queryTime(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}
