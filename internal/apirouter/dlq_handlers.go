package apirouter

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/dlq"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/idgen"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

type DLQHandlers struct {
	logger   *logging.Logger
	store    dlq.Store
	delivery Publisher
}

func NewDLQHandlers(logger *logging.Logger, store dlq.Store, delivery Publisher) *DLQHandlers {
	return &DLQHandlers{logger: logger, store: store, delivery: delivery}
}

func (h *DLQHandlers) List(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	req := dlq.ListRequest{
		OrgID:         orgID,
		IntegrationID: c.Query("integration_id"),
		Limit:         queryInt(c, "limit", defaultListLimit),
	}
	if status := c.Query("status"); status != "" {
		req.Status = models.DLQStatus(status)
	}

	entries, err := h.store.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.JSON(http.StatusOK, entries)
}

type resolveRequest struct {
	Note string `json:"note"`
}

func (h *DLQHandlers) Resolve(c *gin.Context) {
	entry, ok := h.retrieveEntry(c)
	if !ok {
		return
	}

	var req resolveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, http.StatusBadRequest, NewErrBadRequest(err))
			return
		}
	}

	if err := h.store.UpdateStatus(c.Request.Context(), entry.ID, models.DLQResolved, req.Note); err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// Abandon marks an entry as not worth replaying. Resolved entries
// keep their terminal state.
func (h *DLQHandlers) Abandon(c *gin.Context) {
	entry, ok := h.retrieveEntry(c)
	if !ok {
		return
	}
	if entry.Status == models.DLQResolved {
		AbortWithError(c, http.StatusConflict, ErrorResponse{Message: "entry already resolved"})
		return
	}

	var req resolveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, http.StatusBadRequest, NewErrBadRequest(err))
			return
		}
	}

	if err := h.store.UpdateStatus(c.Request.Context(), entry.ID, models.DLQAbandoned, req.Note); err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// Replay pushes a dead-lettered delivery back through the pipeline on a
// fresh trace.
func (h *DLQHandlers) Replay(c *gin.Context) {
	entry, ok := h.retrieveEntry(c)
	if !ok {
		return
	}
	if entry.Status == models.DLQResolved {
		AbortWithError(c, http.StatusConflict, ErrorResponse{Message: "entry already resolved"})
		return
	}

	traceID := idgen.Trace()
	task := models.DeliveryTask{
		TraceID: traceID,
		Event: models.Event{
			ID:      "replay-" + entry.ID,
			OrgID:   entry.OrgID,
			Payload: entry.Payload,
		},
		IntegrationID: entry.IntegrationID,
		Trigger:       models.TriggerReplay,
		ActionIndex:   entry.ActionIndex,
	}
	if err := h.delivery.Publish(c.Request.Context(), task); err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	if err := h.store.UpdateStatus(c.Request.Context(), entry.ID, models.DLQRetrying, "replayed"); err != nil {
		h.logger.Ctx(c.Request.Context()).Warn("failed to mark dead-letter entry as retrying",
			zap.String("entry_id", entry.ID),
			zap.Error(err))
	}

	c.JSON(http.StatusAccepted, gin.H{"trace_id": traceID})
}

func (h *DLQHandlers) retrieveEntry(c *gin.Context) (*models.DLQEntry, bool) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return nil, false
	}

	entry, err := h.store.Retrieve(c.Request.Context(), c.Param("entryID"))
	if err != nil {
		if errors.Is(err, dlq.ErrEntryNotFound) {
			AbortWithError(c, http.StatusNotFound, NewErrNotFound("dead-letter entry"))
			return nil, false
		}
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return nil, false
	}
	if entry.OrgID != orgID {
		AbortWithError(c, http.StatusNotFound, NewErrNotFound("dead-letter entry"))
		return nil, false
	}
	return entry, true
}
