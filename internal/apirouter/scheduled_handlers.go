package apirouter

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/scheduler"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/scheduler/schedstore"
)

type ScheduledHandlers struct {
	logger    *logging.Logger
	store     schedstore.Store
	scheduler *scheduler.Scheduler
}

func NewScheduledHandlers(logger *logging.Logger, store schedstore.Store, sched *scheduler.Scheduler) *ScheduledHandlers {
	return &ScheduledHandlers{logger: logger, store: store, scheduler: sched}
}

func (h *ScheduledHandlers) List(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	req := schedstore.ListRequest{
		OrgID:         orgID,
		IntegrationID: c.Query("integration_id"),
		Limit:         queryInt(c, "limit", defaultListLimit),
	}
	if status := c.Query("status"); status != "" {
		req.Status = models.ScheduleStatus(status)
	}

	entries, err := h.store.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *ScheduledHandlers) Retrieve(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	entry, err := h.store.Retrieve(c.Request.Context(), c.Param("entryID"))
	if err != nil {
		if errors.Is(err, schedstore.ErrEntryNotFound) {
			AbortWithError(c, http.StatusNotFound, NewErrNotFound("scheduled entry"))
			return
		}
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	if entry.OrgID != orgID {
		AbortWithError(c, http.StatusNotFound, NewErrNotFound("scheduled entry"))
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *ScheduledHandlers) Cancel(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	err := h.store.Cancel(c.Request.Context(), orgID, c.Param("entryID"))
	if err != nil {
		if errors.Is(err, schedstore.ErrEntryNotFound) {
			AbortWithError(c, http.StatusNotFound, NewErrNotFound("scheduled entry"))
			return
		}
		if errors.Is(err, schedstore.ErrNotCancellable) {
			AbortWithError(c, http.StatusConflict, ErrorResponse{Message: "entry is no longer cancellable"})
			return
		}
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.Status(http.StatusNoContent)
}

type cancelByMatchRequest struct {
	PatientRID  int64     `json:"patientRid" binding:"required"`
	ScheduledAt time.Time `json:"scheduledDateTime" binding:"required"`
}

func (h *ScheduledHandlers) CancelByMatch(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	var req cancelByMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, NewErrBadRequest(err))
		return
	}

	cancelled, err := h.scheduler.CancelByMatch(c.Request.Context(), orgID, models.CancellationMatch{
		PatientRID:  req.PatientRID,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}

	h.logger.Ctx(c.Request.Context()).Info("cancel by match requested",
		zap.Int64("org_id", orgID),
		zap.Int64("patient_rid", req.PatientRID),
		zap.Int("cancelled", cancelled))
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}
