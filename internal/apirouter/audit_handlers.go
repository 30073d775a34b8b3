package apirouter

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/audit"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

type AuditHandlers struct {
	logger *logging.Logger
	audits audit.Store
}

func NewAuditHandlers(logger *logging.Logger, audits audit.Store) *AuditHandlers {
	return &AuditHandlers{logger: logger, audits: audits}
}

func (h *AuditHandlers) List(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	req := audit.ListRequest{
		OrgID:     orgID,
		EventType: c.Query("event_type"),
		Limit:     queryInt(c, "limit", defaultListLimit),
	}
	if status := c.Query("status"); status != "" {
		req.Status = models.AuditStatus(status)
	}
	if since, ok := queryTime(c, "since"); ok {
		req.Since = &since
	}

	audits, err := h.audits.ListAudits(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.JSON(http.StatusOK, audits)
}

func (h *AuditHandlers) Retrieve(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	record, err := h.audits.RetrieveAudit(c.Request.Context(), c.Param("eventID"))
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	if record == nil || record.OrgID != orgID {
		AbortWithError(c, http.StatusNotFound, NewErrNotFound("audit record"))
		return
	}
	c.JSON(http.StatusOK, record)
}

// RetrieveCheckpoint exposes a source's high-water mark and gap list.
// Checkpoints are global (org 0) for pull sources.
func (h *AuditHandlers) RetrieveCheckpoint(c *gin.Context) {
	kind := models.SourceKind(c.Param("kind"))
	name := c.Param("name")

	checkpoint, err := h.audits.GetCheckpoint(c.Request.Context(), kind, name, 0)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.JSON(http.StatusOK, checkpoint)
}
