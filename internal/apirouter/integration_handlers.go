package apirouter

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/idgen"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/integrationstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

type IntegrationHandlers struct {
	logger       *logging.Logger
	integrations integrationstore.Store
}

func NewIntegrationHandlers(logger *logging.Logger, integrations integrationstore.Store) *IntegrationHandlers {
	return &IntegrationHandlers{logger: logger, integrations: integrations}
}

func (h *IntegrationHandlers) List(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	integrations, err := h.integrations.ListIntegrationsByOrg(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.JSON(http.StatusOK, integrations)
}

func (h *IntegrationHandlers) Retrieve(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	integration, err := h.integrations.RetrieveIntegration(c.Request.Context(), orgID, c.Param("integrationID"))
	if err != nil {
		if errors.Is(err, integrationstore.ErrIntegrationNotFound) || errors.Is(err, integrationstore.ErrIntegrationDeleted) {
			AbortWithError(c, http.StatusNotFound, NewErrNotFound("integration"))
			return
		}
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.JSON(http.StatusOK, integration)
}

func (h *IntegrationHandlers) Create(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	var integration models.Integration
	if err := c.ShouldBindJSON(&integration); err != nil {
		AbortWithError(c, http.StatusBadRequest, NewErrBadRequest(err))
		return
	}

	// The path owns tenancy; a mismatched body org is rejected rather
	// than silently rewritten.
	if integration.OrgID != 0 && integration.OrgID != orgID {
		AbortWithError(c, http.StatusBadRequest, ErrorResponse{Message: "org_id does not match path"})
		return
	}
	integration.OrgID = orgID
	if integration.ID == "" {
		integration.ID = idgen.Integration()
	}
	now := time.Now().UTC()
	integration.CreatedAt = now
	integration.UpdatedAt = now

	if err := integration.Validate(); err != nil {
		AbortWithError(c, http.StatusUnprocessableEntity, ErrorResponse{Message: err.Error()})
		return
	}

	if err := h.integrations.CreateIntegration(c.Request.Context(), integration); err != nil {
		if errors.Is(err, integrationstore.ErrDuplicateIntegration) {
			AbortWithError(c, http.StatusConflict, ErrorResponse{Message: err.Error()})
			return
		}
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.JSON(http.StatusCreated, integration)
}

func (h *IntegrationHandlers) Update(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}
	integrationID := c.Param("integrationID")

	existing, err := h.integrations.RetrieveIntegration(c.Request.Context(), orgID, integrationID)
	if err != nil {
		if errors.Is(err, integrationstore.ErrIntegrationNotFound) || errors.Is(err, integrationstore.ErrIntegrationDeleted) {
			AbortWithError(c, http.StatusNotFound, NewErrNotFound("integration"))
			return
		}
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}

	var integration models.Integration
	if err := c.ShouldBindJSON(&integration); err != nil {
		AbortWithError(c, http.StatusBadRequest, NewErrBadRequest(err))
		return
	}

	// OrgID is immutable post-create.
	if integration.OrgID != 0 && integration.OrgID != existing.OrgID {
		AbortWithError(c, http.StatusBadRequest, ErrorResponse{Message: "org_id is immutable"})
		return
	}
	integration.ID = integrationID
	integration.OrgID = existing.OrgID
	integration.CreatedAt = existing.CreatedAt
	integration.UpdatedAt = time.Now().UTC()

	if err := integration.Validate(); err != nil {
		AbortWithError(c, http.StatusUnprocessableEntity, ErrorResponse{Message: err.Error()})
		return
	}

	if err := h.integrations.UpsertIntegration(c.Request.Context(), integration); err != nil {
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.JSON(http.StatusOK, integration)
}

func (h *IntegrationHandlers) Delete(c *gin.Context) {
	orgID, ok := orgIDParam(c)
	if !ok {
		return
	}

	err := h.integrations.DeleteIntegration(c.Request.Context(), orgID, c.Param("integrationID"))
	if err != nil {
		if errors.Is(err, integrationstore.ErrIntegrationNotFound) {
			AbortWithError(c, http.StatusNotFound, NewErrNotFound("integration"))
			return
		}
		AbortWithError(c, http.StatusInternalServerError, NewErrInternalServer(err))
		return
	}
	c.Status(http.StatusNoContent)
}
