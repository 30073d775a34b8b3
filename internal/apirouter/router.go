package apirouter

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/audit"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/dlq"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/integrationstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logging"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/logstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/scheduler"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/scheduler/schedstore"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/sources/pushsource"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/version"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/worker"
)

type RouterConfig struct {
	ServiceName string
	APIKey      string
	GinMode     string
}

// NewRouter builds the admin HTTP surface plus the push ingestion
// endpoint. pushSource and health may be nil when the deployment runs
// without them.
func NewRouter(
	cfg RouterConfig,
	logger *logging.Logger,
	integrations integrationstore.Store,
	logStore logstore.LogStore,
	dlqStore dlq.Store,
	audits audit.Store,
	schedStore schedstore.Store,
	sched *scheduler.Scheduler,
	delivery Publisher,
	pushSource *pushsource.Source,
	health *worker.HealthTracker,
) http.Handler {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(cfg.GinMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlerMiddleware())

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		if health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Version()})
			return
		}
		status := health.Status()
		status["version"] = version.Version()
		code := http.StatusOK
		if !health.IsHealthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	api := r.Group("/api/v1")
	api.Use(APIKeyAuthMiddleware(cfg.APIKey))

	if pushSource != nil {
		api.POST("/events", pushSource.Handler())
	}

	integrationHandlers := NewIntegrationHandlers(logger, integrations)
	logHandlers := NewLogHandlers(logger, logStore, delivery)
	scheduledHandlers := NewScheduledHandlers(logger, schedStore, sched)
	dlqHandlers := NewDLQHandlers(logger, dlqStore, delivery)
	auditHandlers := NewAuditHandlers(logger, audits)

	org := api.Group("/orgs/:orgID")
	{
		org.GET("/integrations", integrationHandlers.List)
		org.POST("/integrations", integrationHandlers.Create)
		org.GET("/integrations/:integrationID", integrationHandlers.Retrieve)
		org.PUT("/integrations/:integrationID", integrationHandlers.Update)
		org.DELETE("/integrations/:integrationID", integrationHandlers.Delete)

		org.GET("/logs", logHandlers.List)
		org.GET("/logs/:traceID", logHandlers.Retrieve)
		org.GET("/logs/:traceID/attempts", logHandlers.ListAttempts)
		org.POST("/logs/:traceID/retry", logHandlers.Retry)
		org.POST("/logs/retry", logHandlers.BulkRetry)
		org.GET("/stats", logHandlers.Stats)

		org.GET("/scheduled", scheduledHandlers.List)
		org.GET("/scheduled/:entryID", scheduledHandlers.Retrieve)
		org.DELETE("/scheduled/:entryID", scheduledHandlers.Cancel)
		org.POST("/scheduled/cancel-by-match", scheduledHandlers.CancelByMatch)

		org.GET("/dlq", dlqHandlers.List)
		org.POST("/dlq/:entryID/resolve", dlqHandlers.Resolve)
		org.POST("/dlq/:entryID/abandon", dlqHandlers.Abandon)
		org.POST("/dlq/:entryID/replay", dlqHandlers.Replay)

		org.GET("/audits", auditHandlers.List)
		org.GET("/audits/:eventID", auditHandlers.Retrieve)
	}

	api.GET("/checkpoints/:kind/:name", auditHandlers.RetrieveCheckpoint)

	return r
}
