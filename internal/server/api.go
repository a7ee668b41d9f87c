package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/config"
	"github.com/aimerfeng/DomainDesk/internal/deal"
	apierrors "github.com/aimerfeng/DomainDesk/internal/errors"
	"github.com/aimerfeng/DomainDesk/internal/flags"
	"github.com/aimerfeng/DomainDesk/internal/inquiry"
	"github.com/aimerfeng/DomainDesk/internal/logging"
	"github.com/aimerfeng/DomainDesk/internal/messaging"
	"github.com/aimerfeng/DomainDesk/internal/middleware"
	"github.com/aimerfeng/DomainDesk/internal/models"
	"github.com/aimerfeng/DomainDesk/internal/moderation"
	"github.com/aimerfeng/DomainDesk/internal/monitoring"
	"github.com/aimerfeng/DomainDesk/internal/store"
	"github.com/gin-gonic/gin"
)

// IdempotencyHeader carries the client-chosen key for submit and send
const IdempotencyHeader = "Idempotency-Key"

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Services bundles the core the API exposes
type Services struct {
	Store      store.Store
	Flags      *flags.Registry
	Inquiries  *inquiry.Service
	Messages   *messaging.Service
	Deals      *deal.Service
	Projection *moderation.Projection
	// Refresher is optional; its status is reported on the stats endpoint
	Refresher *moderation.Refresher
	// HealthChecks are probed by /health next to the store
	HealthChecks map[string]HealthCheck
}

// APIServer represents the main API server
type APIServer struct {
	config           *config.Config
	router           *gin.Engine
	svc              Services
	jwtAuthenticator *middleware.JWTAuthenticator
}

// NewAPIServer creates a new API server instance
func NewAPIServer(cfg *config.Config, svc Services) *APIServer {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:           cfg,
		router:           router,
		svc:              svc,
		jwtAuthenticator: middleware.NewJWTAuthenticator(&cfg.JWT),
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	v1.Use(s.jwtAuthenticator.JWTAuth())
	{
		v1.GET("/flags/:id", s.handleResolveFlag)

		inquiries := v1.Group("/inquiries")
		{
			inquiries.POST("", s.handleSubmitInquiry)
			inquiries.GET("", s.handleListInquiries)
			inquiries.GET("/:id", s.handleGetInquiry)
			inquiries.GET("/:id/history", s.handleInquiryHistory)
			inquiries.POST("/:id/resubmit", s.handleResubmitInquiry)
			inquiries.POST("/:id/close", s.handleCloseInquiry)
			inquiries.GET("/:id/messages", s.handleThread)
			inquiries.POST("/:id/messages", s.handleSendMessage)
			inquiries.POST("/:id/deal", s.handleConvertDeal)
			inquiries.GET("/:id/deal", s.handleGetDeal)
		}

		v1.POST("/messages/:id/report", s.handleReportMessage)

		admin := v1.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.GET("/moderation/queue", s.handleModerationQueue)
			admin.GET("/stats", s.handleStats)
			admin.GET("/flags", s.handleListFlags)
			admin.POST("/inquiries/:id/decision", s.handleDecideInquiry)
			admin.GET("/inquiries/:id/decisions", s.handleListDecisions)
			admin.POST("/messages/:id/approve", s.handleApproveMessage)
			admin.POST("/messages/:id/reject", s.handleRejectMessage)
			admin.POST("/reports/:id/resolve", s.handleResolveReport)
		}
	}
}

// healthCheck pings the store and every registered dependency
func (s *APIServer) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	probe := func(name string, check HealthCheck) {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	probe("store", s.svc.Store.Ping)
	for name, check := range s.svc.HealthChecks {
		probe(name, check)
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": s.config.App.Name,
		"checks":  checks,
	})
}

// actor returns the authenticated caller or writes a 401
func actor(c *gin.Context) (models.Actor, bool) {
	a, ok := middleware.GetActorFromContext(c)
	if !ok {
		respondAPIError(c, apierrors.ErrInvalidCredentialsError)
	}
	return a, ok
}

// respondError maps a core error onto the HTTP envelope. Unexpected errors are
// logged and reported as a generic internal error.
func respondError(c *gin.Context, err error) {
	apiErr := apierrors.ToAPIError(err)
	if apierrors.IsServerError(apiErr) {
		logging.LogError(err, middleware.GetRequestIDFromContext(c), "api", c.FullPath())
	}
	respondAPIError(c, apiErr)
}

// respondAPIError sends a standardized error response
func respondAPIError(c *gin.Context, err *apierrors.APIError) {
	c.JSON(err.HTTPStatus, apierrors.ErrorResponse{
		Error:     *err,
		RequestID: middleware.GetRequestIDFromContext(c),
	})
}

// bindJSON binds the body and writes a validation error on failure
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondAPIError(c, apierrors.NewValidationError(err.Error()))
		return false
	}
	return true
}
