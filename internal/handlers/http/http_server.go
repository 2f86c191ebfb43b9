package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fraudScoringApp/internal/app/dto"
	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
	"fraudScoringApp/internal/domain/useCases"
	"fraudScoringApp/internal/health"
	"fraudScoringApp/internal/lib/logger"
	"fraudScoringApp/internal/lib/logger/sl"
	"fraudScoringApp/internal/metrics"
)

const (
	maxBodyBytes     = 1 << 20
	defaultPeekCount = 10
	maxPeekCount     = 100
)

// Dependencies are the collaborators behind the routes. Everything except
// Ingestor and Health may be nil; the matching routes then answer 503.
type Dependencies struct {
	Ingestor       useCases.Ingestor
	Decisions      repository.DecisionCache
	Stats          useCases.StatisticsService
	Thresholds     useCases.ThresholdProvider
	ThresholdAdmin repository.ThresholdAdmin
	Queue          repository.TransactionQueue
	QueueName      string
	Broadcaster    useCases.Broadcaster
	Health         *health.Registry
	AdminSecret    string
}

// Server represents an HTTP server with all routes configured
type Server struct {
	deps   Dependencies
	router *gin.Engine
	server *http.Server
	log    *slog.Logger
}

// NewServer creates a new HTTP server with configured routes
func NewServer(addr string, deps Dependencies, log *slog.Logger) *Server {
	router := gin.New()

	s := &Server{
		deps:   deps,
		router: router,
		log:    log.With(sl.Component("http")),
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	s.setupMiddleware()
	s.registerRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.L(c.Request.Context()).Error("panic recovered",
			slog.Any("error", recovered),
			slog.String("path", c.Request.URL.Path),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestContext())
	s.router.Use(s.requestLogger())
}

// requestContext attaches the request id and the server logger to the
// request context.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := logger.WithLogger(c.Request.Context(), s.log.With(slog.String("request_id", requestID)))
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		logger.L(c.Request.Context()).Log(c.Request.Context(), level, "request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
		)
	}
}

// registerRoutes configures all HTTP routes
func (s *Server) registerRoutes() {
	s.router.POST("/transactions", s.handleSubmit)
	s.router.POST("/post", s.handleSubmit)
	s.router.GET("/transactions/:correlation_id/decision", s.handleDecision)

	s.router.GET("/stats", s.handleStats)
	s.router.GET("/stats/:transaction_type", s.handleStatsByType)

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", metrics.Handler())

	if s.deps.Broadcaster != nil {
		s.router.GET("/ws", gin.WrapF(s.deps.Broadcaster.Handler()))
	}

	admin := s.router.Group("", s.requireAdmin())
	admin.GET("/admin/threshold", s.handleGetThreshold)
	admin.PUT("/admin/threshold", s.handleSetThreshold)
	admin.GET("/queue", s.handleQueue)
	admin.DELETE("/queue", s.handleClearQueue)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// requireAdmin checks X-Admin-Secret. An empty configured secret disables
// the admin routes.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := s.deps.AdminSecret
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_disabled"})
			return
		}
		given := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleSubmit(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var raw model.RawTransaction
	if err := c.ShouldBindJSON(&raw); err != nil {
		if tooLarge(err) {
			payloadTooLarge(c)
			return
		}
		var verr *model.ValidationError
		if errors.As(dto.TypeError(err), &verr) {
			c.JSON(http.StatusUnprocessableEntity, dto.NewRejectedResponse(verr))
			return
		}
		msg := "malformed JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": msg})
		return
	}

	accepted, err := s.deps.Ingestor.Accept(c.Request.Context(), &raw)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, dto.NewRejectedResponse(verr))
			return
		}
		logger.L(c.Request.Context()).Error("accept failed", sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusAccepted, dto.NewAcceptedResponse(accepted))
}

func (s *Server) handleDecision(c *gin.Context) {
	if s.deps.Decisions == nil {
		unavailable(c, "decision cache")
		return
	}

	event, err := s.deps.Decisions.GetDecision(c.Request.Context(), c.Param("correlation_id"))
	if errors.Is(err, model.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown or still pending"})
		return
	}
	if err != nil {
		logger.L(c.Request.Context()).Error("decision lookup failed", sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, dto.FromDecisionEvent(event))
}

func (s *Server) handleStats(c *gin.Context) {
	if s.deps.Stats == nil {
		unavailable(c, "statistics")
		return
	}
	stats, err := s.deps.Stats.GetAllStatistics(c.Request.Context())
	if err != nil {
		logger.L(c.Request.Context()).Error("failed to get stats", sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleStatsByType(c *gin.Context) {
	if s.deps.Stats == nil {
		unavailable(c, "statistics")
		return
	}
	txType := model.TransactionType(c.Param("transaction_type"))
	if !txType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "unknown transaction type"})
		return
	}
	stats, err := s.deps.Stats.GetStatistics(c.Request.Context(), txType)
	if err != nil {
		logger.L(c.Request.Context()).Error("failed to get stats", sl.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if stats == nil {
		stats = &model.Statistics{TransactionType: txType}
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleHealth(c *gin.Context) {
	healthy, checks := s.deps.Health.CheckAll(c.Request.Context())

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleGetThreshold(c *gin.Context) {
	if s.deps.ThresholdAdmin == nil {
		unavailable(c, "metadata store")
		return
	}
	cfg, err := s.deps.ThresholdAdmin.GetConfig(c.Request.Context())
	if err != nil {
		logger.L(c.Request.Context()).Error("threshold read failed", sl.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "threshold_unavailable"})
		return
	}
	c.JSON(http.StatusOK, s.thresholdResponse(cfg))
}

func (s *Server) handleSetThreshold(c *gin.Context) {
	if s.deps.ThresholdAdmin == nil {
		unavailable(c, "metadata store")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req dto.ThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Threshold == nil {
		if tooLarge(err) {
			payloadTooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "body must be {\"threshold\": number}"})
		return
	}

	ctx := c.Request.Context()
	err := (model.ThresholdConfig{Threshold: *req.Threshold}).Validate()
	if err == nil {
		err = s.deps.ThresholdAdmin.SetThreshold(ctx, *req.Threshold)
	}
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, dto.NewRejectedResponse(verr))
			return
		}
		if errors.Is(err, model.ErrValidation) {
			c.JSON(http.StatusUnprocessableEntity, dto.NewRejectedResponse(&model.ValidationError{
				Errors: []model.FieldError{{Field: "threshold", Message: "must be between 0 and 1"}},
			}))
			return
		}
		logger.L(ctx).Error("threshold update failed", sl.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "threshold_unavailable"})
		return
	}
	logger.L(ctx).Info("threshold updated by admin", slog.Float64("threshold", *req.Threshold))

	// Serves as the on-demand trigger for this process's provider.
	if s.deps.Thresholds != nil {
		s.deps.Thresholds.Refresh(ctx)
	}

	cfg, err := s.deps.ThresholdAdmin.GetConfig(ctx)
	if err != nil {
		cfg = &model.ThresholdConfig{Threshold: *req.Threshold, UpdatedAt: time.Now().UTC()}
	}
	c.JSON(http.StatusOK, s.thresholdResponse(cfg))
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func payloadTooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"error":   "payload_too_large",
		"message": "request body exceeds " + strconv.Itoa(maxBodyBytes) + " bytes",
	})
}

func (s *Server) thresholdResponse(cfg *model.ThresholdConfig) *dto.ThresholdResponse {
	resp := &dto.ThresholdResponse{Threshold: cfg.Threshold, UpdatedAt: cfg.UpdatedAt, Cached: cfg.Threshold}
	if s.deps.Thresholds != nil {
		resp.Cached = s.deps.Thresholds.Current()
	}
	return resp
}

func (s *Server) handleQueue(c *gin.Context) {
	if s.deps.Queue == nil {
		unavailable(c, "queue")
		return
	}

	n := defaultPeekCount
	if v := c.Query("peek"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "peek must be a non-negative integer"})
			return
		}
		n = min(parsed, maxPeekCount)
	}

	ctx := c.Request.Context()
	length, err := s.deps.Queue.Length(ctx)
	if err != nil {
		logger.L(ctx).Error("queue length failed", sl.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "queue_unavailable"})
		return
	}
	oldest, err := s.deps.Queue.Peek(ctx, n)
	if err != nil {
		logger.L(ctx).Error("queue peek failed", sl.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "queue_unavailable"})
		return
	}

	c.JSON(http.StatusOK, dto.QueueResponse{Name: s.deps.QueueName, Length: length, Oldest: oldest})
}

func (s *Server) handleClearQueue(c *gin.Context) {
	if s.deps.Queue == nil {
		unavailable(c, "queue")
		return
	}
	if err := s.deps.Queue.Clear(c.Request.Context()); err != nil {
		logger.L(c.Request.Context()).Error("queue clear failed", sl.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "queue_unavailable"})
		return
	}
	logger.L(c.Request.Context()).Warn("queue cleared by admin")
	c.Status(http.StatusNoContent)
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": what + " is not configured"})
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	s.log.Info("http server listening", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
