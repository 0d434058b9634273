package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/dto"
	"github.com/himanshugvu/eventAdapter/internal/repository"
	"github.com/himanshugvu/eventAdapter/internal/service"
)

type Handler struct {
	statsService service.StatsServicer
	gatherer     prometheus.Gatherer
	router       *gin.Engine
	log          *zap.Logger
}

func NewHandler(statsService service.StatsServicer, gatherer prometheus.Gatherer, log *zap.Logger) *Handler {
	h := &Handler{
		statsService: statsService,
		gatherer:     gatherer,
		router:       gin.New(),
		log:          log,
	}

	h.router.Use(gin.Recovery())
	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)
	h.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := h.router.Group("/api")
	api.GET("/metrics/latency", h.getLatencyMetrics)
	api.GET("/metrics/summary", h.getSummary)
	api.GET("/events/:id", h.getEvent)
}

// healthCheck handles GET /health
func (h *Handler) healthCheck(c *gin.Context) {
	if err := h.statsService.Health(c.Request.Context()); err != nil {
		h.log.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, dto.HealthResponse{
			Status: "unavailable",
			Error:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
}

// getLatencyMetrics handles GET /api/metrics/latency
func (h *Handler) getLatencyMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.statsService.LatencyStats())
}

// getSummary handles GET /api/metrics/summary
func (h *Handler) getSummary(c *gin.Context) {
	response, err := h.statsService.Summary(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to build summary", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response)
}

// getEvent handles GET /api/events/:id
func (h *Handler) getEvent(c *gin.Context) {
	var req dto.GetEventRequest

	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	response, err := h.statsService.GetEvent(c.Request.Context(), req.ID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error:   "not_found",
			Message: "event " + req.ID + " not found",
		})
		return
	}
	if err != nil {
		h.log.Error("Failed to get event",
			zap.Error(err),
			zap.String("event_id", req.ID))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response)
}
