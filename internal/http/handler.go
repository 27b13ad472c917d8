package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"lpr-service/internal/config"
	"lpr-service/internal/domain/lpr"
	"lpr-service/internal/repository"
	"lpr-service/internal/service"
)

type DetectionService interface {
	ProcessWebhook(ctx context.Context, raw []byte) (*lpr.ProcessResult, error)
	FindDetections(ctx context.Context, q service.DetectionQuery) ([]repository.DetectionView, error)
	Cameras(ctx context.Context) ([]repository.CameraSummary, error)
	Stats(ctx context.Context, days int) ([]repository.DailyStats, error)
}

type ConnectionState interface {
	Connected() bool
}

type Handler struct {
	detections DetectionService
	nvr        ConnectionState
	config     *config.Config
	log        zerolog.Logger
	started    time.Time
}

// NewHandler builds the HTTP handler. nvr is nil when no UniFi Protect
// session is configured.
func NewHandler(
	detections DetectionService,
	nvr ConnectionState,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		detections: detections,
		nvr:        nvr,
		config:     cfg,
		log:        log,
		started:    time.Now(),
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protect posts to the bare URL it was given, so both paths are accepted.
	webhook := r.Group("/")
	webhook.Use(webhookSecret(h.config.Webhook.Secret, h.config.Webhook.SignatureHeader, h.log))
	{
		webhook.POST("/", h.receiveWebhook)
		webhook.POST("/api/v1/webhook", h.receiveWebhook)
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/detections", h.listDetections)
		protected.GET("/cameras", h.listCameras)
		protected.GET("/stats", h.stats)
	}
}

func (h *Handler) health(c *gin.Context) {
	nvr := "not_configured"
	if h.nvr != nil {
		nvr = "disconnected"
		if h.nvr.Connected() {
			nvr = "connected"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        h.config.Version,
		"environment":    h.config.Environment,
		"unifi_protect":  nvr,
		"thumbnails":     h.config.Thumbnails.Enabled,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

func (h *Handler) receiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.config.Webhook.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse("payload too large"))
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse("failed to read body"))
		return
	}

	result, err := h.detections.ProcessWebhook(c.Request.Context(), body)
	if err != nil {
		if errors.Is(err, service.ErrSinkWrite) {
			h.log.Error().Err(err).Msg("failed to store detections")
			c.JSON(http.StatusInternalServerError, errorResponse("failed to store detection"))
			return
		}
		h.handleError(c, err)
		return
	}

	status := "ok"
	if len(result.Plates) == 0 {
		status = "ignored"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"format":     result.Format,
		"plates":     result.Plates,
		"record_ids": result.RecordIDs,
	})
}

func (h *Handler) listDetections(c *gin.Context) {
	query := service.DetectionQuery{
		Plate:          strings.TrimSpace(c.Query("plate")),
		CameraID:       strings.TrimSpace(c.Query("camera_id")),
		CameraLocation: strings.TrimSpace(c.Query("camera_location")),
		From:           strings.TrimSpace(c.Query("from")),
		To:             strings.TrimSpace(c.Query("to")),
	}

	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			query.Limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			query.Offset = parsed
		}
	}

	detections, err := h.detections.FindDetections(c.Request.Context(), query)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(detections))
}

func (h *Handler) listCameras(c *gin.Context) {
	cameras, err := h.detections.Cameras(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(cameras))
}

func (h *Handler) stats(c *gin.Context) {
	days := 0
	if d := c.Query("days"); d != "" {
		parsed, err := parseInt(d)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("days must be a number"))
			return
		}
		days = parsed
	}

	stats, err := h.detections.Stats(c.Request.Context(), days)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(stats))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
