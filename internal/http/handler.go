package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
	"parking-service/internal/service"
)

type Handler struct {
	ingest    *service.IngestService
	lifecycle *service.Lifecycle
	query     *service.QueryService
	log       zerolog.Logger
}

func NewHandler(
	ingest *service.IngestService,
	lifecycle *service.Lifecycle,
	query *service.QueryService,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		ingest:    ingest,
		lifecycle: lifecycle,
		query:     query,
		log:       log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", h.healthz)

	// Sensor endpoints
	r.POST("/post", h.legacyOccupancy)
	public := r.Group("/api/v1")
	{
		public.POST("/occupancy", h.createOccupancyEvent)
	}

	// Ticket and review administration
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/tickets", h.listTickets)
		protected.GET("/tickets/:id", h.getTicket)
		protected.POST("/tickets/:id/reconcile", h.reconcileTicket)
		protected.GET("/manual-reviews", h.listReviews)
		protected.GET("/manual-reviews/:id/image", h.reviewImage)
		protected.POST("/manual-reviews/:id/correct", h.correctReview)
		protected.POST("/manual-reviews/:id/dismiss", h.dismissReview)
	}
}

func (h *Handler) healthz(c *gin.Context) {
	if err := h.query.Ping(c.Request.Context()); err != nil {
		h.log.Error().Err(err).Msg("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) createOccupancyEvent(c *gin.Context) {
	var ev parking.OccupancyEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	out, err := h.ingest.Process(c.Request.Context(), ev)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(out))
}

func (h *Handler) listTickets(c *gin.Context) {
	filter := parking.TicketFilter{
		OpenOnly:    queryBool(c, "open"),
		MissingTrip: queryBool(c, "missing_trip"),
		Limit:       queryInt(c, "limit", 50),
		Offset:      queryInt(c, "offset", 0),
	}
	if v := strings.TrimSpace(c.Query("camera_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid camera_id"))
			return
		}
		filter.CameraID = &id
	}
	if v := strings.TrimSpace(c.Query("spot_number")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid spot_number"))
			return
		}
		filter.SpotNumber = &n
	}

	tickets, err := h.query.ListTickets(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(tickets))
}

func (h *Handler) getTicket(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ticket, err := h.query.GetTicket(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(ticket))
}

func (h *Handler) reconcileTicket(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ticket, err := h.lifecycle.ReconcileTrip(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(ticket))
}

func (h *Handler) listReviews(c *gin.Context) {
	status := parking.ReviewStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	reviews, err := h.query.ListReviews(
		c.Request.Context(),
		status,
		queryInt(c, "limit", 50),
		queryInt(c, "offset", 0),
	)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(reviews))
}

func (h *Handler) reviewImage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	data, err := h.query.ReviewImage(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *Handler) correctReview(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body service.Correction
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	ticket, err := h.lifecycle.CorrectReview(c.Request.Context(), id, body)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(ticket))
}

func (h *Handler) dismissReview(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ticket, err := h.lifecycle.DismissReview(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(ticket))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, parking.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, parking.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, parking.ErrOverloaded), errors.Is(err, parking.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, errorResponse(err.Error()))
	case errors.Is(err, parking.ErrGatewayUnavailable):
		h.log.Warn().Err(err).Str("path", c.FullPath()).Msg("billing unavailable")
		c.JSON(http.StatusBadGateway, errorResponse("billing unavailable"))
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, errorResponse("request timed out; processing continues"))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
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

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse("invalid id"))
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}
