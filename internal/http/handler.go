package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gate-sentinel/internal/config"
	"gate-sentinel/internal/domain/gate"
	"gate-sentinel/internal/service"
)

type Handler struct {
	engine    *service.Engine
	ledger    *service.Ledger
	sessions  *service.SessionManager
	occupancy *service.OccupancyLog
	gates     *service.GateService
	shift     *service.ShiftRunner
	config    *config.Config
	log       zerolog.Logger
}

func NewHandler(
	engine *service.Engine,
	ledger *service.Ledger,
	sessions *service.SessionManager,
	occupancy *service.OccupancyLog,
	gates *service.GateService,
	shift *service.ShiftRunner,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		engine:    engine,
		ledger:    ledger,
		sessions:  sessions,
		occupancy: occupancy,
		gates:     gates,
		shift:     shift,
		config:    cfg,
		log:       log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/events", h.ingestTrackEvent)
		public.GET("/counters", h.getCounters)
		public.GET("/counters/replay", h.replayCounters)
		public.GET("/counter-events", h.listCounterEvents)
		public.GET("/sessions", h.listSessions)
		public.GET("/occupancy/people", h.listPersonSessions)
		public.GET("/occupancy/vehicles", h.listVehicleSessions)
		public.GET("/attributions", h.listAttributions)
		public.GET("/gate", h.getGate)
		public.GET("/alerts", h.listAlerts)
		public.GET("/camera-shift", h.getShiftStatus)
		public.GET("/camera-shift/events", h.listShiftEvents)
	}

	// State-mutating commands
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/gate/open", h.setGate(false))
		protected.POST("/gate/close", h.setGate(true))
		protected.POST("/camera-shift/reset", h.resetShiftBaseline)
	}
}

// ingestTrackEvent is the HTTP twin of the MQTT feed: one per-frame
// tracker observation.
func (h *Handler) ingestTrackEvent(c *gin.Context) {
	var payload gate.TrackEventPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if payload.CameraID == "" {
		payload.CameraID = h.config.Camera.ID
	}

	result, err := h.engine.Process(c.Request.Context(), payload)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse(result))
}

func (h *Handler) getCounters(c *gin.Context) {
	counters, err := h.ledger.Counters(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(counters))
}

// replayCounters recomputes both counters from the event ledger and
// reports them next to the materialized values so drift is visible.
func (h *Handler) replayCounters(c *gin.Context) {
	ctx := c.Request.Context()
	counters, err := h.ledger.Counters(ctx)
	if err != nil {
		h.handleError(c, err)
		return
	}
	people, err := h.ledger.Replay(ctx, gate.LabelPerson)
	if err != nil {
		h.handleError(c, err)
		return
	}
	vehicles, err := h.ledger.Replay(ctx, gate.LabelVehicle)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{
		"materialized": counters,
		"replayed": gin.H{
			"people_count":  people,
			"vehicle_count": vehicles,
		},
		"consistent": people == counters.PeopleCount && vehicles == counters.VehicleCount,
	}))
}

func (h *Handler) listCounterEvents(c *gin.Context) {
	var label *string
	if l := strings.TrimSpace(c.Query("label")); l != "" {
		label = &l
	}

	from, err := parseTimeParam(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid from timestamp"))
		return
	}
	to, err := parseTimeParam(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid to timestamp"))
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	events, err := h.ledger.Events(c.Request.Context(), label, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.sessions.ActiveSessions(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(sessions))
}

func (h *Handler) listPersonSessions(c *gin.Context) {
	sessions, err := h.occupancy.PersonSessions(c.Request.Context(), queryLimit(c, 100))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(sessions))
}

func (h *Handler) listVehicleSessions(c *gin.Context) {
	sessions, err := h.occupancy.VehicleSessions(c.Request.Context(), queryLimit(c, 100))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(sessions))
}

func (h *Handler) listAttributions(c *gin.Context) {
	attributions, err := h.sessions.Attributions(c.Request.Context(), queryLimit(c, 100))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(attributions))
}

func (h *Handler) getGate(c *gin.Context) {
	state, err := h.gates.Status(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(state))
}

func (h *Handler) setGate(closed bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.gates.SetGate(c.Request.Context(), closed, gate.UpdatedByUserCommand); err != nil {
			h.handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "gate_closed": closed})
	}
}

func (h *Handler) listAlerts(c *gin.Context) {
	alerts, err := h.gates.Alerts(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(alerts))
}

func (h *Handler) getShiftStatus(c *gin.Context) {
	if h.shift == nil {
		c.JSON(http.StatusOK, successResponse(gin.H{"enabled": false}))
		return
	}
	status, err := h.shift.Status(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(status))
}

func (h *Handler) listShiftEvents(c *gin.Context) {
	if h.shift == nil {
		c.JSON(http.StatusOK, successResponse([]struct{}{}))
		return
	}
	events, err := h.shift.RecentEvents(c.Request.Context(), queryLimit(c, 100))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) resetShiftBaseline(c *gin.Context) {
	if h.shift == nil {
		c.JSON(http.StatusConflict, errorResponse("camera shift detection is disabled"))
		return
	}
	h.shift.ResetBaseline()
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorResponse(err.Error()))
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

func queryLimit(c *gin.Context, fallback int) int {
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func parseTimeParam(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
