// Package httpapi implements the Hub's HTTP surface (spec §4.4):
// pair request/confirm/status and liveness, plus a static asset group
// for the phone web UI. Grounded on the teacher's gin.Engine wiring in
// cmd/v1/session/main.go and its internal/v1/health handler style.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/hub/metrics"
	"github.com/cliremote/cliremote/internal/hub/pairing"
	"github.com/cliremote/cliremote/internal/hub/room"
	"github.com/cliremote/cliremote/internal/logging"
)

// Dispatcher is the subset of *dispatcher.Hub this package needs, kept
// as an interface so handler tests don't need a live websocket hub.
type Dispatcher interface {
	NotifyPaired(roomID, desktopDeviceID, phoneDeviceID string)
}

// Handler serves the pairing and health endpoints.
type Handler struct {
	Pending *pairing.Store
	Rooms   *room.Table
	Hub     Dispatcher
}

// New builds a Handler.
func New(pending *pairing.Store, rooms *room.Table, hub Dispatcher) *Handler {
	return &Handler{Pending: pending, Rooms: rooms, Hub: hub}
}

// RegisterRoutes wires the Hub HTTP surface onto a gin engine.
// pairMiddleware, if non-empty, is applied to the /api/pair group
// (the rate limiter lives there; see internal/hub/ratelimit).
func (h *Handler) RegisterRoutes(r *gin.Engine, staticDir string, pairMiddleware ...gin.HandlerFunc) {
	r.GET("/health", h.Health)
	api := r.Group("/api/pair", pairMiddleware...)
	api.POST("/request", h.PairRequest)
	api.POST("/confirm", h.PairConfirm)
	api.GET("/status", h.PairStatus)

	if staticDir != "" {
		r.Static("/mobile", staticDir)
		r.StaticFile("/", staticDir+"/index.html")
	}
}

type pairRequestBody struct {
	DeviceID   string `json:"deviceId" binding:"required"`
	DeviceName string `json:"deviceName"`
	Role       string `json:"role" binding:"required"`
}

// PairRequest handles POST /api/pair/request.
func (h *Handler) PairRequest(c *gin.Context) {
	var body pairRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		metrics.PairAttemptsTotal.WithLabelValues("request", "bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "deviceId and role are required"})
		return
	}

	role := pairing.Role(body.Role)
	if role != pairing.RoleDesktop && role != pairing.RolePhone {
		metrics.PairAttemptsTotal.WithLabelValues("request", "bad_role").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "role must be desktop or phone"})
		return
	}

	pending, err := h.Pending.Request(body.DeviceID, role)
	if err != nil {
		metrics.PairAttemptsTotal.WithLabelValues("request", "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not allocate pair code"})
		return
	}

	metrics.PairAttemptsTotal.WithLabelValues("request", "ok").Inc()
	metrics.PendingPairsActive.Set(float64(h.Pending.Len()))
	logging.Info(c.Request.Context(), "pair code issued",
		zap.String("device_id", body.DeviceID),
		zap.String("role", string(role)),
		zap.String("code_prefix", logging.RedactCode(pairing.Canonical(pending.Code))),
	)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"code":      pairing.Canonical(pending.Code),
			"expiresAt": pending.ExpiresAt.Format(time.RFC3339),
		},
	})
}

type pairConfirmBody struct {
	Code       string `json:"code" binding:"required"`
	DeviceID   string `json:"deviceId" binding:"required"`
	DeviceName string `json:"deviceName"`
	Role       string `json:"role"`
}

// PairConfirm handles POST /api/pair/confirm. When Role is omitted the
// confirmer is always phone-role, matching the cloud variant's fixed
// semantics (spec §4.4); the embedded variant sends Role explicitly.
func (h *Handler) PairConfirm(c *gin.Context) {
	var body pairConfirmBody
	if err := c.ShouldBindJSON(&body); err != nil {
		metrics.PairAttemptsTotal.WithLabelValues("confirm", "bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "code and deviceId are required"})
		return
	}

	role := pairing.RolePhone
	if body.Role != "" {
		role = pairing.Role(body.Role)
	}

	pending, err := h.Pending.Confirm(body.Code, body.DeviceID, role)
	if err != nil {
		outcome, msg := confirmErrorMessage(err)
		metrics.PairAttemptsTotal.WithLabelValues("confirm", outcome).Inc()
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"success": false, "error": msg}})
		return
	}

	desktopID, phoneID := body.DeviceID, pending.InitiatorDeviceID
	if pending.InitiatorRole == pairing.RoleDesktop {
		desktopID, phoneID = pending.InitiatorDeviceID, body.DeviceID
	}

	r := h.Rooms.Create(desktopID, phoneID)
	metrics.PairAttemptsTotal.WithLabelValues("confirm", "ok").Inc()
	metrics.PendingPairsActive.Set(float64(h.Pending.Len()))
	metrics.RoomsActive.Set(float64(h.Rooms.Len()))

	if h.Hub != nil {
		h.Hub.NotifyPaired(r.ID, desktopID, phoneID)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"success": true, "roomId": r.ID}})
}

func confirmErrorMessage(err error) (outcome, message string) {
	switch err {
	case pairing.ErrNotFound:
		return "invalid_code", "invalid pair code"
	case pairing.ErrExpired:
		return "expired", "pair code expired"
	case pairing.ErrSameRole:
		return "same_role", "cannot pair same device types"
	default:
		return "error", err.Error()
	}
}

// PairStatus handles GET /api/pair/status?deviceId=... — an
// informational endpoint, not load-bearing (spec §4.4).
func (h *Handler) PairStatus(c *gin.Context) {
	deviceID := c.Query("deviceId")
	r, ok := h.Rooms.ByDevice(deviceID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"paired": false}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"paired": true, "roomId": r.ID}})
}

// Health is a bare liveness probe; the Hub has no required external
// dependency to check readiness against. The optional Redis bus
// (internal/hub/bus), when enabled, is only on the dispatcher's relay
// path for peers not held by this instance's registry — it does not
// gate liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
