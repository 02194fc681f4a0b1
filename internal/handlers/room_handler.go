package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/primeestate/room-selection-backend/internal/database"
	"github.com/primeestate/room-selection-backend/internal/middleware"
	"github.com/primeestate/room-selection-backend/internal/models"
	"github.com/primeestate/room-selection-backend/internal/services"
)

// RoomHandler handles room browsing and selection endpoints
type RoomHandler struct {
	engine *services.AllocationService
	logger *logrus.Logger
}

// NewRoomHandler creates a new RoomHandler
func NewRoomHandler(engine *services.AllocationService, logger *logrus.Logger) *RoomHandler {
	return &RoomHandler{
		engine: engine,
		logger: logger,
	}
}

// ===========================================================================
// BROWSING ENDPOINTS
// ===========================================================================

// ListRooms returns rooms, optionally filtered by building, floor or status
// GET /api/v1/rooms?building=&floor=&status=
func (h *RoomHandler) ListRooms(c *gin.Context) {
	filter := database.RoomFilter{
		Building: c.Query("building"),
	}

	if raw := c.Query("floor"); raw != "" {
		floor, err := strconv.Atoi(raw)
		if err != nil || floor < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": "floor must be a positive integer",
				"code":    "VALIDATION_ERROR",
			})
			return
		}
		filter.Floor = floor
	}

	if raw := c.Query("status"); raw != "" {
		status := models.RoomStatus(raw)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": "status must be AVAILABLE, SELECTED or LOCKED",
				"code":    "VALIDATION_ERROR",
			})
			return
		}
		filter.Status = status
	}

	rooms, err := h.engine.ListRooms(filter)
	if err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"count": len(rooms),
	})
}

// GetRoom returns a single room
// GET /api/v1/rooms/:roomId
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.engine.GetRoom(c.Param("roomId"))
	if err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

// GetSnapshot returns the complete current state. Clients call this on
// connect and whenever the event stream signals a possible gap.
// GET /api/v1/snapshot
func (h *RoomHandler) GetSnapshot(c *gin.Context) {
	snapshot, err := h.engine.Snapshot()
	if err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// RandomAvailable suggests one claimable room at random
// GET /api/v1/rooms/random
func (h *RoomHandler) RandomAvailable(c *gin.Context) {
	room, err := h.engine.RandomAvailable()
	if err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

// ===========================================================================
// SELECTION ENDPOINTS
// ===========================================================================

// ClaimRoom selects a room for the authenticated user
// POST /api/v1/rooms/:roomId/claim
func (h *RoomHandler) ClaimRoom(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	room, err := h.engine.Claim(c.Param("roomId"), userCtx.UserID)
	if err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

// ReleaseRoom returns a room the authenticated user owns
// POST /api/v1/rooms/:roomId/release
func (h *RoomHandler) ReleaseRoom(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	room, err := h.engine.Release(c.Param("roomId"), userCtx.UserID)
	if err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

// SetLock locks or unlocks a room (admin only). Locking a selected room
// evicts its occupant.
// PUT /api/v1/rooms/:roomId/lock
func (h *RoomHandler) SetLock(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req models.SetLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
			"code":    "VALIDATION_ERROR",
		})
		return
	}

	room, err := h.engine.SetLock(c.Param("roomId"), req.Locked, userCtx.UserID)
	if err != nil {
		respondEngineError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, room)
}
