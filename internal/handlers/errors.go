package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/primeestate/room-selection-backend/internal/services"
)

// respondEngineError maps allocation engine errors onto the HTTP error
// contract. Every error body carries {error, message, code}; validation
// failures additionally list the offending problems.
func respondEngineError(c *gin.Context, logger *logrus.Logger, err error) {
	var vErr *services.ValidationError
	if errors.As(err, &vErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "validation_failed",
			"message":  "The submitted data is invalid",
			"code":     "VALIDATION_ERROR",
			"problems": vErr.Problems,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "The requested resource does not exist",
			"code":    "NOT_FOUND",
		})
	case errors.Is(err, services.ErrQuotaExceeded):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "quota_exceeded",
			"message": "You have reached your selection limit",
			"code":    "QUOTA_EXCEEDED",
		})
	case errors.Is(err, services.ErrRoomTaken):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "room_unavailable",
			"message": "This room has already been selected by another customer",
			"code":    "ROOM_TAKEN",
		})
	case errors.Is(err, services.ErrRoomLocked):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "room_unavailable",
			"message": "This room is locked and not for sale",
			"code":    "ROOM_LOCKED",
		})
	case errors.Is(err, services.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_owner",
			"message": "You do not own this room",
			"code":    "NOT_OWNER",
		})
	case errors.Is(err, services.ErrNotAdmin):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Administrator access is required",
			"code":    "NOT_ADMIN",
		})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "The room changed concurrently, please retry",
			"code":    "CONFLICT",
		})
	default:
		logger.WithError(err).Error("Unhandled engine error")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
			"code":    "INTERNAL_ERROR",
		})
	}
}
