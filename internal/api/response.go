package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"listing-wizard/internal/listing"
	"listing-wizard/internal/seller"
)

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"code": 0, "message": "ok", "data": data})
}

func fail(c *gin.Context, status int, message string, data any) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": message, "data": data})
}

// respondError maps service errors onto HTTP statuses. Messages meant for
// the seller are passed through unchanged.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var ve *listing.ValidationError
	var se *listing.SubmitError

	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusUnprocessableEntity, ve.Message, gin.H{"field": ve.Field})
	case errors.Is(err, listing.ErrUnknownVehicleType):
		fail(c, http.StatusUnprocessableEntity, err.Error(), gin.H{"field": "vehicle_type", "restart_step": 1})
	case errors.Is(err, seller.ErrSessionNotFound):
		fail(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, seller.ErrInvalidVehicleType),
		errors.Is(err, seller.ErrInvalidStep),
		errors.Is(err, seller.ErrInvalidCoordinates):
		fail(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, seller.ErrSubmissionInFlight),
		errors.Is(err, seller.ErrAlreadyPublished):
		fail(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, seller.ErrRateLimited):
		fail(c, http.StatusTooManyRequests, err.Error(), nil)
	case errors.As(err, &se):
		fail(c, http.StatusBadGateway, se.Message, nil)
	default:
		logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal error", nil)
	}
}
