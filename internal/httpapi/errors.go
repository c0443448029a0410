package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/rental/pkg/rental"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code, message := mapToHTTPError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed",
			zap.String("path", ctx.FullPath()),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	var couponError *rental.CouponError
	if errors.As(err, &couponError) {
		ctx.JSON(status, gin.H{
			"valid": false,
			"error": gin.H{"code": code, "message": message},
		})
		return
	}
	ctx.JSON(status, errorResponse(code, message))
}

// mapToHTTPError picks the status, code and client-safe message for a domain error.
func mapToHTTPError(err error) (int, string, string) {
	var couponError *rental.CouponError
	switch {
	case errors.As(err, &couponError):
		return http.StatusUnprocessableEntity, string(couponError.Reason), couponError.Error()
	case errors.Is(err, rental.ErrUnauthorized):
		return http.StatusForbidden, "forbidden", "caller may not act on this booking"
	case errors.Is(err, rental.ErrNotFound):
		return http.StatusNotFound, "not_found", "booking not found"
	case errors.Is(err, rental.ErrInvalidState):
		return http.StatusConflict, "invalid_state", err.Error()
	case errors.Is(err, rental.ErrValidation),
		errors.Is(err, rental.ErrInvalidBookingID),
		errors.Is(err, rental.ErrInvalidUserID),
		errors.Is(err, rental.ErrInvalidCouponCode),
		errors.Is(err, rental.ErrInvalidAmountCents),
		errors.Is(err, rental.ErrInvalidCurrency):
		return http.StatusUnprocessableEntity, "validation_error", err.Error()
	case errors.Is(err, rental.ErrRetryable):
		return http.StatusServiceUnavailable, "retryable", "try again later"
	case errors.Is(err, rental.ErrProviderError):
		return http.StatusBadGateway, "provider_error", "payment provider request failed"
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
