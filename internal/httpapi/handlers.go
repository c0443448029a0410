package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/rental/internal/providers/mercadopago"
	"github.com/MarkoPoloResearchLab/rental/pkg/rental"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type httpHandler struct {
	logger         *zap.Logger
	services       Services
	requestTimeout time.Duration
}

type checkoutRequest struct {
	Provider string `json:"provider"`
}

type couponRequest struct {
	Code        string `json:"code"`
	TotalAmount int64  `json:"total_amount"`
	VehicleType string `json:"vehicle_type"`
	BookingID   string `json:"booking_id"`
}

func (handler *httpHandler) handleCheckout(ctx *gin.Context) {
	caller, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	bookingID, ok := bookingIDParam(ctx)
	if !ok {
		return
	}
	var request checkoutRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	var provider rental.ProviderName
	if request.Provider != "" {
		parsed, err := rental.ParseProviderName(request.Provider)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		provider = parsed
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.requestTimeout)
	defer cancel()
	result, err := handler.services.Checkout.CreateCheckout(requestCtx, caller, rental.CheckoutInput{BookingID: bookingID, Provider: provider})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"checkout_url": result.CheckoutURL,
		"session_id":   result.SessionID,
		"provider":     result.Provider,
	})
}

func (handler *httpHandler) handleRefund(ctx *gin.Context) {
	caller, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	bookingID, ok := bookingIDParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.requestTimeout)
	defer cancel()
	result, err := handler.services.Refunds.Refund(requestCtx, caller, bookingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":           result.Success,
		"refund_amount":     result.RefundAmountCents.Int64(),
		"refund_percentage": result.RefundPercentage,
		"refund_id":         result.RefundID,
		"days_until_start":  result.DaysUntilStart,
	})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	caller, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	bookingID, ok := bookingIDParam(ctx)
	if !ok {
		return
	}
	transactions, err := handler.services.Ledger.ListForCaller(ctx.Request.Context(), caller, bookingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payload = append(payload, newTransactionPayload(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payload})
}

func (handler *httpHandler) handleCouponValidate(ctx *gin.Context) {
	caller, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	var request couponRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	quote, err := handler.services.Coupons.Validate(ctx.Request.Context(), caller, request.query())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newCouponPayload(quote))
}

func (handler *httpHandler) handleCouponRedeem(ctx *gin.Context) {
	caller, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	var request couponRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	bookingID, err := rental.NewBookingID(request.BookingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	quote, err := handler.services.Coupons.Redeem(ctx.Request.Context(), caller, request.query(), bookingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newCouponPayload(quote))
}

func (request couponRequest) query() rental.CouponQuery {
	return rental.CouponQuery{
		Code:             request.Code,
		TotalAmountCents: rental.AmountCents(request.TotalAmount),
		VehicleType:      request.VehicleType,
	}
}

func (handler *httpHandler) handleStripeWebhook(ctx *gin.Context) {
	payload, ok := handler.readWebhookBody(ctx)
	if !ok {
		return
	}
	handler.reconcile(ctx, rental.ProviderStripe, payload)
}

// handleMercadoPagoWebhook also accepts the query-string notification form.
func (handler *httpHandler) handleMercadoPagoWebhook(ctx *gin.Context) {
	payload, ok := handler.readWebhookBody(ctx)
	if !ok {
		return
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = mercadopago.QueryPayload(ctx.Request.URL.Query())
	}
	handler.reconcile(ctx, rental.ProviderMercadoPago, payload)
}

func (handler *httpHandler) readWebhookBody(ctx *gin.Context) ([]byte, bool) {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "unreadable body"))
		return nil, false
	}
	return payload, true
}

// reconcile answers 200 unless the failure is retryable.
func (handler *httpHandler) reconcile(ctx *gin.Context, provider rental.ProviderName, payload []byte) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.requestTimeout)
	defer cancel()
	outcome, err := handler.services.Webhooks.Reconcile(requestCtx, provider, payload)
	if err != nil {
		handler.logger.Error("webhook reconcile failed",
			zap.String("provider", string(provider)),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
		if errors.Is(err, rental.ErrRetryable) {
			ctx.JSON(http.StatusServiceUnavailable, errorResponse("retryable", "try again later"))
			return
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}

func (handler *httpHandler) requireCaller(ctx *gin.Context) (rental.Caller, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return rental.Caller{}, false
	}
	userID, err := rental.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "session has no user"))
		return rental.Caller{}, false
	}
	return rental.Caller{UserID: userID, Email: claims.GetUserEmail(), Roles: claims.GetUserRoles()}, true
}

func bookingIDParam(ctx *gin.Context) (rental.BookingID, bool) {
	bookingID, err := rental.NewBookingID(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_booking_id", "booking id is required"))
		return rental.BookingID{}, false
	}
	return bookingID, true
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

type transactionPayload struct {
	ID                string            `json:"id"`
	BookingID         string            `json:"booking_id"`
	Type              string            `json:"type"`
	ActorRole         string            `json:"actor_role"`
	ActorEmail        string            `json:"actor_email"`
	AmountCents       int64             `json:"amount_cents"`
	Currency          string            `json:"currency"`
	Status            string            `json:"status"`
	Description       string            `json:"description"`
	ProviderReference string            `json:"provider_reference"`
	IdempotencyKey    string            `json:"idempotency_key"`
	Metadata          map[string]string `json:"metadata"`
	CreatedAt         time.Time         `json:"created_at"`
}

func newTransactionPayload(transaction rental.Transaction) transactionPayload {
	return transactionPayload{
		ID:                transaction.ID,
		BookingID:         transaction.BookingID.String(),
		Type:              string(transaction.Type),
		ActorRole:         string(transaction.ActorRole),
		ActorEmail:        transaction.ActorEmail,
		AmountCents:       transaction.AmountCents.Int64(),
		Currency:          transaction.Currency,
		Status:            string(transaction.Status),
		Description:       transaction.Description,
		ProviderReference: transaction.ProviderReference,
		IdempotencyKey:    transaction.IdempotencyKey,
		Metadata:          transaction.Metadata,
		CreatedAt:         transaction.CreatedAt,
	}
}

type couponPayload struct {
	Valid          bool   `json:"valid"`
	Code           string `json:"code"`
	DiscountType   string `json:"discount_type"`
	DiscountValue  int64  `json:"discount_value"`
	DiscountAmount int64  `json:"discount_amount"`
	FinalAmount    int64  `json:"final_amount"`
}

func newCouponPayload(quote rental.CouponQuote) couponPayload {
	return couponPayload{
		Valid:          true,
		Code:           quote.Coupon.Code.String(),
		DiscountType:   string(quote.Coupon.DiscountType),
		DiscountValue:  quote.Coupon.DiscountValue,
		DiscountAmount: quote.DiscountCents.Int64(),
		FinalAmount:    quote.FinalAmountCents.Int64(),
	}
}
