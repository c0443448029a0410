// Package httpapi exposes the payment components over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/rental/internal/oplog"
	"github.com/MarkoPoloResearchLab/rental/pkg/rental"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lithammer/shortuuid/v3"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey           = "auth_claims"
	generatedCorrelationPrefix = "gen_"
	defaultRequestTimeout      = 30 * time.Second
	shutdownTimeout            = 5 * time.Second
)

// CheckoutService opens provider checkout sessions.
type CheckoutService interface {
	CreateCheckout(ctx context.Context, caller rental.Caller, input rental.CheckoutInput) (rental.CheckoutResult, error)
}

// RefundService cancels paid bookings with a tiered refund.
type RefundService interface {
	Refund(ctx context.Context, caller rental.Caller, bookingID rental.BookingID) (rental.RefundResult, error)
}

// CouponService validates and redeems promotional codes.
type CouponService interface {
	Validate(ctx context.Context, caller rental.Caller, query rental.CouponQuery) (rental.CouponQuote, error)
	Redeem(ctx context.Context, caller rental.Caller, query rental.CouponQuery, bookingID rental.BookingID) (rental.CouponQuote, error)
}

// LedgerService lists a booking's financial rows.
type LedgerService interface {
	ListForCaller(ctx context.Context, caller rental.Caller, bookingID rental.BookingID) ([]rental.Transaction, error)
}

// WebhookService reconciles provider notifications.
type WebhookService interface {
	Reconcile(ctx context.Context, provider rental.ProviderName, payload []byte) (rental.ReconcileOutcome, error)
}

// Services are the components the routes call into.
type Services struct {
	Checkout CheckoutService
	Refunds  RefundService
	Coupons  CouponService
	Ledger   LedgerService
	Webhooks WebhookService
}

// RouterConfig carries the HTTP-level settings.
type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter mounts every route. Webhooks are public; /api requires a session cookie.
func NewRouter(cfg RouterConfig, services Services, validator *sessionvalidator.Validator, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{
		logger:         logger,
		services:       services,
		requestTimeout: cfg.RequestTimeout,
	}
	if handler.requestTimeout <= 0 {
		handler.requestTimeout = defaultRequestTimeout
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(correlationMiddleware())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", oplog.CorrelationHeader},
		ExposeHeaders:    []string{oplog.CorrelationHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	webhooks := router.Group("/webhooks")
	webhooks.POST("/stripe", handler.handleStripeWebhook)
	webhooks.POST("/mercadopago", handler.handleMercadoPagoWebhook)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))
	api.POST("/bookings/:id/checkout", handler.handleCheckout)
	api.POST("/bookings/:id/refund", handler.handleRefund)
	api.GET("/bookings/:id/transactions", handler.handleTransactions)
	api.POST("/coupons/validate", handler.handleCouponValidate)
	api.POST("/coupons/redeem", handler.handleCouponRedeem)

	return router
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rental api listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// correlationMiddleware reuses the caller's Correlation-ID or mints one.
func correlationMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		correlationID := ctx.GetHeader(oplog.CorrelationHeader)
		if correlationID == "" {
			correlationID = generatedCorrelationPrefix + shortuuid.New()
		}
		ctx.Request = ctx.Request.WithContext(oplog.WithCorrelationID(ctx.Request.Context(), correlationID))
		ctx.Header(oplog.CorrelationHeader, correlationID)
		ctx.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		path := ctx.Request.URL.Path
		ctx.Next()
		logger.Info("request",
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("method", ctx.Request.Method),
			zap.String("path", path),
			zap.String("client_ip", ctx.ClientIP()),
			zap.String("correlation_id", oplog.CorrelationID(ctx.Request.Context())),
		)
	}
}
