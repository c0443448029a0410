// Package oplog sends component operation records and correlation ids to zap.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/rental/pkg/rental"
	"go.uber.org/zap"
)

const (
	CorrelationHeader = "Correlation-ID"
	fieldCorrelation  = "correlation_id"
)

type correlationKey struct{}

// WithCorrelationID stores a request correlation id on the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, correlationID)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	correlationID, _ := ctx.Value(correlationKey{}).(string)
	return correlationID
}

// Logger implements rental.OperationLogger on top of zap.
type Logger struct {
	logger *zap.Logger
}

// New wraps a zap logger. A nil logger yields a no-op.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

// LogOperation writes failures at error level and everything else at info.
func (operationLogger *Logger) LogOperation(ctx context.Context, entry rental.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.BookingID.IsZero() {
		fields = append(fields, zap.String("booking_id", entry.BookingID.String()))
	}
	if entry.Provider != "" {
		fields = append(fields, zap.String("provider", string(entry.Provider)))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.Outcome != "" {
		fields = append(fields, zap.String("outcome", entry.Outcome))
	}
	if correlationID := CorrelationID(ctx); correlationID != "" {
		fields = append(fields, zap.String(fieldCorrelation, correlationID))
	}
	if entry.Error != nil {
		operationLogger.logger.Error("payment operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("payment operation", fields...)
}
