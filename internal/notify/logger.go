package notify

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// ZapLogger adapts zap to watermill.LoggerAdapter.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps logger; nil yields a no-op adapter.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

func (adapter *ZapLogger) Error(msg string, err error, fields watermill.LogFields) {
	adapter.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (adapter *ZapLogger) Info(msg string, fields watermill.LogFields) {
	adapter.logger.Info(msg, zapFields(fields)...)
}

func (adapter *ZapLogger) Debug(msg string, fields watermill.LogFields) {
	adapter.logger.Debug(msg, zapFields(fields)...)
}

// Trace maps to debug; zap has no finer level.
func (adapter *ZapLogger) Trace(msg string, fields watermill.LogFields) {
	adapter.logger.Debug(msg, zapFields(fields)...)
}

func (adapter *ZapLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &ZapLogger{logger: adapter.logger.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	converted := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		converted = append(converted, zap.Any(key, value))
	}
	return converted
}
