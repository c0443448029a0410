package rental

import (
	"context"
	"time"
)

// Option configures the payment components.
type Option func(*options)

type options struct {
	logger   OperationLogger
	notifier Notifier
	nowFn    func() time.Time
	location *time.Location
}

func defaultOptions() options {
	return options{
		nowFn:    func() time.Time { return time.Now().UTC() },
		location: time.UTC,
	}
}

func applyOptions(opts []Option) options {
	resolved := defaultOptions()
	for _, option := range opts {
		if option != nil {
			option(&resolved)
		}
	}
	return resolved
}

// OperationLogger records domain-level events emitted by the components.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing payment operation.
type OperationLog struct {
	Operation string
	BookingID BookingID
	Provider  ProviderName
	Amount    AmountCents
	Outcome   string
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) Option {
	return func(resolved *options) {
		resolved.logger = logger
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(resolved *options) {
		if now != nil {
			resolved.nowFn = now
		}
	}
}

// WithLocation sets the time zone whose calendar dates drive refund tiers.
func WithLocation(location *time.Location) Option {
	return func(resolved *options) {
		if location != nil {
			resolved.location = location
		}
	}
}

// WithNotifier wires the outbound notification collaborator.
func WithNotifier(notifier Notifier) Option {
	return func(resolved *options) {
		resolved.notifier = notifier
	}
}

func (resolved options) logOperation(ctx context.Context, entry OperationLog) {
	if resolved.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	resolved.logger.LogOperation(ctx, entry)
}
