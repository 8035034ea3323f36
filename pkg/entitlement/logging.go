package entitlement

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing entitlement operation.
type OperationLog struct {
	Operation string
	UserID    UserID
	Subject   string
	Amount    int64
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.operationLogger = logger
	}
}

// WithLogger sets the zap logger used for swallowed failures (notifications, sweeps).
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// WithNotifier wires the outbound notification collaborator.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// WithCodeSender wires the channel that delivers withdraw codes.
func WithCodeSender(sender CodeSender) ServiceOption {
	return func(service *Service) {
		service.codeSender = sender
	}
}

// WithLocker replaces the in-process per-account locker.
func WithLocker(locker Locker) ServiceOption {
	return func(service *Service) {
		if locker != nil {
			service.locker = locker
		}
	}
}

// WithLocation sets the time zone that defines "today" for daily quotas.
func WithLocation(location *time.Location) ServiceOption {
	return func(service *Service) {
		if location != nil {
			service.location = location
		}
	}
}

// WithLenientMemo lets webhook top-ups fall back to reading a user id from
// the transfer memo when no payment intent matches.
func WithLenientMemo(enabled bool) ServiceOption {
	return func(service *Service) {
		service.lenientMemo = enabled
	}
}

// WithCodeHashCost overrides the bcrypt cost used for withdraw codes.
func WithCodeHashCost(cost int) ServiceOption {
	return func(service *Service) {
		service.codeHashCost = cost
	}
}

// WithNotifyTimeout bounds each post-commit notification dispatch.
func WithNotifyTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		if timeout > 0 {
			service.notifyTimeout = timeout
		}
	}
}

type zapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger reports operations as structured zap entries.
func NewZapOperationLogger(logger *zap.Logger) OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapOperationLogger{logger: logger}
}

func (operationLogger *zapOperationLogger) LogOperation(_ context.Context, entry OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("status", entry.Status),
	}
	if entry.Subject != "" {
		fields = append(fields, zap.String("subject", entry.Subject))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("entitlement operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("entitlement operation", fields...)
}
