package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Notifier delivers best-effort messages to users and admins.
type Notifier interface {
	Notify(ctx context.Context, notifications []Notification) error
}

// CodeSender delivers a withdraw code to its owner out of band.
type CodeSender interface {
	SendWithdrawCode(ctx context.Context, userID UserID, code string, expiresAt time.Time) error
}

// Service applies wallet, points, and VIP intents consistently over a Store.
type Service struct {
	store           Store
	codes           CodeStore
	nowFn           func() time.Time
	operationLogger OperationLogger
	logger          *zap.Logger
	notifier        Notifier
	codeSender      CodeSender
	locker          Locker
	location        *time.Location
	lenientMemo     bool
	codeHashCost    int
	maxAttempts     int
	notifyTimeout   time.Duration
	sweepBatchSize  int
}

// NewService wires a Service.
func NewService(store Store, codes CodeStore, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if codes == nil {
		return nil, fmt.Errorf("%w: code store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:          store,
		codes:          codes,
		nowFn:          now,
		logger:         zap.NewNop(),
		locker:         NewKeyedMutex(),
		location:       time.UTC,
		codeHashCost:   bcrypt.DefaultCost,
		maxAttempts:    defaultMaxAttempts,
		notifyTimeout:  defaultNotifyTimeout,
		sweepBatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.codeHashCost < bcrypt.MinCost || service.codeHashCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: code hash cost %d out of range", ErrInvalidServiceConfig, service.codeHashCost)
	}
	return service, nil
}

// Now returns the service clock reading.
func (service *Service) Now() time.Time {
	return service.nowFn()
}

// txScope carries the transactional store of one attempt together with the
// notifications to dispatch once it commits.
type txScope struct {
	store         Store
	now           time.Time
	notifications []Notification
}

func (scope *txScope) notifyUser(userID UserID, kind NotificationKind, message string, relatedID string) {
	scope.notifications = append(scope.notifications, Notification{
		Audience:    AudienceUser,
		RecipientID: userID,
		Kind:        kind,
		Message:     message,
		RelatedID:   relatedID,
		CreatedAt:   scope.now,
	})
}

func (scope *txScope) notifyAdmins(kind NotificationKind, message string, relatedID string) {
	scope.notifications = append(scope.notifications, Notification{
		Audience:  AudienceAdmins,
		Kind:      kind,
		Message:   message,
		RelatedID: relatedID,
		CreatedAt: scope.now,
	})
}

// mutate runs fn under the account locks of userIDs inside one transaction
// and dispatches its notifications once the locks are released.
func (service *Service) mutate(ctx context.Context, userIDs []UserID, fn func(ctx context.Context, scope *txScope) error) error {
	unlock, err := lockUsers(ctx, service.locker, userIDs...)
	if err != nil {
		return err
	}
	pending, err := service.runTx(ctx, fn)
	unlock()
	if err != nil {
		return err
	}
	service.dispatch(ctx, pending)
	return nil
}

// runTx executes fn in a transaction, retrying on optimistic version
// conflicts. Callers must already hold the relevant account locks.
func (service *Service) runTx(ctx context.Context, fn func(ctx context.Context, scope *txScope) error) ([]Notification, error) {
	for attempt := 1; ; attempt++ {
		scope := &txScope{now: service.nowFn()}
		err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			scope.store = txStore
			scope.notifications = nil
			return fn(ctx, scope)
		})
		if err == nil {
			return scope.notifications, nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) || attempt >= service.maxAttempts {
			return nil, err
		}
		service.logger.Debug("retrying after concurrent update", zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (service *Service) dispatch(ctx context.Context, notifications []Notification) {
	if service.notifier == nil || len(notifications) == 0 {
		return
	}
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), service.notifyTimeout)
	defer cancel()
	if err := service.notifier.Notify(dispatchCtx, notifications); err != nil {
		service.logger.Warn("notification dispatch failed",
			zap.Int("count", len(notifications)),
			zap.Error(WrapError(errorOperationService, errorSubjectNotify, errorCodeDeliver, err)),
		)
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.operationLogger == nil {
		return
	}
	if entry.Error != nil {
		entry.Status = operationStatusError
	} else {
		entry.Status = operationStatusOK
	}
	service.operationLogger.LogOperation(ctx, entry)
}

func (service *Service) startOfDay(now time.Time) time.Time {
	local := now.In(service.location)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, service.location)
}

// NextDailyBoundary returns the next midnight after now in the configured zone.
func (service *Service) NextDailyBoundary(now time.Time) time.Time {
	return service.startOfDay(now).AddDate(0, 0, 1)
}

func requireAdmin(actor Actor) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}
