package entitlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Scanned int
	Applied int
	Failed  int
}

// ExpireVip deactivates subscriptions whose expiry has passed and force-detaches
// their posts. Accounts that fail are logged and left for the next run.
func (service *Service) ExpireVip(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	userIDs, err := service.store.ListDueVipUsers(ctx, service.nowFn(), service.sweepBatchSize)
	if err != nil {
		return report, err
	}
	for _, userID := range userIDs {
		report.Scanned++
		applied := false
		err := service.mutate(ctx, []UserID{userID}, func(ctx context.Context, scope *txScope) error {
			applied = false
			profile, err := scope.store.GetProfile(ctx, userID)
			if err != nil {
				return err
			}
			if !isVipDue(profile.Vip, scope.now) {
				return nil
			}
			if err := expireProfile(ctx, scope, &profile); err != nil {
				return err
			}
			applied = true
			return nil
		})
		service.recordSweepResult(ctx, operationExpireVip, userID, err, applied, &report)
	}
	return report, nil
}

// ResetDailyQuotas runs at the daily boundary: it detaches every VIP post,
// zeroes the daily slot counter, and expires subscriptions that ran out.
// Accounts already reset are left untouched.
func (service *Service) ResetDailyQuotas(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	after := ""
	for {
		userIDs, err := service.store.ListDailyVipUsers(ctx, after, service.sweepBatchSize)
		if err != nil {
			return report, err
		}
		for _, userID := range userIDs {
			report.Scanned++
			applied := false
			err := service.mutate(ctx, []UserID{userID}, func(ctx context.Context, scope *txScope) error {
				applied = false
				profile, err := scope.store.GetProfile(ctx, userID)
				if err != nil {
					return err
				}
				if isVipDue(profile.Vip, scope.now) {
					applied = true
					profile.Vip.DailyUsedSlots = 0
					return expireProfile(ctx, scope, &profile)
				}
				if profile.Vip.DailyUsedSlots == 0 && len(profile.Vip.CurrentVipPosts) == 0 {
					return nil
				}
				if len(profile.Vip.CurrentVipPosts) > 0 {
					if err := scope.store.ClearPostVip(ctx, userID, profile.Vip.CurrentVipPosts); err != nil {
						return err
					}
				}
				profile.Vip.CurrentVipPosts = nil
				profile.Vip.DailyUsedSlots = 0
				profile.UpdatedAt = scope.now
				applied = true
				return scope.store.SaveProfile(ctx, profile)
			})
			service.recordSweepResult(ctx, operationDailyReset, userID, err, applied, &report)
		}
		if len(userIDs) < service.sweepBatchSize {
			return report, nil
		}
		after = userIDs[len(userIDs)-1].String()
	}
}

func expireProfile(ctx context.Context, scope *txScope, profile *Profile) error {
	detached := deactivateVip(&profile.Vip)
	if len(detached) > 0 {
		if err := scope.store.ClearPostVip(ctx, profile.UserID, detached); err != nil {
			return err
		}
	}
	profile.UpdatedAt = scope.now
	if err := scope.store.SaveProfile(ctx, *profile); err != nil {
		return err
	}
	scope.notifyUser(profile.UserID, NotifyVipExpired, "Your VIP subscription has expired.", "")
	return nil
}

// EscalateWithdrawals raises reminders on pending withdraw requests by age:
// level 1 after 2 hours, level 2 after 24 hours, and automatic rejection with
// refund after 48 hours.
func (service *Service) EscalateWithdrawals(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := service.nowFn()
	var after WithdrawCursor
	for {
		requests, err := service.store.ListPendingWithdrawRequests(ctx, now.Add(-escalationReminderAge), after, service.sweepBatchSize)
		if err != nil {
			return report, err
		}
		for _, request := range requests {
			service.escalateWithdraw(ctx, now, request, &report)
		}
		if len(requests) < service.sweepBatchSize {
			return report, nil
		}
		last := requests[len(requests)-1]
		after = WithdrawCursor{RequestedAt: last.RequestedAt, RequestID: last.RequestID}
	}
}

func (service *Service) escalateWithdraw(ctx context.Context, now time.Time, request WithdrawRequest, report *SweepReport) {
	report.Scanned++
	target := escalationLevelFor(now.Sub(request.RequestedAt))
	if target <= request.EscalationLevel {
		return
	}
	applied := false
	requestID := request.RequestID
	err := service.mutate(ctx, []UserID{request.UserID}, func(ctx context.Context, scope *txScope) error {
		applied = false
		current, err := scope.store.GetWithdrawRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if current.Status != WithdrawPending || current.EscalationLevel >= target {
			return nil
		}
		if err := scope.store.SetWithdrawEscalation(ctx, requestID, current.EscalationLevel, target); err != nil {
			return err
		}
		applied = true
		switch target {
		case 3:
			if _, err := settleWithdraw(ctx, scope, current, WithdrawRejected, autoRejectNote); err != nil {
				return err
			}
			scope.notifyAdmins(NotifyWithdrawRemind, fmt.Sprintf("Withdraw request %s of %d was auto-rejected after 48 hours.", requestID, current.Amount), requestID.String())
		case 2:
			scope.notifyAdmins(NotifyWithdrawRemind, fmt.Sprintf("URGENT: withdraw request %s of %d has waited over 24 hours.", requestID, current.Amount), requestID.String())
		default:
			scope.notifyAdmins(NotifyWithdrawRemind, fmt.Sprintf("Reminder: withdraw request %s of %d has waited over 2 hours.", requestID, current.Amount), requestID.String())
		}
		return nil
	})
	service.recordSweepResult(ctx, operationEscalate, request.UserID, err, applied, report)
}

func escalationLevelFor(age time.Duration) int {
	switch {
	case age >= escalationRejectAge:
		return 3
	case age >= escalationUrgentAge:
		return 2
	case age >= escalationReminderAge:
		return 1
	default:
		return 0
	}
}

func (service *Service) recordSweepResult(ctx context.Context, operation string, userID UserID, err error, applied bool, report *SweepReport) {
	if err != nil {
		report.Failed++
		service.logger.Error("sweep step failed",
			zap.String("operation", operation),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		service.logOperation(ctx, OperationLog{Operation: operation, UserID: userID, Error: err})
		return
	}
	if applied {
		report.Applied++
		service.logOperation(ctx, OperationLog{Operation: operation, UserID: userID})
	}
}
