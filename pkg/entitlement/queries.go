package entitlement

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// PointsSummary is the points dashboard of a user.
type PointsSummary struct {
	Points    int64
	Inventory Inventory
	Recent    []PointLogEntry
	Rewards   []Reward
}

// VipStatus is the VIP dashboard of a user, read with expiry self-correction.
type VipStatus struct {
	Vip        VipEntitlement
	Valid      bool
	Package    *VipPackage
	Slots      Usage
	PhoneViews Usage
}

// AccountSummary aggregates every balance of a user.
type AccountSummary struct {
	UserID             UserID
	Wallet             WalletAccount
	Points             int64
	Inventory          Inventory
	Vip                VipStatus
	PendingWithdrawals int64
	AsOf               time.Time
}

// VipStats aggregates subscription metrics for admins.
type VipStats struct {
	ActiveVipUsers int64
	MonthlyRevenue Amount
	TopPackage     string
}

// Wallet returns the wallet of userID, creating it on first access.
func (service *Service) Wallet(ctx context.Context, userID UserID) (WalletAccount, error) {
	return service.store.GetOrCreateWallet(ctx, userID)
}

// LedgerHistory pages through ledger entries. Users only see their own.
func (service *Service) LedgerHistory(ctx context.Context, actor Actor, query LedgerQuery) (LedgerPage, error) {
	if !actor.IsAdmin() {
		if !query.UserID.IsZero() && query.UserID != actor.UserID {
			return LedgerPage{}, fmt.Errorf("%w: ledger of another user", ErrForbidden)
		}
		query.UserID = actor.UserID
	}
	query.Page = query.Page.Normalize()
	return service.store.ListLedgerEntries(ctx, query)
}

// PointsSummary returns balance, inventory, and the most recent point logs.
func (service *Service) PointsSummary(ctx context.Context, userID UserID) (PointsSummary, error) {
	profile, err := service.store.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return PointsSummary{}, err
	}
	recent, err := service.store.ListPointLogs(ctx, PointLogQuery{UserID: userID, Page: Page{Limit: recentPointLogLimit}})
	if err != nil {
		return PointsSummary{}, err
	}
	return PointsSummary{
		Points:    profile.Points,
		Inventory: profile.Inventory.Clone(),
		Recent:    recent.Entries,
		Rewards:   Rewards(),
	}, nil
}

// ItemUsageHistory lists the most recent item activations. A zero userID
// lists every user.
func (service *Service) ItemUsageHistory(ctx context.Context, userID UserID) ([]PointLogEntry, error) {
	page, err := service.store.ListPointLogs(ctx, PointLogQuery{
		UserID:       userID,
		ActionPrefix: "USE_",
		Page:         Page{Limit: itemUsageHistoryLimit},
	})
	if err != nil {
		return nil, err
	}
	return page.Entries, nil
}

// PointLogs pages through every point log for admins.
func (service *Service) PointLogs(ctx context.Context, actor Actor, query PointLogQuery) (PointLogPage, error) {
	if err := requireAdmin(actor); err != nil {
		return PointLogPage{}, err
	}
	query.Page = query.Page.Normalize()
	return service.store.ListPointLogs(ctx, query)
}

// PointStats returns available, distributed, and redeemed point totals.
func (service *Service) PointStats(ctx context.Context, actor Actor) (PointStats, error) {
	if err := requireAdmin(actor); err != nil {
		return PointStats{}, err
	}
	return service.store.PointTotals(ctx)
}

// VipStatus returns the effective subscription state and today's usage.
func (service *Service) VipStatus(ctx context.Context, userID UserID) (VipStatus, error) {
	profile, err := service.store.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return VipStatus{}, err
	}
	return service.vipStatus(ctx, profile, service.nowFn())
}

func (service *Service) vipStatus(ctx context.Context, profile Profile, now time.Time) (VipStatus, error) {
	status := VipStatus{
		Vip:   EffectiveVip(profile.Vip, now),
		Valid: IsVipCurrentlyValid(profile.Vip, now),
	}
	if status.Valid {
		vipPackage, err := packageLimits(ctx, service.store, profile.Vip)
		if err != nil {
			return VipStatus{}, err
		}
		if !vipPackage.PackageID.IsZero() {
			status.Package = &vipPackage
		}
		status.Slots = Usage{Today: int64(profile.Vip.DailyUsedSlots), Limit: int64(vipPackage.PostLimit)}
		status.PhoneViews.Limit = int64(vipPackage.LimitViewPhone)
	}
	usage, err := leadUsage(ctx, service.store, profile.UserID, service.startOfDay(now), status.PhoneViews.Limit)
	if err != nil {
		return VipStatus{}, err
	}
	status.PhoneViews = usage
	return status, nil
}

// AccountSummary returns wallet, points, inventory, and VIP state together.
func (service *Service) AccountSummary(ctx context.Context, userID UserID) (AccountSummary, error) {
	now := service.nowFn()
	wallet, err := service.store.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return AccountSummary{}, err
	}
	profile, err := service.store.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return AccountSummary{}, err
	}
	status, err := service.vipStatus(ctx, profile, now)
	if err != nil {
		return AccountSummary{}, err
	}
	pending, err := service.store.ListWithdrawRequests(ctx, WithdrawQuery{UserID: userID, Status: WithdrawPending, Page: Page{Limit: 1}})
	if err != nil {
		return AccountSummary{}, err
	}
	return AccountSummary{
		UserID:             userID,
		Wallet:             wallet,
		Points:             profile.Points,
		Inventory:          profile.Inventory.Clone(),
		Vip:                status,
		PendingWithdrawals: pending.Total,
		AsOf:               now,
	}, nil
}

// VipStats returns active subscribers, revenue over the last 30 days, and the
// most common active tier.
func (service *Service) VipStats(ctx context.Context, actor Actor) (VipStats, error) {
	if err := requireAdmin(actor); err != nil {
		return VipStats{}, err
	}
	now := service.nowFn()
	active, err := service.store.CountActiveVip(ctx, now)
	if err != nil {
		return VipStats{}, err
	}
	revenue, err := service.store.SumLedgerAmount(ctx, EntryVipPurchase, now.Add(-vipRevenueWindow))
	if err != nil {
		return VipStats{}, err
	}
	if revenue < 0 {
		revenue = -revenue
	}
	topPackage, err := service.store.TopActiveVipType(ctx, now)
	if err != nil {
		return VipStats{}, err
	}
	return VipStats{ActiveVipUsers: active, MonthlyRevenue: revenue, TopPackage: topPackage}, nil
}

// VipUsers lists users with a currently valid subscription, soonest expiry first.
func (service *Service) VipUsers(ctx context.Context, actor Actor, page Page) ([]Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return service.store.ListVipProfiles(ctx, VipUserQuery{Now: service.nowFn(), Page: page.Normalize()})
}

// WithdrawRequests pages through withdraw requests. Users only see their own.
func (service *Service) WithdrawRequests(ctx context.Context, actor Actor, query WithdrawQuery) (WithdrawPage, error) {
	if !actor.IsAdmin() {
		if !query.UserID.IsZero() && query.UserID != actor.UserID {
			return WithdrawPage{}, fmt.Errorf("%w: requests of another user", ErrForbidden)
		}
		query.UserID = actor.UserID
	}
	query.Page = query.Page.Normalize()
	return service.store.ListWithdrawRequests(ctx, query)
}

// Packages lists packages ordered by price. Only admins may list inactive ones.
func (service *Service) Packages(ctx context.Context, actor Actor, includeInactive bool) ([]VipPackage, error) {
	if includeInactive {
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
	}
	packages, err := service.store.ListPackages(ctx, !includeInactive)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(packages, func(left, right int) bool {
		return packages[left].Price < packages[right].Price
	})
	return packages, nil
}

// SavePackage creates a package when PackageID is zero and updates it
// otherwise. Marking a package popular clears the flag on every other one.
func (service *Service) SavePackage(ctx context.Context, actor Actor, vipPackage VipPackage) (VipPackage, error) {
	saved, err := service.savePackage(ctx, actor, vipPackage)
	service.logOperation(ctx, OperationLog{
		Operation: operationSavePackage,
		UserID:    actor.UserID,
		Subject:   saved.PackageID.String(),
		Amount:    vipPackage.Price.Int64(),
		Error:     err,
	})
	return saved, err
}

func (service *Service) savePackage(ctx context.Context, actor Actor, vipPackage VipPackage) (VipPackage, error) {
	if err := requireAdmin(actor); err != nil {
		return VipPackage{}, err
	}
	vipPackage.Name = strings.TrimSpace(vipPackage.Name)
	if err := vipPackage.Validate(); err != nil {
		return VipPackage{}, err
	}
	var saved VipPackage
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if vipPackage.PackageID.IsZero() {
			vipPackage.CreatedAt = service.nowFn()
			created, err := txStore.CreatePackage(ctx, vipPackage)
			if err != nil {
				return err
			}
			saved = created
		} else {
			existing, err := txStore.GetPackage(ctx, vipPackage.PackageID)
			if err != nil {
				return err
			}
			vipPackage.CreatedAt = existing.CreatedAt
			if err := txStore.UpdatePackage(ctx, vipPackage); err != nil {
				return err
			}
			saved = vipPackage
		}
		if saved.IsPopular {
			return txStore.ClearPopularPackages(ctx, saved.PackageID)
		}
		return nil
	})
	if err != nil {
		return VipPackage{}, err
	}
	return saved, nil
}

// TogglePackage flips the active flag of a package.
func (service *Service) TogglePackage(ctx context.Context, actor Actor, packageID PackageID) (VipPackage, error) {
	if err := requireAdmin(actor); err != nil {
		return VipPackage{}, err
	}
	vipPackage, err := service.store.GetPackage(ctx, packageID)
	if err != nil {
		return VipPackage{}, err
	}
	vipPackage.IsActive = !vipPackage.IsActive
	return service.SavePackage(ctx, actor, vipPackage)
}
