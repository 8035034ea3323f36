package entitlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// RedeemResult reports a reward redemption.
type RedeemResult struct {
	Profile Profile
	Reward  Reward
}

// ItemUseResult reports an inventory item activation.
type ItemUseResult struct {
	Profile  Profile
	Reward   Reward
	Quantity int64
	Extended bool
}

// AddPoints credits points earned by another flow (listing created, daily
// login, sale). It is not exposed to end users.
func (service *Service) AddPoints(ctx context.Context, userID UserID, action PointAction, amount int64, relatedID string) (Profile, error) {
	var profile Profile
	err := service.mutate(ctx, []UserID{userID}, func(ctx context.Context, scope *txScope) error {
		if amount <= 0 {
			return fmt.Errorf("%w: points must be greater than zero", ErrInvalidAmount)
		}
		if action == "" {
			return fmt.Errorf("%w: empty action", ErrInvalidRewardKey)
		}
		loaded, err := scope.store.GetOrCreateProfile(ctx, userID)
		if err != nil {
			return err
		}
		if err := earnPoints(ctx, scope, &loaded, amount, action, relatedID, string(action)); err != nil {
			return err
		}
		if err := scope.store.SaveProfile(ctx, loaded); err != nil {
			return err
		}
		scope.notifyUser(userID, NotifyPoints, fmt.Sprintf("You earned %d points.", amount), relatedID)
		profile = loaded
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAddPoints,
		UserID:    userID,
		Subject:   string(action),
		Amount:    amount,
		Error:     err,
	})
	return profile, err
}

// RedeemReward exchanges points for one inventory item.
func (service *Service) RedeemReward(ctx context.Context, userID UserID, rewardKey string) (RedeemResult, error) {
	var result RedeemResult
	reward, err := LookupReward(rewardKey)
	if err == nil {
		err = service.mutate(ctx, []UserID{userID}, func(ctx context.Context, scope *txScope) error {
			profile, err := scope.store.GetOrCreateProfile(ctx, userID)
			if err != nil {
				return err
			}
			if profile.Points < reward.Cost {
				return fmt.Errorf("%w: %s costs %d points, balance is %d", ErrInsufficientPoints, reward.Key, reward.Cost, profile.Points)
			}
			profile.Inventory = profile.Inventory.Clone()
			profile.Inventory[reward.Item]++
			if err := spendPoints(ctx, scope, &profile, reward.Cost, PointAction("REDEEM_"+string(reward.Key)), "", fmt.Sprintf("redeem %s", reward.Name)); err != nil {
				return err
			}
			if err := scope.store.SaveProfile(ctx, profile); err != nil {
				return err
			}
			scope.notifyUser(userID, NotifyPoints, fmt.Sprintf("You redeemed %s for %d points.", reward.Name, reward.Cost), string(reward.Key))
			result = RedeemResult{Profile: profile, Reward: reward}
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationRedeemReward,
		UserID:    userID,
		Subject:   rewardKey,
		Amount:    reward.Cost,
		Error:     err,
	})
	if err != nil {
		return RedeemResult{}, err
	}
	return result, nil
}

// UseInventoryItem consumes quantity items of one kind and applies their
// effect: bonus push credits, bonus lead credits, or VIP days.
func (service *Service) UseInventoryItem(ctx context.Context, userID UserID, itemKey string, quantity int64) (ItemUseResult, error) {
	var result ItemUseResult
	reward, err := ParseItemKind(itemKey)
	if err == nil && quantity <= 0 {
		err = fmt.Errorf("%w: quantity must be at least 1", ErrInvalidQuantity)
	}
	if err == nil {
		err = service.mutate(ctx, []UserID{userID}, func(ctx context.Context, scope *txScope) error {
			profile, err := scope.store.GetOrCreateProfile(ctx, userID)
			if err != nil {
				return err
			}
			available := profile.Inventory.Quantity(reward.Item)
			if available < quantity {
				return fmt.Errorf("%w: %d %s requested, %d available", ErrInvalidQuantity, quantity, reward.Item, available)
			}
			extended := false
			message := ""
			switch reward.Item {
			case ItemPostPush:
				profile.Vip.BonusPushCredits += quantity
				message = fmt.Sprintf("%d push credits added.", quantity)
			case ItemLeadCredit:
				profile.Vip.BonusLeadCredits += quantity
				message = fmt.Sprintf("%d phone-reveal credits added.", quantity)
			default:
				tier := vipTiers[reward.Item]
				vipPackage, err := resolveTierPackage(ctx, scope.store, tier, profile.Vip)
				if err != nil {
					return err
				}
				days := tier.BaseDays * int(quantity)
				extended = activateVip(&profile.Vip, scope.now, days, tier.VipType, vipPackage)
				message = vipActivationMessage(tier.VipType, profile.Vip, extended)
			}
			profile.Inventory = profile.Inventory.Clone()
			profile.Inventory[reward.Item] = available - quantity
			if err := spendPoints(ctx, scope, &profile, 0, reward.UseTag, string(reward.Item), fmt.Sprintf("use %d x %s", quantity, reward.Name)); err != nil {
				return err
			}
			if err := scope.store.SaveProfile(ctx, profile); err != nil {
				return err
			}
			scope.notifyUser(userID, NotifyVip, message, string(reward.Item))
			result = ItemUseResult{Profile: profile, Reward: reward, Quantity: quantity, Extended: extended}
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationUseItem,
		UserID:    userID,
		Subject:   itemKey,
		Amount:    quantity,
		Error:     err,
	})
	if err != nil {
		return ItemUseResult{}, err
	}
	return result, nil
}

// AdjustUserPoints applies an admin correction. A zero amount records a
// warning without touching the balance; the balance never goes negative.
func (service *Service) AdjustUserPoints(ctx context.Context, actor Actor, userID UserID, amount int64, description string) (Profile, error) {
	var profile Profile
	err := requireAdmin(actor)
	if err == nil {
		err = service.mutate(ctx, []UserID{userID}, func(ctx context.Context, scope *txScope) error {
			loaded, err := scope.store.GetOrCreateProfile(ctx, userID)
			if err != nil {
				return err
			}
			if loaded.Points+amount < 0 {
				return fmt.Errorf("%w: adjustment of %d exceeds balance %d", ErrInsufficientPoints, amount, loaded.Points)
			}
			entryType := PointSpend
			points := -amount
			if amount > 0 {
				entryType = PointEarn
				points = amount
			}
			loaded.Points += amount
			loaded.UpdatedAt = scope.now
			entry := PointLogEntry{
				LogID:       uuid.NewString(),
				UserID:      userID,
				Type:        entryType,
				Action:      ActionAdminAdjustment,
				Points:      points,
				RelatedID:   actor.UserID.String(),
				Description: description,
				CreatedAt:   scope.now,
			}
			if err := scope.store.InsertPointLog(ctx, entry); err != nil {
				return err
			}
			if amount != 0 {
				if err := scope.store.SaveProfile(ctx, loaded); err != nil {
					return err
				}
			}
			switch {
			case amount > 0:
				scope.notifyUser(userID, NotifyAdjustment, fmt.Sprintf("An administrator added %d points: %s", amount, description), entry.LogID)
			case amount < 0:
				scope.notifyUser(userID, NotifyAdjustment, fmt.Sprintf("An administrator deducted %d points: %s", -amount, description), entry.LogID)
			default:
				scope.notifyUser(userID, NotifyWarning, fmt.Sprintf("Warning from an administrator: %s", description), entry.LogID)
			}
			profile = loaded
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationAdjustPoints,
		UserID:    userID,
		Subject:   actor.UserID.String(),
		Amount:    amount,
		Error:     err,
	})
	return profile, err
}

func earnPoints(ctx context.Context, scope *txScope, profile *Profile, points int64, action PointAction, relatedID string, description string) error {
	profile.Points += points
	profile.UpdatedAt = scope.now
	return scope.store.InsertPointLog(ctx, PointLogEntry{
		LogID:       uuid.NewString(),
		UserID:      profile.UserID,
		Type:        PointEarn,
		Action:      action,
		Points:      points,
		RelatedID:   relatedID,
		Description: description,
		CreatedAt:   scope.now,
	})
}

func spendPoints(ctx context.Context, scope *txScope, profile *Profile, points int64, action PointAction, relatedID string, description string) error {
	if profile.Points < points {
		return ErrInsufficientPoints
	}
	profile.Points -= points
	profile.UpdatedAt = scope.now
	return scope.store.InsertPointLog(ctx, PointLogEntry{
		LogID:       uuid.NewString(),
		UserID:      profile.UserID,
		Type:        PointSpend,
		Action:      action,
		Points:      points,
		RelatedID:   relatedID,
		Description: description,
		CreatedAt:   scope.now,
	})
}

// resolveTierPackage finds the package backing a VIP-day item. A missing
// package is not an error: the subscription then runs without package quotas.
func resolveTierPackage(ctx context.Context, store PackageStore, tier VipTier, current VipEntitlement) (*VipPackage, error) {
	vipPackage, err := store.FindPackageByName(ctx, tier.Word)
	if err == nil {
		return &vipPackage, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if current.PackageID.IsZero() && current.VipType != "" && current.VipType != VipTypeNone {
		vipPackage, err = store.FindPackageByName(ctx, current.VipType)
		if err == nil {
			return &vipPackage, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}
