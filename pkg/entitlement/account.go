package entitlement

import (
	"fmt"
	"strings"
	"time"
)

// ItemKind names a redeemable inventory slot.
type ItemKind string

const (
	ItemPostPush      ItemKind = "postPush"
	ItemVipBronze1Day ItemKind = "vipBronze1Day"
	ItemVipSilver3Day ItemKind = "vipSilver3Day"
	ItemVipGold7Day   ItemKind = "vipGold7Day"
	ItemLeadCredit    ItemKind = "leadCredit"
)

// ItemKinds lists every inventory slot in display order.
var ItemKinds = []ItemKind{ItemPostPush, ItemVipBronze1Day, ItemVipSilver3Day, ItemVipGold7Day, ItemLeadCredit}

// RewardKey names an entry of the redemption cost table.
type RewardKey string

const (
	RewardPostPush      RewardKey = "ITEM_POST_PUSH"
	RewardVipBronze1Day RewardKey = "ITEM_VIP_BRONZE_1DAY"
	RewardVipSilver3Day RewardKey = "ITEM_VIP_SILVER_3DAY"
	RewardVipGold7Day   RewardKey = "ITEM_VIP_GOLD_7DAY"
	RewardLeadCredit    RewardKey = "LEAD_CREDIT"
)

// Reward is a redeemable catalogue entry.
type Reward struct {
	Key    RewardKey
	Cost   int64
	Item   ItemKind
	Name   string
	UseTag PointAction
}

var rewardCatalogue = []Reward{
	{Key: RewardPostPush, Cost: 50, Item: ItemPostPush, Name: "Post push", UseTag: "USE_ITEM_POST_PUSH"},
	{Key: RewardVipBronze1Day, Cost: 500, Item: ItemVipBronze1Day, Name: "VIP Bronze 1 day", UseTag: "USE_ITEM_VIP_BRONZE_1DAY"},
	{Key: RewardVipSilver3Day, Cost: 1000, Item: ItemVipSilver3Day, Name: "VIP Silver 3 days", UseTag: "USE_ITEM_VIP_SILVER_3DAY"},
	{Key: RewardVipGold7Day, Cost: 2000, Item: ItemVipGold7Day, Name: "VIP Gold 7 days", UseTag: "USE_ITEM_VIP_GOLD_7DAY"},
	{Key: RewardLeadCredit, Cost: 50, Item: ItemLeadCredit, Name: "Lead credit", UseTag: "USE_LEAD_CREDIT"},
}

// Rewards returns the redemption catalogue.
func Rewards() []Reward {
	rewards := make([]Reward, len(rewardCatalogue))
	copy(rewards, rewardCatalogue)
	return rewards
}

// LookupReward resolves a reward key.
func LookupReward(raw string) (Reward, error) {
	key := RewardKey(strings.ToUpper(strings.TrimSpace(raw)))
	for _, reward := range rewardCatalogue {
		if reward.Key == key {
			return reward, nil
		}
	}
	return Reward{}, fmt.Errorf("%w: %q", ErrInvalidRewardKey, raw)
}

// ParseItemKind accepts either an inventory slot name or its reward key.
func ParseItemKind(raw string) (Reward, error) {
	trimmed := strings.TrimSpace(raw)
	for _, reward := range rewardCatalogue {
		if string(reward.Item) == trimmed || strings.EqualFold(string(reward.Key), trimmed) {
			return reward, nil
		}
	}
	return Reward{}, fmt.Errorf("%w: %q", ErrInvalidItemKind, raw)
}

// Inventory maps item kinds to non-negative quantities.
type Inventory map[ItemKind]int64

// Quantity returns the stored count for kind.
func (inventory Inventory) Quantity(kind ItemKind) int64 {
	if inventory == nil {
		return 0
	}
	return inventory[kind]
}

// Clone returns an independent copy with every known kind present.
func (inventory Inventory) Clone() Inventory {
	cloned := make(Inventory, len(ItemKinds))
	for _, kind := range ItemKinds {
		cloned[kind] = inventory.Quantity(kind)
	}
	return cloned
}

// VipTier groups VIP-day items by the package family they activate.
type VipTier struct {
	Word     string
	VipType  string
	BaseDays int
}

var vipTiers = map[ItemKind]VipTier{
	ItemVipBronze1Day: {Word: "bronze", VipType: "VIP Bronze", BaseDays: 1},
	ItemVipSilver3Day: {Word: "silver", VipType: "VIP Silver", BaseDays: 3},
	ItemVipGold7Day:   {Word: "gold", VipType: "VIP Gold", BaseDays: 7},
}

// VipTypeNone marks a user without a subscription.
const VipTypeNone = "NONE"

// VipEntitlement is the per-user subscription state.
type VipEntitlement struct {
	IsActive         bool
	VipType          string
	PackageID        PackageID
	PriorityScore    int
	StartedAt        time.Time
	ExpiredAt        time.Time
	DailyUsedSlots   int
	CurrentVipPosts  []PostID
	BonusPushCredits int64
	BonusLeadCredits int64
}

// IsVipCurrentlyValid is the single validity rule used by every read and
// mutation path: active and not past expiry.
func IsVipCurrentlyValid(vip VipEntitlement, now time.Time) bool {
	if !vip.IsActive {
		return false
	}
	return vip.ExpiredAt.IsZero() || !now.After(vip.ExpiredAt)
}

// isVipDue reports whether the expiry sweep must deactivate vip.
func isVipDue(vip VipEntitlement, now time.Time) bool {
	return vip.IsActive && !vip.ExpiredAt.IsZero() && !vip.ExpiredAt.After(now)
}

// extendExpiry returns the new expiry for an activation of days: added to the
// current expiry while still valid, otherwise counted from now.
func extendExpiry(vip VipEntitlement, now time.Time, days int) (time.Time, bool) {
	duration := time.Duration(days) * 24 * time.Hour
	if IsVipCurrentlyValid(vip, now) && vip.ExpiredAt.After(now) {
		return vip.ExpiredAt.Add(duration), true
	}
	return now.Add(duration), false
}

func (vip VipEntitlement) hasPost(postID PostID) bool {
	for _, current := range vip.CurrentVipPosts {
		if current == postID {
			return true
		}
	}
	return false
}

func (vip VipEntitlement) clone() VipEntitlement {
	cloned := vip
	cloned.CurrentVipPosts = append([]PostID(nil), vip.CurrentVipPosts...)
	return cloned
}

// EffectiveVip returns the entitlement as a reader should see it at now. An
// expired subscription reads as inactive without being persisted.
func EffectiveVip(vip VipEntitlement, now time.Time) VipEntitlement {
	effective := vip.clone()
	if vip.IsActive && !IsVipCurrentlyValid(vip, now) {
		effective.IsActive = false
		effective.PriorityScore = 0
	}
	return effective
}

// Profile holds the points balance, inventory, and VIP entitlement of a user.
type Profile struct {
	UserID    UserID
	Points    int64
	Inventory Inventory
	Vip       VipEntitlement
	Version   int64
	UpdatedAt time.Time
}

// NewProfile returns the zero-state profile created on first access.
func NewProfile(userID UserID) Profile {
	return Profile{
		UserID:    userID,
		Inventory: Inventory{}.Clone(),
		Vip:       VipEntitlement{VipType: VipTypeNone},
	}
}

// VipPackage is an admin-managed subscription definition.
type VipPackage struct {
	PackageID      PackageID
	Name           string
	Price          Amount
	DurationDays   int
	PriorityScore  int
	LimitViewPhone int
	PostLimit      int
	Description    string
	IsActive       bool
	IsPopular      bool
	CreatedAt      time.Time
}

// Validate checks the admin-supplied fields.
func (vipPackage VipPackage) Validate() error {
	if strings.TrimSpace(vipPackage.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPackage)
	}
	if vipPackage.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidPackage)
	}
	if vipPackage.DurationDays <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidPackage)
	}
	if vipPackage.PriorityScore < 0 || vipPackage.LimitViewPhone < 0 || vipPackage.PostLimit < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidPackage)
	}
	return nil
}
