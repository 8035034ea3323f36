package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"
)

func (fixture *serviceFixture) profileWith(test *testing.T, raw string, points int64, inventory Inventory) UserID {
	test.Helper()
	userID := mustUserID(test, raw)
	profile := NewProfile(userID)
	profile.Points = points
	for kind, quantity := range inventory {
		profile.Inventory[kind] = quantity
	}
	fixture.store.putProfile(profile)
	return userID
}

func TestRedeemRewardRequiresPoints(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	userID := fixture.profileWith(test, "points-poor", 40, nil)

	_, err := fixture.service.RedeemReward(context.Background(), userID, string(RewardPostPush))
	if !errors.Is(err, ErrInsufficientPoints) {
		test.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
	profile := fixture.store.mustProfile(test, userID)
	if profile.Points != 40 || profile.Inventory.Quantity(ItemPostPush) != 0 {
		test.Fatalf("expected untouched profile, got %+v", profile)
	}
	if logs := fixture.store.pointLogsFor(userID); len(logs) != 0 {
		test.Fatalf("expected no point logs, got %d", len(logs))
	}
}

func TestRedeemRewardAddsInventory(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	userID := fixture.profileWith(test, "points-rich", 120, nil)

	result, err := fixture.service.RedeemReward(context.Background(), userID, "lead_credit")
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	if result.Reward.Key != RewardLeadCredit || result.Profile.Points != 70 {
		test.Fatalf("unexpected result %+v", result)
	}
	profile := fixture.store.mustProfile(test, userID)
	if profile.Inventory.Quantity(ItemLeadCredit) != 1 {
		test.Fatalf("expected one lead credit item, got %d", profile.Inventory.Quantity(ItemLeadCredit))
	}
	logs := fixture.store.pointLogsFor(userID)
	if len(logs) != 1 || logs[0].Type != PointSpend || logs[0].Points != 50 || logs[0].Action != "REDEEM_LEAD_CREDIT" {
		test.Fatalf("unexpected logs %+v", logs)
	}
	_, err = fixture.service.RedeemReward(context.Background(), userID, "ITEM_UNKNOWN")
	if !errors.Is(err, ErrInvalidRewardKey) {
		test.Fatalf("expected ErrInvalidRewardKey, got %v", err)
	}
}

func TestUseLeadCreditItems(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	userID := fixture.profileWith(test, "lead-user", 0, Inventory{ItemLeadCredit: 2})

	result, err := fixture.service.UseInventoryItem(context.Background(), userID, string(ItemLeadCredit), 2)
	if err != nil {
		test.Fatalf("use: %v", err)
	}
	if result.Profile.Vip.BonusLeadCredits != 2 || result.Profile.Inventory.Quantity(ItemLeadCredit) != 0 {
		test.Fatalf("unexpected profile %+v", result.Profile)
	}
	logs := fixture.store.pointLogsFor(userID)
	if len(logs) != 1 || logs[0].Action != "USE_LEAD_CREDIT" || logs[0].Points != 0 {
		test.Fatalf("unexpected logs %+v", logs)
	}
}

func TestUsePostPushItemByRewardKey(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	userID := fixture.profileWith(test, "push-user", 0, Inventory{ItemPostPush: 3})

	result, err := fixture.service.UseInventoryItem(context.Background(), userID, string(RewardPostPush), 1)
	if err != nil {
		test.Fatalf("use: %v", err)
	}
	if result.Profile.Vip.BonusPushCredits != 1 || result.Profile.Inventory.Quantity(ItemPostPush) != 2 {
		test.Fatalf("unexpected profile %+v", result.Profile)
	}
}

func TestUseVipItemExtendsUnexpiredSubscription(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	silver := VipPackage{
		PackageID:      mustPackageID(test, "pkg-silver"),
		Name:           "VIP Silver",
		Price:          150000,
		DurationDays:   30,
		PriorityScore:  20,
		LimitViewPhone: 1,
		PostLimit:      1,
		IsActive:       true,
	}
	fixture.store.putPackage(silver)
	userID := mustUserID(test, "silver-user")
	fixture.activeVip(test, userID, goldPackage(test), 2*24*time.Hour)
	profile := fixture.store.mustProfile(test, userID)
	profile.Inventory[ItemVipSilver3Day] = 1
	fixture.store.putProfile(profile)

	result, err := fixture.service.UseInventoryItem(context.Background(), userID, string(ItemVipSilver3Day), 1)
	if err != nil {
		test.Fatalf("use: %v", err)
	}
	expected := fixture.clock.Now().Add(5 * 24 * time.Hour)
	if !result.Extended || !result.Profile.Vip.ExpiredAt.Equal(expected) {
		test.Fatalf("expected extension to %s, got %+v", expected, result.Profile.Vip)
	}
	if result.Profile.Vip.VipType != "VIP Silver" || result.Profile.Vip.PackageID != silver.PackageID || result.Profile.Vip.PriorityScore != 20 {
		test.Fatalf("expected silver tier, got %+v", result.Profile.Vip)
	}
}

func TestUseVipItemStartsSubscriptionWithoutPackage(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	userID := fixture.profileWith(test, "bronze-user", 0, Inventory{ItemVipBronze1Day: 2})

	result, err := fixture.service.UseInventoryItem(context.Background(), userID, string(ItemVipBronze1Day), 2)
	if err != nil {
		test.Fatalf("use: %v", err)
	}
	vip := result.Profile.Vip
	if result.Extended || !vip.IsActive || !vip.StartedAt.Equal(fixture.clock.Now()) {
		test.Fatalf("expected fresh activation, got %+v", vip)
	}
	if !vip.ExpiredAt.Equal(fixture.clock.Now().Add(2 * 24 * time.Hour)) {
		test.Fatalf("expected two days, got %s", vip.ExpiredAt)
	}
	if !vip.PackageID.IsZero() || vip.VipType != "VIP Bronze" {
		test.Fatalf("expected bronze tier without package, got %+v", vip)
	}
}

func TestUseInventoryItemRejectsBadInput(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		item     string
		quantity int64
		expected error
	}{
		{name: "zero quantity", item: string(ItemPostPush), quantity: 0, expected: ErrInvalidQuantity},
		{name: "more than owned", item: string(ItemPostPush), quantity: 2, expected: ErrInvalidQuantity},
		{name: "unknown item", item: "vipDiamond", quantity: 1, expected: ErrInvalidItemKind},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			fixture := newServiceFixture(test)
			userID := fixture.profileWith(test, "item-user", 0, Inventory{ItemPostPush: 1})

			_, err := fixture.service.UseInventoryItem(context.Background(), userID, testCase.item, testCase.quantity)
			if !errors.Is(err, testCase.expected) {
				test.Fatalf("expected %v, got %v", testCase.expected, err)
			}
			if quantity := fixture.store.mustProfile(test, userID).Inventory.Quantity(ItemPostPush); quantity != 1 {
				test.Fatalf("expected inventory untouched, got %d", quantity)
			}
		})
	}
}

func TestAdjustUserPoints(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name           string
		amount         int64
		expectedPoints int64
		expectedType   PointLogType
		expectedLogged int64
		expectedKind   NotificationKind
	}{
		{name: "credit", amount: 50, expectedPoints: 150, expectedType: PointEarn, expectedLogged: 50, expectedKind: NotifyAdjustment},
		{name: "debit", amount: -30, expectedPoints: 70, expectedType: PointSpend, expectedLogged: 30, expectedKind: NotifyAdjustment},
		{name: "warning only", amount: 0, expectedPoints: 100, expectedType: PointSpend, expectedLogged: 0, expectedKind: NotifyWarning},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			fixture := newServiceFixture(test)
			userID := fixture.profileWith(test, "adjusted", 100, nil)

			profile, err := fixture.service.AdjustUserPoints(context.Background(), adminActor(test), userID, testCase.amount, "moderation")
			if err != nil {
				test.Fatalf("adjust: %v", err)
			}
			if profile.Points != testCase.expectedPoints {
				test.Fatalf("expected %d points, got %d", testCase.expectedPoints, profile.Points)
			}
			logs := fixture.store.pointLogsFor(userID)
			if len(logs) != 1 {
				test.Fatalf("expected one log, got %d", len(logs))
			}
			entry := logs[0]
			if entry.Action != ActionAdminAdjustment || entry.Type != testCase.expectedType || entry.Points != testCase.expectedLogged || entry.RelatedID != "admin-1" {
				test.Fatalf("unexpected log %+v", entry)
			}
			if kinds := fixture.notifier.kinds(AudienceUser); len(kinds) != 1 || kinds[0] != testCase.expectedKind {
				test.Fatalf("expected %s notification, got %v", testCase.expectedKind, kinds)
			}
		})
	}
}

func TestAdjustUserPointsRejections(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	userID := fixture.profileWith(test, "guarded", 100, nil)
	ctx := context.Background()

	if _, err := fixture.service.AdjustUserPoints(ctx, adminActor(test), userID, -101, "too much"); !errors.Is(err, ErrInsufficientPoints) {
		test.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
	if _, err := fixture.service.AdjustUserPoints(ctx, Actor{UserID: userID, Role: RoleUser}, userID, 10, "self"); !errors.Is(err, ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := fixture.service.AdjustUserPoints(ctx, adminActor(test), mustUserID(test, "newcomer"), -5, "penalty"); !errors.Is(err, ErrInsufficientPoints) {
		test.Fatalf("expected ErrInsufficientPoints for a fresh user, got %v", err)
	}
	if profile := fixture.store.mustProfile(test, userID); profile.Points != 100 {
		test.Fatalf("expected untouched balance, got %d", profile.Points)
	}
	if logs := fixture.store.pointLogsFor(userID); len(logs) != 0 {
		test.Fatalf("expected no logs, got %d", len(logs))
	}
}

func TestAdjustUserPointsCreatesMissingProfile(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	userID := mustUserID(test, "fresh")

	profile, err := fixture.service.AdjustUserPoints(context.Background(), adminActor(test), userID, 100, "prize")
	if err != nil {
		test.Fatalf("adjust fresh user: %v", err)
	}
	if profile.Points != 100 {
		test.Fatalf("expected 100 points, got %d", profile.Points)
	}
	if stored := fixture.store.mustProfile(test, userID); stored.Points != 100 {
		test.Fatalf("expected stored balance 100, got %d", stored.Points)
	}
	if logs := fixture.store.pointLogsFor(userID); len(logs) != 1 || logs[0].Action != ActionAdminAdjustment {
		test.Fatalf("expected one adjustment log, got %+v", logs)
	}
}

func TestAddPointsCreditsProfile(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	userID := mustUserID(test, "earner")

	profile, err := fixture.service.AddPoints(context.Background(), userID, ActionPostCreated, 10, "post-1")
	if err != nil {
		test.Fatalf("add points: %v", err)
	}
	if profile.Points != 10 {
		test.Fatalf("expected 10 points, got %d", profile.Points)
	}
	if _, err := fixture.service.AddPoints(context.Background(), userID, ActionPostCreated, 0, ""); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	stats, err := fixture.service.PointStats(context.Background(), adminActor(test))
	if err != nil {
		test.Fatalf("stats: %v", err)
	}
	if stats.TotalAvailable != 10 || stats.TotalDistributed != 10 || stats.TotalRedeemed != 0 {
		test.Fatalf("unexpected stats %+v", stats)
	}
}
