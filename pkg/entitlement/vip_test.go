package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"
)

func (fixture *serviceFixture) activePost(test *testing.T, raw string, owner UserID) PostID {
	test.Helper()
	postID := mustPostID(test, raw)
	fixture.store.putPost(Post{PostID: postID, OwnerID: owner, Status: PostActive, ContactPhone: "0909" + raw})
	return postID
}

func TestAttachVipFlagsPostsAndConsumesSlots(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	vipPackage := goldPackage(test)
	fixture.store.putPackage(vipPackage)
	owner := mustUserID(test, "vip-owner")
	fixture.activeVip(test, owner, vipPackage, 10*24*time.Hour)
	first := fixture.activePost(test, "p1", owner)
	second := fixture.activePost(test, "p2", owner)
	third := fixture.activePost(test, "p3", owner)

	result, err := fixture.service.AttachVip(context.Background(), owner, []PostID{first, second})
	if err != nil {
		test.Fatalf("attach: %v", err)
	}
	if result.SlotLimit != 2 || result.Vip.DailyUsedSlots != 2 || len(result.Vip.CurrentVipPosts) != 2 {
		test.Fatalf("unexpected result %+v", result)
	}
	post := fixture.store.post(first)
	if !post.Vip.IsActive || post.Vip.PriorityScore != 30 || post.Vip.VipType != "VIP Gold" {
		test.Fatalf("expected post to carry vip flag, got %+v", post.Vip)
	}

	_, err = fixture.service.AttachVip(context.Background(), owner, []PostID{third})
	var quotaError QuotaError
	if !errors.As(err, &quotaError) || quotaError.NeedsVip || quotaError.Used != 2 || quotaError.Limit != 2 {
		test.Fatalf("expected slot quota error, got %v", err)
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		test.Fatalf("expected ErrQuotaExceeded in chain")
	}
	if fixture.store.post(third).Vip.IsActive {
		test.Fatalf("expected third post untouched")
	}
}

func TestAttachVipIsAllOrNothing(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	vipPackage := goldPackage(test)
	fixture.store.putPackage(vipPackage)
	owner := mustUserID(test, "vip-owner")
	fixture.activeVip(test, owner, vipPackage, 10*24*time.Hour)
	mine := fixture.activePost(test, "mine", owner)
	theirs := fixture.activePost(test, "theirs", mustUserID(test, "someone-else"))
	hidden := mustPostID(test, "hidden")
	fixture.store.putPost(Post{PostID: hidden, OwnerID: owner, Status: PostHidden})

	testCases := []struct {
		name    string
		postIDs []PostID
	}{
		{name: "foreign post", postIDs: []PostID{mine, theirs}},
		{name: "inactive post", postIDs: []PostID{mine, hidden}},
		{name: "missing post", postIDs: []PostID{mine, mustPostID(test, "ghost")}},
		{name: "no posts", postIDs: nil},
	}
	for _, testCase := range testCases {
		_, err := fixture.service.AttachVip(context.Background(), owner, testCase.postIDs)
		if !errors.Is(err, ErrInvalidPosts) {
			test.Fatalf("%s: expected ErrInvalidPosts, got %v", testCase.name, err)
		}
	}
	if fixture.store.post(mine).Vip.IsActive {
		test.Fatalf("expected no post to be flagged")
	}
	if profile := fixture.store.mustProfile(test, owner); profile.Vip.DailyUsedSlots != 0 {
		test.Fatalf("expected no slot consumed, got %d", profile.Vip.DailyUsedSlots)
	}
}

func TestAttachVipCountsRepeatedPostOnce(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	vipPackage := goldPackage(test)
	fixture.store.putPackage(vipPackage)
	owner := mustUserID(test, "vip-owner")
	fixture.activeVip(test, owner, vipPackage, 10*24*time.Hour)
	postID := fixture.activePost(test, "p1", owner)

	result, err := fixture.service.AttachVip(context.Background(), owner, []PostID{postID, postID, postID})
	if err != nil {
		test.Fatalf("attach: %v", err)
	}
	if len(result.Attached) != 1 || result.Attached[0] != postID {
		test.Fatalf("expected one attached post, got %v", result.Attached)
	}
	profile := fixture.store.mustProfile(test, owner)
	if profile.Vip.DailyUsedSlots != 1 {
		test.Fatalf("expected one slot consumed, got %d", profile.Vip.DailyUsedSlots)
	}
	if len(profile.Vip.CurrentVipPosts) != 1 || profile.Vip.CurrentVipPosts[0] != postID {
		test.Fatalf("expected post listed once, got %v", profile.Vip.CurrentVipPosts)
	}

	_, err = fixture.service.AttachVip(context.Background(), owner, []PostID{{}})
	if !errors.Is(err, ErrInvalidPosts) {
		test.Fatalf("expected ErrInvalidPosts for empty id, got %v", err)
	}
}

func TestAttachVipRequiresValidSubscription(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	vipPackage := goldPackage(test)
	fixture.store.putPackage(vipPackage)
	owner := mustUserID(test, "lapsed-owner")
	fixture.activeVip(test, owner, vipPackage, -time.Minute)
	postID := fixture.activePost(test, "p1", owner)

	_, err := fixture.service.AttachVip(context.Background(), owner, []PostID{postID})
	var quotaError QuotaError
	if !errors.As(err, &quotaError) || !quotaError.NeedsVip {
		test.Fatalf("expected NeedsVip quota error, got %v", err)
	}
}

func TestDetachVipKeepsConsumedSlots(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	vipPackage := goldPackage(test)
	fixture.store.putPackage(vipPackage)
	owner := mustUserID(test, "vip-owner")
	fixture.activeVip(test, owner, vipPackage, 10*24*time.Hour)
	postID := fixture.activePost(test, "p1", owner)
	foreign := fixture.activePost(test, "p9", mustUserID(test, "other"))
	if _, err := fixture.service.AttachVip(context.Background(), owner, []PostID{postID}); err != nil {
		test.Fatalf("attach: %v", err)
	}

	result, err := fixture.service.DetachVip(context.Background(), owner, []PostID{postID, foreign})
	if err != nil {
		test.Fatalf("detach: %v", err)
	}
	if len(result.Detached) != 1 || result.Detached[0] != postID {
		test.Fatalf("expected only own post detached, got %v", result.Detached)
	}
	if fixture.store.post(postID).Vip.IsActive {
		test.Fatalf("expected vip flag cleared")
	}
	profile := fixture.store.mustProfile(test, owner)
	if profile.Vip.DailyUsedSlots != 1 || len(profile.Vip.CurrentVipPosts) != 0 {
		test.Fatalf("expected slot kept and post list emptied, got %+v", profile.Vip)
	}
	if _, err := fixture.service.AttachVip(context.Background(), owner, []PostID{postID}); err != nil {
		test.Fatalf("re-attach within remaining slot: %v", err)
	}
	if _, err := fixture.service.AttachVip(context.Background(), owner, []PostID{fixture.activePost(test, "p2", owner)}); !errors.Is(err, ErrQuotaExceeded) {
		test.Fatalf("expected quota exhausted after re-attach, got %v", err)
	}
}

func (fixture *serviceFixture) expiredVipWithPosts(test *testing.T, raw string, posts ...string) UserID {
	test.Helper()
	owner := mustUserID(test, raw)
	vipPackage := goldPackage(test)
	fixture.activeVip(test, owner, vipPackage, -time.Minute)
	profile := fixture.store.mustProfile(test, owner)
	for _, rawPost := range posts {
		postID := fixture.activePost(test, rawPost, owner)
		fixture.store.putPost(Post{PostID: postID, OwnerID: owner, Status: PostActive, Vip: PostVip{IsActive: true, VipType: vipPackage.Name}})
		profile.Vip.CurrentVipPosts = append(profile.Vip.CurrentVipPosts, postID)
		profile.Vip.DailyUsedSlots++
	}
	fixture.store.putProfile(profile)
	return owner
}

func TestExpireVipDetachesPosts(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	fixture.store.putPackage(goldPackage(test))
	owner := fixture.expiredVipWithPosts(test, "expired-owner", "e1", "e2")
	fixture.activeVip(test, mustUserID(test, "still-valid"), goldPackage(test), time.Hour)

	report, err := fixture.service.ExpireVip(context.Background())
	if err != nil {
		test.Fatalf("expire: %v", err)
	}
	if report.Scanned != 1 || report.Applied != 1 || report.Failed != 0 {
		test.Fatalf("unexpected report %+v", report)
	}
	profile := fixture.store.mustProfile(test, owner)
	if profile.Vip.IsActive || profile.Vip.VipType != VipTypeNone || profile.Vip.PriorityScore != 0 || len(profile.Vip.CurrentVipPosts) != 0 {
		test.Fatalf("unexpected vip after expiry %+v", profile.Vip)
	}
	for _, raw := range []string{"e1", "e2"} {
		if fixture.store.post(mustPostID(test, raw)).Vip.IsActive {
			test.Fatalf("expected %s detached", raw)
		}
	}
	if kinds := fixture.notifier.kinds(AudienceUser); len(kinds) != 1 || kinds[0] != NotifyVipExpired {
		test.Fatalf("expected expiry notification, got %v", kinds)
	}
	again, err := fixture.service.ExpireVip(context.Background())
	if err != nil || again.Scanned != 0 {
		test.Fatalf("expected nothing left to expire, got %+v (%v)", again, err)
	}
}

func TestExpireVipIsolatesFailures(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	broken := fixture.expiredVipWithPosts(test, "owner-a", "a1")
	healthy := fixture.expiredVipWithPosts(test, "owner-b", "b1")
	fixture.store.failClearPostVipUser = broken.String()
	logger := &recorderLogger{}
	fixture.service.operationLogger = logger

	report, err := fixture.service.ExpireVip(context.Background())
	if err != nil {
		test.Fatalf("expire: %v", err)
	}
	if report.Scanned != 2 || report.Applied != 1 || report.Failed != 1 {
		test.Fatalf("unexpected report %+v", report)
	}
	if !fixture.store.mustProfile(test, broken).Vip.IsActive {
		test.Fatalf("expected failed account to stay for the next run")
	}
	if fixture.store.mustProfile(test, healthy).Vip.IsActive {
		test.Fatalf("expected healthy account expired")
	}
	if len(logger.entries) != 2 || logger.entries[0].Status != operationStatusError {
		test.Fatalf("unexpected operation logs %+v", logger.entries)
	}
}

func TestResetDailyQuotasClearsSlotsOnce(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	vipPackage := goldPackage(test)
	fixture.store.putPackage(vipPackage)
	owner := mustUserID(test, "daily-owner")
	fixture.activeVip(test, owner, vipPackage, 5*24*time.Hour)
	first := fixture.activePost(test, "d1", owner)
	second := fixture.activePost(test, "d2", owner)
	if _, err := fixture.service.AttachVip(context.Background(), owner, []PostID{first, second}); err != nil {
		test.Fatalf("attach: %v", err)
	}
	lapsed := fixture.expiredVipWithPosts(test, "daily-lapsed", "d3")

	report, err := fixture.service.ResetDailyQuotas(context.Background())
	if err != nil {
		test.Fatalf("reset: %v", err)
	}
	if report.Applied != 2 || report.Failed != 0 {
		test.Fatalf("unexpected report %+v", report)
	}
	profile := fixture.store.mustProfile(test, owner)
	if !profile.Vip.IsActive || profile.Vip.DailyUsedSlots != 0 || len(profile.Vip.CurrentVipPosts) != 0 {
		test.Fatalf("unexpected vip after reset %+v", profile.Vip)
	}
	if fixture.store.post(first).Vip.IsActive || fixture.store.post(second).Vip.IsActive {
		test.Fatalf("expected posts detached at the daily boundary")
	}
	if fixture.store.mustProfile(test, lapsed).Vip.IsActive {
		test.Fatalf("expected lapsed subscription expired by the reset")
	}

	again, err := fixture.service.ResetDailyQuotas(context.Background())
	if err != nil {
		test.Fatalf("second reset: %v", err)
	}
	if again.Applied != 0 {
		test.Fatalf("expected idempotent reset, got %+v", again)
	}
	if _, err := fixture.service.AttachVip(context.Background(), owner, []PostID{first, second}); err != nil {
		test.Fatalf("attach after reset: %v", err)
	}
}

func TestResetDailyQuotasPagesThroughUsers(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	fixture.service.sweepBatchSize = 2
	vipPackage := goldPackage(test)
	for _, raw := range []string{"u1", "u2", "u3", "u4", "u5"} {
		owner := mustUserID(test, raw)
		fixture.activeVip(test, owner, vipPackage, time.Hour)
		profile := fixture.store.mustProfile(test, owner)
		profile.Vip.DailyUsedSlots = 1
		fixture.store.putProfile(profile)
	}

	report, err := fixture.service.ResetDailyQuotas(context.Background())
	if err != nil {
		test.Fatalf("reset: %v", err)
	}
	if report.Scanned != 5 || report.Applied != 5 {
		test.Fatalf("expected every user reset, got %+v", report)
	}
}

func TestIsVipCurrentlyValid(test *testing.T) {
	test.Parallel()
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	testCases := []struct {
		name     string
		vip      VipEntitlement
		expected bool
	}{
		{name: "inactive", vip: VipEntitlement{ExpiredAt: now.Add(time.Hour)}, expected: false},
		{name: "active future expiry", vip: VipEntitlement{IsActive: true, ExpiredAt: now.Add(time.Hour)}, expected: true},
		{name: "active at expiry instant", vip: VipEntitlement{IsActive: true, ExpiredAt: now}, expected: true},
		{name: "active past expiry", vip: VipEntitlement{IsActive: true, ExpiredAt: now.Add(-time.Second)}, expected: false},
		{name: "active without expiry", vip: VipEntitlement{IsActive: true}, expected: true},
	}
	for _, testCase := range testCases {
		if valid := IsVipCurrentlyValid(testCase.vip, now); valid != testCase.expected {
			test.Fatalf("%s: expected %t, got %t", testCase.name, testCase.expected, valid)
		}
	}
}

func TestVipStatusSelfCorrectsWithoutWriting(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	vipPackage := goldPackage(test)
	fixture.store.putPackage(vipPackage)
	owner := mustUserID(test, "stale-owner")
	fixture.activeVip(test, owner, vipPackage, -time.Hour)

	status, err := fixture.service.VipStatus(context.Background(), owner)
	if err != nil {
		test.Fatalf("status: %v", err)
	}
	if status.Valid || status.Vip.IsActive || status.Vip.PriorityScore != 0 || status.Package != nil {
		test.Fatalf("expected expired view, got %+v", status)
	}
	if !fixture.store.mustProfile(test, owner).Vip.IsActive {
		test.Fatalf("read path must not persist the correction")
	}
}

func TestVipStatusReportsUsage(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	vipPackage := goldPackage(test)
	fixture.store.putPackage(vipPackage)
	owner := mustUserID(test, "status-owner")
	fixture.activeVip(test, owner, vipPackage, time.Hour)
	if _, err := fixture.service.AttachVip(context.Background(), owner, []PostID{fixture.activePost(test, "s1", owner)}); err != nil {
		test.Fatalf("attach: %v", err)
	}

	status, err := fixture.service.VipStatus(context.Background(), owner)
	if err != nil {
		test.Fatalf("status: %v", err)
	}
	if !status.Valid || status.Package == nil || status.Package.PackageID != vipPackage.PackageID {
		test.Fatalf("unexpected status %+v", status)
	}
	if status.Slots != (Usage{Today: 1, Limit: 2}) || status.PhoneViews != (Usage{Today: 0, Limit: 2}) {
		test.Fatalf("unexpected usage %+v / %+v", status.Slots, status.PhoneViews)
	}
}

func TestOverrideVipExpiry(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	vipPackage := goldPackage(test)
	fixture.store.putPackage(vipPackage)
	owner := mustUserID(test, "override-owner")
	fixture.activeVip(test, owner, vipPackage, time.Hour)
	postID := fixture.activePost(test, "o1", owner)
	if _, err := fixture.service.AttachVip(context.Background(), owner, []PostID{postID}); err != nil {
		test.Fatalf("attach: %v", err)
	}
	admin := adminActor(test)
	ctx := context.Background()

	later := fixture.clock.Now().Add(72 * time.Hour)
	vip, err := fixture.service.OverrideVipExpiry(ctx, admin, owner, later)
	if err != nil {
		test.Fatalf("extend: %v", err)
	}
	if !vip.IsActive || !vip.ExpiredAt.Equal(later) {
		test.Fatalf("unexpected vip %+v", vip)
	}

	vip, err = fixture.service.OverrideVipExpiry(ctx, admin, owner, fixture.clock.Now().Add(-time.Minute))
	if err != nil {
		test.Fatalf("end: %v", err)
	}
	if vip.IsActive || len(vip.CurrentVipPosts) != 0 || fixture.store.post(postID).Vip.IsActive {
		test.Fatalf("expected immediate expiry with detach, got %+v", vip)
	}

	if _, err := fixture.service.OverrideVipExpiry(ctx, admin, owner, later); !errors.Is(err, ErrNotFound) {
		test.Fatalf("expected ErrNotFound without subscription, got %v", err)
	}
	if _, err := fixture.service.OverrideVipExpiry(ctx, Actor{UserID: owner, Role: RoleUser}, owner, later); !errors.Is(err, ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
}
