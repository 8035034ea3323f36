package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AttachResult reports an attach operation.
type AttachResult struct {
	Vip       VipEntitlement
	Attached  []PostID
	SlotLimit int
}

// DetachResult reports a detach operation.
type DetachResult struct {
	Vip      VipEntitlement
	Detached []PostID
}

// activateVip starts or extends the subscription by days and reports whether
// it extended an unexpired one.
func activateVip(vip *VipEntitlement, now time.Time, days int, vipType string, vipPackage *VipPackage) bool {
	expiredAt, extended := extendExpiry(*vip, now, days)
	if !extended {
		vip.StartedAt = now
	}
	vip.IsActive = true
	vip.ExpiredAt = expiredAt
	vip.VipType = vipType
	if vipPackage != nil {
		vip.PackageID = vipPackage.PackageID
		vip.PriorityScore = vipPackage.PriorityScore
	}
	return extended
}

// deactivateVip applies the expiry transition and returns the posts that
// must lose their VIP flag.
func deactivateVip(vip *VipEntitlement) []PostID {
	detached := vip.CurrentVipPosts
	vip.IsActive = false
	vip.VipType = VipTypeNone
	vip.PriorityScore = 0
	vip.PackageID = PackageID{}
	vip.CurrentVipPosts = nil
	return detached
}

func vipActivationMessage(vipType string, vip VipEntitlement, extended bool) string {
	expiry := vip.ExpiredAt.UTC().Format(time.RFC3339)
	if extended {
		return fmt.Sprintf("%s extended until %s.", vipType, expiry)
	}
	return fmt.Sprintf("%s activated until %s.", vipType, expiry)
}

// packageLimits returns the package backing vip, or a zero package when the
// subscription has none or it was removed.
func packageLimits(ctx context.Context, store PackageStore, vip VipEntitlement) (VipPackage, error) {
	if vip.PackageID.IsZero() {
		return VipPackage{}, nil
	}
	vipPackage, err := store.GetPackage(ctx, vip.PackageID)
	if errors.Is(err, ErrNotFound) {
		return VipPackage{}, nil
	}
	return vipPackage, err
}

// AttachVip flags the given posts as VIP, consuming daily slots. Either every
// post is attached or none is.
func (service *Service) AttachVip(ctx context.Context, userID UserID, postIDs []PostID) (AttachResult, error) {
	var result AttachResult
	postIDs = uniquePostIDs(postIDs)
	err := service.mutate(ctx, []UserID{userID}, func(ctx context.Context, scope *txScope) error {
		if len(postIDs) == 0 {
			return fmt.Errorf("%w: no posts given", ErrInvalidPosts)
		}
		for _, postID := range postIDs {
			if postID.value == "" {
				return fmt.Errorf("%w: empty post id", ErrInvalidPosts)
			}
		}
		profile, err := scope.store.GetOrCreateProfile(ctx, userID)
		if err != nil {
			return err
		}
		if !IsVipCurrentlyValid(profile.Vip, scope.now) {
			return QuotaError{Resource: "vip post slots", NeedsVip: true}
		}
		vipPackage, err := packageLimits(ctx, scope.store, profile.Vip)
		if err != nil {
			return err
		}
		if profile.Vip.DailyUsedSlots+len(postIDs) > vipPackage.PostLimit {
			return QuotaError{
				Resource: "vip post slots",
				Used:     int64(profile.Vip.DailyUsedSlots),
				Limit:    int64(vipPackage.PostLimit),
			}
		}
		posts, err := scope.store.GetPosts(ctx, postIDs)
		if err != nil {
			return err
		}
		if invalid := invalidAttachTargets(userID, postIDs, posts); len(invalid) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidPosts, strings.Join(invalid, ", "))
		}
		if err := scope.store.SetPostVip(ctx, postIDs, PostVip{
			IsActive:      true,
			VipType:       profile.Vip.VipType,
			PriorityScore: profile.Vip.PriorityScore,
			ExpiredAt:     profile.Vip.ExpiredAt,
		}); err != nil {
			return err
		}
		profile.Vip.DailyUsedSlots += len(postIDs)
		profile.Vip.CurrentVipPosts = append(append([]PostID(nil), profile.Vip.CurrentVipPosts...), postIDs...)
		profile.UpdatedAt = scope.now
		if err := scope.store.SaveProfile(ctx, profile); err != nil {
			return err
		}
		scope.notifyUser(userID, NotifyVip, fmt.Sprintf("%d posts are now promoted as VIP.", len(postIDs)), "")
		result = AttachResult{Vip: profile.Vip, Attached: postIDs, SlotLimit: vipPackage.PostLimit}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAttachVip,
		UserID:    userID,
		Subject:   joinPostIDs(postIDs),
		Amount:    int64(len(postIDs)),
		Error:     err,
	})
	if err != nil {
		return AttachResult{}, err
	}
	return result, nil
}

// uniquePostIDs drops repeated ids, keeping the first occurrence order.
func uniquePostIDs(postIDs []PostID) []PostID {
	seen := make(map[PostID]struct{}, len(postIDs))
	unique := make([]PostID, 0, len(postIDs))
	for _, postID := range postIDs {
		if _, duplicate := seen[postID]; duplicate {
			continue
		}
		seen[postID] = struct{}{}
		unique = append(unique, postID)
	}
	return unique
}

func invalidAttachTargets(userID UserID, requested []PostID, posts []Post) []string {
	byID := make(map[PostID]Post, len(posts))
	for _, post := range posts {
		byID[post.PostID] = post
	}
	invalid := make([]string, 0)
	for _, postID := range requested {
		post, ok := byID[postID]
		switch {
		case !ok:
			invalid = append(invalid, postID.String()+" not found")
		case post.OwnerID != userID:
			invalid = append(invalid, postID.String()+" not owned")
		case post.Status != PostActive:
			invalid = append(invalid, postID.String()+" not active")
		case post.Vip.IsActive:
			invalid = append(invalid, postID.String()+" already vip")
		}
	}
	return invalid
}

// DetachVip clears the VIP flag of the caller's posts among postIDs. Slots
// consumed today are not refunded.
func (service *Service) DetachVip(ctx context.Context, userID UserID, postIDs []PostID) (DetachResult, error) {
	var result DetachResult
	postIDs = uniquePostIDs(postIDs)
	err := service.mutate(ctx, []UserID{userID}, func(ctx context.Context, scope *txScope) error {
		profile, err := scope.store.GetOrCreateProfile(ctx, userID)
		if err != nil {
			return err
		}
		posts, err := scope.store.GetPosts(ctx, postIDs)
		if err != nil {
			return err
		}
		owned := make([]PostID, 0, len(posts))
		for _, post := range posts {
			if post.OwnerID == userID {
				owned = append(owned, post.PostID)
			}
		}
		if len(owned) > 0 {
			if err := scope.store.ClearPostVip(ctx, userID, owned); err != nil {
				return err
			}
		}
		remaining := make([]PostID, 0, len(profile.Vip.CurrentVipPosts))
		removed := make(map[PostID]struct{}, len(owned))
		for _, postID := range owned {
			removed[postID] = struct{}{}
		}
		for _, postID := range profile.Vip.CurrentVipPosts {
			if _, drop := removed[postID]; !drop {
				remaining = append(remaining, postID)
			}
		}
		if len(remaining) != len(profile.Vip.CurrentVipPosts) {
			profile.Vip.CurrentVipPosts = remaining
			profile.UpdatedAt = scope.now
			if err := scope.store.SaveProfile(ctx, profile); err != nil {
				return err
			}
		}
		result = DetachResult{Vip: profile.Vip, Detached: owned}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDetachVip,
		UserID:    userID,
		Subject:   joinPostIDs(postIDs),
		Amount:    int64(len(result.Detached)),
		Error:     err,
	})
	if err != nil {
		return DetachResult{}, err
	}
	return result, nil
}

// OverrideVipExpiry lets an admin move the expiry of a subscription. An
// expiry at or before now expires it immediately, detaching its posts.
func (service *Service) OverrideVipExpiry(ctx context.Context, actor Actor, userID UserID, expiredAt time.Time) (VipEntitlement, error) {
	var vip VipEntitlement
	err := requireAdmin(actor)
	if err == nil {
		err = service.mutate(ctx, []UserID{userID}, func(ctx context.Context, scope *txScope) error {
			profile, err := scope.store.GetProfile(ctx, userID)
			if err != nil {
				return err
			}
			if profile.Vip.VipType == "" || profile.Vip.VipType == VipTypeNone {
				return fmt.Errorf("%w: user has no vip subscription", ErrNotFound)
			}
			if expiredAt.After(scope.now) {
				profile.Vip.IsActive = true
				profile.Vip.ExpiredAt = expiredAt
				scope.notifyUser(userID, NotifyVip, fmt.Sprintf("Your VIP now expires at %s.", expiredAt.UTC().Format(time.RFC3339)), "")
			} else {
				profile.Vip.ExpiredAt = expiredAt
				detached := deactivateVip(&profile.Vip)
				if len(detached) > 0 {
					if err := scope.store.ClearPostVip(ctx, userID, detached); err != nil {
						return err
					}
				}
				scope.notifyUser(userID, NotifyVipExpired, "Your VIP subscription was ended by an administrator.", "")
			}
			profile.UpdatedAt = scope.now
			if err := scope.store.SaveProfile(ctx, profile); err != nil {
				return err
			}
			vip = profile.Vip
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationOverrideExpiry,
		UserID:    userID,
		Subject:   actor.UserID.String(),
		Error:     err,
	})
	return vip, err
}

func joinPostIDs(postIDs []PostID) string {
	values := make([]string, 0, len(postIDs))
	for _, postID := range postIDs {
		values = append(values, postID.String())
	}
	return strings.Join(values, ",")
}
