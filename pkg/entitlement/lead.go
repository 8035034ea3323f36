package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Usage is a daily quota reading.
type Usage struct {
	Today int64
	Limit int64
}

// PhoneReveal is the result of ShowPhone.
type PhoneReveal struct {
	Phone            string
	Usage            Usage
	Charged          bool
	Source           LeadSource
	BonusLeadCredits int64
}

// ShowPhone reveals the seller phone of a post. A pair already revealed is
// returned without charge; otherwise the daily VIP quota is used first and a
// bonus lead credit second.
func (service *Service) ShowPhone(ctx context.Context, userID UserID, postID PostID) (PhoneReveal, error) {
	var reveal PhoneReveal
	err := service.mutate(ctx, []UserID{userID}, func(ctx context.Context, scope *txScope) error {
		post, err := scope.store.GetPost(ctx, postID)
		if err != nil {
			return err
		}
		profile, err := scope.store.GetOrCreateProfile(ctx, userID)
		if err != nil {
			return err
		}
		limit, err := leadLimit(ctx, scope.store, profile.Vip, scope.now)
		if err != nil {
			return err
		}
		dayStart := service.startOfDay(scope.now)
		reveal = PhoneReveal{Phone: post.ContactPhone, BonusLeadCredits: profile.Vip.BonusLeadCredits}
		if post.OwnerID == userID {
			reveal.Usage, err = leadUsage(ctx, scope.store, userID, dayStart, limit)
			return err
		}
		existing, found, err := scope.store.FindLead(ctx, userID, postID, LeadShowPhone)
		if err != nil {
			return err
		}
		if found {
			reveal.Source = existing.Source
			reveal.Usage, err = leadUsage(ctx, scope.store, userID, dayStart, limit)
			return err
		}
		today, err := scope.store.CountLeadsSince(ctx, userID, LeadShowPhone, dayStart)
		if err != nil {
			return err
		}
		source := LeadSourceVip
		if today >= limit {
			if profile.Vip.BonusLeadCredits <= 0 {
				return QuotaError{
					Resource: "phone reveals",
					NeedsVip: !IsVipCurrentlyValid(profile.Vip, scope.now),
					Used:     today,
					Limit:    limit,
				}
			}
			profile.Vip.BonusLeadCredits--
			profile.UpdatedAt = scope.now
			if err := scope.store.SaveProfile(ctx, profile); err != nil {
				return err
			}
			source = LeadSourceCredit
		}
		lead := Lead{
			LeadID:    uuid.NewString(),
			PostID:    postID,
			BuyerID:   userID,
			SellerID:  post.OwnerID,
			Type:      LeadShowPhone,
			Source:    source,
			CreatedAt: scope.now,
		}
		if err := scope.store.InsertLead(ctx, lead); err != nil {
			return err
		}
		scope.notifyUser(post.OwnerID, NotifyLead, fmt.Sprintf("A buyer viewed your phone number on post %s.", postID), lead.LeadID)
		reveal.Charged = true
		reveal.Source = source
		reveal.BonusLeadCredits = profile.Vip.BonusLeadCredits
		reveal.Usage, err = leadUsage(ctx, scope.store, userID, dayStart, limit)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationShowPhone,
		UserID:    userID,
		Subject:   postID.String(),
		Error:     err,
	})
	if err != nil {
		return PhoneReveal{}, err
	}
	return reveal, nil
}

func leadLimit(ctx context.Context, store PackageStore, vip VipEntitlement, now time.Time) (int64, error) {
	if !IsVipCurrentlyValid(vip, now) {
		return 0, nil
	}
	vipPackage, err := packageLimits(ctx, store, vip)
	if err != nil {
		return 0, err
	}
	return int64(vipPackage.LimitViewPhone), nil
}

func leadUsage(ctx context.Context, store LeadStore, userID UserID, dayStart time.Time, limit int64) (Usage, error) {
	today, err := store.CountLeadsSince(ctx, userID, LeadShowPhone, dayStart)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Today: today, Limit: limit}, nil
}
