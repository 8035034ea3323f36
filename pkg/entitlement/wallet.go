package entitlement

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var paymentMemoPattern = regexp.MustCompile(`(?i)` + paymentMemoKeyword + `\s+([A-Za-z0-9_-]+)`)

// TopUpResult reports the effect of a credited top-up.
type TopUpResult struct {
	Wallet       WalletAccount
	Entry        LedgerEntry
	PointsEarned int64
	FirstTopUp   bool
}

// PaymentStatus is the outcome of a webhook payment event.
type PaymentStatus string

const (
	PaymentApplied   PaymentStatus = "applied"
	PaymentDuplicate PaymentStatus = "duplicate"
	PaymentUnmatched PaymentStatus = "unmatched"
)

// PaymentOutcome reports how a payment event was handled.
type PaymentOutcome struct {
	Status PaymentStatus
	UserID UserID
	TopUp  TopUpResult
}

// PurchaseResult reports the effect of a VIP purchase.
type PurchaseResult struct {
	Wallet  WalletAccount
	Entry   LedgerEntry
	Vip     VipEntitlement
	Package VipPackage
}

// TopUp credits amount to the wallet and accrues points: one point per 1000
// units plus a one-time bonus on the first top-up.
func (service *Service) TopUp(ctx context.Context, userID UserID, amount Amount, source string) (TopUpResult, error) {
	result, err := service.topUp(ctx, userID, amount, source, "")
	service.logOperation(ctx, OperationLog{
		Operation: operationTopUp,
		UserID:    userID,
		Subject:   source,
		Amount:    amount.Int64(),
		Error:     err,
	})
	return result, err
}

// ApplyPaymentEvent credits a confirmed bank transfer. The user is resolved
// from a registered payment intent; when lenient memo parsing is enabled the
// memo token may also name a known user directly. Replayed external
// references are reported as duplicates without effect.
func (service *Service) ApplyPaymentEvent(ctx context.Context, event PaymentEvent) (PaymentOutcome, error) {
	outcome, err := service.applyPaymentEvent(ctx, event)
	service.logOperation(ctx, OperationLog{
		Operation: operationApplyPayment,
		UserID:    outcome.UserID,
		Subject:   string(outcome.Status) + ":" + event.ExternalRef,
		Amount:    event.Amount,
		Error:     err,
	})
	return outcome, err
}

func (service *Service) applyPaymentEvent(ctx context.Context, event PaymentEvent) (PaymentOutcome, error) {
	externalRef := strings.TrimSpace(event.ExternalRef)
	if externalRef == "" {
		return PaymentOutcome{}, fmt.Errorf("%w: external reference is required", ErrInvalidPaymentEvent)
	}
	amount, err := NewPositiveAmount(event.Amount)
	if err != nil {
		return PaymentOutcome{}, err
	}
	userID, matched, err := service.resolvePaymentUser(ctx, event)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if !matched {
		service.logger.Sugar().Warnw("payment event did not match any user", "external_ref", externalRef, "memo", event.Memo)
		return PaymentOutcome{Status: PaymentUnmatched}, nil
	}
	source := strings.TrimSpace(event.Gateway)
	if source == "" {
		source = "bank transfer"
	}
	result, err := service.topUp(ctx, userID, amount, source, externalRef)
	if errors.Is(err, ErrDuplicateExternalRef) {
		return PaymentOutcome{Status: PaymentDuplicate, UserID: userID}, nil
	}
	if err != nil {
		return PaymentOutcome{UserID: userID}, err
	}
	return PaymentOutcome{Status: PaymentApplied, UserID: userID, TopUp: result}, nil
}

func (service *Service) resolvePaymentUser(ctx context.Context, event PaymentEvent) (UserID, bool, error) {
	if code := strings.TrimSpace(event.IntentCode); code != "" {
		return service.lookupIntent(ctx, code)
	}
	match := paymentMemoPattern.FindStringSubmatch(event.Memo)
	if len(match) < 2 {
		return UserID{}, false, nil
	}
	token := match[1]
	userID, matched, err := service.lookupIntent(ctx, token)
	if err != nil || matched || !service.lenientMemo {
		return userID, matched, err
	}
	candidate, err := NewUserID(token)
	if err != nil {
		return UserID{}, false, nil
	}
	if _, err := service.store.GetProfile(ctx, candidate); err != nil {
		if errors.Is(err, ErrNotFound) {
			return UserID{}, false, nil
		}
		return UserID{}, false, err
	}
	return candidate, true, nil
}

func (service *Service) lookupIntent(ctx context.Context, code string) (UserID, bool, error) {
	intent, err := service.store.FindPaymentIntent(ctx, strings.ToUpper(code))
	if errors.Is(err, ErrNotFound) {
		return UserID{}, false, nil
	}
	if err != nil {
		return UserID{}, false, err
	}
	return intent.UserID, true, nil
}

// CreateTopUpIntent returns the standing memo code that routes bank transfers
// to userID.
func (service *Service) CreateTopUpIntent(ctx context.Context, userID UserID) (PaymentIntent, error) {
	candidate := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:paymentIntentCodeLength]
	return service.store.GetOrCreatePaymentIntent(ctx, userID, candidate)
}

// PaymentMemo renders the transfer memo for an intent.
func PaymentMemo(intent PaymentIntent) string {
	return paymentMemoKeyword + " " + intent.Code
}

func (service *Service) topUp(ctx context.Context, userID UserID, amount Amount, source string, externalRef string) (TopUpResult, error) {
	if amount <= 0 {
		return TopUpResult{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	var result TopUpResult
	err := service.mutate(ctx, []UserID{userID}, func(ctx context.Context, scope *txScope) error {
		wallet, err := scope.store.GetOrCreateWallet(ctx, userID)
		if err != nil {
			return err
		}
		firstTopUp := wallet.TotalTopUp == 0
		wallet.Balance += amount
		wallet.TotalTopUp += amount
		wallet.UpdatedAt = scope.now
		entry := LedgerEntry{
			EntryID:      uuid.NewString(),
			UserID:       userID,
			Type:         EntryTopUp,
			Amount:       amount,
			BalanceAfter: wallet.Balance,
			ExternalRef:  externalRef,
			Description:  fmt.Sprintf("top-up via %s", source),
			CreatedAt:    scope.now,
		}
		if err := scope.store.InsertLedgerEntry(ctx, entry); err != nil {
			return err
		}
		if err := scope.store.SaveWallet(ctx, wallet); err != nil {
			return err
		}
		points := topUpPoints(amount, firstTopUp)
		if points > 0 {
			action := ActionTopUpReward
			description := fmt.Sprintf("top-up of %d", amount)
			if firstTopUp {
				action = ActionFirstTopUpBonus
				description = fmt.Sprintf("first top-up of %d including %d bonus points", amount, firstTopUpBonusPoints)
			}
			profile, err := scope.store.GetOrCreateProfile(ctx, userID)
			if err != nil {
				return err
			}
			if err := earnPoints(ctx, scope, &profile, points, action, entry.EntryID, description); err != nil {
				return err
			}
			if err := scope.store.SaveProfile(ctx, profile); err != nil {
				return err
			}
		}
		scope.notifyUser(userID, NotifyTopUp, fmt.Sprintf("Top-up of %d succeeded. New balance: %d.", amount, wallet.Balance), entry.EntryID)
		if points > 0 {
			scope.notifyUser(userID, NotifyPoints, fmt.Sprintf("You earned %d points from your top-up.", points), entry.EntryID)
		}
		result = TopUpResult{Wallet: wallet, Entry: entry, PointsEarned: points, FirstTopUp: firstTopUp}
		return nil
	})
	if err != nil {
		return TopUpResult{}, err
	}
	return result, nil
}

func topUpPoints(amount Amount, firstTopUp bool) int64 {
	points := amount.Int64() / pointsPerTopUpUnit
	if firstTopUp {
		points += firstTopUpBonusPoints
	}
	return points
}

// PurchaseVip pays for a package from the wallet and activates or extends the
// subscription.
func (service *Service) PurchaseVip(ctx context.Context, userID UserID, packageID PackageID) (PurchaseResult, error) {
	var result PurchaseResult
	err := service.mutate(ctx, []UserID{userID}, func(ctx context.Context, scope *txScope) error {
		vipPackage, err := scope.store.GetPackage(ctx, packageID)
		if err != nil {
			return err
		}
		if !vipPackage.IsActive {
			return fmt.Errorf("%w: package %s is inactive", ErrNotFound, packageID)
		}
		wallet, err := scope.store.GetOrCreateWallet(ctx, userID)
		if err != nil {
			return err
		}
		if wallet.Balance < vipPackage.Price {
			return ErrInsufficientBalance
		}
		profile, err := scope.store.GetOrCreateProfile(ctx, userID)
		if err != nil {
			return err
		}
		wallet.Balance -= vipPackage.Price
		wallet.TotalSpent += vipPackage.Price
		wallet.UpdatedAt = scope.now
		entry := LedgerEntry{
			EntryID:      uuid.NewString(),
			UserID:       userID,
			Type:         EntryVipPurchase,
			Amount:       -vipPackage.Price,
			BalanceAfter: wallet.Balance,
			RefID:        packageID.String(),
			Description:  fmt.Sprintf("purchase %s", vipPackage.Name),
			CreatedAt:    scope.now,
		}
		if err := scope.store.InsertLedgerEntry(ctx, entry); err != nil {
			return err
		}
		if err := scope.store.SaveWallet(ctx, wallet); err != nil {
			return err
		}
		extended := activateVip(&profile.Vip, scope.now, vipPackage.DurationDays, vipPackage.Name, &vipPackage)
		profile.UpdatedAt = scope.now
		if err := scope.store.SaveProfile(ctx, profile); err != nil {
			return err
		}
		scope.notifyUser(userID, NotifyVip, vipActivationMessage(vipPackage.Name, profile.Vip, extended), packageID.String())
		result = PurchaseResult{Wallet: wallet, Entry: entry, Vip: profile.Vip, Package: vipPackage}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationPurchaseVip,
		UserID:    userID,
		Subject:   packageID.String(),
		Amount:    result.Package.Price.Int64(),
		Error:     err,
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	return result, nil
}

// ChargePostFee debits a listing fee requested by the listings collaborator.
func (service *Service) ChargePostFee(ctx context.Context, userID UserID, postID PostID, amount Amount) (LedgerEntry, error) {
	var entry LedgerEntry
	err := service.mutate(ctx, []UserID{userID}, func(ctx context.Context, scope *txScope) error {
		if amount <= 0 {
			return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
		}
		wallet, err := scope.store.GetOrCreateWallet(ctx, userID)
		if err != nil {
			return err
		}
		if wallet.Balance < amount {
			return ErrInsufficientBalance
		}
		wallet.Balance -= amount
		wallet.TotalSpent += amount
		wallet.UpdatedAt = scope.now
		entry = LedgerEntry{
			EntryID:      uuid.NewString(),
			UserID:       userID,
			Type:         EntryPostFee,
			Amount:       -amount,
			BalanceAfter: wallet.Balance,
			RefID:        postID.String(),
			Description:  "listing fee",
			CreatedAt:    scope.now,
		}
		if err := scope.store.InsertLedgerEntry(ctx, entry); err != nil {
			return err
		}
		if err := scope.store.SaveWallet(ctx, wallet); err != nil {
			return err
		}
		scope.notifyUser(userID, NotifyWallet, fmt.Sprintf("A listing fee of %d was charged. New balance: %d.", amount, wallet.Balance), postID.String())
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationChargePostFee,
		UserID:    userID,
		Subject:   postID.String(),
		Amount:    amount.Int64(),
		Error:     err,
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}
