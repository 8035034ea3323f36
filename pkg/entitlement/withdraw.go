package entitlement

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// WithdrawChallenge is returned by the first withdraw phase.
type WithdrawChallenge struct {
	Amount    Amount
	ExpiresAt time.Time
}

// InitiateWithdraw checks the balance and sends a one-time code valid for ten
// minutes. The balance is not touched.
func (service *Service) InitiateWithdraw(ctx context.Context, userID UserID, amount Amount) (WithdrawChallenge, error) {
	challenge, err := service.initiateWithdraw(ctx, userID, amount)
	service.logOperation(ctx, OperationLog{
		Operation: operationInitiateWithdraw,
		UserID:    userID,
		Amount:    amount.Int64(),
		Error:     err,
	})
	return challenge, err
}

func (service *Service) initiateWithdraw(ctx context.Context, userID UserID, amount Amount) (WithdrawChallenge, error) {
	if amount <= 0 {
		return WithdrawChallenge{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if service.codeSender == nil {
		return WithdrawChallenge{}, fmt.Errorf("%w: code sender is not configured", ErrInvalidServiceConfig)
	}
	wallet, err := service.store.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return WithdrawChallenge{}, err
	}
	if wallet.Balance < amount {
		return WithdrawChallenge{}, ErrInsufficientBalance
	}
	code, err := generateWithdrawCode()
	if err != nil {
		return WithdrawChallenge{}, WrapError(errorOperationService, errorSubjectCode, errorCodeGenerate, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), service.codeHashCost)
	if err != nil {
		return WithdrawChallenge{}, WrapError(errorOperationService, errorSubjectCode, errorCodeGenerate, err)
	}
	expiresAt := service.nowFn().Add(withdrawCodeTTL)
	if err := service.codes.PutWithdrawCode(ctx, WithdrawCode{UserID: userID, Hash: hash, ExpiresAt: expiresAt}); err != nil {
		return WithdrawChallenge{}, err
	}
	if err := service.codeSender.SendWithdrawCode(ctx, userID, code, expiresAt); err != nil {
		return WithdrawChallenge{}, WrapError(errorOperationService, errorSubjectCode, errorCodeDeliver, err)
	}
	return WithdrawChallenge{Amount: amount, ExpiresAt: expiresAt}, nil
}

func generateWithdrawCode() (string, error) {
	value, err := rand.Int(rand.Reader, big.NewInt(withdrawCodeSpan))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(value.Int64()+withdrawCodeMin, 10), nil
}

// VerifyWithdraw redeems the one-time code and moves amount out of the wallet
// into a PENDING withdraw request. Wrong, expired, and exhausted codes all
// report ErrInvalidOtp.
func (service *Service) VerifyWithdraw(ctx context.Context, userID UserID, otp string, amount Amount, bank BankDetails) (WithdrawRequest, error) {
	request, err := service.verifyWithdraw(ctx, userID, otp, amount, bank)
	service.logOperation(ctx, OperationLog{
		Operation: operationVerifyWithdraw,
		UserID:    userID,
		Subject:   request.RequestID.String(),
		Amount:    amount.Int64(),
		Error:     err,
	})
	return request, err
}

func (service *Service) verifyWithdraw(ctx context.Context, userID UserID, otp string, amount Amount, bank BankDetails) (WithdrawRequest, error) {
	if amount <= 0 {
		return WithdrawRequest{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if err := bank.Validate(); err != nil {
		return WithdrawRequest{}, err
	}
	unlock, err := lockUsers(ctx, service.locker, userID)
	if err != nil {
		return WithdrawRequest{}, err
	}
	defer unlock()
	if err := service.checkWithdrawCode(ctx, userID, otp); err != nil {
		return WithdrawRequest{}, err
	}
	var request WithdrawRequest
	pending, err := service.runTx(ctx, func(ctx context.Context, scope *txScope) error {
		wallet, err := scope.store.GetOrCreateWallet(ctx, userID)
		if err != nil {
			return err
		}
		if wallet.Balance < amount {
			return ErrInsufficientBalance
		}
		wallet.Balance -= amount
		wallet.TotalWithdrawn += amount
		wallet.UpdatedAt = scope.now
		requestID, err := NewRequestID(uuid.NewString())
		if err != nil {
			return err
		}
		created, err := scope.store.CreateWithdrawRequest(ctx, WithdrawRequest{
			RequestID:   requestID,
			UserID:      userID,
			Amount:      amount,
			Bank:        bank,
			Status:      WithdrawPending,
			RequestedAt: scope.now,
		})
		if err != nil {
			return err
		}
		if err := scope.store.InsertLedgerEntry(ctx, LedgerEntry{
			EntryID:      uuid.NewString(),
			UserID:       userID,
			Type:         EntryWithdraw,
			Amount:       -amount,
			BalanceAfter: wallet.Balance,
			RefID:        requestID.String(),
			Description:  fmt.Sprintf("withdraw to %s %s", bank.BankName, bank.AccountNumber),
			CreatedAt:    scope.now,
		}); err != nil {
			return err
		}
		if err := scope.store.SaveWallet(ctx, wallet); err != nil {
			return err
		}
		scope.notifyUser(userID, NotifyWithdraw, fmt.Sprintf("Your withdraw request of %d is pending review.", amount), requestID.String())
		scope.notifyAdmins(NotifyWithdraw, fmt.Sprintf("New withdraw request of %d from user %s.", amount, userID), requestID.String())
		request = created
		return nil
	})
	if err != nil {
		return WithdrawRequest{}, err
	}
	if err := service.codes.DeleteWithdrawCode(ctx, userID); err != nil {
		service.logger.Error("withdraw code not consumed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	unlock()
	service.dispatch(ctx, pending)
	return request, nil
}

func (service *Service) checkWithdrawCode(ctx context.Context, userID UserID, otp string) error {
	stored, err := service.codes.GetWithdrawCode(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidOtp
	}
	if err != nil {
		return err
	}
	if service.nowFn().After(stored.ExpiresAt) {
		if err := service.codes.DeleteWithdrawCode(ctx, userID); err != nil {
			service.logger.Warn("expired withdraw code not removed", zap.String("user_id", userID.String()), zap.Error(err))
		}
		return ErrInvalidOtp
	}
	if bcrypt.CompareHashAndPassword(stored.Hash, []byte(otp)) == nil {
		return nil
	}
	attempts, err := service.codes.RecordFailedAttempt(ctx, userID)
	if err != nil {
		return err
	}
	if attempts >= withdrawCodeMaxAttempts {
		if err := service.codes.DeleteWithdrawCode(ctx, userID); err != nil {
			service.logger.Warn("exhausted withdraw code not removed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	return ErrInvalidOtp
}

// UpdateWithdrawStatus moves a request along PENDING → APPROVED → PAID, or
// rejects it. Rejection refunds the wallet exactly once; REJECTED and PAID
// are final.
func (service *Service) UpdateWithdrawStatus(ctx context.Context, actor Actor, requestID RequestID, status WithdrawStatus, note string) (WithdrawRequest, error) {
	var updated WithdrawRequest
	err := requireAdmin(actor)
	var request WithdrawRequest
	if err == nil {
		request, err = service.store.GetWithdrawRequest(ctx, requestID)
	}
	if err == nil {
		err = service.mutate(ctx, []UserID{request.UserID}, func(ctx context.Context, scope *txScope) error {
			current, err := scope.store.GetWithdrawRequest(ctx, requestID)
			if err != nil {
				return err
			}
			updated, err = settleWithdraw(ctx, scope, current, status, note)
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationUpdateWithdraw,
		UserID:    request.UserID,
		Subject:   requestID.String() + ":" + string(status),
		Amount:    request.Amount.Int64(),
		Error:     err,
	})
	if err != nil {
		return WithdrawRequest{}, err
	}
	return updated, nil
}

// settleWithdraw applies one admin or automatic transition inside a
// transaction. The conditional status update guards the refund.
func settleWithdraw(ctx context.Context, scope *txScope, request WithdrawRequest, status WithdrawStatus, note string) (WithdrawRequest, error) {
	if status == WithdrawPending {
		return WithdrawRequest{}, fmt.Errorf("%w: cannot move back to %s", ErrInvalidWithdrawState, WithdrawPending)
	}
	if request.Status == status || request.Status.IsTerminal() {
		return WithdrawRequest{}, fmt.Errorf("%w: request is %s", ErrAlreadyProcessed, request.Status)
	}
	if err := scope.store.TransitionWithdrawRequest(ctx, WithdrawTransition{
		RequestID:   request.RequestID,
		From:        request.Status,
		To:          status,
		AdminNote:   note,
		ProcessedAt: scope.now,
	}); err != nil {
		return WithdrawRequest{}, err
	}
	request.Status = status
	request.AdminNote = note
	request.ProcessedAt = scope.now
	switch status {
	case WithdrawRejected:
		wallet, err := scope.store.GetOrCreateWallet(ctx, request.UserID)
		if err != nil {
			return WithdrawRequest{}, err
		}
		wallet.Balance += request.Amount
		wallet.TotalWithdrawn -= request.Amount
		if wallet.TotalWithdrawn < 0 {
			wallet.TotalWithdrawn = 0
		}
		wallet.UpdatedAt = scope.now
		if err := scope.store.InsertLedgerEntry(ctx, LedgerEntry{
			EntryID:      uuid.NewString(),
			UserID:       request.UserID,
			Type:         EntryRefund,
			Amount:       request.Amount,
			BalanceAfter: wallet.Balance,
			RefID:        request.RequestID.String(),
			Description:  "withdraw rejected: " + note,
			CreatedAt:    scope.now,
		}); err != nil {
			return WithdrawRequest{}, err
		}
		if err := scope.store.SaveWallet(ctx, wallet); err != nil {
			return WithdrawRequest{}, err
		}
		scope.notifyUser(request.UserID, NotifyWithdraw, fmt.Sprintf("Your withdraw request of %d was rejected and refunded. %s", request.Amount, note), request.RequestID.String())
	case WithdrawApproved:
		scope.notifyUser(request.UserID, NotifyWithdraw, fmt.Sprintf("Your withdraw request of %d was approved.", request.Amount), request.RequestID.String())
	case WithdrawPaid:
		scope.notifyUser(request.UserID, NotifyWithdraw, fmt.Sprintf("Your withdraw of %d has been paid out.", request.Amount), request.RequestID.String())
	}
	return request, nil
}
