package entitlement

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the entitlement service.
var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientPoints   = errors.New("insufficient points")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrInvalidOtp           = errors.New("invalid or expired code")
	ErrForbidden            = errors.New("forbidden")
	ErrAlreadyProcessed     = errors.New("already processed")
	ErrInvalidPosts         = errors.New("invalid posts")
	ErrConcurrentUpdate     = errors.New("concurrent update")
	ErrDuplicateExternalRef = errors.New("duplicate external reference")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidPostID        = errors.New("invalid post id")
	ErrInvalidPackageID     = errors.New("invalid package id")
	ErrInvalidRequestID     = errors.New("invalid request id")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidRewardKey     = errors.New("invalid reward key")
	ErrInvalidItemKind      = errors.New("invalid item kind")
	ErrInvalidEntryType     = errors.New("invalid entry type")
	ErrInvalidWithdrawState = errors.New("invalid withdraw status")
	ErrInvalidBankDetails   = errors.New("invalid bank details")
	ErrInvalidPackage       = errors.New("invalid package")
	ErrInvalidPaymentEvent  = errors.New("invalid payment event")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// QuotaError reports an exhausted daily quota. NeedsVip distinguishes a caller
// without a valid VIP subscription from one whose tier limit is used up.
type QuotaError struct {
	Resource string
	NeedsVip bool
	Used     int64
	Limit    int64
}

// Error returns the formatted error message.
func (quotaError QuotaError) Error() string {
	if quotaError.NeedsVip {
		return fmt.Sprintf("%v: %s requires an active VIP subscription or bonus credits", ErrQuotaExceeded, quotaError.Resource)
	}
	return fmt.Sprintf("%v: %s limit reached (%d/%d), upgrade the VIP tier or use a bonus item", ErrQuotaExceeded, quotaError.Resource, quotaError.Used, quotaError.Limit)
}

// Unwrap returns ErrQuotaExceeded.
func (quotaError QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
