package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/vipledger/pkg/entitlement"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{target: entitlement.ErrNotFound, status: http.StatusNotFound, code: "not_found", message: "resource not found"},
	{target: entitlement.ErrInsufficientBalance, status: http.StatusBadRequest, code: "insufficient_balance", message: "wallet balance is insufficient"},
	{target: entitlement.ErrInsufficientPoints, status: http.StatusBadRequest, code: "insufficient_points", message: "points balance is insufficient"},
	{target: entitlement.ErrInvalidQuantity, status: http.StatusBadRequest, code: "invalid_quantity", message: "quantity is invalid"},
	{target: entitlement.ErrInvalidOtp, status: http.StatusBadRequest, code: "invalid_otp", message: "verification code is invalid or expired"},
	{target: entitlement.ErrForbidden, status: http.StatusForbidden, code: "forbidden", message: "operation not permitted"},
	{target: entitlement.ErrAlreadyProcessed, status: http.StatusConflict, code: "already_processed", message: "request was already processed"},
	{target: entitlement.ErrInvalidPosts, status: http.StatusBadRequest, code: "invalid_posts", message: "one or more posts cannot be used"},
	{target: entitlement.ErrConcurrentUpdate, status: http.StatusConflict, code: "concurrent_update", message: "account changed concurrently, retry"},
	{target: entitlement.ErrDuplicateExternalRef, status: http.StatusConflict, code: "duplicate_external_ref", message: "payment was already recorded"},
	{target: entitlement.ErrInvalidUserID, status: http.StatusBadRequest, code: "invalid_user_id", message: "user id is invalid"},
	{target: entitlement.ErrInvalidPostID, status: http.StatusBadRequest, code: "invalid_post_id", message: "post id is invalid"},
	{target: entitlement.ErrInvalidPackageID, status: http.StatusBadRequest, code: "invalid_package_id", message: "package id is invalid"},
	{target: entitlement.ErrInvalidRequestID, status: http.StatusBadRequest, code: "invalid_request_id", message: "request id is invalid"},
	{target: entitlement.ErrInvalidAmount, status: http.StatusBadRequest, code: "invalid_amount", message: "amount is invalid"},
	{target: entitlement.ErrInvalidRewardKey, status: http.StatusBadRequest, code: "invalid_reward_key", message: "reward key is invalid"},
	{target: entitlement.ErrInvalidItemKind, status: http.StatusBadRequest, code: "invalid_item", message: "item kind is invalid"},
	{target: entitlement.ErrInvalidEntryType, status: http.StatusBadRequest, code: "invalid_entry_type", message: "entry type is invalid"},
	{target: entitlement.ErrInvalidWithdrawState, status: http.StatusBadRequest, code: "invalid_withdraw_status", message: "withdraw status is invalid"},
	{target: entitlement.ErrInvalidBankDetails, status: http.StatusBadRequest, code: "invalid_bank_details", message: "bank details are incomplete"},
	{target: entitlement.ErrInvalidPackage, status: http.StatusBadRequest, code: "invalid_package", message: "package definition is invalid"},
	{target: entitlement.ErrInvalidPaymentEvent, status: http.StatusBadRequest, code: "invalid_payment_event", message: "payment event is invalid"},
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// respondError writes the status, stable code and fixed message for err.
// Wrapped details stay in the debug log. Unknown failures are logged and
// hidden behind internal_error.
func (handler *httpHandler) respondError(ctx *gin.Context, operation string, err error) {
	var quotaError entitlement.QuotaError
	if errors.As(err, &quotaError) {
		ctx.JSON(http.StatusForbidden, gin.H{
			"error": gin.H{
				"code":      "quota_exceeded",
				"message":   quotaError.Error(),
				"resource":  quotaError.Resource,
				"needs_vip": quotaError.NeedsVip,
				"used":      quotaError.Used,
				"limit":     quotaError.Limit,
			},
		})
		return
	}
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			handler.logger.Debug("request rejected", zap.String("operation", operation), zap.String("code", mapping.code), zap.Error(err))
			ctx.JSON(mapping.status, errorResponse(mapping.code, mapping.message))
			return
		}
	}
	handler.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "request failed"))
}
