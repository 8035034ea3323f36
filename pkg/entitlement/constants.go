package entitlement

import "time"

const (
	operationTopUp            = "top_up"
	operationApplyPayment     = "apply_payment"
	operationPurchaseVip      = "purchase_vip"
	operationChargePostFee    = "charge_post_fee"
	operationInitiateWithdraw = "initiate_withdraw"
	operationVerifyWithdraw   = "verify_withdraw"
	operationUpdateWithdraw   = "update_withdraw_status"
	operationAddPoints        = "add_points"
	operationRedeemReward     = "redeem_reward"
	operationUseItem          = "use_inventory_item"
	operationAdjustPoints     = "adjust_user_points"
	operationAttachVip        = "attach_vip"
	operationDetachVip        = "detach_vip"
	operationShowPhone        = "show_phone"
	operationExpireVip        = "expire_vip"
	operationDailyReset       = "daily_reset"
	operationEscalate         = "escalate_withdraw"
	operationOverrideExpiry   = "override_vip_expiry"
	operationSavePackage      = "save_package"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	errorOperationService = "service"
	errorSubjectNotify    = "notify"
	errorSubjectCode      = "code"
	errorCodeDeliver      = "deliver"
	errorCodeGenerate     = "generate"
)

const (
	pointsPerTopUpUnit    int64 = 1000
	firstTopUpBonusPoints int64 = 200

	withdrawCodeTTL         = 10 * time.Minute
	withdrawCodeMaxAttempts = 5
	withdrawCodeMin         = 100000
	withdrawCodeSpan        = 900000

	escalationReminderAge = 2 * time.Hour
	escalationUrgentAge   = 24 * time.Hour
	escalationRejectAge   = 48 * time.Hour

	defaultMaxAttempts      = 3
	defaultNotifyTimeout    = 5 * time.Second
	defaultSweepBatchSize   = 200
	recentPointLogLimit     = 20
	itemUsageHistoryLimit   = 50
	vipRevenueWindow        = 30 * 24 * time.Hour
	paymentIntentCodeLength = 10
	paymentMemoKeyword      = "NAPTIEN"
	autoRejectNote          = "auto-rejected after 48 hours without processing"
	defaultPageLimit        = 20
	maxPageLimit            = 100
	lockKeyPrefixUser       = "vipledger:user:"
)
