package entitlement

import (
	"fmt"
	"strings"
	"time"
)

// Amount is an integer currency amount in the smallest unit.
type Amount int64

// UserID identifies an account owner.
type UserID struct {
	value string
}

// PostID identifies a listing owned by the listings collaborator.
type PostID struct {
	value string
}

// PackageID identifies a VIP package definition.
type PackageID struct {
	value string
}

// RequestID identifies a withdraw request.
type RequestID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// NewPostID validates and normalizes a post id.
func NewPostID(raw string) (PostID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PostID{}, fmt.Errorf("%w: empty value", ErrInvalidPostID)
	}
	return PostID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PostID) String() string {
	return id.value
}

// NewPostIDs validates a list of raw post ids, dropping duplicates.
func NewPostIDs(raw []string) ([]PostID, error) {
	seen := make(map[string]struct{}, len(raw))
	postIDs := make([]PostID, 0, len(raw))
	for _, value := range raw {
		postID, err := NewPostID(value)
		if err != nil {
			return nil, err
		}
		if _, duplicate := seen[postID.value]; duplicate {
			continue
		}
		seen[postID.value] = struct{}{}
		postIDs = append(postIDs, postID)
	}
	return postIDs, nil
}

// NewPackageID validates and normalizes a package id.
func NewPackageID(raw string) (PackageID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PackageID{}, fmt.Errorf("%w: empty value", ErrInvalidPackageID)
	}
	return PackageID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PackageID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id PackageID) IsZero() bool {
	return id.value == ""
}

// NewRequestID validates and normalizes a withdraw request id.
func NewRequestID(raw string) (RequestID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RequestID{}, fmt.Errorf("%w: empty value", ErrInvalidRequestID)
	}
	return RequestID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RequestID) String() string {
	return id.value
}

// NewPositiveAmount validates an amount and ensures it is strictly positive.
func NewPositiveAmount(raw int64) (Amount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Int64 exposes the raw value.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// Role is the authorization role supplied by the authentication collaborator.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID UserID
	Role   Role
}

// IsAdmin reports whether the actor carries the admin role.
func (actor Actor) IsAdmin() bool {
	return actor.Role == RoleAdmin
}

// EntryType enumerates wallet ledger entry kinds.
type EntryType string

const (
	EntryTopUp       EntryType = "TOPUP"
	EntryVipPurchase EntryType = "VIP_PURCHASE"
	EntryPostFee     EntryType = "POST_FEE"
	EntryRefund      EntryType = "REFUND"
	EntryWithdraw    EntryType = "WITHDRAW"
)

// ParseEntryType validates a raw entry type.
func ParseEntryType(raw string) (EntryType, error) {
	switch EntryType(strings.ToUpper(strings.TrimSpace(raw))) {
	case EntryTopUp:
		return EntryTopUp, nil
	case EntryVipPurchase:
		return EntryVipPurchase, nil
	case EntryPostFee:
		return EntryPostFee, nil
	case EntryRefund:
		return EntryRefund, nil
	case EntryWithdraw:
		return EntryWithdraw, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
	}
}

// String returns the stored representation.
func (entryType EntryType) String() string {
	return string(entryType)
}

// LedgerEntry is a single immutable line of the wallet ledger.
type LedgerEntry struct {
	EntryID      string
	UserID       UserID
	Type         EntryType
	Amount       Amount
	BalanceAfter Amount
	RefID        string
	ExternalRef  string
	Description  string
	CreatedAt    time.Time
}

// WalletAccount is the per-user cash balance with running totals.
type WalletAccount struct {
	UserID         UserID
	Balance        Amount
	TotalTopUp     Amount
	TotalSpent     Amount
	TotalWithdrawn Amount
	Version        int64
	UpdatedAt      time.Time
}

// PointLogType separates earned from spent points.
type PointLogType string

const (
	PointEarn  PointLogType = "EARN"
	PointSpend PointLogType = "SPEND"
)

// PointAction labels why a point log entry was written.
type PointAction string

const (
	ActionPostCreated     PointAction = "POST_CREATED"
	ActionPostSold        PointAction = "POST_SOLD"
	ActionVipPurchase     PointAction = "VIP_PURCHASE"
	ActionDailyLogin      PointAction = "DAILY_LOGIN"
	ActionViewMilestone   PointAction = "VIEW_MILESTONE"
	ActionAdminBonus      PointAction = "ADMIN_BONUS"
	ActionAdminAdjustment PointAction = "ADMIN_ADJUSTMENT"
	ActionTopUpReward     PointAction = "TOPUP_REWARD"
	ActionFirstTopUpBonus PointAction = "FIRST_TOPUP_BONUS"
)

// ParsePointAction validates an action code supplied by an internal caller.
func ParsePointAction(raw string) (PointAction, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "" {
		return "", fmt.Errorf("%w: empty action", ErrInvalidRewardKey)
	}
	return PointAction(normalized), nil
}

// PointLogEntry is a single immutable line of the points log.
type PointLogEntry struct {
	LogID       string
	UserID      UserID
	Type        PointLogType
	Action      PointAction
	Points      int64
	RelatedID   string
	Description string
	CreatedAt   time.Time
}

// PostStatus mirrors the listing status kept by the listings collaborator.
type PostStatus string

const (
	PostActive   PostStatus = "ACTIVE"
	PostPending  PostStatus = "PENDING"
	PostSold     PostStatus = "SOLD"
	PostHidden   PostStatus = "HIDDEN"
	PostRejected PostStatus = "REJECTED"
)

// PostVip holds the VIP sub-fields of a listing.
type PostVip struct {
	IsActive      bool
	VipType       string
	PriorityScore int
	ExpiredAt     time.Time
}

// Post is the listing projection the entitlement core relies on.
type Post struct {
	PostID       PostID
	OwnerID      UserID
	Status       PostStatus
	ContactPhone string
	Vip          PostVip
}

// LeadType enumerates lead kinds.
type LeadType string

const LeadShowPhone LeadType = "SHOW_PHONE"

// LeadSource records which quota paid for a lead.
type LeadSource string

const (
	LeadSourceVip    LeadSource = "VIP"
	LeadSourceCredit LeadSource = "CREDIT"
)

// Lead records that a buyer revealed the seller phone of a post.
type Lead struct {
	LeadID    string
	PostID    PostID
	BuyerID   UserID
	SellerID  UserID
	Type      LeadType
	Source    LeadSource
	CreatedAt time.Time
}

// WithdrawStatus is the lifecycle of a withdraw request.
type WithdrawStatus string

const (
	WithdrawPending  WithdrawStatus = "PENDING"
	WithdrawApproved WithdrawStatus = "APPROVED"
	WithdrawRejected WithdrawStatus = "REJECTED"
	WithdrawPaid     WithdrawStatus = "PAID"
)

// ParseWithdrawStatus validates a raw withdraw status.
func ParseWithdrawStatus(raw string) (WithdrawStatus, error) {
	switch WithdrawStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case WithdrawPending:
		return WithdrawPending, nil
	case WithdrawApproved:
		return WithdrawApproved, nil
	case WithdrawRejected:
		return WithdrawRejected, nil
	case WithdrawPaid:
		return WithdrawPaid, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWithdrawState, raw)
	}
}

// IsTerminal reports whether no further transition is allowed.
func (status WithdrawStatus) IsTerminal() bool {
	return status == WithdrawRejected || status == WithdrawPaid
}

// BankDetails identifies the payout destination.
type BankDetails struct {
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

// Validate ensures every payout field is present.
func (bank BankDetails) Validate() error {
	if strings.TrimSpace(bank.BankName) == "" || strings.TrimSpace(bank.AccountNumber) == "" || strings.TrimSpace(bank.AccountName) == "" {
		return fmt.Errorf("%w: bank details are incomplete", ErrInvalidBankDetails)
	}
	return nil
}

// WithdrawRequest is a payout awaiting admin processing.
type WithdrawRequest struct {
	RequestID       RequestID
	UserID          UserID
	Amount          Amount
	Bank            BankDetails
	Status          WithdrawStatus
	EscalationLevel int
	AdminNote       string
	RequestedAt     time.Time
	ProcessedAt     time.Time
}

// WithdrawTransition is a conditional status change of a withdraw request.
type WithdrawTransition struct {
	RequestID   RequestID
	From        WithdrawStatus
	To          WithdrawStatus
	AdminNote   string
	ProcessedAt time.Time
}

// WithdrawCode is the hashed one-time code issued by InitiateWithdraw.
type WithdrawCode struct {
	UserID    UserID
	Hash      []byte
	ExpiresAt time.Time
	Attempts  int
}

// PaymentIntent maps a memo code to the user who should be credited.
type PaymentIntent struct {
	Code      string
	UserID    UserID
	CreatedAt time.Time
}

// PaymentEvent is a top-up confirmation from the payment webhook collaborator.
type PaymentEvent struct {
	ExternalRef string
	Amount      int64
	Memo        string
	IntentCode  string
	Gateway     string
}

// Audience selects who receives a notification.
type Audience string

const (
	AudienceUser   Audience = "user"
	AudienceAdmins Audience = "admins"
)

// NotificationKind classifies an outbound notification.
type NotificationKind string

const (
	NotifyTopUp          NotificationKind = "TOPUP"
	NotifyWallet         NotificationKind = "WALLET"
	NotifyPoints         NotificationKind = "POINTS"
	NotifyVip            NotificationKind = "VIP"
	NotifyVipExpired     NotificationKind = "VIP_EXPIRED"
	NotifyWithdraw       NotificationKind = "WITHDRAW"
	NotifyWithdrawRemind NotificationKind = "WITHDRAW_REMINDER"
	NotifyLead           NotificationKind = "LEAD"
	NotifyAdjustment     NotificationKind = "ADMIN_ADJUSTMENT"
	NotifyWarning        NotificationKind = "WARNING"
)

// Notification is a best-effort message dispatched after a committed mutation.
type Notification struct {
	Audience    Audience
	RecipientID UserID
	Kind        NotificationKind
	Message     string
	RelatedID   string
	CreatedAt   time.Time
}
