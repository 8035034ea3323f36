package entitlement

import (
	"context"
	"time"
)

// WalletStore persists wallet accounts and the append-only wallet ledger.
type WalletStore interface {
	GetOrCreateWallet(ctx context.Context, userID UserID) (WalletAccount, error)
	// SaveWallet writes wallet only if the stored version still equals
	// wallet.Version, otherwise it returns ErrConcurrentUpdate.
	SaveWallet(ctx context.Context, wallet WalletAccount) error
	// InsertLedgerEntry returns ErrDuplicateExternalRef when a non-empty
	// ExternalRef was already recorded.
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) error
	ListLedgerEntries(ctx context.Context, query LedgerQuery) (LedgerPage, error)
	SumLedgerAmount(ctx context.Context, entryType EntryType, since time.Time) (Amount, error)
}

// ProfileStore persists points, inventory, and VIP state.
type ProfileStore interface {
	GetOrCreateProfile(ctx context.Context, userID UserID) (Profile, error)
	// GetProfile returns ErrNotFound for users that never had a profile.
	GetProfile(ctx context.Context, userID UserID) (Profile, error)
	// SaveProfile follows the same version contract as SaveWallet.
	SaveProfile(ctx context.Context, profile Profile) error
	ListDueVipUsers(ctx context.Context, now time.Time, limit int) ([]UserID, error)
	ListDailyVipUsers(ctx context.Context, afterUserID string, limit int) ([]UserID, error)
	ListVipProfiles(ctx context.Context, query VipUserQuery) ([]Profile, error)
	CountActiveVip(ctx context.Context, now time.Time) (int64, error)
	TopActiveVipType(ctx context.Context, now time.Time) (string, error)
}

// PointLogStore persists the append-only points log.
type PointLogStore interface {
	InsertPointLog(ctx context.Context, entry PointLogEntry) error
	ListPointLogs(ctx context.Context, query PointLogQuery) (PointLogPage, error)
	PointTotals(ctx context.Context) (PointStats, error)
}

// PackageStore persists VIP package definitions.
type PackageStore interface {
	GetPackage(ctx context.Context, packageID PackageID) (VipPackage, error)
	// FindPackageByName matches active packages whose name contains fragment,
	// case-insensitively.
	FindPackageByName(ctx context.Context, fragment string) (VipPackage, error)
	ListPackages(ctx context.Context, activeOnly bool) ([]VipPackage, error)
	CreatePackage(ctx context.Context, vipPackage VipPackage) (VipPackage, error)
	UpdatePackage(ctx context.Context, vipPackage VipPackage) error
	ClearPopularPackages(ctx context.Context, except PackageID) error
}

// PostStore reads and flags listings owned by the listings collaborator.
type PostStore interface {
	GetPost(ctx context.Context, postID PostID) (Post, error)
	// GetPosts returns the posts that exist; missing ids are omitted.
	GetPosts(ctx context.Context, postIDs []PostID) ([]Post, error)
	SetPostVip(ctx context.Context, postIDs []PostID, vip PostVip) error
	ClearPostVip(ctx context.Context, ownerID UserID, postIDs []PostID) error
}

// LeadStore persists phone-reveal leads.
type LeadStore interface {
	FindLead(ctx context.Context, buyerID UserID, postID PostID, leadType LeadType) (Lead, bool, error)
	InsertLead(ctx context.Context, lead Lead) error
	CountLeadsSince(ctx context.Context, buyerID UserID, leadType LeadType, since time.Time) (int64, error)
}

// WithdrawStore persists withdraw requests.
type WithdrawStore interface {
	CreateWithdrawRequest(ctx context.Context, request WithdrawRequest) (WithdrawRequest, error)
	GetWithdrawRequest(ctx context.Context, requestID RequestID) (WithdrawRequest, error)
	// TransitionWithdrawRequest applies the change only while the stored status
	// equals transition.From, otherwise it returns ErrAlreadyProcessed.
	TransitionWithdrawRequest(ctx context.Context, transition WithdrawTransition) error
	// SetWithdrawEscalation raises the level only from the expected value,
	// otherwise it returns ErrAlreadyProcessed.
	SetWithdrawEscalation(ctx context.Context, requestID RequestID, from int, to int) error
	ListWithdrawRequests(ctx context.Context, query WithdrawQuery) (WithdrawPage, error)
	// ListPendingWithdrawRequests returns pending requests made at or before
	// requestedBefore, oldest first, strictly after the cursor position.
	ListPendingWithdrawRequests(ctx context.Context, requestedBefore time.Time, after WithdrawCursor, limit int) ([]WithdrawRequest, error)
}

// WithdrawCursor positions a scan of pending withdraw requests ordered by
// request time then request id. The zero cursor starts from the oldest.
type WithdrawCursor struct {
	RequestedAt time.Time
	RequestID   RequestID
}

// IsZero reports whether the cursor starts from the beginning.
func (cursor WithdrawCursor) IsZero() bool {
	return cursor.RequestedAt.IsZero() && cursor.RequestID.value == ""
}

// precedes reports whether request sorts strictly after the cursor.
func (cursor WithdrawCursor) precedes(request WithdrawRequest) bool {
	if cursor.IsZero() {
		return true
	}
	if !request.RequestedAt.Equal(cursor.RequestedAt) {
		return request.RequestedAt.After(cursor.RequestedAt)
	}
	return request.RequestID.value > cursor.RequestID.value
}

// PaymentIntentStore maps memo codes to users.
type PaymentIntentStore interface {
	GetOrCreatePaymentIntent(ctx context.Context, userID UserID, candidateCode string) (PaymentIntent, error)
	FindPaymentIntent(ctx context.Context, code string) (PaymentIntent, error)
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	WalletStore
	ProfileStore
	PointLogStore
	PackageStore
	PostStore
	LeadStore
	WithdrawStore
	PaymentIntentStore
}

// CodeStore keeps the short-lived withdraw codes. It lives outside the
// transactional Store so it can be served by a TTL cache.
type CodeStore interface {
	PutWithdrawCode(ctx context.Context, code WithdrawCode) error
	// GetWithdrawCode returns ErrNotFound when no code is pending.
	GetWithdrawCode(ctx context.Context, userID UserID) (WithdrawCode, error)
	RecordFailedAttempt(ctx context.Context, userID UserID) (int, error)
	DeleteWithdrawCode(ctx context.Context, userID UserID) error
}

// Page bounds a listing query.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page into supported bounds.
func (page Page) Normalize() Page {
	if page.Limit <= 0 {
		page.Limit = defaultPageLimit
	}
	if page.Limit > maxPageLimit {
		page.Limit = maxPageLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return page
}

// LedgerQuery filters wallet ledger listings. Zero values mean no filter.
type LedgerQuery struct {
	UserID UserID
	Type   EntryType
	Page   Page
}

// LedgerPage is one page of ledger entries, newest first.
type LedgerPage struct {
	Entries []LedgerEntry
	Total   int64
}

// PointLogQuery filters point log listings. Zero values mean no filter.
type PointLogQuery struct {
	UserID       UserID
	Type         PointLogType
	Action       PointAction
	ActionPrefix string
	Page         Page
}

// PointLogPage is one page of point logs, newest first.
type PointLogPage struct {
	Entries []PointLogEntry
	Total   int64
}

// PointStats aggregates the points economy.
type PointStats struct {
	TotalAvailable   int64
	TotalDistributed int64
	TotalRedeemed    int64
}

// VipUserQuery lists users holding an active subscription at Now.
type VipUserQuery struct {
	Now  time.Time
	Page Page
}

// WithdrawQuery filters withdraw request listings.
type WithdrawQuery struct {
	UserID UserID
	Status WithdrawStatus
	Page   Page
}

// WithdrawPage is one page of withdraw requests, newest first.
type WithdrawPage struct {
	Requests []WithdrawRequest
	Total    int64
}
