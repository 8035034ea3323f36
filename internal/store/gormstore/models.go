package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet mirrors the wallets table.
type Wallet struct {
	UserID         string    `gorm:"size:64;primaryKey"`
	Balance        int64     `gorm:"not null;default:0"`
	TotalTopUp     int64     `gorm:"not null;default:0"`
	TotalSpent     int64     `gorm:"not null;default:0"`
	TotalWithdrawn int64     `gorm:"not null;default:0"`
	Version        int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

// LedgerEntry mirrors the wallet_ledger_entries table. ExternalRef is null for
// entries that do not come from the payment gateway.
type LedgerEntry struct {
	EntryID      string    `gorm:"size:64;primaryKey"`
	UserID       string    `gorm:"size:64;not null;index:idx_wallet_ledger_user_created,priority:1"`
	Type         string    `gorm:"size:32;not null;index:idx_wallet_ledger_type_created,priority:1"`
	Amount       int64     `gorm:"not null"`
	BalanceAfter int64     `gorm:"not null"`
	RefID        string    `gorm:"size:128"`
	ExternalRef  *string   `gorm:"size:128;uniqueIndex:uniq_wallet_ledger_external_ref"`
	Description  string    `gorm:"size:512"`
	CreatedAt    time.Time `gorm:"not null;index:idx_wallet_ledger_user_created,priority:2;index:idx_wallet_ledger_type_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "wallet_ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Profile mirrors the profiles table holding points, inventory, and VIP state.
type Profile struct {
	UserID           string                               `gorm:"size:64;primaryKey"`
	Points           int64                                `gorm:"not null;default:0"`
	Inventory        datatypes.JSONType[map[string]int64] `gorm:"not null"`
	VipIsActive      bool                                 `gorm:"not null;default:false;index:idx_profiles_vip_due,priority:1"`
	VipType          string                               `gorm:"size:64;not null"`
	VipPackageID     string                               `gorm:"size:64"`
	VipPriorityScore int                                  `gorm:"not null;default:0"`
	VipStartedAt     *time.Time
	VipExpiredAt     *time.Time                  `gorm:"index:idx_profiles_vip_due,priority:2"`
	DailyUsedSlots   int                         `gorm:"not null;default:0"`
	CurrentVipPosts  datatypes.JSONSlice[string] `gorm:"not null"`
	VipPostCount     int                         `gorm:"not null;default:0"`
	BonusPushCredits int64                       `gorm:"not null;default:0"`
	BonusLeadCredits int64                       `gorm:"not null;default:0"`
	Version          int64                       `gorm:"not null;default:0"`
	CreatedAt        time.Time                   `gorm:"not null"`
	UpdatedAt        time.Time                   `gorm:"not null"`
}

func (Profile) TableName() string { return "profiles" }

// PointLog mirrors the point_logs table.
type PointLog struct {
	LogID       string    `gorm:"size:64;primaryKey"`
	UserID      string    `gorm:"size:64;not null;index:idx_point_logs_user_created,priority:1"`
	Type        string    `gorm:"size:16;not null"`
	Action      string    `gorm:"size:64;not null;index"`
	Points      int64     `gorm:"not null"`
	RelatedID   string    `gorm:"size:128"`
	Description string    `gorm:"size:512"`
	CreatedAt   time.Time `gorm:"not null;index:idx_point_logs_user_created,priority:2"`
}

func (PointLog) TableName() string { return "point_logs" }

func (entry *PointLog) BeforeCreate(tx *gorm.DB) error {
	if entry.LogID == "" {
		entry.LogID = uuid.NewString()
	}
	return nil
}

// VipPackage mirrors the vip_packages table.
type VipPackage struct {
	PackageID      string    `gorm:"size:64;primaryKey"`
	Name           string    `gorm:"size:128;not null"`
	Price          int64     `gorm:"not null"`
	DurationDays   int       `gorm:"not null"`
	PriorityScore  int       `gorm:"not null;default:0"`
	LimitViewPhone int       `gorm:"not null;default:0"`
	PostLimit      int       `gorm:"not null;default:0"`
	Description    string    `gorm:"size:1024"`
	IsActive       bool      `gorm:"not null"`
	IsPopular      bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (VipPackage) TableName() string { return "vip_packages" }

func (vipPackage *VipPackage) BeforeCreate(tx *gorm.DB) error {
	if vipPackage.PackageID == "" {
		vipPackage.PackageID = uuid.NewString()
	}
	return nil
}

// Post mirrors the listing columns shared with the listings service.
type Post struct {
	PostID           string `gorm:"size:64;primaryKey"`
	OwnerID          string `gorm:"size:64;not null;index"`
	Status           string `gorm:"size:16;not null"`
	ContactPhone     string `gorm:"size:32"`
	VipIsActive      bool   `gorm:"not null;default:false"`
	VipType          string `gorm:"size:64"`
	VipPriorityScore int    `gorm:"not null;default:0"`
	VipExpiredAt     *time.Time
}

func (Post) TableName() string { return "posts" }

// Lead mirrors the leads table. A buyer holds at most one lead per post and type.
type Lead struct {
	LeadID    string    `gorm:"size:64;primaryKey"`
	PostID    string    `gorm:"size:64;not null;uniqueIndex:uniq_leads_buyer_post_type,priority:2"`
	BuyerID   string    `gorm:"size:64;not null;uniqueIndex:uniq_leads_buyer_post_type,priority:1;index:idx_leads_buyer_created,priority:1"`
	SellerID  string    `gorm:"size:64;not null"`
	Type      string    `gorm:"size:32;not null;uniqueIndex:uniq_leads_buyer_post_type,priority:3"`
	Source    string    `gorm:"size:16;not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_leads_buyer_created,priority:2"`
}

func (Lead) TableName() string { return "leads" }

func (lead *Lead) BeforeCreate(tx *gorm.DB) error {
	if lead.LeadID == "" {
		lead.LeadID = uuid.NewString()
	}
	return nil
}

// BankDetails is the JSON payload of WithdrawRequest.Bank.
type BankDetails struct {
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

// WithdrawRequest mirrors the withdraw_requests table.
type WithdrawRequest struct {
	RequestID       string                          `gorm:"size:64;primaryKey"`
	UserID          string                          `gorm:"size:64;not null;index"`
	Amount          int64                           `gorm:"not null"`
	Bank            datatypes.JSONType[BankDetails] `gorm:"not null"`
	Status          string                          `gorm:"size:16;not null;index:idx_withdraw_status_requested,priority:1"`
	EscalationLevel int                             `gorm:"not null;default:0"`
	AdminNote       string                          `gorm:"size:512"`
	RequestedAt     time.Time                       `gorm:"not null;index:idx_withdraw_status_requested,priority:2"`
	ProcessedAt     *time.Time
}

func (WithdrawRequest) TableName() string { return "withdraw_requests" }

func (request *WithdrawRequest) BeforeCreate(tx *gorm.DB) error {
	if request.RequestID == "" {
		request.RequestID = uuid.NewString()
	}
	return nil
}

// PaymentIntent mirrors the payment_intents table.
type PaymentIntent struct {
	Code      string    `gorm:"size:32;primaryKey"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

// WithdrawCode mirrors the withdraw_codes table used when no cache is wired.
type WithdrawCode struct {
	UserID    string    `gorm:"size:64;primaryKey"`
	Hash      []byte    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
	Attempts  int       `gorm:"not null;default:0"`
}

func (WithdrawCode) TableName() string { return "withdraw_codes" }

// Notification mirrors the notifications table. RecipientID is null for
// messages addressed to every admin.
type Notification struct {
	NotificationID string    `gorm:"size:64;primaryKey"`
	Audience       string    `gorm:"size:16;not null;index:idx_notifications_recipient,priority:1"`
	RecipientID    *string   `gorm:"size:64;index:idx_notifications_recipient,priority:2"`
	Kind           string    `gorm:"size:32;not null"`
	Message        string    `gorm:"size:1024;not null"`
	RelatedID      string    `gorm:"size:128"`
	IsRead         bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

func (Notification) TableName() string { return "notifications" }

func (notification *Notification) BeforeCreate(tx *gorm.DB) error {
	if notification.NotificationID == "" {
		notification.NotificationID = uuid.NewString()
	}
	return nil
}

// Models lists every table managed by the store, in migration order.
func Models() []any {
	return []any{
		&Wallet{},
		&LedgerEntry{},
		&Profile{},
		&PointLog{},
		&VipPackage{},
		&Post{},
		&Lead{},
		&WithdrawRequest{},
		&PaymentIntent{},
		&WithdrawCode{},
		&Notification{},
	}
}
