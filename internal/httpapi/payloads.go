package httpapi

import (
	"time"

	"github.com/MarkoPoloResearchLab/vipledger/pkg/entitlement"
)

type amountRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

type manualTopUpRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Source string `json:"source"`
}

type bankRequest struct {
	BankName      string `json:"bank_name" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
	AccountName   string `json:"account_name" binding:"required"`
}

type verifyWithdrawRequest struct {
	Otp    string      `json:"otp" binding:"required"`
	Amount int64       `json:"amount" binding:"required,gt=0"`
	Bank   bankRequest `json:"bank" binding:"required"`
}

type withdrawStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

type purchaseRequest struct {
	PackageID string `json:"package_id" binding:"required"`
}

type postsRequest struct {
	PostIDs []string `json:"post_ids" binding:"required,min=1"`
}

type redeemRequest struct {
	RewardKey string `json:"reward_key" binding:"required"`
}

type useItemRequest struct {
	ItemKey  string `json:"item_key" binding:"required"`
	Quantity int64  `json:"quantity"`
}

type adjustPointsRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type expiryRequest struct {
	ExpiredAt time.Time `json:"expired_at" binding:"required"`
}

type packageRequest struct {
	Name           string `json:"name" binding:"required"`
	Price          int64  `json:"price" binding:"required,gt=0"`
	DurationDays   int    `json:"duration_days" binding:"required,gt=0"`
	PriorityScore  int    `json:"priority_score"`
	LimitViewPhone int    `json:"limit_view_phone"`
	PostLimit      int    `json:"post_limit"`
	Description    string `json:"description"`
	IsActive       *bool  `json:"is_active"`
	IsPopular      bool   `json:"is_popular"`
}

type paymentEventRequest struct {
	ExternalRef string `json:"external_ref" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Memo        string `json:"memo"`
	IntentCode  string `json:"intent_code"`
	Gateway     string `json:"gateway"`
}

type pageQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

func (query pageQuery) page() entitlement.Page {
	return entitlement.Page{Limit: query.Limit, Offset: query.Offset}.Normalize()
}

type ledgerQuery struct {
	pageQuery
	Type   string `form:"type"`
	UserID string `form:"user_id"`
}

type pointLogQuery struct {
	pageQuery
	Type   string `form:"type"`
	Action string `form:"action"`
	UserID string `form:"user_id"`
}

type withdrawQuery struct {
	pageQuery
	Status string `form:"status"`
	UserID string `form:"user_id"`
}

type walletPayload struct {
	UserID         string    `json:"user_id"`
	Balance        int64     `json:"balance"`
	TotalTopUp     int64     `json:"total_top_up"`
	TotalSpent     int64     `json:"total_spent"`
	TotalWithdrawn int64     `json:"total_withdrawn"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newWalletPayload(wallet entitlement.WalletAccount) walletPayload {
	return walletPayload{
		UserID:         wallet.UserID.String(),
		Balance:        wallet.Balance.Int64(),
		TotalTopUp:     wallet.TotalTopUp.Int64(),
		TotalSpent:     wallet.TotalSpent.Int64(),
		TotalWithdrawn: wallet.TotalWithdrawn.Int64(),
		UpdatedAt:      wallet.UpdatedAt,
	}
}

type entryPayload struct {
	EntryID      string    `json:"entry_id"`
	UserID       string    `json:"user_id"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	RefID        string    `json:"ref_id,omitempty"`
	ExternalRef  string    `json:"external_ref,omitempty"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

func newEntryPayload(entry entitlement.LedgerEntry) entryPayload {
	return entryPayload{
		EntryID:      entry.EntryID,
		UserID:       entry.UserID.String(),
		Type:         entry.Type.String(),
		Amount:       entry.Amount.Int64(),
		BalanceAfter: entry.BalanceAfter.Int64(),
		RefID:        entry.RefID,
		ExternalRef:  entry.ExternalRef,
		Description:  entry.Description,
		CreatedAt:    entry.CreatedAt,
	}
}

func newEntryPayloads(entries []entitlement.LedgerEntry) []entryPayload {
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, newEntryPayload(entry))
	}
	return payloads
}

type topUpPayload struct {
	Wallet       walletPayload `json:"wallet"`
	Entry        entryPayload  `json:"entry"`
	PointsEarned int64         `json:"points_earned"`
	FirstTopUp   bool          `json:"first_top_up"`
}

func newTopUpPayload(result entitlement.TopUpResult) topUpPayload {
	return topUpPayload{
		Wallet:       newWalletPayload(result.Wallet),
		Entry:        newEntryPayload(result.Entry),
		PointsEarned: result.PointsEarned,
		FirstTopUp:   result.FirstTopUp,
	}
}

type vipPayload struct {
	IsActive         bool       `json:"is_active"`
	VipType          string     `json:"vip_type"`
	PackageID        string     `json:"package_id,omitempty"`
	PriorityScore    int        `json:"priority_score"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	ExpiredAt        *time.Time `json:"expired_at,omitempty"`
	DailyUsedSlots   int        `json:"daily_used_slots"`
	CurrentVipPosts  []string   `json:"current_vip_posts"`
	BonusPushCredits int64      `json:"bonus_push_credits"`
	BonusLeadCredits int64      `json:"bonus_lead_credits"`
}

func newVipPayload(vip entitlement.VipEntitlement) vipPayload {
	return vipPayload{
		IsActive:         vip.IsActive,
		VipType:          vip.VipType,
		PackageID:        vip.PackageID.String(),
		PriorityScore:    vip.PriorityScore,
		StartedAt:        optionalTime(vip.StartedAt),
		ExpiredAt:        optionalTime(vip.ExpiredAt),
		DailyUsedSlots:   vip.DailyUsedSlots,
		CurrentVipPosts:  postIDStrings(vip.CurrentVipPosts),
		BonusPushCredits: vip.BonusPushCredits,
		BonusLeadCredits: vip.BonusLeadCredits,
	}
}

type packagePayload struct {
	PackageID      string    `json:"package_id"`
	Name           string    `json:"name"`
	Price          int64     `json:"price"`
	DurationDays   int       `json:"duration_days"`
	PriorityScore  int       `json:"priority_score"`
	LimitViewPhone int       `json:"limit_view_phone"`
	PostLimit      int       `json:"post_limit"`
	Description    string    `json:"description"`
	IsActive       bool      `json:"is_active"`
	IsPopular      bool      `json:"is_popular"`
	CreatedAt      time.Time `json:"created_at"`
}

func newPackagePayload(vipPackage entitlement.VipPackage) packagePayload {
	return packagePayload{
		PackageID:      vipPackage.PackageID.String(),
		Name:           vipPackage.Name,
		Price:          vipPackage.Price.Int64(),
		DurationDays:   vipPackage.DurationDays,
		PriorityScore:  vipPackage.PriorityScore,
		LimitViewPhone: vipPackage.LimitViewPhone,
		PostLimit:      vipPackage.PostLimit,
		Description:    vipPackage.Description,
		IsActive:       vipPackage.IsActive,
		IsPopular:      vipPackage.IsPopular,
		CreatedAt:      vipPackage.CreatedAt,
	}
}

func newPackagePayloads(packages []entitlement.VipPackage) []packagePayload {
	payloads := make([]packagePayload, 0, len(packages))
	for _, vipPackage := range packages {
		payloads = append(payloads, newPackagePayload(vipPackage))
	}
	return payloads
}

type usagePayload struct {
	Today int64 `json:"today"`
	Limit int64 `json:"limit"`
}

type vipStatusPayload struct {
	Vip        vipPayload      `json:"vip"`
	Valid      bool            `json:"valid"`
	Package    *packagePayload `json:"package,omitempty"`
	Slots      usagePayload    `json:"slots"`
	PhoneViews usagePayload    `json:"phone_views"`
}

func newVipStatusPayload(status entitlement.VipStatus) vipStatusPayload {
	payload := vipStatusPayload{
		Vip:        newVipPayload(status.Vip),
		Valid:      status.Valid,
		Slots:      usagePayload(status.Slots),
		PhoneViews: usagePayload(status.PhoneViews),
	}
	if status.Package != nil {
		vipPackage := newPackagePayload(*status.Package)
		payload.Package = &vipPackage
	}
	return payload
}

type pointLogPayload struct {
	LogID       string    `json:"log_id"`
	UserID      string    `json:"user_id"`
	Type        string    `json:"type"`
	Action      string    `json:"action"`
	Points      int64     `json:"points"`
	RelatedID   string    `json:"related_id,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func newPointLogPayloads(entries []entitlement.PointLogEntry) []pointLogPayload {
	payloads := make([]pointLogPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, pointLogPayload{
			LogID:       entry.LogID,
			UserID:      entry.UserID.String(),
			Type:        string(entry.Type),
			Action:      string(entry.Action),
			Points:      entry.Points,
			RelatedID:   entry.RelatedID,
			Description: entry.Description,
			CreatedAt:   entry.CreatedAt,
		})
	}
	return payloads
}

type rewardPayload struct {
	Key  string `json:"key"`
	Cost int64  `json:"cost"`
	Item string `json:"item"`
	Name string `json:"name"`
}

func newRewardPayload(reward entitlement.Reward) rewardPayload {
	return rewardPayload{Key: string(reward.Key), Cost: reward.Cost, Item: string(reward.Item), Name: reward.Name}
}

func inventoryPayload(inventory entitlement.Inventory) map[string]int64 {
	payload := make(map[string]int64, len(entitlement.ItemKinds))
	for _, kind := range entitlement.ItemKinds {
		payload[string(kind)] = inventory[kind]
	}
	return payload
}

type profilePayload struct {
	UserID    string           `json:"user_id"`
	Points    int64            `json:"points"`
	Inventory map[string]int64 `json:"inventory"`
	Vip       vipPayload       `json:"vip"`
}

func newProfilePayload(profile entitlement.Profile) profilePayload {
	return profilePayload{
		UserID:    profile.UserID.String(),
		Points:    profile.Points,
		Inventory: inventoryPayload(profile.Inventory),
		Vip:       newVipPayload(profile.Vip),
	}
}

type withdrawPayload struct {
	RequestID       string     `json:"request_id"`
	UserID          string     `json:"user_id"`
	Amount          int64      `json:"amount"`
	Bank            bankDetail `json:"bank"`
	Status          string     `json:"status"`
	EscalationLevel int        `json:"escalation_level"`
	AdminNote       string     `json:"admin_note,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

type bankDetail struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

func newWithdrawPayload(request entitlement.WithdrawRequest) withdrawPayload {
	return withdrawPayload{
		RequestID:       request.RequestID.String(),
		UserID:          request.UserID.String(),
		Amount:          request.Amount.Int64(),
		Bank:            bankDetail(request.Bank),
		Status:          string(request.Status),
		EscalationLevel: request.EscalationLevel,
		AdminNote:       request.AdminNote,
		RequestedAt:     request.RequestedAt,
		ProcessedAt:     optionalTime(request.ProcessedAt),
	}
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	return &value
}

func postIDStrings(postIDs []entitlement.PostID) []string {
	values := make([]string, 0, len(postIDs))
	for _, postID := range postIDs {
		values = append(values, postID.String())
	}
	return values
}
