package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/vipledger/pkg/entitlement"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectWallet      = "wallet"
	errorSubjectEntry       = "entry"
	errorSubjectProfile     = "profile"
	errorSubjectPointLog    = "point_log"
	errorSubjectPackage     = "package"
	errorSubjectPost        = "post"
	errorSubjectLead        = "lead"
	errorSubjectWithdraw    = "withdraw"
	errorSubjectIntent      = "intent"
	errorSubjectCode        = "code"
	errorSubjectNotify      = "notification"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeCount          = "count"
	errorCodeSum            = "sum"
	errorCodeUpdate         = "update"
	errorCodeDelete         = "delete"
	errorCodeUpdateStatus   = "update_status"
	defaultSweepOrderColumn = "user_id ASC"
)

// Store implements entitlement.Store and entitlement.CodeStore using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore entitlement.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetOrCreateWallet(ctx context.Context, userID entitlement.UserID) (entitlement.WalletAccount, error) {
	now := time.Now().UTC()
	row := Wallet{UserID: userID.String(), CreatedAt: now, UpdatedAt: now}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return entitlement.WalletAccount{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, err)
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID.String()).
		Take(&row).Error
	if err != nil {
		return entitlement.WalletAccount{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, err)
	}
	return mapWallet(row)
}

func (store *Store) SaveWallet(ctx context.Context, wallet entitlement.WalletAccount) error {
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("user_id = ? AND version = ?", wallet.UserID.String(), wallet.Version).
		Updates(map[string]any{
			"balance":         wallet.Balance.Int64(),
			"total_top_up":    wallet.TotalTopUp.Int64(),
			"total_spent":     wallet.TotalSpent.Int64(),
			"total_withdrawn": wallet.TotalWithdrawn.Int64(),
			"version":         gorm.Expr("version + 1"),
			"updated_at":      wallet.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdate, entitlement.ErrConcurrentUpdate)
	}
	return nil
}

func (store *Store) InsertLedgerEntry(ctx context.Context, entry entitlement.LedgerEntry) error {
	var externalRef *string
	if entry.ExternalRef != "" {
		value := entry.ExternalRef
		externalRef = &value
	}
	row := LedgerEntry{
		EntryID:      entry.EntryID,
		UserID:       entry.UserID.String(),
		Type:         entry.Type.String(),
		Amount:       entry.Amount.Int64(),
		BalanceAfter: entry.BalanceAfter.Int64(),
		RefID:        entry.RefID,
		ExternalRef:  externalRef,
		Description:  entry.Description,
		CreatedAt:    utcOrNow(entry.CreatedAt),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if externalRef != nil && isUniqueViolation(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, entitlement.ErrDuplicateExternalRef)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListLedgerEntries(ctx context.Context, query entitlement.LedgerQuery) (entitlement.LedgerPage, error) {
	scope := store.db.WithContext(ctx).Model(&LedgerEntry{})
	if !query.UserID.IsZero() {
		scope = scope.Where("user_id = ?", query.UserID.String())
	}
	if query.Type != "" {
		scope = scope.Where("type = ?", query.Type.String())
	}
	var total int64
	if err := scope.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return entitlement.LedgerPage{}, wrapStoreError(errorSubjectEntry, errorCodeCount, err)
	}
	var rows []LedgerEntry
	err := scope.
		Order("created_at DESC").
		Order("entry_id DESC").
		Limit(query.Page.Limit).
		Offset(query.Page.Offset).
		Find(&rows).Error
	if err != nil {
		return entitlement.LedgerPage{}, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]entitlement.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return entitlement.LedgerPage{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entitlement.LedgerPage{Entries: entries, Total: total}, nil
}

func (store *Store) SumLedgerAmount(ctx context.Context, entryType entitlement.EntryType, since time.Time) (entitlement.Amount, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(amount),0) as total").
		Where("type = ? AND created_at >= ?", entryType.String(), since.UTC()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeSum, err)
	}
	return entitlement.Amount(sum.Total), nil
}

func (store *Store) GetOrCreateProfile(ctx context.Context, userID entitlement.UserID) (entitlement.Profile, error) {
	now := time.Now().UTC()
	row := newProfileRow(entitlement.NewProfile(userID), now)
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return entitlement.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeCreate, err)
	}
	return store.GetProfile(ctx, userID)
}

func (store *Store) GetProfile(ctx context.Context, userID entitlement.UserID) (entitlement.Profile, error) {
	var row Profile
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entitlement.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeGet, entitlement.ErrNotFound)
		}
		return entitlement.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeGet, err)
	}
	profile, err := mapProfile(row)
	if err != nil {
		return entitlement.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeInvalid, err)
	}
	return profile, nil
}

func (store *Store) SaveProfile(ctx context.Context, profile entitlement.Profile) error {
	row := newProfileRow(profile, profile.UpdatedAt)
	result := store.db.WithContext(ctx).
		Model(&Profile{}).
		Where("user_id = ? AND version = ?", profile.UserID.String(), profile.Version).
		Updates(map[string]any{
			"points":             row.Points,
			"inventory":          row.Inventory,
			"vip_is_active":      row.VipIsActive,
			"vip_type":           row.VipType,
			"vip_package_id":     row.VipPackageID,
			"vip_priority_score": row.VipPriorityScore,
			"vip_started_at":     row.VipStartedAt,
			"vip_expired_at":     row.VipExpiredAt,
			"daily_used_slots":   row.DailyUsedSlots,
			"current_vip_posts":  row.CurrentVipPosts,
			"vip_post_count":     row.VipPostCount,
			"bonus_push_credits": row.BonusPushCredits,
			"bonus_lead_credits": row.BonusLeadCredits,
			"version":            gorm.Expr("version + 1"),
			"updated_at":         utcOrNow(profile.UpdatedAt),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectProfile, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectProfile, errorCodeUpdate, entitlement.ErrConcurrentUpdate)
	}
	return nil
}

func (store *Store) ListDueVipUsers(ctx context.Context, now time.Time, limit int) ([]entitlement.UserID, error) {
	var userIDs []string
	err := store.db.WithContext(ctx).
		Model(&Profile{}).
		Where("vip_is_active = ? AND vip_expired_at IS NOT NULL AND vip_expired_at <= ?", true, now.UTC()).
		Order("vip_expired_at ASC").
		Limit(limit).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectProfile, errorCodeList, err)
	}
	return mapUserIDs(userIDs)
}

func (store *Store) ListDailyVipUsers(ctx context.Context, afterUserID string, limit int) ([]entitlement.UserID, error) {
	var userIDs []string
	err := store.db.WithContext(ctx).
		Model(&Profile{}).
		Where("user_id > ?", afterUserID).
		Where("vip_is_active = ? OR daily_used_slots > 0 OR vip_post_count > 0", true).
		Order(defaultSweepOrderColumn).
		Limit(limit).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectProfile, errorCodeList, err)
	}
	return mapUserIDs(userIDs)
}

func (store *Store) ListVipProfiles(ctx context.Context, query entitlement.VipUserQuery) ([]entitlement.Profile, error) {
	var rows []Profile
	err := store.activeVipScope(ctx, query.Now).
		Order("vip_expired_at ASC").
		Limit(query.Page.Limit).
		Offset(query.Page.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectProfile, errorCodeList, err)
	}
	profiles := make([]entitlement.Profile, 0, len(rows))
	for _, row := range rows {
		profile, err := mapProfile(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectProfile, errorCodeInvalid, err)
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

func (store *Store) CountActiveVip(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	if err := store.activeVipScope(ctx, now).Count(&count).Error; err != nil {
		return 0, wrapStoreError(errorSubjectProfile, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) TopActiveVipType(ctx context.Context, now time.Time) (string, error) {
	var rows []vipTypeCount
	err := store.activeVipScope(ctx, now).
		Select("vip_type, count(*) as total").
		Group("vip_type").
		Order("total DESC").
		Order("vip_type ASC").
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return "", wrapStoreError(errorSubjectProfile, errorCodeCount, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].VipType, nil
}

func (store *Store) activeVipScope(ctx context.Context, now time.Time) *gorm.DB {
	return store.db.WithContext(ctx).
		Model(&Profile{}).
		Where("vip_is_active = ? AND (vip_expired_at IS NULL OR vip_expired_at >= ?)", true, now.UTC())
}

func (store *Store) InsertPointLog(ctx context.Context, entry entitlement.PointLogEntry) error {
	row := PointLog{
		LogID:       entry.LogID,
		UserID:      entry.UserID.String(),
		Type:        string(entry.Type),
		Action:      string(entry.Action),
		Points:      entry.Points,
		RelatedID:   entry.RelatedID,
		Description: entry.Description,
		CreatedAt:   utcOrNow(entry.CreatedAt),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectPointLog, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListPointLogs(ctx context.Context, query entitlement.PointLogQuery) (entitlement.PointLogPage, error) {
	scope := store.db.WithContext(ctx).Model(&PointLog{})
	if !query.UserID.IsZero() {
		scope = scope.Where("user_id = ?", query.UserID.String())
	}
	if query.Type != "" {
		scope = scope.Where("type = ?", string(query.Type))
	}
	if query.Action != "" {
		scope = scope.Where("action = ?", string(query.Action))
	}
	if query.ActionPrefix != "" {
		scope = scope.Where("action LIKE ? ESCAPE '!'", escapeLike(query.ActionPrefix)+"%")
	}
	var total int64
	if err := scope.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return entitlement.PointLogPage{}, wrapStoreError(errorSubjectPointLog, errorCodeCount, err)
	}
	var rows []PointLog
	err := scope.
		Order("created_at DESC").
		Order("log_id DESC").
		Limit(query.Page.Limit).
		Offset(query.Page.Offset).
		Find(&rows).Error
	if err != nil {
		return entitlement.PointLogPage{}, wrapStoreError(errorSubjectPointLog, errorCodeList, err)
	}
	entries := make([]entitlement.PointLogEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapPointLog(row)
		if err != nil {
			return entitlement.PointLogPage{}, wrapStoreError(errorSubjectPointLog, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entitlement.PointLogPage{Entries: entries, Total: total}, nil
}

func (store *Store) PointTotals(ctx context.Context) (entitlement.PointStats, error) {
	var available sqlSum
	if err := store.db.WithContext(ctx).Model(&Profile{}).Select("coalesce(sum(points),0) as total").Scan(&available).Error; err != nil {
		return entitlement.PointStats{}, wrapStoreError(errorSubjectPointLog, errorCodeSum, err)
	}
	var distributed sqlSum
	if err := store.pointLogSum(ctx, entitlement.PointEarn, &distributed); err != nil {
		return entitlement.PointStats{}, err
	}
	var redeemed sqlSum
	if err := store.pointLogSum(ctx, entitlement.PointSpend, &redeemed); err != nil {
		return entitlement.PointStats{}, err
	}
	return entitlement.PointStats{
		TotalAvailable:   available.Total,
		TotalDistributed: distributed.Total,
		TotalRedeemed:    redeemed.Total,
	}, nil
}

func (store *Store) pointLogSum(ctx context.Context, logType entitlement.PointLogType, sum *sqlSum) error {
	err := store.db.WithContext(ctx).
		Model(&PointLog{}).
		Select("coalesce(sum(points),0) as total").
		Where("type = ?", string(logType)).
		Scan(sum).Error
	if err != nil {
		return wrapStoreError(errorSubjectPointLog, errorCodeSum, err)
	}
	return nil
}

func (store *Store) GetPackage(ctx context.Context, packageID entitlement.PackageID) (entitlement.VipPackage, error) {
	var row VipPackage
	err := store.db.WithContext(ctx).Where("package_id = ?", packageID.String()).Take(&row).Error
	if err != nil {
		return entitlement.VipPackage{}, notFoundOr(errorSubjectPackage, errorCodeGet, err)
	}
	return mapPackageRow(row)
}

func (store *Store) FindPackageByName(ctx context.Context, fragment string) (entitlement.VipPackage, error) {
	var row VipPackage
	err := store.db.WithContext(ctx).
		Where("is_active = ? AND lower(name) LIKE ? ESCAPE '!'", true, "%"+escapeLike(strings.ToLower(strings.TrimSpace(fragment)))+"%").
		Order("price ASC").
		Order("package_id ASC").
		Take(&row).Error
	if err != nil {
		return entitlement.VipPackage{}, notFoundOr(errorSubjectPackage, errorCodeLookup, err)
	}
	return mapPackageRow(row)
}

func (store *Store) ListPackages(ctx context.Context, activeOnly bool) ([]entitlement.VipPackage, error) {
	scope := store.db.WithContext(ctx).Model(&VipPackage{})
	if activeOnly {
		scope = scope.Where("is_active = ?", true)
	}
	var rows []VipPackage
	if err := scope.Order("price ASC").Order("name ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectPackage, errorCodeList, err)
	}
	packages := make([]entitlement.VipPackage, 0, len(rows))
	for _, row := range rows {
		vipPackage, err := mapPackageRow(row)
		if err != nil {
			return nil, err
		}
		packages = append(packages, vipPackage)
	}
	return packages, nil
}

func (store *Store) CreatePackage(ctx context.Context, vipPackage entitlement.VipPackage) (entitlement.VipPackage, error) {
	row := packageRow(vipPackage)
	row.CreatedAt = utcOrNow(vipPackage.CreatedAt)
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return entitlement.VipPackage{}, wrapStoreError(errorSubjectPackage, errorCodeDuplicate, entitlement.ErrInvalidPackage)
		}
		return entitlement.VipPackage{}, wrapStoreError(errorSubjectPackage, errorCodeCreate, err)
	}
	return mapPackageRow(row)
}

func (store *Store) UpdatePackage(ctx context.Context, vipPackage entitlement.VipPackage) error {
	row := packageRow(vipPackage)
	err := store.db.WithContext(ctx).
		Model(&VipPackage{}).
		Where("package_id = ?", row.PackageID).
		Updates(map[string]any{
			"name":             row.Name,
			"price":            row.Price,
			"duration_days":    row.DurationDays,
			"priority_score":   row.PriorityScore,
			"limit_view_phone": row.LimitViewPhone,
			"post_limit":       row.PostLimit,
			"description":      row.Description,
			"is_active":        row.IsActive,
			"is_popular":       row.IsPopular,
		}).Error
	if err != nil {
		return wrapStoreError(errorSubjectPackage, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) ClearPopularPackages(ctx context.Context, except entitlement.PackageID) error {
	err := store.db.WithContext(ctx).
		Model(&VipPackage{}).
		Where("is_popular = ? AND package_id <> ?", true, except.String()).
		Update("is_popular", false).Error
	if err != nil {
		return wrapStoreError(errorSubjectPackage, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) GetPost(ctx context.Context, postID entitlement.PostID) (entitlement.Post, error) {
	var row Post
	err := store.db.WithContext(ctx).Where("post_id = ?", postID.String()).Take(&row).Error
	if err != nil {
		return entitlement.Post{}, notFoundOr(errorSubjectPost, errorCodeGet, err)
	}
	post, err := mapPost(row)
	if err != nil {
		return entitlement.Post{}, wrapStoreError(errorSubjectPost, errorCodeInvalid, err)
	}
	return post, nil
}

func (store *Store) GetPosts(ctx context.Context, postIDs []entitlement.PostID) ([]entitlement.Post, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	var rows []Post
	err := store.db.WithContext(ctx).
		Where("post_id IN ?", postIDStrings(postIDs)).
		Order("post_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPost, errorCodeList, err)
	}
	posts := make([]entitlement.Post, 0, len(rows))
	for _, row := range rows {
		post, err := mapPost(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPost, errorCodeInvalid, err)
		}
		posts = append(posts, post)
	}
	return posts, nil
}

func (store *Store) SetPostVip(ctx context.Context, postIDs []entitlement.PostID, vip entitlement.PostVip) error {
	if len(postIDs) == 0 {
		return nil
	}
	err := store.db.WithContext(ctx).
		Model(&Post{}).
		Where("post_id IN ?", postIDStrings(postIDs)).
		Updates(map[string]any{
			"vip_is_active":      vip.IsActive,
			"vip_type":           vip.VipType,
			"vip_priority_score": vip.PriorityScore,
			"vip_expired_at":     timePointer(vip.ExpiredAt),
		}).Error
	if err != nil {
		return wrapStoreError(errorSubjectPost, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) ClearPostVip(ctx context.Context, ownerID entitlement.UserID, postIDs []entitlement.PostID) error {
	if len(postIDs) == 0 {
		return nil
	}
	err := store.db.WithContext(ctx).
		Model(&Post{}).
		Where("owner_id = ? AND post_id IN ?", ownerID.String(), postIDStrings(postIDs)).
		Updates(map[string]any{
			"vip_is_active":      false,
			"vip_type":           "",
			"vip_priority_score": 0,
			"vip_expired_at":     nil,
		}).Error
	if err != nil {
		return wrapStoreError(errorSubjectPost, errorCodeUpdate, err)
	}
	return nil
}

// UpsertPost writes the listing projection. The listings service owns these
// rows; the ledger only rewrites their VIP columns.
func (store *Store) UpsertPost(ctx context.Context, post entitlement.Post) error {
	row := Post{
		PostID:           post.PostID.String(),
		OwnerID:          post.OwnerID.String(),
		Status:           string(post.Status),
		ContactPhone:     post.ContactPhone,
		VipIsActive:      post.Vip.IsActive,
		VipType:          post.Vip.VipType,
		VipPriorityScore: post.Vip.PriorityScore,
		VipExpiredAt:     timePointer(post.Vip.ExpiredAt),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "post_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner_id", "status", "contact_phone"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectPost, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) FindLead(ctx context.Context, buyerID entitlement.UserID, postID entitlement.PostID, leadType entitlement.LeadType) (entitlement.Lead, bool, error) {
	var row Lead
	err := store.db.WithContext(ctx).
		Where("buyer_id = ? AND post_id = ? AND type = ?", buyerID.String(), postID.String(), string(leadType)).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entitlement.Lead{}, false, nil
	}
	if err != nil {
		return entitlement.Lead{}, false, wrapStoreError(errorSubjectLead, errorCodeLookup, err)
	}
	lead, err := mapLead(row)
	if err != nil {
		return entitlement.Lead{}, false, wrapStoreError(errorSubjectLead, errorCodeInvalid, err)
	}
	return lead, true, nil
}

// InsertLead reports a concurrent duplicate as ErrConcurrentUpdate so the
// caller retries and finds the existing lead.
func (store *Store) InsertLead(ctx context.Context, lead entitlement.Lead) error {
	row := Lead{
		LeadID:    lead.LeadID,
		PostID:    lead.PostID.String(),
		BuyerID:   lead.BuyerID.String(),
		SellerID:  lead.SellerID.String(),
		Type:      string(lead.Type),
		Source:    string(lead.Source),
		CreatedAt: utcOrNow(lead.CreatedAt),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectLead, errorCodeDuplicate, entitlement.ErrConcurrentUpdate)
	}
	if err != nil {
		return wrapStoreError(errorSubjectLead, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) CountLeadsSince(ctx context.Context, buyerID entitlement.UserID, leadType entitlement.LeadType, since time.Time) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Lead{}).
		Where("buyer_id = ? AND type = ? AND created_at >= ?", buyerID.String(), string(leadType), since.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectLead, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) CreateWithdrawRequest(ctx context.Context, request entitlement.WithdrawRequest) (entitlement.WithdrawRequest, error) {
	row := WithdrawRequest{
		RequestID:       request.RequestID.String(),
		UserID:          request.UserID.String(),
		Amount:          request.Amount.Int64(),
		Bank:            datatypes.NewJSONType(BankDetails(request.Bank)),
		Status:          string(request.Status),
		EscalationLevel: request.EscalationLevel,
		AdminNote:       request.AdminNote,
		RequestedAt:     utcOrNow(request.RequestedAt),
		ProcessedAt:     timePointer(request.ProcessedAt),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return entitlement.WithdrawRequest{}, wrapStoreError(errorSubjectWithdraw, errorCodeCreate, err)
	}
	created, err := mapWithdrawRequest(row)
	if err != nil {
		return entitlement.WithdrawRequest{}, wrapStoreError(errorSubjectWithdraw, errorCodeInvalid, err)
	}
	return created, nil
}

func (store *Store) GetWithdrawRequest(ctx context.Context, requestID entitlement.RequestID) (entitlement.WithdrawRequest, error) {
	var row WithdrawRequest
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("request_id = ?", requestID.String()).
		Take(&row).Error
	if err != nil {
		return entitlement.WithdrawRequest{}, notFoundOr(errorSubjectWithdraw, errorCodeGet, err)
	}
	request, err := mapWithdrawRequest(row)
	if err != nil {
		return entitlement.WithdrawRequest{}, wrapStoreError(errorSubjectWithdraw, errorCodeInvalid, err)
	}
	return request, nil
}

func (store *Store) TransitionWithdrawRequest(ctx context.Context, transition entitlement.WithdrawTransition) error {
	result := store.db.WithContext(ctx).
		Model(&WithdrawRequest{}).
		Where("request_id = ? AND status = ?", transition.RequestID.String(), string(transition.From)).
		Updates(map[string]any{
			"status":       string(transition.To),
			"admin_note":   transition.AdminNote,
			"processed_at": timePointer(transition.ProcessedAt),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectWithdraw, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWithdraw, errorCodeUpdateStatus, entitlement.ErrAlreadyProcessed)
	}
	return nil
}

func (store *Store) SetWithdrawEscalation(ctx context.Context, requestID entitlement.RequestID, from int, to int) error {
	result := store.db.WithContext(ctx).
		Model(&WithdrawRequest{}).
		Where("request_id = ? AND escalation_level = ?", requestID.String(), from).
		Update("escalation_level", to)
	if result.Error != nil {
		return wrapStoreError(errorSubjectWithdraw, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWithdraw, errorCodeUpdate, entitlement.ErrAlreadyProcessed)
	}
	return nil
}

func (store *Store) ListWithdrawRequests(ctx context.Context, query entitlement.WithdrawQuery) (entitlement.WithdrawPage, error) {
	scope := store.db.WithContext(ctx).Model(&WithdrawRequest{})
	if !query.UserID.IsZero() {
		scope = scope.Where("user_id = ?", query.UserID.String())
	}
	if query.Status != "" {
		scope = scope.Where("status = ?", string(query.Status))
	}
	var total int64
	if err := scope.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return entitlement.WithdrawPage{}, wrapStoreError(errorSubjectWithdraw, errorCodeCount, err)
	}
	var rows []WithdrawRequest
	err := scope.
		Order("requested_at DESC").
		Order("request_id DESC").
		Limit(query.Page.Limit).
		Offset(query.Page.Offset).
		Find(&rows).Error
	if err != nil {
		return entitlement.WithdrawPage{}, wrapStoreError(errorSubjectWithdraw, errorCodeList, err)
	}
	requests, err := mapWithdrawRequests(rows)
	if err != nil {
		return entitlement.WithdrawPage{}, err
	}
	return entitlement.WithdrawPage{Requests: requests, Total: total}, nil
}

func (store *Store) ListPendingWithdrawRequests(ctx context.Context, requestedBefore time.Time, after entitlement.WithdrawCursor, limit int) ([]entitlement.WithdrawRequest, error) {
	var rows []WithdrawRequest
	query := store.db.WithContext(ctx).
		Where("status = ? AND requested_at <= ?", string(entitlement.WithdrawPending), requestedBefore.UTC())
	if !after.IsZero() {
		cursorTime := after.RequestedAt.UTC()
		query = query.Where("(requested_at > ? OR (requested_at = ? AND request_id > ?))", cursorTime, cursorTime, after.RequestID.String())
	}
	err := query.
		Order("requested_at ASC").
		Order("request_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectWithdraw, errorCodeList, err)
	}
	return mapWithdrawRequests(rows)
}

func (store *Store) GetOrCreatePaymentIntent(ctx context.Context, userID entitlement.UserID, candidateCode string) (entitlement.PaymentIntent, error) {
	row := PaymentIntent{Code: candidateCode, UserID: userID.String(), CreatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return entitlement.PaymentIntent{}, wrapStoreError(errorSubjectIntent, errorCodeCreate, err)
	}
	var existing PaymentIntent
	err = store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&existing).Error
	if err != nil {
		return entitlement.PaymentIntent{}, wrapStoreError(errorSubjectIntent, errorCodeLookup, err)
	}
	return mapPaymentIntent(existing)
}

func (store *Store) FindPaymentIntent(ctx context.Context, code string) (entitlement.PaymentIntent, error) {
	var row PaymentIntent
	err := store.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error
	if err != nil {
		return entitlement.PaymentIntent{}, notFoundOr(errorSubjectIntent, errorCodeLookup, err)
	}
	return mapPaymentIntent(row)
}

func (store *Store) PutWithdrawCode(ctx context.Context, code entitlement.WithdrawCode) error {
	row := WithdrawCode{
		UserID:    code.UserID.String(),
		Hash:      code.Hash,
		ExpiresAt: code.ExpiresAt.UTC(),
		Attempts:  code.Attempts,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"hash", "expires_at", "attempts"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectCode, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetWithdrawCode(ctx context.Context, userID entitlement.UserID) (entitlement.WithdrawCode, error) {
	var row WithdrawCode
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&row).Error
	if err != nil {
		return entitlement.WithdrawCode{}, notFoundOr(errorSubjectCode, errorCodeGet, err)
	}
	return entitlement.WithdrawCode{
		UserID:    userID,
		Hash:      row.Hash,
		ExpiresAt: row.ExpiresAt,
		Attempts:  row.Attempts,
	}, nil
}

func (store *Store) RecordFailedAttempt(ctx context.Context, userID entitlement.UserID) (int, error) {
	var attempts int
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		result := transaction.
			Model(&WithdrawCode{}).
			Where("user_id = ?", userID.String()).
			Update("attempts", gorm.Expr("attempts + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return entitlement.ErrNotFound
		}
		var row WithdrawCode
		if err := transaction.Where("user_id = ?", userID.String()).Take(&row).Error; err != nil {
			return err
		}
		attempts = row.Attempts
		return nil
	})
	if err != nil {
		return 0, wrapStoreError(errorSubjectCode, errorCodeUpdate, err)
	}
	return attempts, nil
}

func (store *Store) DeleteWithdrawCode(ctx context.Context, userID entitlement.UserID) error {
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Delete(&WithdrawCode{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectCode, errorCodeDelete, err)
	}
	return nil
}

// Notify persists notifications so user inboxes and the admin queue survive
// broker outages.
func (store *Store) Notify(ctx context.Context, notifications []entitlement.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	rows := make([]Notification, 0, len(notifications))
	for _, notification := range notifications {
		var recipientID *string
		if !notification.RecipientID.IsZero() {
			value := notification.RecipientID.String()
			recipientID = &value
		}
		rows = append(rows, Notification{
			Audience:    string(notification.Audience),
			RecipientID: recipientID,
			Kind:        string(notification.Kind),
			Message:     notification.Message,
			RelatedID:   notification.RelatedID,
			CreatedAt:   utcOrNow(notification.CreatedAt),
		})
	}
	if err := store.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return wrapStoreError(errorSubjectNotify, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return entitlement.WrapError(errorOperationStore, subject, code, err)
}

func notFoundOr(subject string, code string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(subject, code, entitlement.ErrNotFound)
	}
	return wrapStoreError(subject, code, err)
}

type sqlSum struct {
	Total int64
}

type vipTypeCount struct {
	VipType string
	Total   int64
}

func newProfileRow(profile entitlement.Profile, now time.Time) Profile {
	inventory := make(map[string]int64, len(entitlement.ItemKinds))
	for _, kind := range entitlement.ItemKinds {
		inventory[string(kind)] = profile.Inventory.Quantity(kind)
	}
	posts := make([]string, 0, len(profile.Vip.CurrentVipPosts))
	for _, postID := range profile.Vip.CurrentVipPosts {
		posts = append(posts, postID.String())
	}
	vipType := profile.Vip.VipType
	if vipType == "" {
		vipType = entitlement.VipTypeNone
	}
	createdAt := utcOrNow(now)
	return Profile{
		UserID:           profile.UserID.String(),
		Points:           profile.Points,
		Inventory:        datatypes.NewJSONType(inventory),
		VipIsActive:      profile.Vip.IsActive,
		VipType:          vipType,
		VipPackageID:     profile.Vip.PackageID.String(),
		VipPriorityScore: profile.Vip.PriorityScore,
		VipStartedAt:     timePointer(profile.Vip.StartedAt),
		VipExpiredAt:     timePointer(profile.Vip.ExpiredAt),
		DailyUsedSlots:   profile.Vip.DailyUsedSlots,
		CurrentVipPosts:  datatypes.NewJSONSlice(posts),
		VipPostCount:     len(posts),
		BonusPushCredits: profile.Vip.BonusPushCredits,
		BonusLeadCredits: profile.Vip.BonusLeadCredits,
		Version:          profile.Version,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

func mapProfile(row Profile) (entitlement.Profile, error) {
	userID, err := entitlement.NewUserID(row.UserID)
	if err != nil {
		return entitlement.Profile{}, err
	}
	profile := entitlement.NewProfile(userID)
	for kind, quantity := range row.Inventory.Data() {
		profile.Inventory[entitlement.ItemKind(kind)] = quantity
	}
	var packageID entitlement.PackageID
	if row.VipPackageID != "" {
		packageID, err = entitlement.NewPackageID(row.VipPackageID)
		if err != nil {
			return entitlement.Profile{}, err
		}
	}
	posts, err := entitlement.NewPostIDs(row.CurrentVipPosts)
	if err != nil {
		return entitlement.Profile{}, err
	}
	if len(posts) == 0 {
		posts = nil
	}
	profile.Points = row.Points
	profile.Vip = entitlement.VipEntitlement{
		IsActive:         row.VipIsActive,
		VipType:          row.VipType,
		PackageID:        packageID,
		PriorityScore:    row.VipPriorityScore,
		StartedAt:        timeValue(row.VipStartedAt),
		ExpiredAt:        timeValue(row.VipExpiredAt),
		DailyUsedSlots:   row.DailyUsedSlots,
		CurrentVipPosts:  posts,
		BonusPushCredits: row.BonusPushCredits,
		BonusLeadCredits: row.BonusLeadCredits,
	}
	profile.Version = row.Version
	profile.UpdatedAt = row.UpdatedAt
	return profile, nil
}

func mapWallet(row Wallet) (entitlement.WalletAccount, error) {
	userID, err := entitlement.NewUserID(row.UserID)
	if err != nil {
		return entitlement.WalletAccount{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return entitlement.WalletAccount{
		UserID:         userID,
		Balance:        entitlement.Amount(row.Balance),
		TotalTopUp:     entitlement.Amount(row.TotalTopUp),
		TotalSpent:     entitlement.Amount(row.TotalSpent),
		TotalWithdrawn: entitlement.Amount(row.TotalWithdrawn),
		Version:        row.Version,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

func mapLedgerEntry(row LedgerEntry) (entitlement.LedgerEntry, error) {
	userID, err := entitlement.NewUserID(row.UserID)
	if err != nil {
		return entitlement.LedgerEntry{}, err
	}
	entryType, err := entitlement.ParseEntryType(row.Type)
	if err != nil {
		return entitlement.LedgerEntry{}, err
	}
	externalRef := ""
	if row.ExternalRef != nil {
		externalRef = *row.ExternalRef
	}
	return entitlement.LedgerEntry{
		EntryID:      row.EntryID,
		UserID:       userID,
		Type:         entryType,
		Amount:       entitlement.Amount(row.Amount),
		BalanceAfter: entitlement.Amount(row.BalanceAfter),
		RefID:        row.RefID,
		ExternalRef:  externalRef,
		Description:  row.Description,
		CreatedAt:    row.CreatedAt,
	}, nil
}

func mapPointLog(row PointLog) (entitlement.PointLogEntry, error) {
	userID, err := entitlement.NewUserID(row.UserID)
	if err != nil {
		return entitlement.PointLogEntry{}, err
	}
	return entitlement.PointLogEntry{
		LogID:       row.LogID,
		UserID:      userID,
		Type:        entitlement.PointLogType(row.Type),
		Action:      entitlement.PointAction(row.Action),
		Points:      row.Points,
		RelatedID:   row.RelatedID,
		Description: row.Description,
		CreatedAt:   row.CreatedAt,
	}, nil
}

func packageRow(vipPackage entitlement.VipPackage) VipPackage {
	return VipPackage{
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

func mapPackageRow(row VipPackage) (entitlement.VipPackage, error) {
	packageID, err := entitlement.NewPackageID(row.PackageID)
	if err != nil {
		return entitlement.VipPackage{}, wrapStoreError(errorSubjectPackage, errorCodeInvalid, err)
	}
	return entitlement.VipPackage{
		PackageID:      packageID,
		Name:           row.Name,
		Price:          entitlement.Amount(row.Price),
		DurationDays:   row.DurationDays,
		PriorityScore:  row.PriorityScore,
		LimitViewPhone: row.LimitViewPhone,
		PostLimit:      row.PostLimit,
		Description:    row.Description,
		IsActive:       row.IsActive,
		IsPopular:      row.IsPopular,
		CreatedAt:      row.CreatedAt,
	}, nil
}

func mapPost(row Post) (entitlement.Post, error) {
	postID, err := entitlement.NewPostID(row.PostID)
	if err != nil {
		return entitlement.Post{}, err
	}
	ownerID, err := entitlement.NewUserID(row.OwnerID)
	if err != nil {
		return entitlement.Post{}, err
	}
	return entitlement.Post{
		PostID:       postID,
		OwnerID:      ownerID,
		Status:       entitlement.PostStatus(row.Status),
		ContactPhone: row.ContactPhone,
		Vip: entitlement.PostVip{
			IsActive:      row.VipIsActive,
			VipType:       row.VipType,
			PriorityScore: row.VipPriorityScore,
			ExpiredAt:     timeValue(row.VipExpiredAt),
		},
	}, nil
}

func mapLead(row Lead) (entitlement.Lead, error) {
	postID, err := entitlement.NewPostID(row.PostID)
	if err != nil {
		return entitlement.Lead{}, err
	}
	buyerID, err := entitlement.NewUserID(row.BuyerID)
	if err != nil {
		return entitlement.Lead{}, err
	}
	sellerID, err := entitlement.NewUserID(row.SellerID)
	if err != nil {
		return entitlement.Lead{}, err
	}
	return entitlement.Lead{
		LeadID:    row.LeadID,
		PostID:    postID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Type:      entitlement.LeadType(row.Type),
		Source:    entitlement.LeadSource(row.Source),
		CreatedAt: row.CreatedAt,
	}, nil
}

func mapWithdrawRequest(row WithdrawRequest) (entitlement.WithdrawRequest, error) {
	requestID, err := entitlement.NewRequestID(row.RequestID)
	if err != nil {
		return entitlement.WithdrawRequest{}, err
	}
	userID, err := entitlement.NewUserID(row.UserID)
	if err != nil {
		return entitlement.WithdrawRequest{}, err
	}
	status, err := entitlement.ParseWithdrawStatus(row.Status)
	if err != nil {
		return entitlement.WithdrawRequest{}, err
	}
	return entitlement.WithdrawRequest{
		RequestID:       requestID,
		UserID:          userID,
		Amount:          entitlement.Amount(row.Amount),
		Bank:            entitlement.BankDetails(row.Bank.Data()),
		Status:          status,
		EscalationLevel: row.EscalationLevel,
		AdminNote:       row.AdminNote,
		RequestedAt:     row.RequestedAt,
		ProcessedAt:     timeValue(row.ProcessedAt),
	}, nil
}

func mapWithdrawRequests(rows []WithdrawRequest) ([]entitlement.WithdrawRequest, error) {
	requests := make([]entitlement.WithdrawRequest, 0, len(rows))
	for _, row := range rows {
		request, err := mapWithdrawRequest(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectWithdraw, errorCodeInvalid, err)
		}
		requests = append(requests, request)
	}
	return requests, nil
}

func mapPaymentIntent(row PaymentIntent) (entitlement.PaymentIntent, error) {
	userID, err := entitlement.NewUserID(row.UserID)
	if err != nil {
		return entitlement.PaymentIntent{}, wrapStoreError(errorSubjectIntent, errorCodeInvalid, err)
	}
	return entitlement.PaymentIntent{Code: row.Code, UserID: userID, CreatedAt: row.CreatedAt}, nil
}

func mapUserIDs(raw []string) ([]entitlement.UserID, error) {
	userIDs := make([]entitlement.UserID, 0, len(raw))
	for _, value := range raw {
		userID, err := entitlement.NewUserID(value)
		if err != nil {
			return nil, wrapStoreError(errorSubjectProfile, errorCodeInvalid, err)
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, nil
}

func postIDStrings(postIDs []entitlement.PostID) []string {
	values := make([]string, 0, len(postIDs))
	for _, postID := range postIDs {
		values = append(values, postID.String())
	}
	return values
}

func timePointer(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func timeValue(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return value.UTC()
}

func utcOrNow(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

var _ entitlement.Store = (*Store)(nil)
var _ entitlement.CodeStore = (*Store)(nil)
var _ entitlement.Notifier = (*Store)(nil)
