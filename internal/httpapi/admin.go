package httpapi

import (
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/vipledger/pkg/entitlement"
	"github.com/gin-gonic/gin"
)

const manualTopUpSource = "admin"

func (handler *httpHandler) handleManualTopUp(ctx *gin.Context) {
	var request manualTopUpRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		invalidPayload(ctx, err)
		return
	}
	userID, err := entitlement.NewUserID(ctx.Param("userId"))
	if err != nil {
		handler.respondError(ctx, "manual_topup", err)
		return
	}
	amount, err := entitlement.NewPositiveAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, "manual_topup", err)
		return
	}
	source := strings.TrimSpace(request.Source)
	if source == "" {
		source = manualTopUpSource
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.TopUp(requestCtx, userID, amount, source)
	if err != nil {
		handler.respondError(ctx, "manual_topup", err)
		return
	}
	ctx.JSON(http.StatusOK, newTopUpPayload(result))
}

func (handler *httpHandler) handleAdminLedger(ctx *gin.Context) {
	var query ledgerQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		invalidPayload(ctx, err)
		return
	}
	ledgerQuery := entitlement.LedgerQuery{Page: query.page()}
	if query.Type != "" {
		entryType, err := entitlement.ParseEntryType(query.Type)
		if err != nil {
			handler.respondError(ctx, "admin_ledger", err)
			return
		}
		ledgerQuery.Type = entryType
	}
	if query.UserID != "" {
		userID, err := entitlement.NewUserID(query.UserID)
		if err != nil {
			handler.respondError(ctx, "admin_ledger", err)
			return
		}
		ledgerQuery.UserID = userID
	}
	handler.respondLedger(ctx, ledgerQuery)
}

func (handler *httpHandler) handleUserWithdrawals(ctx *gin.Context) {
	var query withdrawQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		invalidPayload(ctx, err)
		return
	}
	handler.respondWithdrawals(ctx, query, getActor(ctx).UserID)
}

func (handler *httpHandler) handleAdminWithdrawals(ctx *gin.Context) {
	var query withdrawQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		invalidPayload(ctx, err)
		return
	}
	var userID entitlement.UserID
	if query.UserID != "" {
		parsed, err := entitlement.NewUserID(query.UserID)
		if err != nil {
			handler.respondError(ctx, "admin_withdrawals", err)
			return
		}
		userID = parsed
	}
	handler.respondWithdrawals(ctx, query, userID)
}

func (handler *httpHandler) respondWithdrawals(ctx *gin.Context, query withdrawQuery, userID entitlement.UserID) {
	withdrawQuery := entitlement.WithdrawQuery{UserID: userID, Page: query.page()}
	if query.Status != "" {
		status, err := entitlement.ParseWithdrawStatus(query.Status)
		if err != nil {
			handler.respondError(ctx, "withdrawals", err)
			return
		}
		withdrawQuery.Status = status
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	page, err := handler.service.WithdrawRequests(requestCtx, getActor(ctx), withdrawQuery)
	if err != nil {
		handler.respondError(ctx, "withdrawals", err)
		return
	}
	requests := make([]withdrawPayload, 0, len(page.Requests))
	for _, request := range page.Requests {
		requests = append(requests, newWithdrawPayload(request))
	}
	ctx.JSON(http.StatusOK, gin.H{"requests": requests, "total": page.Total})
}

func (handler *httpHandler) handleUpdateWithdraw(ctx *gin.Context) {
	var request withdrawStatusRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		invalidPayload(ctx, err)
		return
	}
	requestID, err := entitlement.NewRequestID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, "withdraw_update", err)
		return
	}
	status, err := entitlement.ParseWithdrawStatus(request.Status)
	if err != nil {
		handler.respondError(ctx, "withdraw_update", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	updated, err := handler.service.UpdateWithdrawStatus(requestCtx, getActor(ctx), requestID, status, request.Note)
	if err != nil {
		handler.respondError(ctx, "withdraw_update", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"request": newWithdrawPayload(updated)})
}

func (handler *httpHandler) handleAdjustPoints(ctx *gin.Context) {
	var request adjustPointsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		invalidPayload(ctx, err)
		return
	}
	userID, err := entitlement.NewUserID(request.UserID)
	if err != nil {
		handler.respondError(ctx, "points_adjust", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	profile, err := handler.service.AdjustUserPoints(requestCtx, getActor(ctx), userID, request.Amount, request.Description)
	if err != nil {
		handler.respondError(ctx, "points_adjust", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"profile": newProfilePayload(profile)})
}

func (handler *httpHandler) handlePointLogs(ctx *gin.Context) {
	var query pointLogQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		invalidPayload(ctx, err)
		return
	}
	logQuery := entitlement.PointLogQuery{
		Type:   entitlement.PointLogType(strings.ToUpper(strings.TrimSpace(query.Type))),
		Action: entitlement.PointAction(strings.ToUpper(strings.TrimSpace(query.Action))),
		Page:   query.page(),
	}
	if query.UserID != "" {
		userID, err := entitlement.NewUserID(query.UserID)
		if err != nil {
			handler.respondError(ctx, "point_logs", err)
			return
		}
		logQuery.UserID = userID
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	page, err := handler.service.PointLogs(requestCtx, getActor(ctx), logQuery)
	if err != nil {
		handler.respondError(ctx, "point_logs", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": newPointLogPayloads(page.Entries), "total": page.Total})
}

func (handler *httpHandler) handlePointStats(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	stats, err := handler.service.PointStats(requestCtx, getActor(ctx))
	if err != nil {
		handler.respondError(ctx, "point_stats", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"total_available":   stats.TotalAvailable,
		"total_distributed": stats.TotalDistributed,
		"total_redeemed":    stats.TotalRedeemed,
	})
}

func (handler *httpHandler) handleVipStats(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	stats, err := handler.service.VipStats(requestCtx, getActor(ctx))
	if err != nil {
		handler.respondError(ctx, "vip_stats", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"active_vip_users": stats.ActiveVipUsers,
		"monthly_revenue":  stats.MonthlyRevenue.Int64(),
		"top_package":      stats.TopPackage,
	})
}

func (handler *httpHandler) handleVipUsers(ctx *gin.Context) {
	var query pageQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		invalidPayload(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	profiles, err := handler.service.VipUsers(requestCtx, getActor(ctx), query.page())
	if err != nil {
		handler.respondError(ctx, "vip_users", err)
		return
	}
	users := make([]profilePayload, 0, len(profiles))
	for _, profile := range profiles {
		users = append(users, newProfilePayload(profile))
	}
	ctx.JSON(http.StatusOK, gin.H{"users": users})
}

func (handler *httpHandler) handleOverrideExpiry(ctx *gin.Context) {
	var request expiryRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		invalidPayload(ctx, err)
		return
	}
	userID, err := entitlement.NewUserID(ctx.Param("userId"))
	if err != nil {
		handler.respondError(ctx, "vip_expire", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	vip, err := handler.service.OverrideVipExpiry(requestCtx, getActor(ctx), userID, request.ExpiredAt)
	if err != nil {
		handler.respondError(ctx, "vip_expire", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"vip": newVipPayload(vip)})
}

func (handler *httpHandler) handleAdminPackages(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	packages, err := handler.service.Packages(requestCtx, getActor(ctx), true)
	if err != nil {
		handler.respondError(ctx, "admin_packages", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"packages": newPackagePayloads(packages)})
}

func (handler *httpHandler) handleCreatePackage(ctx *gin.Context) {
	handler.savePackage(ctx, entitlement.PackageID{}, http.StatusCreated)
}

func (handler *httpHandler) handleUpdatePackage(ctx *gin.Context) {
	packageID, err := entitlement.NewPackageID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, "package_update", err)
		return
	}
	handler.savePackage(ctx, packageID, http.StatusOK)
}

func (handler *httpHandler) savePackage(ctx *gin.Context, packageID entitlement.PackageID, successStatus int) {
	var request packageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		invalidPayload(ctx, err)
		return
	}
	isActive := true
	if request.IsActive != nil {
		isActive = *request.IsActive
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	saved, err := handler.service.SavePackage(requestCtx, getActor(ctx), entitlement.VipPackage{
		PackageID:      packageID,
		Name:           request.Name,
		Price:          entitlement.Amount(request.Price),
		DurationDays:   request.DurationDays,
		PriorityScore:  request.PriorityScore,
		LimitViewPhone: request.LimitViewPhone,
		PostLimit:      request.PostLimit,
		Description:    request.Description,
		IsActive:       isActive,
		IsPopular:      request.IsPopular,
	})
	if err != nil {
		handler.respondError(ctx, "package_save", err)
		return
	}
	ctx.JSON(successStatus, gin.H{"package": newPackagePayload(saved)})
}

func (handler *httpHandler) handleTogglePackage(ctx *gin.Context) {
	packageID, err := entitlement.NewPackageID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, "package_toggle", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	toggled, err := handler.service.TogglePackage(requestCtx, getActor(ctx), packageID)
	if err != nil {
		handler.respondError(ctx, "package_toggle", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"package": newPackagePayload(toggled)})
}
