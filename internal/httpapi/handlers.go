package httpapi

import (
	"net/http"

	"github.com/MarkoPoloResearchLab/vipledger/pkg/entitlement"
	"github.com/gin-gonic/gin"
)

func (handler *httpHandler) handleAccount(ctx *gin.Context) {
	actor := getActor(ctx)
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	summary, err := handler.service.AccountSummary(requestCtx, actor.UserID)
	if err != nil {
		handler.respondError(ctx, "account", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id":             summary.UserID.String(),
		"wallet":              newWalletPayload(summary.Wallet),
		"points":              summary.Points,
		"inventory":           inventoryPayload(summary.Inventory),
		"vip":                 newVipStatusPayload(summary.Vip),
		"pending_withdrawals": summary.PendingWithdrawals,
		"as_of":               summary.AsOf,
	})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	actor := getActor(ctx)
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	wallet, err := handler.service.Wallet(requestCtx, actor.UserID)
	if err != nil {
		handler.respondError(ctx, "wallet", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": newWalletPayload(wallet)})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	var query ledgerQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		invalidPayload(ctx, err)
		return
	}
	ledgerQuery := entitlement.LedgerQuery{UserID: getActor(ctx).UserID, Page: query.page()}
	if query.Type != "" {
		entryType, err := entitlement.ParseEntryType(query.Type)
		if err != nil {
			handler.respondError(ctx, "transactions", err)
			return
		}
		ledgerQuery.Type = entryType
	}
	handler.respondLedger(ctx, ledgerQuery)
}

func (handler *httpHandler) respondLedger(ctx *gin.Context, query entitlement.LedgerQuery) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	page, err := handler.service.LedgerHistory(requestCtx, getActor(ctx), query)
	if err != nil {
		handler.respondError(ctx, "ledger", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"entries": newEntryPayloads(page.Entries),
		"total":   page.Total,
		"limit":   query.Page.Limit,
		"offset":  query.Page.Offset,
	})
}

func (handler *httpHandler) handleTopUpIntent(ctx *gin.Context) {
	actor := getActor(ctx)
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	intent, err := handler.service.CreateTopUpIntent(requestCtx, actor.UserID)
	if err != nil {
		handler.respondError(ctx, "topup_intent", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"code":       intent.Code,
		"memo":       entitlement.PaymentMemo(intent),
		"created_at": intent.CreatedAt,
	})
}

func (handler *httpHandler) handleInitiateWithdraw(ctx *gin.Context) {
	var request amountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		invalidPayload(ctx, err)
		return
	}
	amount, err := entitlement.NewPositiveAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, "withdraw_initiate", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	challenge, err := handler.service.InitiateWithdraw(requestCtx, getActor(ctx).UserID, amount)
	if err != nil {
		handler.respondError(ctx, "withdraw_initiate", err)
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{
		"amount":     challenge.Amount.Int64(),
		"expires_at": challenge.ExpiresAt,
	})
}

func (handler *httpHandler) handleVerifyWithdraw(ctx *gin.Context) {
	var request verifyWithdrawRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		invalidPayload(ctx, err)
		return
	}
	amount, err := entitlement.NewPositiveAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, "withdraw_verify", err)
		return
	}
	bank := entitlement.BankDetails{
		BankName:      request.Bank.BankName,
		AccountNumber: request.Bank.AccountNumber,
		AccountName:   request.Bank.AccountName,
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	withdrawRequest, err := handler.service.VerifyWithdraw(requestCtx, getActor(ctx).UserID, request.Otp, amount, bank)
	if err != nil {
		handler.respondError(ctx, "withdraw_verify", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"request": newWithdrawPayload(withdrawRequest)})
}

func (handler *httpHandler) handlePackages(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	packages, err := handler.service.Packages(requestCtx, getActor(ctx), false)
	if err != nil {
		handler.respondError(ctx, "packages", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"packages": newPackagePayloads(packages)})
}

func (handler *httpHandler) handlePurchaseVip(ctx *gin.Context) {
	var request purchaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		invalidPayload(ctx, err)
		return
	}
	packageID, err := entitlement.NewPackageID(request.PackageID)
	if err != nil {
		handler.respondError(ctx, "vip_purchase", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.PurchaseVip(requestCtx, getActor(ctx).UserID, packageID)
	if err != nil {
		handler.respondError(ctx, "vip_purchase", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"wallet":  newWalletPayload(result.Wallet),
		"entry":   newEntryPayload(result.Entry),
		"vip":     newVipPayload(result.Vip),
		"package": newPackagePayload(result.Package),
	})
}

func (handler *httpHandler) handleVipStatus(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	status, err := handler.service.VipStatus(requestCtx, getActor(ctx).UserID)
	if err != nil {
		handler.respondError(ctx, "vip_status", err)
		return
	}
	ctx.JSON(http.StatusOK, newVipStatusPayload(status))
}

func (handler *httpHandler) handleAttachVip(ctx *gin.Context) {
	postIDs, ok := handler.bindPostIDs(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.AttachVip(requestCtx, getActor(ctx).UserID, postIDs)
	if err != nil {
		handler.respondError(ctx, "vip_attach", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"vip":        newVipPayload(result.Vip),
		"attached":   postIDStrings(result.Attached),
		"slot_limit": result.SlotLimit,
	})
}

func (handler *httpHandler) handleDetachVip(ctx *gin.Context) {
	postIDs, ok := handler.bindPostIDs(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.DetachVip(requestCtx, getActor(ctx).UserID, postIDs)
	if err != nil {
		handler.respondError(ctx, "vip_detach", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"vip":      newVipPayload(result.Vip),
		"detached": postIDStrings(result.Detached),
	})
}

func (handler *httpHandler) bindPostIDs(ctx *gin.Context) ([]entitlement.PostID, bool) {
	var request postsRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		invalidPayload(ctx, err)
		return nil, false
	}
	postIDs, err := entitlement.NewPostIDs(request.PostIDs)
	if err != nil {
		handler.respondError(ctx, "vip_posts", err)
		return nil, false
	}
	return postIDs, true
}

func (handler *httpHandler) handlePointsSummary(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	summary, err := handler.service.PointsSummary(requestCtx, getActor(ctx).UserID)
	if err != nil {
		handler.respondError(ctx, "points_summary", err)
		return
	}
	rewards := make([]rewardPayload, 0, len(summary.Rewards))
	for _, reward := range summary.Rewards {
		rewards = append(rewards, newRewardPayload(reward))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"points":    summary.Points,
		"inventory": inventoryPayload(summary.Inventory),
		"recent":    newPointLogPayloads(summary.Recent),
		"rewards":   rewards,
	})
}

func (handler *httpHandler) handleItemHistory(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	entries, err := handler.service.ItemUsageHistory(requestCtx, getActor(ctx).UserID)
	if err != nil {
		handler.respondError(ctx, "item_history", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": newPointLogPayloads(entries)})
}

func (handler *httpHandler) handleRedeem(ctx *gin.Context) {
	var request redeemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		invalidPayload(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.RedeemReward(requestCtx, getActor(ctx).UserID, request.RewardKey)
	if err != nil {
		handler.respondError(ctx, "points_redeem", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"profile": newProfilePayload(result.Profile),
		"reward":  newRewardPayload(result.Reward),
	})
}

func (handler *httpHandler) handleUseItem(ctx *gin.Context) {
	var request useItemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		invalidPayload(ctx, err)
		return
	}
	quantity := request.Quantity
	if quantity == 0 {
		quantity = 1
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.UseInventoryItem(requestCtx, getActor(ctx).UserID, request.ItemKey, quantity)
	if err != nil {
		handler.respondError(ctx, "points_use_item", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"profile":  newProfilePayload(result.Profile),
		"reward":   newRewardPayload(result.Reward),
		"quantity": result.Quantity,
		"extended": result.Extended,
	})
}

func (handler *httpHandler) handleShowPhone(ctx *gin.Context) {
	postID, err := entitlement.NewPostID(ctx.Param("postId"))
	if err != nil {
		handler.respondError(ctx, "show_phone", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	reveal, err := handler.service.ShowPhone(requestCtx, getActor(ctx).UserID, postID)
	if err != nil {
		handler.respondError(ctx, "show_phone", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"phone":              reveal.Phone,
		"usage":              usagePayload(reveal.Usage),
		"charged":            reveal.Charged,
		"source":             string(reveal.Source),
		"bonus_lead_credits": reveal.BonusLeadCredits,
	})
}
