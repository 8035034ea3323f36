package grpcserver

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/vipledger/pkg/entitlement"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	errorNotFound            = "not_found"
	errorInsufficientBalance = "insufficient_balance"
	errorInsufficientPoints  = "insufficient_points"
	errorConcurrentUpdate    = "concurrent_update"
	errorInvalidUserID       = "invalid_user_id"
	errorInvalidPostID       = "invalid_post_id"
	errorInvalidAmount       = "invalid_amount"
	errorInvalidAction       = "invalid_action"

	fieldUserID    = "user_id"
	fieldPostID    = "post_id"
	fieldAction    = "action"
	fieldAmount    = "amount"
	fieldRelatedID = "related_id"
)

// AccountServiceServer exposes account reads and internal point and fee
// operations to other marketplace services.
type AccountServiceServer struct {
	accountService *entitlement.Service
}

// NewAccountServiceServer constructs a gRPC server for the entitlement service.
func NewAccountServiceServer(accountService *entitlement.Service) *AccountServiceServer {
	return &AccountServiceServer{accountService: accountService}
}

func (server *AccountServiceServer) GetAccountSummary(ctx context.Context, request *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID, err := entitlement.NewUserID(request.GetValue())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	summary, err := server.accountService.AccountSummary(ctx, userID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	vip := summary.Vip.Vip
	return newStruct(map[string]any{
		"user_id": summary.UserID.String(),
		"wallet": map[string]any{
			"balance":         summary.Wallet.Balance.Int64(),
			"total_top_up":    summary.Wallet.TotalTopUp.Int64(),
			"total_spent":     summary.Wallet.TotalSpent.Int64(),
			"total_withdrawn": summary.Wallet.TotalWithdrawn.Int64(),
		},
		"points":    summary.Points,
		"inventory": inventoryValues(summary.Inventory),
		"vip": map[string]any{
			"valid":              summary.Vip.Valid,
			"vip_type":           vip.VipType,
			"priority_score":     int64(vip.PriorityScore),
			"expired_at":         formatTime(vip.ExpiredAt),
			"current_vip_posts":  postIDValues(vip.CurrentVipPosts),
			"slots_today":        summary.Vip.Slots.Today,
			"slot_limit":         summary.Vip.Slots.Limit,
			"phone_views_today":  summary.Vip.PhoneViews.Today,
			"phone_view_limit":   summary.Vip.PhoneViews.Limit,
			"bonus_lead_credits": vip.BonusLeadCredits,
		},
		"pending_withdrawals": summary.PendingWithdrawals,
		"as_of":               formatTime(summary.AsOf),
	})
}

// AddPoints credits points for a listing-side event such as POST_CREATED.
func (server *AccountServiceServer) AddPoints(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := request.GetFields()
	userID, err := entitlement.NewUserID(fields[fieldUserID].GetStringValue())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	action, err := entitlement.ParsePointAction(fields[fieldAction].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidAction)
	}
	amount, err := integerField(fields, fieldAmount)
	if err != nil {
		return nil, err
	}
	profile, err := server.accountService.AddPoints(ctx, userID, action, amount, fields[fieldRelatedID].GetStringValue())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return newStruct(map[string]any{
		"user_id": profile.UserID.String(),
		"points":  profile.Points,
	})
}

// ChargePostFee debits the listing fee for a post.
func (server *AccountServiceServer) ChargePostFee(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := request.GetFields()
	userID, err := entitlement.NewUserID(fields[fieldUserID].GetStringValue())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	postID, err := entitlement.NewPostID(fields[fieldPostID].GetStringValue())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	rawAmount, err := integerField(fields, fieldAmount)
	if err != nil {
		return nil, err
	}
	amount, err := entitlement.NewPositiveAmount(rawAmount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entry, err := server.accountService.ChargePostFee(ctx, userID, postID, amount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return newStruct(map[string]any{
		"entry_id":      entry.EntryID,
		"amount":        entry.Amount.Int64(),
		"balance_after": entry.BalanceAfter.Int64(),
		"created_at":    formatTime(entry.CreatedAt),
	})
}

func integerField(fields map[string]*structpb.Value, name string) (int64, error) {
	value, ok := fields[name]
	if !ok {
		return 0, status.Error(codes.InvalidArgument, errorInvalidAmount)
	}
	number := value.GetNumberValue()
	if number != float64(int64(number)) {
		return 0, status.Error(codes.InvalidArgument, errorInvalidAmount)
	}
	return int64(number), nil
}

func newStruct(values map[string]any) (*structpb.Struct, error) {
	message, err := structpb.NewStruct(values)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return message, nil
}

func inventoryValues(inventory entitlement.Inventory) map[string]any {
	values := make(map[string]any, len(entitlement.ItemKinds))
	for _, kind := range entitlement.ItemKinds {
		values[string(kind)] = inventory[kind]
	}
	return values
}

func postIDValues(postIDs []entitlement.PostID) []any {
	values := make([]any, 0, len(postIDs))
	for _, postID := range postIDs {
		values = append(values, postID.String())
	}
	return values
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func mapToGRPCError(source error) error {
	if errors.Is(source, entitlement.ErrInvalidUserID) {
		return status.Error(codes.InvalidArgument, errorInvalidUserID)
	}
	if errors.Is(source, entitlement.ErrInvalidPostID) {
		return status.Error(codes.InvalidArgument, errorInvalidPostID)
	}
	if errors.Is(source, entitlement.ErrInvalidAmount) {
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	}
	if errors.Is(source, entitlement.ErrInvalidRewardKey) {
		return status.Error(codes.InvalidArgument, errorInvalidAction)
	}
	if errors.Is(source, entitlement.ErrNotFound) {
		return status.Error(codes.NotFound, errorNotFound)
	}
	if errors.Is(source, entitlement.ErrInsufficientBalance) {
		return status.Error(codes.FailedPrecondition, errorInsufficientBalance)
	}
	if errors.Is(source, entitlement.ErrInsufficientPoints) {
		return status.Error(codes.FailedPrecondition, errorInsufficientPoints)
	}
	if errors.Is(source, entitlement.ErrConcurrentUpdate) {
		return status.Error(codes.Aborted, errorConcurrentUpdate)
	}
	if errors.Is(source, entitlement.ErrForbidden) {
		return status.Error(codes.PermissionDenied, source.Error())
	}
	if errors.Is(source, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, source.Error())
	}
	if errors.Is(source, context.Canceled) {
		return status.Error(codes.Canceled, source.Error())
	}
	return status.Error(codes.Internal, source.Error())
}
