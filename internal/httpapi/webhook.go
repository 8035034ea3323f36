package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/vipledger/pkg/entitlement"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

var errMissingBearer = errors.New("missing bearer token")

// verifyWebhookToken checks the gateway's HS256 bearer token. The token must
// carry an expiry and, when configured, the expected issuer.
func (handler *httpHandler) verifyWebhookToken(header string) error {
	if !strings.HasPrefix(header, bearerPrefix) {
		return errMissingBearer
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if raw == "" {
		return errMissingBearer
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if handler.config.WebhookIssuer != "" {
		options = append(options, jwt.WithIssuer(handler.config.WebhookIssuer))
	}
	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte(handler.config.WebhookSigningKey), nil
	}, options...)
	return err
}

func (handler *httpHandler) handlePaymentWebhook(ctx *gin.Context) {
	if err := handler.verifyWebhookToken(ctx.GetHeader("Authorization")); err != nil {
		handler.logger.Warn("payment webhook rejected", zap.Error(err))
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid webhook token"))
		return
	}
	var request paymentEventRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		invalidPayload(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	outcome, err := handler.service.ApplyPaymentEvent(requestCtx, entitlement.PaymentEvent{
		ExternalRef: request.ExternalRef,
		Amount:      request.Amount,
		Memo:        request.Memo,
		IntentCode:  request.IntentCode,
		Gateway:     request.Gateway,
	})
	if err != nil {
		handler.respondError(ctx, "payment_webhook", err)
		return
	}
	response := gin.H{"status": string(outcome.Status)}
	if !outcome.UserID.IsZero() {
		response["user_id"] = outcome.UserID.String()
	}
	if outcome.Status == entitlement.PaymentApplied {
		response["top_up"] = newTopUpPayload(outcome.TopUp)
	}
	ctx.JSON(http.StatusOK, response)
}
