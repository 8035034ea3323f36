// Package httpapi exposes the entitlement service over HTTP for the
// marketplace web client, admin console, and payment gateway.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/vipledger/pkg/entitlement"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey      = "auth_claims"
	actorContextKey       = "vipledger_actor"
	adminRole             = "admin"
	defaultRequestTimeout = 5 * time.Second
	shutdownTimeout       = 5 * time.Second
)

var errInvalidConfig = errors.New("httpapi: invalid config")

// Config aggregates the HTTP surface settings.
type Config struct {
	ListenAddr        string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	WebhookSigningKey string
	WebhookIssuer     string
	RequestTimeout    time.Duration
}

// Server serves the HTTP surface until its context ends.
type Server struct {
	config  Config
	logger  *zap.Logger
	handler http.Handler
}

// New builds the router. The service must already be fully configured.
func New(config Config, service *entitlement.Service, logger *zap.Logger) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: missing service", errInvalidConfig)
	}
	if strings.TrimSpace(config.WebhookSigningKey) == "" {
		return nil, fmt.Errorf("%w: missing webhook signing key", errInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(config.SessionSigningKey),
		Issuer:     config.SessionIssuer,
		CookieName: config.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	handler := &httpHandler{logger: logger, service: service, config: config}
	return &Server{
		config:  config,
		logger:  logger,
		handler: setupRouter(config, handler, validator),
	}, nil
}

// Handler returns the router for embedding or tests.
func (server *Server) Handler() http.Handler {
	return server.handler
}

// Run listens on the configured address until ctx is cancelled.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              server.config.ListenAddr,
		Handler:           server.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http listening", zap.String("addr", server.config.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("http shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(config Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/webhooks/payments", handler.handlePaymentWebhook)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey), requireActor)

	api.GET("/account", handler.handleAccount)

	api.GET("/wallet", handler.handleWallet)
	api.GET("/wallet/transactions", handler.handleTransactions)
	api.POST("/wallet/topup-intents", handler.handleTopUpIntent)

	api.GET("/withdrawals", handler.handleUserWithdrawals)
	api.POST("/withdrawals/initiate", handler.handleInitiateWithdraw)
	api.POST("/withdrawals/verify", handler.handleVerifyWithdraw)

	api.GET("/vip/packages", handler.handlePackages)
	api.POST("/vip/purchase", handler.handlePurchaseVip)
	api.GET("/vip/me", handler.handleVipStatus)
	api.POST("/vip/attach", handler.handleAttachVip)
	api.POST("/vip/detach", handler.handleDetachVip)

	api.GET("/points/me", handler.handlePointsSummary)
	api.GET("/points/items-history", handler.handleItemHistory)
	api.POST("/points/redeem", handler.handleRedeem)
	api.POST("/points/use-item", handler.handleUseItem)

	api.POST("/posts/:postId/phone", handler.handleShowPhone)

	admin := api.Group("/admin")
	admin.Use(requireAdmin)
	admin.POST("/wallets/:userId/topup", handler.handleManualTopUp)
	admin.GET("/ledger", handler.handleAdminLedger)
	admin.GET("/withdrawals", handler.handleAdminWithdrawals)
	admin.PATCH("/withdrawals/:id", handler.handleUpdateWithdraw)
	admin.POST("/points/adjust", handler.handleAdjustPoints)
	admin.GET("/points/logs", handler.handlePointLogs)
	admin.GET("/points/stats", handler.handlePointStats)
	admin.GET("/vip/stats", handler.handleVipStats)
	admin.GET("/vip/users", handler.handleVipUsers)
	admin.POST("/vip/users/:userId/expire", handler.handleOverrideExpiry)
	admin.GET("/vip/packages", handler.handleAdminPackages)
	admin.POST("/vip/packages", handler.handleCreatePackage)
	admin.PUT("/vip/packages/:id", handler.handleUpdatePackage)
	admin.POST("/vip/packages/:id/toggle", handler.handleTogglePackage)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service *entitlement.Service
	config  Config
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.config.RequestTimeout)
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

// requireActor turns the session claims into an entitlement.Actor.
func requireActor(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	userID, err := entitlement.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "session has no user"))
		return
	}
	role := entitlement.RoleUser
	if slices.Contains(claims.GetUserRoles(), adminRole) {
		role = entitlement.RoleAdmin
	}
	ctx.Set(actorContextKey, entitlement.Actor{UserID: userID, Role: role})
	ctx.Next()
}

func requireAdmin(ctx *gin.Context) {
	if !getActor(ctx).IsAdmin() {
		ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
		return
	}
	ctx.Next()
}

func getActor(ctx *gin.Context) entitlement.Actor {
	value, _ := ctx.Get(actorContextKey)
	actor, _ := value.(entitlement.Actor)
	return actor
}

func invalidPayload(ctx *gin.Context, err error) {
	ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", err.Error()))
}
