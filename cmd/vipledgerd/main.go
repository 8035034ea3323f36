package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/vipledger/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "VIPLEDGER"

	flagEnvFile            = "env-file"
	flagDatabaseURL        = "database-url"
	flagHTTPListenAddr     = "http-listen-addr"
	flagGRPCListenAddr     = "grpc-listen-addr"
	flagAllowedOrigins     = "allowed-origins"
	flagJWTSigningKey      = "jwt-signing-key"
	flagJWTIssuer          = "jwt-issuer"
	flagJWTCookieName      = "jwt-cookie-name"
	flagWebhookSigningKey  = "webhook-signing-key"
	flagWebhookIssuer      = "webhook-issuer"
	flagWebhookLenientMemo = "webhook-lenient-memo"
	flagRedisAddr          = "redis-addr"
	flagRedisPassword      = "redis-password"
	flagRedisDB            = "redis-db"
	flagKafkaBrokers       = "kafka-brokers"
	flagKafkaTopic         = "kafka-topic"
	flagTimezone           = "timezone"
	flagRequestTimeout     = "request-timeout"
	flagExpiryInterval     = "expiry-interval"
	flagEscalationInterval = "escalation-interval"
	flagLogLevel           = "log-level"
)

var configFlags = []string{
	flagDatabaseURL, flagHTTPListenAddr, flagGRPCListenAddr, flagAllowedOrigins,
	flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName,
	flagWebhookSigningKey, flagWebhookIssuer, flagWebhookLenientMemo,
	flagRedisAddr, flagRedisPassword, flagRedisDB, flagKafkaBrokers, flagKafkaTopic,
	flagTimezone, flagRequestTimeout, flagExpiryInterval, flagEscalationInterval, flagLogLevel,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vipledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "vipledgerd",
		Short:         "Wallet, points and VIP entitlement ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagEnvFile, ".env", "optional dotenv file read before the environment")
	flags.String(flagDatabaseURL, "", "database url (postgres://, mysql://, sqlite:// or a sqlite path)")
	flags.String(flagHTTPListenAddr, "", "HTTP listen address")
	flags.String(flagGRPCListenAddr, "", "gRPC listen address")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagJWTSigningKey, "", "TAuth session signing key (required)")
	flags.String(flagJWTIssuer, "", "expected session issuer")
	flags.String(flagJWTCookieName, "", "session cookie name")
	flags.String(flagWebhookSigningKey, "", "payment gateway webhook signing key (required)")
	flags.String(flagWebhookIssuer, "", "expected payment gateway token issuer")
	flags.Bool(flagWebhookLenientMemo, false, "accept a bare user id in the transfer memo (off: only payment intent codes credit a wallet)")
	flags.String(flagRedisAddr, "", "Redis address for distributed locks and withdraw codes")
	flags.String(flagRedisPassword, "", "Redis password")
	flags.Int(flagRedisDB, 0, "Redis database number")
	flags.String(flagKafkaBrokers, "", "comma-separated Kafka brokers for notifications")
	flags.String(flagKafkaTopic, "", "Kafka notification topic")
	flags.String(flagTimezone, "", "IANA time zone of the daily quota boundary")
	flags.Duration(flagRequestTimeout, 0, "per-request timeout")
	flags.Duration(flagExpiryInterval, 0, "VIP expiry sweep interval")
	flags.Duration(flagEscalationInterval, 0, "withdrawal escalation sweep interval")
	flags.String(flagLogLevel, "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCommand(cfg), newMigrateCommand(cfg), newSweepCommand(cfg))
	return cmd
}

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers with the background sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cfg)
		},
	}
}

func newSweepCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep <job>",
		Short: "Run one sweep immediately (expire_vip, reset_daily_quotas, escalate_withdrawals)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSweep(ctx, cfg, args[0])
		},
	}
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagName := range configFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.HTTPListenAddr = strings.TrimSpace(v.GetString(flagHTTPListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.AllowedOrigins = config.ParseList(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.WebhookSigningKey = v.GetString(flagWebhookSigningKey)
	cfg.WebhookIssuer = strings.TrimSpace(v.GetString(flagWebhookIssuer))
	cfg.WebhookLenientMemo = v.GetBool(flagWebhookLenientMemo)
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.RedisPassword = v.GetString(flagRedisPassword)
	cfg.RedisDB = v.GetInt(flagRedisDB)
	cfg.KafkaBrokers = config.ParseList(v.GetString(flagKafkaBrokers))
	cfg.KafkaTopic = strings.TrimSpace(v.GetString(flagKafkaTopic))
	cfg.Timezone = strings.TrimSpace(v.GetString(flagTimezone))
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.ExpiryInterval = v.GetDuration(flagExpiryInterval)
	cfg.EscalationInterval = v.GetDuration(flagEscalationInterval)
	cfg.LogLevel = strings.TrimSpace(v.GetString(flagLogLevel))

	return cfg.Validate()
}
