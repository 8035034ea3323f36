package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/MarkoPoloResearchLab/vipledger/internal/config"
	"github.com/MarkoPoloResearchLab/vipledger/internal/database"
	"github.com/MarkoPoloResearchLab/vipledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/vipledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/vipledger/internal/notify"
	"github.com/MarkoPoloResearchLab/vipledger/internal/redisstore"
	"github.com/MarkoPoloResearchLab/vipledger/internal/scheduler"
	"github.com/MarkoPoloResearchLab/vipledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/vipledger/pkg/entitlement"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

// runtime holds the wired collaborators shared by every command.
type runtime struct {
	logger    *zap.Logger
	service   *entitlement.Service
	scheduler *scheduler.Scheduler
	closers   []func() error
}

func (rt *runtime) close() {
	for index := len(rt.closers) - 1; index >= 0; index-- {
		if err := rt.closers[index](); err != nil {
			rt.logger.Warn("shutdown close failed", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	zapConfig := zap.NewProductionConfig()
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zapConfig.Level = zap.NewAtomicLevelAt(parsed)
	return zapConfig.Build()
}

func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	rt := &runtime{logger: logger}

	connection, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("database open: %w", err)
	}
	rt.closers = append(rt.closers, connection.Close)
	if err := database.Migrate(ctx, connection); err != nil {
		rt.close()
		return nil, err
	}
	store := gormstore.New(connection.DB)

	var (
		codes         entitlement.CodeStore = store
		locker        entitlement.Locker    = entitlement.NewKeyedMutex()
		sweepLocker   entitlement.Locker
		codeSender    entitlement.CodeSender = notify.NewLogNotifier(logger)
		notifiers                            = notify.Fanout{store, notify.NewLogNotifier(logger)}
		schedulerOpts []scheduler.Option
	)
	if cfg.RedisEnabled() {
		client, err := redisstore.Open(ctx, redisstore.ClientConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("redis open: %w", err)
		}
		rt.closers = append(rt.closers, client.Close)
		redisLocker := redisstore.NewLocker(client)
		codes = redisstore.NewCodeStore(client)
		locker = redisLocker
		sweepLocker = redisLocker
		logger.Info("redis enabled", zap.String("addr", cfg.RedisAddr))
	}
	if cfg.KafkaEnabled() {
		producer, err := notify.NewSyncProducer(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		publisher := notify.NewKafkaPublisher(producer, cfg.KafkaTopic)
		rt.closers = append(rt.closers, publisher.Close)
		codeSender = publisher
		notifiers = append(notifiers, publisher)
		logger.Info("kafka notifications enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	if sweepLocker != nil {
		schedulerOpts = append(schedulerOpts, scheduler.WithLocker(sweepLocker))
	}

	service, err := entitlement.NewService(store, codes, func() time.Time { return time.Now().UTC() },
		entitlement.WithLogger(logger),
		entitlement.WithOperationLogger(entitlement.NewZapOperationLogger(logger)),
		entitlement.WithNotifier(notifiers),
		entitlement.WithCodeSender(codeSender),
		entitlement.WithLocker(locker),
		entitlement.WithLocation(cfg.Location()),
		entitlement.WithLenientMemo(cfg.WebhookLenientMemo),
	)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("entitlement service init: %w", err)
	}
	rt.service = service
	logMemoMatching(logger, cfg.WebhookLenientMemo)

	jobs := scheduler.ServiceJobs(service, scheduler.Intervals{
		Expiry:     cfg.ExpiryInterval,
		Escalation: cfg.EscalationInterval,
	})
	sweeps, err := scheduler.New(logger, jobs, schedulerOpts...)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("scheduler init: %w", err)
	}
	rt.scheduler = sweeps
	return rt, nil
}

func logMemoMatching(logger *zap.Logger, lenient bool) {
	if lenient {
		logger.Info("webhook memo matching is lenient: bare user ids are credited")
		return
	}
	logger.Warn("webhook memo matching is strict: only payment intent codes are credited",
		zap.String("enable_with", "--"+flagWebhookLenientMemo))
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	connection, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = connection.Close() }()
	if err := database.Migrate(ctx, connection); err != nil {
		return err
	}
	logger.Info("schema migrated", zap.String("driver", connection.Driver))
	return nil
}

func runSweep(ctx context.Context, cfg *config.Config, name string) error {
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := rt.scheduler.RunOnce(ctx, name)
	if err != nil {
		return err
	}
	rt.logger.Info("sweep complete",
		zap.String("job", name),
		zap.Int("scanned", report.Scanned),
		zap.Int("applied", report.Applied),
		zap.Int("failed", report.Failed),
	)
	return nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger

	httpServer, err := httpapi.New(httpapi.Config{
		ListenAddr:        cfg.HTTPListenAddr,
		AllowedOrigins:    cfg.AllowedOrigins,
		SessionSigningKey: cfg.SessionSigningKey,
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookieName,
		WebhookSigningKey: cfg.WebhookSigningKey,
		WebhookIssuer:     cfg.WebhookIssuer,
		RequestTimeout:    cfg.RequestTimeout,
	}, rt.service, logger)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer, healthServer := grpcserver.NewServer(grpcserver.NewAccountServiceServer(rt.service), logger)

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := rt.scheduler.Start(serveCtx); err != nil {
		return err
	}
	defer rt.scheduler.Stop()

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		grpcErrCh <- grpcServer.Serve(lis)
	}()
	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpServer.Run(serveCtx)
	}()

	var (
		runErr      error
		grpcStopped bool
		httpStopped bool
	)
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case serveErr := <-grpcErrCh:
		grpcStopped = true
		if serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			runErr = fmt.Errorf("grpc serve: %w", serveErr)
		}
	case serveErr := <-httpErrCh:
		httpStopped = true
		if serveErr != nil {
			runErr = fmt.Errorf("http serve: %w", serveErr)
		}
	}

	cancel()
	healthServer.Shutdown()
	grpcServer.GracefulStop()
	if !grpcStopped {
		if serveErr := <-grpcErrCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) && runErr == nil {
			runErr = fmt.Errorf("grpc serve: %w", serveErr)
		}
	}
	if !httpStopped {
		if serveErr := <-httpErrCh; serveErr != nil && runErr == nil {
			runErr = fmt.Errorf("http serve: %w", serveErr)
		}
	}
	return runErr
}
