package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/events"
	grpcadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/mail"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/metrics"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	service    *application.Service
	httpServer *http.Server
	grpcServer *grpc.Server
	outbox     *eventadapter.OutboxWorker
	// inProcessOutbox is set when the outbox lives in memory and no
	// separate worker process can drain it.
	inProcessOutbox bool
	cleanupFn       func(context.Context)
}

// storage bundles the persistence adapters selected by Config.StorageDriver.
type storage struct {
	orders   ports.OrderRepository
	tools    ports.ToolRepository
	outbox   ports.OutboxRepository
	lockouts ports.LockoutStore
	ready    func(ctx context.Context) error
	close    func()
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping m91 license service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage", cfg.StorageDriver,
		"mail_delivery", cfg.MailDelivery,
	)

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := seedTools(ctx, store.tools, cfg.Tools); err != nil {
		store.close()
		return nil, err
	}

	directSender, err := newDirectSender(cfg, logger)
	if err != nil {
		store.close()
		return nil, err
	}
	var serviceSender ports.EmailSender = directSender
	if cfg.MailDelivery == MailOutbox {
		serviceSender = mail.NewOutboxSender(store.outbox)
	}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			TokenTTL:               cfg.TokenTTL,
			TrialGrace:             cfg.TrialGrace,
			ReminderThreshold:      cfg.ReminderThreshold,
			RebindCooldown:         cfg.RebindCooldown,
			EmailCodeTTL:           cfg.EmailCodeTTL,
			CodeFailureThreshold:   cfg.CodeFailureThreshold,
			CodeLockoutDuration:    cfg.CodeLockoutDuration,
			EmailCodeSendThreshold: cfg.EmailCodeSendThreshold,
			EmailCodeSendWindow:    cfg.EmailCodeSendWindow,
		},
		Orders:   store.orders,
		Tools:    store.tools,
		Lockouts: store.lockouts,
		TOTP:     security.NewTOTP(cfg.TOTPSkew),
		Codes:    security.NewBcryptHasher(cfg.BcryptCost),
		Tokens:   security.NewSessionTokens(cfg.TokenLeeway),
		Emails:   serviceSender,
	})

	registry := metrics.NewRegistry()
	handler := httpadapter.NewHandler(svc, store.ready)
	router := httpadapter.NewRouter(handler, httpadapter.Options{
		Metrics:        registry,
		RateLimitRPS:   cfg.HTTPRateLimitRPS,
		RateLimitBurst: cfg.HTTPRateLimitBurst,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewLicenseInternalServer(svc))

	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		store.close()
		return nil, err
	}
	outbox := eventadapter.NewOutboxWorker(
		logger,
		store.outbox,
		eventadapter.NewEmailRelay(directSender, publisher),
		cfg.OutboxPollInterval,
		cfg.OutboxBatchSize,
		cfg.OutboxClaimTTL,
		cfg.OutboxMaxRetries,
	).WithMetrics(registry)

	return &Runtime{
		cfg:             cfg,
		logger:          logger,
		service:         svc,
		httpServer:      httpServer,
		grpcServer:      grpcServer,
		outbox:          outbox,
		inProcessOutbox: cfg.StorageDriver == StorageMemory,
		cleanupFn: func(context.Context) {
			closePublisher()
			store.close()
		},
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanupFn(ctx)
		return fmt.Errorf("listen gRPC: %w", err)
	}

	errCh := make(chan error, 3)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := r.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	if r.inProcessOutbox {
		go func() {
			r.logger.Info("in-process outbox worker started")
			if err := r.outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("outbox worker: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return runErr
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if r.inProcessOutbox {
		r.cleanupFn(ctx)
		return fmt.Errorf("outbox worker requires the %s storage driver", StoragePostgres)
	}

	r.logger.Info("outbox worker started")
	err := r.outbox.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}

func openStorage(ctx context.Context, cfg Config) (storage, error) {
	if cfg.StorageDriver == StorageMemory {
		store := memory.NewStore()
		lockouts, ready, closeRedis, err := openLockouts(ctx, cfg.RedisURL)
		if err != nil {
			return storage{}, err
		}
		return storage{
			orders:   store,
			tools:    store,
			outbox:   store.Outbox(),
			lockouts: lockouts,
			ready:    ready,
			close:    closeRedis,
		}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return storage{}, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := pool.DB()
	if err != nil {
		return storage{}, fmt.Errorf("gorm sql db: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		_ = sqlDB.Close()
		return storage{}, fmt.Errorf("run migrations: %w", err)
	}

	lockouts, redisReady, closeRedis, err := openLockouts(ctx, cfg.RedisURL)
	if err != nil {
		_ = sqlDB.Close()
		return storage{}, err
	}

	repos := postgres.NewRepositories(pool)
	return storage{
		orders:   repos.Orders,
		tools:    repos.Tools,
		outbox:   repos.Outbox,
		lockouts: lockouts,
		ready: func(ctx context.Context) error {
			return probeDependencies(ctx, map[string]func(context.Context) error{
				"postgres": func(ctx context.Context) error { return postgres.Ready(ctx, pool) },
				"redis":    redisReady,
			})
		},
		close: func() {
			closeRedis()
			_ = sqlDB.Close()
		},
	}, nil
}

// openLockouts prefers Redis so counters are shared across replicas and falls
// back to a process-local store when no Redis URL is configured.
func openLockouts(ctx context.Context, redisURL string) (ports.LockoutStore, func(context.Context) error, func(), error) {
	if strings.TrimSpace(redisURL) == "" {
		slog.Default().WarnContext(ctx, "redis not configured; code lockouts are process-local",
			"service", "M91-License-Service",
			"module", "bootstrap",
			"layer", "runtime",
			"operation", "open_lockouts",
			"outcome", "fallback",
		)
		noop := func(context.Context) error { return nil }
		return memory.NewLockoutStore(nil), noop, func() {}, nil
	}
	client, err := cacheadapter.Connect(ctx, redisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	ready := func(ctx context.Context) error { return pingRedis(ctx, client) }
	return cacheadapter.NewRedisLockoutStore(client), ready, func() { _ = client.Close() }, nil
}

func seedTools(ctx context.Context, tools ports.ToolRepository, seeds []ToolSeed) error {
	for _, seed := range seeds {
		name := seed.Name
		if name == "" {
			name = seed.Code
		}
		if err := tools.Upsert(ctx, domain.Tool{Code: seed.Code, Name: name}); err != nil {
			return fmt.Errorf("seed tool %s: %w", seed.Code, err)
		}
	}
	return nil
}

// newDirectSender returns the SMTP relay when configured, otherwise a sender
// that only logs outgoing mail.
func newDirectSender(cfg Config, logger *slog.Logger) (ports.EmailSender, error) {
	if cfg.SMTP.Host == "" {
		logger.Warn("smtp not configured; emails are logged only")
		return mail.NewLogSender(logger), nil
	}
	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		StartTLS: cfg.SMTP.StartTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("init smtp sender: %w", err)
	}
	return sender, nil
}

func newPublisher(cfg Config, logger *slog.Logger) (ports.EventPublisher, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return eventadapter.NewLoggingPublisher(logger), func() {}, nil
	}
	publisher, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopics)
	if err != nil {
		return nil, nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	return publisher, func() { _ = publisher.Close() }, nil
}

func pingRedis(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// probeDependencies pings every backing store concurrently and joins the failures.
func probeDependencies(ctx context.Context, probes map[string]func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for name, probe := range probes {
		name, probe := name, probe
		g.Go(func() error {
			if err := probe(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
