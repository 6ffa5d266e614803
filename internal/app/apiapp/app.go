package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/avikhrest/coursea/backend/internal/config"
	"github.com/avikhrest/coursea/backend/internal/infra/httpclient"
	s3infra "github.com/avikhrest/coursea/backend/internal/infra/s3"
	"github.com/avikhrest/coursea/backend/internal/jobs/reconcile"
	pgrepo "github.com/avikhrest/coursea/backend/internal/repo/postgres"
	redrepo "github.com/avikhrest/coursea/backend/internal/repo/redis"
	accesssvc "github.com/avikhrest/coursea/backend/internal/services/access"
	analyticsvc "github.com/avikhrest/coursea/backend/internal/services/analytics"
	authsvc "github.com/avikhrest/coursea/backend/internal/services/auth"
	catalogsvc "github.com/avikhrest/coursea/backend/internal/services/catalog"
	purchasesvc "github.com/avikhrest/coursea/backend/internal/services/purchases"
	ratesvc "github.com/avikhrest/coursea/backend/internal/services/rate"
)

type App struct {
	cfg          config.Config
	logger       *zap.Logger
	server       *http.Server
	postgres     *pgxpool.Pool
	redis        *goredis.Client
	s3           *minio.Client
	httpRouter   http.Handler
	reconcileJob *reconcile.Job
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	rateRepo := redrepo.NewRateRepo(redisClient)
	catalogCacheRepo := redrepo.NewCatalogCacheRepo(redisClient)
	purchaseRepo := pgrepo.NewPurchaseRepo(pool)
	courseRepo := pgrepo.NewCourseRepo(pool)
	accessGrantRepo := pgrepo.NewAccessGrantRepo(pool)
	eventRepo := pgrepo.NewEventRepo(pool)

	jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)
	authService := authsvc.NewService(jwtManager)
	analyticsService := analyticsvc.NewService(eventRepo, analyticsvc.Config{
		MaxBatchSize: 100,
	})
	accessService := accesssvc.NewService(accessGrantRepo, accesssvc.Config{
		DefaultDuration: cfg.Access.DefaultDuration,
	})
	purchaseService := purchasesvc.NewService(purchasesvc.Dependencies{
		Store:    purchaseRepo,
		Executor: newPaymentExecutor(cfg.Payments, log),
	}, purchasesvc.Config{
		OverallTimeout:       cfg.Payments.OverallTimeout,
		MaxVerifyAttempts:    cfg.Payments.MaxVerifyAttempts,
		VerifyAttemptTimeout: cfg.Payments.VerifyAttemptTimeout,
		VerifyBaseDelay:      cfg.Payments.VerifyBaseDelay,
		VerifyMaxDelay:       cfg.Payments.VerifyMaxDelay,
		CreateExtraRetries:   cfg.Payments.CreateExtraRetries,
		RetryBaseDelay:       cfg.Payments.RetryBaseDelay,
		RetryMaxDelay:        cfg.Payments.RetryMaxDelay,
	})
	purchaseService.AttachTelemetry(analyticsService)
	catalogService := catalogsvc.NewService(courseRepo, catalogsvc.Config{
		CacheTTL:     cfg.Catalog.CacheTTL,
		CoverLinkTTL: cfg.Catalog.CoverLinkTTL,
	})
	catalogService.AttachCache(catalogCacheRepo)
	rateLimiter := ratesvc.NewLimiter(
		rateRepo,
		cfg.Rate.CheckoutPerMinute,
		cfg.Rate.CheckoutPer10Sec,
	)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	var s3Client *minio.Client
	if c, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Region:    cfg.S3.Region,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, continuing in degraded mode", zap.Error(err))
	} else {
		s3Client = c
		catalogService.AttachContentStorage(catalogsvc.NewS3ContentStorage(s3Client, cfg.S3.Bucket))
	}

	RegisterRoutes(r, Dependencies{
		AnalyticsService: analyticsService,
		AccessService:    accessService,
		AuthService:      authService,
		CatalogService:   catalogService,
		PurchaseService:  purchaseService,
		RateLimiter:      rateLimiter,
		Logger:           log,
		Config:           cfg,
	})

	reconcileJob := reconcile.NewJob(purchaseRepo, accessService, cfg.Jobs.StaleAfter, log)

	return &App{
		cfg:          cfg,
		logger:       log,
		server:       server,
		postgres:     pool,
		redis:        redisClient,
		s3:           s3Client,
		httpRouter:   r,
		reconcileJob: reconcileJob,
	}, nil
}

// RunReconcile drives the reconcile job on a fixed interval until the
// context is cancelled.
func (a *App) RunReconcile(ctx context.Context) error {
	if a.reconcileJob == nil || a.postgres == nil {
		return nil
	}

	interval := a.cfg.Jobs.ReconcileInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	if err := a.reconcileJob.Run(ctx); err != nil {
		a.logger.Warn("reconcile job failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.reconcileJob.Run(ctx); err != nil {
				a.logger.Warn("reconcile job failed", zap.Error(err))
			}
		}
	}
}

func newPaymentExecutor(cfg config.PaymentsConfig, log *zap.Logger) purchasesvc.PaymentExecutor {
	if cfg.Mode == "gateway" && cfg.GatewayBaseURL != "" {
		return purchasesvc.NewGatewayExecutor(cfg.GatewayBaseURL, httpclient.New(cfg.GatewayTimeout))
	}
	if cfg.Mode == "gateway" {
		log.Warn("gateway payments mode requested without base url, falling back to simulated executor")
	}
	return purchasesvc.NewSimulatedExecutor(cfg.SimulatedApproveRate, time.Now().UnixNano())
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
