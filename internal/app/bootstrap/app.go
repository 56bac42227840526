package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/practice-booking/internal/api/router"
	"github.com/wolfman30/practice-booking/internal/appointments"
	"github.com/wolfman30/practice-booking/internal/audit"
	"github.com/wolfman30/practice-booking/internal/booking"
	appconfig "github.com/wolfman30/practice-booking/internal/config"
	"github.com/wolfman30/practice-booking/internal/coupons"
	"github.com/wolfman30/practice-booking/internal/events"
	"github.com/wolfman30/practice-booking/internal/notify"
	"github.com/wolfman30/practice-booking/internal/observability/metrics"
	"github.com/wolfman30/practice-booking/internal/payments"
	"github.com/wolfman30/practice-booking/internal/professionals"
	"github.com/wolfman30/practice-booking/internal/tenancy"
	"github.com/wolfman30/practice-booking/pkg/logging"
)

type outbox interface {
	events.Publisher
	events.Source
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// App is the fully wired API process: HTTP handler plus background workers.
type App struct {
	Handler http.Handler
	Service *booking.Service

	logger    *logging.Logger
	deliverer *events.Deliverer
	reaper    *appointments.HoldReaper
	notifier  *notify.Service
	pool      *pgxpool.Pool
	sqlDB     *sql.DB
	redis     *redis.Client
}

// Build wires every component from configuration. Without DATABASE_URL the
// stores fall back to in-memory implementations, which is only useful for
// local development.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	locations, err := tenancy.NewLocations(cfg.DefaultTimezone, cfg.TenantTimezones())
	if err != nil {
		return nil, err
	}

	pool, sqlDB, err := BuildDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := &App{logger: logger, pool: pool, sqlDB: sqlDB}
	app.redis = BuildRedisClient(ctx, cfg, logger, true)

	var awsCfg *aws.Config
	if needsAWS(cfg) {
		loaded, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			app.Close()
			return nil, err
		}
		awsCfg = &loaded
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bookingMetrics := metrics.NewBookingMetrics(registry)

	gateway, fakeGateway, err := BuildGateway(cfg, bookingMetrics, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	var (
		store     appointments.Store
		directory professionals.Directory
		couponRep coupons.Repository
		box       outbox
		processed processedTracker
		trail     *audit.Trail
	)
	if pool != nil {
		store = appointments.NewPostgresStore(pool)
		directory = professionals.NewPostgresDirectory(pool)
		couponRep = coupons.NewPostgresRepository(pool)
		box = events.NewOutboxStore(pool)
		processed = events.NewProcessedStore(pool)
		trail = audit.NewTrail(sqlDB)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		store = appointments.NewInMemoryStore()
		directory = professionals.NewInMemoryDirectory()
		couponRep = coupons.NewInMemoryRepository()
		box = events.NewMemoryOutbox()
		processed = events.NewMemoryProcessedStore()
	}
	directory = professionals.NewCachedDirectory(directory, app.redis, cfg.ProfessionalCacheTTL, logger)

	validator := coupons.NewValidator(couponRep, directory, logger).WithMetrics(bookingMetrics)
	app.notifier = notify.NewService(BuildEmailSender(cfg, awsCfg, logger), directory, cfg.Currency, logger).
		WithSenderNames(cfg.TenantSenderNames())

	svc := booking.NewService(booking.Deps{
		Store:     store,
		Directory: directory,
		Gateway:   gateway,
		Coupons:   validator,
		Outbox:    box,
		Locations: locations,
	}, logger).
		WithMetrics(bookingMetrics).
		WithNotifier(app.notifier).
		WithHoldTTL(cfg.RescheduleHoldTTL).
		WithConflictRetries(cfg.ConflictRetryAttempts)
	if trail != nil {
		svc.WithAudit(trail)
	}
	app.Service = svc

	app.deliverer = events.NewDeliverer(box, BuildOutboxRouter(cfg, awsCfg, svc.RefundRetrier(), logger), logger).
		WithInterval(cfg.OutboxPollInterval)
	app.reaper = appointments.NewHoldReaper(store, logger).
		WithInterval(cfg.HoldReaperInterval).
		WithMetrics(bookingMetrics).
		OnRelease(svc.HoldReleased)

	routerCfg := &router.Config{
		Logger:             logger,
		Booking:            booking.NewHandler(svc, logger),
		Coupons:            coupons.NewHandler(validator, coupons.NewThrottle(app.redis, cfg.CouponValidateMaxPerHour, 0, logger), logger),
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		HealthChecks:       app.healthChecks(),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
	}
	if trail != nil {
		routerCfg.Audit = audit.NewHandler(trail, logger)
	}
	if cfg.StripeWebhookSecret != "" {
		routerCfg.StripeWebhook = payments.NewStripeWebhookHandler(cfg.StripeWebhookSecret, svc, processed, logger)
	}
	if fakeGateway != nil {
		routerCfg.FakePayments = payments.NewFakeHandler(fakeGateway, svc, logger)
	}
	app.Handler = router.New(routerCfg)
	return app, nil
}

func (a *App) healthChecks() map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if a.pool != nil {
		checks["postgres"] = a.pool.Ping
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return checks
}

// Run drives the outbox deliverer and hold reaper until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.deliverer.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		a.reaper.Start(ctx)
	}()
	wg.Wait()
	a.logger.Info("background workers stopped")
}

// Close waits for in-flight notifications and releases connections.
func (a *App) Close() {
	if a.notifier != nil {
		a.notifier.Wait()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
