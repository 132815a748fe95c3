package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/artifact"
	"github.com/iliyamo/bundle-store/internal/config"
	"github.com/iliyamo/bundle-store/internal/database"
	"github.com/iliyamo/bundle-store/internal/download"
	"github.com/iliyamo/bundle-store/internal/gateway"
	"github.com/iliyamo/bundle-store/internal/handler"
	"github.com/iliyamo/bundle-store/internal/metrics"
	"github.com/iliyamo/bundle-store/internal/model"
	"github.com/iliyamo/bundle-store/internal/queue"
	"github.com/iliyamo/bundle-store/internal/repository"
	"github.com/iliyamo/bundle-store/internal/router"
	"github.com/iliyamo/bundle-store/internal/service"
)

// newLogger builds the root logger: JSON on stdout, or a console writer in
// development.
func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "bundle-store").Logger()
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := database.Open(database.Options{
		Driver: cfg.DB.Driver,
		User:   cfg.DB.User,
		Pass:   cfg.DB.Pass,
		Host:   cfg.DB.Host,
		Port:   cfg.DB.Port,
		Name:   cfg.DB.Name,
		Path:   cfg.DB.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(ctx, db, cfg.DB.Driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func newSessions(db *sql.DB, cfg config.Config, log zerolog.Logger) *service.Sessions {
	return service.NewSessions(repository.NewUserRepo(db), service.SessionConfig{
		Secret:     cfg.Session.JWTSecret,
		TTLDays:    cfg.Session.TTLDays,
		BcryptCost: cfg.Session.BcryptCost,
	}, log)
}

func paymentMethods(raw []string) ([]model.PaymentMethod, error) {
	out := make([]model.PaymentMethod, 0, len(raw))
	for _, r := range raw {
		m, err := model.ParsePaymentMethod(r)
		if err != nil {
			return nil, fmt.Errorf("PAYMENT_METHODS: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func newArtifactStore(ctx context.Context, cfg config.ArtifactConfig, log zerolog.Logger) (artifact.Store, error) {
	switch cfg.Backend {
	case "local", "":
		return artifact.NewLocalStore(cfg.Path, cfg.Filename, cfg.Placeholder, log), nil
	case "s3":
		return artifact.NewS3Store(ctx, artifact.S3Config{
			Bucket:          cfg.S3Bucket,
			Key:             cfg.S3Key,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			PathStyle:       cfg.S3PathStyle,
			Filename:        cfg.Filename,
		})
	}
	return nil, fmt.Errorf("unknown ARTIFACT_BACKEND %q", cfg.Backend)
}

// connectRedis returns nil when neither rate limiting nor caching is
// enabled or the server is unreachable; both features then degrade to
// pass-throughs.
func connectRedis(ctx context.Context, rl config.RateLimitConfig, cc config.CacheConfig, log zerolog.Logger) *redis.Client {
	if !rl.Enabled && !cc.Enabled {
		return nil
	}
	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable; rate limiting and response cache disabled")
		return nil
	}
	return rdb
}

// app is the composition root of the serve command.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	db       *sql.DB
	redis    *redis.Client
	tokens   *download.TokenStore
	consumer *queue.Consumer
	echo     *echo.Echo
}

func buildApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, db: db}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	methods, err := paymentMethods(cfg.Product.Methods)
	if err != nil {
		return err
	}
	store, err := newArtifactStore(ctx, cfg.Artifact, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	a.tokens = download.NewTokenStore(cfg.Download.TokenTTL, cfg.Download.SweepInterval, log)
	m.RegisterGauge(reg, "download", "live_tokens", "One-time download tokens currently redeemable",
		func() float64 { return float64(a.tokens.Len()) })

	gw := gateway.NewClient(gateway.Config{
		BaseURL:      cfg.Gateway.BaseURL,
		ClientID:     cfg.Gateway.ClientID,
		ClientSecret: cfg.Gateway.ClientSecret,
		InvoiceCode:  cfg.Gateway.InvoiceCode,
		CallbackURL:  cfg.Gateway.CallbackURL,
		Timeout:      cfg.Gateway.Timeout,
	}, &http.Client{Timeout: cfg.Gateway.Timeout}, log)
	if gw.Sandbox() {
		log.Warn().Msg("payment gateway credentials not set; gateway runs in sandbox mode")
	}

	users := repository.NewUserRepo(a.db)
	orders := repository.NewOrderRepo(a.db)

	deps := service.VerifierDeps{Checker: gw, Metrics: m, Currency: cfg.Product.Currency}
	if cfg.Events.Enabled {
		deps.Events = queue.NewPublisher(cfg.Events.RabbitURL, cfg.Events.Queue, log)
		a.consumer = queue.NewConsumer(cfg.Events.RabbitURL, cfg.Events.Queue, cfg.Events.PurchaseLog, log)
	}

	sessions := newSessions(a.db, cfg, log)
	ledger := service.NewLedger(users, orders, service.LedgerConfig{Price: cfg.Product.Price, Methods: methods}, gw, m, log)
	verifier := service.NewVerifier(users, orders, deps, log)
	gate := service.NewDownloadGate(users, a.tokens, store, m, log)

	bank := service.BankInstructions{
		BankName: cfg.Product.BankName,
		Account:  cfg.Product.BankAccount,
		Holder:   cfg.Product.BankHolder,
	}
	payments := service.NewPayments(
		service.BankTransfer{Instructions: bank, Currency: cfg.Product.Currency},
		service.GatewayCheckout{Client: gw, Ledger: ledger, Description: cfg.Product.Name, Currency: cfg.Product.Currency},
	)

	product := handler.Product{
		Name:     cfg.Product.Name,
		Price:    cfg.Product.Price,
		Currency: cfg.Product.Currency,
		Methods:  methods,
	}
	for _, pm := range methods {
		if pm == model.MethodBankTransfer {
			product.Bank = &bank
		}
	}

	rl := config.LoadRateLimitConfig()
	cc := config.LoadCacheConfig()
	a.redis = connectRedis(ctx, rl, cc, log)

	a.echo = router.New(router.Deps{
		Verifier:  sessions,
		Auth:      handler.NewAuthHandler(sessions, log),
		Purchase:  handler.NewPurchaseHandler(ledger, verifier, payments, log),
		Admin:     handler.NewAdminHandler(ledger, verifier, log),
		Gateway:   handler.NewGatewayHandler(verifier, cfg.Gateway.CallbackSecret, log),
		Download:  handler.NewDownloadHandler(gate, cfg.PublicURL, log),
		Product:   handler.NewProductHandler(product),
		DB:        a.db,
		Metrics:   m,
		Redis:     a.redis,
		RateLimit: rl,
		Cache:     cc,
		Log:       log,
	})
	return nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
