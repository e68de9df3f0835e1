package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/garnizeh/hostel/api"
	dbfiles "github.com/garnizeh/hostel/db"
	"github.com/garnizeh/hostel/internal/changefeed"
	"github.com/garnizeh/hostel/internal/config"
	"github.com/garnizeh/hostel/internal/db"
	"github.com/garnizeh/hostel/internal/identity"
	"github.com/garnizeh/hostel/internal/jobs"
	"github.com/garnizeh/hostel/internal/mail"
	"github.com/garnizeh/hostel/internal/metrics"
	"github.com/garnizeh/hostel/internal/notify"
	"github.com/garnizeh/hostel/internal/provision"
	"github.com/garnizeh/hostel/internal/push"
	"github.com/garnizeh/hostel/internal/ratelimit"
	"github.com/garnizeh/hostel/internal/repository/sqlite"
	"github.com/garnizeh/hostel/internal/schema"
	"github.com/garnizeh/hostel/pkg/fcm"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	level := slog.LevelInfo
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	api.SetLogger(logger)
	notify.SetLogger(logger)
	provision.SetLogger(logger)
	fcm.SetLogger(logger)

	logger.Info("starting hostel server", slog.String("version", version), slog.String("build_time", buildTime))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database connection
	database, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, database, dbfiles.Migrations, dbfiles.SeedFiles); err != nil {
			log.Fatalf("Failed to migrate DB: %v", err)
		}
	}
	repo := sqlite.New(database, logger).WithChangeFeedAttempts(cfg.ChangeFeed.MaxAttempts)
	m := metrics.New()

	var app *firebase.App
	if cfg.Identity.Provider == "firebase" || cfg.Push.Transport == "fcm" {
		app, err = newFirebaseApp(ctx, cfg.Firebase)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase: %v", err)
		}
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid redis url: %v", err)
		}
		rdb = redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable at startup", slog.Any("err", err))
		}
	}

	// Identity provider
	var (
		provider  identity.Provider
		passwords api.PasswordAuth
	)
	switch cfg.Identity.Provider {
	case "firebase":
		provider, err = identity.NewFirebaseFromApp(ctx, app)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase Auth: %v", err)
		}
	default:
		local := identity.NewLocal(repo, identity.LocalConfig{
			Secret:           cfg.Identity.JWTSecret,
			Issuer:           cfg.Identity.Issuer,
			TokenDuration:    cfg.Identity.TokenDuration,
			PasswordSetupURL: cfg.Identity.PasswordSetupURL,
			SetupDuration:    cfg.Identity.PasswordSetupExpiry,
		})
		provider, passwords = local, local
	}

	// Push transport
	var (
		transport notify.Transport
		fcmClient *fcm.Client
	)
	switch cfg.Push.Transport {
	case "fcm":
		fcmClient, err = fcm.NewFromApp(ctx, app, fcm.Config{
			Timeout:                 cfg.Push.Timeout,
			CircuitFailureThreshold: cfg.Push.CircuitFailureThreshold,
			CircuitReset:            cfg.Push.CircuitReset,
		})
		if err != nil {
			log.Fatalf("Failed to initialize FCM: %v", err)
		}
		transport = push.NewFCM(fcmClient)
	case "redis":
		transport = push.NewRedis(rdb)
	default:
		transport = push.NewLog(logger)
	}

	// Change feed: one dispatcher per watched collection
	observe := func(collection string, o notify.Outcome) { m.ObserveNotification(collection, string(o)) }
	consumers := map[string]changefeed.Consumer{
		changefeed.CollectionLeaves:     notify.NewDispatcher(notify.LeaveWatch, repo, transport, cfg.Push.Icon).WithObserver(observe),
		changefeed.CollectionComplaints: notify.NewDispatcher(notify.ComplaintWatch, repo, transport, cfg.Push.Icon).WithObserver(observe),
	}
	jobRepo := jobs.NewRepository(database, cfg.ChangeFeed.Lease)
	pool := jobs.NewWorkerPool(jobRepo, changefeed.Handlers(consumers), logger, cfg.ChangeFeed.Workers).WithObserver(m.ObserveJob)
	pool.Start(ctx)

	janitor := jobs.NewJanitor(jobRepo, cfg.ChangeFeed.Retention, logger)
	if err := janitor.Start(ctx, cfg.ChangeFeed.CleanupSchedule); err != nil {
		log.Fatalf("Invalid cleanup schedule %q: %v", cfg.ChangeFeed.CleanupSchedule, err)
	}

	// Provisioning
	var mailer mail.Sender = mail.NewLog(logger)
	if cfg.Mail.Enabled {
		mailer = mail.NewSMTP(mail.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			FromName: cfg.Mail.FromName,
		})
	}
	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	var subscriber api.Subscriber
	if rdb != nil {
		limiter = ratelimit.NewRedis(rdb, "create_account", cfg.RateLimit.CreateAccount)
		subscriber = rdb
	}
	schemas, err := schema.NewLoader(ctx, repo)
	if err != nil {
		log.Fatalf("Failed to load payload schemas: %v", err)
	}
	gate := provision.NewGate(provider, repo, limiter, mailer).
		WithSchema(schemas).
		WithObserver(m.ObserveProvisioning)

	handler := api.SetupRoutes(cfg, version, buildTime, api.Services{
		DB:         database,
		Verifier:   provider,
		Passwords:  passwords,
		Profiles:   repo,
		Devices:    repo,
		Leaves:     repo,
		Complaints: repo,
		Gate:       gate,
		Subscriber: subscriber,
		Metrics:    m,
	})

	// Create HTTP server. WriteTimeout is left unset for the notifications
	// websocket; request contexts are bounded by TimeoutMiddleware.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.APITimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("err", err))
	}

	pool.Stop()
	janitor.Stop()
	if fcmClient != nil {
		_ = fcmClient.Close()
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", slog.Any("err", err))
		}
	}
	if err := database.Close(); err != nil {
		logger.Error("closing DB", slog.Any("err", err))
	}

	logger.Info("server exited")
}

func newFirebaseApp(ctx context.Context, cfg config.FirebaseConfig) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
}
