// main wires the verification service's dependencies and keeps the server
// lifecycle small. Business logic lives in the internal service packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vouch/internal/audit"
	"vouch/internal/docstore"
	"vouch/internal/expiry"
	httpapi "vouch/internal/http"
	jwttoken "vouch/internal/jwt_token"
	"vouch/internal/notify"
	"vouch/internal/oracle"
	"vouch/internal/platform/config"
	"vouch/internal/platform/httpserver"
	"vouch/internal/platform/logger"
	platformpg "vouch/internal/platform/postgres"
	platformredis "vouch/internal/platform/redis"
	"vouch/internal/profile"
	"vouch/internal/reconcile"
	"vouch/internal/verification/handler"
	vmetrics "vouch/internal/verification/metrics"
	"vouch/internal/verification/service"
	"vouch/internal/verification/store"
	storememory "vouch/internal/verification/store/memory"
	storepostgres "vouch/internal/verification/store/postgres"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence. Without DATABASE_URL everything runs in memory, which is
	// only useful for local development.
	var (
		records    store.Store
		profiles   profile.Store
		auditStore audit.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := platformpg.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		for _, schema := range []string{storepostgres.Schema, profile.Schema, audit.Schema} {
			if _, err := db.ExecContext(ctx, schema); err != nil {
				log.Error("schema apply failed", "error", err)
				os.Exit(1)
			}
		}
		records = storepostgres.New(db)
		profiles = profile.NewPostgres(db)
		auditStore = audit.NewPostgresStore(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		records = storememory.New()
		profiles = profile.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
	}

	// Webhook replay protection.
	var idempotency reconcile.Idempotency = reconcile.NewMemoryIdempotency()
	if cfg.RedisURL != "" {
		rdb, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("redis connect failed", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		idempotency = reconcile.NewRedisIdempotency(rdb.Client)
	} else {
		log.Warn("REDIS_URL not set, webhook replay protection is process local")
	}

	// Notifications go to the downstream notification service via Kafka.
	var sender notify.Sender = notify.NewLogSender(log)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSender := notify.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaSender.Close()
		sender = kafkaSender
	}
	dispatcher := notify.NewDispatcher(sender, log)

	// Document storage.
	var storage docstore.Storage
	if cfg.S3Bucket != "" {
		s3Storage, err := docstore.NewS3(ctx, cfg.S3Bucket, cfg.S3Region)
		if err != nil {
			log.Error("s3 storage init failed", "error", err)
			os.Exit(1)
		}
		storage = s3Storage
	} else {
		log.Warn("S3_BUCKET not set, documents are held in memory")
		storage = docstore.NewInMemory()
	}

	extractor, err := oracle.NewClient(oracle.Config{
		URL:    cfg.OracleURL,
		APIKey: cfg.OracleAPIKey,
		Model:  cfg.OracleModel,
	})
	if err != nil {
		log.Error("oracle client init failed", "error", err)
		os.Exit(1)
	}

	metrics := vmetrics.New()

	publisher := audit.NewPublisher(256, log)
	auditWorker := audit.NewWorker(auditStore, publisher.Inbox(), log)
	go func() {
		if err := auditWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()

	verifications := service.New(records, profiles, extractor, storage,
		service.WithLogger(log),
		service.WithMetrics(metrics),
		service.WithNotifier(dispatcher),
		service.WithAuditor(publisher),
	)

	reconciler := reconcile.New(records, profiles,
		reconcile.WithLogger(log),
		reconcile.WithMetrics(metrics),
		reconcile.WithNotifier(dispatcher),
		reconcile.WithAuditor(publisher),
		reconcile.WithIdempotency(idempotency),
		reconcile.WithAdminRecipient(cfg.AdminAlertRecipient),
	)

	expiryWorker := expiry.New(records, profiles, log,
		expiry.WithNotifier(dispatcher),
		expiry.WithAuditor(publisher),
		expiry.WithMetrics(metrics),
		expiry.WithInterval(cfg.ExpiryScanInterval),
	)
	go func() {
		if err := expiryWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("expiry worker stopped", "error", err)
		}
	}()

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "vouch", "vouch-api")
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Verification: handler.New(verifications, log),
		Reconcile:    reconcile.NewHandler(reconciler, cfg.WebhookSecret, log),
		Validator:    jwttoken.NewJWTServiceAdapter(jwtService),
		Logger:       log,
	})

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("starting vouch", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
