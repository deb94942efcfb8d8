package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"slotbook/internal/booking"
	"slotbook/internal/handlers"
	"slotbook/internal/notify"
	"slotbook/internal/outbox"
	"slotbook/internal/reminder"
	"slotbook/internal/storage"
	"slotbook/libs/config"
	"slotbook/libs/db"
	"slotbook/libs/httpx"
	"slotbook/libs/kafkax"
	"slotbook/libs/otelx"
	"slotbook/libs/runtime"
)

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "slotbook")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	providerRepo := storage.NewProviderRepository(pool)
	bookingRepo := storage.NewBookingRepository(pool, outboxRepo)

	var sms notify.SMSSender = notify.NewNoopSMSSender()
	if url := config.String("SMS_WEBHOOK_URL", ""); url != "" {
		sms = notify.NewWebhookSMSSender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
	}
	notifier := notify.NewService(
		notify.NewSMTPSender(
			config.String("SMTP_HOST", "localhost"),
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_FROM", ""),
		),
		sms,
		config.String("PUBLIC_BASE_URL", "http://localhost:"+port),
		logger,
	)

	bookingService := booking.NewService(bookingRepo, providerRepo, notifier, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers: config.String("KAFKA_BROKERS", ""),
	})
	go outboxPublisher.Run(ctx)

	sweeper := reminder.NewSweeper(bookingRepo, notifier, logger, reminder.Config{
		Interval: config.Minutes("SWEEP_INTERVAL_MINUTES", 15*time.Minute),
	})
	go sweeper.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handlers.NewPublicHandler(bookingService, providerRepo, bookingRepo, logger).Register(mux)
	handlers.NewAdminHandler(bookingService, providerRepo, bookingRepo, config.String("ADMIN_TOKEN", ""), logger).Register(mux)

	// Redis-backed limiting when several instances share one address
	// space; per-process fixed window otherwise.
	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var limitMW httpx.Middleware
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limitMW = httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, service).Middleware(logger, true)
	} else {
		limitMW = httpx.NewRateLimiter(rateLimit, time.Minute).Middleware()
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: splitCSV(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
			AllowedHeaders: []string{"Content-Type", "X-Admin-Token"},
			MaxAge:         10 * time.Minute,
		}),
		limitMW,
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
