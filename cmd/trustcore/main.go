// Package main запускает HTTP-сервер контура доверия маркетплейса.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/trustcore/internal/clock"
	"github.com/mmeshcher/trustcore/internal/config"
	"github.com/mmeshcher/trustcore/internal/handler"
	"github.com/mmeshcher/trustcore/internal/metrics"
	"github.com/mmeshcher/trustcore/internal/middleware"
	"github.com/mmeshcher/trustcore/internal/notify"
	"github.com/mmeshcher/trustcore/internal/payment"
	"github.com/mmeshcher/trustcore/internal/processor"
	"github.com/mmeshcher/trustcore/internal/replay"
	"github.com/mmeshcher/trustcore/internal/repository"
	"github.com/mmeshcher/trustcore/internal/signing"
	"github.com/mmeshcher/trustcore/internal/verification"
)

type store interface {
	payment.Store
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo store
	if cfg.DatabaseURI != "" {
		repo, err = repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Warn("DATABASE_URI is empty, order projections are kept in memory")
		repo = repository.NewMemoryRepository()
	}
	defer repo.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	webhookSecret := cfg.WebhookSecret
	if webhookSecret == "" {
		key, err := signing.RandomKey(32)
		if err != nil {
			sugar.Fatalw("webhook secret generation error", "error", err.Error())
		}
		webhookSecret = "whsec_" + hex.EncodeToString(key)
	}

	var (
		proc    payment.Processor
		sandbox *processor.Sandbox
	)
	if cfg.ProcessorAddress != "" {
		proc = processor.NewClient(cfg.ProcessorAddress, cfg.ProcessorAPIKey)
	} else {
		sugar.Warn("PROCESSOR_ADDRESS is empty, using the sandbox processor")
		sandbox = processor.NewSandbox(webhookSecret, clock.Real{})
		proc = sandbox
	}

	webhooks, err := processor.NewWebhookVerifier(webhookSecret, cfg.WebhookTolerance, clock.Real{})
	if err != nil {
		sugar.Fatalw("webhook verifier initialization error", "error", err.Error())
	}

	var sender notify.Sender
	if cfg.SMTP.Host != "" {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		sugar.Warn("SMTP_HOST is empty, messages are written to the log")
		sender = notify.NewLogSender(logger)
	}

	otpSecret := []byte(cfg.OTPSecret)
	if len(otpSecret) == 0 {
		sugar.Warn("OTP_SECRET is empty, issued tokens will not survive a restart")
		otpSecret, err = signing.RandomKey(32)
		if err != nil {
			sugar.Fatalw("otp secret generation error", "error", err.Error())
		}
	}
	verifier, err := verification.NewService(otpSecret, verification.WithTTL(cfg.OTPTTL))
	if err != nil {
		sugar.Fatalw("verification initialization error", "error", err.Error())
	}

	engine := payment.NewEngine(proc, webhooks, repo, sender, m, logger, payment.Config{
		StrictRefundReasons: cfg.RefundReasonStrict,
	})

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		sugar.Fatalw("trusted proxies error", "error", err.Error())
	}

	opts := []handler.Option{
		handler.WithMetrics(m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		handler.WithVerifyLimiter(middleware.NewRateLimiter(cfg.VerifyRateRPS, cfg.VerifyRateBurst, trustedProxies...)),
		handler.WithHealthChecks(repo),
		handler.WithDevMode(cfg.DevMode),
	}
	if cfg.RedisURL != "" {
		guard, err := replay.NewRedisGuard(cfg.RedisURL)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer guard.Close()
		opts = append(opts, handler.WithReplayGuard(guard), handler.WithHealthChecks(guard))
	}
	if sandbox != nil && cfg.DevMode {
		opts = append(opts, handler.WithSandbox(sandbox))
	}

	h := handler.NewHandler(verifier, engine, sender, logger, opts...)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting trustcore server", "addr", cfg.RunAddress, "sandbox", sandbox != nil, "dev", cfg.DevMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
