package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	m := newMetrics()
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	h, err := newHandler(ctx, cfg, store, m, log)
	if err != nil {
		return err
	}
	if h.reminders != nil {
		if err := h.reminders.start(cfg.ReminderCron); err != nil {
			return err
		}
		defer h.reminders.stop()
		log.Info("reminders scheduled", zap.String("cron", cfg.ReminderCron))
	}

	if cfg.LogFormat != "console" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	_ = router.SetTrustedProxies(nil)
	router.Use(gin.Recovery(), requestLogger(log), m.middleware())
	h.registerRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// openStore connects the configured store. The memory store is seeded with a
// demo user whose token is logged, so a local run is usable right away.
func openStore(ctx context.Context, cfg config, log *zap.Logger) (dataStore, func(), error) {
	if cfg.Store == storeMemory {
		mem := newMemStore()
		demo := mem.addUser("demo", "", "")
		log.Warn("using in-memory store; data is lost on exit",
			zap.String("username", demo.Username), zap.String("auth_token", demo.AuthToken))
		return mem, func() {}, nil
	}
	pool, err := openPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return newPGStore(pool, log), pool.Close, nil
}

// newHandler wires the optional integrations enabled by cfg.
func newHandler(ctx context.Context, cfg config, store dataStore, m *metrics, log *zap.Logger) (*Handler, error) {
	ai := newOpenAIClient(cfg, m)
	h := &Handler{
		store:   store,
		coach:   ai,
		voice:   ai,
		limiter: newUserLimiter(cfg.CoachRatePerMin),
		metrics: m,
		admins:  cfg.adminUsernames(),
		log:     log,
		now:     time.Now,
	}
	if cfg.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY not set; coach and estimates are disabled")
	}

	if cfg.ClerkIssuer != "" {
		h.sessions = newOIDCSessionVerifier(ctx, cfg.ClerkIssuer, cfg.ClerkJWKSURL)
		log.Info("session tokens enabled", zap.String("issuer", cfg.ClerkIssuer))
	}

	if cfg.stravaEnabled() {
		h.strava = newStravaConnector(cfg, store, log.Named("strava"))
		h.activities = h.strava
	}

	if cfg.remindersEnabled() {
		mail, err := newSESMailer(ctx, cfg.AWSRegion, cfg.SESEmail)
		if err != nil {
			return nil, err
		}
		h.reminders = newReminderJob(store, mail, cfg.AppURL, log.Named("reminders"), m)
	}
	return h, nil
}
