package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatflow/chatflow/internal/api"
	"github.com/chatflow/chatflow/internal/api/middleware"
	"github.com/chatflow/chatflow/internal/config"
	"github.com/chatflow/chatflow/internal/database"
	"github.com/chatflow/chatflow/internal/database/models"
	"github.com/chatflow/chatflow/internal/metrics"
	"github.com/chatflow/chatflow/internal/push"
	"github.com/chatflow/chatflow/internal/retention"
	signalhub "github.com/chatflow/chatflow/internal/signal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting chatflow",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to load jwt secret", "error", err)
		os.Exit(1)
	}

	users := database.NewUserRepository(db)
	contacts := database.NewContactRepository(db)
	messages := database.NewMessageRepository(db)
	attachments := database.NewAttachmentRepository(db)
	pushTokens := database.NewPushTokenRepository(db)

	// Background purge of attachments no message references.
	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	defer cancelCleanup()
	retention.StartCleanupTicker(cleanupCtx, attachments, cfg.DataDir, cfg.AttachmentMaxDays, time.Hour)

	// Realtime core: presence, session table, coordinator, websocket hub.
	presence := signalhub.NewPresence(logger)
	table := signalhub.NewSessionTable()
	coordinator := signalhub.NewCoordinator(presence, table, contacts, cfg.RingTimeoutDuration(), logger)

	var notifier signalhub.Notifier
	if n := push.NewNotifier(push.NewClient(cfg.PushGatewayURL, cfg.LicenseKey), pushTokens, logger); n != nil {
		notifier = n
		slog.Info("push gateway configured", "url", cfg.PushGatewayURL)
	}

	hub := signalhub.NewHub(
		presence,
		coordinator,
		&chatStore{messages: messages},
		contacts,
		notifier,
		middleware.WebSocketIdentity(jwtSecret),
		cfg.AllowAnyOrigin,
		logger,
	)

	// Prometheus metrics on a dedicated registry.
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(presence, coordinator, users, messages, time.Now()))
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	handler, err := api.NewServer(cfg, db, hub, presence, metricsHandler)
	if err != nil {
		slog.Error("failed to create api server", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSEnabled() {
			slog.Info("https server listening", "addr", srv.Addr)
			if err := srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			return
		}
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down server")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("chatflow stopped")
}

// chatStore bridges the hub's message persistence interface to the
// database message repository.
type chatStore struct {
	messages database.MessageRepository
}

func (s *chatStore) SaveMessage(ctx context.Context, msg *signalhub.StoredMessage) error {
	m := &models.Message{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Body:        msg.Body,
		SentAt:      msg.SentAt,
	}
	if msg.AttachmentID != "" {
		m.AttachmentID = &msg.AttachmentID
	}
	return s.messages.Create(ctx, m)
}
