package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toll-plaza/internal/auth"
	"toll-plaza/internal/config"
	"toll-plaza/internal/handlers"
	"toll-plaza/internal/logging"
	"toll-plaza/internal/middleware"
	"toll-plaza/internal/models"
	"toll-plaza/internal/storage"
	"toll-plaza/web"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	sessionCleanupInterval = time.Hour
	shutdownTimeout        = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.InsecureSecret() {
		logger.Warn("SESSION_SECRET is the development default, set it before exposing the server")
	}

	db, err := storage.NewDB(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedAdmin(ctx, db, cfg, logger); err != nil {
		return err
	}

	templates := web.Templates()
	if cfg.TemplateDir != "" {
		templates = os.DirFS(cfg.TemplateDir)
	}
	h := handlers.NewHandlers(db, templates, logger, handlers.SessionConfig{
		Secret:   cfg.SessionSecret,
		Duration: cfg.SessionDuration,
		Secure:   cfg.SecureCookie,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           setupRouter(h, web.Static(), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go cleanSessions(ctx, db, logger, sessionCleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("db", cfg.DBPath))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupRouter(h *handlers.Handlers, static fs.FS, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("GET /register", h.RegisterForm)
	mux.HandleFunc("POST /register", h.Register)
	mux.HandleFunc("GET /login", h.LoginForm)
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("GET /logout", h.Logout)

	mux.Handle("GET /dashboard", h.AuthMiddleware(http.HandlerFunc(h.Dashboard)))
	mux.Handle("POST /pay_toll", h.AuthMiddleware(http.HandlerFunc(h.PayToll)))
	mux.Handle("POST /recharge", h.AuthMiddleware(http.HandlerFunc(h.Recharge)))
	mux.Handle("GET /admin", h.AuthMiddleware(h.AdminOnly(http.HandlerFunc(h.Admin))))

	return middleware.Chain(mux,
		middleware.RequestLogger(logger),
		middleware.Recover(logger),
		middleware.SecurityHeaders,
	)
}

// seedAdmin creates the configured administrator on first start. Without
// ADMIN_PASSWORD no administrator is created.
func seedAdmin(ctx context.Context, db *storage.DB, cfg *config.Config, logger *zap.Logger) error {
	if cfg.AdminPassword == "" {
		logger.Info("ADMIN_PASSWORD not set, skipping administrator seed")
		return nil
	}

	email := models.NormalizeEmail(cfg.AdminEmail)
	existing, err := db.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if !existing.IsAdmin() {
			logger.Warn("administrator email belongs to a regular user", zap.String("email", email))
		}
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("look up administrator: %w", err)
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("hash administrator password: %w", err)
	}
	u, err := db.CreateUser(ctx, models.NewUser{
		Name:         cfg.AdminName,
		CarNumber:    models.NormalizeCarNumber(cfg.AdminCarNumber),
		Email:        email,
		PasswordHash: hash,
		Balance:      decimal.Zero,
		Role:         models.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("create administrator: %w", err)
	}
	logger.Info("administrator created", zap.Int64("user_id", u.ID), zap.String("email", email))
	return nil
}

// cleanSessions deletes expired sessions every interval until ctx is done.
func cleanSessions(ctx context.Context, db *storage.DB, logger *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.CleanExpiredSessions(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("clean expired sessions", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", zap.Int64("count", n))
			}
		}
	}
}
