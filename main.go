package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/pomodoro/internal/auth"
	"github.com/MGallo-Code/pomodoro/internal/captcha"
	"github.com/MGallo-Code/pomodoro/internal/config"
	"github.com/MGallo-Code/pomodoro/internal/mail"
	"github.com/MGallo-Code/pomodoro/internal/oauth"
	"github.com/MGallo-Code/pomodoro/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// .env is optional; real env vars win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("fatal", "err", fmt.Errorf("loading .env: %w", err))
		os.Exit(1)
	}

	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (ps, rdb) always execute before os.Exit.
	if err := run(ctx, cfg, nil, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup (ps.Close, rdb.Close) always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
// A non-nil ml replaces the mailer built from config (tests capture codes this way).
func run(ctx context.Context, cfg *config.Config, ready chan<- string, ml mail.Mailer) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create shared Redis client; all Redis structs share one connection pool.
	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()

	rs := store.NewRecoveryStore(rdb)
	rl := store.NewRedisRateLimiter(rdb)

	tokens, err := auth.NewTokenCodec(cfg.JWTSecretKey, cfg.JWTAlgorithm, cfg.JWTTTL)
	if err != nil {
		return fmt.Errorf("failed to set up token codec: %w", err)
	}

	// Worker goroutines stop when run() returns.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	if ml == nil {
		if ml, err = buildMailer(workerCtx, cfg, rdb); err != nil {
			return err
		}
	}

	providers := map[string]oauth.Provider{}
	if cfg.YandexEnabled() {
		yx := oauth.NewYandexProvider(cfg.YandexClientID, cfg.YandexClientSecret, cfg.YandexRedirectURL)
		providers[yx.Name()] = yx
	} else {
		slog.Warn("yandex oauth not configured, provider disabled")
	}

	policy := auth.DefaultPasswordPolicy
	policy.MinLength = cfg.PasswordMinLength

	svc := &auth.Service{
		Users:      ps,
		Identities: ps,
		Recovery:   rs,
		Limiter:    rl,
		Mailer:     ml,
		Tokens:     tokens,
		Providers:  providers,
		Policy:     policy,
		Limits: auth.Limits{
			Login:          store.RateLimit{MaxAttempts: cfg.RateLoginMax, Window: cfg.RateLoginWindow, LockoutTTL: cfg.RateLoginLockout},
			Recovery:       store.RateLimit{MaxAttempts: cfg.RateRecoveryMax, Window: cfg.RateRecoveryWindow, LockoutTTL: cfg.RateRecoveryLockout},
			RecoveryVerify: store.RateLimit{MaxAttempts: cfg.RateRecoveryVerifyMax, Window: cfg.RateRecoveryVerifyWindow, LockoutTTL: cfg.RateRecoveryVerifyLockout},
		},
		RecoveryCodeTTL: cfg.RecoveryCodeTTL,
		ResetTokenTTL:   cfg.ResetTokenTTL,
		ExternalTimeout: cfg.ExternalTimeout,
	}

	h := auth.AuthHandler{Svc: svc, PS: ps, RS: rs}
	if cfg.CaptchaSecret != "" {
		h.Captcha = captcha.NewTurnstileVerifier(cfg.CaptchaSecret, cfg.CaptchaEndpoint, cfg.ExternalTimeout)
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(&h, cfg.CORSAllowedOrigins)}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("pomodoro auth listening", "addr", ln.Addr().String())
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting new conns and waits for in-flight requests, up to 30s.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildMailer picks the outbound mailer from config:
// no SMTP host -> NopMailer; SMTP only -> direct sends; SMTP plus queue key ->
// Redis-backed queue drained by a worker on ctx.
func buildMailer(ctx context.Context, cfg *config.Config, rdb *redis.Client) (mail.Mailer, error) {
	if cfg.SMTPHost == "" {
		slog.Warn("smtp not configured, recovery codes will not be delivered")
		return mail.NopMailer{}, nil
	}
	smtp := mail.NewSMTPMailer(mail.SMTPConfig{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		FromAddress: cfg.SMTPFromAddress,
	})
	if cfg.MailQueueEncKey == nil {
		return smtp, nil
	}

	q, err := mail.NewQueuedMailer(smtp, rdb, cfg.MailQueueEncKey, int64(cfg.MailQueueMax), cfg.ExternalTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to set up mail queue: %w", err)
	}
	go q.StartWorker(ctx)
	return q, nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.AuthHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	// Bearer tokens travel in a header, so credentials (cookies) are not needed cross-origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.CheckHealth)

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/auth/login/{provider}", h.OAuthRedirect)
	r.Get("/auth/{provider}", h.OAuthCallback)

	r.Post("/users/reset_password_via_email", h.RequestRecovery)
	r.Post("/users/check_recovery_code", h.CheckRecoveryCode)
	r.Patch("/users/confirm_reset_password", h.ConfirmResetPassword)

	// Bearer token required routes
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Get("/users/me", h.Me)
		r.Patch("/users/me", h.UpdateMe)
		r.Patch("/users/me/set_password", h.SetPassword)
		r.Patch("/users/me/change_password", h.ChangePassword)
		r.Patch("/users/{id}", h.UpdateUser)
		r.Delete("/users/{id}", h.DeleteUser)
	})

	return r
}
