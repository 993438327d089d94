// config.go

// Environment variable loading and validation.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all env configuration vars for the credential service.
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	LogLevel    slog.Level

	// Bearer token signing. JWTSecretKey is required.
	JWTSecretKey []byte
	JWTAlgorithm string        // defaults to HS256
	JWTTTL       time.Duration // defaults to 672h (28 days)

	// Recovery flow lifetimes. Defaults: 180s code, 600s reset token.
	RecoveryCodeTTL time.Duration
	ResetTokenTTL   time.Duration

	// ExternalTimeout bounds every call to the OAuth provider, SMTP and captcha.
	ExternalTimeout time.Duration

	PasswordMinLength int

	// Yandex OAuth. All three must be set to enable the provider.
	YandexClientID     string
	YandexClientSecret string
	YandexRedirectURL  string

	// SMTP configuration for outbound email. All optional -- empty Host disables sending.
	SMTPHost        string
	SMTPPort        int // defaults to 465
	SMTPUsername    string
	SMTPPassword    string
	SMTPFromAddress string

	// Mail queue. A 32-byte hex key enables the Redis-backed queue in front of SMTP.
	MailQueueEncKey []byte
	MailQueueMax    int

	// Origins allowed by CORS. Comma-separated; defaults to "*".
	CORSAllowedOrigins []string

	// Captcha secret; empty disables the check on register and recovery.
	CaptchaSecret   string
	CaptchaEndpoint string

	// Rate limit policy for login attempts per phone.
	// Defaults: max=5, window=15m, lockout=15m.
	RateLoginMax     int
	RateLoginWindow  time.Duration
	RateLoginLockout time.Duration

	// Rate limit policy for recovery requests per phone.
	// Defaults: max=3, window=1h, lockout=1h.
	RateRecoveryMax     int
	RateRecoveryWindow  time.Duration
	RateRecoveryLockout time.Duration

	// Rate limit policy for code checks per recovery id.
	// Defaults: max=5, window=3m, lockout=3m.
	RateRecoveryVerifyMax     int
	RateRecoveryVerifyWindow  time.Duration
	RateRecoveryVerifyLockout time.Duration
}

// YandexEnabled reports whether all Yandex OAuth settings are present.
func (c *Config) YandexEnabled() bool {
	return c.YandexClientID != "" && c.YandexClientSecret != "" && c.YandexRedirectURL != ""
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables (DATABASE_URL, REDIS_URL, JWT_SECRET_KEY) are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	secret := os.Getenv("JWT_SECRET_KEY")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY is required")
	}
	cfg.JWTSecretKey = []byte(secret)

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8000"
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.JWTAlgorithm = os.Getenv("JWT_ALGORITHM")
	if cfg.JWTAlgorithm == "" {
		cfg.JWTAlgorithm = "HS256"
	}
	if !strings.HasPrefix(cfg.JWTAlgorithm, "HS") {
		return nil, fmt.Errorf("JWT_ALGORITHM must be an HMAC algorithm, got %q", cfg.JWTAlgorithm)
	}
	cfg.JWTTTL = envDuration("JWT_TTL", 672*time.Hour)

	cfg.RecoveryCodeTTL = envDuration("RECOVERY_CODE_TTL", 180*time.Second)
	cfg.ResetTokenTTL = envDuration("RESET_TOKEN_TTL", 600*time.Second)
	cfg.ExternalTimeout = envDuration("EXTERNAL_TIMEOUT", 5*time.Second)
	cfg.PasswordMinLength = envInt("PASSWORD_MIN_LENGTH", 8)

	cfg.YandexClientID = os.Getenv("YANDEX_CLIENT_ID")
	cfg.YandexClientSecret = os.Getenv("YANDEX_CLIENT_SECRET")
	cfg.YandexRedirectURL = os.Getenv("YANDEX_REDIRECT_URL")
	if cfg.YandexRedirectURL != "" && !strings.HasPrefix(cfg.YandexRedirectURL, "https://") {
		return nil, fmt.Errorf("YANDEX_REDIRECT_URL must start with https://")
	}

	// SMTP -- all optional; empty Host means no email sending (NopMailer).
	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = envInt("SMTP_PORT", 465)
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFromAddress = os.Getenv("SMTP_FROM")
	if cfg.SMTPHost != "" && cfg.SMTPFromAddress == "" {
		return nil, fmt.Errorf("SMTP_FROM must be set when SMTP_HOST is set")
	}

	// A malformed key is fatal rather than silently disabling the queue.
	if raw := os.Getenv("MAIL_QUEUE_ENC_KEY"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("MAIL_QUEUE_ENC_KEY must be 64 hex characters")
		}
		cfg.MailQueueEncKey = key
	}
	cfg.MailQueueMax = envInt("MAIL_QUEUE_MAX", 1000)

	cfg.CORSAllowedOrigins = []string{"*"}
	if raw := os.Getenv("CORS_ALLOWED_ORIGINS"); raw != "" {
		cfg.CORSAllowedOrigins = nil
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}

	cfg.CaptchaSecret = os.Getenv("CAPTCHA_SECRET")
	cfg.CaptchaEndpoint = os.Getenv("CAPTCHA_ENDPOINT")

	// Rate limits. Invalid values fall back to the default so a misconfigured
	// env doesn't silently disable rate limiting.
	cfg.RateLoginMax = envInt("RATE_LOGIN_MAX_ATTEMPTS", 5)
	cfg.RateLoginWindow = envDuration("RATE_LOGIN_WINDOW", 15*time.Minute)
	cfg.RateLoginLockout = envDuration("RATE_LOGIN_LOCKOUT", 15*time.Minute)

	cfg.RateRecoveryMax = envInt("RATE_RECOVERY_MAX_ATTEMPTS", 3)
	cfg.RateRecoveryWindow = envDuration("RATE_RECOVERY_WINDOW", time.Hour)
	cfg.RateRecoveryLockout = envDuration("RATE_RECOVERY_LOCKOUT", time.Hour)

	cfg.RateRecoveryVerifyMax = envInt("RATE_RECOVERY_VERIFY_MAX_ATTEMPTS", 5)
	cfg.RateRecoveryVerifyWindow = envDuration("RATE_RECOVERY_VERIFY_WINDOW", 3*time.Minute)
	cfg.RateRecoveryVerifyLockout = envDuration("RATE_RECOVERY_VERIFY_LOCKOUT", 3*time.Minute)

	return cfg, nil
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
