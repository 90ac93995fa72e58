package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment          string
	HTTPPort             string
	DatabaseURL          string
	Issuer               string
	FrontendURL          string
	AdminEmail           string
	AdminPassword        string
	AuthPepper           string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	SessionTTL           time.Duration
	SpecialTTL           time.Duration
	OAuthTokenTTL        time.Duration
	PendingAuthTTL       time.Duration
	CeremonyTTL          time.Duration
	RevocationGCLimit    int64
	WebAuthnRPID         string
	WebAuthnRPOrigin     string
	WebAuthnRPName       string
	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	adminEmail := strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	if adminEmail == "" {
		return Config{}, fmt.Errorf("ADMIN_EMAIL is required")
	}
	adminPassword := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD"))
	if adminPassword == "" {
		return Config{}, fmt.Errorf("ADMIN_PASSWORD is required")
	}
	pepper := strings.TrimSpace(os.Getenv("AUTH_PEPPER"))
	if pepper == "" {
		return Config{}, fmt.Errorf("AUTH_PEPPER is required")
	}

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		Issuer:               getEnv("AUTH_ISSUER", "http://localhost:8080"),
		FrontendURL:          getEnv("FRONTEND_URL", "http://localhost:3000"),
		AdminEmail:           adminEmail,
		AdminPassword:        adminPassword,
		AuthPepper:           pepper,
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		SessionTTL:           getDuration("SESSION_TTL", 30*24*time.Hour),
		SpecialTTL:           getDuration("SPECIAL_TTL", 5*time.Minute),
		OAuthTokenTTL:        getDuration("OAUTH_TOKEN_TTL", 10*time.Minute),
		PendingAuthTTL:       getDuration("PENDING_AUTH_TTL", 10*time.Minute),
		CeremonyTTL:          getDuration("CEREMONY_TTL", 5*time.Minute),
		RevocationGCLimit:    int64(getInt("REVOCATION_GC_LIMIT", 1000)),
		WebAuthnRPID:         getEnv("WEBAUTHN_RP_ID", "localhost"),
		WebAuthnRPOrigin:     getEnv("WEBAUTHN_RP_ORIGIN", "http://localhost:3000"),
		WebAuthnRPName:       getEnv("WEBAUTHN_RP_NAME", "Solace ID"),
		ServiceName:          getEnv("SERVICE_NAME", "solace-auth"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SpecialTTL > cfg.SessionTTL {
		cfg.SpecialTTL = cfg.SessionTTL
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
