package config

import (
	"log"
	neturl "net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the bootstrap settings taken from the process environment.
// Application-level settings (database hosts, credentials, databases to
// provision) live in the env file instead; see Envfile.
type Config struct {
	AppDir      string
	EnvFile     string
	EnvTemplate string
	BackupDir   string
	Port        string
	Environment string

	// Dependency and tooling installation
	RuntimeBinary        string
	RuntimeLegacyBelow   int
	DepsMarker           string
	DepsInstallCmd       string
	DepsInstallCmdLegacy string
	ClientBinary         string
	ClientInstallCmd     string

	// Database readiness probe
	WaitTimeout time.Duration

	// Restore-time host alias for loopback rewrites
	RestoreAlias string

	// Credential reset
	SecretKeyName     string
	ResetUserPassword string

	// Session store
	RedisURL      string
	RedisPassword string
}

// Load reads the bootstrap configuration from environment variables.
func Load() *Config {
	appDir := GetEnvOrDefault("APP_DIR", "/app")

	return &Config{
		AppDir:      appDir,
		EnvFile:     GetEnvOrDefault("ENV_FILE", filepath.Join(appDir, ".env")),
		EnvTemplate: GetEnvOrDefault("ENV_TEMPLATE", filepath.Join(appDir, ".env.example")),
		BackupDir:   GetEnvOrDefault("BACKUP_DIR", filepath.Join(appDir, "backup")),
		Port:        GetEnvOrDefault("PORT", "8080"),
		Environment: GetEnvOrDefault("APP_ENV", "production"),

		RuntimeBinary:        os.Getenv("RUNTIME_BIN"),
		RuntimeLegacyBelow:   GetEnvAsInt("RUNTIME_LEGACY_BELOW", 8),
		DepsMarker:           GetEnvOrDefault("DEPS_MARKER", "vendor"),
		DepsInstallCmd:       os.Getenv("DEPS_INSTALL_CMD"),
		DepsInstallCmdLegacy: os.Getenv("DEPS_INSTALL_CMD_LEGACY"),
		ClientBinary:         os.Getenv("CLIENT_BIN"),
		ClientInstallCmd:     os.Getenv("CLIENT_INSTALL_CMD"),

		WaitTimeout: GetEnvAsDuration("DB_WAIT_TIMEOUT", 60*time.Second),

		RestoreAlias: GetEnvOrDefault("RESTORE_DB_ALIAS", "postgres"),

		SecretKeyName:     GetEnvOrDefault("SECRET_KEY_NAME", "APP_KEY"),
		ResetUserPassword: GetEnvOrDefault("RESET_USER_PASSWORD", "123456"),

		RedisURL:      normalizeRedisAddress(GetEnvOrDefault("REDIS_URL", "localhost:6379")),
		RedisPassword: resolveRedisPassword(os.Getenv("REDIS_URL"), os.Getenv("REDIS_PASSWORD")),
	}
}

// GetEnvOrDefault returns environment variable value or default
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsBool parses environment variable as boolean
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		value = strings.ToLower(value)
		if value == "true" || value == "1" || value == "yes" {
			return true
		}
		if value == "false" || value == "0" || value == "no" {
			return false
		}
	}
	return defaultValue
}

// GetEnvAsInt parses environment variable as integer
func GetEnvAsInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration parses environment variable as a time.Duration
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

// normalizeRedisAddress converts redis:// URLs into host[:port] that go-redis expects.
func normalizeRedisAddress(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		return trimmed
	}
	u, err := neturl.Parse(trimmed)
	if err != nil {
		log.Printf("Warning: could not parse REDIS_URL '%s': %v", trimmed, err)
		return trimmed
	}
	if u.Host != "" {
		return u.Host
	}
	return trimmed
}

// resolveRedisPassword returns an explicit password if provided, otherwise pulls
// the password component from a redis:// URL when available.
func resolveRedisPassword(redisURL, explicit string) string {
	if explicit != "" {
		return explicit
	}
	trimmed := strings.TrimSpace(redisURL)
	if trimmed == "" || !strings.Contains(trimmed, "://") {
		return explicit
	}
	u, err := neturl.Parse(trimmed)
	if err != nil {
		return explicit
	}
	if u.User != nil {
		if pw, ok := u.User.Password(); ok && pw != "" {
			return pw
		}
	}
	return explicit
}
