package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	BackendREST   = "rest"
	BackendMemory = "memory"

	AuthOIDC = "oidc"
	AuthNone = "none"

	SessionStoreSQLite = "sqlite"
	SessionStoreMemory = "memory"
)

type Config struct {
	// HTTP Server
	Port         string
	CookieSecure bool
	LogLevel     string

	// Billing backend
	BackendMode    string
	BackendURL     string
	BackendTimeout time.Duration
	// Seed files for BACKEND_MODE=memory
	MemorySeedDir string

	// Keycloak
	AuthMode         string
	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string
	OIDCTenantClaim  string
	DevTenant        string

	// Sessions
	SessionStore string
	SessionTTL   time.Duration

	// Database
	SQLiteDBPath string

	// AMQP (optional; uploads are processed inline without it)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Uploads and worker
	UploadMaxBytes    int64
	UploadConcurrency int
	SyncBatchSize     int
	SyncInterval      time.Duration

	TranslationCacheTTL time.Duration

	// Google Sheets statistics export (optional)
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8080"),
		CookieSecure: getEnvBool("COOKIE_SECURE", false),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		BackendMode:    getEnv("BACKEND_MODE", BackendREST),
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8090"),
		BackendTimeout: getEnvDuration("BACKEND_TIMEOUT", 30*time.Second),
		MemorySeedDir:  getEnv("MEMORY_SEED_DIR", "./data/seed"),

		AuthMode:         getEnv("AUTH_MODE", AuthOIDC),
		OIDCIssuerURL:    getEnv("OIDC_ISSUER_URL", ""),
		OIDCClientID:     getEnv("OIDC_CLIENT_ID", "zev-frontend"),
		OIDCClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:  getEnv("OIDC_REDIRECT_URL", "http://localhost:8080/auth/callback"),
		OIDCTenantClaim:  getEnv("OIDC_TENANT_CLAIM", "tenant"),
		DevTenant:        getEnv("DEV_TENANT", "dev"),

		SessionStore: getEnv("SESSION_STORE", SessionStoreSQLite),
		SessionTTL:   getEnvDuration("SESSION_TTL", 12*time.Hour),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/zev.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "zev"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "upload_jobs"),

		UploadMaxBytes:    getEnvInt64("UPLOAD_MAX_BYTES", 10<<20),
		UploadConcurrency: getEnvInt("UPLOAD_CONCURRENCY", 4),
		SyncBatchSize:     getEnvInt("SYNC_BATCH_SIZE", 10),
		SyncInterval:      getEnvDuration("SYNC_INTERVAL", 30*time.Second),

		TranslationCacheTTL: getEnvDuration("TRANSLATION_CACHE_TTL", 5*time.Minute),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
	}
}

// AMQPEnabled reports whether upload jobs go through the message broker.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// AuthEnabled reports whether requests must carry a Keycloak session.
func (c *Config) AuthEnabled() bool {
	return c.AuthMode != AuthNone
}

// SheetsExportEnabled reports whether the statistics screen offers the Google Sheets export.
func (c *Config) SheetsExportEnabled() bool {
	return c.GoogleSpreadsheetID != "" && (c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != "")
}

// NeedsSQLite reports whether any component keeps state in the SQLite file.
// Otherwise upload jobs live in an in-memory database for the process lifetime.
func (c *Config) NeedsSQLite() bool {
	return c.SessionStore == SessionStoreSQLite || c.AMQPEnabled()
}

// Validate validates the configuration and returns an error listing every problem found
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !slices.Contains([]string{BackendREST, BackendMemory}, c.BackendMode) {
		errs = append(errs, fmt.Sprintf("invalid backend mode '%s': must be one of [rest memory]", c.BackendMode))
	}
	if c.BackendMode == BackendREST {
		if u, err := url.Parse(c.BackendURL); err != nil || c.BackendURL == "" {
			errs = append(errs, fmt.Sprintf("invalid backend URL '%s'", c.BackendURL))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Sprintf("invalid backend URL scheme '%s': must be 'http' or 'https'", u.Scheme))
		}
	}
	if c.BackendTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("invalid backend timeout %v: must be positive", c.BackendTimeout))
	}

	switch c.AuthMode {
	case AuthOIDC:
		if c.OIDCIssuerURL == "" {
			errs = append(errs, "OIDC_ISSUER_URL is required when AUTH_MODE=oidc")
		}
		if c.OIDCClientID == "" {
			errs = append(errs, "OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
		}
		if _, err := url.ParseRequestURI(c.OIDCRedirectURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid OIDC redirect URL '%s'", c.OIDCRedirectURL))
		}
		if c.OIDCTenantClaim == "" {
			errs = append(errs, "OIDC_TENANT_CLAIM cannot be empty")
		}
	case AuthNone:
		if c.DevTenant == "" {
			errs = append(errs, "DEV_TENANT cannot be empty when AUTH_MODE=none")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid auth mode '%s': must be one of [oidc none]", c.AuthMode))
	}

	if !slices.Contains([]string{SessionStoreSQLite, SessionStoreMemory}, c.SessionStore) {
		errs = append(errs, fmt.Sprintf("invalid session store '%s': must be one of [sqlite memory]", c.SessionStore))
	}
	if c.SessionTTL < time.Minute {
		errs = append(errs, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}

	if c.NeedsSQLite() {
		if c.SQLiteDBPath == "" {
			errs = append(errs, "SQLite database path cannot be empty when sessions or upload jobs are persisted")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					errs = append(errs, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
		// the worker process reads the uploader's token from the sessions table
		if c.AuthEnabled() && c.SessionStore != SessionStoreSQLite {
			errs = append(errs, "SESSION_STORE must be 'sqlite' when AMQP_URL is set and AUTH_MODE=oidc")
		}
	}

	if c.UploadMaxBytes < 1024 {
		errs = append(errs, fmt.Sprintf("invalid upload max bytes %d: must be at least 1024", c.UploadMaxBytes))
	}
	if c.UploadConcurrency < 1 || c.UploadConcurrency > 32 {
		errs = append(errs, fmt.Sprintf("invalid upload concurrency %d: must be between 1 and 32", c.UploadConcurrency))
	}
	if c.SyncBatchSize < 1 {
		errs = append(errs, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errs = append(errs, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}
	if c.SyncInterval < time.Second {
		errs = append(errs, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}
	if c.TranslationCacheTTL < 0 {
		errs = append(errs, fmt.Sprintf("invalid translation cache TTL %v: must not be negative", c.TranslationCacheTTL))
	}

	if c.GoogleServiceAccountFile != "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}
	if c.GoogleSpreadsheetID != "" && c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
		errs = append(errs, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided with GOOGLE_SPREADSHEET_ID")
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.LogLevel)) {
		errs = append(errs, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
