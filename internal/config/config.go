package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultAPIBaseURL   = "https://api.planningcenteronline.com"
	DefaultRedirectURI  = "http://localhost:3000/callback"
	DefaultScopes       = "people services"
	DefaultServiceName  = "pcanalytics"
	DefaultSyncInterval = "15"
)

type Config struct{ v *viper.Viper }

func New() *Config {
	vv := viper.New()
	vv.AutomaticEnv()
	return &Config{v: vv}
}

// SetConfigFile reads settings from path. Environment variables still take precedence.
func (c *Config) SetConfigFile(path string) error {
	c.v.SetConfigFile(path)
	if err := c.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// HasDsn reports whether durable storage was configured through DSN or PG* env vars.
func (c *Config) HasDsn() bool {
	for _, k := range []string{"DSN", "PGHOST", "PGDATABASE", "PGUSER"} {
		if c.v.GetString(k) != "" {
			return true
		}
	}
	return false
}

// GetDsn resolves the final DSN using env vars
func (c *Config) GetDsn() (*url.URL, error) {
	source := c.v.GetString("DSN")
	if source == "" {
		user := c.v.GetString("PGUSER")
		if user == "" {
			user = c.v.GetString("USER")
		}
		if user == "" {
			user = "postgres"
		}

		dbName := c.v.GetString("PGDATABASE")
		if dbName == "" {
			dbName = "postgres"
		}

		host := c.v.GetString("PGHOST")
		if host == "" {
			host = "localhost"
		}

		port := c.v.GetString("PGPORT")
		hasPortEnv := port != ""
		if !hasPortEnv {
			port = "5432"
		}

		if strings.HasPrefix(host, "/") {
			socketDir := host

			// If PGHOST points to a file, derive directory and only infer port when PGPORT isn't set.
			if fi, err := os.Stat(host); err == nil && !fi.IsDir() {
				socketDir = filepath.Dir(host)
				if !hasPortEnv {
					base := filepath.Base(host)
					// Expected filename pattern: ".s.PGSQL.<port>"
					if inferred, ok := strings.CutPrefix(base, ".s.PGSQL."); ok && inferred != "" {
						if _, err := strconv.Atoi(inferred); err == nil {
							port = inferred
						}
					}
				}
			}

			q := url.Values{}
			q.Set("host", socketDir)
			q.Set("port", port)
			q.Set("sslmode", "disable")
			source = "postgres://" + user + "@/" + dbName + "?" + q.Encode()
		} else {
			source = "postgres://" + user + "@" + host + ":" + port + "/" + dbName + "?sslmode=disable"
		}
	}

	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" {
		return nil, errors.New("invalid DSN: must be in format driver://dataSourceName")
	}
	return u, nil
}

// GetClientID returns the Planning Center OAuth application id.
func (c *Config) GetClientID() string { return c.v.GetString("PLANNING_CENTER_APP_ID") }

// GetClientSecret returns the Planning Center OAuth application secret.
func (c *Config) GetClientSecret() string { return c.v.GetString("PLANNING_CENTER_SECRET") }

// GetRedirectURI returns the OAuth callback registered for this deployment.
func (c *Config) GetRedirectURI() string {
	if v := c.v.GetString("PLANNING_CENTER_REDIRECT_URI"); v != "" {
		return v
	}
	return DefaultRedirectURI
}

// GetAPIBaseURL returns the Planning Center API root, without a trailing slash.
func (c *Config) GetAPIBaseURL() string {
	if v := c.v.GetString("PLANNING_CENTER_API_BASE_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return DefaultAPIBaseURL
}

// GetScopes returns the OAuth scopes; PLANNING_CENTER_SCOPES is space separated.
func (c *Config) GetScopes() []string {
	v := c.v.GetString("PLANNING_CENTER_SCOPES")
	if v == "" {
		v = DefaultScopes
	}
	return strings.Fields(v)
}

// GetRequestTimeout returns the per-request timeout for provider calls.
// Reads duration from env var REQUEST_TIMEOUT; defaults to 30s.
func (c *Config) GetRequestTimeout() time.Duration {
	const def = 30 * time.Second
	if v := c.v.GetString("REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func (c *Config) GetRateLimitDisabled() bool { return c.v.GetBool("API_RATE_LIMIT_DISABLED") }

// GetSyncInterval returns the default sync interval in minutes, as stored in preferences.
func (c *Config) GetSyncInterval() string {
	v := c.v.GetString("SYNC_INTERVAL")
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return v
	}
	return DefaultSyncInterval
}

func (c *Config) GetAddr() string {
	port := c.v.GetString("PORT")
	if port == "" {
		port = "8080"
	}
	host := c.v.GetString("HOST")
	if host == "" {
		host = "localhost"
	}
	return host + ":" + port
}

func (c *Config) GetServiceName() string {
	if v := c.v.GetString("OTEL_SERVICE_NAME"); v != "" {
		return v
	}
	return DefaultServiceName
}

// TelemetryEnabled reports whether an OTLP endpoint is configured.
func (c *Config) TelemetryEnabled() bool {
	return c.v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT") != "" ||
		c.v.GetString("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") != ""
}

func (c *Config) Set(key string, value any) { c.v.Set(key, value) }

// GetLogLevel returns the log level from env var LOG_LEVEL mapped to slog.Level.
// Recognized values: debug, info (default), warn|warning, error.
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToLower(c.v.GetString("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OnLogLevelChange calls fn with the slog.Level whenever it changes.
// The initial call is made immediately.
func (c *Config) OnLogLevelChange(fn func(slog.Level)) {
	apply := func() { fn(c.GetLogLevel()) }
	apply()
	c.v.OnConfigChange(func(e fsnotify.Event) { apply() })
}

// Watch reloads the config file on change and notifies OnLogLevelChange
// subscribers. It does nothing when no config file was set.
func (c *Config) Watch() {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.WatchConfig()
}
