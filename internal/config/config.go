package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// StaticDir is the absolute path to the directory served under /static/.
	// Set via STATIC_DIR (relative paths are resolved against the process working directory at startup).
	StaticDir string

	// AllowedOrigins lists the Origin values accepted on the websocket upgrade. "*" accepts any.
	AllowedOrigins []string

	// Persistence. Both DSN and Path empty disables the store.
	Driver          string
	DSN             string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogSQL          bool

	// External source. Both SourceURL and SourceStream are required to enable it.
	SourceURL      string
	SourceStream   string
	SourceClientID string

	ConnectTimeout      time.Duration
	SyntheticStartDelay time.Duration
	GeneratorInterval   time.Duration
}

// PersistenceEnabled reports whether a store location was configured.
func (c Config) PersistenceEnabled() bool {
	return c.DSN != "" || c.Path != ""
}

// SourceConfigured reports whether an external source was configured.
func (c Config) SourceConfigured() bool {
	return c.SourceURL != "" && c.SourceStream != ""
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr, err := resolveHTTPAddr()
	if err != nil {
		return Config{}, err
	}

	staticDir := strings.TrimSpace(os.Getenv("STATIC_DIR"))
	if staticDir == "" {
		staticDir = "static"
	}
	staticDir, err = filepath.Abs(staticDir)
	if err != nil {
		return Config{}, fmt.Errorf("STATIC_DIR %q: %w", staticDir, err)
	}

	origins := parseList(os.Getenv("WS_ALLOWED_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	driver := strings.TrimSpace(os.Getenv("DB_DRIVER"))
	if driver == "" {
		driver = "sqlite3"
	}
	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	path := strings.TrimSpace(os.Getenv("SQLITE_PATH"))

	maxOpenConnsStr := strings.TrimSpace(os.Getenv("DB_MAX_OPEN_CONNS"))
	if maxOpenConnsStr == "" {
		maxOpenConnsStr = "1"
	}
	maxOpenConns, err := strconv.Atoi(maxOpenConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS %q: %w", maxOpenConnsStr, err)
	}

	maxIdleConnsStr := strings.TrimSpace(os.Getenv("DB_MAX_IDLE_CONNS"))
	if maxIdleConnsStr == "" {
		maxIdleConnsStr = "1"
	}
	maxIdleConns, err := strconv.Atoi(maxIdleConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_IDLE_CONNS %q: %w", maxIdleConnsStr, err)
	}

	connMaxLifetime, err := parseDuration("DB_CONN_MAX_LIFETIME", "0s", false)
	if err != nil {
		return Config{}, err
	}

	logSQL, err := parseBool("DB_LOG_SQL", false)
	if err != nil {
		return Config{}, err
	}

	sourceURL := strings.TrimSpace(os.Getenv("SOURCE_URL"))
	sourceStream := strings.TrimSpace(os.Getenv("SOURCE_STREAM"))
	sourceClientID := strings.TrimSpace(os.Getenv("SOURCE_CLIENT_ID"))
	if sourceClientID == "" {
		sourceClientID = "weatherlive"
	}

	connectTimeout, err := parseDuration("SOURCE_CONNECT_TIMEOUT", "10s", true)
	if err != nil {
		return Config{}, err
	}
	syntheticStartDelay, err := parseDuration("SYNTHETIC_START_DELAY", "1s", false)
	if err != nil {
		return Config{}, err
	}
	generatorInterval, err := parseDuration("GENERATOR_INTERVAL", "3s", true)
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:              appEnv,
		LogLevel:            level,
		HTTPAddr:            httpAddr,
		StaticDir:           staticDir,
		AllowedOrigins:      origins,
		Driver:              driver,
		DSN:                 dsn,
		Path:                path,
		MaxOpenConns:        maxOpenConns,
		MaxIdleConns:        maxIdleConns,
		ConnMaxLifetime:     connMaxLifetime,
		LogSQL:              logSQL,
		SourceURL:           sourceURL,
		SourceStream:        sourceStream,
		SourceClientID:      sourceClientID,
		ConnectTimeout:      connectTimeout,
		SyntheticStartDelay: syntheticStartDelay,
		GeneratorInterval:   generatorInterval,
	}, nil
}

// resolveHTTPAddr prefers HTTP_ADDR, then PORT, then :3000.
func resolveHTTPAddr() (string, error) {
	if addr := strings.TrimSpace(os.Getenv("HTTP_ADDR")); addr != "" {
		return addr, nil
	}
	portStr := strings.TrimSpace(os.Getenv("PORT"))
	if portStr == "" {
		return ":3000", nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("invalid PORT %q: %w", portStr, err)
	}
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("PORT must be in 1..65535, got %d", port)
	}
	return ":" + strconv.Itoa(port), nil
}

func parseDuration(key, def string, positive bool) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		s = def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if positive && d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %v", key, d)
	}
	return d, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
