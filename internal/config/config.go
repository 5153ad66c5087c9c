// Package config handles loading application configuration from a YAML file
// with environment variable overrides.
//
// Config file format (gallery.yaml):
//
//	listen_addr: ":8080"
//	db_path: "./data/gallery.db"
//	uploads_dir: "./uploads"
//	admin_password: "change-me"
//
// Configuration sources, in increasing priority order:
//  1. Built-in defaults
//  2. YAML config file (located by FindConfigFile or explicit path)
//  3. A .env file in the working directory (never overrides the real environment)
//  4. Environment variables (GALLERY_LISTEN_ADDR, GALLERY_DB_PATH, ...)
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "GALLERY_"

// Config holds all application configuration.
type Config struct {
	// ListenAddr is the TCP address for the HTTP server (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`

	// UploadsDir is the root under which category folders are created and
	// from which image URLs are derived.
	UploadsDir string `yaml:"uploads_dir"`

	// DefaultCategory names the non-deletable category seeded at startup.
	DefaultCategory string `yaml:"default_category"`

	// AdminUsername and AdminPassword seed the admin account on first
	// start. An existing account keeps its password.
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`

	// FallbackAsset is an image file served when a requested image cannot
	// be resolved. Empty uses the built-in placeholder.
	FallbackAsset string `yaml:"fallback_asset"`

	// MaxUploadMB limits the size of one upload request.
	MaxUploadMB int `yaml:"max_upload_mb"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is text or json.
	LogFormat string `yaml:"log_format"`

	// ShutdownTimeoutStr is a duration string such as "10s". Parsed into
	// ShutdownTimeout by Load().
	ShutdownTimeoutStr string `yaml:"shutdown_timeout"`

	ShutdownTimeout time.Duration `yaml:"-"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		DBPath:             "./data/gallery.db",
		UploadsDir:         "./uploads",
		DefaultCategory:    "default",
		AdminUsername:      "admin",
		AdminPassword:      "admin",
		MaxUploadMB:        64,
		LogLevel:           "info",
		LogFormat:          "text",
		ShutdownTimeoutStr: "10s",
		ShutdownTimeout:    10 * time.Second,
	}
}

// Load reads configuration from the YAML file at path (if non-empty), then
// applies .env and environment variable overrides on top. If path is
// empty, only defaults and the environment are applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	// godotenv.Load leaves variables that are already set untouched.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	strVars := map[string]*string{
		"LISTEN_ADDR":      &cfg.ListenAddr,
		"DB_PATH":          &cfg.DBPath,
		"UPLOADS_DIR":      &cfg.UploadsDir,
		"DEFAULT_CATEGORY": &cfg.DefaultCategory,
		"ADMIN_USERNAME":   &cfg.AdminUsername,
		"ADMIN_PASSWORD":   &cfg.AdminPassword,
		"FALLBACK_ASSET":   &cfg.FallbackAsset,
		"LOG_LEVEL":        &cfg.LogLevel,
		"LOG_FORMAT":       &cfg.LogFormat,
		"SHUTDOWN_TIMEOUT": &cfg.ShutdownTimeoutStr,
	}
	for name, dst := range strVars {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv(EnvPrefix + "MAX_UPLOAD_MB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%sMAX_UPLOAD_MB: %w", EnvPrefix, err)
		}
		cfg.MaxUploadMB = n
	}

	if cfg.ShutdownTimeoutStr != "" {
		d, err := time.ParseDuration(cfg.ShutdownTimeoutStr)
		if err != nil {
			return cfg, fmt.Errorf("shutdown_timeout %q: %w", cfg.ShutdownTimeoutStr, err)
		}
		cfg.ShutdownTimeout = d
	}

	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return errors.New("listen_addr must not be empty")
	case c.DBPath == "":
		return errors.New("db_path must not be empty")
	case c.UploadsDir == "":
		return errors.New("uploads_dir must not be empty")
	case strings.TrimSpace(c.DefaultCategory) == "":
		return errors.New("default_category must not be empty")
	case strings.ContainsAny(c.DefaultCategory, `/\`) || c.DefaultCategory == "." || c.DefaultCategory == "..":
		return fmt.Errorf("default_category %q must be a plain folder name", c.DefaultCategory)
	case c.AdminUsername != "" && c.AdminPassword == "":
		return errors.New("admin_password must be set when admin_username is set")
	case c.MaxUploadMB <= 0:
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	case c.ShutdownTimeout < 0:
		return fmt.Errorf("shutdown_timeout must not be negative, got %s", c.ShutdownTimeout)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return nil
}

// NewLogger builds the application logger from LogLevel and LogFormat and
// installs it as the slog default.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(c.LogFormat, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// MaxUploadBytes returns MaxUploadMB in bytes.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// FindConfigFile returns the path to the first config file found in the
// standard search order, or "" if none is found.
//
// Search order:
//  1. GALLERY_CONFIG environment variable (explicit override)
//  2. ./gallery.yaml (current working directory)
//  3. ~/.config/nxt-gallery/config.yaml (XDG user config)
func FindConfigFile() string {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("gallery.yaml"); err == nil {
		return "gallery.yaml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "nxt-gallery", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
