// Package config loads and holds the drawmill service configuration.
//
// Precedence, highest first: runtime overrides, environment variables
// (DRAWMILL_ prefix), config file, built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the drawmill service and CLI.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"store"`
	Index    IndexConfig    `mapstructure:"index"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Draw     DrawConfig     `mapstructure:"draw"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures the process loggers.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Profile selects output encoding: STRUCTURED forces JSON everywhere.
	Profile string `mapstructure:"profile"`
}

// StoreConfig configures the artifact store.
type StoreConfig struct {
	// Root is the store's root directory.
	Root string `mapstructure:"root"`

	// RetentionAge is the default age threshold for `store sweep`. Zero
	// means sweep considers rows of any age.
	RetentionAge time.Duration `mapstructure:"retention_age"`
}

// IndexConfig configures the optional SQLite artifact index.
type IndexConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Path is the database file; defaults to <store.root>/index/artifacts.db.
	Path string `mapstructure:"path"`
}

// PipelineConfig configures orchestrator concurrency and timeouts.
type PipelineConfig struct {
	Workers        int           `mapstructure:"workers"`
	OCRWorkers     int           `mapstructure:"ocr_workers"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	ConvertTimeout time.Duration `mapstructure:"convert_timeout"`
	RenderTimeout  time.Duration `mapstructure:"render_timeout"`
	OCRTimeout     time.Duration `mapstructure:"ocr_timeout"`
	SpawnRate      float64       `mapstructure:"spawn_rate"`
	WorkRoot       string        `mapstructure:"work_root"`
	KeepWork       bool          `mapstructure:"keep_work"`
}

// ToolsConfig locates and tunes the external conversion tools.
type ToolsConfig struct {
	Soffice   string `mapstructure:"soffice"`
	Pdftoppm  string `mapstructure:"pdftoppm"`
	Tesseract string `mapstructure:"tesseract"`

	// DPI is the page image render resolution.
	DPI int `mapstructure:"dpi"`

	// Languages is the tesseract language pack selector, e.g. "eng".
	Languages string `mapstructure:"languages"`

	// TSV also emits positional TSV alongside plain text.
	TSV bool `mapstructure:"tsv"`
}

// MirrorConfig configures the optional artifact mirror.
type MirrorConfig struct {
	// Backend is "s3", "file", or empty to disable mirroring.
	Backend string `mapstructure:"backend"`

	// BaseDir is the destination for the file backend.
	BaseDir string `mapstructure:"base_dir"`

	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// DrawConfig configures DD-2977 worksheet generation.
type DrawConfig struct {
	// Template is the path to the blank DD-Form-2977.pdf.
	Template string `mapstructure:"template"`
}
