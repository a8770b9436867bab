package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const envPrefix = "DRAWMILL"

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// envBindings maps config keys to their flat environment variable names.
// DRAWMILL_PORT reads more naturally than DRAWMILL_SERVER_PORT for the
// handful of knobs operators actually set.
var envBindings = map[string]string{
	"server.host":             "DRAWMILL_HOST",
	"server.port":             "DRAWMILL_PORT",
	"server.read_timeout":     "DRAWMILL_READ_TIMEOUT",
	"server.write_timeout":    "DRAWMILL_WRITE_TIMEOUT",
	"server.idle_timeout":     "DRAWMILL_IDLE_TIMEOUT",
	"server.shutdown_timeout": "DRAWMILL_SHUTDOWN_TIMEOUT",

	"logging.level":   "DRAWMILL_LOG_LEVEL",
	"logging.profile": "DRAWMILL_LOG_PROFILE",

	"store.root":          "DRAWMILL_STORE_ROOT",
	"store.retention_age": "DRAWMILL_RETENTION_AGE",

	"index.enabled": "DRAWMILL_INDEX_ENABLED",
	"index.path":    "DRAWMILL_INDEX_PATH",

	"pipeline.workers":          "DRAWMILL_WORKERS",
	"pipeline.ocr_workers":      "DRAWMILL_OCR_WORKERS",
	"pipeline.queue_depth":      "DRAWMILL_QUEUE_DEPTH",
	"pipeline.max_upload_bytes": "DRAWMILL_MAX_UPLOAD_BYTES",
	"pipeline.convert_timeout":  "DRAWMILL_CONVERT_TIMEOUT",
	"pipeline.render_timeout":   "DRAWMILL_RENDER_TIMEOUT",
	"pipeline.ocr_timeout":      "DRAWMILL_OCR_TIMEOUT",
	"pipeline.spawn_rate":       "DRAWMILL_SPAWN_RATE",
	"pipeline.work_root":        "DRAWMILL_WORK_ROOT",
	"pipeline.keep_work":        "DRAWMILL_KEEP_WORK",

	"tools.soffice":   "DRAWMILL_SOFFICE",
	"tools.pdftoppm":  "DRAWMILL_PDFTOPPM",
	"tools.tesseract": "DRAWMILL_TESSERACT",
	"tools.dpi":       "DRAWMILL_DPI",
	"tools.languages": "DRAWMILL_OCR_LANGUAGES",
	"tools.tsv":       "DRAWMILL_OCR_TSV",

	"mirror.backend":          "DRAWMILL_MIRROR_BACKEND",
	"mirror.base_dir":         "DRAWMILL_MIRROR_BASE_DIR",
	"mirror.bucket":           "DRAWMILL_MIRROR_BUCKET",
	"mirror.prefix":           "DRAWMILL_MIRROR_PREFIX",
	"mirror.region":           "DRAWMILL_MIRROR_REGION",
	"mirror.endpoint":         "DRAWMILL_MIRROR_ENDPOINT",
	"mirror.profile":          "DRAWMILL_MIRROR_PROFILE",
	"mirror.force_path_style": "DRAWMILL_MIRROR_FORCE_PATH_STYLE",

	"draw.template": "DRAWMILL_DRAW_TEMPLATE",
}

// Load builds the configuration and stores it for GetConfig. Precedence,
// highest first: runtime overrides, environment, config file, defaults.
func Load(_ context.Context, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	v.SetConfigName("drawmill")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/drawmill")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Runtime overrides go through Set so they outrank environment values.
	for _, override := range overrides {
		for key, value := range flattenOverrides("", override) {
			v.Set(key, value)
		}
	}

	cfg := &Config{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()

	return cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil if Load
// has not been called.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// flattenOverrides converts nested override maps into dotted viper keys,
// e.g. {"server": {"port": 9000}} becomes {"server.port": 9000}.
func flattenOverrides(prefix string, in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for k, v := range flattenOverrides(full, nested) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("store.root", "./data")
	v.SetDefault("store.retention_age", 0)

	v.SetDefault("index.enabled", true)
	v.SetDefault("index.path", "")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.ocr_workers", 4)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.max_upload_bytes", int64(100*1024*1024))
	v.SetDefault("pipeline.convert_timeout", "120s")
	v.SetDefault("pipeline.render_timeout", "60s")
	v.SetDefault("pipeline.ocr_timeout", "60s")
	v.SetDefault("pipeline.spawn_rate", 10.0)
	v.SetDefault("pipeline.work_root", "")
	v.SetDefault("pipeline.keep_work", false)

	v.SetDefault("tools.soffice", "soffice")
	v.SetDefault("tools.pdftoppm", "pdftoppm")
	v.SetDefault("tools.tesseract", "tesseract")
	v.SetDefault("tools.dpi", 300)
	v.SetDefault("tools.languages", "eng")
	v.SetDefault("tools.tsv", false)

	v.SetDefault("mirror.backend", "")
	v.SetDefault("mirror.base_dir", "")
	v.SetDefault("mirror.bucket", "")
	v.SetDefault("mirror.prefix", "")
	v.SetDefault("mirror.region", "")
	v.SetDefault("mirror.endpoint", "")
	v.SetDefault("mirror.profile", "")
	v.SetDefault("mirror.force_path_style", false)

	v.SetDefault("draw.template", "")
}
