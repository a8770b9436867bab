// Package observability provides the process-wide zap loggers.
//
// Two loggers exist because the two surfaces have different readers:
// CLILogger writes human-oriented console output for terminal commands,
// ServerLogger writes structured JSON for log aggregation.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger for command-line surfaces. Console encoding,
// warnings and errors to stderr.
var CLILogger = newCLILogger(zapcore.InfoLevel)

// ServerLogger is the logger for the HTTP service. JSON encoding.
var ServerLogger = newServerLogger(zapcore.InfoLevel)

// Init reconfigures both loggers for the given level and profile.
//
// Profile "STRUCTURED" forces JSON output on both loggers; anything else
// keeps console output for the CLI. Unknown levels fall back to info.
func Init(level, profile string) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	ServerLogger = newServerLogger(lvl)
	if strings.EqualFold(profile, "STRUCTURED") {
		CLILogger = newServerLogger(lvl)
	} else {
		CLILogger = newCLILogger(lvl)
	}
}

// Sync flushes buffered log entries. Called on process exit.
func Sync() {
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
}

func newCLILogger(lvl zapcore.Level) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		lvl,
	)
	return zap.New(core)
}

func newServerLogger(lvl zapcore.Level) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		lvl,
	)
	return zap.New(core, zap.AddCaller())
}
