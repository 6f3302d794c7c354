// Package logging provides the structured logger used by every actor in
// the thermostat controller: the control engine, the sensor poller, the
// telemetry client, and the hardware backends.
package logging

import (
	"os"

	"go.uber.org/zap/zapcore"
)

// Config holds the configuration for the controller's logger.
type Config struct {
	Environment string // "production" or "development" (any other value becomes "development")
	LogLevel    string // "debug", "info", "warn", "error"
	JSONOutput  bool   // Use JSON output format
	StackTrace  bool   // Include stack traces for errors
}

// fromEnv determines logging configuration from environment variables.
func fromEnv() Config {
	cfg := Config{
		Environment: os.Getenv("ENVIRONMENT"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		JSONOutput:  os.Getenv("LOG_FORMAT") != "console",
		StackTrace:  os.Getenv("LOG_STACKTRACE") != "false",
	}

	switch cfg.Environment {
	case "production":
		if cfg.LogLevel == "" {
			cfg.LogLevel = "info"
		}
	default:
		cfg.Environment = "development"
		cfg.JSONOutput = false
		if cfg.LogLevel == "" {
			cfg.LogLevel = "debug"
		}
	}

	return cfg
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
