package logging

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger configured from the environment. Every
// goroutine-owning actor (poller, engine, telemetry client, hardware
// backend) should derive its own named child via Named rather than
// constructing a second root logger.
func New() (*zap.Logger, error) {
	cfg := fromEnv()
	encConfig := encoderConfig()

	var encoder zapcore.Encoder
	if cfg.JSONOutput {
		encoder = zapcore.NewJSONEncoder(encConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), parseLevel(cfg.LogLevel))

	logger := zap.New(core, zap.AddCaller())
	if cfg.StackTrace {
		logger = logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger = logger.With(
		zap.String("environment", cfg.Environment),
		zap.String("app", "thermostatd"),
		zap.Time("boot_time", time.Now().UTC()),
	)

	return logger, nil
}

// NewNop returns a logger that discards everything, for tests that don't
// care about log output.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
