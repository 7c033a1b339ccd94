package logs

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level constants enumerate the vocabulary CHAOS_LOG_LEVEL and the
// --log-level flag accept.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// SetupLogger builds a console zap.Logger, plus a tee'd JSON file core when
// logFile is non-empty. There is no log rotation here: the one file this
// process writes continuously (the structured proxy log) already has its
// own bounded async writer in internal/proxy.LogWriter.
func SetupLogger(level, logFile string) (*zap.Logger, error) {
	var zl zapcore.Level
	switch level {
	case LevelDebug:
		zl = zap.DebugLevel
	case LevelWarn:
		zl = zap.WarnLevel
	case LevelError:
		zl = zap.ErrorLevel
	default:
		zl = zap.InfoLevel
	}

	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), zl)}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		jsonEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(f), zl))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
