package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const DEFAULT_MAX_SIZE_MB = 1
const DEFAULT_MAX_BACKUPS = 2

// Rotation limits the log file. Zero fields take the defaults.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
}

// NewLogger writes JSON entries to the file at path, rotated once it grows
// past rotation.MaxSizeMB, and console formatted entries to stdout. An empty
// path logs to stdout only; an empty level means info.
func NewLogger(path string, level string, rotation Rotation) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zapcore.ParseLevel(level); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stdout), lvl),
	}

	if path != "" {
		if rotation.MaxSizeMB <= 0 {
			rotation.MaxSizeMB = DEFAULT_MAX_SIZE_MB
		}
		if rotation.MaxBackups <= 0 {
			rotation.MaxBackups = DEFAULT_MAX_BACKUPS
		}
		file := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    rotation.MaxSizeMB,
			MaxBackups: rotation.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), lvl))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
