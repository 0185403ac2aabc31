// Package logger builds the zap loggers used across helioscommit.
package logger

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the logging settings of a node.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn" or "error". Unknown values mean info.
	Level string `toml:"level"`
	// Format is "json" or "console".
	Format string `toml:"format"`
	// OutputFile is a path, or "stdout"/"stderr".
	OutputFile string `toml:"output_file"`
}

// New creates a zap.Logger for cfg. Every entry carries service=helioscommit.
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	out, err := writeSyncer(cfg.OutputFile)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoder(cfg.Format), out, level)
	return zap.New(core, zap.AddCaller()).With(zap.String("service", "helioscommit")), nil
}

func encoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	if strings.ToLower(format) == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func writeSyncer(output string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(output) {
	case "stdout", "":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	}
	file, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", output)
	}
	return zapcore.AddSync(file), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
