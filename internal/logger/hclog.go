package logger

import (
	"fmt"
	"io"
	"log"

	"github.com/hashicorp/go-hclog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

// HCLog adapts a zap.Logger to hclog.Logger so raft logs through the node's logger.
type HCLog struct {
	logger *zap.Logger
	name   string
	level  zap.AtomicLevel
}

var _ hclog.Logger = (*HCLog)(nil)

// NewHCLog wraps l. The adapter starts at debug when l has debug enabled and at info otherwise.
func NewHCLog(l *zap.Logger) *HCLog {
	initial := zap.InfoLevel
	if l.Core().Enabled(zap.DebugLevel) {
		initial = zap.DebugLevel
	}
	return &HCLog{logger: l, level: zap.NewAtomicLevelAt(initial)}
}

func (h *HCLog) Log(level hclog.Level, msg string, args ...interface{}) {
	switch level {
	case hclog.Trace, hclog.Debug:
		h.log(zap.DebugLevel, msg, args)
	case hclog.Warn:
		h.log(zap.WarnLevel, msg, args)
	case hclog.Error:
		h.log(zap.ErrorLevel, msg, args)
	case hclog.Off:
	default:
		h.log(zap.InfoLevel, msg, args)
	}
}

func (h *HCLog) Trace(msg string, args ...interface{}) { h.log(zap.DebugLevel, msg, args) }
func (h *HCLog) Debug(msg string, args ...interface{}) { h.log(zap.DebugLevel, msg, args) }
func (h *HCLog) Info(msg string, args ...interface{})  { h.log(zap.InfoLevel, msg, args) }
func (h *HCLog) Warn(msg string, args ...interface{})  { h.log(zap.WarnLevel, msg, args) }
func (h *HCLog) Error(msg string, args ...interface{}) { h.log(zap.ErrorLevel, msg, args) }

func (h *HCLog) log(level zapcore.Level, msg string, args []interface{}) {
	if !h.level.Enabled(level) {
		return
	}
	if ce := h.logger.Check(level, msg); ce != nil {
		ce.Write(fields(args)...)
	}
}

func (h *HCLog) IsTrace() bool { return h.level.Enabled(zap.DebugLevel) }
func (h *HCLog) IsDebug() bool { return h.level.Enabled(zap.DebugLevel) }
func (h *HCLog) IsInfo() bool  { return h.level.Enabled(zap.InfoLevel) }
func (h *HCLog) IsWarn() bool  { return h.level.Enabled(zap.WarnLevel) }
func (h *HCLog) IsError() bool { return h.level.Enabled(zap.ErrorLevel) }

func (h *HCLog) ImpliedArgs() []interface{} { return nil }

func (h *HCLog) With(args ...interface{}) hclog.Logger {
	return &HCLog{logger: h.logger.With(fields(args)...), name: h.name, level: h.level}
}

func (h *HCLog) Name() string { return h.name }

func (h *HCLog) Named(name string) hclog.Logger {
	full := name
	if h.name != "" {
		full = h.name + "." + name
	}
	return &HCLog{logger: h.logger.Named(name), name: full, level: h.level}
}

func (h *HCLog) ResetNamed(name string) hclog.Logger {
	return &HCLog{logger: h.logger.Named(name), name: name, level: h.level}
}

func (h *HCLog) GetLevel() hclog.Level {
	switch h.level.Level() {
	case zapcore.DebugLevel:
		return hclog.Debug
	case zapcore.InfoLevel:
		return hclog.Info
	case zapcore.WarnLevel:
		return hclog.Warn
	case zapcore.ErrorLevel:
		return hclog.Error
	}
	return hclog.NoLevel
}

func (h *HCLog) SetLevel(level hclog.Level) {
	switch level {
	case hclog.Trace, hclog.Debug:
		h.level.SetLevel(zap.DebugLevel)
	case hclog.Warn:
		h.level.SetLevel(zap.WarnLevel)
	case hclog.Error:
		h.level.SetLevel(zap.ErrorLevel)
	default:
		h.level.SetLevel(zap.InfoLevel)
	}
}

func (h *HCLog) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(h.StandardWriter(opts), "", 0)
}

func (h *HCLog) StandardWriter(*hclog.StandardLoggerOptions) io.Writer {
	return &zapio.Writer{Log: h.logger, Level: zap.InfoLevel}
}

// fields turns hclog key/value pairs into zap fields.
func fields(args []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("arg%d", i)
		}
		if i+1 >= len(args) {
			out = append(out, zap.Any(key, "(missing)"))
			break
		}
		out = append(out, zap.Any(key, args[i+1]))
	}
	return out
}
