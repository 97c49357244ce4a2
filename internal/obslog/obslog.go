// Package obslog is the structured operational logger behind LOG_LEVEL and
// the `logs` CLI subcommand. It is distinct from internal/logbook's
// human-narrative trail: obslog carries correlation ids and
// stage/work-order fields so `logs --agent <id> --level <level>` is a
// field filter over a shared zap sink.
package obslog

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.Logger with the correlation/stage/work-order fields
// this package's callers attach on every line.
type Logger struct {
	zap *zap.Logger
}

// New builds a Logger writing structured JSON lines to logPath, optionally
// teeing a human-readable console encoding to console (nil disables the
// tee; the CLI passes os.Stderr when running interactively, nil for
// background/worker invocations). level follows the LOG_LEVEL env var:
// debug|info|warn|error, default info.
func New(level, logPath string, console zapcore.WriteSyncer) (*Logger, error) {
	atomicLevel := zap.NewAtomicLevelAt(parseLevel(level))

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	fileSink, _, err := zap.Open(logPath)
	if err != nil {
		return nil, err
	}
	cores := []zapcore.Core{zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), fileSink, atomicLevel)}
	if console != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(console), atomicLevel))
	}
	return &Logger{zap: zap.New(zapcore.NewTee(cores...))}, nil
}

// NewNop builds a Logger that discards everything (tests, dry runs).
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync flushes buffered log entries; callers should defer it after New.
func (l *Logger) Sync() { _ = l.zap.Sync() }

// With returns a child Logger carrying the given correlation id, stage,
// and work-order fields on every subsequent line.
func (l *Logger) With(correlationID, stage, workOrderID, agentRole string) *Logger {
	fields := make([]zap.Field, 0, 4)
	if correlationID != "" {
		fields = append(fields, zap.String("correlation_id", correlationID))
	}
	if stage != "" {
		fields = append(fields, zap.String("stage", stage))
	}
	if workOrderID != "" {
		fields = append(fields, zap.String("work_order_id", workOrderID))
	}
	if agentRole != "" {
		fields = append(fields, zap.String("agent", agentRole))
	}
	return &Logger{zap: l.zap.With(fields...)}
}

// String re-exports zap.String so callers don't need a zap import for the
// common case of one-off string fields.
func String(key, value string) zap.Field { return zap.String(key, value) }

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }
