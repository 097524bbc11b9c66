// Package wlog is the worker's structured logger: a thin wrapper over
// zap adding a Trace level below Debug, adapted from
// replicate-cog/coglet/internal/logging/logger.go for the worker process
// (same env vars, same level below Debug, same development/production
// format switch).
package wlog

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below zap's Debug level (-1).
const TraceLevel = zapcore.Level(-8)

// Logger wraps *zap.Logger to add Trace/Tracew.
type Logger struct {
	*zap.Logger
}

// New builds a Logger named name, configured from LOG_FORMAT,
// COG_LOG_LEVEL/LOG_LEVEL, and LOG_FILE environment variables.
func New(name string) *Logger {
	var cfg zap.Config
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "development") || strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = customColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeLevel = customLowercaseLevelEncoder
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"

	if level := parseLevel(); level != nil {
		cfg.Level = zap.NewAtomicLevelAt(*level)
	}

	if path := os.Getenv("LOG_FILE"); path != "" {
		cfg.OutputPaths = []string{path}
	}

	base, err := cfg.Build()
	if err != nil {
		base = zap.NewExample()
	}
	return &Logger{base.Named(name)}
}

func parseLevel() *zapcore.Level {
	raw := os.Getenv("COG_LOG_LEVEL")
	if raw == "" {
		raw = os.Getenv("LOG_LEVEL")
	}
	if raw == "" {
		return nil
	}
	if strings.EqualFold(raw, "trace") {
		l := TraceLevel
		return &l
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
		return nil
	}
	return &l
}

func customLowercaseLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if level == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(level, enc)
}

func customColorLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if level == TraceLevel {
		enc.AppendString("\x1b[35mTRACE\x1b[0m")
		return
	}
	zapcore.CapitalColorLevelEncoder(level, enc)
}

// Trace logs at TraceLevel.
func (l *Logger) Trace(msg string, fields ...zap.Field) {
	if ce := l.Check(TraceLevel, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Named returns a Logger with name appended to the logger's name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

// SugaredLogger wraps zap.SugaredLogger with Tracew.
type SugaredLogger struct {
	*zap.SugaredLogger
}

// Sugar returns a SugaredLogger view of l.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{l.Logger.Sugar()}
}

// Tracew logs at TraceLevel with structured key/value pairs.
func (s *SugaredLogger) Tracew(msg string, keysAndValues ...any) {
	if ce := s.SugaredLogger.Desugar().Check(TraceLevel, msg); ce != nil {
		ce.Write(sweetenFields(keysAndValues)...)
	}
}

func sweetenFields(keysAndValues []any) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, _ := keysAndValues[i].(string)
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
