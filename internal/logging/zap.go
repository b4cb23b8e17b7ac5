package logging

import (
	"go.uber.org/zap"
)

// ZapLogger adapts *zap.SugaredLogger to the Logger interface, the same role
// ZapWithTraceLogger plays over otelzap in the ledger component: a thin
// wrapper so call sites never import zap directly.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a production zap logger at the given level name
// ("debug", "info", "warn", "error"). An unrecognized level falls back to
// info.
func NewZapLogger(level string) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()

	var zl zap.AtomicLevel

	switch level {
	case "debug":
		zl = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zl = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zl = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg.Level = zl

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &ZapLogger{sugar: logger.Sugar()}, nil
}

func (l *ZapLogger) Info(args ...any)                  { l.sugar.Info(args...) }
func (l *ZapLogger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *ZapLogger) Error(args ...any)                 { l.sugar.Error(args...) }
func (l *ZapLogger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }
func (l *ZapLogger) Warn(args ...any)                  { l.sugar.Warn(args...) }
func (l *ZapLogger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *ZapLogger) Debug(args ...any)                 { l.sugar.Debug(args...) }
func (l *ZapLogger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *ZapLogger) Sync() error                       { return l.sugar.Sync() }

// WithFields returns a new logger carrying the given key/value pairs on
// every subsequent record.
func (l *ZapLogger) WithFields(fields ...any) Logger {
	return &ZapLogger{sugar: l.sugar.With(fields...)}
}
