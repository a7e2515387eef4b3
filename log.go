package quizapp

import (
	"strings"

	"go.uber.org/zap"
)

var logger = zap.NewNop().Sugar()

// NewLogger builds a zap logger. Mode "prod" gives JSON output, anything else the
// console development encoder.
func NewLogger(mode string, verbose bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// SetLogger replaces the package logger
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	logger = l
}

// Logger returns the package logger
func Logger() *zap.SugaredLogger {
	return logger
}

// SetVerbose installs a development logger, at debug level when verbose is set
func SetVerbose(verbose bool) {
	l, err := NewLogger("dev", verbose)
	if err != nil {
		return
	}
	logger = l
}

// VerboseLog logs only when verbose mode is enabled
func VerboseLog(format string, v ...interface{}) {
	logger.Debugf(format, v...)
}
