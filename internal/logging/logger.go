package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log bundles the process logger with its adjustable level.
type Log struct {
	Base   *zap.Logger
	Level  zap.AtomicLevel
	Closer func()
}

// ParseLevel maps LOG_LEVEL onto a zap level. Unknown names give info.
func ParseLevel(name string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Init builds the logger of one binary. Production envs get JSON output;
// every line carries the service name and build version.
func Init(level, env, service, version string) (*Log, error) {
	cfg := config(env)
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	base, err := cfg.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, err
	}
	base = base.With(zap.String("service", service), zap.String("version", version))
	return &Log{
		Base:   base,
		Level:  cfg.Level,
		Closer: func() { _ = base.Sync() },
	}, nil
}

func config(env string) zap.Config {
	var cfg zap.Config
	switch strings.ToLower(env) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// Component returns a child logger for one part of the process.
func (l *Log) Component(name string) *zap.Logger {
	return l.Base.Named(name)
}
