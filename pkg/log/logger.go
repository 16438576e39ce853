package log

import (
	"fmt"
	stdlog "log"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes structured logs to stderr as either JSON or console output.
//
// Each record has a 'subsystem' field naming the component that logged it,
// such as 'gossip' or 'admin'. Records below the configured level are
// dropped unless their subsystem is enabled, so a single component can be
// debugged without enabling debug logs everywhere.
type Logger interface {
	Subsystem() string
	// WithSubsystem creates a new logger with the given subsystem, keeping
	// any fields added with With.
	WithSubsystem(s string) Logger
	With(fields ...zap.Field) Logger
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Sync() error
	// StdLogger returns a standard library log.Logger that writes records
	// at the given level, such as for http.Server.ErrorLog.
	StdLogger(level zapcore.Level) *stdlog.Logger
}

type logger struct {
	// unnamed has the fields but no subsystem, so WithSubsystem can rename
	// without nesting names.
	unnamed *zap.Logger
	named   *zap.Logger

	subsystem string
}

// NewLogger creates a new logger writing to stderr, filtering using the
// configured log level and enabled subsystems.
func NewLogger(conf *Config) (Logger, error) {
	sink, _, err := zap.Open("stderr")
	if err != nil {
		return nil, fmt.Errorf("open sink: %w", err)
	}
	return newLogger(conf, sink)
}

func newLogger(conf *Config, sink zapcore.WriteSyncer) (*logger, error) {
	level, err := zapLevelFromString(conf.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	// The zap logger name is the subsystem.
	encoderConfig.NameKey = "subsystem"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(
		"2006-01-02T15:04:05.999Z07:00",
	)

	var enc zapcore.Encoder
	switch conf.Format {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unsupported format: %s", conf.Format)
	}

	core := &subsystemCore{
		// Filtering is done by subsystemCore so the inner core accepts
		// every level.
		Core:       zapcore.NewCore(enc, sink, zapcore.DebugLevel),
		level:      level,
		subsystems: conf.Subsystems,
	}
	unnamed := zap.New(core, zap.ErrorOutput(zapcore.Lock(sink)))
	return &logger{
		unnamed:   unnamed,
		named:     unnamed.Named("main"),
		subsystem: "main",
	}, nil
}

// NewNopLogger returns a logger that discards all records.
func NewNopLogger() Logger {
	return &logger{
		unnamed: zap.NewNop(),
		named:   zap.NewNop(),
	}
}

func (l *logger) Subsystem() string {
	return l.subsystem
}

func (l *logger) WithSubsystem(s string) Logger {
	if s == l.subsystem {
		return l
	}
	return &logger{
		unnamed:   l.unnamed,
		named:     l.unnamed.Named(s),
		subsystem: s,
	}
}

func (l *logger) With(fields ...zap.Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &logger{
		unnamed:   l.unnamed.With(fields...),
		named:     l.named.With(fields...),
		subsystem: l.subsystem,
	}
}

func (l *logger) Debug(msg string, fields ...zap.Field) {
	l.named.Debug(msg, fields...)
}

func (l *logger) Info(msg string, fields ...zap.Field) {
	l.named.Info(msg, fields...)
}

func (l *logger) Warn(msg string, fields ...zap.Field) {
	l.named.Warn(msg, fields...)
}

func (l *logger) Error(msg string, fields ...zap.Field) {
	l.named.Error(msg, fields...)
}

func (l *logger) Sync() error {
	return l.named.Sync()
}

func (l *logger) StdLogger(level zapcore.Level) *stdlog.Logger {
	std, err := zap.NewStdLogAt(l.named, level)
	if err != nil {
		// Only fails for levels above fatal.
		return zap.NewStdLog(l.named)
	}
	return std
}

// subsystemCore filters records by level, except records from an enabled
// subsystem which are always written.
type subsystemCore struct {
	zapcore.Core

	level      zapcore.Level
	subsystems []string
}

func (c *subsystemCore) Enabled(lvl zapcore.Level) bool {
	// The subsystem isn't known until Check, so if any subsystem is enabled
	// every level must pass zap's early level check.
	return len(c.subsystems) > 0 || c.level.Enabled(lvl)
}

func (c *subsystemCore) With(fields []zapcore.Field) zapcore.Core {
	return &subsystemCore{
		Core:       c.Core.With(fields),
		level:      c.level,
		subsystems: c.subsystems,
	}
}

func (c *subsystemCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.level.Enabled(ent.Level) || subsystemMatch(ent.LoggerName, c.subsystems) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// subsystemMatch returns whether the subsystem is enabled. Enabling a
// subsystem also enables its children, such as 'gossip' enables
// 'gossip.transport'.
func subsystemMatch(subsystem string, enabled []string) bool {
	for _, s := range enabled {
		if subsystem == s || strings.HasPrefix(subsystem, s+".") {
			return true
		}
	}
	return false
}

func zapLevelFromString(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zap.DebugLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zapcore.Level(0), fmt.Errorf("unsupported level: %s", s)
	}
}
