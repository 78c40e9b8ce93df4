package logging

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process logger. Its level can be changed while the server
// runs, either through SetLevel or the handler returned by LevelHandler.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// Config defines logger configuration.
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool   // console encoding with colored levels
	Sampling    bool   // drop repeated entries under load; production only
	OutputPaths []string
}

// DefaultConfig returns a JSON logger at info level writing to stdout.
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		Sampling:    true,
		OutputPaths: []string{"stdout"},
	}
}

// New builds a logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.MessageKey = "message"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if !cfg.Sampling {
			zc.Sampling = nil
		}
	}
	zc.Level = level
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger, level: level}, nil
}

// NewDefault returns a logger built from DefaultConfig, or a no-op logger if
// stdout cannot be opened.
func NewDefault() *Logger {
	logger, err := New(DefaultConfig())
	if err != nil {
		return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevel()}
	}
	return logger
}

// Level reports the current minimum level.
func (l *Logger) Level() string {
	return l.level.String()
}

// SetLevel changes the minimum level of this logger and every child derived
// from it.
func (l *Logger) SetLevel(level string) error {
	return l.level.UnmarshalText([]byte(level))
}

// LevelHandler serves the current level on GET and changes it on PUT with a
// body of {"level":"debug"}.
func (l *Logger) LevelHandler() http.Handler {
	return l.level
}

// Sync flushes buffered entries. Errors from syncing a terminal are
// expected and dropped.
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}
