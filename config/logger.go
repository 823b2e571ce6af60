package config

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// NewLogger gorm logger writing through zerolog
func NewLogger(cfg LoggingConfig) logger.Interface {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg LoggingConfig, out io.Writer) logger.Interface {
	if strings.ToLower(cfg.Format) != "json" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: true}
	}
	return &zeroLogger{
		zl:            zerolog.New(out).With().Timestamp().Str("component", "dbrouter").Logger(),
		level:         gormLevel(cfg.Level),
		slowThreshold: cfg.SlowThreshold,
	}
}

// zeroLogger maps gorm log levels onto zerolog levels
type zeroLogger struct {
	zl            zerolog.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

func (l *zeroLogger) LogMode(level logger.LogLevel) logger.Interface {
	nl := *l
	nl.level = level
	return &nl
}

func (l *zeroLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		l.zl.Info().Str("caller", utils.FileWithLineNum()).Msgf(msg, args...)
	}
}

func (l *zeroLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.zl.Warn().Str("caller", utils.FileWithLineNum()).Msgf(msg, args...)
	}
}

func (l *zeroLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		l.zl.Error().Str("caller", utils.FileWithLineNum()).Msgf(msg, args...)
	}
}

// Trace failed statements at error, slow ones at warn, the rest at info.
func (l *zeroLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	var event *zerolog.Event
	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		event = l.zl.Error().Err(err)
	case l.slowThreshold != 0 && elapsed > l.slowThreshold && l.level >= logger.Warn:
		event = l.zl.Warn().Dur("threshold", l.slowThreshold)
	case l.level == logger.Info:
		event = l.zl.Info()
	default:
		return
	}
	sql, rows := fc()
	event.Str("caller", utils.FileWithLineNum()).
		Dur("elapsed", elapsed).
		Int64("rows", rows).
		Str("sql", sql).
		Msg("trace")
}

func gormLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent", "off":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn", "warning":
		return logger.Warn
	default:
		return logger.Info
	}
}
