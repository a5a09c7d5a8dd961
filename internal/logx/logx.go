// Package logx sets up the process-wide zerolog logger and provides
// writers for streaming subprocess output into it.
package logx

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Service        string // "bot", "worker" or "render"
	Level          string // debug|info|warn|error
	Format         string // json|console
	FilePath       string // "" = no file
	FileMaxSizeMB  int
	FileMaxBackups int
	FileMaxAgeDays int
	FileCompress   bool
}

// Setup configures the global zerolog logger and returns it.
func Setup(c Config) zerolog.Logger {
	return setup(c, os.Stdout)
}

func setup(c Config, stdout io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || c.Level == "" {
		lvl = zerolog.InfoLevel
	}

	var writers []io.Writer
	if strings.EqualFold(c.Format, "console") {
		writers = append(writers, zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339})
	} else {
		writers = append(writers, stdout)
	}
	if c.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   c.FilePath,
			MaxSize:    orDefault(c.FileMaxSizeMB, 50),
			MaxBackups: orDefault(c.FileMaxBackups, 3),
			MaxAge:     orDefault(c.FileMaxAgeDays, 7),
			Compress:   c.FileCompress,
		})
	}

	logger := zerolog.New(io.MultiWriter(writers...)).Level(lvl).With().
		Timestamp().
		Str("svc", c.Service).
		Logger()

	log.Logger = logger
	return logger
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type ctxKey int

const (
	ctxKeyChatID ctxKey = iota
	ctxKeyJobID
)

// WithChat tags ctx with a chat id for FromCtx.
func WithChat(ctx context.Context, chatID int64) context.Context {
	return context.WithValue(ctx, ctxKeyChatID, chatID)
}

// WithJob tags ctx with a job id for FromCtx.
func WithJob(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ctxKeyJobID, jobID)
}

// FromCtx returns base enriched with the chat and job ids stored in ctx.
func FromCtx(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return base
	}
	l := base
	if v, ok := ctx.Value(ctxKeyChatID).(int64); ok {
		l = l.With().Int64("chat_id", v).Logger()
	}
	if v, ok := ctx.Value(ctxKeyJobID).(string); ok && v != "" {
		l = l.With().Str("job_id", v).Logger()
	}
	return l
}
