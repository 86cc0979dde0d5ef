package common

import (
	"io"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	log *slog.Logger
}

var _ cron.Logger = cronLogger{}

// NewCronLogger returns a cron.Logger writing to log. Info messages from cron
// are chatty (one per schedule and run), so they are emitted at debug level.
func NewCronLogger(log *slog.Logger) cron.Logger {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return cronLogger{log: log.With("component", "cron")}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(msg, append(keysAndValues, "err", err)...)
}
