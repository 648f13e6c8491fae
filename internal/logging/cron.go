package logging

import (
	"context"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts Logger to cron.Logger so scheduler events (skipped runs,
// recovered panics) land in the same structured stream.
type cronLogger struct {
	l Logger
}

// Cron returns l as a cron.Logger. Cron's chatty info records are logged at debug.
func Cron(l Logger) cron.Logger {
	return cronLogger{l: l.With("component", "cron")}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(context.Background(), msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(context.Background(), msg, append(keysAndValues, "error", err)...)
}
