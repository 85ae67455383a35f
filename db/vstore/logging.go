package vstore

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v3"
)

// storeLogger routes badger's printf-style output into the volume
// store's component-scoped slog.Logger. Badger terminates messages with
// a newline; that is stripped so its entries render like every other
// line this tree logs.
type storeLogger struct {
	slogger *slog.Logger
}

func newStoreLogger(slogger *slog.Logger) badger.Logger {
	return &storeLogger{
		slogger: slogger.WithGroup("badger"),
	}
}

func (l *storeLogger) render(format string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

func (l *storeLogger) Errorf(format string, args ...interface{}) {
	l.slogger.Error(l.render(format, args...))
}

func (l *storeLogger) Warningf(format string, args ...interface{}) {
	l.slogger.Warn(l.render(format, args...))
}

func (l *storeLogger) Infof(format string, args ...interface{}) {
	l.slogger.Info(l.render(format, args...))
}

func (l *storeLogger) Debugf(format string, args ...interface{}) {
	l.slogger.Debug(l.render(format, args...))
}
