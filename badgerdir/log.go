package badgerdir

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Logger routes badger's printf-style logging to l. Badger's info chatter is
// logged at debug level.
func Logger(l *slog.Logger) badger.Logger {
	if l == nil {
		return nil
	}
	return slogLogger{l: l.With("component", "badger")}
}

type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Errorf(format string, args ...any)   { s.l.Error(line(format, args)) }
func (s slogLogger) Warningf(format string, args ...any) { s.l.Warn(line(format, args)) }
func (s slogLogger) Infof(format string, args ...any)    { s.l.Debug(line(format, args)) }
func (s slogLogger) Debugf(format string, args ...any)   { s.l.Debug(line(format, args)) }

func line(format string, args []any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
