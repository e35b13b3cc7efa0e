// Package logging renders go-kit/log key/value pairs in the proxy's own
// one-line wire format, so the rest of the codebase can keep calling
// level.Info(logging.Logger).Log("msg", ..., "k", v) exactly the way the
// teacher's pkg/util/log package does, while the bytes written to stdout
// follow the required `timestamp --- [thread] : message` shape instead
// of logfmt.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
)

// Logger is the process-wide logger, initialized by Init. Components that
// want a distinguishable thread name in the log stream should derive a
// child logger with WithThread instead of writing to this one directly.
var Logger kitlog.Logger = New(os.Stdout, "main")

// Init replaces the package-level Logger, e.g. to redirect output in tests.
func Init(w io.Writer, thread string) {
	Logger = New(w, thread)
}

// New builds a Logger that writes lines in the format:
//
//	YYYY-MM-DD HH:MM:SS.mmm --- [<thread-name>] : <message>
func New(w io.Writer, thread string) kitlog.Logger {
	return &lineLogger{w: w, mu: &sync.Mutex{}, thread: thread}
}

// WithThread returns a derived logger whose log lines carry the given
// thread name in place of the parent's default.
func WithThread(logger kitlog.Logger, thread string) kitlog.Logger {
	return kitlog.With(logger, "thread", thread)
}

type lineLogger struct {
	w      io.Writer
	mu     *sync.Mutex
	thread string
}

// Log implements kitlog.Logger. "msg" becomes the message body, "thread"
// overrides the bracketed thread name, and any other key/value pairs are
// appended to the message as "key=value" tokens.
func (l *lineLogger) Log(keyvals ...interface{}) error {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "(MISSING)")
	}

	thread := l.thread
	var msg string
	rest := make([]string, 0, len(keyvals)/2)

	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		val := keyvals[i+1]
		switch key {
		case "thread":
			thread = fmt.Sprint(val)
		case "msg":
			msg = fmt.Sprint(val)
		default:
			rest = append(rest, fmt.Sprintf("%s=%v", key, val))
		}
	}

	line := msg
	if len(rest) > 0 {
		line = strings.TrimSpace(msg + " " + strings.Join(rest, " "))
	}

	ts := time.Now().Format("2006-01-02 15:04:05.000")

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.w, "%s --- [%s] : %s\n", ts, thread, line)
	return err
}
