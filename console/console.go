// Package console is the colored logging facade carried by every database
// and driver. It writes leveled, prefix-scoped lines and suppresses
// messages repeated within a short window, which keeps reconnect storms
// from flooding the terminal.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/k0kubun/pp/v3"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "?"
	}
}

// DuplicateWindow is the default span within which an identical message
// is written only once.
const DuplicateWindow = 3 * time.Second

var levelColors = map[Level]*color.Color{
	LevelDebug: color.New(color.FgHiBlack),
	LevelInfo:  color.New(color.FgCyan),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

// Logger writes leveled colored lines to a single output. Safe for
// concurrent use. The zero value is not usable; construct with New.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	prefix string
	level  Level
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

func New(prefix string) *Logger {
	return &Logger{
		out:    os.Stderr,
		prefix: prefix,
		level:  LevelInfo,
		window: DuplicateWindow,
		seen:   map[string]time.Time{},
		now:    time.Now,
	}
}

// SetOutput redirects the logger, mainly for tests.
func (l *Logger) SetOutput(w io.Writer) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
	return l
}

// SetLevel drops messages below the given level.
func (l *Logger) SetLevel(level Level) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	return l
}

// SetDuplicateWindow adjusts the suppression span. Zero disables
// suppression.
func (l *Logger) SetDuplicateWindow(d time.Duration) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window = d
	return l
}

// Child returns a logger sharing this logger's output and level with an
// extended prefix, e.g. "database" -> "database/mysql".
func (l *Logger) Child(name string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "/" + name
	}
	return &Logger{
		out:    l.out,
		prefix: prefix,
		level:  l.level,
		window: l.window,
		seen:   map[string]time.Time{},
		now:    l.now,
	}
}

func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

// Dump pretty-prints a value at debug level.
func (l *Logger) Dump(v any) {
	l.log(LevelDebug, "%s", pp.Sprint(v))
}

func (l *Logger) log(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	if l.suppressed(level, msg) {
		return
	}

	line := msg
	if l.prefix != "" {
		line = "[" + l.prefix + "] " + line
	}
	c := levelColors[level]
	fmt.Fprintf(l.out, "%s %s\n", c.Sprintf("%-5s", level.String()), line)
}

// suppressed reports whether an identical line was written within the
// window, recording this one either way. Callers hold mu.
func (l *Logger) suppressed(level Level, msg string) bool {
	if l.window <= 0 {
		return false
	}
	key := fmt.Sprintf("%d:%s", level, msg)
	now := l.now()
	if last, ok := l.seen[key]; ok && now.Sub(last) < l.window {
		return true
	}
	if len(l.seen) > 1024 {
		for k, t := range l.seen {
			if now.Sub(t) >= l.window {
				delete(l.seen, k)
			}
		}
	}
	l.seen[key] = now
	return false
}
