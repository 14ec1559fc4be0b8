package phoenix

import (
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
)

// Logger is the diagnostic sink described by spec §6's logger(line)
// option. The zero value discards everything; NewStdLogger adapts the
// stdlib log package the way the teacher's client.go/channel.go/store.go
// do (bracketed "[component] message" lines via log.Printf).
type Logger struct {
	fn func(line string)
}

// NewLogger wraps an arbitrary sink. A nil fn discards all lines.
func NewLogger(fn func(line string)) *Logger {
	if fn == nil {
		fn = func(string) {}
	}
	return &Logger{fn: fn}
}

// NewStdLogger builds a Logger backed by the stdlib log package, writing
// to os.Stderr with the standard timestamp flags.
func NewStdLogger() *Logger {
	std := log.New(os.Stderr, "", log.LstdFlags)
	return &Logger{fn: std.Print}
}

// Printf formats and emits one diagnostic line.
func (l *Logger) Printf(format string, args ...interface{}) {
	if l == nil || l.fn == nil {
		return
	}
	l.fn(fmt.Sprintf(format, args...))
}

// ordinalAttempt renders a 1-indexed attempt count the way humanize.Ordinal
// does ("1st", "2nd", "3rd"...), used in the socket's reconnect log line
// so operators can see which attempt they're reading without doing
// arithmetic.
func ordinalAttempt(tries int) string {
	return humanize.Ordinal(tries)
}

// commaCount renders a count with thousands separators, used when logging
// how many buffered frames were flushed.
func commaCount(n int) string {
	return humanize.Comma(int64(n))
}
