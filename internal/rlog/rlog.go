// Package rlog implements the small structured logger shared by every
// component of robotd: the supervisor, each worker, and every driver.
package rlog

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"time"
)

// MaxRecentLines is the number of most recently logged records kept in
// memory for post-mortem inspection via the status API.
const MaxRecentLines = 512

// recent is a ring buffer of the most recently logged records, shared by
// every Logger instance in the process.
var recent = newRecordRing(MaxRecentLines)

// limiter throttles each component to maxLinesPerComponentPerSec, shared
// by every Logger instance, so a wedged driver retrying in a tight loop
// cannot flood stderr and drown out every other component's output.
var limiter = newRateLimit(1, maxLinesPerComponentPerSec)

func pushRecent(component string, lvl level, line string) {
	recent.push(Record{
		At:        time.Now().Format("2006-01-02 15:04:05"),
		Level:     lvl,
		Component: component,
		Line:      line,
	})
}

// RecentRecords returns the most recently logged records, oldest first.
func RecentRecords() []Record {
	return recent.all()
}

// RecentLines returns the most recently logged lines, oldest first,
// rendered the way they were printed to stderr.
func RecentLines() []string {
	records := recent.all()
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.At + " " + rec.Line
	}
	return out
}

// IDField is a key/value pair identifying the component instance emitting a
// log line, e.g. {"type", "motor_board"} or {"device", "/dev/ttyUSB0"}.
type IDField struct {
	Key   string
	Value interface{}
}

// Logger formats and prints log lines tagged with a component name and a set
// of identifying fields. A zero-value Logger is usable.
type Logger struct {
	Component string
	ID        []IDField
}

func (l Logger) componentIDs() string {
	if len(l.ID) == 0 {
		return ""
	}
	var b bytes.Buffer
	b.WriteRune('[')
	for i, f := range l.ID {
		fmt.Fprintf(&b, "%s=%v", f.Key, f.Value)
		if i < len(l.ID)-1 {
			b.WriteRune(';')
		}
	}
	b.WriteRune(']')
	return b.String()
}

// Format renders a log line without printing it.
func (l Logger) Format(funcName string, actor interface{}, err error, template string, values ...interface{}) string {
	var b bytes.Buffer
	if l.Component != "" {
		b.WriteString(l.Component)
	}
	b.WriteString(l.componentIDs())
	if funcName != "" {
		if b.Len() > 0 {
			b.WriteRune('.')
		}
		b.WriteString(funcName)
	}
	if actor != nil && actor != "" {
		fmt.Fprintf(&b, "(%v)", actor)
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	if err != nil {
		fmt.Fprintf(&b, "error %q", err)
		if template != "" {
			b.WriteString(" - ")
		}
	}
	fmt.Fprintf(&b, template, values...)
	return b.String()
}

// Info prints and records an informational log line. If err is non-nil the
// line is treated as a Warning instead.
func (l Logger) Info(funcName string, actor interface{}, err error, template string, values ...interface{}) {
	if err != nil {
		l.Warning(funcName, actor, err, template, values...)
		return
	}
	line := l.Format(funcName, actor, nil, template, values...)
	if ok, notify := limiter.allow(l.Component); !ok {
		if notify {
			log.Printf("%s: rate limit exceeded, suppressing further lines for %ds", l.Component, limiter.unitSecs)
		}
		return
	}
	log.Print(line)
	pushRecent(l.Component, levelInfo, line)
}

// Warning prints and records a warning log line. Warnings are never fatal.
func (l Logger) Warning(funcName string, actor interface{}, err error, template string, values ...interface{}) {
	line := l.Format(funcName, actor, err, template, values...)
	if ok, notify := limiter.allow(l.Component); !ok {
		if notify {
			log.Printf("%s: rate limit exceeded, suppressing further lines for %ds", l.Component, limiter.unitSecs)
		}
		return
	}
	log.Print(line)
	pushRecent(l.Component, levelWarning, line)
}

// MaybeMinorError logs err unless it is nil or indicates an ordinary
// closed/broken connection, which callers hit constantly and should not
// spam the log with. The line goes through Info, which logs any non-nil
// error at warning level.
func (l Logger) MaybeMinorError(funcName string, err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	if strings.Contains(msg, "closed") || strings.Contains(msg, "broken") || strings.Contains(msg, "EOF") {
		return
	}
	l.Info(funcName, "", err, "minor error")
}

// Abort prints a log line and then terminates the process. It is reserved
// for conditions this program treats as unrecoverable, matching the
// teacher's own Abort/Fatal split.
func (l Logger) Abort(funcName string, actor interface{}, err error, template string, values ...interface{}) {
	log.Fatal(l.Format(funcName, actor, err, template, values...))
}
