package rlog

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_Format(t *testing.T) {
	l := Logger{Component: "worker", ID: []IDField{{Key: "type", Value: "motor_board"}}}
	line := l.Format("Start", "/dev/ttyUSB0", errors.New("no such device"), "failed to open")
	assert.Contains(t, line, "worker")
	assert.Contains(t, line, "type=motor_board")
	assert.Contains(t, line, "Start")
	assert.Contains(t, line, "/dev/ttyUSB0")
	assert.Contains(t, line, "no such device")
	assert.Contains(t, line, "failed to open")
}

func TestLogger_InfoRecordsRecentLines(t *testing.T) {
	l := Logger{Component: "test-recent"}
	l.Info("TestLogger_InfoRecordsRecentLines", "", nil, "hello %d", 42)
	found := false
	for _, line := range RecentLines() {
		if strings.Contains(line, "test-recent") && strings.Contains(line, "hello 42") {
			found = true
		}
	}
	assert.True(t, found, "expected the logged line to appear in RecentLines")
}

func TestLogger_MaybeMinorErrorSwallowsClosed(t *testing.T) {
	l := Logger{Component: "test-minor"}
	// Neither a closed-connection error nor a nil error produces a line.
	l.MaybeMinorError("x", errors.New("use of closed network connection"))
	l.MaybeMinorError("x", nil)
	for _, line := range RecentLines() {
		assert.NotContains(t, line, "test-minor")
	}
}
