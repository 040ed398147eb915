package mux

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotd/robotd/internal/driver"
	"github.com/robotd/robotd/internal/rlog"
)

// fakeDriver is a minimal in-memory driver used to exercise the
// multiplexer's contract without any real hardware, the same way
// daemon/serialport/daemon_test.go substitutes a plain file for a serial
// device.
type fakeDriver struct {
	mu        sync.Mutex
	broadcast driver.BroadcastFunc
	safeCount int
	m0        string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{m0: "brake"}
}

func (f *fakeDriver) SetBroadcast(b driver.BroadcastFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = b
}

func (f *fakeDriver) Start(ctx context.Context) error { return nil }

func (f *fakeDriver) MakeSafe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m0 = "brake"
	f.safeCount++
}

func (f *fakeDriver) Stop() {}

func (f *fakeDriver) Status() (driver.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return driver.Status{"m0": f.m0}, nil
}

func (f *fakeDriver) Command(cmd driver.Command) (driver.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := cmd["m0"]; ok {
		f.m0 = v.(string)
	}
	return driver.Status{"applied": true}, nil
}

func (f *fakeDriver) safeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.safeCount
}

func (f *fakeDriver) doBroadcast(msg driver.Status) {
	f.mu.Lock()
	b := f.broadcast
	f.mu.Unlock()
	b(msg)
}

func newListener(t *testing.T) (*net.UnixListener, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "socket")
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	return l, path
}

func readFrame(t *testing.T, r *bufio.Reader) driver.Status {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	var msg driver.Status
	require.NoError(t, json.Unmarshal([]byte(line), &msg))
	return msg
}

func TestLoop_InitialGreetingThenCommandThenStatus(t *testing.T) {
	listener, path := newListener(t)
	fd := newFakeDriver()
	loop, err := NewLoop(listener, fd, rlog.Logger{Component: "test"})
	require.NoError(t, err)
	go loop.Run()
	defer loop.Stop()

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer client.Close()
	r := bufio.NewReader(client)

	greeting := readFrame(t, r)
	assert.Equal(t, "brake", greeting["m0"])

	_, err = client.Write([]byte(`{"m0":"coast"}` + "\n"))
	require.NoError(t, err)

	resp := readFrame(t, r)
	require.Contains(t, resp, "response")

	status := readFrame(t, r)
	assert.Equal(t, "coast", status["m0"])
}

func TestLoop_EmptyCommandIsStatusPingOnly(t *testing.T) {
	listener, path := newListener(t)
	fd := newFakeDriver()
	loop, err := NewLoop(listener, fd, rlog.Logger{Component: "test"})
	require.NoError(t, err)
	go loop.Run()
	defer loop.Stop()

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer client.Close()
	r := bufio.NewReader(client)
	_ = readFrame(t, r) // greeting

	_, err = client.Write([]byte("{}\n"))
	require.NoError(t, err)
	status := readFrame(t, r)
	_, hasResponse := status["response"]
	assert.False(t, hasResponse)
	assert.Equal(t, "brake", status["m0"])
}

func TestLoop_LastClientDisconnectTriggersMakeSafe(t *testing.T) {
	listener, path := newListener(t)
	fd := newFakeDriver()
	loop, err := NewLoop(listener, fd, rlog.Logger{Component: "test"})
	require.NoError(t, err)
	go loop.Run()
	defer loop.Stop()

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	r := bufio.NewReader(client)
	_ = readFrame(t, r)

	_, err = client.Write([]byte(`{"m0":"coast"}` + "\n"))
	require.NoError(t, err)
	_ = readFrame(t, r)
	_ = readFrame(t, r)

	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		return fd.safeCalls() >= 1
	}, 2*time.Second, 20*time.Millisecond)

	status, _ := fd.Status()
	assert.Equal(t, "brake", status["m0"])
}

func TestLoop_BroadcastReachesAllConnections(t *testing.T) {
	listener, path := newListener(t)
	fd := newFakeDriver()
	loop, err := NewLoop(listener, fd, rlog.Logger{Component: "test"})
	require.NoError(t, err)
	go loop.Run()
	defer loop.Stop()

	a, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer a.Close()
	ra := bufio.NewReader(a)
	_ = readFrame(t, ra)

	b, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer b.Close()
	rb := bufio.NewReader(b)
	_ = readFrame(t, rb)

	fd.doBroadcast(driver.Status{"markers": []int{}})

	ma := readFrame(t, ra)
	mb := readFrame(t, rb)
	assert.Equal(t, true, ma["broadcast"])
	assert.Equal(t, true, mb["broadcast"])
}

func TestLoop_OnlyRemainingConnectionReceivesSecondBroadcast(t *testing.T) {
	listener, path := newListener(t)
	fd := newFakeDriver()
	loop, err := NewLoop(listener, fd, rlog.Logger{Component: "test"})
	require.NoError(t, err)
	go loop.Run()
	defer loop.Stop()

	a, err := net.Dial("unix", path)
	require.NoError(t, err)
	ra := bufio.NewReader(a)
	_ = readFrame(t, ra)

	b, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer b.Close()
	rb := bufio.NewReader(b)
	_ = readFrame(t, rb)

	require.NoError(t, a.Close())
	time.Sleep(50 * time.Millisecond)

	fd.doBroadcast(driver.Status{"markers": []int{1}})
	mb := readFrame(t, rb)
	assert.Equal(t, true, mb["broadcast"])
}

func TestExtractFrames_BuffersPartialTrailingFrame(t *testing.T) {
	frames, rest := extractFrames([]byte(`{"a":1}` + "\n" + `{"b":2}` + "\n" + `{"c":3`))
	require.Len(t, frames, 2)
	assert.Equal(t, `{"a":1}`, string(frames[0]))
	assert.Equal(t, `{"b":2}`, string(frames[1]))
	assert.Equal(t, `{"c":3`, string(rest))
}
