// Package mux implements the per-worker connection multiplexer: a
// single-threaded, readiness-driven event loop that accepts clients, frames
// newline-delimited JSON commands, dispatches them to a driver.Driver, and
// fans out broadcasts, exactly as spec.md §4.5 describes. The readiness
// wait uses golang.org/x/sys/unix.Poll directly on the listening socket and
// every open connection, rather than a goroutine-per-connection model,
// because the spec mandates a single thread never concurrently touching
// driver state (spec.md §5) — the one sanctioned exception being a
// driver's own background goroutine, which may only ever reach the loop
// through Broadcast.
package mux

import (
	"encoding/json"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/robotd/robotd/internal/driver"
	"github.com/robotd/robotd/internal/rlog"
)

// pollTimeoutMS bounds how long a single poll() call may block, so the loop
// periodically wakes to notice a Stop() request or connections marked dead
// by an out-of-band Broadcast call.
const pollTimeoutMS = 200

// readChunkSize is the size of the scratch buffer used for each readiness-
// triggered read. A command frame larger than this simply spans more than
// one read; extractFrames handles partial frames regardless.
const readChunkSize = 4096

type conn struct {
	uc   *net.UnixConn
	fd   int
	buf  []byte
	dead bool
}

// Loop is one worker's connection multiplexer.
type Loop struct {
	listener *net.UnixListener
	listenFD int
	d        driver.Driver
	logger   rlog.Logger

	mu       sync.Mutex
	conns    map[int]*conn
	hadConns bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLoop constructs a Loop around an already-bound, already-listening Unix
// socket. The caller is responsible for chmod-ing the socket per spec.md
// §4.4 step 2 before handing it here.
func NewLoop(listener *net.UnixListener, d driver.Driver, logger rlog.Logger) (*Loop, error) {
	fd, err := fdOf(listener)
	if err != nil {
		return nil, err
	}
	l := &Loop{
		listener: listener,
		listenFD: fd,
		d:        d,
		logger:   logger,
		conns:    map[int]*conn{},
		stop:     make(chan struct{}),
	}
	d.SetBroadcast(l.Broadcast)
	return l, nil
}

// Run executes the event loop until Stop is called or the listener fails.
// It returns nil on an orderly Stop.
func (l *Loop) Run() error {
	for {
		select {
		case <-l.stop:
			return nil
		default:
		}

		pollfds := l.buildPollFDs()
		n, err := unix.Poll(pollfds, pollTimeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n > 0 {
			for _, pfd := range pollfds {
				if pfd.Revents == 0 {
					continue
				}
				if int(pfd.Fd) == l.listenFD {
					if pfd.Revents&unix.POLLIN != 0 {
						l.acceptOne()
					}
					continue
				}
				if pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
					l.markDead(int(pfd.Fd))
					continue
				}
				if pfd.Revents&unix.POLLIN != 0 {
					l.readOne(int(pfd.Fd))
				}
			}
		}
		l.pruneDeadAndMaybeSafe()
	}
}

// Stop terminates the loop and closes every open connection. It does not
// invoke driver.Stop; the worker owns that call.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	for fd, c := range l.conns {
		_ = c.uc.Close()
		delete(l.conns, fd)
	}
}

func (l *Loop) buildPollFDs() []unix.PollFd {
	l.mu.Lock()
	defer l.mu.Unlock()
	fds := make([]unix.PollFd, 0, len(l.conns)+1)
	fds = append(fds, unix.PollFd{Fd: int32(l.listenFD), Events: unix.POLLIN})
	for fd := range l.conns {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	return fds
}

func (l *Loop) acceptOne() {
	uc, err := l.listener.AcceptUnix()
	if err != nil {
		l.logger.Warning("acceptOne", "", err, "failed to accept client connection")
		return
	}
	fd, err := fdOf(uc)
	if err != nil {
		l.logger.Warning("acceptOne", "", err, "failed to obtain client file descriptor")
		_ = uc.Close()
		return
	}
	c := &conn{uc: uc, fd: fd, buf: make([]byte, 0, 256)}

	l.mu.Lock()
	l.conns[fd] = c
	l.hadConns = true
	l.mu.Unlock()

	// Invariant: every accepted client receives the current status before
	// any command it might send is processed (spec.md §3 invariant 5).
	status, err := l.d.Status()
	if err != nil {
		l.logger.Warning("acceptOne", fd, err, "driver status failed for initial greeting")
		return
	}
	if err := sendFrame(c, status); err != nil {
		c.dead = true
	}
}

func (l *Loop) readOne(fd int) {
	l.mu.Lock()
	c, ok := l.conns[fd]
	l.mu.Unlock()
	if !ok {
		return
	}

	chunk := make([]byte, readChunkSize)
	n, err := c.uc.Read(chunk)
	if err != nil {
		l.logger.MaybeMinorError("readOne", err)
		c.dead = true
		return
	}
	if n == 0 {
		return
	}

	c.buf = append(c.buf, chunk[:n]...)
	var frames [][]byte
	frames, c.buf = extractFrames(c.buf)
	for _, frame := range frames {
		l.handleFrame(c, frame)
		if c.dead {
			return
		}
	}
}

func (l *Loop) handleFrame(c *conn, raw []byte) {
	var cmd driver.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		l.logger.Warning("handleFrame", c.fd, err, "malformed client frame, ignoring")
		return
	}

	// The empty command object is a documented status ping: it must never
	// reach the driver's Command method (spec.md §4.2).
	if len(cmd) > 0 {
		resp, err := l.d.Command(cmd)
		if err != nil {
			l.logger.Warning("handleFrame", c.fd, err, "driver command failed")
		} else if len(resp) > 0 {
			if err := sendFrame(c, driver.Status{"response": resp}); err != nil {
				c.dead = true
				return
			}
		}
	}

	status, err := l.d.Status()
	if err != nil {
		l.logger.Warning("handleFrame", c.fd, err, "driver status failed")
		return
	}
	if err := sendFrame(c, status); err != nil {
		c.dead = true
	}
}

// Broadcast pushes msg, tagged with "broadcast": true, to every connection
// currently open. It is the one entry point a driver's own background
// goroutine may use to reach the loop (spec.md §5); it never calls into
// the driver itself, so it cannot race with the loop's own driver calls.
func (l *Loop) Broadcast(msg driver.Status) {
	out := driver.Status{}
	for k, v := range msg {
		out[k] = v
	}
	out["broadcast"] = true

	l.mu.Lock()
	for _, c := range l.conns {
		if c.dead {
			continue
		}
		if err := sendFrame(c, out); err != nil {
			c.dead = true
		}
	}
	l.mu.Unlock()
}

func (l *Loop) markDead(fd int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.conns[fd]; ok {
		c.dead = true
	}
}

// pruneDeadAndMaybeSafe removes dead connections from the map and, if doing
// so empties it, invokes driver.MakeSafe exactly once for the transition.
// Only the loop's own goroutine calls MakeSafe, preserving the
// single-threaded-driver-access invariant even though Broadcast may be
// called from elsewhere.
func (l *Loop) pruneDeadAndMaybeSafe() {
	l.mu.Lock()
	removedAny := false
	for fd, c := range l.conns {
		if c.dead {
			_ = c.uc.Close()
			delete(l.conns, fd)
			removedAny = true
		}
	}
	transitionedToEmpty := removedAny && len(l.conns) == 0 && l.hadConns
	if transitionedToEmpty {
		l.hadConns = false
	}
	l.mu.Unlock()

	if transitionedToEmpty {
		l.d.MakeSafe()
	}
}

func sendFrame(c *conn, msg driver.Status) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = c.uc.Write(data)
	return err
}

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

func fdOf(sc syscallConner) (int, error) {
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	var controlErr error
	if err := raw.Control(func(f uintptr) {
		fd = int(f)
	}); err != nil {
		controlErr = err
	}
	return fd, controlErr
}
