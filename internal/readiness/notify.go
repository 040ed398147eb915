// Package readiness implements the systemd-notify-equivalent startup
// integration point described by spec.md §6: once the power-board driver
// reaches its ready state, the init system is told the daemon is fully
// up. No dependency in the retrieval pack wraps the sd_notify protocol
// (it is a two-line datagram write over a Unix socket, not a library
// concern), so this is implemented directly against the documented wire
// format rather than pulled in as a third-party client.
package readiness

import (
	"fmt"
	"net"
	"os"
)

// EnvSupervisorPID is the environment variable the supervisor sets on
// every worker it spawns, carrying its own PID so a worker notifying on
// the daemon's behalf can identify the right MAINPID to systemd.
const EnvSupervisorPID = "ROBOTD_SUPERVISOR_PID"

// NotifyReady tells the init system the daemon is ready, equivalent to
// `systemd-notify --ready --pid=<supervisor-pid>`. It is a silent no-op
// when $NOTIFY_SOCKET is unset (the common case outside a systemd unit).
func NotifyReady() error {
	socketPath := os.Getenv("NOTIFY_SOCKET")
	if socketPath == "" {
		return nil
	}

	msg := "READY=1\n"
	if pid := os.Getenv(EnvSupervisorPID); pid != "" {
		msg += "MAINPID=" + pid + "\n"
	}

	addr := &net.UnixAddr{Name: socketPath, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return fmt.Errorf("readiness.NotifyReady: failed to dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(msg)); err != nil {
		return fmt.Errorf("readiness.NotifyReady: failed to write readiness datagram: %w", err)
	}
	return nil
}
