// Package worker implements the per-device child process: both the
// supervisor-side handle used to spawn and reap it, and the child-side
// bootstrap that binds the socket and runs the connection multiplexer.
// Grounded on the original Python implementation's BoardRunner
// (master.py), adapted from multiprocessing.Process to a genuine
// re-exec'd child executable per spec.md §9's Design Note, in the style
// of platform.InvokeProgram's own external-process bookkeeping.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/robotd/robotd/internal/driver"
	"github.com/robotd/robotd/internal/mux"
	"github.com/robotd/robotd/internal/readiness"
	"github.com/robotd/robotd/internal/registry"
	"github.com/robotd/robotd/internal/rlog"
)

// ChildModeArg is the argv[1] value that re-enters the robotd binary in
// worker mode rather than supervisor mode (spec.md §9: "spawn a child
// executable that re-enters with a run-worker mode").
const ChildModeArg = "run-worker"

const (
	envType = "ROBOTD_WORKER_TYPE"
	envName = "ROBOTD_WORKER_NAME"
	envRoot = "ROBOTD_WORKER_ROOT"
	envNode = "ROBOTD_WORKER_NODE"
)

// terminateGrace is how long Terminate waits for an orderly exit after
// SIGTERM before escalating to SIGKILL.
const terminateGrace = 3 * time.Second

// SocketPath computes the well-known socket path for one worker instance,
// per spec.md §6 ("<root>/<type_id>/<instance_name>").
func SocketPath(root, typeID, instanceName string) string {
	return filepath.Join(root, typeID, instanceName)
}

// Handle is the supervisor-side record of one running worker process.
type Handle struct {
	TypeID       string
	InstanceName string
	SocketPath   string

	// Generation identifies this particular spawn of the worker,
	// distinct from any previous or future process serving the same
	// TypeID/InstanceName. The supervisor mints a fresh one on every
	// call to Spawn, so a crash-respawn loop produces a new Generation
	// each time even though TypeID and InstanceName are unchanged.
	Generation string

	cmd *exec.Cmd
}

// Spawn starts a new child process for the given type/node/instance name,
// passing its identity across the process boundary via environment
// variables (spec.md §9: "over environment/argv"). generation is an
// opaque id minted by the caller (the supervisor, via uuid.New) that
// tags this particular process instance.
func Spawn(root, typeID string, node driver.Node, instanceName, generation string) (*Handle, error) {
	nodeJSON, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("worker.Spawn: failed to encode device node: %w", err)
	}
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("worker.Spawn: failed to resolve own executable: %w", err)
	}

	env := append(os.Environ(),
		envType+"="+typeID,
		envName+"="+instanceName,
		envRoot+"="+root,
		envNode+"="+string(nodeJSON),
		readiness.EnvSupervisorPID+"="+fmt.Sprint(os.Getpid()),
	)
	cmd, err := spawnProcess(exePath, []string{ChildModeArg}, env)
	if err != nil {
		return nil, fmt.Errorf("worker.Spawn: failed to start worker process: %w", err)
	}
	return &Handle{
		TypeID:       typeID,
		InstanceName: instanceName,
		SocketPath:   SocketPath(root, typeID, instanceName),
		Generation:   generation,
		cmd:          cmd,
	}, nil
}

// NewHandleForTest constructs a Handle around an arbitrary command,
// bypassing the re-exec machinery in Spawn. It exists so packages that
// depend on worker (notably the supervisor) can exercise spawn/reap/
// terminate bookkeeping in tests without re-executing the real binary.
func NewHandleForTest(exePath string, args []string, typeID, instanceName, socketPath, generation string) (*Handle, error) {
	cmd, err := spawnProcess(exePath, args, os.Environ())
	if err != nil {
		return nil, err
	}
	return &Handle{TypeID: typeID, InstanceName: instanceName, SocketPath: socketPath, Generation: generation, cmd: cmd}, nil
}

// spawnProcess starts exePath with args and env, in its own process group
// so a signal sent to the supervisor's process group (e.g. Ctrl-C at a
// terminal) does not also reach the worker directly. Split out from
// Spawn so tests can exercise the process-lifecycle bookkeeping (Alive,
// Reap, Terminate) against an arbitrary harmless command instead of a
// re-exec of the test binary itself.
func spawnProcess(exePath string, args []string, env []string) (*exec.Cmd, error) {
	cmd := exec.Command(exePath, args...)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Alive reports whether the worker process has not yet been reaped. It
// does not itself wait on the process; the supervisor's liveness monitor
// is responsible for calling Wait (via Reap) once a process has exited.
func (h *Handle) Alive() bool {
	return h.cmd.ProcessState == nil
}

// Reap performs a non-blocking wait for the process, returning true if it
// has exited. The supervisor's liveness monitor polls this.
func (h *Handle) Reap() (exited bool) {
	if h.cmd.ProcessState != nil {
		return true
	}
	// Peek with WNOWAIT so the exited child stays waitable: Process.Wait
	// below then collects it and yields the ProcessState that Alive reads.
	var info unix.Siginfo
	err := unix.Waitid(unix.P_PID, h.cmd.Process.Pid, &info, unix.WEXITED|unix.WNOHANG|unix.WNOWAIT, nil)
	if err != nil || info.Signo == 0 {
		return false
	}
	h.cmd.ProcessState, _ = h.cmd.Process.Wait()
	return true
}

// Terminate signals the worker to stop and waits for it to exit, escalating
// to SIGKILL after terminateGrace. It then removes the worker's socket
// path defensively, in case the child did not get to clean up after
// itself (the child's own signal handler, which stops its loop and lets
// RunChild's deferred removal run, is the primary cleanup path).
func (h *Handle) Terminate(logger rlog.Logger) {
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		_ = h.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(terminateGrace):
		logger.Warning("Terminate", h.SocketPath, nil, "worker did not exit within grace period, killing")
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
		<-done
	}

	if err := os.Remove(h.SocketPath); err != nil && !os.IsNotExist(err) {
		logger.Warning("Terminate", h.SocketPath, err, "failed to remove socket path during cleanup")
	}
}

// RunChild is the entry point for a process re-exec'd with ChildModeArg.
// It reconstructs its device identity from the environment, binds its
// socket, starts the driver, and blocks running the connection
// multiplexer until signalled to stop.
func RunChild() error {
	typeID := os.Getenv(envType)
	instanceName := os.Getenv(envName)
	root := os.Getenv(envRoot)
	if typeID == "" || instanceName == "" || root == "" {
		return fmt.Errorf("worker.RunChild: missing worker identity in environment")
	}

	var node driver.Node
	if raw := os.Getenv(envNode); raw != "" {
		if err := json.Unmarshal([]byte(raw), &node); err != nil {
			return fmt.Errorf("worker.RunChild: malformed device node: %w", err)
		}
	}

	desc, ok := registry.Lookup(typeID)
	if !ok {
		return fmt.Errorf("worker.RunChild: unknown device type %q", typeID)
	}

	logger := rlog.Logger{
		Component: "worker",
		ID: []rlog.IDField{
			{Key: "type", Value: typeID},
			{Key: "name", Value: instanceName},
		},
	}

	sockPath := SocketPath(root, typeID, instanceName)
	// Step 1: ensure the parent directory exists and any stale socket
	// file from an unclean prior shutdown is removed before binding.
	if err := os.MkdirAll(filepath.Dir(sockPath), 0o755); err != nil {
		return fmt.Errorf("worker.RunChild: failed to prepare socket directory: %w", err)
	}
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("worker.RunChild: failed to remove stale socket: %w", err)
	}

	// Step 2: bind, listen, chmod 0777. net.ListenUnix takes no backlog
	// argument: the listen backlog is the kernel's somaxconn value chosen
	// by the Go runtime, not 5.
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("worker.RunChild: failed to bind socket: %w", err)
	}
	defer os.Remove(sockPath)
	if err := os.Chmod(sockPath, 0o777); err != nil {
		logger.Warning("RunChild", sockPath, err, "failed to chmod socket")
	}

	// Step 3: process title, for observability parity with the original
	// setproctitle call right after bind+chmod.
	setProcessTitle(fmt.Sprintf("robotd %s: %s", typeID, instanceName))

	d := desc.New(node)
	loop, err := mux.NewLoop(listener, d, logger)
	if err != nil {
		return fmt.Errorf("worker.RunChild: failed to construct connection multiplexer: %w", err)
	}

	// Step 4: inject broadcast (done by NewLoop) then start the driver.
	if err := d.Start(context.Background()); err != nil {
		return fmt.Errorf("worker.RunChild: driver start failed: %w", err)
	}
	defer d.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sig)
	go func() {
		<-sig
		logger.Info("RunChild", sockPath, nil, "received termination signal, shutting down")
		loop.Stop()
	}()

	// Step 5: run the connection multiplexer until stopped.
	return loop.Run()
}
