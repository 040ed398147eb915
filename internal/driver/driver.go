// Package driver defines the uniform contract every robotd device driver
// implements, modeled on the small capability interfaces
// (daemon/common.TCPApp) the teacher injects collaborators into before
// starting a service loop.
package driver

import "context"

// Status is the JSON-serializable status document a driver reports. It is
// also the shape used for command responses and broadcasts.
type Status = map[string]interface{}

// Command is a JSON-decoded client command. The empty Command is reserved
// as a "status ping" and must never reach a driver's Command method.
type Command = map[string]interface{}

// BroadcastFunc pushes an unsolicited message to every client currently
// connected to the driver's worker. The worker injects this callback into
// the driver before calling Start, and the driver must not invoke it before
// Start has been called.
type BroadcastFunc func(Status)

// Driver is the uniform per-device contract. Exactly one Driver instance
// backs one worker process and one kernel device node (or an empty node for
// create-on-startup types).
type Driver interface {
	// SetBroadcast installs the callback the driver uses to push unsolicited
	// status. The worker calls this exactly once, before Start.
	SetBroadcast(BroadcastFunc)

	// Start opens the underlying hardware and initializes internal status.
	// A returned error is fatal: the worker process exits and the
	// supervisor will retry on its next poll if the device is still
	// present.
	Start(ctx context.Context) error

	// MakeSafe returns the peripheral to its defined safe state. It must be
	// idempotent and must swallow non-fatal errors itself (logging is the
	// driver's responsibility); the worker may call it more than once.
	MakeSafe()

	// Stop releases hardware resources. Best-effort; the worker is tearing
	// down regardless of what Stop returns.
	Stop()

	// Status returns the driver's current status. It must be cheap and
	// non-blocking: the worker calls it after every command round-trip and
	// for every newly accepted client.
	Status() (Status, error)

	// Command mutates the peripheral according to cmd and optionally
	// returns a response value. The empty command is handled entirely by
	// the worker as a status ping and is never passed here. A nil, nil
	// return means no response frame is sent.
	Command(cmd Command) (Status, error)
}

// Node describes the kernel device record a driver instance is bound to.
// Create-on-startup types (e.g. the synthetic game board) bind to an empty
// Node.
type Node struct {
	DevName    string
	DevPath    string
	SysName    string
	SysPath    string
	Minor      string
	VendorID   string
	ModelID    string
	Attributes map[string]string
}

// Empty reports whether the node carries no kernel device information, the
// case for create-on-startup driver instances.
func (n Node) Empty() bool {
	return n.DevPath == "" && n.SysPath == ""
}
