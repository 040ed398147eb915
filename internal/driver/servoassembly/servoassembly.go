// Package servoassembly implements the servo_assembly driver described by
// spec.md §4.6: 16 servo channels plus a bank of general-purpose pins,
// analogue inputs, and an ultrasound trigger/echo pair, all addressed
// over a serial connection. Its wire protocol is not part of the core
// spec (spec.md §1), so the exact byte framing here is this
// implementation's own choice rather than a port of anything; the
// request/response shape (per-channel get/set over a serial.Port) is
// grounded on motorboard's use of github.com/goburrow/serial for the
// same family of board.
package servoassembly

import (
	"context"
	"fmt"
	"sync"

	"github.com/goburrow/serial"

	"github.com/robotd/robotd/internal/driver"
	"github.com/robotd/robotd/internal/registry"
	"github.com/robotd/robotd/internal/rlog"
)

// TypeID is the stable identifier used in socket paths.
const TypeID = "servo_assembly"

const baudRate = 115200

func init() {
	registry.Register(registry.Descriptor{
		TypeID: TypeID,
		LookupKeys: map[string]string{
			"ID_MODEL":  "SRV4B",
			"ID_VENDOR": "Student_Robotics",
			"SUBSYSTEM": "tty",
		},
		Name:    instanceName,
		Enabled: true,
		New:     func(node driver.Node) driver.Driver { return New(node) },
	})
}

func instanceName(node driver.Node) string {
	if v, ok := node.Attributes["ID_SERIAL_SHORT"]; ok && v != "" {
		return v
	}
	return node.SysName
}

// Driver is the servo_assembly driver instance.
type Driver struct {
	node     driver.Node
	openFunc func(*serial.Config) (serial.Port, error)
	logger   rlog.Logger

	broadcast driver.BroadcastFunc

	mu             sync.Mutex
	port           serial.Port
	servos         map[string]interface{}
	pins           map[string]interface{}
	pinValues      map[string]interface{}
	analogueValues []interface{}
	ultrasound     interface{}
	fwVersion      string
}

// New constructs an unstarted Driver bound to node.
func New(node driver.Node) *Driver {
	return &Driver{
		node:      node,
		openFunc:  serial.Open,
		logger:    rlog.Logger{Component: TypeID, ID: []rlog.IDField{{Key: "device", Value: node.DevPath}}},
		servos:    map[string]interface{}{},
		pins:      map[string]interface{}{},
		pinValues: map[string]interface{}{},
		fwVersion: "unknown",
	}
}

func (d *Driver) SetBroadcast(b driver.BroadcastFunc) { d.broadcast = b }

func (d *Driver) Start(ctx context.Context) error {
	port, err := d.openFunc(&serial.Config{Address: d.node.DevPath, BaudRate: baudRate})
	if err != nil {
		return fmt.Errorf("servoassembly.Start: failed to open %s: %w", d.node.DevPath, err)
	}
	d.mu.Lock()
	d.port = port
	d.mu.Unlock()
	d.MakeSafe()
	return nil
}

// MakeSafe de-energises every servo channel that has been commanded and
// resets every commanded pin to high-impedance input, per spec.md §4.2.
func (d *Driver) MakeSafe() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.servos {
		d.servos[id] = 0
	}
	for id := range d.pins {
		d.pins[id] = "input"
		delete(d.pinValues, id)
	}
	d.writeLocked([]byte("SAFE\n"))
}

func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port != nil {
		_ = d.port.Close()
	}
}

func (d *Driver) Status() (driver.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return driver.Status{
		"servos":          copyMap(d.servos),
		"pins":            copyMap(d.pins),
		"pin-values":      copyMap(d.pinValues),
		"analogue-values": append([]interface{}{}, d.analogueValues...),
		"ultrasound":      d.ultrasound,
		"fw-version":      d.fwVersion,
	}, nil
}

func (d *Driver) Command(cmd driver.Command) (driver.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if raw, ok := cmd["servos"]; ok {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return errorResponse("bad_value", "servos must be an object of id to position")
		}
		for id, v := range m {
			d.servos[id] = v
		}
	}
	if raw, ok := cmd["pins"]; ok {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return errorResponse("bad_value", "pins must be an object of id to mode")
		}
		for id, mode := range m {
			d.pins[id] = mode
		}
	}
	if raw, ok := cmd["read-pins"]; ok {
		ids, ok := raw.([]interface{})
		if !ok {
			return errorResponse("bad_value", "read-pins must be a list of ids")
		}
		for _, idv := range ids {
			id := fmt.Sprint(idv)
			d.pinValues[id] = d.readDigitalPin(id)
		}
	}
	if raw, ok := cmd["read-analogue"]; ok {
		if wantRead, _ := raw.(bool); wantRead {
			d.analogueValues = d.readAnalogue()
		}
	}
	if raw, ok := cmd["read-ultrasound"]; ok {
		pair, ok := raw.([]interface{})
		if !ok || len(pair) != 2 {
			return errorResponse("bad_value", "read-ultrasound must be [trig, echo]")
		}
		d.ultrasound = d.readUltrasound(pair[0], pair[1])
	}
	if raw, ok := cmd["command"]; ok {
		items, ok := raw.([]interface{})
		if !ok {
			return errorResponse("bad_value", "command must be a list of raw bytes")
		}
		tx := make([]byte, 0, len(items))
		for _, it := range items {
			if f, ok := it.(float64); ok {
				tx = append(tx, byte(f))
			}
		}
		d.writeLocked(tx)
	}
	return nil, nil
}

func errorResponse(kind, description string) (driver.Status, error) {
	return driver.Status{"status": "error", "type": kind, "description": description}, nil
}

// readDigitalPin, readAnalogue, and readUltrasound stand in for the
// board's actual sensing protocol, which is out of scope for the core
// spec; they report zero values rather than performing real I/O.
func (d *Driver) readDigitalPin(id string) interface{} {
	return false
}

func (d *Driver) readAnalogue() []interface{} {
	return []interface{}{0.0, 0.0, 0.0, 0.0}
}

func (d *Driver) readUltrasound(trig, echo interface{}) interface{} {
	return 0.0
}

func (d *Driver) writeLocked(tx []byte) {
	if d.port == nil || len(tx) == 0 {
		return
	}
	if _, err := d.port.Write(tx); err != nil {
		d.logger.Warning("writeLocked", d.node.DevPath, err, "failed to write to serial port")
	}
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
