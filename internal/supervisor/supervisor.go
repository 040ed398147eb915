// Package supervisor implements the top-level process: it prepares the
// socket root, spawns startup-only workers, polls the kernel device
// database to reconcile the live worker set, and runs a liveness monitor
// that reaps workers whose process has died unexpectedly. Grounded on
// daemon/serialport/daemon.go's StartAndBlock/connectToDevices/
// connectedDevices pattern (glob-scan, diff against a map of running
// conversations, mutex-guarded map) and on the original master.py's
// MasterProcess, generalized from globbing serial device paths to
// querying the kernel device database for (type_id, device_path) pairs.
package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robotd/robotd/internal/config"
	"github.com/robotd/robotd/internal/devicedb"
	"github.com/robotd/robotd/internal/driver"
	"github.com/robotd/robotd/internal/registry"
	"github.com/robotd/robotd/internal/rlog"
	"github.com/robotd/robotd/internal/worker"
)

// startupDevicePath is the synthetic worker-map key used for
// create_on_startup types, which have no kernel device path of their own.
const startupDevicePath = "startup"

// Supervisor is the top-level process described by spec.md §4.3.
type Supervisor struct {
	root            string
	pollInterval    time.Duration
	monitorInterval time.Duration
	disabledTypes   map[string]bool
	logger          rlog.Logger

	mu      sync.Mutex
	workers map[string]map[string]*worker.Handle // type_id -> device_path -> handle

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// queryFunc abstracts devicedb.Query so tests can substitute a fake
	// device database without touching the real sysfs tree.
	queryFunc func(lookupKeys map[string]string) (map[string]driver.Node, error)

	// spawnFunc abstracts worker.Spawn so tests can substitute a harmless
	// process instead of re-executing the real binary.
	spawnFunc func(root, typeID string, node driver.Node, instanceName, generation string) (*worker.Handle, error)
}

// New constructs a Supervisor from configuration. It does not touch the
// filesystem or spawn anything; call Prepare then Run.
func New(cfg config.Config, logger rlog.Logger) *Supervisor {
	return &Supervisor{
		root:            cfg.RootDir,
		pollInterval:    time.Duration(cfg.PollIntervalSec) * time.Second,
		monitorInterval: time.Duration(cfg.MonitorIntervalMS) * time.Millisecond,
		disabledTypes:   cfg.DisabledTypes,
		logger:          logger,
		workers:         map[string]map[string]*worker.Handle{},
		stop:            make(chan struct{}),
		queryFunc:       devicedb.Query,
		spawnFunc:       worker.Spawn,
	}
}

// Prepare creates the socket root (mode 0755) if missing and purges every
// entry directly beneath it, per spec.md §4.3 item 1. Failure here is the
// one condition that is fatal to the supervisor (spec.md §7).
func (s *Supervisor) Prepare() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("supervisor.Prepare: failed to create root directory %s: %w", s.root, err)
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("supervisor.Prepare: failed to read root directory %s: %w", s.root, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return fmt.Errorf("supervisor.Prepare: failed to purge stale entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Run spawns every create-on-startup worker and then blocks running the
// poll loop (and, concurrently, the liveness monitor) until Shutdown is
// called.
func (s *Supervisor) Run() error {
	s.spawnStartupWorkers()

	s.wg.Add(1)
	go s.monitorLoop()

	return s.pollLoop()
}

// Shutdown terminates every live worker (triggering each one's disconnect
// path) and then stops the liveness monitor, per spec.md §4.3 item 5.
func (s *Supervisor) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.terminateAll()
	s.wg.Wait()
}

func (s *Supervisor) spawnStartupWorkers() {
	for _, desc := range registry.All() {
		if !desc.CreateOnStartup || s.disabledTypes[desc.TypeID] {
			continue
		}
		s.spawnWorker(desc, startupDevicePath, driver.Node{})
	}
}

func (s *Supervisor) pollLoop() error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return nil
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

func (s *Supervisor) pollOnce() {
	for _, desc := range registry.All() {
		if len(desc.LookupKeys) == 0 || s.disabledTypes[desc.TypeID] {
			continue
		}
		nodes, err := s.queryFunc(desc.LookupKeys)
		if err != nil {
			s.logger.Warning("pollOnce", desc.TypeID, err, "kernel device enumeration failed, will retry next poll")
			continue
		}
		actual := map[string]driver.Node{}
		for path, node := range nodes {
			if desc.Included != nil && !desc.Included(node) {
				continue
			}
			actual[path] = node
		}
		s.reconcile(desc, actual)
	}
}

// reconcile diffs actual against the current worker set for one type and
// applies the spawn/terminate deltas. The diff itself runs under the
// mutex; the resulting spawns and terminations (which do I/O) run after
// it is released, per the no-I/O-under-lock rule in spec.md §5.
func (s *Supervisor) reconcile(desc registry.Descriptor, actual map[string]driver.Node) {
	type spawnItem struct {
		path string
		node driver.Node
	}

	s.mu.Lock()
	existing := s.workers[desc.TypeID]
	var toSpawn []spawnItem
	for path, node := range actual {
		if _, ok := existing[path]; !ok {
			toSpawn = append(toSpawn, spawnItem{path, node})
		}
	}
	var toKill []string
	for path := range existing {
		if _, ok := actual[path]; !ok {
			toKill = append(toKill, path)
		}
	}
	s.mu.Unlock()

	for _, path := range toKill {
		s.terminateWorker(desc.TypeID, path)
	}
	for _, item := range toSpawn {
		s.spawnWorker(desc, item.path, item.node)
	}
}

func (s *Supervisor) spawnWorker(desc registry.Descriptor, devicePath string, node driver.Node) {
	name := desc.Name(node)
	generation := uuid.New().String()[:8]

	h, err := s.spawnFunc(s.root, desc.TypeID, node, name, generation)
	if err != nil {
		s.logger.Warning("spawnWorker", devicePath, err, "failed to spawn worker for type %s", desc.TypeID)
		return
	}

	s.mu.Lock()
	if s.workers[desc.TypeID] == nil {
		s.workers[desc.TypeID] = map[string]*worker.Handle{}
	}
	s.workers[desc.TypeID][devicePath] = h
	s.mu.Unlock()

	s.logger.Info("spawnWorker", devicePath, nil, "started worker %s/%s (generation %s)", desc.TypeID, name, h.Generation)
}

func (s *Supervisor) terminateWorker(typeID, devicePath string) {
	s.mu.Lock()
	h, ok := s.workers[typeID][devicePath]
	if ok {
		delete(s.workers[typeID], devicePath)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.logger.Info("terminateWorker", devicePath, nil, "device for worker %s disappeared, terminating", typeID)
	h.Terminate(s.logger)
}

// terminateAll terminates every currently tracked worker, used by
// Shutdown to drive every worker through its disconnect/safe path before
// the process exits.
func (s *Supervisor) terminateAll() {
	type handleRef struct {
		typeID, path string
		h            *worker.Handle
	}

	s.mu.Lock()
	var all []handleRef
	for typeID, byPath := range s.workers {
		for path, h := range byPath {
			all = append(all, handleRef{typeID, path, h})
		}
	}
	s.workers = map[string]map[string]*worker.Handle{}
	s.mu.Unlock()

	for _, r := range all {
		r.h.Terminate(s.logger)
	}
}

// monitorLoop reaps workers whose process has exited unexpectedly, per
// spec.md §4.3 item 4 ("~2 Hz").
func (s *Supervisor) monitorLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.reapDead()
		}
	}
}

func (s *Supervisor) reapDead() {
	type handleRef struct {
		typeID, path string
		h            *worker.Handle
	}

	s.mu.Lock()
	var all []handleRef
	for typeID, byPath := range s.workers {
		for path, h := range byPath {
			all = append(all, handleRef{typeID, path, h})
		}
	}
	s.mu.Unlock()

	var dead []handleRef
	for _, r := range all {
		if r.h.Reap() {
			dead = append(dead, r)
		}
	}
	if len(dead) == 0 {
		return
	}

	s.mu.Lock()
	for _, r := range dead {
		delete(s.workers[r.typeID], r.path)
	}
	s.mu.Unlock()

	for _, r := range dead {
		s.logger.Warning("reapDead", r.path, nil, "worker process for %s exited unexpectedly", r.typeID)
	}
}

// WorkerCount returns the number of live workers per registered type, for
// the status API.
func (s *Supervisor) WorkerCount() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(s.workers))
	for typeID, byPath := range s.workers {
		counts[typeID] = len(byPath)
	}
	return counts
}

// Generations returns the generation id of every live worker, keyed by
// type_id and then device path (or startupDevicePath for create-on-startup
// types), so the status API can tell one respawn of a worker apart from
// the next without having to parse log lines.
func (s *Supervisor) Generations() map[string]map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]string, len(s.workers))
	for typeID, byPath := range s.workers {
		perType := make(map[string]string, len(byPath))
		for path, h := range byPath {
			perType[path] = h.Generation
		}
		out[typeID] = perType
	}
	return out
}
