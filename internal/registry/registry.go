// Package registry holds the process-wide, statically-populated catalogue
// of known robotd device types. Registration is explicit rather than
// reflection/metaclass-based (spec Design Note): every driver package calls
// Register from its own init(), mirroring the way laitos's
// toolbox.FeatureSet enumerates one entry per known feature in a literal
// table rather than discovering them by scanning.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/robotd/robotd/internal/driver"
)

// Descriptor is the static description of one supported peripheral type, as
// specified by spec.md §3 "Device type descriptor".
type Descriptor struct {
	// TypeID is the stable snake-case identifier used in socket paths, e.g.
	// "motor_board".
	TypeID string

	// LookupKeys maps kernel device attribute name to required value. A nil
	// map means the type is not auto-discovered via the device database.
	LookupKeys map[string]string

	// Included, if set, further refines a lookup-key match.
	Included func(node driver.Node) bool

	// Name computes the instance name (used in the socket path) from the
	// matched kernel node.
	Name func(node driver.Node) string

	// CreateOnStartup, if true, causes one instance to be created eagerly
	// at supervisor boot with an empty node.
	CreateOnStartup bool

	// Enabled excludes the type from the registry entirely when false.
	Enabled bool

	// New constructs a fresh, unstarted driver instance bound to node.
	New func(node driver.Node) driver.Driver
}

var (
	mu    sync.Mutex
	byID  = map[string]Descriptor{}
	order []string
)

// Register adds desc to the registry. It is called from each driver
// package's init(). A type is only registered when it is Enabled and
// either declares LookupKeys or sets CreateOnStartup, matching spec.md
// §4.1.
func Register(desc Descriptor) {
	mu.Lock()
	defer mu.Unlock()
	if !desc.Enabled {
		return
	}
	if len(desc.LookupKeys) == 0 && !desc.CreateOnStartup {
		return
	}
	if desc.TypeID == "" {
		panic("registry.Register: TypeID must not be empty")
	}
	if _, exists := byID[desc.TypeID]; exists {
		panic(fmt.Sprintf("registry.Register: type %q registered twice", desc.TypeID))
	}
	byID[desc.TypeID] = desc
	order = append(order, desc.TypeID)
}

// All returns every registered descriptor. Order is irrelevant to
// correctness (spec.md §4.1) but is kept stable (registration order) to
// make status output and logs reproducible.
func All() []Descriptor {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Descriptor, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// Lookup returns the descriptor for typeID, if registered.
func Lookup(typeID string) (Descriptor, bool) {
	mu.Lock()
	defer mu.Unlock()
	d, ok := byID[typeID]
	return d, ok
}

// TypeIDs returns every registered type_id in sorted order, for stable
// iteration in tests and the status API.
func TypeIDs() []string {
	all := All()
	ids := make([]string, len(all))
	for i, d := range all {
		ids[i] = d.TypeID
	}
	sort.Strings(ids)
	return ids
}

// reset clears the registry. It exists only for tests that need a clean
// slate; production code never calls it.
func reset() {
	byID = map[string]Descriptor{}
	order = nil
}

// ResetForTest clears the registry for use by other packages' tests
// (notably the supervisor, which registers fake descriptors to exercise
// its reconcile loop). Production code never calls it.
func ResetForTest() {
	mu.Lock()
	defer mu.Unlock()
	reset()
}
