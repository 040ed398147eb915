package devicedb

import (
	"os"
	"path/filepath"

	"github.com/robotd/robotd/internal/testkit"
)

// WriteUeventFixture writes a synthetic sysfs device directory containing
// a uevent file with the given attribute lines, for use by this package's
// and other packages' tests that need to exercise Query against a fake
// device tree without a real kernel underneath. It takes testkit.T rather
// than *testing.T so it can live in a non-_test.go file, matching
// laitos's testingstub.T rationale for keeping shared fixture helpers
// outside the "testing" package's import graph.
func WriteUeventFixture(t testkit.T, dir string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("WriteUeventFixture: failed to create %s: %v", dir, err)
	}
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, "uevent"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteUeventFixture: failed to write uevent in %s: %v", dir, err)
	}
}
