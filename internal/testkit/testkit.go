// Package testkit defines a minimal stand-in for *testing.T, used by
// fixture helpers shared across packages that should not themselves import
// the "testing" package. Grounded on laitos's testingstub.T, which exists
// for the identical reason: several of the teacher's daemons keep their
// fixture/TestX helpers in non-_test.go files so other packages can reuse
// them, and importing "testing" there would trip its package initializer.
package testkit

// T is satisfied by *testing.T.
type T interface {
	Helper()
	Error(...interface{})
	Errorf(string, ...interface{})
	Fatal(...interface{})
	Fatalf(string, ...interface{})
	Fail()
	FailNow()
	Failed() bool
	Log(...interface{})
	Logf(string, ...interface{})
}
