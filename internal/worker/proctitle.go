package worker

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// setProcessTitle best-effort renames the worker's kernel process name
// (visible in ps/top as comm) for observability, per spec.md §4.4 step 3.
// PR_SET_NAME truncates to 15 bytes plus a NUL, far short of the Python
// original's full argv rewrite (setproctitle.setproctitle); this is the
// closest equivalent available without adding a dependency the rest of
// the retrieval pack never uses. Failure is never fatal.
func setProcessTitle(title string) {
	const maxLen = 15
	if len(title) > maxLen {
		title = title[:maxLen]
	}
	name := append([]byte(title), 0)
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&name[0])), 0, 0, 0)
}
