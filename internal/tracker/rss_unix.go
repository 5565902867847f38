//go:build unix

package tracker

import "golang.org/x/sys/unix"

// processRSSBytes reports the resident set size of the current process in
// bytes, used to cross-check the tracker's own byte accounting against
// real OS memory use. Getrusage's Maxrss is kilobytes on Linux and bytes
// on Darwin; normalize to bytes via runtime.GOOS at the call site instead
// of here to keep this file a thin syscall wrapper.
func processRSSBytes() (uint64, bool) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, false
	}
	if ru.Maxrss < 0 {
		return 0, false
	}
	return uint64(ru.Maxrss), true
}
