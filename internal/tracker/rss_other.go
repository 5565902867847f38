//go:build !unix

package tracker

// processRSSBytes has no portable implementation outside unix; callers
// fall back to the tracker's own byte accounting.
func processRSSBytes() (uint64, bool) { return 0, false }
