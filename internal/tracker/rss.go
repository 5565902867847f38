package tracker

import "runtime"

// ProcessRSSBytes reports the resident set size of the current OS process
// in bytes, or false if the platform doesn't support the sample. Used by
// cmd/monty-run -debug to compare the tracker's own byte estimate against
// real memory use.
func ProcessRSSBytes() (uint64, bool) {
	bytes, ok := processRSSBytes()
	if !ok {
		return 0, false
	}
	if runtime.GOOS == "linux" {
		// Getrusage reports ru_maxrss in kilobytes on Linux.
		bytes *= 1024
	}
	return bytes, true
}
