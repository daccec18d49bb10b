//go:build !linux

package runtime

import stdrt "runtime"

// DetectCores returns the number of logical CPUs.
func DetectCores() int { return stdrt.NumCPU() }

func pinWorker(int) error {
	stdrt.LockOSThread()
	return nil
}
