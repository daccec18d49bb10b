//go:build linux

package runtime

import (
	stdrt "runtime"

	"golang.org/x/sys/unix"
)

// DetectCores returns the number of CPUs this process may run on.
func DetectCores() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if n := set.Count(); n > 0 {
			return n
		}
	}
	return stdrt.NumCPU()
}

// pinWorker locks the calling goroutine to its OS thread and binds the
// thread to the slot-th CPU of the process affinity set.
func pinWorker(slot int) error {
	var allowed unix.CPUSet
	if err := unix.SchedGetaffinity(0, &allowed); err != nil {
		return err
	}
	n := allowed.Count()
	cpus := make([]int, 0, n)
	for cpu := 0; len(cpus) < n && cpu < 1<<16; cpu++ {
		if allowed.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	if len(cpus) == 0 {
		return nil
	}
	stdrt.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpus[slot%len(cpus)])
	return unix.SchedSetaffinity(0, &set)
}
