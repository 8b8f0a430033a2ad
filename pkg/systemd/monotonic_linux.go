//go:build linux

package systemd

import "golang.org/x/sys/unix"

// monotonicUsec reads CLOCK_MONOTONIC, which systemd expects in RELOADING.
func monotonicUsec() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano() / 1e3
}
