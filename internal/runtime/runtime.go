// Package runtime reports host facts logged once at daemon startup.
package runtime

import (
	"strconv"

	"golang.org/x/sys/unix"
)

// Uname returns the host kernel identification as
// "sysname release machine (nodename)", or "unknown" if the syscall
// fails.
func Uname() string {
	var buf unix.Utsname

	if err := unix.Uname(&buf); err != nil {
		return "unknown"
	}

	return unix.ByteSliceToString(buf.Sysname[:]) +
		" " + unix.ByteSliceToString(buf.Release[:]) +
		" " + unix.ByteSliceToString(buf.Machine[:]) +
		" (" + unix.ByteSliceToString(buf.Nodename[:]) + ")"
}

// FdLimits returns the soft/hard RLIMIT_NOFILE pair as "soft/hard", or
// "unknown" if the syscall fails.
func FdLimits() string {
	var rl unix.Rlimit

	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return "unknown"
	}

	return formatLimit(rl.Cur) + "/" + formatLimit(rl.Max)
}

func formatLimit(v uint64) string {
	if v == unix.RLIM_INFINITY {
		return "unlimited"
	}

	return strconv.FormatUint(v, 10)
}
