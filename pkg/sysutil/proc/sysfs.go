package proc

import "os"

// onlineCPUPath is a var so tests can point it at a fixture file instead
// of the real sysfs node.
var onlineCPUPath = "/sys/devices/system/cpu/online" //nolint:gochecknoglobals

func readOnlineFile() ([]byte, error) {
	return os.ReadFile(onlineCPUPath) //nolint:gosec
}
