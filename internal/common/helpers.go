// Package common provides general utility helper functions shared across
// the daemon.
package common

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

// Timespan is a custom type to format time.Duration.
type Timespan time.Duration

// Format formats the time.Duration.
func (t Timespan) Format(format string) string {
	z := time.Unix(0, 0).UTC()
	duration := time.Duration(t)
	day := 24 * time.Hour

	if duration > day {
		days := duration / day

		return fmt.Sprintf("%d-%s", days, z.Add(duration).Format(format))
	}

	return z.Add(duration).Format(format)
}

// ExpandIntRanges expands a comma-separated list of integers and ranges
// (e.g. "0-3,6,8-9") into a sorted-by-appearance slice of ints. It is used
// for both `proc.affinity` lists and the `/sys/devices/system/cpu/online`
// range syntax, which share the same grammar.
func ExpandIntRanges(exp string) ([]int, error) {
	var out []int

	for _, part := range strings.Split(exp, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		bounds := strings.SplitN(part, "-", 2)

		start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", part, err)
		}

		end := start
		if len(bounds) == 2 {
			end, err = strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", part, err)
			}
		}

		for i := start; i <= end; i++ {
			out = append(out, i)
		}
	}

	return out, nil
}

// TimeTrack logs the elapsed time since start under name at debug level.
func TimeTrack(start time.Time, name string, logger *slog.Logger) {
	elapsed := time.Since(start)
	logger.Debug(name, "duration", elapsed)
}

// GetFreePort makes the closing of the listener the responsibility of the
// caller, so that concurrent callers allocating a port each don't collide.
func GetFreePort() (int, *net.TCPListener, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, nil, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, nil, err
	}

	tcpAddr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, nil, errors.New("failed type assertion")
	}

	return tcpAddr.Port, l, nil
}
