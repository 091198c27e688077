package settings

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/guapow/opt/internal/common"
)

const (
	systemConfigPath = "/etc/guapow/opt.conf"
	userConfigDir    = ".config/guapow"
	userConfigFile   = "opt.conf"

	minCheckFinishedInterval = 500 * time.Millisecond
)

// ResolvePath returns the opt.conf path to load: explicit if non-empty,
// otherwise the user config (user precedence) if it exists, otherwise the
// system config.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	home, err := os.UserHomeDir()
	if err == nil {
		userPath := filepath.Join(home, userConfigDir, userConfigFile)
		if _, statErr := os.Stat(userPath); statErr == nil {
			return userPath, nil
		}
	}

	return systemConfigPath, nil
}

// Load reads opt.conf at path, applying its keys on top of Default().
// A missing file is not an error: the daemon runs on defaults.
func Load(path string, logger *slog.Logger) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, hasValue := splitToken(line)
		if !hasValue {
			if logger != nil {
				logger.Warn("ignoring bare key in opt.conf", "key", key)
			}

			continue
		}

		if err := apply(s, key, value, logger); err != nil {
			return nil, fmt.Errorf("opt.conf: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if s.CheckFinishedInterval < minCheckFinishedInterval {
		s.CheckFinishedInterval = minCheckFinishedInterval
	}

	return s, nil
}

func splitToken(tok string) (key, value string, hasValue bool) {
	if i := strings.Index(tok, "="); i >= 0 {
		return strings.TrimSpace(tok[:i]), strings.TrimSpace(tok[i+1:]), true
	}

	return tok, "", false
}

func apply(s *Settings, key, value string, logger *slog.Logger) error { //nolint:cyclop
	switch key {
	case "port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}

		s.Port = n

	case "compositor":
		s.Compositor = value

	case "scripts.allow_root":
		s.ScriptsAllowRoot = boolValue(value)

	case "check.finished.interval":
		d, err := parseSeconds(value)
		if err != nil {
			return fmt.Errorf("check.finished.interval: %w", err)
		}

		s.CheckFinishedInterval = d

	case "launcher.mapping.timeout":
		d, err := parseSeconds(value)
		if err != nil {
			return fmt.Errorf("launcher.mapping.timeout: %w", err)
		}

		s.LauncherMappingTimeout = d

	case "launcher.mapping.found_timeout":
		d, err := parseSeconds(value)
		if err != nil {
			return fmt.Errorf("launcher.mapping.found_timeout: %w", err)
		}

		s.LauncherMappingFoundTimeout = d

	case "gpu.cache":
		s.GPUCache = boolValue(value)

	case "gpu.id":
		ids, err := common.ExpandIntRanges(value)
		if err != nil {
			return fmt.Errorf("gpu.id: %w", err)
		}

		s.GPUID = ids

	case "gpu.only_connected":
		s.GPUOnlyConnected = boolValue(value)

	case "gpu.vendor":
		s.GPUVendor = value

	case "cpu.performance":
		s.CPUPerformance = boolValue(value)

	case "request.allowed_users":
		s.RequestAllowedUsers = splitList(value)

	case "request.encrypted":
		s.RequestEncrypted = boolValue(value)

	case "profile.cache":
		s.ProfileCache = boolValue(value)

	case "profile.pre_caching":
		s.ProfilePreCaching = boolValue(value)

	case "nice.check.interval":
		d, err := parseSeconds(value)
		if err != nil {
			return fmt.Errorf("nice.check.interval: %w", err)
		}

		s.NiceCheckInterval = d

	case "optimize_children.timeout":
		d, err := parseSeconds(value)
		if err != nil {
			return fmt.Errorf("optimize_children.timeout: %w", err)
		}

		s.OptimizeChildrenTimeout = d

	case "optimize_children.found_timeout":
		d, err := parseSeconds(value)
		if err != nil {
			return fmt.Errorf("optimize_children.found_timeout: %w", err)
		}

		s.OptimizeChildrenFoundTimeout = d

	default:
		if logger != nil {
			logger.Warn("ignoring unrecognized opt.conf key", "key", key)
		}

		return nil
	}

	return nil
}

func boolValue(value string) bool {
	switch value {
	case "1", "true":
		return true
	default:
		return false
	}
}

func parseSeconds(value string) (time.Duration, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}

	return time.Duration(f * float64(time.Second)), nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}
