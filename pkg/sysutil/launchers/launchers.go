// Package launchers loads the global launcher/watcher mapping file and
// matches process name/command strings against its glob-style patterns.
package launchers

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/guapow/opt/pkg/profile"
)

// Load reads a launchers file: one `exe=target` rule per line, same
// `n%`/`c%`/leading-`/`/`*`-glob grammar as the per-request `launcher`
// option. Blank lines and `#` comments are ignored.
func Load(data []byte) ([]profile.LauncherRule, error) {
	var rules []profile.LauncherRule

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		i := strings.Index(line, "=")
		if i < 0 {
			return nil, fmt.Errorf("malformed launcher line %q, want exe=target", line)
		}

		rules = append(rules, profile.LauncherRule{
			Exe:    strings.TrimSpace(line[:i]),
			Target: profile.ParseExePattern(strings.TrimSpace(line[i+1:])),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read launchers file: %w", err)
	}

	return rules, nil
}

// Compile translates an ExePattern's glob syntax (`*` meaning any
// sequence) into an anchored regexp.
func Compile(p profile.ExePattern) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(p.Pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")

	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil, fmt.Errorf("invalid launcher pattern %q: %w", p.Pattern, err)
	}

	return re, nil
}

// Merge applies per-request rules over the global file's rules: a
// per-request rule for a given `exe` masks any global rule for the same
// `exe`.
func Merge(global, perRequest []profile.LauncherRule) []profile.LauncherRule {
	overridden := make(map[string]struct{}, len(perRequest))
	for _, r := range perRequest {
		overridden[r.Exe] = struct{}{}
	}

	merged := make([]profile.LauncherRule, 0, len(global)+len(perRequest))

	for _, r := range global {
		if _, masked := overridden[r.Exe]; !masked {
			merged = append(merged, r)
		}
	}

	return append(merged, perRequest...)
}
