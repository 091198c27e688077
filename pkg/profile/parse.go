package profile

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/guapow/opt/internal/common"
)

// Parse reads the line-oriented profile grammar: one `key` or `key=value`
// token per line, blank lines ignored, `#` starts a line comment. Unknown
// keys are logged at warn level and otherwise ignored, never rejected.
func Parse(data []byte, logger *slog.Logger) (*Options, error) {
	opts := New()

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}

		if line == "" {
			continue
		}

		key, value, hasValue := splitToken(line)

		if err := Apply(opts, key, value, hasValue, logger); err != nil {
			return nil, fmt.Errorf("invalid option %q: %w", line, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	return opts, nil
}

// splitToken splits a single `key` or `key=value` token.
func splitToken(tok string) (key, value string, hasValue bool) {
	if i := strings.Index(tok, "="); i >= 0 {
		return strings.TrimSpace(tok[:i]), strings.TrimSpace(tok[i+1:]), true
	}

	return tok, "", false
}

// Apply interprets a single decoded key/value token against opts. It is
// shared by the profile-file parser and the request body decoder, which
// tokenize differently (newline-delimited vs. space-delimited) but apply
// identically.
func Apply(opts *Options, key, value string, hasValue bool, logger *slog.Logger) error { //nolint:cyclop
	switch key {
	case "proc.nice":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("proc.nice: %w", err)
		}

		opts.ProcNice = &n

	case "proc.nice.watch":
		opts.ProcNiceWatch = boolValue(value, hasValue)

	case "proc.nice.delay":
		d, err := parseSeconds(value)
		if err != nil {
			return fmt.Errorf("proc.nice.delay: %w", err)
		}

		opts.ProcNiceDelay = d

	case "proc.io.class":
		opts.ProcIOClass = IOClass(value)

	case "proc.io.nice":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("proc.io.nice: %w", err)
		}

		opts.ProcIONice = &n

	case "proc.policy":
		opts.ProcPolicy = Policy(value)

	case "proc.policy.priority":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("proc.policy.priority: %w", err)
		}

		opts.ProcPolicyPriority = &n

	case "proc.affinity":
		cpus, err := common.ExpandIntRanges(value)
		if err != nil {
			return fmt.Errorf("proc.affinity: %w", err)
		}

		opts.ProcAffinity = cpus

	case "proc.env":
		opts.ProcEnv = append(opts.ProcEnv, parseEnvVar(value))

	case "cpu.performance":
		opts.CPUPerformance = boolValue(value, hasValue)

	case "gpu.performance":
		opts.GPUPerformance = boolValue(value, hasValue)

	case "compositor.off":
		opts.CompositorOff = boolValue(value, hasValue)

	case "mouse.hidden":
		opts.MouseHidden = boolValue(value, hasValue)

	case "stop.before":
		opts.StopBefore = splitList(value)

	case "stop.before.relaunch":
		opts.StopBeforeRelaunch = boolValue(value, hasValue)

	case "stop.after":
		opts.StopAfter = splitList(value)

	case "stop.after.relaunch":
		opts.StopAfterRelaunch = boolValue(value, hasValue)

	case "launcher":
		for _, entry := range splitList(value) {
			rule, err := parseLauncherRule(entry)
			if err != nil {
				return err
			}

			opts.Launcher = append(opts.Launcher, rule)
		}

	case "launcher.skip_mapping":
		opts.LauncherSkipMapping = boolValue(value, hasValue)

	case "steam":
		opts.Steam = boolValue(value, hasValue)

	default:
		if phase, field, ok := parseScriptKey(key); ok {
			return applyScriptField(opts, phase, field, value, hasValue)
		}

		if logger != nil {
			logger.Warn("ignoring unrecognized profile option", "key", key)
		}
	}

	return nil
}

func parseScriptKey(key string) (phase ScriptPhaseName, field string, ok bool) {
	const prefix = "scripts."

	if !strings.HasPrefix(key, prefix) {
		return "", "", false
	}

	rest := strings.TrimPrefix(key, prefix)
	parts := strings.SplitN(rest, ".", 2)

	switch ScriptPhaseName(parts[0]) {
	case PhaseBefore, PhaseAfter, PhaseFinish:
	default:
		return "", "", false
	}

	if len(parts) == 1 {
		return ScriptPhaseName(parts[0]), "", true
	}

	return ScriptPhaseName(parts[0]), parts[1], true
}

func applyScriptField(opts *Options, phase ScriptPhaseName, field, value string, hasValue bool) error {
	p := opts.Scripts[phase]

	switch field {
	case "":
		p.Commands = splitList(value)
	case "wait":
		p.Wait = boolValue(value, hasValue)
	case "timeout":
		d, err := parseSeconds(value)
		if err != nil {
			return fmt.Errorf("scripts.%s.timeout: %w", phase, err)
		}

		p.Timeout = &d
	case "root":
		p.Root = boolValue(value, hasValue)
	default:
		return fmt.Errorf("unrecognized scripts field %q", field)
	}

	opts.Scripts[phase] = p

	return nil
}

func parseEnvVar(value string) EnvVar {
	if i := strings.Index(value, ":"); i >= 0 {
		return EnvVar{Key: value[:i], Value: value[i+1:]}
	}

	return EnvVar{Key: value, Unset: true}
}

func parseLauncherRule(entry string) (LauncherRule, error) {
	i := strings.Index(entry, ":")
	if i < 0 {
		return LauncherRule{}, fmt.Errorf("malformed launcher rule %q, want exe:target", entry)
	}

	return LauncherRule{
		Exe:    entry[:i],
		Target: ParseExePattern(entry[i+1:]),
	}, nil
}

// ParseExePattern resolves the `n%`/`c%`/leading-`/` prefix conventions
// described for launcher and watcher mapping files. Shared by the
// per-request `launcher` option grammar and the on-disk launchers file
// grammar.
func ParseExePattern(target string) ExePattern {
	switch {
	case strings.HasPrefix(target, "n%"):
		return ExePattern{Kind: PatternName, Pattern: target[2:]}
	case strings.HasPrefix(target, "c%"):
		return ExePattern{Kind: PatternCommand, Pattern: target[2:]}
	case strings.HasPrefix(target, "/"):
		return ExePattern{Kind: PatternCommand, Pattern: target}
	default:
		return ExePattern{Kind: PatternName, Pattern: target}
	}
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

func boolValue(value string, hasValue bool) bool {
	if !hasValue || value == "" {
		return true
	}

	switch value {
	case "1", "true":
		return true
	case "0", "false":
		return false
	default:
		return true
	}
}

func parseSeconds(value string) (time.Duration, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}

	return time.Duration(f * float64(time.Second)), nil
}
