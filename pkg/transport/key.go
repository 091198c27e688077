package transport

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/guapow/opt/internal/security"
)

// PublishKey writes key to a restricted-permission file under dir (mode
// 0600, owner-only) and grants read access to each name in
// allowedUsers via POSIX ACLs, without widening the file's base
// permission bits. It returns the path written.
func PublishKey(dir string, key [KeySize]byte, allowedUsers []string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil { //nolint:gosec
		return "", fmt.Errorf("failed to create key directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, "opt.key")

	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return "", fmt.Errorf("failed to publish request key: %w", err)
	}

	if err := security.GrantRead(path, allowedUsers); err != nil {
		return "", fmt.Errorf("failed to grant key read access: %w", err)
	}

	return path, nil
}

// DefaultKeyDir resolves the directory the daemon publishes its ephemeral
// key under: $XDG_RUNTIME_DIR/guapow if set, otherwise a subdirectory of
// the system temp dir.
func DefaultKeyDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "guapow")
	}

	return filepath.Join(os.TempDir(), "guapow")
}
