package security

import (
	"fmt"
	"os/user"
	"strconv"

	"github.com/steiler/acls"
)

// GrantRead adds a POSIX ACL read entry for each named user on path,
// leaving the base permission bits alone. The transport uses it to
// publish the request-encryption key file to exactly the users in
// request.allowed_users instead of making it world-readable.
func GrantRead(path string, usernames []string) error {
	for _, name := range usernames {
		if name == "" {
			continue
		}

		u, err := user.Lookup(name)
		if err != nil {
			return fmt.Errorf("could not lookup %s: %w", name, err)
		}

		uid, err := strconv.ParseUint(u.Uid, 10, 32)
		if err != nil {
			return fmt.Errorf("could not parse uid %s: %w", u.Uid, err)
		}

		if err := applyEntry(path, acls.NewEntry(acls.TAG_ACL_USER, uint32(uid), 4)); err != nil {
			return err
		}
	}

	return nil
}

// DefaultRunAsUser returns the user the daemon should drop privileges to
// when started as root: the current unprivileged user if not root, or
// "nobody" otherwise.
func DefaultRunAsUser() (string, error) {
	current, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to get current user: %w", err)
	}

	if current.Uid != "0" {
		return current.Username, nil
	}

	return "nobody", nil
}
