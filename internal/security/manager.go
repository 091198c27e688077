// Package security implements privilege management: dropping a
// root-started daemon to an unprivileged user while keeping the
// capabilities it needs permitted, granting that user POSIX ACL access
// to the paths it must reach, and bracketing individual privileged
// operations in capability-raising security contexts.
package security

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"slices"
	"strconv"
	"syscall"

	"github.com/steiler/acls"
	"github.com/wneessen/go-fileperm"
	"kernel.org/pub/linux/libs/security/libcap/cap"
)

const deleteACLCtx = "delete_acl_entries"

type deleteACLEntriesCtxData struct {
	acls []acl
}

// Config declares what a Manager must arrange before the daemon starts
// serving.
type Config struct {
	RunAsUser      string      // user (name or uid) to switch to when started as root
	Caps           []cap.Value // capabilities the daemon keeps permitted
	ReadPaths      []string    // paths RunAsUser needs to read
	ReadWritePaths []string    // paths RunAsUser needs to read and write
}

// acl is one planned ACL entry on one path.
type acl struct {
	path  string
	entry *acls.ACLEntry
}

// Manager plans and applies the privilege transition for one daemon
// process.
type Manager struct {
	logger           *slog.Logger
	runAsUser        *user.User
	caps             []cap.Value
	acls             []acl
	securityContexts map[string]*SecurityContext
}

// NewManager resolves the run-as user and plans the ACL entries the
// configured paths need, without touching the system yet.
func NewManager(c *Config, logger *slog.Logger) (*Manager, error) {
	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	runAsUser, err := lookupUser(c.RunAsUser)
	if err != nil {
		return nil, err
	}

	uid64, err := strconv.ParseUint(runAsUser.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to parse uid %s: %w", runAsUser.Uid, err)
	}

	m := &Manager{
		logger:    logger,
		runAsUser: runAsUser,
		caps:      c.Caps,
	}

	uid := uint32(uid64)

	for _, path := range c.ReadPaths {
		if err := m.planACL(path, uid, false, currentUser); err != nil {
			return nil, err
		}
	}

	for _, path := range c.ReadWritePaths {
		if err := m.planACL(path, uid, true, currentUser); err != nil {
			return nil, err
		}
	}

	// Removing the ACL entries at shutdown happens after privileges are
	// dropped, so it needs CAP_FOWNER raised around just that call.
	if len(m.acls) > 0 {
		if !slices.Contains(m.caps, cap.FOWNER) {
			m.caps = append(m.caps, cap.FOWNER)
		}

		removeCtx, err := NewSecurityContext(&SCConfig{
			Name:   deleteACLCtx,
			Caps:   []cap.Value{cap.FOWNER},
			Func:   deleteACLEntries,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to setup security context: %w", err)
		}

		m.securityContexts = map[string]*SecurityContext{deleteACLCtx: removeCtx}
	}

	return m, nil
}

// lookupUser resolves a username first, then a raw uid.
func lookupUser(nameOrUID string) (*user.User, error) {
	u, err := user.Lookup(nameOrUID)
	if err == nil {
		return u, nil
	}

	byID, idErr := user.LookupId(nameOrUID)
	if idErr != nil {
		return nil, fmt.Errorf("could not lookup %s: %w", nameOrUID, errors.Join(err, idErr))
	}

	return byID, nil
}

// planACL records the ACL entry path needs for the run-as user, or
// nothing when the current permission bits already grant the access.
// Directories get the execute bit alongside whatever access files get.
func (m *Manager) planACL(path string, uid uint32, write bool, currentUser *user.User) error {
	if path == "" {
		return nil
	}

	fperms, err := fileperm.New(path)
	if err != nil {
		return fmt.Errorf("failed to inspect permissions of %s: %w", path, err)
	}

	isDir := fperms.Stat.Mode().IsDir()

	if reachable(fperms, currentUser, m.runAsUser, write, isDir) {
		return nil
	}

	var perms uint16 = 4
	if write {
		perms |= 2
	}

	if isDir {
		perms |= 1
	}

	m.acls = append(m.acls, acl{path: path, entry: acls.NewEntry(acls.TAG_ACL_USER, uid, perms)})

	return nil
}

// reachable reports whether runAsUser can already use the path with the
// wanted access: via the user bits when the current user is the run-as
// user, via the other bits otherwise.
func reachable(p fileperm.PermUser, currentUser, runAsUser *user.User, write, execute bool) bool {
	if currentUser.Uid == runAsUser.Uid {
		switch {
		case write && execute:
			return p.UserWriteReadExecutable()
		case write:
			return p.UserWriteReadable()
		case execute:
			return p.UserReadExecutable()
		default:
			return p.UserReadable()
		}
	}

	perm := p.Stat.Mode().Perm()
	if perm&fileperm.OsOthR == 0 {
		return false
	}

	if write && perm&fileperm.OsOthW == 0 {
		return false
	}

	if execute && perm&fileperm.OsOthX == 0 {
		return false
	}

	return true
}

// DropPrivileges switches a root-started daemon to the run-as user,
// keeping only the configured capabilities permitted. When already
// unprivileged it only trims whatever capability sets the binary was
// granted via file caps, and is a no-op for a capability-less process.
func (m *Manager) DropPrivileges(enableEffective bool) error {
	if syscall.Geteuid() != 0 {
		existing := cap.GetProc()
		if diff, err := existing.Cf(cap.NewSet()); err == nil && diff == 0 {
			return nil
		}

		return setCapabilities(m.caps, enableEffective)
	}

	if err := m.addACLEntries(); err != nil {
		return err
	}

	if err := m.changeUser(); err != nil {
		return err
	}

	if err := m.pathsReachable(); err != nil {
		return err
	}

	return setCapabilities(m.caps, enableEffective)
}

// DeleteACLEntries removes every ACL entry the manager applied, inside
// the CAP_FOWNER security context prepared at construction.
func (m *Manager) DeleteACLEntries() error {
	if len(m.acls) == 0 {
		return nil
	}

	removeCtx, ok := m.securityContexts[deleteACLCtx]
	if !ok {
		return fmt.Errorf("no security context found to remove ACLs: %w", ErrNoSecurityCtx)
	}

	if err := removeCtx.Exec(&deleteACLEntriesCtxData{acls: m.acls}); err != nil {
		return fmt.Errorf("failed to remove ACLs in a security context: %w", err)
	}

	return nil
}

func (m *Manager) addACLEntries() error {
	for _, a := range m.acls {
		if err := applyEntry(a.path, a.entry); err != nil {
			return err
		}

		m.logger.Debug("ACL applied", "path", a.path, "acl", a.entry)
	}

	return nil
}

// applyEntry loads path's access ACL, adds entry, and writes the result
// back. Shared with GrantRead's per-user key-file grants.
func applyEntry(path string, entry *acls.ACLEntry) error {
	a := &acls.ACL{}

	if err := a.Load(path, acls.PosixACLAccess); err != nil {
		return fmt.Errorf("failed to load acl entries for %s: %w", path, err)
	}

	if err := a.AddEntry(entry); err != nil {
		return fmt.Errorf("failed to add acl entry %s: %w", entry, err)
	}

	if err := a.Apply(path, acls.PosixACLAccess); err != nil {
		return fmt.Errorf("failed to apply acl entries to %s: %w", path, err)
	}

	return nil
}

// changeUser switches the process to the run-as user.
func (m *Manager) changeUser() error {
	uid, err := strconv.Atoi(m.runAsUser.Uid)
	if err != nil {
		return fmt.Errorf("could not parse uid %s: %w", m.runAsUser.Uid, err)
	}

	gid, err := strconv.Atoi(m.runAsUser.Gid)
	if err != nil {
		return fmt.Errorf("could not parse gid %s: %w", m.runAsUser.Gid, err)
	}

	// Group first: once the uid changes, setgid is no longer permitted.
	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("could not set gid to %d: %w", gid, err)
	}

	// cap.SetUID, unlike the raw syscall, preserves the permitted
	// capability set across the uid change.
	if err := cap.SetUID(uid); err != nil {
		return fmt.Errorf("could not setuid to %d: %w", uid, err)
	}

	m.logger.Debug("dropped privileges", "username", m.runAsUser.Username)

	return os.Setenv("HOME", m.runAsUser.HomeDir)
}

// pathsReachable stats every ACL'd path after the user change, catching
// parent directories that still block the run-as user despite the ACLs.
func (m *Manager) pathsReachable() error {
	for _, a := range m.acls {
		if _, err := os.Stat(a.path); err != nil {
			return fmt.Errorf("could not reach path %s after changing user to %s", a.path, m.runAsUser.Username)
		}
	}

	return nil
}

// DropCapabilities clears every capability set on the process.
func DropCapabilities() error {
	return setCapabilities(nil, false)
}

// setCapabilities replaces the process capability sets with exactly
// caps: always permitted, effective only when enableEffective (callers
// raise the effective set around individual privileged operations via a
// SecurityContext instead), never inheritable.
func setCapabilities(caps []cap.Value, enableEffective bool) error {
	set := cap.NewSet()

	for _, c := range caps {
		if err := set.SetFlag(cap.Permitted, true, c); err != nil {
			return fmt.Errorf("error setting permitted flag: %w", err)
		}

		if err := set.SetFlag(cap.Effective, enableEffective, c); err != nil {
			return fmt.Errorf("error setting effective flag: %w", err)
		}

		if err := set.SetFlag(cap.Inheritable, false, c); err != nil {
			return fmt.Errorf("error setting inheritable flag: %w", err)
		}
	}

	if err := set.SetProc(); err != nil {
		return fmt.Errorf("error applying process capabilities: %w", err)
	}

	return nil
}

func deleteACLEntries(data any) error {
	d, ok := data.(*deleteACLEntriesCtxData)
	if !ok {
		return ErrSecurityCtxDataAssertion
	}

	for _, a := range d.acls {
		loaded := &acls.ACL{}

		if err := loaded.Load(a.path, acls.PosixACLAccess); err != nil {
			return err
		}

		loaded.DeleteEntry(a.entry)

		if err := loaded.Apply(a.path, acls.PosixACLAccess); err != nil {
			return err
		}
	}

	return nil
}
