package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/guapow/opt/pkg/profile"
	"github.com/jellydator/ttlcache/v3"
)

// profileStore resolves named profiles from disk: the user config
// directory takes precedence over the system one. When
// caching is enabled it memoizes every resolved name for the daemon's
// lifetime, matching the documented "insert on miss, never evict" policy
// for profile.cache=true; a zero-TTL ttlcache entry never expires on its
// own, so no eviction loop is needed.
type profileStore struct {
	userDir   string
	systemDir string
	logger    *slog.Logger

	cache *ttlcache.Cache[string, *profile.Options] // nil when profile.cache=false
}

func newProfileStore(userDir, systemDir string, cacheEnabled bool, logger *slog.Logger) *profileStore {
	s := &profileStore{userDir: userDir, systemDir: systemDir, logger: logger}

	if cacheEnabled {
		s.cache = ttlcache.New[string, *profile.Options]()
	}

	return s
}

// resolve loads the profile for name, falling back to "default" on miss
// and finally an empty (no-op) Options if neither exists.
func (s *profileStore) resolve(name string) (*profile.Options, error) {
	if name == "" {
		name = "default"
	}

	if opts, ok := s.fromCache(name); ok {
		return opts, nil
	}

	opts, err := s.load(name)
	if err != nil {
		return nil, err
	}

	if opts == nil && name != "default" {
		opts, err = s.load("default")
		if err != nil {
			return nil, err
		}
	}

	if opts == nil {
		opts = profile.New()
	}

	s.toCache(name, opts)

	return opts, nil
}

func (s *profileStore) load(name string) (*profile.Options, error) {
	path := s.find(name)
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", name, err)
	}

	opts, err := profile.Parse(data, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", name, err)
	}

	return opts, nil
}

// find returns the first existing candidate path for name, user directory
// first, or "" if neither exists.
func (s *profileStore) find(name string) string {
	for _, dir := range []string{s.userDir, s.systemDir} {
		if dir == "" {
			continue
		}

		candidate := filepath.Join(dir, name+".profile")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return ""
}

func (s *profileStore) fromCache(name string) (*profile.Options, bool) {
	if s.cache == nil {
		return nil, false
	}

	item := s.cache.Get(name)
	if item == nil {
		return nil, false
	}

	return item.Value(), true
}

func (s *profileStore) toCache(name string, opts *profile.Options) {
	if s.cache == nil {
		return
	}

	s.cache.Set(name, opts, ttlcache.NoTTL)
}

// preCache implements `profile.pre_caching=true`: eagerly resolve every
// `*.profile` file found in the user/system config directories at
// startup, instead of waiting for each name's first request to populate
// the cache. A no-op when caching itself is disabled.
func (s *profileStore) preCache() {
	if s.cache == nil {
		return
	}

	seen := make(map[string]struct{})

	for _, dir := range []string{s.userDir, s.systemDir} {
		if dir == "" {
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		for _, e := range entries {
			name, ok := strings.CutSuffix(e.Name(), ".profile")
			if !ok {
				continue
			}

			if _, ok := seen[name]; ok {
				continue
			}

			seen[name] = struct{}{}

			if _, err := s.resolve(name); err != nil && s.logger != nil {
				s.logger.Warn("failed to pre-cache profile", "name", name, "err", err)
			}
		}
	}
}
