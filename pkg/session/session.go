// Package session implements the request pipeline: given a decoded,
// authorized request it resolves a profile, builds a plan, applies it,
// tracks discovered children, monitors nice drift, awaits termination,
// and rolls back every acquired shared-state token on termination.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/guapow/opt/pkg/monitor"
)

// stateToken is the common Acquire/Release surface every shared-state
// manager and stop-target manager satisfies, letting Session hold a plain
// slice of tokens to release at rollback without caring which concrete
// attribute each one guards.
type stateToken interface {
	Acquire(sessionID string) error
	Release(sessionID string) error
}

// Session is a live optimization record: one request's worth of target
// PID, tracked descendants, held shared-state tokens, and nice-watch
// contract. It is created once a request's options resolve (an empty
// option set included) and destroyed once every tracked PID has exited and rollback has run.
type Session struct {
	ID        string
	User      string
	TargetPID int
	CreatedAt time.Time

	nice *monitor.NiceWatch

	mu      sync.Mutex
	tracked map[int]struct{}
	tokens  []stateToken

	cancel context.CancelFunc
}

func newSession(id, user string, targetPID int, niceInterval time.Duration, logger *slog.Logger) *Session {
	return &Session{
		ID:        id,
		User:      user,
		TargetPID: targetPID,
		CreatedAt: time.Now(),
		tracked:   map[int]struct{}{targetPID: {}},
		nice:      monitor.NewNiceWatch(niceInterval, logger),
	}
}

func (s *Session) track(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracked[pid] = struct{}{}
}

func (s *Session) untrack(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tracked, pid)
}

func (s *Session) trackedPIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int, 0, len(s.tracked))
	for pid := range s.tracked {
		out = append(out, pid)
	}

	return out
}

func (s *Session) addToken(t stateToken) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = append(s.tokens, t)
}

// releaseTokens returns and clears the held token set, so rollback can
// run outside the lock and never double-release.
func (s *Session) releaseTokens() []stateToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.tokens
	s.tokens = nil

	return tokens
}
