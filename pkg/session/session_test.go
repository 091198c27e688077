package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionTracksTargetPIDFromStart(t *testing.T) {
	sess := newSession("s1", "alice", 99, time.Second, nil)

	assert.Equal(t, []int{99}, sess.trackedPIDs())
}

func TestSessionTrackUntrack(t *testing.T) {
	sess := newSession("s1", "alice", 1, time.Second, nil)

	sess.track(2)
	assert.ElementsMatch(t, []int{1, 2}, sess.trackedPIDs())

	sess.untrack(1)
	assert.Equal(t, []int{2}, sess.trackedPIDs())
}

type errToken struct{ err error }

func (e errToken) Acquire(string) error { return e.err }
func (e errToken) Release(string) error { return e.err }

func TestSessionReleaseTokensClearsAndReturnsOnce(t *testing.T) {
	sess := newSession("s1", "alice", 1, time.Second, nil)

	tok1 := noopToken{}
	tok2 := errToken{err: errors.New("boom")}

	sess.addToken(tok1)
	sess.addToken(tok2)

	released := sess.releaseTokens()
	require.Len(t, released, 2)

	assert.Empty(t, sess.releaseTokens())
}
