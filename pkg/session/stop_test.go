package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStopRegistryReusesManagerPerName(t *testing.T) {
	r := newStopRegistry()

	m1 := r.manager("compositor", false)
	m2 := r.manager("compositor", false)

	assert.Same(t, m1, m2)
}

func TestStopRegistryDistinctNamesGetDistinctManagers(t *testing.T) {
	r := newStopRegistry()

	m1 := r.manager("foo", false)
	m2 := r.manager("bar", false)

	assert.NotSame(t, m1, m2)
}

func TestPgrepNoMatchIsNotAnError(t *testing.T) {
	pids, err := pgrep("definitely-not-a-real-process-name-xyz")

	assert.NoError(t, err)
	assert.Empty(t, pids)
}
