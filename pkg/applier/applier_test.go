package applier

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/guapow/opt/pkg/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requireTool(t *testing.T, name string) {
	t.Helper()

	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available in this environment", name)
	}
}

func TestNiceAppliesToSelf(t *testing.T) {
	err := Nice(context.Background(), os.Getpid(), 0, 0)
	require.NoError(t, err)
}

func TestNiceRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Nice(ctx, os.Getpid(), 0, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestIONiceRejectsRealtimeForNonRoot(t *testing.T) {
	err := IONice(os.Getpid(), profile.IOClassRealtime, 0, false, testLogger())
	require.NoError(t, err, "rejection is a logged warning, not an error")
}

func TestIONiceRunsForBestEffort(t *testing.T) {
	requireTool(t, "ionice")

	err := IONice(os.Getpid(), profile.IOClassBestEffort, 4, false, testLogger())
	require.NoError(t, err)
}

func TestSchedPolicyRejectsInvalidRealtimePriority(t *testing.T) {
	err := SchedPolicy(os.Getpid(), profile.PolicyFifo, 0)
	require.ErrorIs(t, err, ErrInvalidPriority)

	err = SchedPolicy(os.Getpid(), profile.PolicyFifo, 100)
	require.ErrorIs(t, err, ErrInvalidPriority)
}

func TestSchedPolicyIgnoresPriorityForNonRealtime(t *testing.T) {
	requireTool(t, "chrt")

	err := SchedPolicy(os.Getpid(), profile.PolicyOther, 50)
	require.NoError(t, err)
}

func TestAffinityEmptyFilterIsNoop(t *testing.T) {
	err := Affinity(os.Getpid(), []int{999999}, testLogger())
	require.NoError(t, err)
}

func TestAffinityRunsForOnlineCPU(t *testing.T) {
	requireTool(t, "taskset")

	err := Affinity(os.Getpid(), []int{0}, testLogger())
	require.NoError(t, err)
}

func TestUnrecognizedPolicyErrors(t *testing.T) {
	err := SchedPolicy(os.Getpid(), profile.Policy("bogus"), 0)
	assert.Error(t, err)
}

func TestUnrecognizedIOClassErrors(t *testing.T) {
	err := IONice(os.Getpid(), profile.IOClass("bogus"), 0, true, testLogger())
	assert.Error(t, err)
}
