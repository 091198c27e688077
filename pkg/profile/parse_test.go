package profile

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseBasic(t *testing.T) {
	data := []byte(`
# a comment
proc.nice=-5
proc.nice.watch
proc.io.class=best_effort
proc.io.nice=3
proc.policy=fifo
proc.policy.priority=10
proc.affinity=0-1,3
cpu.performance=true
gpu.performance
compositor.off=1
mouse.hidden=false
stop.before=discord,steam-overlay
stop.before.relaunch
launcher=steam:n%game,wine:/usr/bin/game.exe
steam=1
`)

	opts, err := Parse(data, testLogger())
	require.NoError(t, err)

	require.NotNil(t, opts.ProcNice)
	assert.Equal(t, -5, *opts.ProcNice)
	assert.True(t, opts.ProcNiceWatch)
	assert.Equal(t, IOClassBestEffort, opts.ProcIOClass)
	require.NotNil(t, opts.ProcIONice)
	assert.Equal(t, 3, *opts.ProcIONice)
	assert.Equal(t, PolicyFifo, opts.ProcPolicy)
	require.NotNil(t, opts.ProcPolicyPriority)
	assert.Equal(t, 10, *opts.ProcPolicyPriority)
	assert.Equal(t, []int{0, 1, 3}, opts.ProcAffinity)
	assert.True(t, opts.CPUPerformance)
	assert.True(t, opts.GPUPerformance)
	assert.True(t, opts.CompositorOff)
	assert.False(t, opts.MouseHidden)
	assert.Equal(t, []string{"discord", "steam-overlay"}, opts.StopBefore)
	assert.True(t, opts.StopBeforeRelaunch)
	assert.True(t, opts.Steam)

	require.Len(t, opts.Launcher, 2)
	assert.Equal(t, "steam", opts.Launcher[0].Exe)
	assert.Equal(t, ExePattern{Kind: PatternName, Pattern: "game"}, opts.Launcher[0].Target)
	assert.Equal(t, "wine", opts.Launcher[1].Exe)
	assert.Equal(t, ExePattern{Kind: PatternCommand, Pattern: "/usr/bin/game.exe"}, opts.Launcher[1].Target)
}

func TestParseEnvVar(t *testing.T) {
	opts, err := Parse([]byte("proc.env=DISPLAY:9\nproc.env=NOTIFY"), testLogger())
	require.NoError(t, err)
	require.Len(t, opts.ProcEnv, 2)
	assert.Equal(t, EnvVar{Key: "DISPLAY", Value: "9"}, opts.ProcEnv[0])
	assert.Equal(t, EnvVar{Key: "NOTIFY", Unset: true}, opts.ProcEnv[1])
}

func TestParseScripts(t *testing.T) {
	data := []byte(`
scripts.after=/bin/a,/bin/b
scripts.after.wait=true
scripts.after.timeout=2.5
scripts.after.root
`)

	opts, err := Parse(data, testLogger())
	require.NoError(t, err)

	phase := opts.Scripts[PhaseAfter]
	assert.Equal(t, []string{"/bin/a", "/bin/b"}, phase.Commands)
	assert.True(t, phase.Wait)
	require.NotNil(t, phase.Timeout)
	assert.Equal(t, 2500*time.Millisecond, *phase.Timeout)
	assert.True(t, phase.Root)
}

func TestParseUnknownKeyIgnored(t *testing.T) {
	opts, err := Parse([]byte("not.a.real.option=1"), testLogger())
	require.NoError(t, err)
	assert.NotNil(t, opts)
}

func TestParseBooleanCoercion(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"steam", true},
		{"steam=1", true},
		{"steam=true", true},
		{"steam=0", false},
		{"steam=false", false},
	}

	for _, test := range tests {
		opts, err := Parse([]byte(test.line), testLogger())
		require.NoError(t, err)
		assert.Equal(t, test.want, opts.Steam, test.line)
	}
}

func TestParseInvalidProcNice(t *testing.T) {
	_, err := Parse([]byte("proc.nice=abc"), testLogger())
	require.Error(t, err)
}

func TestParseMalformedLauncherRule(t *testing.T) {
	_, err := Parse([]byte("launcher=steam-no-colon"), testLogger())
	require.Error(t, err)
}
