package osexec

import (
	"context"
	"os/user"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	out, err := Execute(
		"bash",
		[]string{"-c", "echo ${VAR1} ${VAR2}"},
		[]string{"VAR1=1", "VAR2=2"},
	)
	require.NoError(t, err)
	assert.Equal(t, "1 2", strings.TrimSpace(string(out)))

	_, err = Execute("exit", []string{"1"}, nil)
	require.Error(t, err)
}

func TestExecuteContextKillsOnExpiry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := ExecuteContext(ctx, "sleep", []string{"300"}, nil)
	require.Error(t, err)
}

func TestExecuteAs(t *testing.T) {
	_, err := ExecuteAs("sleep", []string{"0.001"}, -65534, 65534, nil)
	require.ErrorIs(t, err, ErrInvalidUID)

	_, err = ExecuteAs("sleep", []string{"0.001"}, 65534, -65534, nil)
	require.ErrorIs(t, err, ErrInvalidGID)

	currentUser, err := user.Current()
	require.NoError(t, err)

	_, err = ExecuteAs("sleep", []string{"0.001"}, 65534, 65534, nil)
	if currentUser.Uid == "0" {
		require.NoError(t, err)
	} else {
		require.Error(t, err, "expected error executing as nobody user")
	}
}

func TestExecuteAsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	currentUser, err := user.Current()
	require.NoError(t, err)

	_, err = ExecuteAsContext(ctx, "sleep", []string{"0.001"}, 65534, 65534, nil)
	if currentUser.Uid == "0" {
		require.NoError(t, err)
	} else {
		require.Error(t, err, "expected error executing as nobody user")
	}
}
