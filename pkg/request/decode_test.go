package request

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

func TestDecodeWithProfileName(t *testing.T) {
	body := "request.pid=1234 request.user=alice request.profile=gaming"

	req, err := Decode([]byte(body), time.Unix(0, 0), testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1234, req.PID)
	assert.Equal(t, "alice", req.User)
	assert.Equal(t, "gaming", req.ProfileName)
	assert.Nil(t, req.Inline)
	assert.NotEmpty(t, req.CorrelationID)
}

func TestDecodeWithInlineOptions(t *testing.T) {
	body := "request.pid=1234\nrequest.user=alice\nproc.nice=-5\ncpu.performance"

	req, err := Decode([]byte(body), time.Now(), testLogger())
	require.NoError(t, err)
	require.NotNil(t, req.Inline)
	require.NotNil(t, req.Inline.ProcNice)
	assert.Equal(t, -5, *req.Inline.ProcNice)
	assert.True(t, req.Inline.CPUPerformance)
	assert.Empty(t, req.ProfileName)
}

func TestDecodeProfileAdd(t *testing.T) {
	body := "request.pid=1234 request.user=alice request.profile=gaming request.profile_add=extra"

	req, err := Decode([]byte(body), time.Now(), testLogger())
	require.NoError(t, err)
	assert.Equal(t, "extra", req.ProfileAdd)
}

func TestDecodeMissingUser(t *testing.T) {
	_, err := Decode([]byte("request.pid=1234 proc.nice=1"), time.Now(), testLogger())
	require.Error(t, err)
}

func TestDecodeMissingPID(t *testing.T) {
	_, err := Decode([]byte("request.user=alice proc.nice=1"), time.Now(), testLogger())
	require.Error(t, err)
}

func TestDecodeNeitherProfileNorInline(t *testing.T) {
	_, err := Decode([]byte("request.pid=1234 request.user=alice"), time.Now(), testLogger())
	require.ErrorIs(t, err, ErrNoOptionSet)
}

func TestDecodeBothProfileAndInline(t *testing.T) {
	body := "request.pid=1234 request.user=alice request.profile=gaming proc.nice=-5"

	_, err := Decode([]byte(body), time.Now(), testLogger())
	require.ErrorIs(t, err, ErrNoOptionSet)
}

func TestDecodeCorrelationIDPreserved(t *testing.T) {
	body := "request.pid=1 request.user=a request.profile=p request.id=abc-123"

	req, err := Decode([]byte(body), time.Now(), testLogger())
	require.NoError(t, err)
	assert.Equal(t, "abc-123", req.CorrelationID)
}
