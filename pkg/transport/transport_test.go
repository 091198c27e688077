package transport

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/guapow/opt/internal/common"
	"github.com/guapow/opt/pkg/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()

	port, ln, err := common.GetFreePort()
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	return port
}

func send(t *testing.T, port int, body []byte) []byte {
	t.Helper()

	var (
		conn net.Conn
		err  error
	)

	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err == nil {
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(body)
	require.NoError(t, err)

	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(time.Second))

	n, _ := conn.Read(buf)

	return buf[:n]
}

func runServer(t *testing.T, cfg Config, handler Handler) (int, context.CancelFunc) {
	t.Helper()

	// The request bodies below claim arbitrary users that never own the
	// test connection; make the owner cross-check inconclusive so only the
	// allow-list and crypto paths under test decide the outcome.
	origNetTCP := procNetTCPPath
	procNetTCPPath = filepath.Join(t.TempDir(), "no-proc-net-tcp")

	t.Cleanup(func() { procNetTCPPath = origNetTCP })

	cfg.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())

	srv := NewServer(cfg, handler)

	errCh := make(chan error, 1)

	go func() { errCh <- srv.ListenAndServe(ctx) }()

	// give the accept loop a moment to bind.
	time.Sleep(20 * time.Millisecond)

	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	return cfg.Port, cancel
}

func TestServerDispatchesCleartextRequest(t *testing.T) {
	var (
		mu  sync.Mutex
		got *request.Request
	)

	port, _ := runServer(t, Config{Encrypted: false}, func(_ context.Context, req *request.Request) {
		mu.Lock()
		got = req
		mu.Unlock()
	})

	send(t, port, []byte("request.user=alice request.pid=123 request.profile=default"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return got != nil
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "alice", got.User)
	assert.Equal(t, 123, got.PID)
}

func TestServerRejectsGarbageWithNoBody(t *testing.T) {
	var called bool

	port, _ := runServer(t, Config{Encrypted: false}, func(context.Context, *request.Request) {
		called = true
	})

	reply := send(t, port, []byte("not a valid request at all"))

	assert.Empty(t, reply)
	assert.False(t, called)
}

func TestServerEncryptedRejectsWrongKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	var called bool

	port, _ := runServer(t, Config{Encrypted: true, Key: key}, func(context.Context, *request.Request) {
		called = true
	})

	other, err := GenerateKey()
	require.NoError(t, err)

	ciphertext, err := Seal([]byte("request.user=alice request.pid=1 request.profile=default"), &other)
	require.NoError(t, err)

	reply := send(t, port, ciphertext)

	assert.Empty(t, reply)
	assert.False(t, called)
}

func TestServerEncryptedAcceptsCorrectKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got *request.Request
	)

	port, _ := runServer(t, Config{Encrypted: true, Key: key}, func(_ context.Context, req *request.Request) {
		mu.Lock()
		got = req
		mu.Unlock()
	})

	ciphertext, err := Seal([]byte("request.user=alice request.pid=1 request.profile=default"), &key)
	require.NoError(t, err)

	send(t, port, ciphertext)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return got != nil
	}, time.Second, 10*time.Millisecond)
}

func TestServerRejectsDisallowedUser(t *testing.T) {
	var called bool

	port, _ := runServer(t, Config{Encrypted: false, AllowedUsers: []string{"bob"}}, func(context.Context, *request.Request) {
		called = true
	})

	reply := send(t, port, []byte("request.user=alice request.pid=1 request.profile=default"))

	assert.Empty(t, reply)
	assert.False(t, called)
}

func TestUserAllowedEmptyListAllowsAll(t *testing.T) {
	s := &Server{}
	assert.True(t, s.userAllowed("anyone"))
}

func TestUserAllowedChecksList(t *testing.T) {
	s := &Server{cfg: Config{AllowedUsers: []string{"alice", "bob"}}}
	assert.True(t, s.userAllowed("bob"))
	assert.False(t, s.userAllowed("carol"))
}
