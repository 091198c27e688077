// Package transport implements the wire-level TCP listener: one request
// per connection, nacl/secretbox decryption, the requesting-user
// allow-list, and a best-effort cross-check of the connection's actual
// OS-owning user.
package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/guapow/opt/pkg/request"
)

// Handler processes one authorized, decoded request. It never returns an
// error to the transport: only authorization/decode failures are
// rejected at the edge, everything downstream is the pipeline's own
// per-sub-operation error handling.
type Handler func(ctx context.Context, req *request.Request)

// Config is the transport's daemon-supplied policy.
type Config struct {
	// Port is the loopback TCP port to bind, default 5087.
	Port int
	// Key is the symmetric key sealed request bodies are decrypted under.
	Key [KeySize]byte
	// Encrypted, when false, accepts cleartext bodies (development mode,
	// request.encrypted=false).
	Encrypted bool
	// AllowedUsers, when non-empty, is the only set of request.user
	// values accepted.
	AllowedUsers []string
	Logger       *slog.Logger
}

// Server is the daemon's TCP listener.
type Server struct {
	cfg     Config
	handler Handler
}

// NewServer builds a Server that dispatches authorized requests to
// handler.
func NewServer(cfg Config, handler Handler) *Server {
	return &Server{cfg: cfg, handler: handler}
}

// ListenAndServe binds loopback TCP on cfg.Port and serves connections
// until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			if s.cfg.Logger != nil {
				s.cfg.Logger.Warn("failed to accept connection", "err", err)
			}

			continue
		}

		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	body, err := io.ReadAll(conn)
	if err != nil {
		s.reject("failed to read request body", err)

		return
	}

	plain := body

	if s.cfg.Encrypted {
		plain, err = Open(body, &s.cfg.Key)
		if err != nil {
			s.reject("rejecting request", err)

			return
		}
	}

	req, err := request.Decode(plain, time.Now(), s.cfg.Logger)
	if err != nil {
		s.reject("rejecting malformed request", err)

		return
	}

	if !s.userAllowed(req.User) {
		s.reject("rejecting request from disallowed user "+req.User, nil)

		return
	}

	if !s.ownerMatches(conn, req.User) {
		s.reject("rejecting request: claimed user does not own the connection", nil)

		return
	}

	s.handler(ctx, req)
}

func (s *Server) userAllowed(user string) bool {
	if len(s.cfg.AllowedUsers) == 0 {
		return true
	}

	return slices.Contains(s.cfg.AllowedUsers, user)
}

// ownerMatches cross-checks the connection's actual OS-owning user
// against the claimed request.user, when that can be determined at all;
// it passes (returns true) whenever the check is inconclusive.
func (s *Server) ownerMatches(conn net.Conn, claimedUser string) bool {
	remote, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return true
	}

	local, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return true
	}

	owner, ok := ownerUsername(remote.Port, local.Port)
	if !ok {
		return true
	}

	return owner == claimedUser
}

func (s *Server) reject(msg string, err error) {
	if s.cfg.Logger == nil {
		return
	}

	if err != nil {
		s.cfg.Logger.Warn(msg, "err", err)
	} else {
		s.cfg.Logger.Warn(msg)
	}
}
