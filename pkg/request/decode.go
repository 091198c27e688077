package request

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/guapow/opt/pkg/profile"
)

const (
	keyPID           = "request.pid"
	keyUser          = "request.user"
	keyProfile       = "request.profile"
	keyProfileAdd    = "request.profile_add"
	keyCorrelationID = "request.id"
)

// Decode parses a decrypted request body: a newline- or space-separated
// list of `key=value`/bare-key tokens. Tokens under the `request.`
// namespace populate Request's own fields; every other token is applied
// to an Options value via profile.Apply, becoming the request's inline
// option set. now is the request's received timestamp.
func Decode(body []byte, now time.Time, logger *slog.Logger) (*Request, error) {
	req := &Request{Timestamp: now}

	var inline *profile.Options

	sawInlineToken := false

	for _, tok := range tokenize(string(body)) {
		key, value, hasValue := splitToken(tok)

		switch key {
		case keyPID:
			pid, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", keyPID, err)
			}

			req.PID = pid

		case keyUser:
			req.User = value

		case keyProfile:
			req.ProfileName = value

		case keyProfileAdd:
			req.ProfileAdd = value

		case keyCorrelationID:
			req.CorrelationID = value

		default:
			if inline == nil {
				inline = profile.New()
			}

			if err := profile.Apply(inline, key, value, hasValue, logger); err != nil {
				return nil, fmt.Errorf("invalid inline option %q: %w", tok, err)
			}

			sawInlineToken = true
		}
	}

	if req.User == "" {
		return nil, fmt.Errorf("missing mandatory %s", keyUser)
	}

	if req.PID == 0 {
		return nil, fmt.Errorf("missing mandatory %s", keyPID)
	}

	if sawInlineToken {
		req.Inline = inline
	}

	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	return req, nil
}

// tokenize splits a body on whitespace (spaces, tabs, newlines), the
// delimiter set the wire format allows interchangeably.
func tokenize(body string) []string {
	return strings.Fields(body)
}

func splitToken(tok string) (key, value string, hasValue bool) {
	if i := strings.Index(tok, "="); i >= 0 {
		return tok[:i], tok[i+1:], true
	}

	return tok, "", false
}
