package wire

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/JadKHaddad-ORG/JobHub"
)

// Authenticator validates the token a caller presents.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) error
}

// ErrUnauthorized indicates authentication failure.
var ErrUnauthorized = fmt.Errorf("%w: invalid token", jobhub.ErrUnauthorized)

// TokenAuthenticator accepts one shared token, compared in constant time.
// An empty token disables authentication.
type TokenAuthenticator struct {
	token []byte
}

// NewTokenAuthenticator creates a shared-token authenticator.
func NewTokenAuthenticator(token string) *TokenAuthenticator {
	return &TokenAuthenticator{token: []byte(token)}
}

// Enabled reports whether a token is required.
func (a *TokenAuthenticator) Enabled() bool { return len(a.token) > 0 }

func (a *TokenAuthenticator) Authenticate(_ context.Context, token string) error {
	if !a.Enabled() {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(token), a.token) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// NoopAuthenticator accepts every token. Use for development only.
type NoopAuthenticator struct{}

func (NoopAuthenticator) Authenticate(context.Context, string) error { return nil }

// statusClientClosedRequest is the nginx convention for a request whose
// caller went away before it was answered.
const statusClientClosedRequest = 499

// StatusCode maps an error to the HTTP status the REST surface answers
// with. Wire error frames carry the same code.
func StatusCode(err error) int {
	if errors.Is(err, jobhub.ErrShutdown) || errors.Is(err, jobhub.ErrNotRunning) {
		return http.StatusServiceUnavailable
	}
	switch jobhub.Classify(err) {
	case jobhub.KindNone:
		return http.StatusOK
	case jobhub.KindValidation:
		return http.StatusBadRequest
	case jobhub.KindNotFound:
		return http.StatusNotFound
	case jobhub.KindConflict:
		return http.StatusConflict
	case jobhub.KindNotReady:
		return http.StatusTooEarly
	case jobhub.KindRateLimited:
		return http.StatusTooManyRequests
	case jobhub.KindUnauthorized:
		return http.StatusUnauthorized
	case jobhub.KindCancelled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
