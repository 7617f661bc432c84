package business

import "errors"

// Sentinel errors for fast equality checks with errors.Is(). Verification
// failures are logged server side with their specific sentinel and collapsed
// to the closed client facing code set before reaching the wire.
var (
	ErrShuttingDown        = errors.New("gateway is shutting down")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrNotAuthenticated    = errors.New("connection is not authenticated")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrInvalidPayload      = errors.New("invalid event payload")
	ErrNotParticipant      = errors.New("user is not a participant of the conversation")
	ErrTokenMissing        = errors.New("credential is missing")
	ErrTokenExpired        = errors.New("credential is expired")
	ErrTokenRevoked        = errors.New("credential is revoked")
	ErrTokenMalformed      = errors.New("credential is malformed")
	ErrTestTokenDisabled   = errors.New("test credentials are not enabled")
	ErrTestTokenMalformed  = errors.New("test credential is malformed")
	ErrTestSecretMismatch  = errors.New("test credential secret mismatch")
	ErrIdentityNotFound    = errors.New("identity not found")
	ErrIdentityInactive    = errors.New("identity is inactive")
	ErrIdentityUnavailable = errors.New("identity lookup unavailable")
)

// clientAuthCode maps a verification failure to the code disclosed to the
// client. Absence and inactivity collapse to the generic failure code so
// account existence is never leaked.
func clientAuthCode(err error) string {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return CodeMissingToken
	case errors.Is(err, ErrTokenMalformed):
		return CodeInvalidTokenFormat
	case errors.Is(err, ErrTestTokenDisabled), errors.Is(err, ErrTestTokenMalformed):
		return CodeInvalidTestToken
	case errors.Is(err, ErrTestSecretMismatch):
		return CodeInvalidTestCredentials
	default:
		return CodeAuthenticationFailed
	}
}
