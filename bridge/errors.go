package bridge

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for link/unlink operations. Credential-adjacent failures
// (missing legacy user, wrong password, deactivated account) are flattened
// into ErrInvalidCredentials at this boundary so callers cannot enumerate
// accounts; the audit log keeps the precise reason.
var (
	// ErrValidation indicates malformed input
	ErrValidation = errors.New("invalid input")

	// ErrUnauthenticated indicates no acting portal account was supplied
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrForbidden indicates the caller does not own the link
	ErrForbidden = errors.New("forbidden")

	// ErrServerNotFound indicates the referenced game server is not configured
	ErrServerNotFound = errors.New("game server not found")

	// ErrLinkNotFound indicates the account link does not exist
	ErrLinkNotFound = errors.New("account link not found")

	// ErrConflict indicates the legacy account is already linked
	ErrConflict = errors.New("game account is already linked to a portal account")

	// ErrInvalidCredentials is the single caller-visible message for every
	// credential-adjacent failure
	ErrInvalidCredentials = errors.New("invalid game account credentials")

	// ErrUpstreamUnavailable indicates the legacy database could not be
	// reached or timed out; deliberately distinct from bad credentials
	ErrUpstreamUnavailable = errors.New("legacy game server is currently unavailable")

	// ErrInternal indicates an unexpected failure
	ErrInternal = errors.New("internal error")
)

// RateLimitError reports that the caller exceeded the link-attempt budget.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many link attempts, retry after %s", e.ResetAt.Format(time.RFC3339))
}

// IsRateLimited reports whether err carries a RateLimitError and returns it.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
