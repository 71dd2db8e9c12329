package legacydb

import "errors"

// Sentinel errors for legacy database access
var (
	// ErrSecurityViolation indicates a non-SELECT statement reached the
	// read-only guard. This is a programming error in the caller, never a
	// user input condition.
	ErrSecurityViolation = errors.New("security violation: only SELECT queries are allowed on legacy databases")

	// ErrServerNotRegistered indicates no pool exists for the server identifier
	ErrServerNotRegistered = errors.New("no connection registered for server")

	// ErrRegistryClosed indicates the registry has been shut down
	ErrRegistryClosed = errors.New("legacy connection registry is closed")

	// ErrUserNotFound indicates the legacy account row does not exist
	ErrUserNotFound = errors.New("legacy user not found")
)
