package db

import "errors"

// Sentinel errors for store operations
var (
	// ErrLinkNotFound indicates that an account link was not found
	ErrLinkNotFound = errors.New("account link not found")

	// ErrDuplicateLink indicates the (server, legacy username) pair or the
	// (user, server) pair is already linked
	ErrDuplicateLink = errors.New("account link already exists")

	// ErrServerNotFound indicates that a game server configuration was not found
	ErrServerNotFound = errors.New("game server not found")
)
