// Package visitors turns request metadata into a pseudonymous visitor key.
//
// Two strategies exist and a deployment picks exactly one: a daily-rotating
// hash of request attributes, or a random identifier carried in a first-party
// cookie. Everything downstream only ever sees the resulting key string.
package visitors

import (
	"fmt"
	"strings"
)

// Mode selects the identity strategy.
type Mode string

const (
	ModeHash    Mode = "hash"
	ModeSession Mode = "session"
)

// Request is the slice of an HTTP request a resolver may look at.
type Request struct {
	IP            string
	UserAgent     string
	SessionCookie string
}

// Identity is the outcome of resolving a request.
type Identity struct {
	VisitorKey string
	// Issued is set when a new session identifier was minted and the caller
	// has to hand it back to the client.
	Issued bool
}

// Resolver derives a visitor key. Implementations never fail.
type Resolver interface {
	Resolve(req Request) Identity
	Mode() Mode
}

// ParseMode validates a configured identity mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeHash, "":
		return ModeHash, nil
	case ModeSession:
		return ModeSession, nil
	default:
		return "", fmt.Errorf("unknown identity mode %q", s)
	}
}

// NewResolver builds the resolver for the configured mode. Unknown modes fall
// back to hashing; configuration validation rejects them earlier.
func NewResolver(mode Mode, salt string) Resolver {
	if mode == ModeSession {
		return NewSessionResolver()
	}
	return NewHashResolver(salt)
}
