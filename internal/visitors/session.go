package visitors

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SessionCookieName holds the random visitor identifier in session mode.
	SessionCookieName = "tally_vid"
	// SessionCookieMaxAge is one year.
	SessionCookieMaxAge = 365 * 24 * time.Hour

	sessionKeyLength = 32
)

// SessionResolver keys visitors by a random identifier stored in a
// first-party cookie. A missing or malformed cookie gets a fresh identifier.
type SessionResolver struct {
	newID func() string
}

func NewSessionResolver() *SessionResolver {
	return &SessionResolver{newID: newSessionID}
}

func (r *SessionResolver) Mode() Mode { return ModeSession }

func (r *SessionResolver) Resolve(req Request) Identity {
	if key := strings.ToLower(strings.TrimSpace(req.SessionCookie)); validSessionKey(key) {
		return Identity{VisitorKey: key}
	}
	return Identity{VisitorKey: r.newID(), Issued: true}
}

func newSessionID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func validSessionKey(key string) bool {
	if len(key) != sessionKeyLength {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}
