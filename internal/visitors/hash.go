package visitors

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// HashKeyLength is the number of hex characters kept from the digest.
const HashKeyLength = 16

// HashResolver keys visitors by a salted digest of IP, user agent and the
// current UTC day. Keys rotate at midnight UTC so visitors cannot be followed
// across days, and the raw IP is only ever hashed.
type HashResolver struct {
	salt string
	now  func() time.Time
}

func NewHashResolver(salt string) *HashResolver {
	return &HashResolver{salt: salt, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (r *HashResolver) WithClock(now func() time.Time) *HashResolver {
	r.now = now
	return r
}

func (r *HashResolver) Mode() Mode { return ModeHash }

func (r *HashResolver) Resolve(req Request) Identity {
	return Identity{VisitorKey: BuildVisitorHash(req.IP, req.UserAgent, r.salt, r.now())}
}

// BuildVisitorHash returns the first 16 hex characters of
// SHA-256(ip || userAgent || YYYY-MM-DD || salt), with the date taken in UTC.
func BuildVisitorHash(ip, userAgent, salt string, at time.Time) string {
	day := at.UTC().Format("2006-01-02")

	h := sha256.New()
	h.Write([]byte(ip))
	h.Write([]byte(userAgent))
	h.Write([]byte(day))
	h.Write([]byte(salt))

	return hex.EncodeToString(h.Sum(nil))[:HashKeyLength]
}
