package analytics_test

import "tally/internal/visitors"

// fixedResolver uses the session cookie as the visitor key so tests control
// identities directly.
type fixedResolver struct{}

func (fixedResolver) Resolve(req visitors.Request) visitors.Identity {
	return visitors.Identity{VisitorKey: req.SessionCookie}
}

func (fixedResolver) Mode() visitors.Mode { return visitors.ModeSession }
