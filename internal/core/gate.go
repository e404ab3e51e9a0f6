package core

import (
	"context"
)

type Decision string

const (
	Allow  Decision = "allow"
	Reject Decision = "reject"
)

// Authorize is the precondition every outbound send passes through. It
// returns Reject when the recipient is on the blocklist, along with the
// normalized recipient.
func (s *Store) Authorize(ctx context.Context, to string) (Decision, string) {
	n := Normalize(to)
	if s.IsBlocked(ctx, n) {
		return Reject, n
	}
	return Allow, n
}
