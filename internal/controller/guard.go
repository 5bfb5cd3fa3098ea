package controller

import "github.com/vercel/flags-go/internal"

// isNewerData reports whether incoming should replace current in the
// single cache slot the Controller owns. Per this implementation's
// monotonicity policy, the comparison is inclusive: a tie admits the
// incoming value (ties from the same server tick must never cause data
// loss). If either timestamp is absent or non-numeric, comparison is
// unsafe and the incoming value is accepted unconditionally — only a
// value that is provably older is ever rejected.
func isNewerData(current *internal.TaggedDatafile, incoming internal.TaggedDatafile) bool {
	if current == nil {
		return true
	}
	currentAt, currentOK := current.ParsedConfigUpdatedAt()
	incomingAt, incomingOK := incoming.ParsedConfigUpdatedAt()
	if !currentOK || !incomingOK {
		return true
	}
	return incomingAt >= currentAt
}
