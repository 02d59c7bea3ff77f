// Package callid generates the opaque, globally-unique identifiers used to
// key coordinator state for the lifetime of a call.
package callid

import "github.com/google/uuid"

// CallID is an opaque, globally-unique identifier assigned at call creation.
type CallID string

// New returns a fresh CallID. Backed by a random (v4) UUID so concurrent
// stacks never collide without needing a shared counter.
func New() CallID {
	return CallID(uuid.NewString())
}

// String implements fmt.Stringer.
func (c CallID) String() string { return string(c) }
