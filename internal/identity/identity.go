// Package identity is a single-method opaque-id hook (spec.md §6's
// "user/session management" is explicitly out of scope) so artifact
// metadata can carry a caller-supplied id without the core depending on any
// particular identity system.
package identity

import "context"

// Hook stamps an opaque identity string onto an artifact operation. The
// core never interprets the returned value.
type Hook interface {
	Stamp(ctx context.Context) (string, error)
}

// NoOp is the default Hook: every operation is stamped with the empty
// string.
type NoOp struct{}

func (NoOp) Stamp(context.Context) (string, error) { return "", nil }

// Static always returns the same pre-supplied id, for callers that have
// resolved an identity ahead of time (e.g. from an upstream request
// context not otherwise visible to the core).
type Static string

func (s Static) Stamp(context.Context) (string, error) { return string(s), nil }
