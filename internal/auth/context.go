// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the authenticated editor through request contexts.
package auth

import (
	"context"
)

type identityKey struct{}

// Identity is the editor behind a request: the JWT subject and the login
// session it was issued for. Session expiry on the client is tied to the
// latter.
type Identity struct {
	UserID    string
	SessionID string
}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// UserID returns the authenticated user, or "".
func UserID(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}

// SessionID returns the login session, or "".
func SessionID(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.SessionID
}
