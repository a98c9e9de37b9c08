// Package provision manages the demonstration environment backing a
// session: confirming it is ready before claims are accepted and
// tearing it down when the session ends.
package provision

import "context"

// Provisioner prepares and releases demonstration environments.
type Provisioner interface {
	// ConfirmReady blocks until the environment for sessionID is ready
	// to accept claims, or the context expires.
	ConfirmReady(ctx context.Context, sessionID string) error
	// Teardown releases the environment. It must be safe to call after
	// a failed ConfirmReady.
	Teardown(ctx context.Context, sessionID string) error
}

// Static is a no-op Provisioner for local runs where no external
// environment exists.
type Static struct{}

func (Static) ConfirmReady(context.Context, string) error { return nil }
func (Static) Teardown(context.Context, string) error     { return nil }
