// Package core is the orchestration layer.  It builds the listeners,
// the event loop and the session environment from a Config and runs
// them as one unit.
//
// Architecture layers (bottom → top):
//
//	transport  →  session  →  core  →  cmd (CLI)
//
// Build is the single place where configuration turns into running
// components; everything below it is configured through plain structs.
package core

import "context"

// Service is a long-running component supervised by the Proxy: an
// acceptor, the status API or the config watcher.  Run blocks until ctx
// is cancelled or the service fails.
type Service interface {
	Run(ctx context.Context) error
}
