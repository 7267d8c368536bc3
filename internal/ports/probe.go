package ports

import (
	"context"
	"time"
)

// ConnectivityProbe confirms that a member's external endpoint completes a
// protocol handshake. Log output can declare readiness slightly before the
// socket accepts, so callers probe after any log-based wait.
type ConnectivityProbe interface {
	Probe(ctx context.Context, address string, timeout time.Duration) error
}
