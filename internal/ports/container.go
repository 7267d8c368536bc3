package ports

import (
	"context"
	"time"
)

// LogChannel identifies one of a member's file-backed log streams.
type LogChannel string

const (
	LogChannelDebug LogChannel = "debug"
	LogChannelQuery LogChannel = "query"
)

type FrameSource int

const (
	FrameStdout FrameSource = iota
	FrameStderr
)

// LogFrame is one chunk of combined container output. Frames may arrive
// out of chronological order after an attach or restart.
type LogFrame struct {
	Source FrameSource
	Text   string
}

type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ContainerHandle is the runtime capability the orchestrator consumes for a
// single member process. The reference stays fixed for the member's
// lifetime; the state behind it changes with every lifecycle action.
type ContainerHandle interface {
	ID() string

	Start(ctx context.Context) error
	// Stop requests graceful termination and escalates to a forced kill
	// once the timeout elapses.
	Stop(ctx context.Context, timeout time.Duration) error
	Kill(ctx context.Context) error
	Pause(ctx context.Context) error
	Unpause(ctx context.Context) error

	DisconnectNetwork(ctx context.Context) error
	ReconnectNetwork(ctx context.Context) error

	IsRunning(ctx context.Context) (bool, error)

	Exec(ctx context.Context, cmd []string) (ExecResult, error)

	// ReadLog returns the channel's contents from the given byte offset.
	ReadLog(ctx context.Context, channel LogChannel, offset int64) (string, error)
	// ContainerLogs returns the full combined output accumulated so far.
	ContainerLogs(ctx context.Context) (string, error)
	// FollowOutput subscribes to combined output, replaying already
	// accumulated output before streaming new frames. Delivery order is
	// not guaranteed to be chronological. The channel closes when the
	// context is done.
	FollowOutput(ctx context.Context) (<-chan LogFrame, error)

	// MappedAddress resolves the current externally mapped host:port for a
	// container port. Mappings change across restarts and must be
	// re-resolved after every start.
	MappedAddress(ctx context.Context, port int) (string, error)

	Close() error
}
