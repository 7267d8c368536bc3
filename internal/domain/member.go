package domain

import (
	"context"
	"strings"

	"github.com/faultline-io/faultline/internal/ports"
)

// Role tags a member with its place in the cluster topology.
type Role int

const (
	RoleUnknown Role = iota
	RoleCore
	RoleReplica
)

func (r Role) String() string {
	switch r {
	case RoleCore:
		return "core"
	case RoleReplica:
		return "replica"
	default:
		return "unknown"
	}
}

// RunState is the engine's view of a member's process state. It is tracked
// outside the Member value so that lifecycle transitions never disturb
// member identity.
type RunState int

const (
	StateRunning RunState = iota
	StateStopped
	StatePaused
	StateIsolated
)

func (s RunState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	case StateIsolated:
		return "isolated"
	default:
		return "unknown"
	}
}

// Member is one process belonging to the orchestrated cluster. It is a
// comparable value: equality and map-key hashing derive from the underlying
// container handle and the external address, never from runtime state. A
// member that has been stopped, paused or isolated stays equal to the value
// captured before the action and stays present in any set it was put into.
type Member struct {
	handle      ports.ContainerHandle
	address     string
	direct      string
	role        Role
	startMarker string
}

// NewMember wraps a container handle and its externally reachable address.
// routingScheme/directScheme translate the routed address form into a
// direct-connection form; when either is empty the two forms are identical.
// startMarker is the log line prefix that marks a fresh process start.
func NewMember(handle ports.ContainerHandle, externalAddress string, role Role, routingScheme, directScheme, startMarker string) Member {
	direct := externalAddress
	if routingScheme != "" && directScheme != "" {
		direct = rewriteScheme(externalAddress, routingScheme, directScheme)
	}
	return Member{
		handle:      handle,
		address:     externalAddress,
		direct:      direct,
		role:        role,
		startMarker: startMarker,
	}
}

func rewriteScheme(address, from, to string) string {
	if rest, ok := strings.CutPrefix(address, from+"://"); ok {
		return to + "://" + rest
	}
	return address
}

func (m Member) Handle() ports.ContainerHandle { return m.handle }

// ExternalAddress is the routed address through the cluster ingress. It is
// immutable for the member's lifetime.
func (m Member) ExternalAddress() string { return m.address }

// DirectAddress is the external address rewritten to the direct-connection
// scheme, bypassing server-side routing.
func (m Member) DirectAddress() string { return m.direct }

func (m Member) Role() Role { return m.role }

func (m Member) IsRunning(ctx context.Context) (bool, error) {
	return m.handle.IsRunning(ctx)
}

// Host extracts the host portion of the external address for error
// reporting.
func (m Member) Host() string {
	addr := m.address
	if i := strings.Index(addr, "://"); i >= 0 {
		addr = addr[i+3:]
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		addr = addr[:i]
	}
	return addr
}

// DebugLog returns the member's full operational log.
func (m Member) DebugLog(ctx context.Context) (string, error) {
	return m.handle.ReadLog(ctx, ports.LogChannelDebug, 0)
}

// DebugLogFrom returns the operational log from the given byte position,
// as previously obtained from DebugLogPosition.
func (m Member) DebugLogFrom(ctx context.Context, position int64) (string, error) {
	return m.handle.ReadLog(ctx, ports.LogChannelDebug, position)
}

// DebugLogPosition marks "read up to here" in the operational log.
func (m Member) DebugLogPosition(ctx context.Context) (int64, error) {
	log, err := m.DebugLog(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(log)), nil
}

// QueryLog returns the member's full query/audit log.
func (m Member) QueryLog(ctx context.Context) (string, error) {
	return m.handle.ReadLog(ctx, ports.LogChannelQuery, 0)
}

func (m Member) QueryLogFrom(ctx context.Context, position int64) (string, error) {
	return m.handle.ReadLog(ctx, ports.LogChannelQuery, position)
}

func (m Member) QueryLogPosition(ctx context.Context) (int64, error) {
	log, err := m.QueryLog(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(log)), nil
}

// ContainerLogs returns the full combined container output.
func (m Member) ContainerLogs(ctx context.Context) (string, error) {
	return m.handle.ContainerLogs(ctx)
}

// ContainerLogsSinceStart returns the combined output following the most
// recent process start marker, or everything when no marker is present.
func (m Member) ContainerLogsSinceStart(ctx context.Context) (string, error) {
	logs, err := m.handle.ContainerLogs(ctx)
	if err != nil {
		return "", err
	}
	if m.startMarker == "" {
		return logs, nil
	}
	if i := strings.LastIndex(logs, m.startMarker); i >= 0 {
		return logs[i:], nil
	}
	return logs, nil
}

func (m Member) Close() error {
	return m.handle.Close()
}
