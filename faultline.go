// Package faultline orchestrates fault injection against an ephemeral,
// containerized database cluster. It keeps a stable identity for cluster
// members across container restarts, runs lifecycle transitions (stop, kill,
// pause, isolate, start) in parallel with a join barrier, and detects
// recovery from a live log stream whose frame ordering is not chronological.
//
// Provisioning the containers, networks and the ingress proxy is the
// caller's job; faultline consumes them through the ContainerHandle and
// Ingress capabilities. Basic usage:
//
//	cfg := faultline.Config{
//	    ServicePort:   7687,
//	    StartMarker:   "======== Starting",
//	    ReadyMarker:   "Bolt enabled on",
//	    StoppedMarker: "Stopped.",
//	}
//	members := []faultline.Member{
//	    faultline.NewMember(handle, "neo4j://localhost:9001", faultline.RoleCore, &cfg),
//	    // ...
//	}
//	cluster, err := faultline.NewCluster(cfg, ingress, faultline.NewHandshakeProber(nil, logger), members, logger)
//
//	stopped, err := cluster.StopRandomMembers(ctx, 1)
//	started, err := cluster.StartMembers(ctx, stopped)
//	err = cluster.WaitForReadyOnAll(ctx, started, 3*time.Minute)
package faultline

import (
	"log/slog"

	"github.com/faultline-io/faultline/internal/adapters/dockercli"
	"github.com/faultline-io/faultline/internal/adapters/handshake"
	"github.com/faultline-io/faultline/internal/core"
	"github.com/faultline-io/faultline/internal/domain"
	"github.com/faultline-io/faultline/internal/ports"
)

// Cluster is an immutable set of members plus the shared ingress used to
// reach them. Lifecycle actions change member runtime state, never
// membership.
type Cluster = core.Cluster

// Member is one process of the orchestrated cluster. Its identity derives
// from the container handle and the external address only, so it stays
// stable across every lifecycle transition.
type Member = domain.Member

// Config carries the orchestration knobs; zero fields are filled from
// defaults when a cluster is built.
type Config = domain.Config

type Role = domain.Role

const (
	RoleUnknown Role = domain.RoleUnknown
	RoleCore    Role = domain.RoleCore
	RoleReplica Role = domain.RoleReplica
)

type RunState = domain.RunState

const (
	StateRunning  RunState = domain.StateRunning
	StateStopped  RunState = domain.StateStopped
	StatePaused   RunState = domain.StatePaused
	StateIsolated RunState = domain.StateIsolated
)

// ContainerHandle is the runtime capability faultline consumes per member.
type ContainerHandle = ports.ContainerHandle

// ConnectivityProbe confirms a protocol handshake against an endpoint.
type ConnectivityProbe = ports.ConnectivityProbe

// Ingress is the cluster's shared external proxy resource.
type Ingress = ports.Ingress

type LogChannel = ports.LogChannel

const (
	LogChannelDebug LogChannel = ports.LogChannelDebug
	LogChannelQuery LogChannel = ports.LogChannelQuery
)

type LogFrame = ports.LogFrame

// DockerConfig configures the docker CLI adapter.
type DockerConfig = dockercli.Config

func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

// NewMember wraps a container handle and its routed external address. The
// config supplies the scheme translation and the start marker used for
// session-scoped log reads.
func NewMember(handle ContainerHandle, externalAddress string, role Role, cfg *Config) Member {
	return domain.NewMember(handle, externalAddress, role, cfg.RoutingScheme, cfg.DirectScheme, cfg.StartMarker)
}

// NewCluster assembles a cluster from pre-provisioned members. Membership is
// fixed from here on.
func NewCluster(cfg Config, ingress Ingress, probe ConnectivityProbe, members []Member, logger *slog.Logger) (*Cluster, error) {
	return core.NewCluster(cfg, ingress, probe, members, logger)
}

// NewDockerHandle adapts a docker container to the ContainerHandle
// capability through the docker CLI.
func NewDockerHandle(containerID string, cfg DockerConfig, logger *slog.Logger) ContainerHandle {
	return dockercli.NewHandle(containerID, cfg, logger)
}

// NewDockerIngress wraps the proxy container members are reached through.
func NewDockerIngress(containerID, address string, cfg DockerConfig, logger *slog.Logger) Ingress {
	return dockercli.NewIngress(containerID, address, cfg, logger)
}

// NewHandshakeProber builds the default raw TCP handshake probe. A nil
// preamble selects the built-in one.
func NewHandshakeProber(preamble []byte, logger *slog.Logger) ConnectivityProbe {
	return handshake.NewProber(preamble, logger)
}

// IsTimeout reports whether err is a wait that ran out of time, as opposed
// to an invalid request or a log format contract violation.
func IsTimeout(err error) bool { return domain.IsTimeout(err) }

// IsInvalidRequest reports whether err is a request the cluster can never
// satisfy; such errors are not retried.
func IsInvalidRequest(err error) bool { return domain.IsInvalidRequest(err) }

// IsContractViolation reports whether a matched log line lacked the required
// timestamp prefix.
func IsContractViolation(err error) bool { return domain.IsContractViolation(err) }

// IsUnreachable reports whether members failed the connectivity probe after
// their logs declared readiness.
func IsUnreachable(err error) bool { return domain.IsUnreachable(err) }
