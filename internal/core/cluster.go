package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/faultline-io/faultline/internal/domain"
	"github.com/faultline-io/faultline/internal/logwatch"
	"github.com/faultline-io/faultline/internal/ports"
)

// memberState is the mutable cell behind a member's stable identity. Its
// mutex is an advisory per-member lock held for the duration of any runtime
// action touching the member; concurrent operations against disjoint member
// subsets are safe, overlapping subsets serialize per member.
type memberState struct {
	mu    sync.Mutex
	state domain.RunState
}

// Cluster aggregates a fixed set of members behind a shared ingress and
// exposes the fault-injection lifecycle operations. Membership never changes
// after construction; lifecycle actions only change member runtime state.
//
// Callers are expected to serialize lifecycle operations that target
// overlapping member subsets.
type Cluster struct {
	cfg     domain.Config
	ingress ports.Ingress
	probe   ports.ConnectivityProbe
	members []domain.Member
	states  map[domain.Member]*memberState
	logger  *slog.Logger
}

func NewCluster(cfg domain.Config, ingress ports.Ingress, probe ports.ConnectivityProbe, members []domain.Member, logger *slog.Logger) (*Cluster, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, domain.NewInvalidRequestError("a cluster needs at least one member")
	}

	states := make(map[domain.Member]*memberState, len(members))
	for _, m := range members {
		if _, dup := states[m]; dup {
			return nil, domain.NewInvalidRequestError("duplicate member %s", m.ExternalAddress())
		}
		states[m] = &memberState{state: domain.StateRunning}
	}

	return &Cluster{
		cfg:     cfg,
		ingress: ingress,
		probe:   probe,
		members: append([]domain.Member(nil), members...),
		states:  states,
		logger:  logger.With("component", "cluster"),
	}, nil
}

// Members returns every member of the cluster regardless of runtime state.
func (c *Cluster) Members() []domain.Member {
	return append([]domain.Member(nil), c.members...)
}

func (c *Cluster) MembersExcept(exclusions ...domain.Member) []domain.Member {
	return without(c.members, exclusions)
}

func (c *Cluster) MembersOfRole(role domain.Role) []domain.Member {
	result := make([]domain.Member, 0, len(c.members))
	for _, m := range c.members {
		if m.Role() == role {
			result = append(result, m)
		}
	}
	return result
}

// URIs returns the routed external addresses of all core members.
func (c *Cluster) URIs() []string {
	cores := c.MembersOfRole(domain.RoleCore)
	uris := make([]string, 0, len(cores))
	for _, m := range cores {
		uris = append(uris, m.ExternalAddress())
	}
	return uris
}

// URI returns the routed address of a random core member, never a replica.
func (c *Cluster) URI() (string, error) {
	uris := c.URIs()
	if len(uris) == 0 {
		return "", domain.NewInvalidRequestError("cluster has no core members")
	}
	return uris[rand.IntN(len(uris))], nil
}

// StateOf reports the engine's view of a member's runtime state.
func (c *Cluster) StateOf(m domain.Member) (domain.RunState, error) {
	st, ok := c.states[m]
	if !ok {
		return 0, domain.ErrMemberNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state, nil
}

// StopRandomMembers gracefully stops n random members, escalating to a kill
// when the stop timeout elapses. The stop is confirmed by the graceful-stop
// log marker, not by process exit alone.
func (c *Cluster) StopRandomMembers(ctx context.Context, n int) ([]domain.Member, error) {
	return c.StopRandomMembersExcept(ctx, n, nil)
}

func (c *Cluster) StopRandomMembersExcept(ctx context.Context, n int, exclusions []domain.Member) ([]domain.Member, error) {
	chosen, err := chooseRandom(n, c.members, exclusions)
	if err != nil {
		return nil, err
	}
	if err := c.forEach(ctx, "stop", chosen, c.stopMember); err != nil {
		return nil, err
	}
	return chosen, nil
}

// KillRandomMembers forcibly terminates n random members. No graceful-stop
// log line is expected or awaited.
func (c *Cluster) KillRandomMembers(ctx context.Context, n int) ([]domain.Member, error) {
	return c.KillRandomMembersExcept(ctx, n, nil)
}

func (c *Cluster) KillRandomMembersExcept(ctx context.Context, n int, exclusions []domain.Member) ([]domain.Member, error) {
	chosen, err := chooseRandom(n, c.members, exclusions)
	if err != nil {
		return nil, err
	}
	if err := c.forEach(ctx, "kill", chosen, c.killMember); err != nil {
		return nil, err
	}
	return chosen, nil
}

// PauseRandomMembers freezes n random members without terminating them.
// Logs of a paused member stay readable.
func (c *Cluster) PauseRandomMembers(ctx context.Context, n int) ([]domain.Member, error) {
	return c.PauseRandomMembersExcept(ctx, n, nil)
}

func (c *Cluster) PauseRandomMembersExcept(ctx context.Context, n int, exclusions []domain.Member) ([]domain.Member, error) {
	chosen, err := chooseRandom(n, c.members, exclusions)
	if err != nil {
		return nil, err
	}
	if err := c.forEach(ctx, "pause", chosen, c.pauseMember); err != nil {
		return nil, err
	}
	return chosen, nil
}

// IsolateRandomMembers detaches the network interface of n random members.
// An isolated member can reach neither its peers nor external callers.
func (c *Cluster) IsolateRandomMembers(ctx context.Context, n int) ([]domain.Member, error) {
	return c.IsolateRandomMembersExcept(ctx, n, nil)
}

func (c *Cluster) IsolateRandomMembersExcept(ctx context.Context, n int, exclusions []domain.Member) ([]domain.Member, error) {
	chosen, err := chooseRandom(n, c.members, exclusions)
	if err != nil {
		return nil, err
	}
	if err := c.forEach(ctx, "isolate", chosen, c.isolateMember); err != nil {
		return nil, err
	}
	return chosen, nil
}

// StartMembers transitions previously stopped or killed members back to
// running and returns the same members, by identity.
func (c *Cluster) StartMembers(ctx context.Context, members []domain.Member) ([]domain.Member, error) {
	if err := c.ensureMembership(members); err != nil {
		return nil, err
	}
	if err := c.forEach(ctx, "start", members, c.startMember); err != nil {
		return nil, err
	}
	return members, nil
}

func (c *Cluster) UnpauseMembers(ctx context.Context, members []domain.Member) ([]domain.Member, error) {
	if err := c.ensureMembership(members); err != nil {
		return nil, err
	}
	if err := c.forEach(ctx, "unpause", members, c.unpauseMember); err != nil {
		return nil, err
	}
	return members, nil
}

func (c *Cluster) UnisolateMembers(ctx context.Context, members []domain.Member) ([]domain.Member, error) {
	if err := c.ensureMembership(members); err != nil {
		return nil, err
	}
	if err := c.forEach(ctx, "unisolate", members, c.unisolateMember); err != nil {
		return nil, err
	}
	return members, nil
}

// WaitForLogMessageOnAll blocks until every given member logs a line
// containing message with a timestamp after the member's current-session
// baseline, or the timeout elapses. Members must be running.
func (c *Cluster) WaitForLogMessageOnAll(ctx context.Context, members []domain.Member, message string, timeout time.Duration) error {
	if err := c.ensureMembership(members); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)

	return c.forEach(ctx, "wait_log_message", members, func(ctx context.Context, m domain.Member) error {
		running, err := m.IsRunning(ctx)
		if err != nil {
			return err
		}
		if !running {
			return domain.NewInvalidRequestError(
				"member %s is not running; cannot wait for logs on a non-running member", m.Host())
		}

		logs, err := m.ContainerLogs(ctx)
		if err != nil {
			return err
		}
		baselineLine, err := logwatch.FirstLineAfterStart(logs, c.cfg.StartMarker)
		if err != nil {
			return err
		}
		waiter, err := logwatch.NewWaiter(message, baselineLine, c.logger)
		if err != nil {
			return err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domain.NewTimeoutError(
				fmt.Sprintf("waiting for log output matching %q on %s", message, m.Host()), timeout, ctx.Err())
		}
		return waiter.Wait(ctx, m.Handle(), remaining)
	})
}

// WaitForReadyOnAll waits for every given member's ready log marker and then
// confirms a protocol handshake against each member's freshly resolved
// external endpoint within the remaining budget. Log timing can precede
// socket readiness by a small margin, hence the probe.
func (c *Cluster) WaitForReadyOnAll(ctx context.Context, members []domain.Member, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	if err := c.WaitForLogMessageOnAll(ctx, members, c.cfg.ReadyMarker, timeout); err != nil {
		return err
	}

	var mu sync.Mutex
	var unreachable []string
	var lastProbeErr error

	err := c.forEach(ctx, "probe", members, func(ctx context.Context, m domain.Member) error {
		// Host ports may have been remapped by a restart; resolve the live
		// endpoint instead of reusing pre-restart parameters.
		address, err := m.Handle().MappedAddress(ctx, c.cfg.ServicePort)
		if err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Second
		}
		if err := c.probe.Probe(ctx, address, remaining); err != nil {
			mu.Lock()
			unreachable = append(unreachable, m.Host())
			lastProbeErr = err
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(unreachable) > 0 {
		sort.Strings(unreachable)
		return &domain.UnreachableError{Hosts: unreachable, Err: lastProbeErr}
	}
	return nil
}

// RetryOnceAfterReadiness runs fn and, if it fails, re-establishes readiness
// of the whole cluster once and retries fn exactly once. No backoff, no
// further attempts.
func (c *Cluster) RetryOnceAfterReadiness(ctx context.Context, timeout time.Duration, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	c.logger.Warn("operation failed, re-establishing cluster readiness for one retry", "error", err)

	if readyErr := c.WaitForReadyOnAll(ctx, c.Members(), timeout); readyErr != nil {
		return multierror.Append(err, readyErr).ErrorOrNil()
	}
	return fn()
}

// Close tears the cluster down: the shared ingress first, then every
// member's handle. Errors are collected, not short-circuited.
func (c *Cluster) Close() error {
	var agg *multierror.Error
	if c.ingress != nil {
		agg = multierror.Append(agg, c.ingress.Close())
	}
	for _, m := range c.members {
		agg = multierror.Append(agg, m.Close())
	}
	return agg.ErrorOrNil()
}

// -- per-member actions --

func (c *Cluster) stopMember(ctx context.Context, m domain.Member) error {
	st := c.states[m]
	st.mu.Lock()
	defer st.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, c.cfg.StopTimeout)
	defer cancel()

	// Baseline before the signal: a graceful-stop marker left over from an
	// earlier stop/start cycle must not count.
	logs, err := m.ContainerLogs(stopCtx)
	if err != nil {
		return err
	}
	baselineLine, err := logwatch.LastTimestampedLine(logs)
	if err != nil {
		return err
	}
	waiter, err := logwatch.NewWaiter(c.cfg.StoppedMarker, baselineLine, c.logger)
	if err != nil {
		return err
	}

	if err := m.Handle().Stop(stopCtx, c.cfg.StopTimeout); err != nil {
		return err
	}
	// Process exit can be reported while shutdown output is still being
	// flushed; the marker is the authoritative signal.
	if err := waiter.Wait(stopCtx, m.Handle(), c.cfg.StopTimeout); err != nil {
		return err
	}
	if err := c.awaitRunningState(stopCtx, m, false, c.cfg.StopTimeout); err != nil {
		return err
	}
	st.state = domain.StateStopped
	return nil
}

func (c *Cluster) killMember(ctx context.Context, m domain.Member) error {
	st := c.states[m]
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := m.Handle().Kill(ctx); err != nil {
		return err
	}
	if err := c.awaitRunningState(ctx, m, false, c.cfg.StopTimeout); err != nil {
		return err
	}
	st.state = domain.StateStopped
	return nil
}

func (c *Cluster) pauseMember(ctx context.Context, m domain.Member) error {
	st := c.states[m]
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := m.Handle().Pause(ctx); err != nil {
		return err
	}
	st.state = domain.StatePaused
	return nil
}

func (c *Cluster) unpauseMember(ctx context.Context, m domain.Member) error {
	st := c.states[m]
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := m.Handle().Unpause(ctx); err != nil {
		return err
	}
	st.state = domain.StateRunning
	return nil
}

func (c *Cluster) isolateMember(ctx context.Context, m domain.Member) error {
	st := c.states[m]
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := m.Handle().DisconnectNetwork(ctx); err != nil {
		return err
	}
	st.state = domain.StateIsolated
	return nil
}

func (c *Cluster) unisolateMember(ctx context.Context, m domain.Member) error {
	st := c.states[m]
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := m.Handle().ReconnectNetwork(ctx); err != nil {
		return err
	}
	st.state = domain.StateRunning
	return nil
}

func (c *Cluster) startMember(ctx context.Context, m domain.Member) error {
	st := c.states[m]
	st.mu.Lock()
	defer st.mu.Unlock()

	// Capture the pre-start baseline from the full log: only lines with a
	// timestamp after the last one already present count as startup output.
	logs, err := m.ContainerLogs(ctx)
	if err != nil {
		return err
	}
	baselineLine, err := logwatch.LastTimestampedLine(logs)
	if err != nil {
		return err
	}
	waiter, err := logwatch.NewWaiter(c.cfg.StartMarker, baselineLine, c.logger)
	if err != nil {
		return err
	}

	if err := m.Handle().Start(ctx); err != nil {
		return err
	}
	if err := c.awaitRunningState(ctx, m, true, c.cfg.StartTimeout); err != nil {
		return err
	}
	// Host ports are remapped on restart, so port-based wait strategies
	// against cached parameters are invalid here. The startup log marker is
	// the only sound readiness signal; endpoint checks re-resolve the
	// mapped address afterwards.
	if err := waiter.Wait(ctx, m.Handle(), c.cfg.StartTimeout); err != nil {
		return err
	}
	st.state = domain.StateRunning
	return nil
}

// -- helpers --

func (c *Cluster) forEach(ctx context.Context, op string, members []domain.Member, fn func(context.Context, domain.Member) error) error {
	logger := c.logger.With("operation", op, "operation_id", uuid.NewString(), "targets", len(members))
	logger.Debug("dispatching member actions")

	if err := forEachMember(ctx, members, c.cfg.MaxParallel, fn); err != nil {
		logger.Error("member actions failed", "error", err)
		return err
	}
	logger.Debug("member actions completed")
	return nil
}

func (c *Cluster) ensureMembership(members []domain.Member) error {
	for _, m := range members {
		if _, ok := c.states[m]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrMemberNotFound, m.ExternalAddress())
		}
	}
	return nil
}

// awaitRunningState polls the runtime with a short fixed interval until the
// member reports the wanted running state or the timeout elapses.
func (c *Cluster) awaitRunningState(ctx context.Context, m domain.Member, want bool, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		running, err := m.IsRunning(ctx)
		if err != nil {
			return err
		}
		if running == want {
			return nil
		}
		if time.Now().After(deadline) {
			return domain.NewTimeoutError(
				fmt.Sprintf("waiting for container %s to report running=%t", m.Handle().ID(), want),
				timeout, ctx.Err())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}
