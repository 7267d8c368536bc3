package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline-io/faultline/internal/domain"
	"github.com/faultline-io/faultline/internal/testutil"
)

const (
	testStartMarker = "======== Starting"
	testReadyMarker = "Bolt enabled on"
	testStopMarker  = "Stopped."
)

func stamp(sec int) string {
	return fmt.Sprintf("2026-08-26 10:00:%02d.0000", sec)
}

func stampedLine(sec int, text string) string {
	return stamp(sec) + " INFO  " + text + "\n"
}

func testClusterConfig() domain.Config {
	return domain.Config{
		StartTimeout:  5 * time.Second,
		StopTimeout:   5 * time.Second,
		PollInterval:  10 * time.Millisecond,
		ServicePort:   7687,
		RoutingScheme: "neo4j",
		DirectScheme:  "bolt",
		StartMarker:   testStartMarker,
		ReadyMarker:   testReadyMarker,
		StoppedMarker: testStopMarker,
	}
}

type testCluster struct {
	cluster *Cluster
	handles []*testutil.FakeHandle
	members []domain.Member
	probe   *testutil.FakeProbe
	ingress *testutil.FakeIngress
}

func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()

	handles := make([]*testutil.FakeHandle, n)
	members := make([]domain.Member, n)
	for i := range handles {
		h := testutil.NewFakeHandle(fmt.Sprintf("c-%d", i))
		h.AppendOutput(stampedLine(0, testStartMarker+" ========"))
		h.AppendOutput(stampedLine(1, "startup in progress"))
		h.AppendOutput(stampedLine(2, testReadyMarker+" 0.0.0.0:7687"))
		h.SetMapped(7687, fmt.Sprintf("localhost:%d", 9000+i))
		h.StopOutput = stampedLine(50, testStopMarker)
		h.StartOutput = stampedLine(60, testStartMarker+" again") +
			stampedLine(61, testReadyMarker+" 0.0.0.0:7687")

		handles[i] = h
		members[i] = domain.NewMember(h, fmt.Sprintf("neo4j://localhost:%d", 9000+i), domain.RoleCore, "neo4j", "bolt", testStartMarker)
	}

	probe := &testutil.FakeProbe{}
	ingress := testutil.NewFakeIngress("localhost:8000")

	cluster, err := NewCluster(testClusterConfig(), ingress, probe, members, nil)
	require.NoError(t, err)

	return &testCluster{
		cluster: cluster,
		handles: handles,
		members: members,
		probe:   probe,
		ingress: ingress,
	}
}

func TestStopStartRoundTripPreservesIdentity(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 3)

	stopped, err := tc.cluster.StopRandomMembers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stopped, 1)

	running, err := stopped[0].IsRunning(ctx)
	require.NoError(t, err)
	assert.False(t, running)

	state, err := tc.cluster.StateOf(stopped[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StateStopped, state)

	started, err := tc.cluster.StartMembers(ctx, stopped)
	require.NoError(t, err)
	assert.ElementsMatch(t, stopped, started, "start must return the same members by identity")

	assert.Contains(t, tc.cluster.Members(), stopped[0], "membership never changes across lifecycle actions")

	state, err = tc.cluster.StateOf(stopped[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, state)
}

func TestKillOneOfThree(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 3)

	killed, err := tc.cluster.KillRandomMembers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, killed, 1)

	survivors := tc.cluster.MembersExcept(killed...)
	require.Len(t, survivors, 2)
	require.NoError(t, tc.cluster.WaitForReadyOnAll(ctx, survivors, 5*time.Second))

	started, err := tc.cluster.StartMembers(ctx, killed)
	require.NoError(t, err)
	assert.ElementsMatch(t, killed, started)

	require.NoError(t, tc.cluster.WaitForReadyOnAll(ctx, tc.cluster.Members(), 5*time.Second))
}

func TestStopEscalationAggregatesFailuresWithoutEarlyAbort(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 3)
	tc.handles[1].StopErr = errors.New("daemon unavailable")

	_, err := tc.cluster.StopRandomMembers(ctx, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon unavailable")

	// The other two members must still have been stopped.
	stoppedCount := 0
	for _, h := range tc.handles {
		running, runErr := h.IsRunning(ctx)
		require.NoError(t, runErr)
		if !running {
			stoppedCount++
		}
	}
	assert.Equal(t, 2, stoppedCount)
}

func TestSelectionErrorsAreInvalidRequests(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 3)

	_, err := tc.cluster.StopRandomMembers(ctx, 4)
	require.Error(t, err)
	assert.True(t, domain.IsInvalidRequest(err))

	_, err = tc.cluster.KillRandomMembersExcept(ctx, 3, tc.members[:1])
	require.Error(t, err)
	assert.True(t, domain.IsInvalidRequest(err))
}

func TestPauseAllThenUnpause(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 3)

	paused, err := tc.cluster.PauseRandomMembers(ctx, 3)
	require.NoError(t, err)
	require.Len(t, paused, 3)
	for _, h := range tc.handles {
		assert.True(t, h.Paused())
	}

	// Probes against frozen members fail; readiness must report every host.
	tc.probe.Failing = map[string]error{}
	for i := range tc.handles {
		tc.probe.Failing[fmt.Sprintf("localhost:%d", 9000+i)] = errors.New("connection refused")
	}

	err = tc.cluster.WaitForReadyOnAll(ctx, tc.cluster.Members(), 5*time.Second)
	require.Error(t, err)
	assert.True(t, domain.IsUnreachable(err))
	var unreachable *domain.UnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Len(t, unreachable.Hosts, 3)

	unpaused, err := tc.cluster.UnpauseMembers(ctx, paused)
	require.NoError(t, err)
	assert.ElementsMatch(t, paused, unpaused)

	tc.probe.Failing = nil
	require.NoError(t, tc.cluster.WaitForReadyOnAll(ctx, tc.cluster.Members(), 5*time.Second))
}

func TestIsolateUnisolateRoundTrip(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 3)

	isolated, err := tc.cluster.IsolateRandomMembers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, isolated, 1)

	state, err := tc.cluster.StateOf(isolated[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StateIsolated, state)

	unisolated, err := tc.cluster.UnisolateMembers(ctx, isolated)
	require.NoError(t, err)
	assert.ElementsMatch(t, isolated, unisolated)

	for _, h := range tc.handles {
		assert.False(t, h.Isolated())
	}
}

func TestWaitForLogMessageOnAllRejectsNonRunningMembers(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 3)

	require.NoError(t, tc.handles[0].Stop(ctx, 0))

	err := tc.cluster.WaitForLogMessageOnAll(ctx, tc.cluster.Members(), "anything", 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, domain.IsInvalidRequest(err), "non-running member must surface as invalid request, got %v", err)
}

func TestWaitForLogMessageOnAllTimesOut(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 2)

	err := tc.cluster.WaitForLogMessageOnAll(ctx, tc.cluster.Members(), "message that never appears", 150*time.Millisecond)
	require.Error(t, err)
	assert.True(t, domain.IsTimeout(err))
}

func TestWaitForLogMessageOnAllSeesNewOutput(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 2)

	go func() {
		time.Sleep(30 * time.Millisecond)
		for _, h := range tc.handles {
			h.AppendOutput(stampedLine(10, "transaction log rotated"))
		}
	}()

	err := tc.cluster.WaitForLogMessageOnAll(ctx, tc.cluster.Members(), "transaction log rotated", 5*time.Second)
	assert.NoError(t, err)
}

func TestStartProbesRemappedAddress(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 1)
	tc.handles[0].RemapOnStart = map[int]string{7687: "localhost:19999"}

	stopped, err := tc.cluster.StopRandomMembers(ctx, 1)
	require.NoError(t, err)
	_, err = tc.cluster.StartMembers(ctx, stopped)
	require.NoError(t, err)

	require.NoError(t, tc.cluster.WaitForReadyOnAll(ctx, stopped, 5*time.Second))
	assert.Contains(t, tc.probe.Calls(), "localhost:19999",
		"readiness must probe the freshly mapped address, not pre-restart parameters")
}

func TestMembershipQueries(t *testing.T) {
	tc := newTestCluster(t, 3)

	all := tc.cluster.Members()
	assert.Len(t, all, 3)

	rest := tc.cluster.MembersExcept(all[0])
	assert.Len(t, rest, 2)
	assert.NotContains(t, rest, all[0])

	cores := tc.cluster.MembersOfRole(domain.RoleCore)
	assert.ElementsMatch(t, all, cores)
	assert.Empty(t, tc.cluster.MembersOfRole(domain.RoleReplica))

	uris := tc.cluster.URIs()
	assert.Len(t, uris, 3)

	uri, err := tc.cluster.URI()
	require.NoError(t, err)
	assert.Contains(t, uris, uri)
}

func TestOperationsRejectForeignMembers(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 2)

	foreign := domain.NewMember(testutil.NewFakeHandle("foreign"), "neo4j://elsewhere:9999", domain.RoleCore, "neo4j", "bolt", testStartMarker)

	_, err := tc.cluster.StartMembers(ctx, []domain.Member{foreign})
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)

	err = tc.cluster.WaitForLogMessageOnAll(ctx, []domain.Member{foreign}, "anything", time.Second)
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestRetryOnceAfterReadiness(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, 2)

	calls := 0
	err := tc.cluster.RetryOnceAfterReadiness(ctx, 5*time.Second, func() error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "exactly one retry")

	calls = 0
	err = tc.cluster.RetryOnceAfterReadiness(ctx, 5*time.Second, func() error {
		calls++
		return errors.New("persistent")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls, "no retries beyond the single bounded one")
}

func TestCloseTearsDownIngressAndMembers(t *testing.T) {
	tc := newTestCluster(t, 2)

	require.NoError(t, tc.cluster.Close())
	assert.True(t, tc.ingress.Closed())
	for _, h := range tc.handles {
		assert.True(t, h.Closed())
	}
}

func TestNewClusterValidation(t *testing.T) {
	probe := &testutil.FakeProbe{}
	ingress := testutil.NewFakeIngress("localhost:8000")

	_, err := NewCluster(testClusterConfig(), ingress, probe, nil, nil)
	assert.True(t, domain.IsInvalidRequest(err))

	cfg := testClusterConfig()
	cfg.ServicePort = 0
	_, err = NewCluster(cfg, ingress, probe, testMembers(1), nil)
	assert.True(t, domain.IsInvalidRequest(err))

	h := testutil.NewFakeHandle("dup")
	m := domain.NewMember(h, "neo4j://localhost:9000", domain.RoleCore, "neo4j", "bolt", testStartMarker)
	_, err = NewCluster(testClusterConfig(), ingress, probe, []domain.Member{m, m}, nil)
	assert.True(t, domain.IsInvalidRequest(err))
}
