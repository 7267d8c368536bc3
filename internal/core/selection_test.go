package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline-io/faultline/internal/domain"
	"github.com/faultline-io/faultline/internal/testutil"
)

func testMembers(n int) []domain.Member {
	members := make([]domain.Member, n)
	for i := range members {
		handle := testutil.NewFakeHandle(fmt.Sprintf("c-%d", i))
		members[i] = domain.NewMember(handle, fmt.Sprintf("neo4j://localhost:%d", 9000+i), domain.RoleCore, "neo4j", "bolt", "======== Starting")
	}
	return members
}

func TestChooseRandomProperties(t *testing.T) {
	members := testMembers(5)
	exclusions := members[3:]

	// Sampling is randomized; check the invariants over repeated draws.
	for i := 0; i < 50; i++ {
		chosen, err := chooseRandom(2, members, exclusions)
		require.NoError(t, err)
		require.Len(t, chosen, 2)

		seen := map[domain.Member]struct{}{}
		for _, m := range chosen {
			_, dup := seen[m]
			assert.False(t, dup, "selection must not contain duplicates")
			seen[m] = struct{}{}
			assert.Contains(t, members[:3], m, "selection must respect exclusions")
		}
	}
}

func TestChooseRandomAllCandidates(t *testing.T) {
	members := testMembers(3)

	chosen, err := chooseRandom(3, members, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, members, chosen)
}

func TestChooseRandomZero(t *testing.T) {
	chosen, err := chooseRandom(0, testMembers(3), nil)
	require.NoError(t, err)
	assert.Empty(t, chosen)
}

func TestChooseRandomTooMany(t *testing.T) {
	members := testMembers(3)

	_, err := chooseRandom(3, members, members[:1])
	require.Error(t, err)
	assert.True(t, domain.IsInvalidRequest(err))
}

func TestChooseRandomNegative(t *testing.T) {
	_, err := chooseRandom(-1, testMembers(3), nil)
	require.Error(t, err)
	assert.True(t, domain.IsInvalidRequest(err))
}
