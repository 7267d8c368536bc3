package core

import (
	"math/rand/v2"

	"github.com/faultline-io/faultline/internal/domain"
)

func memberSet(members []domain.Member) map[domain.Member]struct{} {
	set := make(map[domain.Member]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return set
}

func without(members []domain.Member, exclusions []domain.Member) []domain.Member {
	excluded := memberSet(exclusions)
	result := make([]domain.Member, 0, len(members))
	for _, m := range members {
		if _, ok := excluded[m]; !ok {
			result = append(result, m)
		}
	}
	return result
}

// chooseRandom draws n distinct members uniformly from members minus
// exclusions. Selection is pure: it never touches runtime state.
func chooseRandom(n int, members, exclusions []domain.Member) ([]domain.Member, error) {
	if n < 0 {
		return nil, domain.NewInvalidRequestError("cannot choose a negative number of members: %d", n)
	}
	candidates := without(members, exclusions)
	if n > len(candidates) {
		return nil, domain.NewInvalidRequestError(
			"not enough eligible members in the cluster: need %d, have %d", n, len(candidates))
	}
	if n == len(candidates) {
		return candidates, nil
	}

	chosen := make(map[domain.Member]struct{}, n)
	result := make([]domain.Member, 0, n)
	for len(result) < n {
		candidate := candidates[rand.IntN(len(candidates))]
		if _, dup := chosen[candidate]; dup {
			continue
		}
		chosen[candidate] = struct{}{}
		result = append(result, candidate)
	}
	return result, nil
}
