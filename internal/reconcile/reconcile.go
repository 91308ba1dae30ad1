// Package reconcile derives the non-follower and mutual classifications from
// a pair of relationship lists. It is pure computation: no I/O, no shared
// state, identical inputs always produce identical output.
package reconcile

import "github.com/x-prune/xprune/internal/platform"

// Result is the outcome of reconciling a following list against a followers
// list. NonFollowers preserves the relative order of the following list.
type Result struct {
	NonFollowers []platform.Account
	MutualCount  int
}

// Reconcile classifies every followed account in one linear pass: an account
// whose ID appears in the followers list is mutual, any other is a
// non-follower. Accounts equal to the owner's own ID receive no special
// treatment.
func Reconcile(following []platform.Account, followers []platform.Account) Result {
	followerIDs := make(map[string]struct{}, len(followers))
	for _, follower := range followers {
		followerIDs[follower.ID] = struct{}{}
	}

	result := Result{NonFollowers: make([]platform.Account, 0, len(following))}
	for _, followed := range following {
		if _, followsBack := followerIDs[followed.ID]; followsBack {
			result.MutualCount++
			continue
		}
		result.NonFollowers = append(result.NonFollowers, followed)
	}
	return result
}
