package reconcile_test

import (
	"reflect"
	"testing"

	"github.com/x-prune/xprune/internal/platform"
	"github.com/x-prune/xprune/internal/reconcile"
)

func account(identifier string) platform.Account {
	return platform.Account{ID: identifier, UserName: "user" + identifier}
}

func accountIDs(accounts []platform.Account) []string {
	identifiers := make([]string, 0, len(accounts))
	for _, entry := range accounts {
		identifiers = append(identifiers, entry.ID)
	}
	return identifiers
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name                 string
		following            []platform.Account
		followers            []platform.Account
		expectedNonFollowers []string
		expectedMutualCount  int
	}{
		{
			name:                 "classic mixed case",
			following:            []platform.Account{account("A"), account("B"), account("C")},
			followers:            []platform.Account{account("B")},
			expectedNonFollowers: []string{"A", "C"},
			expectedMutualCount:  1,
		},
		{
			name:                 "empty following",
			following:            nil,
			followers:            []platform.Account{account("B")},
			expectedNonFollowers: []string{},
			expectedMutualCount:  0,
		},
		{
			name:                 "empty followers keeps following order",
			following:            []platform.Account{account("C"), account("A"), account("B")},
			followers:            nil,
			expectedNonFollowers: []string{"C", "A", "B"},
			expectedMutualCount:  0,
		},
		{
			name:                 "all mutual",
			following:            []platform.Account{account("A"), account("B")},
			followers:            []platform.Account{account("B"), account("A")},
			expectedNonFollowers: []string{},
			expectedMutualCount:  2,
		},
		{
			name:                 "self id passes through unmodified",
			following:            []platform.Account{account("self"), account("A")},
			followers:            []platform.Account{account("X")},
			expectedNonFollowers: []string{"self", "A"},
			expectedMutualCount:  0,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			result := reconcile.Reconcile(testCase.following, testCase.followers)

			if !reflect.DeepEqual(accountIDs(result.NonFollowers), testCase.expectedNonFollowers) {
				t.Fatalf("expected non-followers %v, received %v", testCase.expectedNonFollowers, accountIDs(result.NonFollowers))
			}
			if result.MutualCount != testCase.expectedMutualCount {
				t.Fatalf("expected mutual count %d, received %d", testCase.expectedMutualCount, result.MutualCount)
			}
			if len(result.NonFollowers)+result.MutualCount != len(testCase.following) {
				t.Fatalf("cardinality mismatch: %d non-followers + %d mutual != %d following",
					len(result.NonFollowers), result.MutualCount, len(testCase.following))
			}
		})
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()

	following := []platform.Account{account("A"), account("B"), account("C"), account("D")}
	followers := []platform.Account{account("B"), account("D"), account("E")}

	first := reconcile.Reconcile(following, followers)
	second := reconcile.Reconcile(following, followers)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results for identical inputs: %+v vs %+v", first, second)
	}
}
