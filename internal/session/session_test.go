package session

import (
	"testing"

	"github.com/x-prune/xprune/internal/platform"
	"github.com/x-prune/xprune/internal/reconcile"
)

func accountWithID(accountID string) platform.Account {
	return platform.Account{ID: accountID, UserName: "user_" + accountID, DisplayName: "User " + accountID}
}

func accountsWithIDs(accountIDs ...string) []platform.Account {
	accounts := make([]platform.Account, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		accounts = append(accounts, accountWithID(accountID))
	}
	return accounts
}

func analyzedSession(followingIDs []string, followerIDs []string) *Session {
	following := accountsWithIDs(followingIDs...)
	followers := accountsWithIDs(followerIDs...)
	created := New(platform.TokenGrant{AccessToken: "token"}, accountWithID("self"))
	created.Account.Metrics.FollowingCount = len(following)
	created.ApplyAnalysis(following, followers, reconcile.Reconcile(following, followers))
	return created
}

func TestNewSessionAssignsUniqueIdentifiers(testInstance *testing.T) {
	testInstance.Parallel()

	first := New(platform.TokenGrant{AccessToken: "a"}, accountWithID("self"))
	second := New(platform.TokenGrant{AccessToken: "b"}, accountWithID("self"))

	if first.ID == "" || second.ID == "" {
		testInstance.Fatal("expected non-empty session identifiers")
	}
	if first.ID == second.ID {
		testInstance.Fatalf("expected distinct identifiers, both were %s", first.ID)
	}
	if first.AccessToken != "a" {
		testInstance.Fatalf("unexpected access token %s", first.AccessToken)
	}
}

func TestApplyAnalysisInstallsReconciledResult(testInstance *testing.T) {
	testInstance.Parallel()

	currentSession := analyzedSession([]string{"A", "B", "C"}, []string{"B"})

	if !currentSession.Analyzed {
		testInstance.Fatal("expected session to be marked analyzed")
	}
	if len(currentSession.NonFollowers) != 2 {
		testInstance.Fatalf("expected 2 non-followers, got %d", len(currentSession.NonFollowers))
	}
	if currentSession.NonFollowers[0].ID != "A" || currentSession.NonFollowers[1].ID != "C" {
		testInstance.Fatalf("unexpected non-follower order: %s, %s", currentSession.NonFollowers[0].ID, currentSession.NonFollowers[1].ID)
	}
	if currentSession.MutualCount != 1 {
		testInstance.Fatalf("expected mutual count 1, got %d", currentSession.MutualCount)
	}
}

func TestApplyAnalysisClearsStaleSelection(testInstance *testing.T) {
	testInstance.Parallel()

	currentSession := analyzedSession([]string{"A", "B"}, []string{})
	currentSession.Select("A")

	following := accountsWithIDs("B")
	followers := accountsWithIDs()
	currentSession.ApplyAnalysis(following, followers, reconcile.Reconcile(following, followers))

	if len(currentSession.Selection) != 0 {
		testInstance.Fatalf("expected empty selection after reanalysis, got %d entries", len(currentSession.Selection))
	}
}

func TestApplyUnfollowMaintainsInvariants(testInstance *testing.T) {
	testInstance.Parallel()

	currentSession := analyzedSession([]string{"A", "B", "C"}, []string{"B"})
	currentSession.Select("A")
	currentSession.Select("C")

	currentSession.ApplyUnfollow("A")

	if containsID(currentSession.Following, "A") {
		testInstance.Fatal("expected A removed from following")
	}
	if containsID(currentSession.NonFollowers, "A") {
		testInstance.Fatal("expected A removed from non-followers")
	}
	if _, stillSelected := currentSession.Selection["A"]; stillSelected {
		testInstance.Fatal("expected A removed from selection")
	}
	if _, cSelected := currentSession.Selection["C"]; !cSelected {
		testInstance.Fatal("expected C to remain selected")
	}
	if currentSession.Account.Metrics.FollowingCount != 2 {
		testInstance.Fatalf("expected following count 2, got %d", currentSession.Account.Metrics.FollowingCount)
	}
}

func TestSelectRejectsAccountsOutsideNonFollowers(testInstance *testing.T) {
	testInstance.Parallel()

	currentSession := analyzedSession([]string{"A", "B"}, []string{"B"})

	if !currentSession.Select("A") {
		testInstance.Fatal("expected selection of non-follower A to succeed")
	}
	if currentSession.Select("B") {
		testInstance.Fatal("expected selection of mutual B to be rejected")
	}
	if currentSession.Select("Z") {
		testInstance.Fatal("expected selection of unknown account to be rejected")
	}
}

func TestSelectedAccountsPreserveNonFollowerOrder(testInstance *testing.T) {
	testInstance.Parallel()

	currentSession := analyzedSession([]string{"A", "B", "C", "D"}, []string{})
	currentSession.Select("D")
	currentSession.Select("B")

	selected := currentSession.SelectedAccounts()
	if len(selected) != 2 {
		testInstance.Fatalf("expected 2 selected accounts, got %d", len(selected))
	}
	if selected[0].ID != "B" || selected[1].ID != "D" {
		testInstance.Fatalf("expected order B, D; got %s, %s", selected[0].ID, selected[1].ID)
	}
}

func TestSnapshotIsIndependentOfLaterMutation(testInstance *testing.T) {
	testInstance.Parallel()

	currentSession := analyzedSession([]string{"A", "B", "C"}, []string{"B"})
	currentSession.Select("A")

	snapshot := currentSession.Snapshot()
	currentSession.ApplyUnfollow("A")

	if !containsID(snapshot.NonFollowers, "A") {
		testInstance.Fatal("expected the snapshot to keep A as a non-follower")
	}
	if _, stillSelected := snapshot.Selection["A"]; !stillSelected {
		testInstance.Fatal("expected the snapshot to keep A selected")
	}
	if containsID(currentSession.NonFollowers, "A") {
		testInstance.Fatal("expected the live session to drop A")
	}
}

func TestSelectAllAndClearSelection(testInstance *testing.T) {
	testInstance.Parallel()

	currentSession := analyzedSession([]string{"A", "B", "C"}, []string{"B"})

	currentSession.SelectAll()
	if len(currentSession.Selection) != 2 {
		testInstance.Fatalf("expected 2 selected after SelectAll, got %d", len(currentSession.Selection))
	}

	currentSession.Deselect("A")
	if len(currentSession.Selection) != 1 {
		testInstance.Fatalf("expected 1 selected after Deselect, got %d", len(currentSession.Selection))
	}

	currentSession.ClearSelection()
	if len(currentSession.Selection) != 0 {
		testInstance.Fatalf("expected empty selection after ClearSelection, got %d", len(currentSession.Selection))
	}
}
