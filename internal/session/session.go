// Package session owns the per-login state of the tool: the credentials, the
// cached relationship lists, the reconciled result, and the user's selection.
// A session is constructed at login, passed explicitly to every operation,
// and destroyed at logout; there is no ambient shared state.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/x-prune/xprune/internal/platform"
	"github.com/x-prune/xprune/internal/reconcile"
)

// Session is the explicit context object for one authenticated login.
//
// Invariants maintained by the mutating methods: NonFollowers is always a
// subset of Following and disjoint from Followers, and a confirmed unfollow
// removes the target from NonFollowers, Following, and Selection.
type Session struct {
	ID           string
	AccessToken  string
	RefreshToken string
	Account      platform.Account
	CreatedAt    time.Time

	Following    []platform.Account
	Followers    []platform.Account
	NonFollowers []platform.Account
	MutualCount  int
	Analyzed     bool

	Selection map[string]struct{}
}

// New constructs a session for a fresh token grant.
func New(grant platform.TokenGrant, account platform.Account) *Session {
	return &Session{
		ID:           uuid.NewString(),
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Account:      account,
		CreatedAt:    time.Now().UTC(),
		Selection:    make(map[string]struct{}),
	}
}

// ApplyAnalysis installs freshly fetched lists and their reconciliation. The
// selection is cleared: it referred to the previous analysis run.
func (session *Session) ApplyAnalysis(following []platform.Account, followers []platform.Account, result reconcile.Result) {
	session.Following = following
	session.Followers = followers
	session.NonFollowers = result.NonFollowers
	session.MutualCount = result.MutualCount
	session.Analyzed = true
	session.Selection = make(map[string]struct{})
}

// ApplyUnfollow records a confirmed edge removal, restoring the invariants.
func (session *Session) ApplyUnfollow(accountID string) {
	session.Following = removeByID(session.Following, accountID)
	session.NonFollowers = removeByID(session.NonFollowers, accountID)
	delete(session.Selection, accountID)
	if session.Account.Metrics.FollowingCount > 0 {
		session.Account.Metrics.FollowingCount--
	}
}

// Select marks a non-follower for batch removal. Accounts outside the
// current non-follower set cannot be selected.
func (session *Session) Select(accountID string) bool {
	if !containsID(session.NonFollowers, accountID) {
		return false
	}
	session.Selection[accountID] = struct{}{}
	return true
}

// Deselect removes an account from the selection.
func (session *Session) Deselect(accountID string) {
	delete(session.Selection, accountID)
}

// SelectAll marks every current non-follower.
func (session *Session) SelectAll() {
	for _, entry := range session.NonFollowers {
		session.Selection[entry.ID] = struct{}{}
	}
}

// ClearSelection empties the selection set.
func (session *Session) ClearSelection() {
	session.Selection = make(map[string]struct{})
}

// SelectedAccounts returns the selected accounts in non-follower order.
func (session *Session) SelectedAccounts() []platform.Account {
	selected := make([]platform.Account, 0, len(session.Selection))
	for _, entry := range session.NonFollowers {
		if _, isSelected := session.Selection[entry.ID]; isSelected {
			selected = append(selected, entry)
		}
	}
	return selected
}

// Snapshot returns an independent copy of the session for callers that read
// it after the operation that produced it has released the session. The copy
// shares no slices or maps with the original.
func (session *Session) Snapshot() *Session {
	copied := *session
	copied.Following = append([]platform.Account(nil), session.Following...)
	copied.Followers = append([]platform.Account(nil), session.Followers...)
	copied.NonFollowers = append([]platform.Account(nil), session.NonFollowers...)
	copied.Selection = make(map[string]struct{}, len(session.Selection))
	for accountID := range session.Selection {
		copied.Selection[accountID] = struct{}{}
	}
	return &copied
}

func removeByID(accounts []platform.Account, accountID string) []platform.Account {
	filtered := accounts[:0]
	for _, entry := range accounts {
		if entry.ID == accountID {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered
}

func containsID(accounts []platform.Account, accountID string) bool {
	for _, entry := range accounts {
		if entry.ID == accountID {
			return true
		}
	}
	return false
}
