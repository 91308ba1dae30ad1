package platform

// Relation selects which direction of the relationship graph to retrieve.
type Relation string

const (
	// RelationFollowing lists the accounts a user follows.
	RelationFollowing Relation = "following"
	// RelationFollowers lists the accounts following a user.
	RelationFollowers Relation = "followers"
)

// PublicMetrics carries the follower counters exposed on a profile.
type PublicMetrics struct {
	FollowingCount int `json:"following_count"`
	FollowersCount int `json:"followers_count"`
}

// Account describes a platform account. Identity is the platform-assigned ID;
// the remaining fields are display metadata and immutable once fetched.
type Account struct {
	ID          string        `json:"id"`
	UserName    string        `json:"username"`
	DisplayName string        `json:"name"`
	AvatarURL   string        `json:"profile_image_url"`
	Metrics     PublicMetrics `json:"public_metrics"`
}

// TokenGrant is the token endpoint response for both the authorization-code
// and refresh-token grants.
type TokenGrant struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// UnfollowResult is the upstream-confirmed post-state of an unfollow call.
// StillFollowing true on a 2xx response is a soft failure.
type UnfollowResult struct {
	Succeeded      bool
	StillFollowing bool
}

type profileEnvelope struct {
	Data Account `json:"data"`
}

type relationPageEnvelope struct {
	Data []Account `json:"data"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

type unfollowEnvelope struct {
	Data struct {
		Following bool `json:"following"`
	} `json:"data"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// DedupeByID removes duplicate accounts, keeping the first occurrence of each
// identifier and preserving order.
func DedupeByID(accounts []Account) []Account {
	deduped := make([]Account, 0, len(accounts))
	seen := make(map[string]struct{}, len(accounts))
	for _, account := range accounts {
		if _, exists := seen[account.ID]; exists {
			continue
		}
		seen[account.ID] = struct{}{}
		deduped = append(deduped, account)
	}
	return deduped
}
