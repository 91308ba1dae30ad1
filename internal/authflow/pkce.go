package authflow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/x-prune/xprune/internal/platform"
)

const (
	defaultAuthBaseURL      = "https://twitter.com"
	authorizePath           = "/i/oauth2/authorize"
	codeChallengeMethodS256 = "S256"
	verifierEntropyBytes    = 64
	stateEntropyBytes       = 24

	errReasonStateMismatch    = "state parameter does not match the login session"
	errReasonMissingCode      = "callback did not include an authorization code"
	errReasonSessionConsumed  = "login session already consumed"
	errReasonProviderReported = "authorization provider reported"
)

// RequiredScopes are the OAuth scopes the relationship operations need.
var RequiredScopes = []string{
	"tweet.read",
	"users.read",
	"follows.read",
	"follows.write",
	"offline.access",
}

// LoginSession holds the PKCE material for a single login attempt. It is
// created when the login starts and consumed by the first callback
// validation; a consumed session cannot validate again.
type LoginSession struct {
	CodeVerifier  string
	CodeChallenge string
	State         string

	consumed bool
}

// CallbackParams are the query parameters returned on the OAuth callback.
type CallbackParams struct {
	Code       string
	State      string
	ErrorParam string
}

// NewLoginSession generates a fresh verifier, its S256 challenge, and an
// anti-CSRF state token from crypto/rand. The verifier is 86 base64url
// characters, comfortably above the 43-character minimum.
func NewLoginSession() (*LoginSession, error) {
	codeVerifier, verifierErr := randomURLSafe(verifierEntropyBytes)
	if verifierErr != nil {
		return nil, fmt.Errorf("generate code verifier: %w", verifierErr)
	}
	stateValue, stateErr := randomURLSafe(stateEntropyBytes)
	if stateErr != nil {
		return nil, fmt.Errorf("generate state: %w", stateErr)
	}
	return &LoginSession{
		CodeVerifier:  codeVerifier,
		CodeChallenge: DeriveChallenge(codeVerifier),
		State:         stateValue,
	}, nil
}

// DeriveChallenge computes the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)) without padding.
func DeriveChallenge(codeVerifier string) string {
	hashed := sha256.Sum256([]byte(codeVerifier))
	return base64.RawURLEncoding.EncodeToString(hashed[:])
}

// AuthorizeURL builds the browser authorization URL for this session.
func (session *LoginSession) AuthorizeURL(clientID string, redirectURI string, authBaseURL string) string {
	baseURL := strings.TrimRight(strings.TrimSpace(authBaseURL), "/")
	if baseURL == "" {
		baseURL = defaultAuthBaseURL
	}

	queryValues := url.Values{}
	queryValues.Set("response_type", "code")
	queryValues.Set("client_id", clientID)
	queryValues.Set("redirect_uri", redirectURI)
	queryValues.Set("scope", strings.Join(RequiredScopes, " "))
	queryValues.Set("state", session.State)
	queryValues.Set("code_challenge", session.CodeChallenge)
	queryValues.Set("code_challenge_method", codeChallengeMethodS256)
	return baseURL + authorizePath + "?" + queryValues.Encode()
}

// ValidateCallback checks the callback parameters against the session and
// returns the authorization code. A state mismatch, a provider-reported
// error, or a missing code rejects the callback before any network call is
// made. Validation consumes the session either way: PKCE material is single
// use.
func (session *LoginSession) ValidateCallback(params CallbackParams) (string, error) {
	if session.consumed {
		return "", fmt.Errorf("%w: %s", platform.ErrInvalidRequest, errReasonSessionConsumed)
	}
	session.consumed = true

	if params.ErrorParam != "" {
		return "", fmt.Errorf("%w: %s: %s", platform.ErrInvalidRequest, errReasonProviderReported, params.ErrorParam)
	}
	if params.State != session.State {
		return "", fmt.Errorf("%w: %s", platform.ErrInvalidRequest, errReasonStateMismatch)
	}
	if strings.TrimSpace(params.Code) == "" {
		return "", fmt.Errorf("%w: %s", platform.ErrInvalidRequest, errReasonMissingCode)
	}
	return params.Code, nil
}

func randomURLSafe(entropyBytes int) (string, error) {
	raw := make([]byte, entropyBytes)
	if _, readErr := rand.Read(raw); readErr != nil {
		return "", readErr
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
