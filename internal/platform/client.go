package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAPIBaseURL       = "https://api.twitter.com"
	tokenEndpointPath       = "/2/oauth2/token"
	profileEndpointPath     = "/2/users/me"
	userPathPrefix          = "/2/users/"
	defaultPageSize         = 1000
	defaultHTTPTimeout      = 30 * time.Second
	profileUserFields       = "public_metrics,profile_image_url"
	relationUserFields      = "profile_image_url"
	grantTypeAuthCode       = "authorization_code"
	grantTypeRefresh        = "refresh_token"
	formContentType         = "application/x-www-form-urlencoded"
	authorizationHeaderName = "Authorization"
	bearerPrefix            = "Bearer "
	retryAfterHeaderName    = "Retry-After"
	rateLimitResetHeader    = "x-rate-limit-reset"
	notFollowingDetailMark  = "not following"
	alreadyDetailMark       = "already"

	logMessageRequest        = "platform request"
	logMessagePageFetched    = "relationship page fetched"
	logFieldMethod           = "method"
	logFieldEndpoint         = "endpoint"
	logFieldStatus           = "status"
	logFieldRelation         = "relation"
	logFieldPageIndex        = "page"
	logFieldAccumulatedCount = "accumulated"
)

// Config customizes a Client instance. ClientID is required for token grants;
// ClientSecret is set only when the client acts as the trusted intermediary.
type Config struct {
	APIBaseURL   string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	PageSize     int
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Client talks to the platform API v2. It performs no internal retries; rate
// limits and re-authentication are surfaced to the caller as typed errors.
type Client struct {
	apiBaseURL   string
	clientID     string
	clientSecret string
	redirectURI  string
	pageSize     int
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewClient constructs a Client, applying defaults for the base URL, page
// size, HTTP client, and logger.
func NewClient(configuration Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(configuration.APIBaseURL), "/")
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	pageSize := configuration.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiBaseURL:   baseURL,
		clientID:     configuration.ClientID,
		clientSecret: configuration.ClientSecret,
		redirectURI:  configuration.RedirectURI,
		pageSize:     pageSize,
		httpClient:   httpClient,
		logger:       logger,
	}
}

// ExchangeAuthorizationCode turns an authorization code plus PKCE verifier
// into a token grant and the authenticated account's profile. Exactly one
// token request and, on success, exactly one profile request are issued. The
// exchange is never retried: the code is single use, so a rejection is
// terminal for this login attempt.
func (client *Client) ExchangeAuthorizationCode(ctx context.Context, code string, codeVerifier string) (TokenGrant, Account, error) {
	if strings.TrimSpace(code) == "" {
		return TokenGrant{}, Account{}, fmt.Errorf("%w: authorization code is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(codeVerifier) == "" {
		return TokenGrant{}, Account{}, fmt.Errorf("%w: code verifier is required", ErrInvalidRequest)
	}

	formValues := url.Values{}
	formValues.Set("grant_type", grantTypeAuthCode)
	formValues.Set("client_id", client.clientID)
	if client.clientSecret != "" {
		formValues.Set("client_secret", client.clientSecret)
	}
	formValues.Set("code", code)
	formValues.Set("redirect_uri", client.redirectURI)
	formValues.Set("code_verifier", codeVerifier)

	grant, exchangeErr := client.requestTokenGrant(ctx, formValues)
	if exchangeErr != nil {
		return TokenGrant{}, Account{}, exchangeErr
	}

	account, profileErr := client.FetchProfile(ctx, grant.AccessToken)
	if profileErr != nil {
		return grant, Account{}, &ProfileFetchError{Grant: grant, Cause: profileErr}
	}
	return grant, account, nil
}

// RefreshToken exchanges a refresh token for a new grant.
func (client *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenGrant, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenGrant{}, fmt.Errorf("%w: refresh token is required", ErrInvalidRequest)
	}

	formValues := url.Values{}
	formValues.Set("grant_type", grantTypeRefresh)
	formValues.Set("client_id", client.clientID)
	if client.clientSecret != "" {
		formValues.Set("client_secret", client.clientSecret)
	}
	formValues.Set("refresh_token", refreshToken)

	return client.requestTokenGrant(ctx, formValues)
}

func (client *Client) requestTokenGrant(ctx context.Context, formValues url.Values) (TokenGrant, error) {
	endpoint := client.apiBaseURL + tokenEndpointPath
	statusCode, _, payload, sendErr := client.send(ctx, http.MethodPost, endpoint, strings.NewReader(formValues.Encode()), formContentType, "")
	if sendErr != nil {
		return TokenGrant{}, sendErr
	}
	if statusCode/100 != 2 {
		return TokenGrant{}, &AuthExchangeError{StatusCode: statusCode, Payload: payload}
	}

	var grant TokenGrant
	if unmarshalErr := json.Unmarshal(payload, &grant); unmarshalErr != nil {
		return TokenGrant{}, fmt.Errorf("decode token response: %w", unmarshalErr)
	}
	if strings.TrimSpace(grant.AccessToken) == "" {
		return TokenGrant{}, &AuthExchangeError{StatusCode: statusCode, Payload: payload}
	}
	return grant, nil
}

// FetchProfile retrieves the authenticated account's profile, including the
// public follower metrics and avatar.
func (client *Client) FetchProfile(ctx context.Context, accessToken string) (Account, error) {
	endpoint := client.apiBaseURL + profileEndpointPath + "?user.fields=" + url.QueryEscape(profileUserFields)
	statusCode, headers, payload, sendErr := client.send(ctx, http.MethodGet, endpoint, nil, "", accessToken)
	if sendErr != nil {
		return Account{}, sendErr
	}
	if statusCode/100 != 2 {
		return Account{}, classifyFailure(statusCode, headers, payload)
	}

	var envelope profileEnvelope
	if unmarshalErr := json.Unmarshal(payload, &envelope); unmarshalErr != nil {
		return Account{}, fmt.Errorf("decode profile response: %w", unmarshalErr)
	}
	return envelope.Data, nil
}

// FetchAllRelations retrieves the complete relationship list for a user in
// the requested direction, following continuation cursors until the final
// page. Pages are requested strictly sequentially; the loop checks for
// cancellation between pages. Any single page failure discards the partial
// result and fails the whole fetch, so callers never observe a silently
// truncated list.
func (client *Client) FetchAllRelations(ctx context.Context, accessToken string, userID string, relation Relation) ([]Account, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if relation != RelationFollowing && relation != RelationFollowers {
		return nil, fmt.Errorf("%w: unknown relation %q", ErrInvalidRequest, relation)
	}

	var collected []Account
	paginationToken := ""
	for pageIndex := 0; ; pageIndex++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		pageAccounts, nextToken, pageErr := client.fetchRelationPage(ctx, accessToken, userID, relation, paginationToken)
		if pageErr != nil {
			return nil, pageErr
		}
		collected = append(collected, pageAccounts...)
		client.logger.Debug(logMessagePageFetched,
			zap.String(logFieldRelation, string(relation)),
			zap.Int(logFieldPageIndex, pageIndex),
			zap.Int(logFieldAccumulatedCount, len(collected)),
		)

		if nextToken == "" {
			break
		}
		paginationToken = nextToken
	}
	return DedupeByID(collected), nil
}

func (client *Client) fetchRelationPage(ctx context.Context, accessToken string, userID string, relation Relation, paginationToken string) ([]Account, string, error) {
	queryValues := url.Values{}
	queryValues.Set("max_results", strconv.Itoa(client.pageSize))
	queryValues.Set("user.fields", relationUserFields)
	if paginationToken != "" {
		queryValues.Set("pagination_token", paginationToken)
	}
	endpoint := client.apiBaseURL + userPathPrefix + url.PathEscape(userID) + "/" + string(relation) + "?" + queryValues.Encode()

	statusCode, headers, payload, sendErr := client.send(ctx, http.MethodGet, endpoint, nil, "", accessToken)
	if sendErr != nil {
		return nil, "", sendErr
	}
	if statusCode/100 != 2 {
		return nil, "", classifyFailure(statusCode, headers, payload)
	}

	var envelope relationPageEnvelope
	if unmarshalErr := json.Unmarshal(payload, &envelope); unmarshalErr != nil {
		return nil, "", fmt.Errorf("decode relationship page: %w", unmarshalErr)
	}
	return envelope.Data, envelope.Meta.NextToken, nil
}

// Unfollow removes a single relationship edge and reports the
// upstream-confirmed post-state. An upstream reply indicating the edge was
// already absent is treated as success.
func (client *Client) Unfollow(ctx context.Context, accessToken string, sourceUserID string, targetUserID string) (UnfollowResult, error) {
	if strings.TrimSpace(sourceUserID) == "" || strings.TrimSpace(targetUserID) == "" {
		return UnfollowResult{}, fmt.Errorf("%w: source and target user ids are required", ErrInvalidRequest)
	}

	endpoint := client.apiBaseURL + userPathPrefix + url.PathEscape(sourceUserID) + "/following/" + url.PathEscape(targetUserID)
	statusCode, headers, payload, sendErr := client.send(ctx, http.MethodDelete, endpoint, nil, "", accessToken)
	if sendErr != nil {
		return UnfollowResult{}, sendErr
	}

	var envelope unfollowEnvelope
	_ = json.Unmarshal(payload, &envelope)

	if statusCode/100 == 2 {
		return UnfollowResult{
			Succeeded:      !envelope.Data.Following,
			StillFollowing: envelope.Data.Following,
		}, nil
	}

	// The edge being gone already is the desired end state.
	lowerDetail := strings.ToLower(envelope.Detail)
	if strings.Contains(lowerDetail, notFollowingDetailMark) || strings.Contains(lowerDetail, alreadyDetailMark) {
		return UnfollowResult{Succeeded: true}, nil
	}
	return UnfollowResult{}, classifyFailure(statusCode, headers, payload)
}

func (client *Client) send(ctx context.Context, method string, endpoint string, body io.Reader, contentType string, accessToken string) (int, http.Header, []byte, error) {
	httpRequest, requestErr := http.NewRequestWithContext(ctx, method, endpoint, body)
	if requestErr != nil {
		return 0, nil, nil, fmt.Errorf("build request: %w", requestErr)
	}
	if contentType != "" {
		httpRequest.Header.Set("Content-Type", contentType)
	}
	if accessToken != "" {
		httpRequest.Header.Set(authorizationHeaderName, bearerPrefix+accessToken)
	}

	httpResponse, doErr := client.httpClient.Do(httpRequest)
	if doErr != nil {
		return 0, nil, nil, fmt.Errorf("%s: %w", errMessageTransportFailure, doErr)
	}
	defer httpResponse.Body.Close()

	payload, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return 0, nil, nil, fmt.Errorf("read response body: %w", readErr)
	}

	client.logger.Debug(logMessageRequest,
		zap.String(logFieldMethod, method),
		zap.String(logFieldEndpoint, endpoint),
		zap.Int(logFieldStatus, httpResponse.StatusCode),
	)
	return httpResponse.StatusCode, httpResponse.Header, payload, nil
}

// classifyFailure maps a non-success upstream response onto the error
// taxonomy, preserving the diagnostic payload.
func classifyFailure(statusCode int, headers http.Header, payload []byte) error {
	switch {
	case statusCode == http.StatusUnauthorized:
		return &UnauthorizedError{Payload: payload}
	case statusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(headers), Payload: payload}
	default:
		return &UpstreamError{StatusCode: statusCode, Payload: payload}
	}
}

func parseRetryAfter(headers http.Header) time.Duration {
	if headers == nil {
		return 0
	}
	if retryAfter := strings.TrimSpace(headers.Get(retryAfterHeaderName)); retryAfter != "" {
		if seconds, parseErr := strconv.Atoi(retryAfter); parseErr == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	if reset := strings.TrimSpace(headers.Get(rateLimitResetHeader)); reset != "" {
		if unixSeconds, parseErr := strconv.ParseInt(reset, 10, 64); parseErr == nil {
			if wait := time.Until(time.Unix(unixSeconds, 0)); wait > 0 {
				return wait
			}
		}
	}
	return 0
}
