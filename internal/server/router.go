// Package server exposes the intermediary HTTP surface. The browser talks to
// a single /api/auth route family dispatched on method and action; platform
// credentials and bearer tokens stay on this side of the connection.
package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/x-prune/xprune/internal/platform"
	"github.com/x-prune/xprune/internal/session"
	"github.com/x-prune/xprune/internal/unfollower"
)

const (
	authRoutePath   = "/api/auth"
	healthRoutePath = "/healthz"

	actionQueryKey       = "action"
	targetUserIDQueryKey = "target_user_id"
	sessionTokenQueryKey = "session_token"
	authorizationHeader  = "Authorization"
	bearerPrefix         = "Bearer "

	actionToken            = "token"
	actionRefresh          = "refresh"
	actionLogout           = "logout"
	actionUser             = "user"
	actionFollowing        = "following"
	actionFollowers        = "followers"
	actionAnalysis         = "analysis"
	actionUnfollow         = "unfollow"
	actionUnfollowSelected = "unfollow_selected"
	actionSelection        = "selection"

	errorMessageCredentialsMissing = "API credentials not configured"
	errorMessageMethodNotAllowed   = "Method not allowed"
	errorMessageUnknownAction      = "Unknown action"
	errorMessageCodeRequired       = "Authorization code required"
	errorMessageSessionRequired    = "Session token required"
	errorMessageTargetRequired     = "Target user ID required"
	errorMessageInvalidBody        = "Invalid request body"
	errorMessageInternal           = "Internal server error"

	healthStatusKey = "status"
	healthStatusOK  = "ok"

	logMessageRequestFailed = "request failed"
	logFieldAction          = "action"
	logFieldMethod          = "method"

	ginModeRelease = "release"

	corsAllowCredentials = "true"
	corsAllowOrigin      = "*"
	corsAllowMethods     = "GET,OPTIONS,PATCH,DELETE,POST,PUT"
	corsAllowHeaders     = "X-CSRF-Token, X-Requested-With, Accept, Accept-Version, Content-Length, Content-MD5, Content-Type, Date, X-Api-Version, Authorization"
)

// RouterConfig configures the HTTP routing for the intermediary.
type RouterConfig struct {
	Manager      *session.Manager
	ClientID     string
	ClientSecret string
	Logger       *zap.Logger
}

// NewRouter constructs a Gin engine with the auth dispatch and health handlers.
func NewRouter(configuration RouterConfig) (*gin.Engine, error) {
	if configuration.Manager == nil {
		return nil, errors.New("session manager is required")
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(ginModeRelease)
	engine := gin.New()
	engine.Use(gin.Recovery(), corsMiddleware())

	handler := authHandler{
		manager:               configuration.Manager,
		credentialsConfigured: configuration.ClientID != "" && configuration.ClientSecret != "",
		logger:                logger,
	}

	engine.Any(authRoutePath, handler.dispatch)
	engine.GET(healthRoutePath, handler.healthStatus)

	return engine, nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		ginContext.Header("Access-Control-Allow-Credentials", corsAllowCredentials)
		ginContext.Header("Access-Control-Allow-Origin", corsAllowOrigin)
		ginContext.Header("Access-Control-Allow-Methods", corsAllowMethods)
		ginContext.Header("Access-Control-Allow-Headers", corsAllowHeaders)

		if ginContext.Request.Method == http.MethodOptions {
			ginContext.AbortWithStatus(http.StatusOK)
			return
		}
		ginContext.Next()
	}
}

type authHandler struct {
	manager               *session.Manager
	credentialsConfigured bool
	logger                *zap.Logger
}

func (handler authHandler) dispatch(ginContext *gin.Context) {
	if !handler.credentialsConfigured {
		ginContext.JSON(http.StatusInternalServerError, gin.H{"error": errorMessageCredentialsMissing})
		return
	}

	action := ginContext.Query(actionQueryKey)
	switch ginContext.Request.Method {
	case http.MethodPost:
		switch action {
		case actionToken:
			handler.exchangeToken(ginContext)
			return
		case actionRefresh:
			handler.refreshCredentials(ginContext)
			return
		case actionLogout:
			handler.logout(ginContext)
			return
		}
	case http.MethodGet:
		switch action {
		case actionUser:
			handler.userProfile(ginContext)
			return
		case actionFollowing:
			handler.relations(ginContext, platform.RelationFollowing)
			return
		case actionFollowers:
			handler.relations(ginContext, platform.RelationFollowers)
			return
		case actionAnalysis:
			handler.analysis(ginContext)
			return
		}
	case http.MethodDelete:
		switch action {
		case actionUnfollow:
			handler.unfollowOne(ginContext)
			return
		case actionUnfollowSelected:
			handler.unfollowSelected(ginContext)
			return
		}
	case http.MethodPut:
		if action == actionSelection {
			handler.setSelection(ginContext)
			return
		}
	default:
		ginContext.JSON(http.StatusMethodNotAllowed, gin.H{"error": errorMessageMethodNotAllowed})
		return
	}

	ginContext.JSON(http.StatusBadRequest, gin.H{"error": errorMessageUnknownAction})
}

type tokenRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
}

func (handler authHandler) exchangeToken(ginContext *gin.Context) {
	var request tokenRequest
	if bindErr := ginContext.ShouldBindJSON(&request); bindErr != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errorMessageInvalidBody})
		return
	}
	if request.Code == "" {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errorMessageCodeRequired})
		return
	}

	createdSession, sessionToken, loginErr := handler.manager.Login(ginContext.Request.Context(), request.Code, request.CodeVerifier)
	if loginErr != nil {
		handler.respondError(ginContext, loginErr)
		return
	}

	ginContext.JSON(http.StatusOK, gin.H{
		"session_token": sessionToken,
		"user":          createdSession.Account,
	})
}

func (handler authHandler) refreshCredentials(ginContext *gin.Context) {
	currentSession, resolved := handler.resolveSession(ginContext)
	if !resolved {
		return
	}

	refreshedSession, refreshErr := handler.manager.RefreshCredentials(ginContext.Request.Context(), currentSession)
	if refreshErr != nil {
		handler.respondError(ginContext, refreshErr)
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"user": refreshedSession.Account})
}

func (handler authHandler) logout(ginContext *gin.Context) {
	currentSession, resolved := handler.resolveSession(ginContext)
	if !resolved {
		return
	}
	if logoutErr := handler.manager.Logout(ginContext.Request.Context(), currentSession); logoutErr != nil {
		handler.respondError(ginContext, logoutErr)
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"success": true})
}

func (handler authHandler) userProfile(ginContext *gin.Context) {
	currentSession, resolved := handler.resolveSession(ginContext)
	if !resolved {
		return
	}

	refreshedSession, profileErr := handler.manager.RefreshProfile(ginContext.Request.Context(), currentSession)
	if profileErr != nil {
		handler.respondError(ginContext, profileErr)
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"user": refreshedSession.Account})
}

func (handler authHandler) relations(ginContext *gin.Context, relation platform.Relation) {
	currentSession, resolved := handler.resolveSession(ginContext)
	if !resolved {
		return
	}

	accounts, fetchErr := handler.manager.Relations(ginContext.Request.Context(), currentSession, relation)
	if fetchErr != nil {
		handler.respondError(ginContext, fetchErr)
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{
		string(relation): accounts,
		"count":          len(accounts),
	})
}

func (handler authHandler) analysis(ginContext *gin.Context) {
	currentSession, resolved := handler.resolveSession(ginContext)
	if !resolved {
		return
	}

	analyzedSession, analyzeErr := handler.manager.Analyze(ginContext.Request.Context(), currentSession)
	if analyzeErr != nil {
		handler.respondError(ginContext, analyzeErr)
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{
		"non_followers":      analyzedSession.NonFollowers,
		"non_follower_count": len(analyzedSession.NonFollowers),
		"mutual_count":       analyzedSession.MutualCount,
		"following_count":    len(analyzedSession.Following),
		"followers_count":    len(analyzedSession.Followers),
	})
}

func (handler authHandler) unfollowOne(ginContext *gin.Context) {
	currentSession, resolved := handler.resolveSession(ginContext)
	if !resolved {
		return
	}

	targetUserID := ginContext.Query(targetUserIDQueryKey)
	if targetUserID == "" {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errorMessageTargetRequired})
		return
	}

	result, unfollowErr := handler.manager.UnfollowOne(ginContext.Request.Context(), currentSession, targetUserID)
	if unfollowErr != nil {
		handler.respondError(ginContext, unfollowErr)
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{
		"success":   result.Succeeded,
		"following": result.StillFollowing,
	})
}

func (handler authHandler) unfollowSelected(ginContext *gin.Context) {
	currentSession, resolved := handler.resolveSession(ginContext)
	if !resolved {
		return
	}

	report, batchErr := handler.manager.UnfollowSelected(ginContext.Request.Context(), currentSession)
	if batchErr != nil {
		handler.respondError(ginContext, batchErr)
		return
	}

	outcomes := make([]gin.H, 0, len(report.Outcomes))
	for _, outcome := range report.Outcomes {
		entry := gin.H{
			"account_id": outcome.AccountID,
			"status":     string(outcome.Status),
		}
		if outcome.Status == unfollower.StatusFailed && outcome.StillFollowing {
			entry["still_following"] = true
		}
		if outcome.Err != nil {
			entry["error"] = outcome.Err.Error()
		}
		outcomes = append(outcomes, entry)
	}

	succeeded, failed, skipped := report.Counts()
	ginContext.JSON(http.StatusOK, gin.H{
		"outcomes":            outcomes,
		"succeeded":           succeeded,
		"failed":              failed,
		"skipped":             skipped,
		"rate_limited":        report.RateLimited,
		"retry_after_seconds": int(report.RetryAfter.Seconds()),
		"cancelled":           report.Cancelled,
	})
}

type selectionRequest struct {
	AccountIDs []string `json:"account_ids"`
}

func (handler authHandler) setSelection(ginContext *gin.Context) {
	currentSession, resolved := handler.resolveSession(ginContext)
	if !resolved {
		return
	}

	var request selectionRequest
	if bindErr := ginContext.ShouldBindJSON(&request); bindErr != nil {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": errorMessageInvalidBody})
		return
	}

	if selectionErr := handler.manager.SetSelection(ginContext.Request.Context(), currentSession, request.AccountIDs); selectionErr != nil {
		handler.respondError(ginContext, selectionErr)
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"selected_count": len(request.AccountIDs)})
}

// resolveSession extracts the browser token from the Authorization header or
// the session_token query parameter and loads its session. It writes the
// error response itself when resolution fails.
func (handler authHandler) resolveSession(ginContext *gin.Context) (*session.Session, bool) {
	token := ginContext.Query(sessionTokenQueryKey)
	if header := ginContext.GetHeader(authorizationHeader); len(header) > len(bearerPrefix) && header[:len(bearerPrefix)] == bearerPrefix {
		token = header[len(bearerPrefix):]
	}
	if token == "" {
		ginContext.JSON(http.StatusUnauthorized, gin.H{"error": errorMessageSessionRequired})
		return nil, false
	}

	currentSession, resolveErr := handler.manager.Resolve(ginContext.Request.Context(), token)
	if resolveErr != nil {
		handler.respondError(ginContext, resolveErr)
		return nil, false
	}
	return currentSession, true
}

// respondError maps the error taxonomy to status codes, passing upstream
// diagnostic payloads through where they exist.
func (handler authHandler) respondError(ginContext *gin.Context, failure error) {
	handler.logger.Warn(logMessageRequestFailed,
		zap.String(logFieldMethod, ginContext.Request.Method),
		zap.String(logFieldAction, ginContext.Query(actionQueryKey)),
		zap.Error(failure),
	)

	var exchangeErr *platform.AuthExchangeError
	if errors.As(failure, &exchangeErr) {
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": "Token exchange failed", "details": string(exchangeErr.Payload)})
		return
	}

	var rateLimitErr *platform.RateLimitError
	if errors.As(failure, &rateLimitErr) {
		if rateLimitErr.RetryAfter > 0 {
			ginContext.Header("Retry-After", strconv.Itoa(int(rateLimitErr.RetryAfter.Seconds())))
		}
		ginContext.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limited", "details": string(rateLimitErr.Payload)})
		return
	}

	var upstreamErr *platform.UpstreamError
	switch {
	case errors.Is(failure, platform.ErrInvalidRequest):
		ginContext.JSON(http.StatusBadRequest, gin.H{"error": failure.Error()})
	case errors.Is(failure, platform.ErrUnauthorized),
		errors.Is(failure, session.ErrSessionNotFound),
		errors.Is(failure, session.ErrInvalidSessionToken):
		ginContext.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.As(failure, &upstreamErr):
		ginContext.JSON(http.StatusBadGateway, gin.H{"error": "Upstream request failed", "details": string(upstreamErr.Payload)})
	default:
		ginContext.JSON(http.StatusInternalServerError, gin.H{"error": errorMessageInternal, "message": failure.Error()})
	}
}

func (handler authHandler) healthStatus(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, map[string]string{healthStatusKey: healthStatusOK})
}
