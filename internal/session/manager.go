package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/x-prune/xprune/internal/platform"
	"github.com/x-prune/xprune/internal/reconcile"
	"github.com/x-prune/xprune/internal/unfollower"
)

const (
	logMessageLogin          = "session created"
	logMessageLogout         = "session destroyed"
	logMessageAnalysisDone   = "analysis completed"
	logMessageBatchApplied   = "batch unfollow applied"
	logFieldSessionID        = "session_id"
	logFieldUserID           = "user_id"
	logFieldFollowingCount   = "following"
	logFieldFollowersCount   = "followers"
	logFieldNonFollowerCount = "non_followers"
	logFieldMutualCount      = "mutual"
	logFieldSucceededCount   = "succeeded"
)

// PlatformAPI is the slice of the platform client the manager drives.
type PlatformAPI interface {
	ExchangeAuthorizationCode(ctx context.Context, code string, codeVerifier string) (platform.TokenGrant, platform.Account, error)
	RefreshToken(ctx context.Context, refreshToken string) (platform.TokenGrant, error)
	FetchProfile(ctx context.Context, accessToken string) (platform.Account, error)
	FetchAllRelations(ctx context.Context, accessToken string, userID string, relation platform.Relation) ([]platform.Account, error)
	Unfollow(ctx context.Context, accessToken string, sourceUserID string, targetUserID string) (platform.UnfollowResult, error)
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	API           PlatformAPI
	Store         Store
	Issuer        *TokenIssuer
	UnfollowDelay time.Duration
	Logger        *zap.Logger
}

// Manager runs the session lifecycle: login, analysis, unfollow bookkeeping,
// and logout. Every operation receives the session explicitly. Operations on
// one session are serialized by a per-session mutex: the store may hand every
// caller the same session object, so only one operation at a time may read or
// mutate it.
type Manager struct {
	api      PlatformAPI
	store    Store
	issuer   *TokenIssuer
	executor *unfollower.Executor
	logger   *zap.Logger

	analysisGroup singleflight.Group
	sessionLocks  sync.Map
}

// NewManager constructs a Manager from configuration values.
func NewManager(configuration ManagerConfig) (*Manager, error) {
	if configuration.API == nil {
		return nil, errors.New("platform API is required")
	}
	if configuration.Store == nil {
		return nil, errors.New("session store is required")
	}
	if configuration.Issuer == nil {
		return nil, errors.New("token issuer is required")
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	executor, executorErr := unfollower.NewExecutor(unfollower.Config{
		API:    configuration.API,
		Delay:  configuration.UnfollowDelay,
		Logger: logger,
	})
	if executorErr != nil {
		return nil, fmt.Errorf("create unfollow executor: %w", executorErr)
	}

	return &Manager{
		api:      configuration.API,
		store:    configuration.Store,
		issuer:   configuration.Issuer,
		executor: executor,
		logger:   logger,
	}, nil
}

// Login exchanges the authorization code, creates the session, and returns
// it together with the signed browser token.
func (manager *Manager) Login(ctx context.Context, code string, codeVerifier string) (*Session, string, error) {
	grant, account, exchangeErr := manager.api.ExchangeAuthorizationCode(ctx, code, codeVerifier)
	if exchangeErr != nil {
		return nil, "", exchangeErr
	}

	newSession := New(grant, account)
	if saveErr := manager.store.Save(ctx, newSession); saveErr != nil {
		return nil, "", saveErr
	}
	browserToken, issueErr := manager.issuer.Issue(newSession.ID)
	if issueErr != nil {
		return nil, "", issueErr
	}

	manager.logger.Info(logMessageLogin,
		zap.String(logFieldSessionID, newSession.ID),
		zap.String(logFieldUserID, account.ID),
	)
	return newSession, browserToken, nil
}

// Resolve verifies a browser token and loads its session.
func (manager *Manager) Resolve(ctx context.Context, browserToken string) (*Session, error) {
	sessionID, verifyErr := manager.issuer.Verify(browserToken)
	if verifyErr != nil {
		return nil, verifyErr
	}
	return manager.store.Load(ctx, sessionID)
}

// lockSession takes the session's mutex and returns the release. Every
// operation on a resolved session runs under it, which keeps concurrent
// requests for the same session strictly one at a time.
func (manager *Manager) lockSession(sessionID string) func() {
	entry, _ := manager.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	sessionMutex := entry.(*sync.Mutex)
	sessionMutex.Lock()
	return sessionMutex.Unlock
}

// Logout destroys the session; the credentials it owned are gone with it.
func (manager *Manager) Logout(ctx context.Context, currentSession *Session) error {
	defer manager.lockSession(currentSession.ID)()

	if deleteErr := manager.store.Delete(ctx, currentSession.ID); deleteErr != nil {
		return deleteErr
	}
	currentSession.AccessToken = ""
	currentSession.RefreshToken = ""
	currentSession.ClearSelection()
	manager.logger.Info(logMessageLogout, zap.String(logFieldSessionID, currentSession.ID))
	return nil
}

// RefreshCredentials trades the session's refresh token for a fresh grant and
// stores it. Sessions without a refresh token cannot be refreshed.
func (manager *Manager) RefreshCredentials(ctx context.Context, currentSession *Session) (*Session, error) {
	defer manager.lockSession(currentSession.ID)()

	if currentSession.RefreshToken == "" {
		return nil, fmt.Errorf("%w: session has no refresh token", platform.ErrInvalidRequest)
	}
	grant, refreshErr := manager.api.RefreshToken(ctx, currentSession.RefreshToken)
	if refreshErr != nil {
		return nil, refreshErr
	}
	currentSession.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		currentSession.RefreshToken = grant.RefreshToken
	}
	if saveErr := manager.store.Save(ctx, currentSession); saveErr != nil {
		return nil, saveErr
	}
	return currentSession.Snapshot(), nil
}

// Relations fetches one relationship list for the session's account without
// touching the cached analysis.
func (manager *Manager) Relations(ctx context.Context, currentSession *Session, relation platform.Relation) ([]platform.Account, error) {
	defer manager.lockSession(currentSession.ID)()

	return manager.api.FetchAllRelations(ctx, currentSession.AccessToken, currentSession.Account.ID, relation)
}

// RefreshProfile refetches the authenticated account's profile.
func (manager *Manager) RefreshProfile(ctx context.Context, currentSession *Session) (*Session, error) {
	defer manager.lockSession(currentSession.ID)()

	account, profileErr := manager.api.FetchProfile(ctx, currentSession.AccessToken)
	if profileErr != nil {
		return nil, profileErr
	}
	currentSession.Account = account
	if saveErr := manager.store.Save(ctx, currentSession); saveErr != nil {
		return nil, saveErr
	}
	return currentSession.Snapshot(), nil
}

// Analyze fetches both relationship lists sequentially, reconciles them, and
// installs the result on the session. Concurrent analyze triggers for the
// same session collapse into a single run. The run serves every waiter, so it
// is detached from the arriving request's context: one caller disconnecting
// must not fail the shared result.
func (manager *Manager) Analyze(ctx context.Context, currentSession *Session) (*Session, error) {
	analyzed, analyzeErr, _ := manager.analysisGroup.Do(currentSession.ID, func() (any, error) {
		defer manager.lockSession(currentSession.ID)()
		runCtx := context.WithoutCancel(ctx)

		following, followingErr := manager.api.FetchAllRelations(runCtx, currentSession.AccessToken, currentSession.Account.ID, platform.RelationFollowing)
		if followingErr != nil {
			return nil, followingErr
		}
		followers, followersErr := manager.api.FetchAllRelations(runCtx, currentSession.AccessToken, currentSession.Account.ID, platform.RelationFollowers)
		if followersErr != nil {
			return nil, followersErr
		}

		result := reconcile.Reconcile(following, followers)
		currentSession.ApplyAnalysis(following, followers, result)
		if saveErr := manager.store.Save(runCtx, currentSession); saveErr != nil {
			return nil, saveErr
		}

		manager.logger.Info(logMessageAnalysisDone,
			zap.String(logFieldSessionID, currentSession.ID),
			zap.Int(logFieldFollowingCount, len(following)),
			zap.Int(logFieldFollowersCount, len(followers)),
			zap.Int(logFieldNonFollowerCount, len(result.NonFollowers)),
			zap.Int(logFieldMutualCount, result.MutualCount),
		)
		return currentSession.Snapshot(), nil
	})
	if analyzeErr != nil {
		return nil, analyzeErr
	}
	return analyzed.(*Session), nil
}

// UnfollowOne removes a single edge and, on confirmation, restores the
// session invariants.
func (manager *Manager) UnfollowOne(ctx context.Context, currentSession *Session, targetUserID string) (platform.UnfollowResult, error) {
	defer manager.lockSession(currentSession.ID)()

	result, unfollowErr := manager.api.Unfollow(ctx, currentSession.AccessToken, currentSession.Account.ID, targetUserID)
	if unfollowErr != nil {
		return result, unfollowErr
	}
	if result.Succeeded {
		currentSession.ApplyUnfollow(targetUserID)
		if saveErr := manager.store.Save(ctx, currentSession); saveErr != nil {
			return result, saveErr
		}
	}
	return result, nil
}

// SetSelection replaces the selection with the given identifiers. Identifiers
// outside the current non-follower set are rejected.
func (manager *Manager) SetSelection(ctx context.Context, currentSession *Session, accountIDs []string) error {
	defer manager.lockSession(currentSession.ID)()

	currentSession.ClearSelection()
	for _, accountID := range accountIDs {
		if !currentSession.Select(accountID) {
			return fmt.Errorf("%w: account %s is not a current non-follower", platform.ErrInvalidRequest, accountID)
		}
	}
	return manager.store.Save(ctx, currentSession)
}

// UnfollowSelected runs the batch executor over the selected accounts,
// applying each confirmed removal to the session. A fully successful batch
// clears the selection; a partial one keeps the unprocessed entries selected
// so the caller can resume.
func (manager *Manager) UnfollowSelected(ctx context.Context, currentSession *Session) (unfollower.Report, error) {
	defer manager.lockSession(currentSession.ID)()

	targets := currentSession.SelectedAccounts()
	report := manager.executor.UnfollowMany(ctx, currentSession.AccessToken, currentSession.Account.ID, targets)

	for _, outcome := range report.Outcomes {
		if outcome.Status == unfollower.StatusSucceeded {
			currentSession.ApplyUnfollow(outcome.AccountID)
		}
	}
	if !report.Partial() {
		currentSession.ClearSelection()
	}
	if saveErr := manager.store.Save(ctx, currentSession); saveErr != nil {
		return report, saveErr
	}

	succeeded, _, _ := report.Counts()
	manager.logger.Info(logMessageBatchApplied,
		zap.String(logFieldSessionID, currentSession.ID),
		zap.Int(logFieldSucceededCount, succeeded),
	)
	return report, nil
}
