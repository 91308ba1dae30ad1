// Package unfollower executes batch unfollow runs against the platform.
// Items are processed strictly sequentially with a mandatory pause between
// calls; upstream rate limits are shared across the account, so concurrent
// fan-out is not an option here.
package unfollower

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/x-prune/xprune/internal/platform"
)

const (
	defaultDelay = time.Second

	logMessageItemOutcome  = "unfollow item processed"
	logMessageRateLimited  = "batch stopped on rate limit"
	logMessageBatchDone    = "unfollow batch finished"
	logFieldAccountID      = "account_id"
	logFieldStatus         = "status"
	logFieldRetryAfter     = "retry_after"
	logFieldSucceededCount = "succeeded"
	logFieldFailedCount    = "failed"
	logFieldSkippedCount   = "skipped"
)

// Status classifies the outcome of a single batch item.
type Status string

const (
	// StatusSucceeded marks a confirmed edge removal, including the
	// idempotent case where the edge was already absent.
	StatusSucceeded Status = "succeeded"
	// StatusFailed marks an item whose request completed with a failure or
	// whose post-state still shows the edge.
	StatusFailed Status = "failed"
	// StatusSkipped marks an item that was never attempted, either because a
	// rate limit stopped the batch or because the run was cancelled.
	StatusSkipped Status = "skipped"
)

// ItemOutcome is the per-item entry of a batch report.
type ItemOutcome struct {
	AccountID      string
	Status         Status
	StillFollowing bool
	Err            error
}

// Report is the structured result of a batch run. A mixed report is not a
// hard error; callers inspect the outcomes and the stop markers.
type Report struct {
	Outcomes    []ItemOutcome
	RateLimited bool
	RetryAfter  time.Duration
	Cancelled   bool
}

// Counts returns the number of succeeded, failed, and skipped items.
func (report Report) Counts() (int, int, int) {
	var succeeded, failed, skipped int
	for _, outcome := range report.Outcomes {
		switch outcome.Status {
		case StatusSucceeded:
			succeeded++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}

// Partial reports whether any item did not succeed.
func (report Report) Partial() bool {
	succeeded, _, _ := report.Counts()
	return succeeded != len(report.Outcomes)
}

// API is the single-edge removal operation the executor drives.
type API interface {
	Unfollow(ctx context.Context, accessToken string, sourceUserID string, targetUserID string) (platform.UnfollowResult, error)
}

// Config customizes an Executor.
type Config struct {
	API    API
	Delay  time.Duration
	Logger *zap.Logger
}

// Executor runs unfollow batches with fixed pacing.
type Executor struct {
	api    API
	delay  time.Duration
	logger *zap.Logger
}

// NewExecutor constructs an Executor, defaulting the inter-call delay.
func NewExecutor(configuration Config) (*Executor, error) {
	if configuration.API == nil {
		return nil, errors.New("unfollow API is required")
	}
	delay := configuration.Delay
	if delay <= 0 {
		delay = defaultDelay
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{api: configuration.API, delay: delay, logger: logger}, nil
}

// UnfollowMany processes the targets in order, one at a time, pausing the
// configured delay between consecutive calls regardless of each outcome. One
// item's failure does not abort the rest. A rate-limited item stops the run:
// that item and every remaining one are reported as skipped and the upstream
// retry hint is surfaced so the caller can resume later. Cancellation is
// honored between items; attempted outcomes are kept and the remainder is
// reported as skipped.
func (executor *Executor) UnfollowMany(ctx context.Context, accessToken string, sourceUserID string, targets []platform.Account) Report {
	report := Report{Outcomes: make([]ItemOutcome, 0, len(targets))}

	for index, target := range targets {
		if ctxErr := ctx.Err(); ctxErr != nil {
			report.Cancelled = true
			executor.skipRemaining(&report, targets[index:], ctxErr)
			break
		}

		result, unfollowErr := executor.api.Unfollow(ctx, accessToken, sourceUserID, target.ID)

		var rateLimitErr *platform.RateLimitError
		if errors.As(unfollowErr, &rateLimitErr) {
			report.RateLimited = true
			report.RetryAfter = rateLimitErr.RetryAfter
			executor.skipRemaining(&report, targets[index:], unfollowErr)
			executor.logger.Warn(logMessageRateLimited,
				zap.String(logFieldAccountID, target.ID),
				zap.Duration(logFieldRetryAfter, rateLimitErr.RetryAfter),
			)
			break
		}

		outcome := classifyOutcome(target.ID, result, unfollowErr)
		report.Outcomes = append(report.Outcomes, outcome)
		executor.logger.Debug(logMessageItemOutcome,
			zap.String(logFieldAccountID, target.ID),
			zap.String(logFieldStatus, string(outcome.Status)),
		)

		if index == len(targets)-1 {
			continue
		}
		if waitErr := waitForDuration(ctx, executor.delay); waitErr != nil {
			report.Cancelled = true
			executor.skipRemaining(&report, targets[index+1:], waitErr)
			break
		}
	}

	succeeded, failed, skipped := report.Counts()
	executor.logger.Info(logMessageBatchDone,
		zap.Int(logFieldSucceededCount, succeeded),
		zap.Int(logFieldFailedCount, failed),
		zap.Int(logFieldSkippedCount, skipped),
	)
	return report
}

func (executor *Executor) skipRemaining(report *Report, remaining []platform.Account, cause error) {
	for _, target := range remaining {
		report.Outcomes = append(report.Outcomes, ItemOutcome{
			AccountID: target.ID,
			Status:    StatusSkipped,
			Err:       cause,
		})
	}
}

func classifyOutcome(accountID string, result platform.UnfollowResult, unfollowErr error) ItemOutcome {
	if unfollowErr != nil {
		return ItemOutcome{AccountID: accountID, Status: StatusFailed, Err: unfollowErr}
	}
	if !result.Succeeded {
		return ItemOutcome{AccountID: accountID, Status: StatusFailed, StillFollowing: result.StillFollowing}
	}
	return ItemOutcome{AccountID: accountID, Status: StatusSucceeded}
}

func waitForDuration(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
