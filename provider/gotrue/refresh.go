package gotrue

import (
	"context"
	"time"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/robfig/cron/v3"
)

// DefaultRefreshSchedule checks the session every thirty seconds.
const DefaultRefreshSchedule = "@every 30s"

// StartAutoRefresh refreshes the session on schedule once it is within
// before of expiring.
func (c *Client) StartAutoRefresh(schedule string, before time.Duration) error {
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid refresh schedule").
			WithMetadata(map[string]any{"schedule": schedule})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return goerrors.New("auto refresh already started", goerrors.CategoryConflict)
	}

	job := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := job.AddFunc(schedule, func() { c.refreshIfDue(before) }); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to schedule refresh")
	}
	job.Start()
	c.cron = job
	return nil
}

// StopAutoRefresh stops the schedule and waits for a running refresh.
func (c *Client) StopAutoRefresh() {
	c.mu.Lock()
	job := c.cron
	c.cron = nil
	c.mu.Unlock()

	if job != nil {
		<-job.Stop().Done()
	}
}

func (c *Client) refreshIfDue(before time.Duration) {
	if !c.ExpiresWithin(before) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := c.RefreshSession(ctx); err != nil {
		c.logger.Warn("automatic session refresh failed", "error", err)
		if isAuthFailure(err) {
			if session := c.current(); session != nil {
				c.drop(ctx, session)
				c.stream.Emit(auth.EventSignedOut, nil)
			}
		}
	}
}
