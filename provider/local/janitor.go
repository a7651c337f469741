package local

import (
	"context"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/robfig/cron/v3"
)

// DefaultJanitorSchedule runs housekeeping every minute.
const DefaultJanitorSchedule = "@every 1m"

// Janitor refreshes sessions before they expire and expires stale link
// requests, on a cron schedule.
type Janitor struct {
	service       *Service
	sessions      func() []*Service
	logger        auth.Logger
	refreshBefore time.Duration
	timeout       time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

func NewJanitor(service *Service) *Janitor {
	_, logger := auth.ResolveLogger("local.janitor", nil, nil)
	return &Janitor{
		service:       service,
		logger:        logger,
		refreshBefore: 5 * time.Minute,
		timeout:       30 * time.Second,
	}
}

func (j *Janitor) WithLogger(logger auth.Logger) *Janitor {
	if logger != nil {
		j.logger = logger
	}
	return j
}

// WithSessions makes each pass refresh the services returned by fn
// instead of the base service.
func (j *Janitor) WithSessions(fn func() []*Service) *Janitor {
	j.sessions = fn
	return j
}

// WithRefreshBefore sets how close to expiry a session gets refreshed.
func (j *Janitor) WithRefreshBefore(d time.Duration) *Janitor {
	if d > 0 {
		j.refreshBefore = d
	}
	return j
}

// Start schedules RunOnce. schedule accepts standard cron expressions
// and descriptors like "@every 30s".
func (j *Janitor) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid janitor schedule").
			WithMetadata(map[string]any{"schedule": schedule})
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return goerrors.New("janitor already started", goerrors.CategoryConflict)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, j.tick); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to schedule janitor")
	}
	c.Start()
	j.cron = c
	return nil
}

// Stop halts the schedule and waits for a running pass.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

func (j *Janitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.RunOnce(ctx); err != nil {
		j.logger.Warn("janitor pass failed", "error", err)
	}
}

// RunOnce performs a single housekeeping pass.
func (j *Janitor) RunOnce(ctx context.Context) error {
	var errs []error

	services := []*Service{j.service}
	if j.sessions != nil {
		services = j.sessions()
	}
	for _, svc := range services {
		if !svc.ExpiresWithin(j.refreshBefore) {
			continue
		}
		if _, err := svc.RefreshSession(ctx); err != nil {
			errs = append(errs, err)
		} else {
			j.logger.Debug("session refreshed ahead of expiry")
		}
	}

	expired, err := j.service.ExpireLinks(ctx)
	if err != nil {
		errs = append(errs, err)
	} else if expired > 0 {
		j.logger.Info("expired stale links", "count", expired)
	}

	return goerrors.Join(errs...)
}
