// Package scheduler fires managed workflow executions on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/seantiz/dataform-runner/internal/manager"
	"github.com/seantiz/dataform-runner/internal/model"
)

// ErrUnknownSchedule is returned for a schedule name that was not configured.
var ErrUnknownSchedule = errors.New("unknown schedule")

// cronParser accepts standard 5-field expressions and descriptors such as
// "@hourly" or "@every 15m".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule runs the repository's workflow on a cron expression.
type Schedule struct {
	Name        string
	Cron        string
	FullRefresh bool
	Wait        bool
	Timeout     time.Duration
}

// Validate checks the name and the cron expression.
func (s Schedule) Validate() error {
	if s.Name == "" {
		return errors.New("schedule name is required")
	}
	if _, err := cronParser.Parse(s.Cron); err != nil {
		return fmt.Errorf("schedule %s: invalid cron expression %q: %w", s.Name, s.Cron, err)
	}
	return nil
}

// Runner starts managed executions. *manager.Manager satisfies it.
type Runner interface {
	RunWorkflow(ctx context.Context, req manager.RunRequest) (string, error)
}

type scheduled struct {
	schedule Schedule
	entryID  cron.EntryID
}

// Scheduler triggers a Runner for each configured Schedule.
type Scheduler struct {
	runner Runner
	logger *slog.Logger
	cron   *cron.Cron

	mu      sync.RWMutex
	entries map[string]scheduled
	ctx     context.Context
}

// New validates schedules and registers them. Names must be unique.
func New(schedules []Schedule, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		runner:  runner,
		logger:  logger,
		cron:    cron.New(cron.WithParser(cronParser)),
		entries: make(map[string]scheduled, len(schedules)),
		ctx:     context.Background(),
	}

	for _, sched := range schedules {
		if err := sched.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.entries[sched.Name]; dup {
			return nil, fmt.Errorf("schedule %s: duplicate name", sched.Name)
		}

		id, err := s.cron.AddFunc(sched.Cron, func() {
			if _, err := s.fire(s.runContext(), sched); err != nil {
				s.logger.Error("scheduled run rejected", "schedule", sched.Name, "error", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sched.Name, err)
		}
		s.entries[sched.Name] = scheduled{schedule: sched, entryID: id}
	}

	return s, nil
}

// Start begins firing schedules. Runs started by the scheduler inherit ctx's
// values.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "schedules", len(s.entries))
}

// Stop prevents further firings and waits for a firing in progress, or for
// ctx to be done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger fires a schedule immediately and returns the execution id.
func (s *Scheduler) Trigger(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrUnknownSchedule)
	}
	return s.fire(ctx, e.schedule)
}

// Next returns the next time the named schedule fires. Before Start it is
// computed from the expression.
func (s *Scheduler) Next(name string) (time.Time, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, fmt.Errorf("%s: %w", name, ErrUnknownSchedule)
	}

	if next := s.cron.Entry(e.entryID).Next; !next.IsZero() {
		return next, nil
	}
	sched, err := cronParser.Parse(e.schedule.Cron)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(time.Now()), nil
}

// Names returns the configured schedule names in sorted order.
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

func (s *Scheduler) fire(ctx context.Context, sched Schedule) (string, error) {
	id, err := s.runner.RunWorkflow(ctx, manager.RunRequest{
		ExecutionID: model.NewScopedExecutionID(sched.Name),
		Wait:        sched.Wait,
		Timeout:     sched.Timeout,
		FullRefresh: sched.FullRefresh,
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("schedule fired", "schedule", sched.Name, "execution_id", id)
	return id, nil
}
