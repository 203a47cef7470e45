// Package scheduler fires the publishing job on cron expressions evaluated in
// the configured time zone.
package scheduler

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"auto_telegram_post_publisher/errs"
	"auto_telegram_post_publisher/logging"
)

// Job is invoked once per firing.
type Job func(ctx context.Context)

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron   *cron.Cron
	loc    *time.Location
	specs  map[cron.EntryID]string
	logger *logging.Logger

	// 关闭时不取消, 正在执行的周期跑完
	base context.Context
}

// Entry is one registered expression with its next firing time.
type Entry struct {
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
}

// ResolveLocation loads tz. An empty name means the local zone; an unknown
// name logs one warning and also falls back to the local zone.
func ResolveLocation(tz string, logger *logging.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		logger.Warnf("Unknown time zone %q, using local time: %v", tz, err)
		return time.Local
	}
	return loc
}

// New registers job under every spec. Specs use the standard five fields
// (minute hour day-of-month month day-of-week) or descriptors like @daily.
func New(tz string, specs []string, job Job, logger *logging.Logger) (*Scheduler, error) {
	logger = logger.With("scheduler")
	if job == nil {
		return nil, errs.Configuration("scheduler", "job is required")
	}
	if len(specs) == 0 {
		return nil, errs.Configuration("scheduler", "at least one cron expression is required")
	}
	loc := ResolveLocation(tz, logger)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cron.PrintfLogger(logger.Std()))),
		),
		loc:    loc,
		specs:  make(map[cron.EntryID]string, len(specs)),
		logger: logger,
		base:   context.Background(),
	}
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		id, err := s.cron.AddFunc(spec, func() { job(s.base) })
		if err != nil {
			return nil, errs.Configuration("scheduler", "invalid cron expression %q: %v", spec, err)
		}
		s.specs[id] = spec
		logger.Infof("Registered %q in %s", spec, loc)
	}
	return s, nil
}

// Location is the zone the expressions are evaluated in.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.Entries() {
		s.logger.Infof("Next run for %q: %s", e.Spec, e.Next.Format(time.RFC3339))
	}
}

// Entries lists the registered expressions in registration order.
// Next is zero before Start.
func (s *Scheduler) Entries() []Entry {
	entries := s.cron.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, Entry{Spec: s.specs[e.ID], Next: e.Next})
	}
	return out
}

// NextAfter reports when the earliest expression fires after t.
func (s *Scheduler) NextAfter(t time.Time) time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		n := e.Schedule.Next(t.In(s.loc))
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}

// Stop halts new firings and waits for a running job, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
