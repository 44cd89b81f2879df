package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
)

// Reaper deletes leftover sandboxes that outlive their pipeline run.
// A run normally destroys its own sandbox during cleanup; the reaper
// catches the ones orphaned by crashes or lost connections.
type Reaper struct {
	gateway    Gateway
	namePrefix string
	maxAge     time.Duration
	schedule   cron.Schedule
	stopChan   chan struct{}
}

// SweepResult reports one sweep over the sandbox list.
type SweepResult struct {
	Inspected int
	Deleted   []string
	Failed    map[string]error
}

// NewReaper creates a reaper for sandboxes whose name carries prefix
// and whose age exceeds maxAge. The cron expression uses the standard
// five-field form.
func NewReaper(gateway Gateway, namePrefix, cronExpr string, maxAge time.Duration) (*Reaper, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", cronExpr, err)
	}
	return &Reaper{
		gateway:    gateway,
		namePrefix: namePrefix,
		maxAge:     maxAge,
		schedule:   schedule,
		stopChan:   make(chan struct{}),
	}, nil
}

// Stale reports whether the sandbox is old enough to reap.
func (r *Reaper) Stale(info Info, now time.Time) bool {
	if !strings.HasPrefix(info.Name, r.namePrefix) {
		return false
	}
	if info.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(info.CreatedAt) > r.maxAge
}

// Sweep lists sandboxes once and deletes the stale ones. Deletion
// failures are collected, not fatal.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	infos, err := r.gateway.List(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Inspected: len(infos), Failed: make(map[string]error)}
	now := time.Now()
	for _, info := range infos {
		if !r.Stale(info, now) {
			continue
		}
		if err := r.gateway.Destroy(ctx, Handle{ID: info.ID}); err != nil {
			result.Failed[info.ID] = err
			continue
		}
		result.Deleted = append(result.Deleted, info.ID)
	}
	return result, nil
}

// NextRun returns the next scheduled sweep time.
func (r *Reaper) NextRun() time.Time {
	return r.schedule.Next(time.Now())
}

// Start runs sweeps on the cron schedule until Stop is called. Each
// sweep's outcome is passed to report, which may be nil.
func (r *Reaper) Start(ctx context.Context, report func(SweepResult, error)) {
	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-r.stopChan:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			result, err := r.Sweep(ctx)
			if report != nil {
				report(result, err)
			}
		}
	}
}

// Stop stops the sweep loop.
func (r *Reaper) Stop() {
	close(r.stopChan)
}

// DescribeAge formats a sandbox age for listings.
func DescribeAge(info Info) string {
	if info.CreatedAt.IsZero() {
		return "unknown"
	}
	return humanize.Time(info.CreatedAt)
}
