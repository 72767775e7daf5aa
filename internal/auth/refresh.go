package auth

import (
	"context"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	. "github.com/roelfdiedericks/zaibridge/internal/logging"
)

// ParseSchedule parses a refresh spec: a 5-field cron expression or a
// descriptor such as "@every 30m" or "@hourly".
func ParseSchedule(spec string) (cronlib.Schedule, error) {
	parser := cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Refresher re-reads the browser's cookies on a schedule and stores the
// credential again, so the stored copy follows the site's token rotation.
type Refresher struct {
	capture *Capture
	store   *FileStore
	cron    *cronlib.Cron
	timeout time.Duration
}

// NewRefresher creates a refresher. Nothing runs until Start.
func NewRefresher(capture *Capture, store *FileStore, spec string) (*Refresher, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	r := &Refresher{
		capture: capture,
		store:   store,
		cron:    cronlib.New(),
		timeout: 30 * time.Second,
	}
	r.cron.Schedule(sched, cronlib.FuncJob(r.run))
	return r, nil
}

// Start begins the schedule
func (r *Refresher) Start() {
	r.cron.Start()
	L_debug("auth: credential refresh scheduled")
}

// Stop halts the schedule and waits for a running refresh to finish
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Refresher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if _, err := r.Refresh(ctx); err != nil {
		L_warn("auth: credential refresh failed", "error", err)
	}
}

// Refresh polls once and stores the credential when a login is present.
// It reports whether anything was stored.
func (r *Refresher) Refresh(ctx context.Context) (bool, error) {
	cred, err := r.capture.Poll(ctx)
	if err != nil {
		return false, err
	}
	if cred == nil {
		L_warn("auth: browser is no longer logged in, run login again")
		return false, nil
	}

	if prev, err := r.store.Load(); err == nil && prev.CookieString == cred.CookieString {
		L_trace("auth: credential unchanged")
		return false, nil
	}
	if err := r.store.Save(cred); err != nil {
		return false, err
	}
	return true, nil
}
