package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wlkla/iPredict/internal/history"
	appLog "github.com/wlkla/iPredict/internal/log"
	"github.com/wlkla/iPredict/internal/metrics"
	"github.com/wlkla/iPredict/internal/model"
	"github.com/wlkla/iPredict/internal/predict"
)

const (
	// sentRetention is how long sent marks are kept before pruning.
	sentRetention = 90 * 24 * time.Hour

	defaultCatchUp = 12 * time.Hour
)

// Store is what the dispatcher reads plans from and records delivery in.
type Store interface {
	ActiveCategory() (model.Category, error)
	History(categoryID string) (*history.Set, error)
	WasSent(key string) (bool, error)
	MarkSent(key string, at time.Time) error
	PruneSent(cutoff time.Time) (int, error)
}

// Options configures a Dispatcher.
type Options struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string
	Settings Settings
	Predict  predict.Options
	Location *time.Location
	Metrics  *metrics.Metrics

	// CatchUp is how far back the first run looks for reminders that came
	// due while the process was not running. Zero means 12h.
	CatchUp time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Dispatcher periodically fires due reminders of the active category.
type Dispatcher struct {
	store     Store
	notifiers []Notifier
	opts      Options

	// runMu serializes check runs so a cron tick and a manual RunOnce never
	// deliver the same reminder twice.
	runMu     sync.Mutex
	lastCheck time.Time
	cron      *cron.Cron
}

// NewDispatcher validates the schedule and builds a dispatcher. At least
// one notifier is required.
func NewDispatcher(store Store, opts Options, notifiers ...Notifier) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("reminder: store is nil")
	}
	if len(notifiers) == 0 {
		return nil, errors.New("reminder: no notifiers")
	}
	if _, err := cron.ParseStandard(opts.Schedule); err != nil {
		return nil, fmt.Errorf("reminder: invalid schedule %q: %w", opts.Schedule, err)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CatchUp <= 0 {
		opts.CatchUp = defaultCatchUp
	}
	return &Dispatcher{store: store, notifiers: notifiers, opts: opts}, nil
}

func (d *Dispatcher) now() time.Time {
	return d.opts.Now().In(d.opts.Location)
}

// Pending returns the upcoming reminders of the active category.
func (d *Dispatcher) Pending() ([]Reminder, error) {
	return d.planAt(d.now())
}

func (d *Dispatcher) planAt(at time.Time) ([]Reminder, error) {
	cat, err := d.store.ActiveCategory()
	if err != nil {
		return nil, err
	}
	set, err := d.store.History(cat.ID)
	if err != nil {
		return nil, err
	}
	snap := set.Snapshot(at, d.opts.Predict)
	d.opts.Metrics.SetDaysRemaining(cat.Name, snap.DaysRemaining)
	return Plan(cat, snap, at, d.opts.Settings), nil
}

// RunOnce fires the reminders that were planned at the previous check and
// have come due since, skipping any already sent. Each notifier is tracked
// on its own, so a failing one is retried on the next run without repeating
// the others. It returns how many reminders were fully delivered.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	now := d.now()
	from := d.lastCheck
	if from.IsZero() {
		from = now.Add(-d.opts.CatchUp)
	}
	plan, err := d.planAt(from)
	if err != nil {
		return 0, fmt.Errorf("reminder: plan: %w", err)
	}

	sent := 0
	var failed []error
	for _, r := range plan {
		if r.FireAt.After(now) {
			continue
		}
		done, err := d.store.WasSent(r.Key())
		if err != nil {
			return sent, err
		}
		if done {
			continue
		}
		errs, err := d.deliver(ctx, r, now)
		if err != nil {
			return sent, err
		}
		if len(errs) > 0 {
			failed = append(failed, errs...)
			continue
		}
		if err := d.store.MarkSent(r.Key(), now); err != nil {
			return sent, fmt.Errorf("reminder: mark sent: %w", err)
		}
		d.opts.Metrics.ReminderSent(string(r.Kind))
		sent++
	}
	if len(failed) > 0 {
		return sent, errors.Join(failed...)
	}
	d.lastCheck = now

	if _, err := d.store.PruneSent(now.Add(-sentRetention)); err != nil {
		appLog.Error("reminder: prune sent marks failed", err)
	}
	return sent, nil
}

func notifierKey(r Reminder, n Notifier) string {
	return r.Key() + "/" + n.Name()
}

// deliver sends r through every notifier that has not accepted it yet. The
// returned slice holds notifier failures; the error is a store failure.
func (d *Dispatcher) deliver(ctx context.Context, r Reminder, now time.Time) ([]error, error) {
	var errs []error
	for _, n := range d.notifiers {
		key := notifierKey(r, n)
		done, err := d.store.WasSent(key)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		if err := n.Notify(ctx, r); err != nil {
			appLog.Error("reminder: notifier failed", err, "notifier", n.Name(), "key", r.Key())
			d.opts.Metrics.ReminderFailed(n.Name())
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		if err := d.store.MarkSent(key, now); err != nil {
			return nil, fmt.Errorf("reminder: mark sent: %w", err)
		}
	}
	return errs, nil
}

// Start schedules RunOnce on the cron schedule and stops when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(d.opts.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := c.AddFunc(d.opts.Schedule, func() {
		n, err := d.RunOnce(ctx)
		if err != nil {
			appLog.Error("reminder: run failed", err)
			return
		}
		if n > 0 {
			appLog.Info("reminder: delivered", "count", n)
		}
	}); err != nil {
		return err
	}
	d.cron = c
	c.Start()
	appLog.Info("reminder dispatcher started", "schedule", d.opts.Schedule,
		"hour", d.opts.Settings.Hour, "days_before", d.opts.Settings.DaysBefore)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("reminder dispatcher stopped")
	}()
	return nil
}
