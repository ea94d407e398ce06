package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/book-translator/internal/jobs"
	"github.com/MimeLyc/book-translator/pkg/icron"
	"github.com/MimeLyc/book-translator/pkg/log"
)

// DefaultStaleAfter is how long pending work may sit untouched before the
// scheduled reconcile re-dispatches it.
const DefaultStaleAfter = 10 * time.Minute

// ReconcileReport counts the messages one reconcile pass dispatched.
type ReconcileReport struct {
	Jobs       int `json:"jobs"`
	Prepares   int `json:"prepares"`
	Chunks     int `json:"chunks"`
	Checks     int `json:"checks"`
	Assemblies int `json:"assemblies"`
}

// Reconciler re-dispatches work that the in-process queue may have lost,
// e.g. across a restart. Every message it sends is safe to duplicate.
type Reconciler struct {
	store      jobs.Store
	dispatcher jobs.Dispatcher
	staleAfter time.Duration
	now        func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	cronExpr string
	cron     *cron.Cron
	entryID  cron.EntryID
	ctx      context.Context
	last     *ReconcileReport
	lastRun  time.Time
}

func NewReconciler(store jobs.Store, dispatcher jobs.Dispatcher, cronExpr string) *Reconciler {
	return &Reconciler{
		store:      store,
		dispatcher: dispatcher,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		cronExpr:   cronExpr,
	}
}

func (r *Reconciler) SetStaleAfter(d time.Duration) {
	r.staleAfter = d
}

// Schedule registers the reconcile run on c. ctx bounds every scheduled run.
func (r *Reconciler) Schedule(ctx context.Context, c *cron.Cron) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := c.AddFunc(r.cronExpr, r.scheduledRun)
	if err != nil {
		return fmt.Errorf("schedule reconciler %q: %w", r.cronExpr, err)
	}
	r.cron = c
	r.entryID = id
	r.ctx = ctx
	log.Info("Scheduled reconciler with cron %s", r.cronExpr)
	return nil
}

// Reschedule swaps the cron entry for expr. Without a prior Schedule it
// only records the expression.
func (r *Reconciler) Reschedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid reconcile cron: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if expr == r.cronExpr {
		return nil
	}
	if r.cron != nil {
		id, err := r.cron.AddFunc(expr, r.scheduledRun)
		if err != nil {
			return err
		}
		r.cron.Remove(r.entryID)
		r.entryID = id
	}
	log.Info("Rescheduled reconciler from %s to %s", r.cronExpr, expr)
	r.cronExpr = expr
	return nil
}

func (r *Reconciler) scheduledRun() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	report, err := r.Run(ctx)
	if err != nil {
		log.Error("Reconcile failed: %v", err)
		return
	}
	log.Info("Reconciled %d jobs: prepares=%d chunks=%d checks=%d assemblies=%d",
		report.Jobs, report.Prepares, report.Chunks, report.Checks, report.Assemblies)
}

// Run re-dispatches work untouched for longer than the stale window.
// Concurrent calls share one pass.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	return r.do(ctx, r.now().Add(-r.staleAfter))
}

// Recover re-dispatches all outstanding work regardless of age. It is
// meant for startup, when the queue is known to be empty.
func (r *Reconciler) Recover(ctx context.Context) (ReconcileReport, error) {
	return r.do(ctx, r.now())
}

func (r *Reconciler) do(ctx context.Context, cutoff time.Time) (ReconcileReport, error) {
	v, err, _ := r.group.Do("reconcile", func() (any, error) {
		return r.reconcile(ctx, cutoff)
	})
	if err != nil {
		return ReconcileReport{}, err
	}
	report := v.(ReconcileReport)

	r.mu.Lock()
	r.last = &report
	r.lastRun = r.now()
	r.mu.Unlock()
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, cutoff time.Time) (ReconcileReport, error) {
	var report ReconcileReport
	list, err := r.store.ListJobs(ctx)
	if err != nil {
		return report, fmt.Errorf("list jobs: %w", err)
	}

	for _, job := range list {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		msgs, err := r.plan(ctx, job, cutoff)
		if err != nil {
			log.Warn("Reconcile skipped job %s: %v", job.ID, err)
			continue
		}
		if len(msgs) > 0 {
			report.Jobs++
		}
		for _, msg := range msgs {
			if err := r.dispatcher.Dispatch(ctx, msg); err != nil {
				return report, fmt.Errorf("dispatch %s: %w", msg, err)
			}
			switch msg.Kind {
			case jobs.KindPrepareJob:
				report.Prepares++
			case jobs.KindTranslateChunk:
				report.Chunks++
			case jobs.KindCheckCompletion:
				report.Checks++
			case jobs.KindAssemble:
				report.Assemblies++
			}
		}
	}
	return report, nil
}

// plan lists the messages that move job forward from its stored state.
func (r *Reconciler) plan(ctx context.Context, job *jobs.TranslationJob, cutoff time.Time) ([]jobs.Message, error) {
	switch job.Status {
	case jobs.StatusPending:
		if job.UpdatedAt.After(cutoff) {
			return nil, nil
		}
		return []jobs.Message{jobs.PrepareJobRequested(job.ID)}, nil
	case jobs.StatusProcessing:
		chunks, err := r.store.ListChunks(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		var msgs []jobs.Message
		for _, c := range chunks {
			if c.Status.Terminal() || c.UpdatedAt.After(cutoff) {
				continue
			}
			msgs = append(msgs, jobs.ChunkTranslationRequested(job.ID, c.Index))
		}
		return append(msgs, jobs.JobCompletionCheckRequested(job.ID)), nil
	case jobs.StatusCompleted:
		if job.ArtifactRef != "" {
			return nil, nil
		}
		return []jobs.Message{jobs.AssembleRequested(job.ID)}, nil
	default:
		return nil, nil
	}
}

// ReconcilerStatus is the schedule and outcome of the last pass.
type ReconcilerStatus struct {
	Schedule   *icron.TriggerInfo `json:"schedule,omitempty"`
	LastRun    time.Time          `json:"last_run,omitempty"`
	LastReport *ReconcileReport   `json:"last_report,omitempty"`
}

func (r *Reconciler) Status() ReconcilerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := ReconcilerStatus{LastRun: r.lastRun}
	if r.last != nil {
		report := *r.last
		status.LastReport = &report
	}
	if info, err := icron.GetTriggerInfo(r.cronExpr, r.now()); err == nil {
		status.Schedule = info
	}
	return status
}
