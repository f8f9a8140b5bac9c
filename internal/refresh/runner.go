package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"repondeur/api/internal/events"
	"repondeur/api/internal/store"
)

type Options struct {
	Workers       int
	MaxAttempts   int
	BaseDelay     time.Duration
	LockTTL       time.Duration
	RatePerSecond float64
	Burst         int
}

func DefaultOptions() Options {
	return Options{
		Workers:       2,
		MaxAttempts:   5,
		BaseDelay:     2 * time.Second,
		LockTTL:       10 * time.Minute,
		RatePerSecond: 1,
		Burst:         2,
	}
}

// Runner fetches lectures in the background. Two refreshes of the same
// lecture never run together, and a refresh that exhausts its retries
// leaves a recuperation_echouee entry in the lecture journal.
type Runner struct {
	store    store.Store
	provider Provider
	ingester *Ingester
	locker   Locker
	limiter  *rate.Limiter
	opts     Options
	pool     *Pool
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	mu   sync.Mutex
	jobs map[int64]*JobStatus
}

type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// JobStatus is the progress of the last background refresh of a lecture.
type JobStatus struct {
	LectureID  int64      `json:"lecture_id"`
	State      JobState   `json:"state"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	QueuedAt   time.Time  `json:"queued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (j JobStatus) active() bool {
	return j.State == JobQueued || j.State == JobRunning
}

func NewRunner(st store.Store, provider Provider, ingester *Ingester, locker Locker, opts Options) *Runner {
	defaults := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaults.BaseDelay
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaults.LockTTL
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = defaults.RatePerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = defaults.Burst
	}
	if locker == nil {
		locker = NewLocalLocker()
	}

	r := &Runner{
		store:    st,
		provider: provider,
		ingester: ingester,
		locker:   locker,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		opts:     opts,
		sleep:    sleepContext,
		now:      time.Now,
		jobs:     map[int64]*JobStatus{},
	}
	r.pool = NewPool(opts.Workers, logJobResult)
	r.pool.Start()
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type refreshJob struct {
	runner    *Runner
	lectureID int64
}

type refreshResult struct {
	lectureID int64
	result    Result
	err       error
	duration  time.Duration
}

func (r refreshResult) GetError() error { return r.err }

func (j refreshJob) Execute(ctx context.Context) JobResult {
	start := time.Now()
	j.runner.update(j.lectureID, func(status *JobStatus) {
		at := j.runner.now()
		status.State = JobRunning
		status.StartedAt = &at
	})
	result, err := j.runner.Refresh(ctx, j.lectureID)
	j.runner.update(j.lectureID, func(status *JobStatus) {
		at := j.runner.now()
		status.FinishedAt = &at
		if err != nil {
			status.State = JobFailed
			status.Error = err.Error()
			return
		}
		status.State = JobDone
		status.Result = &result
	})
	return refreshResult{lectureID: j.lectureID, result: result, err: err, duration: time.Since(start)}
}

func (r *Runner) update(lectureID int64, fn func(*JobStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status, ok := r.jobs[lectureID]; ok {
		fn(status)
	}
}

// Status reports the last background refresh of the lecture, false when
// none was enqueued since the runner started.
func (r *Runner) Status(lectureID int64) (JobStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.jobs[lectureID]
	if !ok {
		return JobStatus{}, false
	}
	out := *status
	if status.Result != nil {
		result := *status.Result
		out.Result = &result
	}
	return out, true
}

func logJobResult(res JobResult) {
	r, ok := res.(refreshResult)
	if !ok {
		return
	}
	if r.err != nil {
		log.Printf(`{"level":"error","msg":"refresh failed","lecture_id":%d,"duration_ms":%d,"error":%q}`, r.lectureID, r.duration.Milliseconds(), r.err.Error())
		return
	}
	log.Printf(`{"level":"info","msg":"refresh done","lecture_id":%d,"duration_ms":%d,"created":%d,"updated":%d,"flagged":%d}`, r.lectureID, r.duration.Milliseconds(), r.result.Created, r.result.Updated, len(r.result.Flagged))
}

// Enqueue schedules a background refresh of the lecture. A lecture already
// queued or running is not queued twice.
func (r *Runner) Enqueue(ctx context.Context, lectureID int64) error {
	r.mu.Lock()
	previous, ok := r.jobs[lectureID]
	if ok && previous.active() {
		r.mu.Unlock()
		return nil
	}
	r.jobs[lectureID] = &JobStatus{LectureID: lectureID, State: JobQueued, QueuedAt: r.now()}
	r.mu.Unlock()

	if err := r.pool.Submit(ctx, refreshJob{runner: r, lectureID: lectureID}); err != nil {
		r.mu.Lock()
		if ok {
			r.jobs[lectureID] = previous
		} else {
			delete(r.jobs, lectureID)
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

// Close cancels running refreshes and waits for the workers to stop.
func (r *Runner) Close() {
	r.pool.Close()
}

func lockName(lectureID int64) string {
	return fmt.Sprintf("refresh:lecture:%d", lectureID)
}

// Refresh fetches and ingests the lecture now.
func (r *Runner) Refresh(ctx context.Context, lectureID int64) (Result, error) {
	release, err := r.locker.Acquire(ctx, lockName(lectureID), r.opts.LockTTL)
	if err != nil {
		return Result{}, err
	}
	defer release()

	var lecture store.Lecture
	err = r.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		lecture, err = tx.GetLecture(ctx, lectureID)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	records, attempts, err := r.fetch(ctx, lecture)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if recordErr := r.recordFailure(ctx, lecture, attempts, err); recordErr != nil {
			return Result{}, errors.Join(err, recordErr)
		}
		return Result{}, fmt.Errorf("refresh lecture %d after %d attempts: %w", lectureID, attempts, err)
	}

	var result Result
	err = r.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		result, err = r.ingester.Ingest(ctx, tx, lecture, records)
		return err
	})
	return result, err
}

func (r *Runner) fetch(ctx context.Context, lecture store.Lecture) ([]RawAmendement, int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.opts.BaseDelay * time.Duration(1<<uint(attempt-2))
			if err := r.sleep(ctx, delay); err != nil {
				return nil, attempt - 1, err
			}
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, attempt - 1, err
		}
		r.update(lecture.ID, func(status *JobStatus) {
			if status.State == JobRunning {
				status.Attempts = attempt
			}
		})
		records, err := r.provider.Fetch(ctx, lecture)
		if err == nil {
			return records, attempt, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, attempt, err
		}
	}
	return nil, r.opts.MaxAttempts, lastErr
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Retryable()
	}
	return true
}

func (r *Runner) recordFailure(ctx context.Context, lecture store.Lecture, attempts int, cause error) error {
	return r.store.WithTx(ctx, func(tx store.Tx) error {
		_, err := store.Record(ctx, tx, events.RecuperationEchouee, events.Lecture(lecture.ID), lecture.ID, nil,
			events.Failure{Attempts: attempts, Error: cause.Error()}, r.ingester.clock.Now())
		if err != nil {
			return err
		}
		return r.ingester.clock.TouchLecture(ctx, tx, lecture.ID)
	})
}
