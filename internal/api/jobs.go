package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/armoire/internal/fileops"
	"github.com/FairForge/armoire/internal/fs"
)

// JobStatus is the lifecycle state of one submitted operation.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobUpdate is one frame of a progress stream: a progress snapshot
// while the job runs, then a terminal status frame.
type JobUpdate struct {
	ID       string            `json:"id"`
	Status   JobStatus         `json:"status"`
	Progress *fileops.Progress `json:"progress,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Job is one in-flight or finished operation. Subscribers get a
// replay of the latest progress frame on attach, then live updates.
type Job struct {
	ID   string
	Kind string

	cancel context.CancelFunc

	mu         sync.Mutex
	status     JobStatus
	last       *fileops.Progress
	err        error
	finishedAt time.Time
	subs       map[chan JobUpdate]struct{}
}

func (j *Job) snapshot() JobUpdate {
	update := JobUpdate{ID: j.ID, Status: j.status}
	if j.last != nil {
		p := *j.last
		update.Progress = &p
	}
	if j.err != nil {
		update.Error = j.err.Error()
	}
	return update
}

// Status returns the job's current lifecycle state.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Subscribe attaches a progress listener. The returned channel gets
// the latest frame immediately and is closed when the job finishes.
func (j *Job) Subscribe() chan JobUpdate {
	ch := make(chan JobUpdate, 16)
	j.mu.Lock()
	defer j.mu.Unlock()
	ch <- j.snapshot()
	if j.status != JobRunning {
		close(ch)
		return ch
	}
	j.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe detaches a listener obtained from Subscribe. Safe to
// call after the job has finished.
func (j *Job) Unsubscribe(ch chan JobUpdate) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.subs[ch]; ok {
		delete(j.subs, ch)
		close(ch)
	}
}

func (j *Job) publish(p fileops.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.last = &p
	update := j.snapshot()
	for ch := range j.subs {
		select {
		case ch <- update:
		default:
			// Slow subscriber: drop the frame, the next one
			// supersedes it anyway.
		}
	}
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch {
	case err == nil:
		j.status = JobCompleted
	case fs.IsCancelled(err):
		j.status = JobCancelled
	default:
		j.status = JobFailed
		j.err = err
	}
	j.finishedAt = time.Now()
	update := j.snapshot()
	for ch := range j.subs {
		select {
		case ch <- update:
		default:
		}
		close(ch)
		delete(j.subs, ch)
	}
}

func (j *Job) expired(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status != JobRunning && now.Sub(j.finishedAt) > jobRetention
}

// ErrJobNotFound is returned for unknown operation ids.
var ErrJobNotFound = errors.New("operation not found")

// jobRetention bounds how long a finished job stays queryable before
// Start sweeps it out of the registry.
const jobRetention = 5 * time.Minute

// JobRegistry tracks submitted operations by id.
type JobRegistry struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	logger *zap.Logger
}

// NewJobRegistry builds an empty registry.
func NewJobRegistry(logger *zap.Logger) *JobRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobRegistry{
		jobs:   make(map[string]*Job),
		logger: logger,
	}
}

// Start registers a new job and runs fn on its own goroutine. fn
// receives a cancellable context and the progress channel to feed;
// the registry drains the channel and fans frames out to subscribers.
func (r *JobRegistry) Start(kind string, buffer int, fn func(ctx context.Context, progress chan<- fileops.Progress) error) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:     uuid.New().String(),
		Kind:   kind,
		cancel: cancel,
		status: JobRunning,
		subs:   make(map[chan JobUpdate]struct{}),
	}

	r.mu.Lock()
	r.sweep(time.Now())
	r.jobs[job.ID] = job
	r.mu.Unlock()

	progress := make(chan fileops.Progress, buffer)
	done := make(chan error, 1)

	go func() {
		done <- fn(ctx, progress)
		close(progress)
	}()

	go func() {
		for p := range progress {
			job.publish(p)
		}
		err := <-done
		if err != nil && !fs.IsCancelled(err) {
			r.logger.Warn("operation failed",
				zap.String("id", job.ID),
				zap.String("kind", kind),
				zap.Error(err))
		}
		job.finish(err)
		cancel()
	}()

	return job
}

// sweep drops finished jobs past the retention window. The caller
// holds the write lock.
func (r *JobRegistry) sweep(now time.Time) {
	for id, job := range r.jobs {
		if job.expired(now) {
			delete(r.jobs, id)
		}
	}
}

// Get looks up a job by id.
func (r *JobRegistry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Cancel requests cancellation of a running job. Cancelling a
// finished job is a no-op.
func (r *JobRegistry) Cancel(id string) error {
	job, err := r.Get(id)
	if err != nil {
		return err
	}
	job.cancel()
	return nil
}

// Len reports how many jobs the registry tracks, finished included.
func (r *JobRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
