package postprocessing

import (
	"context"
	"sync"
	"time"

	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
)

// Result is handed to the completion callback for every processed job.
type Result struct {
	Job  *Job
	Clip *ProcessedClip
	Err  error
}

// Queue runs post-processing jobs one at a time on a worker goroutine so the
// recording loop never waits for a transcode.
type Queue struct {
	processor    PostProcessor
	jobs         chan *Job
	drainTimeout time.Duration
	logger       logging.Logger
}

// NewQueue creates a queue holding at most bufferSize pending jobs.
func NewQueue(processor PostProcessor, bufferSize int, drainTimeout time.Duration, logger logging.Logger) *Queue {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Queue{
		processor:    processor,
		jobs:         make(chan *Job, bufferSize),
		drainTimeout: drainTimeout,
		logger:       logging.OrNop(logger),
	}
}

// Enqueue adds a job without blocking. It returns false when the queue is full.
func (q *Queue) Enqueue(job *Job) bool {
	select {
	case q.jobs <- job:
		q.logger.Debug("Queued clip for post-processing", "path", job.Path, "session", job.Number)
		return true
	default:
		q.logger.Warn("Post-processing queue full, dropping clip", "path", job.Path, "session", job.Number)
		return false
	}
}

// Start processes jobs until ctx is cancelled, then works through the jobs still
// queued until the drain timeout expires. It calls wg.Done when it returns.
func (q *Queue) Start(ctx context.Context, wg *sync.WaitGroup, onDone func(Result)) {
	defer wg.Done()

	for {
		if ctx.Err() != nil {
			q.drain(onDone)
			return
		}

		select {
		case job := <-q.jobs:
			q.process(job, onDone)
		case <-ctx.Done():
		}
	}
}

func (q *Queue) drain(onDone func(Result)) {
	timer := time.NewTimer(q.drainTimeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			q.logger.Warn("Post-processing drain timeout, leaving remaining clips unprocessed", "pending", len(q.jobs))
			return
		default:
		}

		select {
		case job := <-q.jobs:
			q.process(job, onDone)
		default:
			return
		}
	}
}

func (q *Queue) process(job *Job, onDone func(Result)) {
	started := time.Now()
	clip, err := q.processor.ProcessClip(job)
	if err != nil {
		q.logger.Error("Post-processing failed", "path", job.Path, "error", err)
	} else {
		q.logger.Info("Clip post-processed", "input", job.Path, "output", clip.Path, "took", time.Since(started))
	}

	if onDone != nil {
		onDone(Result{Job: job, Clip: clip, Err: err})
	}
}
