package event

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Task is a unit of background work whose failure is logged and swallowed.
// The synchronous moderation path never waits on one.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue is a bounded fire-and-forget work queue with a small worker pool.
// When the buffer is full the task is dropped: background persistence is
// last-write-wins and in-memory state stays the fast path of record.
type Queue struct {
	tasks chan Task

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

var l = log.WithField("context", "event_queue")

func NewQueue(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Queue{tasks: make(chan Task, buffer)}
}

func (q *Queue) Start(ctx context.Context, workers int) {
	q.runMutex.Lock()
	defer q.runMutex.Unlock()
	if q.started {
		return
	}
	if workers <= 0 {
		workers = 4
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.runCancel = cancel

	for i := 0; i < workers; i++ {
		q.workersWg.Add(1)
		go func() {
			defer q.workersWg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case task := <-q.tasks:
					if err := task.Run(runCtx); err != nil {
						l.WithError(err).WithField("task", task.Name).Error("background task failed")
					}
				}
			}
		}()
	}

	q.started = true
}

func (q *Queue) Stop(ctx context.Context) error {
	q.runMutex.Lock()
	if !q.started {
		q.runMutex.Unlock()
		return nil
	}
	q.started = false
	cancel := q.runCancel
	q.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Enqueue never blocks the caller.
func (q *Queue) Enqueue(name string, run func(ctx context.Context) error) {
	select {
	case q.tasks <- Task{Name: name, Run: run}:
	default:
		l.WithField("task", name).Warn("queue full, dropping task")
	}
}
