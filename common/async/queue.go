package async

import (
	"container/list"
	"context"
	"sync"
)

// Job is a unit of work submitted to a Pool.
type Job interface {
	// Run executes the job. The pool does not inspect the return
	// value; jobs that need to report a result close over a channel.
	Run(ctx context.Context)
}

// JobFunc adapts a plain function to the Job interface, for jobs that
// have nothing to say about cancellation.
type JobFunc func()

// Run executes the wrapped function.
func (f JobFunc) Run(_ context.Context) { f() }

// CtxJobFunc adapts a context-aware function to the Job interface. Use
// this instead of JobFunc when the job should check ctx.Err() before
// doing work queued for an entity that may no longer be live by the
// time a worker picks it up (e.g. a goal state engine that has since
// been stopped).
type CtxJobFunc func(ctx context.Context)

// Run executes the wrapped function with the pool-supplied context.
func (f CtxJobFunc) Run(ctx context.Context) { f(ctx) }

// Queue is an unbounded FIFO of Jobs used by Pool to hand work to
// workers as they become free.
type Queue struct {
	sync.Mutex
	list *list.List

	enqueueSignal  chan struct{}
	dequeueChannel chan Job
}

// NewQueue creates an empty Queue and starts its dispatch goroutine.
func NewQueue() *Queue {
	q := &Queue{
		list:           list.New(),
		enqueueSignal:  make(chan struct{}, 1),
		dequeueChannel: make(chan Job),
	}
	go q.run()
	return q
}

// Enqueue adds a job to the back of the queue. Returns immediately.
func (q *Queue) Enqueue(job Job) {
	q.Lock()
	q.list.PushBack(job)
	q.Unlock()

	select {
	case q.enqueueSignal <- struct{}{}:
	default:
	}
}

// DequeueChannel returns the channel workers read jobs from.
func (q *Queue) DequeueChannel() <-chan Job {
	return q.dequeueChannel
}

func (q *Queue) run() {
	for {
		q.Lock()
		f := q.list.Front()
		if f == nil {
			q.Unlock()
			<-q.enqueueSignal
			continue
		}
		q.list.Remove(f)
		q.Unlock()

		q.dequeueChannel <- f.Value.(Job)
	}
}
