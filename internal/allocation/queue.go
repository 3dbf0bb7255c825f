package allocation

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Queue is the single-flight submission processor: submissions are accepted
// concurrently but executed strictly one at a time, in arrival order. This is
// what makes the read-then-increment document id and the multi-step
// allocation sequence safe against interleaving.
type Queue struct {
	engine *Engine
	jobs   chan job
	wg     sync.WaitGroup

	closeOnce sync.Once
}

type job struct {
	ctx   context.Context
	sub   Submission
	reply chan outcome
}

type outcome struct {
	res *Result
	err error
}

// NewQueue starts the worker goroutine. depth bounds how many submissions
// may wait; Submit blocks when the queue is full.
func NewQueue(e *Engine, depth int) *Queue {
	if depth <= 0 {
		depth = 64
	}
	q := &Queue{engine: e, jobs: make(chan job, depth)}
	q.wg.Add(1)
	go q.worker()
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		j.reply <- q.run(j)
	}
}

// run executes one submission. A panic fails that submission only; the
// worker keeps draining the queue.
func (q *Queue) run(j job) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("queue: submission panic: %v", r)
			out = outcome{err: fmt.Errorf("submission panic: %v", r)}
		}
	}()
	res, err := q.engine.Allocate(j.ctx, j.sub)
	return outcome{res: res, err: err}
}

// Submit enqueues a submission and waits for its result. Enqueueing respects
// ctx; once a submission is accepted it runs to completion, so every caller
// gets a definitive answer.
func (q *Queue) Submit(ctx context.Context, sub Submission) (*Result, error) {
	reply := make(chan outcome, 1)
	select {
	case q.jobs <- job{ctx: ctx, sub: sub, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	o := <-reply
	return o.res, o.err
}

// Close stops accepting submissions and waits for the worker to finish the
// backlog.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.jobs)
	})
	q.wg.Wait()
}
