package utils

import (
	"errors"
	"sync"
	"time"
)

// Job represents a task to be executed by a worker.
type Job struct {
	Task func()
}

// WorkerPool manages a pool of workers to execute jobs.
type WorkerPool struct {
	workers   int
	jobQueue  chan Job
	waitGroup sync.WaitGroup

	stateMu sync.RWMutex
	closed  bool
}

// NewWorkerPool creates a new WorkerPool with the specified number of workers.
func NewWorkerPool(workers int) *WorkerPool {
	pool := &WorkerPool{
		workers:  workers,
		jobQueue: make(chan Job, workers),
	}

	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

// worker processes jobs from the jobQueue.
func (wp *WorkerPool) worker() {
	defer wp.waitGroup.Done()
	for job := range wp.jobQueue {
		job.Task()
	}
}

// Submit adds a new job to the worker pool. It reports whether the job was
// accepted; a pool that has begun shutting down rejects new work. The read
// lock is held across the send so Shutdown cannot close the queue under a
// submission in flight.
func (wp *WorkerPool) Submit(task func()) bool {
	wp.stateMu.RLock()
	defer wp.stateMu.RUnlock()

	if wp.closed {
		return false
	}
	wp.jobQueue <- Job{Task: task}
	return true
}

// Shutdown stops accepting jobs and waits for all workers to finish.
func (wp *WorkerPool) Shutdown() {
	wp.stateMu.Lock()
	if wp.closed {
		wp.stateMu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobQueue)
	wp.stateMu.Unlock()

	wp.waitGroup.Wait()
}

// Drain stops accepting jobs and waits for in-flight jobs to finish, up to
// the given timeout.
func (wp *WorkerPool) Drain(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		wp.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("worker pool drain timed out")
	}
}
