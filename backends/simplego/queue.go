// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/stagedreduce/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// preparer is implemented by the SimpleGo kernels: prepare snapshots (and retains) the storage the
// kernel uses at enqueue time, and returns the function to execute later.
type preparer interface {
	prepare() func()
}

type queuedWork struct {
	name string
	run  func()
	done chan struct{} // Only set for blocking enqueues.
}

// Queue implements an in-order backends.Queue: enqueued items are executed one at a time,
// in a separate goroutine, in the order they were enqueued.
//
// The goroutine is started from the device's worker pool, and only exists while there is pending work.
// If the device parallelism is disabled, Enqueue executes the pending work itself before returning.
type Queue struct {
	device *Device

	mu       sync.Mutex
	cond     sync.Cond // Signaled whenever the queue becomes idle.
	pending  []*queuedWork
	running  bool
	firstErr error
}

var _ backends.Queue = (*Queue)(nil)

func newQueue(d *Device) *Queue {
	q := &Queue{device: d}
	q.cond = sync.Cond{L: &q.mu}
	return q
}

// Enqueue implements backends.Queue.
//
// SimpleGo kernels bind their tensors' storage when enqueued: releasing a memory group after
// enqueuing doesn't affect the storage used by the queued kernels.
func (q *Queue) Enqueue(item backends.WorkItem, blocking bool) {
	work := &queuedWork{name: item.Name()}
	if p, ok := item.(preparer); ok {
		work.run = p.prepare()
	} else {
		work.run = item.Run
	}
	if blocking {
		work.done = make(chan struct{})
	}
	if klog.V(2).Enabled() {
		klog.Infof("Queue(%p).Enqueue(%s, blocking=%v)", q, work.name, blocking)
	}

	q.mu.Lock()
	q.pending = append(q.pending, work)
	start := !q.running
	q.running = true
	q.mu.Unlock()

	if start {
		q.device.workers.WaitToStart(q.worker)
	}
	if blocking {
		<-work.done
	}
}

// worker executes pending work until the queue is empty.
func (q *Queue) worker() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.cond.Broadcast()
			q.mu.Unlock()
			return
		}
		work := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		exception := exceptions.Try(work.run)
		if exception != nil {
			err, ok := exception.(error)
			if !ok {
				err = errors.Errorf("%v", exception)
			}
			err = errors.WithMessagef(err, "queue: %s failed", work.name)
			klog.Errorf("%+v", err)
			q.mu.Lock()
			if q.firstErr == nil {
				q.firstErr = err
			}
			q.mu.Unlock()
		}
		if work.done != nil {
			close(work.done)
		}
	}
}

// Finish implements backends.Queue.
func (q *Queue) Finish() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.running {
		q.cond.Wait()
	}
	err := q.firstErr
	q.firstErr = nil
	return err
}
