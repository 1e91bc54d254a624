package tracker

import "sync"

// serialQueue runs tasks one at a time in submission order on a goroutine
// that exists only while work is pending.
type serialQueue struct {
	mu      sync.Mutex
	tasks   []func()
	running bool
	idle    chan struct{}
}

func newSerialQueue() *serialQueue {
	idle := make(chan struct{})
	close(idle)
	return &serialQueue{idle: idle}
}

func (q *serialQueue) enqueue(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = append(q.tasks, task)
	if !q.running {
		q.running = true
		q.idle = make(chan struct{})
		go q.run()
	}
}

func (q *serialQueue) run() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}

// done returns a channel that is closed once every task enqueued so far
// has run.
func (q *serialQueue) done() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

func (q *serialQueue) busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}
