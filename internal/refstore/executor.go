package refstore

import "sync"

// executor runs tasks one at a time in submission order. A worker goroutine
// exists only while the queue is non-empty.
type executor struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (e *executor) submit(task func()) {
	e.mu.Lock()
	e.queue = append(e.queue, task)
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()
	go e.run()
}

func (e *executor) run() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		task()
	}
}
