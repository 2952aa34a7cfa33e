package updater

import "sync"

// queue is an unbounded FIFO of work items executed one at a time by run.
// Pushing never blocks, so collaborators and the queue itself can always
// hand over work.
type queue struct {
	mtx   sync.Mutex
	items []func()
	wake  chan struct{}
}

func newQueue() *queue {
	return &queue{
		wake: make(chan struct{}, 1),
	}
}

func (q *queue) push(fn func()) {
	q.mtx.Lock()
	q.items = append(q.items, fn)
	q.mtx.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) pop() (func(), bool) {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	return fn, true
}

// run executes items in order until quit is closed.
func (q *queue) run(quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		default:
		}

		fn, ok := q.pop()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-quit:
				return
			}
		}

		fn()
	}
}
