package passes

import (
	"runtime"
	"sort"
	"sync"
)

// WorkQueue distributes independent tasks across workers. Tasks are sorted
// by key and sharded round-robin before any worker starts, so the
// task-to-worker assignment is a pure function of the key set.
type WorkQueue struct {
	workers int
	tasks   []workTask
}

type workTask struct {
	key string
	run func()
}

// NewWorkQueue creates a queue with the given parallelism; workers <= 0
// means GOMAXPROCS.
func NewWorkQueue(workers int) *WorkQueue {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &WorkQueue{workers: workers}
}

// Add enqueues one task under a seeding key, typically the method name.
func (q *WorkQueue) Add(key string, fn func()) {
	q.tasks = append(q.tasks, workTask{key: key, run: fn})
}

// Run executes all queued tasks and clears the queue.
func (q *WorkQueue) Run() {
	sort.SliceStable(q.tasks, func(i, j int) bool { return q.tasks[i].key < q.tasks[j].key })

	workers := q.workers
	if workers > len(q.tasks) {
		workers = len(q.tasks)
	}
	if workers <= 1 {
		for _, t := range q.tasks {
			t.run()
		}
		q.tasks = q.tasks[:0]
		return
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(q.tasks); i += workers {
				q.tasks[i].run()
			}
		}(w)
	}
	wg.Wait()
	q.tasks = q.tasks[:0]
}
