package batch

// Scheduler runs submitted tasks one at a time on a single worker goroutine,
// with a single pending slot. It is the background-execution collaborator of
// the processor; submissions beyond the pending slot are rejected so the
// caller can fall back deterministically.
type Scheduler struct {
	tasks chan func()
}

// NewScheduler starts the worker goroutine.
func NewScheduler() *Scheduler {
	s := &Scheduler{tasks: make(chan func(), 1)}
	go s.loop()
	return s
}

func (s *Scheduler) loop() {
	for task := range s.tasks {
		task()
	}
}

// TrySubmit enqueues task without blocking. It returns false when the pending
// slot is already occupied.
func (s *Scheduler) TrySubmit(task func()) bool {
	select {
	case s.tasks <- task:
		return true
	default:
		return false
	}
}

// Close stops the worker once queued tasks drain. Submitting after Close
// panics, so it is meant for shutdown only.
func (s *Scheduler) Close() {
	close(s.tasks)
}
