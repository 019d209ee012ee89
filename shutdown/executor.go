package shutdown

// executor runs posted tasks one at a time on its own goroutine.
type executor struct {
	tasks chan func()
	done  chan struct{}
}

func newExecutor() *executor {
	e := &executor{
		tasks: make(chan func(), 4),
		done:  make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *executor) loop() {
	defer close(e.done)
	for task := range e.tasks {
		task()
	}
}

func (e *executor) post(task func()) {
	e.tasks <- task
}

// stop lets queued tasks finish and ends the goroutine.
func (e *executor) stop() {
	close(e.tasks)
}
