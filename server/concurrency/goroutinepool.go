/******************************************************************************
 *
 *  Description :
 *    A small goroutine pool. The server schedules connection handlers and
 *    relay pushes on it instead of spawning an unbounded number of
 *    goroutines.
 *
 *****************************************************************************/
package concurrency

// Task is a unit of work scheduled on the pool.
type Task func()

type GoRoutinePool struct {
	// Tasks waiting for a free worker.
	work chan Task
	// Bounds the number of live workers.
	sem chan struct{}
	// Exit knob.
	stop chan struct{}
}

// NewGoRoutinePool allocates a pool of at most numWorkers goroutines.
// Workers are started lazily as tasks arrive.
func NewGoRoutinePool(numWorkers int) *GoRoutinePool {
	return &GoRoutinePool{
		work: make(chan Task),
		sem:  make(chan struct{}, numWorkers),
		stop: make(chan struct{}, numWorkers),
	}
}

// Schedule hands a task to an idle worker, starting a new one if the pool
// is not yet at capacity. Blocks while all workers are busy.
func (p *GoRoutinePool) Schedule(task Task) {
	select {
	case p.work <- task:
	case p.sem <- struct{}{}:
		go p.worker(task)
	}
}

// Stop signals every running worker to exit after its current task.
func (p *GoRoutinePool) Stop() {
	numWorkers := cap(p.sem)
	for i := 0; i < numWorkers; i++ {
		p.stop <- struct{}{}
	}
}

func (p *GoRoutinePool) worker(task Task) {
	defer func() { <-p.sem }()
	for {
		task()
		select {
		case task = <-p.work:
		case <-p.stop:
			return
		}
	}
}
