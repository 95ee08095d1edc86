package worker

import (
	"sync"
)

type Handler = func(workerIndex int, job interface{})

// Pool is a fixed-size goroutine pool fed by a buffered job channel.
// Workers stay alive until Exit() closes the quit channel; the job
// channel itself is never closed because callers may share it.
type Pool struct {
	bufferSize     int
	jobChannel     chan interface{}
	numberOfWorker int
	quit           chan struct{}
	do             Handler
	waiter         *sync.WaitGroup
	once           sync.Once
}

func NewPool(bufferSize, numberOfWorkers int, jobChannel chan interface{}) *Pool {
	if jobChannel == nil {
		jobChannel = make(chan interface{}, bufferSize)
	}
	return &Pool{
		bufferSize:     bufferSize,
		numberOfWorker: numberOfWorkers,
		jobChannel:     jobChannel,
		quit:           make(chan struct{}),
		waiter:         &sync.WaitGroup{},
	}
}

func (w *Pool) SetWorker(worker Handler) {
	w.do = worker
}

func (w *Pool) GetUnreadCount() int64 {
	if w.jobChannel == nil {
		return 0
	}
	return int64(len(w.jobChannel))
}

// Enqueue publishes a job onto the channel; blocks when the buffer is full.
func (w *Pool) Enqueue(val interface{}) {
	w.jobChannel <- val
}

// Start spins up the workers and blocks until Exit is called.
func (w *Pool) Start() error {
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for {
				select {
				case job := <-w.jobChannel:
					w.do(index, job)
				case <-w.quit:
					return
				}
			}
		}(i)
	}
	w.waiter.Wait()
	return nil
}

// Exit stops all workers. Jobs still buffered in the channel are left
// untouched.
func (w *Pool) Exit() {
	w.once.Do(func() {
		close(w.quit)
	})
}
