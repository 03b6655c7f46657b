package hub

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/markus-lassfolk/trackhub/pkg/logx"
)

// scheduler runs posted tasks one at a time, in order, on a single
// goroutine. Post never blocks the caller.
type scheduler struct {
	logger *logx.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}

	// depth reports the queue length after each post, for metrics
	depth func(n int)
}

func newScheduler(logger *logx.Logger, depth func(int)) *scheduler {
	s := &scheduler{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		depth:  depth,
	}
	go s.loop()
	return s
}

// post enqueues a task. It returns false once the scheduler is closed.
func (s *scheduler) post(task func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, task)
	n := len(s.queue)
	s.mu.Unlock()

	if s.depth != nil {
		s.depth(n)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// barrier waits until every task posted before it has run.
func (s *scheduler) barrier() {
	ran := make(chan struct{})
	if !s.post(func() { close(ran) }) {
		<-s.done
		return
	}
	select {
	case <-ran:
	case <-s.done:
	}
}

// close drains the queue and stops the goroutine.
func (s *scheduler) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
}

func (s *scheduler) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.run(task)
	}
}

func (s *scheduler) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notification task panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	task()
}
