package sequencer

import (
	"context"
	"sync"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

// Job is one operation against shared exchange state.
type Job func() error

type request struct {
	job  Job
	done chan error
}

// Sequencer applies jobs one at a time, in admission order, on a single
// goroutine. There is no priority or reordering between jobs.
type Sequencer struct {
	queue chan request

	mu     sync.RWMutex // guards closed against concurrent sends
	closed bool

	wg sync.WaitGroup
}

// New starts a sequencer with the given admission buffer.
func New(buffer int) *Sequencer {
	s := &Sequencer{queue: make(chan request, buffer)}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Sequencer) run() {
	defer s.wg.Done()
	for req := range s.queue {
		req.done <- req.job()
	}
}

// Do admits job and waits for its result. ctx bounds only the wait for
// admission: once admitted the job always runs to completion and Do returns
// its error.
func (s *Sequencer) Do(ctx context.Context, job Job) error {
	req := request{job: job, done: make(chan error, 1)}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return types.ErrClosed
	}
	select {
	case s.queue <- req:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	return <-req.done
}

// Len returns the number of admitted jobs not yet started.
func (s *Sequencer) Len() int { return len(s.queue) }

// Close stops admission, then waits for every admitted job to finish.
func (s *Sequencer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}
