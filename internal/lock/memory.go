package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryService is an in-process Service for single-instance deployments
// and tests. Waiters are queued in strict arrival order; grants hand the
// lock directly to the head waiter so no barging is possible.
type MemoryService struct {
	mu    sync.Mutex
	locks map[string]*memLock
}

type memLock struct {
	heldGen uint64 // 0 = free
	nextGen uint64
	queue   []*memWaiter
}

type memWaiter struct {
	ch chan uint64 // receives the holder generation when granted
}

var _ Service = (*MemoryService)(nil)

// NewMemoryService creates a ready-to-use in-memory lock service.
func NewMemoryService() *MemoryService {
	return &MemoryService{locks: make(map[string]*memLock)}
}

// Acquire implements Service.
func (s *MemoryService) Acquire(ctx context.Context, name string, maxWait, hold time.Duration) (*Guard, error) {
	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &memLock{}
		s.locks[name] = l
	}

	// Fast path: free and nobody queued ahead of us.
	if l.heldGen == 0 && len(l.queue) == 0 {
		l.nextGen++
		gen := l.nextGen
		l.heldGen = gen
		s.mu.Unlock()
		return s.guardFor(name, gen, hold), nil
	}

	w := &memWaiter{ch: make(chan uint64, 1)}
	l.queue = append(l.queue, w)
	s.mu.Unlock()

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case gen := <-w.ch:
		return s.guardFor(name, gen, hold), nil
	case <-timer.C:
		return nil, s.abandon(name, w, ErrTimeout)
	case <-ctx.Done():
		return nil, s.abandon(name, w, ctx.Err())
	}
}

// abandon removes the waiter from the queue. If a grant raced the timeout,
// the lock is taken and passed straight on to the next waiter.
func (s *MemoryService) abandon(name string, w *memWaiter, cause error) error {
	s.mu.Lock()
	l := s.locks[name]
	if l != nil {
		for i, queued := range l.queue {
			if queued == w {
				l.queue = append(l.queue[:i], l.queue[i+1:]...)
				s.mu.Unlock()
				return cause
			}
		}
	}
	s.mu.Unlock()

	// Not queued anymore: the grant won the race and the generation is
	// already buffered in the channel.
	gen := <-w.ch
	s.release(name, gen)
	return cause
}

func (s *MemoryService) guardFor(name string, gen uint64, hold time.Duration) *Guard {
	timer := time.AfterFunc(hold, func() {
		s.release(name, gen)
	})
	return NewGuard(func() {
		timer.Stop()
		s.release(name, gen)
	})
}

// release frees the lock if gen is the current holder, granting to the
// head waiter if any. Stale generations (an explicit Release after the
// hold timeout already fired, or vice versa) are ignored.
func (s *MemoryService) release(name string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.locks[name]
	if l == nil || l.heldGen != gen {
		return
	}

	if len(l.queue) > 0 {
		next := l.queue[0]
		l.queue = l.queue[1:]
		l.nextGen++
		l.heldGen = l.nextGen
		next.ch <- l.heldGen
		return
	}

	l.heldGen = 0
	delete(s.locks, name)
}
