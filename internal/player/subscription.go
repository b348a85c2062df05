package player

import (
	"sync"

	"github.com/veranemoloko/media-pipeline/internal/domain"
)

// subscription delivers every published PlaybackState, in order. Snapshots
// queue without bound until the subscriber reads them, so a slow reader
// never loses a transition and never blocks the controller.
type subscription struct {
	updates chan domain.PlaybackState
	signal  chan struct{}
	done    chan struct{}

	mu     sync.Mutex
	queue  []domain.PlaybackState
	closed bool

	onClose func(*subscription)
	once    sync.Once
}

func newSubscription(onClose func(*subscription)) *subscription {
	s := &subscription{
		updates: make(chan domain.PlaybackState),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go s.pump()
	return s
}

// Updates returns the channel snapshots are delivered on. It is closed
// after Close.
func (s *subscription) Updates() <-chan domain.PlaybackState {
	return s.updates
}

// Close detaches the subscription. Pending snapshots are dropped.
func (s *subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

func (s *subscription) push(state domain.PlaybackState) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, state)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) pop() (domain.PlaybackState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return domain.PlaybackState{}, false
	}
	next := s.queue[0]
	s.queue[0] = domain.PlaybackState{}
	s.queue = s.queue[1:]
	return next, true
}

func (s *subscription) pump() {
	defer close(s.updates)
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			next, ok := s.pop()
			if !ok {
				break
			}
			select {
			case s.updates <- next:
			case <-s.done:
				return
			}
		}
	}
}
