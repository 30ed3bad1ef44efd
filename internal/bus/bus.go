// Package bus is an in-process publish/subscribe fan-out. Every subscriber
// receives every event published after it subscribed, in publish order.
// Publish never blocks: each subscriber has its own unbounded queue drained
// by a goroutine into the subscriber's channel.
package bus

import "sync"

type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[int]*subscriber[T]
	nextID int
	closed bool
}

func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]*subscriber[T])}
}

// Subscribe returns a channel of events and a function that ends the
// subscription. The channel is closed once the subscription ends.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	s := &subscriber[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.run()

	return s.out, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.stop()
	}
}

// Publish queues v for every current subscriber.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.push(v)
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Bus[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int]*subscriber[T])
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

type subscriber[T any] struct {
	mu    sync.Mutex
	queue []T
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
	out   chan T
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber[T]) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
