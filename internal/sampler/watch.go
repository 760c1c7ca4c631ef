package sampler

import "sync"

type watchers struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func (w *watchers) add(sub *subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.subs == nil {
		w.subs = make(map[*subscriber]struct{})
	}
	w.subs[sub] = struct{}{}
}

func (w *watchers) remove(sub *subscriber) {
	w.mu.Lock()
	delete(w.subs, sub)
	w.mu.Unlock()
	sub.close()
}

func (w *watchers) publish(stats Stats) {
	w.mu.Lock()
	targets := make([]*subscriber, 0, len(w.subs))
	for sub := range w.subs {
		targets = append(targets, sub)
	}
	w.mu.Unlock()

	for _, sub := range targets {
		sub.send(stats)
	}
}

func (w *watchers) closeAll() {
	w.mu.Lock()
	targets := w.subs
	w.subs = nil
	w.mu.Unlock()

	for sub := range targets {
		sub.close()
	}
}

type subscriber struct {
	ch     chan Stats
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch: make(chan Stats, 1),
	}
}

func (s *subscriber) channel() <-chan Stats {
	return s.ch
}

func (s *subscriber) send(stats Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- stats:
		return
	default:
		// Drop oldest to make room for the newer snapshot.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- stats:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
