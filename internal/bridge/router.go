package bridge

import (
	"sync"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50
	defaultDedupeWindow       = 1024
)

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// Router delivers vault events to compartment-specific subscribers with
// buffering, deduplication, and bounded channel semantics. The vault watcher
// and HTTP intake feed events in; workers subscribe to wake on inbox and
// approved changes instead of waiting out the poll interval.
type Router struct {
	mu           sync.RWMutex
	subscribers  map[string]map[*subscriber]struct{}
	backlog      map[string][]TaskEvent
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       Logger
}

// Subscription represents an active compartment subscription.
type Subscription struct {
	Events <-chan TaskEvent
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router with sane defaults.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers:  map[string]map[*subscriber]struct{}{},
		backlog:      map[string][]TaskEvent{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RouterWithLogger injects a logger for drop/diagnostic messages.
func RouterWithLogger(logger Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// RouterWithSubscriberCapacity overrides the buffered channel size per subscriber.
func RouterWithSubscriberCapacity(cap int) RouterOption {
	return func(r *Router) {
		if cap > 0 {
			r.channelSize = cap
		}
	}
}

// RouterWithBacklogLimit overrides the backlog size for pre-subscription buffering.
func RouterWithBacklogLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.backlogLimit = limit
		}
	}
}

// RouterWithDedupeWindow controls how many recent event IDs are retained.
func RouterWithDedupeWindow(size int) RouterOption {
	return func(r *Router) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

// Subscribe registers for events in one compartment.
func (r *Router) Subscribe(compartment string) Subscription {
	sub := newSubscriber(r.channelSize, r.logger)
	var backlog []TaskEvent
	r.mu.Lock()
	if r.subscribers[compartment] == nil {
		r.subscribers[compartment] = map[*subscriber]struct{}{}
	}
	r.subscribers[compartment][sub] = struct{}{}
	if existing := r.backlog[compartment]; len(existing) > 0 {
		backlog = append(backlog, existing...)
		delete(r.backlog, compartment)
	}
	r.mu.Unlock()
	for _, event := range backlog {
		sub.deliver(event)
	}
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			r.removeSubscriber(compartment, sub)
		},
	}
}

// HandleEvent satisfies the EventProcessor interface.
func (r *Router) HandleEvent(event TaskEvent) error {
	r.Route(event)
	return nil
}

// Route delivers the event to subscribers or buffers it when no subscriber exists.
func (r *Router) Route(event TaskEvent) {
	if r.isDuplicate(event.ID()) {
		return
	}
	compartment := normalizeCompartment(event.Compartment)
	if compartment == "" {
		return
	}
	r.mu.RLock()
	subs := r.snapshotSubscribers(compartment)
	r.mu.RUnlock()
	if len(subs) == 0 {
		r.bufferEvent(compartment, event)
		return
	}
	for _, sub := range subs {
		sub.deliver(event)
	}
}

func (r *Router) snapshotSubscribers(compartment string) []*subscriber {
	live := r.subscribers[compartment]
	if len(live) == 0 {
		return nil
	}
	items := make([]*subscriber, 0, len(live))
	for sub := range live {
		items = append(items, sub)
	}
	return items
}

func (r *Router) removeSubscriber(compartment string, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs := r.subscribers[compartment]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, compartment)
		}
	}
	sub.close()
}

func (r *Router) bufferEvent(compartment string, event TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.backlog[compartment]
	if len(queue) >= r.backlogLimit {
		queue = queue[1:]
		if r.logger != nil {
			r.logger.Printf("bridge: backlog drop for %s (limit %d)", compartment, r.backlogLimit)
		}
	}
	queue = append(queue, event)
	r.backlog[compartment] = queue
}

func (r *Router) isDuplicate(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recentIDs[eventID]; ok {
		return true
	}
	r.recentIDs[eventID] = struct{}{}
	r.recentOrder = append(r.recentOrder, eventID)
	if len(r.recentOrder) > r.dedupeWindow {
		oldest := r.recentOrder[0]
		r.recentOrder = r.recentOrder[1:]
		delete(r.recentIDs, oldest)
	}
	return false
}

type subscriber struct {
	ch      chan TaskEvent
	logger  Logger
	closed  bool
	closeMu sync.Mutex
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan TaskEvent, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan TaskEvent {
	return s.ch
}

func (s *subscriber) deliver(event TaskEvent) {
	if s.isClosed() {
		return
	}
	select {
	case s.ch <- event:
		return
	default:
		oldest := <-s.ch
		if shouldDropOldest(oldest, event) {
			s.logDrop(oldest, "queue overflow")
			s.ch <- event
		} else {
			s.ch <- oldest
			s.logDrop(event, "queue overflow:incoming")
		}
	}
}

func (s *subscriber) logDrop(event TaskEvent, reason string) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("bridge: dropped %s %s (%s)", event.Kind, event.Name, reason)
}

func (s *subscriber) close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.closeMu.Unlock()
}

func (s *subscriber) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

// shouldDropOldest keeps arrival notifications alive under pressure:
// a created event carries information a poll cannot recover cheaply,
// while updated events are superseded by the next read anyway.
func shouldDropOldest(oldest, incoming TaskEvent) bool {
	if oldest.Kind == EventCreated && incoming.Kind != EventCreated {
		return false
	}
	return true
}
