package eventbridge

import (
	"strings"
	"sync"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50
	defaultDedupeWindow       = 1024

	// wildcardSection subscribes to every section of a project.
	wildcardSection = "*"
)

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// Router delivers change events to topic-specific subscribers with
// buffering, deduplication, and bounded channel semantics. A topic is
// "projectID/sectionID"; subscribing with section "*" (or "") receives
// every section of the project.
type Router struct {
	mu                sync.RWMutex
	subscribers       map[string]map[*subscriber]struct{}
	backlog           map[string][]Event
	correlationTopics map[string]string
	recentIDs         map[string]struct{}
	recentOrder       []string
	channelSize       int
	backlogLimit      int
	dedupeWindow      int
	logger            Logger
}

// Subscription represents an active topic subscription.
type Subscription struct {
	Events <-chan Event
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
		subscribers:       map[string]map[*subscriber]struct{}{},
		backlog:           map[string][]Event{},
		correlationTopics: map[string]string{},
		recentIDs:         map[string]struct{}{},
		recentOrder:       make([]string, 0, defaultDedupeWindow),
		channelSize:       defaultSubscriberCapacity,
		backlogLimit:      defaultBacklogLimit,
		dedupeWindow:      defaultDedupeWindow,
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

// Subscribe registers for events on one project section. Passing an empty
// or "*" section subscribes to the whole project.
func (r *Router) Subscribe(projectID, sectionID string) Subscription {
	if strings.TrimSpace(sectionID) == "" {
		sectionID = wildcardSection
	}
	topic := topicKey(projectID, sectionID)
	sub := newSubscriber(r.channelSize, r.logger)
	var backlog []Event
	r.mu.Lock()
	if r.subscribers[topic] == nil {
		r.subscribers[topic] = map[*subscriber]struct{}{}
	}
	r.subscribers[topic][sub] = struct{}{}
	if existing := r.backlog[topic]; len(existing) > 0 {
		backlog = append(backlog, existing...)
		delete(r.backlog, topic)
	}
	r.mu.Unlock()
	for _, event := range backlog {
		sub.deliver(event)
	}
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			r.removeSubscriber(topic, sub)
		},
	}
}

// HandleEvent satisfies the EventProcessor interface.
func (r *Router) HandleEvent(event Event) error {
	r.Route(event)
	return nil
}

// Route delivers the event to matching subscribers, or buffers it on the
// exact topic when none exist yet. Events missing a project id are resolved
// through the correlation-id map an earlier event of the same invocation
// populated; unresolvable events are dropped.
func (r *Router) Route(event Event) {
	if event.EventID != "" && r.isDuplicate(event.EventID) {
		return
	}
	if normalizeID(event.ProjectID) == "" {
		topic := r.lookupCorrelation(event.CorrelationID)
		if topic == "" {
			return
		}
		parts := strings.SplitN(topic, "/", 2)
		event.ProjectID = parts[0]
		if event.SectionID == "" && len(parts) == 2 {
			event.SectionID = parts[1]
		}
	}
	r.trackCorrelation(event.CorrelationID, event.Topic())

	exact := event.Topic()
	wild := topicKey(event.ProjectID, wildcardSection)
	r.mu.RLock()
	subs := append(r.snapshotSubscribers(exact), r.snapshotSubscribers(wild)...)
	r.mu.RUnlock()
	if len(subs) == 0 {
		r.bufferEvent(exact, event)
		return
	}
	for _, sub := range subs {
		sub.deliver(event)
	}
}

func (r *Router) snapshotSubscribers(topic string) []*subscriber {
	live := r.subscribers[topic]
	if len(live) == 0 {
		return nil
	}
	items := make([]*subscriber, 0, len(live))
	for sub := range live {
		items = append(items, sub)
	}
	return items
}

func (r *Router) removeSubscriber(topic string, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs := r.subscribers[topic]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, topic)
		}
	}
	sub.close()
}

func (r *Router) bufferEvent(topic string, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.backlog[topic]
	if len(queue) >= r.backlogLimit {
		queue = queue[1:]
		if r.logger != nil {
			r.logger.Printf("eventbridge: backlog drop for %s (limit %d)", topic, r.backlogLimit)
		}
	}
	queue = append(queue, event)
	r.backlog[topic] = queue
}

func (r *Router) trackCorrelation(correlationID, topic string) {
	if correlationID == "" || topic == "" {
		return
	}
	r.mu.Lock()
	r.correlationTopics[correlationID] = topic
	r.mu.Unlock()
}

func (r *Router) lookupCorrelation(correlationID string) string {
	if correlationID == "" {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.correlationTopics[correlationID]
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
	ch      chan Event
	logger  Logger
	closed  bool
	closeMu sync.Mutex
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

func (s *subscriber) deliver(event Event) {
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

func (s *subscriber) logDrop(event Event, reason string) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("eventbridge: dropped %s (%s)", event.Type, reason)
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

// shouldDropOldest decides which event loses a full queue. Transition and
// escalation events must survive: a watch() consumer acting on lifecycle
// changes can tolerate losing an agent_output line, not a state change.
func shouldDropOldest(oldest, incoming Event) bool {
	oldestCritical := isCriticalEvent(oldest.Type)
	incomingCritical := isCriticalEvent(incoming.Type)
	switch {
	case oldestCritical && !incomingCritical:
		return false
	case !oldestCritical && incomingCritical:
		return true
	}
	oldestPreferred := isPreferredDrop(oldest.Type)
	incomingPreferred := isPreferredDrop(incoming.Type)
	if oldestPreferred && !incomingPreferred {
		return true
	}
	if !oldestPreferred && incomingPreferred {
		return false
	}
	return true
}

func isCriticalEvent(kind string) bool {
	kind = strings.ToLower(strings.TrimSpace(kind))
	return kind == EventTransition || kind == EventEscalation
}

func isPreferredDrop(kind string) bool {
	return strings.ToLower(strings.TrimSpace(kind)) == EventAgentOutput
}
