package events

import (
	"slices"
	"sync"
)

// subscriberBuffer is the channel capacity of each subscription
const subscriberBuffer = 100

// Subscription represents a subscription to events
type Subscription struct {
	Ch     chan Event  // Channel to receive events
	Types  []EventType // Event types to filter (nil/empty = all types)
	Target string      // Target identifier
}

// Bus manages event subscriptions and publishing
type Bus struct {
	subscribers map[string][]*Subscription // target -> subscriptions
	dropped     uint64                     // events skipped because a subscriber was full
	mu          sync.RWMutex               // Protects subscribers map
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]*Subscription),
	}
}

// Subscribe creates a new subscription for the given target and event types.
// Returns a channel that will receive matching events.
// If types is nil or empty, all event types will be received.
func (b *Bus) Subscribe(target string, types []EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		Ch:     make(chan Event, subscriberBuffer),
		Types:  types,
		Target: target,
	}

	b.subscribers[target] = append(b.subscribers[target], sub)

	return sub.Ch
}

// Unsubscribe removes a subscription and closes its channel
func (b *Bus) Unsubscribe(target string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, exists := b.subscribers[target]
	if !exists {
		return
	}

	for i, sub := range subs {
		if sub.Ch == ch {
			close(sub.Ch)

			b.subscribers[target] = append(subs[:i], subs[i+1:]...)

			if len(b.subscribers[target]) == 0 {
				delete(b.subscribers, target)
			}

			return
		}
	}
}

// Publish sends an event to all matching subscribers.
// Events are sent to:
// 1. Subscribers for the specific target
// 2. Subscribers for "all" (if target is not "all")
// 3. All subscribers (if target is "all")
func (b *Bus) Publish(event *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var targetSubs []*Subscription

	if event.Target == TargetAll {
		for _, subs := range b.subscribers {
			targetSubs = append(targetSubs, subs...)
		}
	} else {
		if subs, exists := b.subscribers[event.Target]; exists {
			targetSubs = append(targetSubs, subs...)
		}
		if subs, exists := b.subscribers[TargetAll]; exists {
			targetSubs = append(targetSubs, subs...)
		}
	}

	for _, sub := range targetSubs {
		if !matchesTypes(event.Type, sub.Types) {
			continue
		}
		// Non-blocking send; a slow subscriber loses events instead of stalling publishers
		select {
		case sub.Ch <- *event:
		default:
			b.dropped++
		}
	}
}

// Dropped returns how many deliveries were skipped because subscribers were full
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// SubscriberCount returns the number of live subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

// matchesTypes checks if an event type matches the subscription filter
func matchesTypes(eventType EventType, types []EventType) bool {
	if len(types) == 0 {
		return true
	}
	return slices.Contains(types, eventType)
}
