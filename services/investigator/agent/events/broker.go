// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"sync"
	"time"
)

// subscriberBuffer is the per-subscriber channel depth. Events beyond a
// full buffer are dropped for that subscriber rather than stalling the run.
const subscriberBuffer = 64

// Broker fans events out to per-session subscribers.
//
// Thread Safety:
//
//	Broker is safe for concurrent use.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Event
	next int
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[int]chan Event),
	}
}

// Emit implements Emitter, publishing to every subscriber of the event's
// session.
//
// Thread Safety: This method is safe for concurrent use.
func (b *Broker) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
			// Subscriber is not keeping up; drop rather than block the run.
		}
	}
}

// Subscribe registers a subscriber for one session's events.
//
// Outputs:
//
//	<-chan Event - The event stream
//	func() - Cancel function; must be called to release the subscription
//
// Thread Safety: This method is safe for concurrent use.
func (b *Broker) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[int]chan Event)
	}
	b.subs[sessionID][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[sessionID]; ok {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.subs, sessionID)
			}
		}
	}
	return ch, cancel
}

// SubscriberCount reports active subscribers for a session.
//
// Thread Safety: This method is safe for concurrent use.
func (b *Broker) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
