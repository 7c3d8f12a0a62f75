// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventQueueSize is the buffer size for each subscriber channel. The buffer
// absorbs bursts of participant actions arriving while an engine is busy
// with a surface round trip; once it fills, publishers block until the
// engine catches up.
const EventQueueSize = 64

type EventType string

type EventSubscriberId int

type EventHandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func NewEvent(eventType EventType, eventData any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      eventData,
	}
}

// EventBus is an in-process pub/sub bus. Interaction surfaces publish
// participant actions onto it, session engines subscribe to their action
// stream, and engines publish lifecycle events back for any observers.
type EventBus struct {
	subscribers map[EventType]map[EventSubscriberId]*channelSubscriber
	metrics     *eventMetrics
	lastSubId   EventSubscriberId
	mu          sync.RWMutex
	logger      *slog.Logger
}

func NewEventBus(
	promRegistry prometheus.Registerer,
	logger *slog.Logger,
) *EventBus {
	e := &EventBus{
		subscribers: make(map[EventType]map[EventSubscriberId]*channelSubscriber),
		logger:      logger,
	}
	if promRegistry != nil {
		e.metrics = newEventMetrics(promRegistry)
	}
	return e
}

// channelSubscriber wraps a subscriber channel so that sends and close can
// race safely. deliver takes the read lock for the duration of the send, so
// close waits for in-flight sends to drain before closing the channel.
type channelSubscriber struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func newChannelSubscriber(buffer int) *channelSubscriber {
	return &channelSubscriber{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// deliver sends an event to the subscriber channel. The send blocks on a
// full buffer rather than dropping: a subscriber must see every event
// published while it is registered, in publish order. Only a closed
// subscriber drops the event, and closing releases any sender already
// blocked on the full buffer.
func (c *channelSubscriber) deliver(evt Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.ch <- evt:
		return true
	case <-c.done:
		return false
	}
}

// close wakes blocked senders first, then waits for them to release the
// read lock before closing the channel
func (c *channelSubscriber) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Subscribe allows a consumer to receive events of a particular type via a channel
func (e *EventBus) Subscribe(
	eventType EventType,
) (EventSubscriberId, <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	chSub := newChannelSubscriber(EventQueueSize)
	subId := e.lastSubId + 1
	e.lastSubId = subId
	if _, ok := e.subscribers[eventType]; !ok {
		e.subscribers[eventType] = make(
			map[EventSubscriberId]*channelSubscriber,
		)
	}
	e.subscribers[eventType][subId] = chSub
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return subId, chSub.ch
}

// SubscribeFunc allows a consumer to receive events of a particular type via a callback function
func (e *EventBus) SubscribeFunc(
	eventType EventType,
	handlerFunc EventHandlerFunc,
) EventSubscriberId {
	subId, evtCh := e.Subscribe(eventType)
	go func() {
		for {
			evt, ok := <-evtCh
			if !ok {
				return
			}
			// A panicking handler must not kill the delivery goroutine
			func() {
				defer func() {
					if r := recover(); r != nil {
						if e.logger != nil {
							e.logger.Error(
								"recovered panic in event handler",
								"component", "eventbus",
								"type", eventType,
								"panic", r,
							)
						}
					}
				}()
				handlerFunc(evt)
			}()
		}
	}()
	return subId
}

// Unsubscribe stops delivery of events for a particular type for an existing subscriber
func (e *EventBus) Unsubscribe(eventType EventType, subId EventSubscriberId) {
	e.mu.Lock()
	var subToClose *channelSubscriber
	if evtTypeSubs, ok := e.subscribers[eventType]; ok {
		if sub, ok2 := evtTypeSubs[subId]; ok2 {
			subToClose = sub
			delete(evtTypeSubs, subId)
			if len(evtTypeSubs) == 0 {
				delete(e.subscribers, eventType)
			}
			if e.metrics != nil {
				e.metrics.subscribers.WithLabelValues(string(eventType)).
					Dec()
			}
		}
	}
	e.mu.Unlock()

	// Close outside the bus lock so a blocked deliver can drain first
	if subToClose != nil {
		subToClose.close()
	}
}

// Publish allows a producer to send an event of a particular type to all subscribers
func (e *EventBus) Publish(eventType EventType, evt Event) {
	// Gather subscribers inside the read lock, send outside it
	e.mu.RLock()
	subs := e.subscribers[eventType]
	subList := make([]*channelSubscriber, 0, len(subs))
	for _, sub := range subs {
		subList = append(subList, sub)
	}
	e.mu.RUnlock()
	for _, sub := range subList {
		if !sub.deliver(evt) {
			// Only a subscriber that closed mid-publish refuses delivery
			if e.metrics != nil {
				e.metrics.eventsDropped.WithLabelValues(string(eventType)).
					Inc()
			}
			if e.logger != nil {
				e.logger.Debug(
					"subscriber closed, dropping event",
					"component", "eventbus",
					"type", eventType,
				)
			}
		}
	}
	if e.metrics != nil {
		e.metrics.eventsTotal.WithLabelValues(string(eventType)).Inc()
	}
}

// Stop closes all subscriber channels and clears the subscribers map. This
// ensures that SubscribeFunc goroutines exit cleanly during shutdown. The
// EventBus can still be reused after Stop() is called.
func (e *EventBus) Stop() {
	e.mu.Lock()
	subsCopy := e.subscribers
	e.subscribers = make(map[EventType]map[EventSubscriberId]*channelSubscriber)
	e.mu.Unlock()

	for _, evtTypeSubs := range subsCopy {
		for _, sub := range evtTypeSubs {
			sub.close()
		}
	}

	if e.metrics != nil {
		e.metrics.subscribers.Reset()
	}
	if e.logger != nil {
		e.logger.Debug(
			"event bus stopped",
			"component", "eventbus",
		)
	}
}
