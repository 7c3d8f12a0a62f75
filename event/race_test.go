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
	"sync"
	"testing"
)

// TestPublishUnsubscribeRace attempts to reproduce the race between Publish
// and Unsubscribe/Stop where a send on a channel could hit a concurrently
// closing channel. The test runs many iterations to probabilistically
// surface races; the implementation should be deterministic and not panic.
func TestPublishUnsubscribeRace(t *testing.T) {
	const iters = 1000
	for range iters {
		eb := NewEventBus(nil, nil)
		typ := EventType("race.test")

		// Subscribe a channel-backed subscriber
		subId, ch := eb.Subscribe(typ)

		var wg sync.WaitGroup
		wg.Add(3)

		// Publisher goroutine
		go func() {
			defer wg.Done()
			// Publish many events to increase chance of overlapping with close
			for j := range 10 {
				eb.Publish(typ, NewEvent(typ, j))
			}
		}()

		// Concurrently unsubscribe/stop the bus
		go func() {
			defer wg.Done()
			eb.Unsubscribe(typ, subId)
			eb.Stop()
		}()

		// Drain channel until closed
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()

		wg.Wait()
	}
}

// TestDeliverCloseRace exercises deliver racing with close on the same
// subscriber. A delivery that loses the race reports a drop instead of
// panicking on a closed channel, and a delivery blocked on the full buffer
// is released by close rather than stalling it.
func TestDeliverCloseRace(t *testing.T) {
	const iters = 1000
	for range iters {
		sub := newChannelSubscriber(1)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range 5 {
				sub.deliver(NewEvent("race.deliver", i))
			}
		}()
		go func() {
			defer wg.Done()
			sub.close()
		}()
		wg.Wait()
		if sub.deliver(NewEvent("race.deliver", -1)) {
			t.Fatal("deliver succeeded on a closed subscriber")
		}
	}
}
