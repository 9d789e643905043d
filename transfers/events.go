// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package transfers

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// names of the events emitted by the engine
const (
	EventProgress  = "transfer-progress"
	EventComplete  = "transfer-complete"
	EventCancelled = "transfer-cancelled"
	EventFailed    = "transfer-failed"
)

// An EventSink receives named events from running transfers. Emit must not
// block for long, since it is called from transfer workers.
type EventSink interface {
	Emit(name string, payload any)
}

// payload for transfer-complete and transfer-cancelled
type TransferEvent struct {
	TransferId uuid.UUID `json:"transfer_id"`
	Filename   string    `json:"filename"`
}

// payload for transfer-failed
type TransferFailedEvent struct {
	TransferId uuid.UUID `json:"transfer_id"`
	Filename   string    `json:"filename"`
	Error      string    `json:"error"`
}

// a named event with its payload
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

// An EventBus is an EventSink that fans events out to subscribers. A
// subscriber whose buffer is full misses events rather than stalling
// transfers.
type EventBus struct {
	mutex       sync.Mutex
	nextId      int
	subscribers map[int]*subscriber
}

type subscriber struct {
	events chan Event
	names  []string
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[int]*subscriber),
	}
}

// Subscribe returns a channel receiving events with the given names (all
// events if none are given), and a function that ends the subscription and
// closes the channel.
func (b *EventBus) Subscribe(buffer int, names ...string) (<-chan Event, func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	id := b.nextId
	b.nextId++
	sub := &subscriber{
		events: make(chan Event, buffer),
		names:  names,
	}
	b.subscribers[id] = sub
	var once sync.Once
	return sub.events, func() {
		once.Do(func() {
			b.mutex.Lock()
			defer b.mutex.Unlock()
			delete(b.subscribers, id)
			close(sub.events)
		})
	}
}

// returns the number of current subscribers
func (b *EventBus) Subscribers() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.subscribers)
}

func (b *EventBus) Emit(name string, payload any) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	for _, sub := range b.subscribers {
		if len(sub.names) > 0 && !slices.Contains(sub.names, name) {
			continue
		}
		select {
		case sub.events <- Event{Name: name, Payload: payload}:
		default:
			slog.Debug("Dropped event for slow subscriber: " + name)
		}
	}
}
