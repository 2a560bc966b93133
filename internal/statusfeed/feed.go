package statusfeed

import (
	"sync"
	"time"
)

// EventType categorizes feed events.
type EventType string

const (
	EventRunQueued    EventType = "run_queued"
	EventStageStarted EventType = "stage_started"
	EventStageResult  EventType = "stage_result"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
	EventModelReady   EventType = "model_ready"
)

// Event is one status transition published to feed subscribers.
type Event struct {
	Type         EventType `json:"type"`
	RunID        int64     `json:"run_id"`
	RunUUID      string    `json:"run_uuid"`
	RunStatus    string    `json:"run_status"`
	Stage        string    `json:"stage,omitempty"`
	StageStatus  string    `json:"stage_status,omitempty"`
	Attempt      int       `json:"attempt,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

const subscriberBuffer = 64

// Feed fans status events out to subscribers. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling the
// pipeline.
type Feed struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// New constructs an empty feed.
func New() *Feed {
	return &Feed{subscribers: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its event channel along
// with a cancel function. The channel is closed on cancel or feed shutdown.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.subscribers[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subscribers[ch]; ok {
				delete(f.subscribers, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers without blocking.
func (f *Feed) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for ch := range f.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close shuts the feed down and closes all subscriber channels.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subscribers {
		close(ch)
	}
	f.subscribers = make(map[chan Event]struct{})
}

// SubscriberCount reports the number of active subscribers.
func (f *Feed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}
