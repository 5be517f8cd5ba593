package sync

import (
	stdsync "sync"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls this far behind starts missing summaries rather than
// stalling the engine.
const subscriberBuffer = 16

// Broadcaster fans out terminal run summaries to any number of
// subscribers. Publishing never blocks: a full subscriber channel
// drops the summary for that subscriber only.
type Broadcaster struct {
	mu   stdsync.Mutex
	subs map[chan RunSummary]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan RunSummary]struct{})}
}

// Subscribe registers a new subscriber and returns its channel along
// with a cancel function. The cancel function unregisters the
// subscriber and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan RunSummary, func()) {
	ch := make(chan RunSummary, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once stdsync.Once

	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}

// Publish delivers a summary to every subscriber that has room for it.
func (b *Broadcaster) Publish(summary RunSummary) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- summary:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers are registered.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}
