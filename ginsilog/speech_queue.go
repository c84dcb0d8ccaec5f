package ginsilog

import (
	"slices"
	"sync"
)

// SpeechItem is text waiting to be spoken in a voice channel
type SpeechItem struct {
	Text   string
	UserID string
}

// SpeechQueue is a bounded FIFO. When full, pushing drops the oldest
// item.
type SpeechQueue struct {
	mu    sync.Mutex
	items []SpeechItem
	size  int
}

func NewSpeechQueue(size int) *SpeechQueue {
	if size < 1 {
		size = 1
	}
	return &SpeechQueue{size: size, items: make([]SpeechItem, 0, size)}
}

// Push appends item, returning the dropped item if the queue was full
func (q *SpeechQueue) Push(item SpeechItem) (SpeechItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dropped SpeechItem
	var ok bool
	if len(q.items) >= q.size {
		dropped, ok = q.items[0], true
		q.items = slices.Delete(q.items, 0, 1)
	}
	q.items = append(q.items, item)
	return dropped, ok
}

// Pop removes and returns the oldest item
func (q *SpeechQueue) Pop() (SpeechItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return SpeechItem{}, false
	}
	item := q.items[0]
	q.items = slices.Delete(q.items, 0, 1)
	return item, true
}

func (q *SpeechQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *SpeechQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}

// Items returns a copy of the queued items, oldest first
func (q *SpeechQueue) Items() []SpeechItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}
