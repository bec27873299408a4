// Package sequencer buffers out-of-order events and releases them strictly by
// event id.
package sequencer

import (
	"container/heap"
	"sync"

	"github.com/coachpo/backoffice/internal/schema"
)

// Sequencer holds early events until the id gap before them closes. Events are
// admitted in any order and become ready only as a contiguous prefix.
type Sequencer struct {
	mu           sync.Mutex
	lastReleased int64
	buffered     map[int64]struct{}
	events       eventHeap
}

// New constructs a sequencer whose cursor starts after lastReleased. On a
// restart lastReleased comes from the maximum journaled event id.
func New(lastReleased int64) *Sequencer {
	s := new(Sequencer)
	s.lastReleased = lastReleased
	s.buffered = make(map[int64]struct{})
	s.events = make(eventHeap, 0)
	return s
}

// Admit inserts the event into the buffer. Events at or below the release
// cursor and ids already buffered are dropped, returning false.
func (s *Sequencer) Admit(evt *schema.Event) bool {
	if evt == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt.ID <= s.lastReleased {
		return false
	}
	if _, ok := s.buffered[evt.ID]; ok {
		return false
	}
	heap.Push(&s.events, evt)
	s.buffered[evt.ID] = struct{}{}
	return true
}

// Ready returns the next contiguous event without releasing it, or nil when
// the head of the buffer still has a gap before it.
func (s *Sequencer) Ready() *schema.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events.Len() == 0 {
		return nil
	}
	head := s.events[0]
	if head.ID != s.lastReleased+1 {
		return nil
	}
	return head
}

// Advance releases the head event after it has been durably applied. The id
// must match the event returned by Ready.
func (s *Sequencer) Advance(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events.Len() == 0 || s.events[0].ID != id || id != s.lastReleased+1 {
		return
	}
	heap.Pop(&s.events)
	delete(s.buffered, id)
	s.lastReleased = id
}

// Drop removes a buffered event without advancing the cursor. Called when an
// apply fails so a redelivery of the same id is admitted and retried instead
// of being swallowed as a duplicate.
func (s *Sequencer) Drop(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buffered[id]; !ok {
		return
	}
	delete(s.buffered, id)
	for i := range s.events {
		if s.events[i].ID == id {
			heap.Remove(&s.events, i)
			return
		}
	}
}

// LastReleased reports the id of the most recently released event.
func (s *Sequencer) LastReleased() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReleased
}

// Depth reports the number of events waiting in the buffer.
func (s *Sequencer) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Len()
}

type eventHeap []*schema.Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].ID < h[j].ID }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*schema.Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
