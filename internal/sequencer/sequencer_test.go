package sequencer

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/internal/schema"
)

func fxEvent(id int64) *schema.Event {
	return &schema.Event{
		ID:   id,
		Kind: schema.KindFX,
		FX:   &schema.FXPayload{Currency: "JPX", Rate: decimal.NewFromInt(135)},
	}
}

func drain(s *Sequencer) []int64 {
	var out []int64
	for {
		evt := s.Ready()
		if evt == nil {
			return out
		}
		out = append(out, evt.ID)
		s.Advance(evt.ID)
	}
}

func TestHoldsGapThenReleasesContiguousPrefix(t *testing.T) {
	s := New(0)

	for _, id := range []int64{2, 3, 5} {
		if !s.Admit(fxEvent(id)) {
			t.Fatalf("event %d not admitted", id)
		}
	}
	if got := drain(s); len(got) != 0 {
		t.Fatalf("released %v before gap closed", got)
	}

	if !s.Admit(fxEvent(1)) {
		t.Fatal("event 1 not admitted")
	}
	got := drain(s)
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("released %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("released %v, want %v", got, want)
		}
	}
	if s.Depth() != 1 {
		t.Errorf("expected event 5 to stay buffered, depth=%d", s.Depth())
	}

	if !s.Admit(fxEvent(4)) {
		t.Fatal("event 4 not admitted")
	}
	got = drain(s)
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Fatalf("released %v, want [4 5]", got)
	}
	if s.LastReleased() != 5 {
		t.Errorf("last released %d, want 5", s.LastReleased())
	}
}

func TestDropsDuplicates(t *testing.T) {
	s := New(0)

	if !s.Admit(fxEvent(1)) {
		t.Fatal("event 1 not admitted")
	}
	drain(s)

	// At or below the cursor.
	if s.Admit(fxEvent(1)) {
		t.Error("released event re-admitted")
	}
	// Duplicate inside the buffer.
	if !s.Admit(fxEvent(3)) {
		t.Fatal("event 3 not admitted")
	}
	if s.Admit(fxEvent(3)) {
		t.Error("buffered event re-admitted")
	}
	if s.Depth() != 1 {
		t.Errorf("depth %d, want 1", s.Depth())
	}
}

func TestResumeFromJournalCursor(t *testing.T) {
	s := New(6)

	if s.Admit(fxEvent(4)) {
		t.Error("stale event admitted after restart")
	}
	if !s.Admit(fxEvent(7)) {
		t.Fatal("event 7 not admitted")
	}
	got := drain(s)
	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("released %v, want [7]", got)
	}
}

func TestAdvanceRequiresReadyHead(t *testing.T) {
	s := New(0)
	s.Admit(fxEvent(2))

	// Advancing an id that is not the contiguous head is a no-op.
	s.Advance(2)
	if s.LastReleased() != 0 {
		t.Fatalf("cursor moved to %d without release", s.LastReleased())
	}

	s.Admit(fxEvent(1))
	evt := s.Ready()
	if evt == nil || evt.ID != 1 {
		t.Fatalf("ready = %+v, want event 1", evt)
	}
	// Ready without Advance must not consume the head.
	again := s.Ready()
	if again == nil || again.ID != 1 {
		t.Fatalf("event 1 not retained without advance")
	}
}

func TestDropReopensSlotForRedelivery(t *testing.T) {
	s := New(0)

	if !s.Admit(fxEvent(1)) {
		t.Fatal("event 1 not admitted")
	}
	s.Drop(1)
	if s.Depth() != 0 {
		t.Fatalf("depth %d after drop, want 0", s.Depth())
	}
	if s.LastReleased() != 0 {
		t.Fatalf("cursor moved to %d on drop", s.LastReleased())
	}
	// The same id must be admissible again.
	if !s.Admit(fxEvent(1)) {
		t.Fatal("event 1 not re-admitted after drop")
	}
	if got := drain(s); len(got) != 1 || got[0] != 1 {
		t.Fatalf("released %v, want [1]", got)
	}
}

func TestDropRemovesMidBufferEvent(t *testing.T) {
	s := New(0)
	for _, id := range []int64{1, 2, 3} {
		s.Admit(fxEvent(id))
	}

	s.Drop(2)
	got := drain(s)
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("released %v, want [1] with a gap at 2", got)
	}
	if !s.Admit(fxEvent(2)) {
		t.Fatal("event 2 not re-admitted after drop")
	}
	got = drain(s)
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("released %v, want [2 3]", got)
	}
}
