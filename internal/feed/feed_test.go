package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
)

const feedDoc = `[
  {"EventID": 1, "EventType": "PriceEvent", "BondID": "B34678", "MarketPrice": 10000},
  {"EventID": 2, "EventType": "TradeEvent", "Desk": "NY", "Trader": "T6899554", "Book": "NY00", "BondID": "B34678", "BuySell": "buy", "Quantity": 533},
  {"EventID": 3, "EventType": "FXEvent", "ccy": "JPX", "rate": 135.5},
  {"EventID": 4, "EventType": "PriceEvent", "BondID": "B34678", "MarketPrice": 10090},
  {"EventID": 5, "EventType": "TradeEvent", "Desk": "NY", "Trader": "T6899554", "Book": "NY00", "BondID": "B34678", "BuySell": "sell", "Quantity": 33}
]`

func writeFeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.json")
	if err := os.WriteFile(path, []byte(feedDoc), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	return path
}

func TestLoadSplitsStreams(t *testing.T) {
	f, err := Load(writeFeed(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if f.Remaining() != 5 {
		t.Fatalf("remaining %d, want 5", f.Remaining())
	}

	ids := []int64{}
	for {
		evt, ok := f.NextMarketData()
		if !ok {
			break
		}
		ids = append(ids, evt.ID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 3 || ids[2] != 4 {
		t.Errorf("market stream ids %v, want [1 3 4]", ids)
	}

	trade, ok := f.NextTradeEvent()
	if !ok || trade.ID != 2 {
		t.Errorf("first trade %+v, want id 2", trade)
	}
	if f.Remaining() != 1 {
		t.Errorf("remaining %d, want 1", f.Remaining())
	}
}

func TestLoadRejectsMalformedFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	if err := os.WriteFile(path, []byte(`[{"EventID": 1, "EventType": "PriceEvent"}]`), 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for event without price")
	}
}

func TestFormDataRoundTripsTradeFields(t *testing.T) {
	f, err := Load(writeFeed(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	evt, ok := f.NextTradeEvent()
	if !ok {
		t.Fatal("no trade event")
	}
	form := FormData(evt)
	if form["EventID"] != "2" || form["BuySell"] != "buy" || form["Quantity"] != "533" {
		t.Errorf("unexpected form %v", form)
	}
}

func TestPublisherDrainsFeed(t *testing.T) {
	f, err := Load(writeFeed(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	var mu sync.Mutex
	var received []int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		id, err := strconv.ParseInt(r.PostForm.Get("EventID"), 10, 64)
		if err != nil {
			t.Errorf("bad EventID %q", r.PostForm.Get("EventID"))
		}
		mu.Lock()
		received = append(received, id)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	pub := NewPublisher(f, server.URL, 1000, 10)
	if err := pub.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(received) != 5 {
		t.Fatalf("received %d events, want 5", len(received))
	}
	if f.Remaining() != 0 {
		t.Errorf("remaining %d, want 0", f.Remaining())
	}
	// Every third submission is a trade event.
	if received[2] != 2 || received[4] != 5 {
		t.Errorf("unexpected interleave %v", received)
	}
}

func TestPublisherRetriesServerErrors(t *testing.T) {
	f, err := Load(writeFeed(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	pub := NewPublisher(f, server.URL, 1000, 10)
	if err := pub.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 6 {
		t.Errorf("calls %d, want 6 (one retry)", calls)
	}
}

func TestPublisherStopsOnRejection(t *testing.T) {
	f, err := Load(writeFeed(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	pub := NewPublisher(f, server.URL, 1000, 10)
	if err := pub.Run(context.Background()); err == nil {
		t.Fatal("expected error for rejected event")
	}
}
