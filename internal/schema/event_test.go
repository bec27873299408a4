package schema

import (
	"net/url"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/errs"
)

func TestParseFormTrade(t *testing.T) {
	values := url.Values{}
	values.Set("EventID", "2")
	values.Set("EventType", "TradeEvent")
	values.Set("Desk", "NY")
	values.Set("Trader", "T6899554")
	values.Set("Book", "NY00")
	values.Set("BuySell", "buy")
	values.Set("Quantity", "533")
	values.Set("BondID", "B34678")

	evt, err := ParseForm(values)
	if err != nil {
		t.Fatalf("parse form: %v", err)
	}
	if evt.ID != 2 || evt.Kind != KindTrade {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.Trade.Side != SideBuy {
		t.Errorf("expected buy, got %q", evt.Trade.Side)
	}
	if evt.Trade.Quantity != 533 {
		t.Errorf("expected quantity 533, got %d", evt.Trade.Quantity)
	}
}

func TestParseFormFX(t *testing.T) {
	values := url.Values{}
	values.Set("EventID", "5")
	values.Set("EventType", "FXEvent")
	values.Set("ccy", "JPX")
	values.Set("rate", "135")

	evt, err := ParseForm(values)
	if err != nil {
		t.Fatalf("parse form: %v", err)
	}
	if evt.FX.Currency != "JPX" {
		t.Errorf("expected JPX, got %q", evt.FX.Currency)
	}
	if !evt.FX.Rate.Equal(decimal.NewFromInt(135)) {
		t.Errorf("expected rate 135, got %s", evt.FX.Rate)
	}
}

func TestParseFormRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		set  map[string]string
	}{
		{"missing id", map[string]string{"EventType": "FXEvent", "ccy": "JPX", "rate": "1"}},
		{"unknown type", map[string]string{"EventID": "1", "EventType": "NopeEvent"}},
		{"zero rate", map[string]string{"EventID": "1", "EventType": "FXEvent", "ccy": "JPX", "rate": "0"}},
		{"short side", map[string]string{
			"EventID": "1", "EventType": "TradeEvent", "Desk": "NY", "Trader": "T1",
			"Book": "NY00", "BuySell": "B", "Quantity": "10", "BondID": "B34678",
		}},
		{"negative quantity", map[string]string{
			"EventID": "1", "EventType": "TradeEvent", "Desk": "NY", "Trader": "T1",
			"Book": "NY00", "BuySell": "sell", "Quantity": "-3", "BondID": "B34678",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			values := url.Values{}
			for k, v := range tc.set {
				values.Set(k, v)
			}
			if _, err := ParseForm(values); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseFeed(t *testing.T) {
	feed := []byte(`[
		{"EventID": 1, "EventType": "PriceEvent", "BondID": "B34678", "MarketPrice": 10000},
		{"EventID": 2, "EventType": "TradeEvent", "Desk": "NY", "Trader": "T6899554",
		 "Book": "NY00", "BuySell": "buy", "Quantity": 533, "BondID": "B34678"},
		{"EventID": 5, "EventType": "FXEvent", "ccy": "JPX", "rate": 135}
	]`)

	events, err := ParseFeed(feed)
	if err != nil {
		t.Fatalf("parse feed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Kind != KindPrice || !events[0].Price.MarketPrice.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("unexpected price event %+v", events[0])
	}
	if events[1].Trade == nil || events[1].Trade.Side != SideBuy {
		t.Errorf("unexpected trade event %+v", events[1])
	}
	if events[2].FX == nil || events[2].FX.Currency != "JPX" {
		t.Errorf("unexpected fx event %+v", events[2])
	}
}

func TestParseFeedUnknownType(t *testing.T) {
	feed := []byte(`[{"EventID": 9, "EventType": "SettlementEvent"}]`)
	_, err := ParseFeed(feed)
	if err == nil {
		t.Fatal("expected error")
	}
	if errs.CodeOf(err) != errs.CodeData {
		t.Errorf("expected data_error, got %q", errs.CodeOf(err))
	}
}
