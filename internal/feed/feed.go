// Package feed replays a recorded event file into the intake endpoint.
package feed

import (
	"fmt"
	"os"
	"strconv"

	"github.com/coachpo/backoffice/internal/schema"
)

// Feed holds the recorded events split into the two publisher streams:
// market data (FX and price events) and trade events. The split mirrors the
// upstream capture, where market data arrives more frequently than trades.
type Feed struct {
	market []*schema.Event
	trades []*schema.Event
}

// Load reads a JSON event file and partitions it into the two streams.
func Load(path string) (*Feed, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, fmt.Errorf("feed: open %s: %w", path, err)
	}
	events, err := schema.ParseFeed(data)
	if err != nil {
		return nil, err
	}
	f := &Feed{}
	for _, evt := range events {
		switch evt.Kind {
		case schema.KindFX, schema.KindPrice:
			f.market = append(f.market, evt)
		case schema.KindTrade:
			f.trades = append(f.trades, evt)
		}
	}
	return f, nil
}

// NextMarketData pops the next FX or price event, if any remain.
func (f *Feed) NextMarketData() (*schema.Event, bool) {
	if len(f.market) == 0 {
		return nil, false
	}
	evt := f.market[0]
	f.market = f.market[1:]
	return evt, true
}

// NextTradeEvent pops the next trade event, if any remain.
func (f *Feed) NextTradeEvent() (*schema.Event, bool) {
	if len(f.trades) == 0 {
		return nil, false
	}
	evt := f.trades[0]
	f.trades = f.trades[1:]
	return evt, true
}

// Remaining reports how many events are still queued across both streams.
func (f *Feed) Remaining() int {
	return len(f.market) + len(f.trades)
}

// FormData flattens one event into the form fields the intake endpoint expects.
func FormData(evt *schema.Event) map[string]string {
	fields := map[string]string{
		"EventID":   strconv.FormatInt(evt.ID, 10),
		"EventType": string(evt.Kind),
	}
	switch evt.Kind {
	case schema.KindFX:
		fields["ccy"] = evt.FX.Currency
		fields["rate"] = evt.FX.Rate.String()
	case schema.KindPrice:
		fields["BondID"] = evt.Price.BondID
		fields["MarketPrice"] = evt.Price.MarketPrice.String()
	case schema.KindTrade:
		fields["Desk"] = evt.Trade.Desk
		fields["Trader"] = evt.Trade.Trader
		fields["Book"] = evt.Trade.Book
		fields["BondID"] = evt.Trade.BondID
		fields["BuySell"] = string(evt.Trade.Side)
		fields["Quantity"] = strconv.FormatInt(evt.Trade.Quantity, 10)
	}
	return fields
}
