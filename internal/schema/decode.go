package schema

import (
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/errs"
)

// ParseForm decodes one event from a form-encoded intake submission.
func ParseForm(values url.Values) (*Event, error) {
	id, err := formInt(values, "EventID")
	if err != nil {
		return nil, err
	}
	kind := Kind(strings.TrimSpace(values.Get("EventType")))

	evt := &Event{ID: id, Kind: kind}
	switch kind {
	case KindFX:
		rate, err := formDecimal(values, "rate")
		if err != nil {
			return nil, err
		}
		evt.FX = &FXPayload{Currency: strings.TrimSpace(values.Get("ccy")), Rate: rate}
	case KindPrice:
		price, err := formDecimal(values, "MarketPrice")
		if err != nil {
			return nil, err
		}
		evt.Price = &PricePayload{BondID: strings.TrimSpace(values.Get("BondID")), MarketPrice: price}
	case KindTrade:
		qty, err := formInt(values, "Quantity")
		if err != nil {
			return nil, err
		}
		evt.Trade = &TradePayload{
			Desk:     strings.TrimSpace(values.Get("Desk")),
			Trader:   strings.TrimSpace(values.Get("Trader")),
			Book:     strings.TrimSpace(values.Get("Book")),
			BondID:   strings.TrimSpace(values.Get("BondID")),
			Side:     Side(strings.ToLower(strings.TrimSpace(values.Get("BuySell")))),
			Quantity: qty,
		}
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return evt, nil
}

// wireEvent mirrors the flat JSON objects published on the event feed.
type wireEvent struct {
	EventID     int64           `json:"EventID"`
	EventType   string          `json:"EventType"`
	Currency    string          `json:"ccy"`
	Rate        json.RawMessage `json:"rate"`
	BondID      string          `json:"BondID"`
	MarketPrice json.RawMessage `json:"MarketPrice"`
	Desk        string          `json:"Desk"`
	Trader      string          `json:"Trader"`
	Book        string          `json:"Book"`
	BuySell     string          `json:"BuySell"`
	Quantity    int64           `json:"Quantity"`
}

// ParseFeed decodes a JSON array of publisher events into validated Events.
func ParseFeed(data []byte) ([]*Event, error) {
	var wires []wireEvent
	if err := json.Unmarshal(data, &wires); err != nil {
		return nil, errs.New("schema", errs.CodeInvalid, errs.WithMessage("decode event feed"), errs.WithCause(err))
	}
	events := make([]*Event, 0, len(wires))
	for _, w := range wires {
		evt, err := w.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

func (w wireEvent) toEvent() (*Event, error) {
	evt := &Event{ID: w.EventID, Kind: Kind(strings.TrimSpace(w.EventType))}
	switch evt.Kind {
	case KindFX:
		rate, err := rawDecimal(w.Rate, "rate", w.EventID)
		if err != nil {
			return nil, err
		}
		evt.FX = &FXPayload{Currency: strings.TrimSpace(w.Currency), Rate: rate}
	case KindPrice:
		price, err := rawDecimal(w.MarketPrice, "MarketPrice", w.EventID)
		if err != nil {
			return nil, err
		}
		evt.Price = &PricePayload{BondID: strings.TrimSpace(w.BondID), MarketPrice: price}
	case KindTrade:
		evt.Trade = &TradePayload{
			Desk:     strings.TrimSpace(w.Desk),
			Trader:   strings.TrimSpace(w.Trader),
			Book:     strings.TrimSpace(w.Book),
			BondID:   strings.TrimSpace(w.BondID),
			Side:     Side(strings.ToLower(strings.TrimSpace(w.BuySell))),
			Quantity: w.Quantity,
		}
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return evt, nil
}

func formInt(values url.Values, key string) (int64, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, errs.New("schema", errs.CodeInvalid, errs.WithMessage(key+" required"))
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errs.New("schema", errs.CodeInvalid, errs.WithMessage("invalid "+key), errs.WithCause(err))
	}
	return n, nil
}

func formDecimal(values url.Values, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return decimal.Decimal{}, errs.New("schema", errs.CodeInvalid, errs.WithMessage(key+" required"))
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, errs.New("schema", errs.CodeInvalid, errs.WithMessage("invalid "+key), errs.WithCause(err))
	}
	return d, nil
}

func rawDecimal(raw json.RawMessage, key string, eventID int64) (decimal.Decimal, error) {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return decimal.Decimal{}, errs.New("schema", errs.CodeInvalid, errs.WithEventID(eventID), errs.WithMessage(key+" required"))
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, errs.New("schema", errs.CodeInvalid, errs.WithEventID(eventID), errs.WithMessage("invalid "+key), errs.WithCause(err))
	}
	return d, nil
}
