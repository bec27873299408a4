// Package schema defines the canonical event shapes accepted by the back office.
package schema

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/errs"
)

// Kind discriminates the event variants carried on the intake stream.
type Kind string

const (
	// KindFX marks a foreign-exchange rate update.
	KindFX Kind = "FXEvent"
	// KindPrice marks a bond market-price update.
	KindPrice Kind = "PriceEvent"
	// KindTrade marks a buy or sell request.
	KindTrade Kind = "TradeEvent"
)

// Side identifies the direction of a trade event.
type Side string

const (
	// SideBuy is a purchase of bonds against desk cash.
	SideBuy Side = "buy"
	// SideSell is a disposal of bonds held in a book.
	SideSell Side = "sell"
)

// FXPayload carries a rate update for one currency.
type FXPayload struct {
	Currency string
	Rate     decimal.Decimal
}

// PricePayload carries a market-price update for one bond.
type PricePayload struct {
	BondID      string
	MarketPrice decimal.Decimal
}

// TradePayload carries a buy/sell request against a desk, trader and book.
type TradePayload struct {
	Desk     string
	Trader   string
	Book     string
	BondID   string
	Side     Side
	Quantity int64
}

// Event is the tagged variant released through the sequencer. Exactly one of the
// payload pointers matching Kind is non-nil.
type Event struct {
	ID    int64
	Kind  Kind
	FX    *FXPayload
	Price *PricePayload
	Trade *TradePayload
}

// Validate checks that the event carries a positive id and the payload its kind requires.
func (e *Event) Validate() error {
	if e == nil {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("nil event"))
	}
	if e.ID <= 0 {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("EventID must be a positive integer"))
	}
	switch e.Kind {
	case KindFX:
		if e.FX == nil || strings.TrimSpace(e.FX.Currency) == "" {
			return errs.New("schema", errs.CodeInvalid, errs.WithEventID(e.ID), errs.WithMessage("FXEvent requires ccy"))
		}
		if e.FX.Rate.Sign() <= 0 {
			return errs.New("schema", errs.CodeInvalid, errs.WithEventID(e.ID), errs.WithMessage("FXEvent rate must be > 0"))
		}
	case KindPrice:
		if e.Price == nil || strings.TrimSpace(e.Price.BondID) == "" {
			return errs.New("schema", errs.CodeInvalid, errs.WithEventID(e.ID), errs.WithMessage("PriceEvent requires BondID"))
		}
	case KindTrade:
		t := e.Trade
		if t == nil {
			return errs.New("schema", errs.CodeInvalid, errs.WithEventID(e.ID), errs.WithMessage("TradeEvent requires payload"))
		}
		for _, field := range []struct {
			name, value string
		}{
			{"Desk", t.Desk},
			{"Trader", t.Trader},
			{"Book", t.Book},
			{"BondID", t.BondID},
		} {
			if strings.TrimSpace(field.value) == "" {
				return errs.New("schema", errs.CodeInvalid, errs.WithEventID(e.ID), errs.WithMessage("TradeEvent requires "+field.name))
			}
		}
		if t.Side != SideBuy && t.Side != SideSell {
			return errs.New("schema", errs.CodeInvalid, errs.WithEventID(e.ID), errs.WithMessage("BuySell must be buy or sell"))
		}
		if t.Quantity <= 0 {
			return errs.New("schema", errs.CodeInvalid, errs.WithEventID(e.ID), errs.WithMessage("Quantity must be a positive integer"))
		}
	default:
		return errs.New("schema", errs.CodeData, errs.WithEventID(e.ID), errs.WithMessage("unknown event type "+string(e.Kind)))
	}
	return nil
}
