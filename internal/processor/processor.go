// Package processor applies released events to the ledger, one transaction per
// event.
package processor

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/errs"
	"github.com/coachpo/backoffice/internal/domain/ledger"
	"github.com/coachpo/backoffice/internal/observability"
	"github.com/coachpo/backoffice/internal/schema"
)

// Processor validates and applies events against the ledger store.
type Processor struct {
	store ledger.Store
}

// New constructs a processor bound to the supplied store.
func New(store ledger.Store) *Processor {
	return &Processor{store: store}
}

// Apply runs the event through validation and persists its effects atomically.
// A rejected trade is still a successful apply: the exclusion row is its only
// effect. Unknown reference data surfaces as a data_error and nothing is
// written.
func (p *Processor) Apply(ctx context.Context, evt *schema.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	var applyErr error
	switch evt.Kind {
	case schema.KindFX:
		applyErr = p.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
			return p.applyFX(ctx, tx, evt)
		})
	case schema.KindPrice:
		applyErr = p.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
			return p.applyPrice(ctx, tx, evt)
		})
	case schema.KindTrade:
		applyErr = p.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
			return p.applyTrade(ctx, tx, evt)
		})
	default:
		return errs.New("processor", errs.CodeData, errs.WithEventID(evt.ID),
			errs.WithMessage("unknown event type "+string(evt.Kind)))
	}
	if applyErr != nil {
		return applyErr
	}
	observability.RecordEventReleased(ctx, string(evt.Kind))
	return nil
}

func (p *Processor) applyFX(ctx context.Context, tx ledger.Tx, evt *schema.Event) error {
	payload := evt.FX
	if err := tx.SetFXRate(ctx, payload.Currency, payload.Rate); err != nil {
		return asDataError(err, evt.ID)
	}
	if err := tx.AppendFX(ctx, ledger.FXLog{
		EventID:  evt.ID,
		Currency: payload.Currency,
		Rate:     payload.Rate,
	}); err != nil {
		return err
	}
	observability.Log().Info("fx rate updated",
		observability.Field{Key: "event_id", Value: evt.ID},
		observability.Field{Key: "currency", Value: payload.Currency},
		observability.Field{Key: "rate", Value: payload.Rate.String()})
	return nil
}

func (p *Processor) applyPrice(ctx context.Context, tx ledger.Tx, evt *schema.Event) error {
	payload := evt.Price
	if err := tx.SetBondPrice(ctx, payload.BondID, payload.MarketPrice); err != nil {
		return asDataError(err, evt.ID)
	}
	if err := tx.AppendPrice(ctx, ledger.PriceLog{
		EventID: evt.ID,
		BondID:  payload.BondID,
		Price:   payload.MarketPrice,
	}); err != nil {
		return err
	}
	observability.Log().Info("bond price updated",
		observability.Field{Key: "event_id", Value: evt.ID},
		observability.Field{Key: "bond_id", Value: payload.BondID},
		observability.Field{Key: "price", Value: payload.MarketPrice.String()})
	return nil
}

func (p *Processor) applyTrade(ctx context.Context, tx ledger.Tx, evt *schema.Event) error {
	payload := evt.Trade

	bond, err := tx.GetBond(ctx, payload.BondID)
	if err != nil {
		return asDataError(err, evt.ID)
	}
	desk, err := tx.GetDesk(ctx, payload.Desk)
	if err != nil {
		return asDataError(err, evt.ID)
	}
	if err := tx.EnsureTrader(ctx, payload.Trader, payload.Desk); err != nil {
		return asDataError(err, evt.ID)
	}
	if err := tx.EnsureBook(ctx, payload.Book, payload.Trader); err != nil {
		return asDataError(err, evt.ID)
	}

	switch payload.Side {
	case schema.SideBuy:
		return p.applyBuy(ctx, tx, evt, bond, desk)
	case schema.SideSell:
		return p.applySell(ctx, tx, evt, bond, desk)
	}
	return errs.New("processor", errs.CodeInvalid, errs.WithEventID(evt.ID),
		errs.WithMessage("BuySell must be buy or sell"))
}

func (p *Processor) applyBuy(ctx context.Context, tx ledger.Tx, evt *schema.Event, bond ledger.Bond, desk ledger.Desk) error {
	payload := evt.Trade

	if bond.Price == nil {
		return p.exclude(ctx, tx, evt, nil, ledger.ReasonNoMarketPrice)
	}
	value, fx, err := tradeValue(ctx, tx, evt.ID, bond, payload.Quantity)
	if err != nil {
		return err
	}
	if value.GreaterThan(desk.Cash) {
		return p.exclude(ctx, tx, evt, bond.Price, ledger.ReasonCashOverlimit)
	}

	record, err := tx.EnsureBondRecord(ctx, payload.Trader, payload.Book, payload.BondID)
	if err != nil {
		return err
	}
	newPosition := record.Position + payload.Quantity
	if err := tx.UpdatePosition(ctx, record.ID, newPosition); err != nil {
		return err
	}
	newCash := desk.Cash.Sub(value)
	if err := tx.UpdateDeskCash(ctx, payload.Desk, newCash); err != nil {
		return err
	}
	return p.journalTrade(ctx, tx, evt, bond, fx, newPosition, value, newCash)
}

func (p *Processor) applySell(ctx context.Context, tx ledger.Tx, evt *schema.Event, bond ledger.Bond, desk ledger.Desk) error {
	payload := evt.Trade

	// Quantity is checked before any pricing: a desk cannot sell what it never
	// bought, and a position above zero implies the bond has a price.
	record, ok, err := tx.GetBondRecord(ctx, payload.Trader, payload.Book, payload.BondID)
	if err != nil {
		return err
	}
	if !ok || record.Position < payload.Quantity {
		return p.exclude(ctx, tx, evt, bond.Price, ledger.ReasonQuantityOverlimit)
	}
	value, fx, err := tradeValue(ctx, tx, evt.ID, bond, payload.Quantity)
	if err != nil {
		return err
	}

	newPosition := record.Position - payload.Quantity
	if err := tx.UpdatePosition(ctx, record.ID, newPosition); err != nil {
		return err
	}
	newCash := desk.Cash.Add(value)
	if err := tx.UpdateDeskCash(ctx, payload.Desk, newCash); err != nil {
		return err
	}
	return p.journalTrade(ctx, tx, evt, bond, fx, newPosition, value, newCash)
}

func (p *Processor) journalTrade(ctx context.Context, tx ledger.Tx, evt *schema.Event, bond ledger.Bond, fx ledger.FX, position int64, value, cash decimal.Decimal) error {
	payload := evt.Trade
	if err := tx.AppendTrade(ctx, ledger.TradeLog{
		EventID:  evt.ID,
		DeskID:   payload.Desk,
		TraderID: payload.Trader,
		BookID:   payload.Book,
		BondID:   payload.BondID,
		Side:     payload.Side,
		Quantity: payload.Quantity,
		Position: position,
		Price:    *bond.Price,
		FXRate:   fx.Rate,
		Value:    ledger.RoundMoney(value),
		Cash:     ledger.RoundMoney(cash),
	}); err != nil {
		return err
	}
	observability.Log().Info("trade applied",
		observability.Field{Key: "event_id", Value: evt.ID},
		observability.Field{Key: "desk", Value: payload.Desk},
		observability.Field{Key: "buy_sell", Value: string(payload.Side)},
		observability.Field{Key: "quantity", Value: payload.Quantity},
		observability.Field{Key: "value", Value: ledger.RoundMoney(value).String()})
	return nil
}

func (p *Processor) exclude(ctx context.Context, tx ledger.Tx, evt *schema.Event, price *decimal.Decimal, reason ledger.ExclusionReason) error {
	payload := evt.Trade
	if err := tx.AppendExclusion(ctx, ledger.Exclusion{
		EventID:  evt.ID,
		DeskID:   payload.Desk,
		TraderID: payload.Trader,
		BookID:   payload.Book,
		BondID:   payload.BondID,
		Side:     payload.Side,
		Quantity: payload.Quantity,
		Price:    price,
		Reason:   reason,
	}); err != nil {
		return err
	}
	observability.RecordEventExcluded(ctx, string(reason))
	observability.Log().Info("trade excluded",
		observability.Field{Key: "event_id", Value: evt.ID},
		observability.Field{Key: "desk", Value: payload.Desk},
		observability.Field{Key: "reason", Value: string(reason)})
	return nil
}

// tradeValue converts quantity x price in the bond's currency into USX.
func tradeValue(ctx context.Context, tx ledger.Tx, eventID int64, bond ledger.Bond, quantity int64) (decimal.Decimal, ledger.FX, error) {
	fx, err := tx.GetFX(ctx, bond.Currency)
	if err != nil {
		return decimal.Decimal{}, ledger.FX{}, asDataError(err, eventID)
	}
	qty := decimal.NewFromInt(quantity)
	return bond.Price.Mul(qty).Div(fx.Rate), fx, nil
}

// asDataError lifts missing reference data onto the fatal data_error code so
// the caller can distinguish broken feeds from storage failures.
func asDataError(err error, eventID int64) error {
	if errs.CodeOf(err) == errs.CodeNotFound || errs.CodeOf(err) == errs.CodeData {
		return errs.New("processor", errs.CodeData, errs.WithEventID(eventID), errs.WithCause(err))
	}
	return err
}
