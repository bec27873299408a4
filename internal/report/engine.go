// Package report reconstructs point-in-time ledger state from the event
// journals and renders the portfolio reports.
package report

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/internal/domain/ledger"
	"github.com/coachpo/backoffice/internal/schema"
)

// PositionKey addresses one position row in a working set.
type PositionKey struct {
	Desk   string
	Trader string
	Book   string
	Bond   string
}

// BondState is the bond view inside a working set. Price is nil until a price
// event at or before the working set's state id exists.
type BondState struct {
	Currency string
	Price    *decimal.Decimal
}

// WorkingSet is the reconstructed ledger state as of StateID. The engine keeps
// one working set cached and walks it forward or backward between requests.
type WorkingSet struct {
	StateID   int64
	FX        map[string]decimal.Decimal
	Bonds     map[string]BondState
	Desks     map[string]decimal.Decimal
	Positions map[PositionKey]int64
}

func (ws *WorkingSet) clone() *WorkingSet {
	out := &WorkingSet{
		StateID:   ws.StateID,
		FX:        make(map[string]decimal.Decimal, len(ws.FX)),
		Bonds:     make(map[string]BondState, len(ws.Bonds)),
		Desks:     make(map[string]decimal.Decimal, len(ws.Desks)),
		Positions: make(map[PositionKey]int64, len(ws.Positions)),
	}
	for k, v := range ws.FX {
		out.FX[k] = v
	}
	for k, v := range ws.Bonds {
		state := v
		if v.Price != nil {
			price := *v.Price
			state.Price = &price
		}
		out.Bonds[k] = state
	}
	for k, v := range ws.Desks {
		out.Desks[k] = v
	}
	for k, v := range ws.Positions {
		out.Positions[k] = v
	}
	return out
}

// Engine produces working sets at arbitrary event ids. One working set is
// cached between calls; requests walk it forward or backward through the trade
// journal instead of replaying from scratch.
type Engine struct {
	store ledger.Store

	mu    sync.Mutex
	cache *WorkingSet
}

// NewEngine constructs a report engine over the supplied store.
func NewEngine(store ledger.Store) *Engine {
	return &Engine{store: store}
}

// Snapshot returns the ledger state as of targetID. The returned working set
// is a copy and safe to read without further locking.
func (e *Engine) Snapshot(ctx context.Context, targetID int64) (*WorkingSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	last, err := e.store.LastReleased(ctx)
	if err != nil {
		return nil, err
	}
	// A cache ahead of the journal means the journal was rebuilt underneath
	// us, so the cache is meaningless.
	if e.cache != nil && e.cache.StateID > last {
		e.cache = nil
	}
	if e.cache == nil {
		ws, err := e.loadCurrent(ctx, last)
		if err != nil {
			return nil, err
		}
		e.cache = ws
	}

	if e.cache.StateID < targetID {
		if err := e.advance(ctx, targetID); err != nil {
			return nil, err
		}
	} else if e.cache.StateID > targetID {
		if err := e.backtrack(ctx, targetID); err != nil {
			return nil, err
		}
	}
	if err := e.resync(ctx, targetID); err != nil {
		return nil, err
	}
	// Targets beyond the journal tail pin the cache at the tail, so the next
	// request does not mistake it for a rebuilt journal.
	e.cache.StateID = targetID
	if e.cache.StateID > last {
		e.cache.StateID = last
	}
	return e.cache.clone(), nil
}

// loadCurrent builds a working set from the live reference tables, which
// reflect every released event, at state lastReleased.
func (e *Engine) loadCurrent(ctx context.Context, lastReleased int64) (*WorkingSet, error) {
	ws := &WorkingSet{
		StateID:   lastReleased,
		FX:        make(map[string]decimal.Decimal),
		Bonds:     make(map[string]BondState),
		Desks:     make(map[string]decimal.Decimal),
		Positions: make(map[PositionKey]int64),
	}
	fxs, err := e.store.ListFX(ctx)
	if err != nil {
		return nil, err
	}
	for _, fx := range fxs {
		ws.FX[fx.Currency] = fx.Rate
	}
	bonds, err := e.store.ListBonds(ctx)
	if err != nil {
		return nil, err
	}
	for _, bond := range bonds {
		ws.Bonds[bond.BondID] = BondState{Currency: bond.Currency, Price: bond.Price}
	}
	desks, err := e.store.ListDesks(ctx)
	if err != nil {
		return nil, err
	}
	for _, desk := range desks {
		ws.Desks[desk.DeskID] = desk.Cash
	}
	positions, err := e.store.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range positions {
		key := PositionKey{Desk: record.DeskID, Trader: record.TraderID, Book: record.BookID, Bond: record.BondID}
		ws.Positions[key] = record.Position
	}
	return ws, nil
}

// advance applies trade logs in (state, target] oldest first.
func (e *Engine) advance(ctx context.Context, targetID int64) error {
	rows, err := e.store.TradeLogsAscending(ctx, e.cache.StateID, targetID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		key := PositionKey{Desk: row.DeskID, Trader: row.TraderID, Book: row.BookID, Bond: row.BondID}
		switch row.Side {
		case schema.SideBuy:
			e.cache.Desks[row.DeskID] = e.cache.Desks[row.DeskID].Sub(row.Value)
			e.cache.Positions[key] += row.Quantity
		case schema.SideSell:
			e.cache.Desks[row.DeskID] = e.cache.Desks[row.DeskID].Add(row.Value)
			e.cache.Positions[key] -= row.Quantity
		}
	}
	return nil
}

// backtrack reverses trade logs in (target, state] newest first.
func (e *Engine) backtrack(ctx context.Context, targetID int64) error {
	rows, err := e.store.TradeLogsDescending(ctx, targetID, e.cache.StateID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		key := PositionKey{Desk: row.DeskID, Trader: row.TraderID, Book: row.BookID, Bond: row.BondID}
		switch row.Side {
		case schema.SideBuy:
			e.cache.Desks[row.DeskID] = e.cache.Desks[row.DeskID].Add(row.Value)
			e.cache.Positions[key] -= row.Quantity
		case schema.SideSell:
			e.cache.Desks[row.DeskID] = e.cache.Desks[row.DeskID].Sub(row.Value)
			e.cache.Positions[key] += row.Quantity
		}
	}
	return nil
}

// resync pins every rate and price to the latest journaled change at or before
// targetID, falling back to the seeded initial values.
func (e *Engine) resync(ctx context.Context, targetID int64) error {
	for currency := range e.cache.FX {
		rate, err := e.store.LatestFXRateAt(ctx, currency, targetID)
		if err != nil {
			return err
		}
		if rate != nil {
			e.cache.FX[currency] = *rate
			continue
		}
		fx, err := e.store.GetFX(ctx, currency)
		if err != nil {
			return err
		}
		e.cache.FX[currency] = fx.Initial
	}
	for bondID, state := range e.cache.Bonds {
		price, err := e.store.LatestPriceAt(ctx, bondID, targetID)
		if err != nil {
			return err
		}
		if price == nil {
			bond, err := e.store.GetBond(ctx, bondID)
			if err != nil {
				return err
			}
			price = bond.InitialPrice
		}
		state.Price = price
		e.cache.Bonds[bondID] = state
	}
	return nil
}
