package report

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/internal/domain/ledger"
)

// CashRow is one desk's live cash balance. Cash carries the full stored scale.
type CashRow struct {
	Desk string `json:"desk"`
	Cash string `json:"cash"`
}

// PositionRow is one live aggregate across the books of a desk.
type PositionRow struct {
	Desk     string `json:"desk"`
	Trader   string `json:"trader"`
	Book     string `json:"book"`
	Position int64  `json:"position"`
	NV       string `json:"NV"`
}

// BondRow is one live per-bond position.
type BondRow struct {
	Desk     string `json:"desk"`
	Trader   string `json:"trader"`
	Book     string `json:"book"`
	Bond     string `json:"bond"`
	Position int64  `json:"position"`
	NV       string `json:"NV"`
}

// CurrencyRow is one live per-desk-per-currency aggregate.
type CurrencyRow struct {
	Desk     string `json:"desk"`
	Currency string `json:"currency"`
	Position int64  `json:"position"`
	NV       string `json:"NV"`
}

// ExclusionRow is one rejected trade in the live exclusion dump.
type ExclusionRow struct {
	EventID  int64  `json:"event_id"`
	Desk     string `json:"desk"`
	Trader   string `json:"trader"`
	Book     string `json:"book"`
	BuySell  string `json:"buy_sell"`
	Quantity int64  `json:"quantity"`
	BondID   string `json:"bond_id"`
	Price    string `json:"price"`
	Reason   string `json:"exclusion_type"`
}

// Live serves the current-state portfolio dumps straight from the reference
// tables, bypassing the point-in-time cache.
type Live struct {
	store ledger.Store
}

// NewLive constructs a live portfolio view over the supplied store.
func NewLive(store ledger.Store) *Live {
	return &Live{store: store}
}

// Cash returns the live cash balances at full precision.
func (l *Live) Cash(ctx context.Context) ([]CashRow, error) {
	desks, err := l.store.ListDesks(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]CashRow, 0, len(desks))
	for _, desk := range desks {
		rows = append(rows, CashRow{Desk: desk.DeskID, Cash: desk.Cash.StringFixed(ledger.MoneyScale)})
	}
	return rows, nil
}

func (l *Live) workingSet(ctx context.Context) (*WorkingSet, []ledger.BondRecord, error) {
	ws := &WorkingSet{
		FX:        make(map[string]decimal.Decimal),
		Bonds:     make(map[string]BondState),
		Desks:     make(map[string]decimal.Decimal),
		Positions: make(map[PositionKey]int64),
	}
	fxs, err := l.store.ListFX(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, fx := range fxs {
		ws.FX[fx.Currency] = fx.Rate
	}
	bonds, err := l.store.ListBonds(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, bond := range bonds {
		ws.Bonds[bond.BondID] = BondState{Currency: bond.Currency, Price: bond.Price}
	}
	records, err := l.store.ListPositions(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, record := range records {
		key := PositionKey{Desk: record.DeskID, Trader: record.TraderID, Book: record.BookID, Bond: record.BondID}
		ws.Positions[key] = record.Position
	}
	return ws, records, nil
}

// Positions returns the live per-book aggregates.
func (l *Live) Positions(ctx context.Context) ([]PositionRow, error) {
	ws, _, err := l.workingSet(ctx)
	if err != nil {
		return nil, err
	}
	groups := aggregate(ws, func(k PositionKey) []string { return []string{k.Desk, k.Trader, k.Book} })
	rows := make([]PositionRow, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, PositionRow{
			Desk: g.key[0], Trader: g.key[1], Book: g.key[2],
			Position: g.position, NV: g.value.StringFixed(ledger.MoneyScale),
		})
	}
	return rows, nil
}

// Bonds returns the live per-bond positions.
func (l *Live) Bonds(ctx context.Context) ([]BondRow, error) {
	ws, records, err := l.workingSet(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]BondRow, 0, len(records))
	for _, record := range records {
		key := PositionKey{Desk: record.DeskID, Trader: record.TraderID, Book: record.BookID, Bond: record.BondID}
		rows = append(rows, BondRow{
			Desk: record.DeskID, Trader: record.TraderID, Book: record.BookID, Bond: record.BondID,
			Position: record.Position, NV: positionValue(ws, key, record.Position).StringFixed(ledger.MoneyScale),
		})
	}
	return rows, nil
}

// Currencies returns the live per-desk-per-currency aggregates.
func (l *Live) Currencies(ctx context.Context) ([]CurrencyRow, error) {
	ws, _, err := l.workingSet(ctx)
	if err != nil {
		return nil, err
	}
	groups := aggregate(ws, func(k PositionKey) []string { return []string{k.Desk, ws.Bonds[k.Bond].Currency} })
	rows := make([]CurrencyRow, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, CurrencyRow{
			Desk: g.key[0], Currency: g.key[1],
			Position: g.position, NV: g.value.StringFixed(ledger.MoneyScale),
		})
	}
	return rows, nil
}

// Exclusions returns every rejected trade recorded so far.
func (l *Live) Exclusions(ctx context.Context) ([]ExclusionRow, error) {
	last, err := l.store.LastReleased(ctx)
	if err != nil {
		return nil, err
	}
	exclusions, err := l.store.ExclusionsThrough(ctx, last)
	if err != nil {
		return nil, err
	}
	rows := make([]ExclusionRow, 0, len(exclusions))
	for _, excl := range exclusions {
		price := ""
		if excl.Price != nil {
			price = excl.Price.StringFixed(ledger.MoneyScale)
		}
		rows = append(rows, ExclusionRow{
			EventID: excl.EventID, Desk: excl.DeskID, Trader: excl.TraderID, Book: excl.BookID,
			BuySell: string(excl.Side), Quantity: excl.Quantity, BondID: excl.BondID,
			Price: price, Reason: string(excl.Reason),
		})
	}
	return rows, nil
}
