// Package ledger defines the reference entities, append-only journal rows and
// storage contracts shared by the event processor and the report engine.
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/internal/schema"
)

// MoneyScale is the fractional precision of every persisted monetary column.
const MoneyScale = 5

// FX is one currency row. Rates are quoted foreign/USX so foreign_value / rate
// yields USX. Initial is the rate before any FX event touched the row.
type FX struct {
	Currency string
	Rate     decimal.Decimal
	Initial  decimal.Decimal
}

// Bond is one bond row. Price stays nil until the first price event; InitialPrice
// is set by that first event and never changes afterwards.
type Bond struct {
	BondID       string
	Currency     string
	Price        *decimal.Decimal
	InitialPrice *decimal.Decimal
}

// Desk is a trading location holding a cash balance in USX.
type Desk struct {
	DeskID string
	Cash   decimal.Decimal
}

// Trader belongs to exactly one desk and is created on first sighting.
type Trader struct {
	TraderID string
	DeskID   string
}

// Book is a trader-owned sub-ledger of positions, created on first sighting.
type Book struct {
	BookID   string
	TraderID string
}

// BondRecord carries the integer position for one (trader, book, bond) triple.
// DeskID is denormalised through the owning trader on reads.
type BondRecord struct {
	ID       uuid.UUID
	DeskID   string
	TraderID string
	BookID   string
	BondID   string
	Position int64
}

// TradeLog is the denormalised snapshot of one accepted trade.
type TradeLog struct {
	EventID  int64
	DeskID   string
	TraderID string
	BookID   string
	BondID   string
	Side     schema.Side
	Quantity int64
	Position int64
	Price    decimal.Decimal
	FXRate   decimal.Decimal
	Value    decimal.Decimal
	Cash     decimal.Decimal
}

// FXLog records one applied FX event for historical reconstruction.
type FXLog struct {
	EventID  int64
	Currency string
	Rate     decimal.Decimal
}

// PriceLog records one applied price event for historical reconstruction.
type PriceLog struct {
	EventID int64
	BondID  string
	Price   decimal.Decimal
}

// ExclusionReason names the business rule that rejected a trade.
type ExclusionReason string

const (
	// ReasonNoMarketPrice rejects a buy submitted before any price event for the bond.
	ReasonNoMarketPrice ExclusionReason = "NO_MARKET_PRICE"
	// ReasonCashOverlimit rejects a buy whose value exceeds the desk's cash.
	ReasonCashOverlimit ExclusionReason = "CASH_OVERLIMIT"
	// ReasonQuantityOverlimit rejects a sell with no record or insufficient position.
	ReasonQuantityOverlimit ExclusionReason = "QUANTITY_OVERLIMIT"
)

// Exclusion is one rejected trade with its full submission context.
// Price is the bond's price at rejection time and is nil for NO_MARKET_PRICE.
type Exclusion struct {
	EventID  int64
	DeskID   string
	TraderID string
	BookID   string
	BondID   string
	Side     schema.Side
	Quantity int64
	Price    *decimal.Decimal
	Reason   ExclusionReason
}

// Store is the persistence contract shared by the Postgres and in-memory backends.
// LastReleased is the maximum event id across all four journal tables.
type Store interface {
	LastReleased(ctx context.Context) (int64, error)

	GetFX(ctx context.Context, currency string) (FX, error)
	ListFX(ctx context.Context) ([]FX, error)
	GetBond(ctx context.Context, bondID string) (Bond, error)
	ListBonds(ctx context.Context) ([]Bond, error)
	GetDesk(ctx context.Context, deskID string) (Desk, error)
	ListDesks(ctx context.Context) ([]Desk, error)
	ListPositions(ctx context.Context) ([]BondRecord, error)

	TradeLogsAscending(ctx context.Context, afterID, throughID int64) ([]TradeLog, error)
	TradeLogsDescending(ctx context.Context, afterID, throughID int64) ([]TradeLog, error)
	LatestFXRateAt(ctx context.Context, currency string, throughID int64) (*decimal.Decimal, error)
	LatestPriceAt(ctx context.Context, bondID string, throughID int64) (*decimal.Decimal, error)
	ExclusionsThrough(ctx context.Context, throughID int64) ([]Exclusion, error)

	SeedFX(ctx context.Context, currency string, rate decimal.Decimal) error
	SeedBond(ctx context.Context, bondID, currency string) error
	SeedDesk(ctx context.Context, deskID string, cash decimal.Decimal) error

	WithTransaction(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Tx exposes the mutations available inside one atomic apply unit. Reference
// mutations and the matching journal append for a single event always travel
// through the same Tx.
type Tx interface {
	GetFX(ctx context.Context, currency string) (FX, error)
	GetBond(ctx context.Context, bondID string) (Bond, error)
	GetDesk(ctx context.Context, deskID string) (Desk, error)
	GetBondRecord(ctx context.Context, traderID, bookID, bondID string) (BondRecord, bool, error)

	SetFXRate(ctx context.Context, currency string, rate decimal.Decimal) error
	SetBondPrice(ctx context.Context, bondID string, price decimal.Decimal) error
	UpdateDeskCash(ctx context.Context, deskID string, cash decimal.Decimal) error
	EnsureTrader(ctx context.Context, traderID, deskID string) error
	EnsureBook(ctx context.Context, bookID, traderID string) error
	EnsureBondRecord(ctx context.Context, traderID, bookID, bondID string) (BondRecord, error)
	UpdatePosition(ctx context.Context, recordID uuid.UUID, position int64) error

	AppendTrade(ctx context.Context, row TradeLog) error
	AppendFX(ctx context.Context, row FXLog) error
	AppendPrice(ctx context.Context, row PriceLog) error
	AppendExclusion(ctx context.Context, row Exclusion) error
}

// RoundMoney normalises a monetary amount to the persisted storage scale.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}
