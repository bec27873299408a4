package processor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/errs"
	"github.com/coachpo/backoffice/internal/domain/ledger"
	"github.com/coachpo/backoffice/internal/infra/persistence/memory"
	"github.com/coachpo/backoffice/internal/schema"
)

func newFixture(t *testing.T) (*Processor, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	if err := store.SeedFX(ctx, "JPX", decimal.RequireFromString("136.14")); err != nil {
		t.Fatalf("seed fx: %v", err)
	}
	if err := store.SeedBond(ctx, "B34678", "JPX"); err != nil {
		t.Fatalf("seed bond: %v", err)
	}
	if err := store.SeedDesk(ctx, "NY", decimal.NewFromInt(1_000_000)); err != nil {
		t.Fatalf("seed desk: %v", err)
	}
	return New(store), store
}

func priceEvent(id int64, price string) *schema.Event {
	return &schema.Event{
		ID:    id,
		Kind:  schema.KindPrice,
		Price: &schema.PricePayload{BondID: "B34678", MarketPrice: decimal.RequireFromString(price)},
	}
}

func tradeEvent(id int64, side schema.Side, quantity int64) *schema.Event {
	return &schema.Event{
		ID:   id,
		Kind: schema.KindTrade,
		Trade: &schema.TradePayload{
			Desk: "NY", Trader: "T6899554", Book: "NY00",
			BondID: "B34678", Side: side, Quantity: quantity,
		},
	}
}

func mustApply(t *testing.T, p *Processor, evt *schema.Event) {
	t.Helper()
	if err := p.Apply(context.Background(), evt); err != nil {
		t.Fatalf("apply event %d: %v", evt.ID, err)
	}
}

func deskCash(t *testing.T, store *memory.Store) decimal.Decimal {
	t.Helper()
	desk, err := store.GetDesk(context.Background(), "NY")
	if err != nil {
		t.Fatalf("get desk: %v", err)
	}
	return desk.Cash
}

func TestBuyWithoutMarketPriceIsExcluded(t *testing.T) {
	p, store := newFixture(t)
	ctx := context.Background()

	mustApply(t, p, tradeEvent(1, schema.SideBuy, 100))

	exclusions, err := store.ExclusionsThrough(ctx, 1)
	if err != nil {
		t.Fatalf("exclusions: %v", err)
	}
	if len(exclusions) != 1 {
		t.Fatalf("expected 1 exclusion, got %d", len(exclusions))
	}
	excl := exclusions[0]
	if excl.Reason != ledger.ReasonNoMarketPrice {
		t.Errorf("reason %q, want NO_MARKET_PRICE", excl.Reason)
	}
	if excl.Price != nil {
		t.Errorf("expected nil price, got %s", excl.Price)
	}
	if !deskCash(t, store).Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("cash moved on an excluded trade: %s", deskCash(t, store))
	}
}

func TestBuyDebitsCashAndOpensPosition(t *testing.T) {
	p, store := newFixture(t)
	ctx := context.Background()

	mustApply(t, p, priceEvent(1, "10000"))
	mustApply(t, p, tradeEvent(2, schema.SideBuy, 533))

	// 533 x 10000 / 136.14 in USX.
	if got, want := deskCash(t, store), decimal.RequireFromString("960849.12590"); !got.Equal(want) {
		t.Errorf("cash %s, want %s", got, want)
	}
	positions, err := store.ListPositions(ctx)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Position != 533 {
		t.Fatalf("unexpected positions %+v", positions)
	}
	trades, err := store.TradeLogsAscending(ctx, 0, 2)
	if err != nil {
		t.Fatalf("trade logs: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade log, got %d", len(trades))
	}
	row := trades[0]
	if !row.Value.Equal(decimal.RequireFromString("39150.87410")) {
		t.Errorf("value %s, want 39150.87410", row.Value)
	}
	if !row.Cash.Equal(decimal.RequireFromString("960849.12590")) {
		t.Errorf("cash snapshot %s, want 960849.12590", row.Cash)
	}
	if row.Position != 533 || !row.FXRate.Equal(decimal.RequireFromString("136.14")) {
		t.Errorf("unexpected trade row %+v", row)
	}
}

func TestSellCreditsCashAtCurrentPrice(t *testing.T) {
	p, store := newFixture(t)

	mustApply(t, p, priceEvent(1, "10000"))
	mustApply(t, p, tradeEvent(2, schema.SideBuy, 533))
	mustApply(t, p, priceEvent(3, "10090"))
	mustApply(t, p, tradeEvent(4, schema.SideSell, 33))

	// 33 x 10090 / 136.14 credited back.
	if got, want := deskCash(t, store), decimal.RequireFromString("963294.91700"); !got.Equal(want) {
		t.Errorf("cash %s, want %s", got, want)
	}
	positions, err := store.ListPositions(context.Background())
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Position != 500 {
		t.Fatalf("unexpected positions %+v", positions)
	}
	trades, err := store.TradeLogsAscending(context.Background(), 2, 4)
	if err != nil {
		t.Fatalf("trade logs: %v", err)
	}
	if len(trades) != 1 || !trades[0].Value.Equal(decimal.RequireFromString("2445.79110")) {
		t.Fatalf("unexpected sell log %+v", trades)
	}
}

func TestBuyBeyondCashIsExcluded(t *testing.T) {
	p, store := newFixture(t)
	ctx := context.Background()

	mustApply(t, p, priceEvent(1, "10000"))
	mustApply(t, p, tradeEvent(2, schema.SideBuy, 50_000))

	exclusions, err := store.ExclusionsThrough(ctx, 2)
	if err != nil {
		t.Fatalf("exclusions: %v", err)
	}
	if len(exclusions) != 1 || exclusions[0].Reason != ledger.ReasonCashOverlimit {
		t.Fatalf("unexpected exclusions %+v", exclusions)
	}
	if exclusions[0].Price == nil || !exclusions[0].Price.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("exclusion price %v, want 10000", exclusions[0].Price)
	}
	if !deskCash(t, store).Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("cash moved on an excluded trade: %s", deskCash(t, store))
	}
}

func TestSellBeyondPositionIsExcluded(t *testing.T) {
	p, store := newFixture(t)
	ctx := context.Background()

	mustApply(t, p, priceEvent(1, "10000"))
	mustApply(t, p, tradeEvent(2, schema.SideBuy, 100))
	mustApply(t, p, tradeEvent(3, schema.SideSell, 150))

	exclusions, err := store.ExclusionsThrough(ctx, 3)
	if err != nil {
		t.Fatalf("exclusions: %v", err)
	}
	if len(exclusions) != 1 || exclusions[0].Reason != ledger.ReasonQuantityOverlimit {
		t.Fatalf("unexpected exclusions %+v", exclusions)
	}
	positions, err := store.ListPositions(ctx)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Position != 100 {
		t.Fatalf("position changed on excluded sell: %+v", positions)
	}
}

func TestSellWithNoRecordIsExcludedBeforePricing(t *testing.T) {
	p, store := newFixture(t)

	// No price event has arrived, so any pricing attempt would fail. The
	// quantity check fires first and the sell is excluded cleanly.
	mustApply(t, p, tradeEvent(1, schema.SideSell, 10))

	exclusions, err := store.ExclusionsThrough(context.Background(), 1)
	if err != nil {
		t.Fatalf("exclusions: %v", err)
	}
	if len(exclusions) != 1 || exclusions[0].Reason != ledger.ReasonQuantityOverlimit {
		t.Fatalf("unexpected exclusions %+v", exclusions)
	}
	if exclusions[0].Price != nil {
		t.Errorf("expected nil price, got %s", exclusions[0].Price)
	}
}

func TestUnknownBondIsFatalDataError(t *testing.T) {
	p, store := newFixture(t)

	evt := tradeEvent(1, schema.SideBuy, 10)
	evt.Trade.BondID = "B99999"
	err := p.Apply(context.Background(), evt)
	if errs.CodeOf(err) != errs.CodeData {
		t.Fatalf("expected data_error, got %v", err)
	}
	last, lerr := store.LastReleased(context.Background())
	if lerr != nil {
		t.Fatalf("last released: %v", lerr)
	}
	if last != 0 {
		t.Errorf("journal written on fatal data error: last=%d", last)
	}
}

func TestFXEventUpdatesRateAndJournals(t *testing.T) {
	p, store := newFixture(t)
	ctx := context.Background()

	evt := &schema.Event{
		ID:   1,
		Kind: schema.KindFX,
		FX:   &schema.FXPayload{Currency: "JPX", Rate: decimal.NewFromInt(135)},
	}
	mustApply(t, p, evt)

	fx, err := store.GetFX(ctx, "JPX")
	if err != nil {
		t.Fatalf("get fx: %v", err)
	}
	if !fx.Rate.Equal(decimal.NewFromInt(135)) {
		t.Errorf("rate %s, want 135", fx.Rate)
	}
	if !fx.Initial.Equal(decimal.RequireFromString("136.14")) {
		t.Errorf("initial rate %s, want 136.14", fx.Initial)
	}
	rate, err := store.LatestFXRateAt(ctx, "JPX", 1)
	if err != nil {
		t.Fatalf("latest fx: %v", err)
	}
	if rate == nil || !rate.Equal(decimal.NewFromInt(135)) {
		t.Errorf("journaled rate %v, want 135", rate)
	}
}

func TestPriceEventPinsInitialPrice(t *testing.T) {
	p, store := newFixture(t)

	mustApply(t, p, priceEvent(1, "10000"))
	mustApply(t, p, priceEvent(2, "10090"))

	bond, err := store.GetBond(context.Background(), "B34678")
	if err != nil {
		t.Fatalf("get bond: %v", err)
	}
	if bond.Price == nil || !bond.Price.Equal(decimal.NewFromInt(10090)) {
		t.Errorf("price %v, want 10090", bond.Price)
	}
	if bond.InitialPrice == nil || !bond.InitialPrice.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("initial price %v, want 10000", bond.InitialPrice)
	}
}
