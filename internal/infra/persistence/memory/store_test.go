package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/errs"
	"github.com/coachpo/backoffice/internal/domain/ledger"
	"github.com/coachpo/backoffice/internal/schema"
)

func seedStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore()
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
	return store
}

func TestSeedIsGetOrCreate(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	// Re-seeding with different values must not overwrite existing rows.
	if err := store.SeedFX(ctx, "JPX", decimal.NewFromInt(1)); err != nil {
		t.Fatalf("re-seed fx: %v", err)
	}
	fx, err := store.GetFX(ctx, "JPX")
	if err != nil {
		t.Fatalf("get fx: %v", err)
	}
	if !fx.Rate.Equal(decimal.RequireFromString("136.14")) {
		t.Errorf("rate overwritten: %s", fx.Rate)
	}

	if err := store.SeedDesk(ctx, "NY", decimal.NewFromInt(5)); err != nil {
		t.Fatalf("re-seed desk: %v", err)
	}
	desk, err := store.GetDesk(ctx, "NY")
	if err != nil {
		t.Fatalf("get desk: %v", err)
	}
	if !desk.Cash.Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("cash overwritten: %s", desk.Cash)
	}
}

func TestSeedBondUnknownCurrency(t *testing.T) {
	store := NewStore()
	err := store.SeedBond(context.Background(), "B1", "EUX")
	if errs.CodeOf(err) != errs.CodeData {
		t.Fatalf("expected data_error, got %v", err)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	sentinel := errors.New("boom")

	err := store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.UpdateDeskCash(ctx, "NY", decimal.NewFromInt(1)); err != nil {
			return err
		}
		if err := tx.AppendFX(ctx, ledger.FXLog{EventID: 7, Currency: "JPX", Rate: decimal.NewFromInt(140)}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}

	desk, err := store.GetDesk(ctx, "NY")
	if err != nil {
		t.Fatalf("get desk: %v", err)
	}
	if !desk.Cash.Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("cash leaked from aborted transaction: %s", desk.Cash)
	}
	last, err := store.LastReleased(ctx)
	if err != nil {
		t.Fatalf("last released: %v", err)
	}
	if last != 0 {
		t.Errorf("journal leaked from aborted transaction: last=%d", last)
	}
}

func TestLastReleasedSpansJournals(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	err := store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.AppendPrice(ctx, ledger.PriceLog{EventID: 1, BondID: "B34678", Price: decimal.NewFromInt(10000)}); err != nil {
			return err
		}
		return tx.AppendExclusion(ctx, ledger.Exclusion{
			EventID: 4, DeskID: "NY", TraderID: "T1", BookID: "NY00", BondID: "B34678",
			Side: schema.SideSell, Quantity: 10, Reason: ledger.ReasonQuantityOverlimit,
		})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	last, err := store.LastReleased(ctx)
	if err != nil {
		t.Fatalf("last released: %v", err)
	}
	if last != 4 {
		t.Errorf("expected last released 4, got %d", last)
	}
}

func TestEnsureTraderConflict(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	err := store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.EnsureTrader(ctx, "T1", "NY"); err != nil {
			return err
		}
		return tx.EnsureTrader(ctx, "T1", "LDN")
	})
	if errs.CodeOf(err) != errs.CodeData {
		t.Fatalf("expected data_error, got %v", err)
	}
}

func TestBondRecordLifecycle(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	err := store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.EnsureTrader(ctx, "T1", "NY"); err != nil {
			return err
		}
		if err := tx.EnsureBook(ctx, "NY00", "T1"); err != nil {
			return err
		}
		record, err := tx.EnsureBondRecord(ctx, "T1", "NY00", "B34678")
		if err != nil {
			return err
		}
		if record.Position != 0 || record.DeskID != "NY" {
			t.Errorf("unexpected new record %+v", record)
		}
		return tx.UpdatePosition(ctx, record.ID, 533)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	positions, err := store.ListPositions(ctx)
	if err != nil {
		t.Fatalf("list positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Position != 533 {
		t.Fatalf("unexpected positions %+v", positions)
	}
}

func TestLatestRatesAndPricesAt(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	err := store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.AppendFX(ctx, ledger.FXLog{EventID: 5, Currency: "JPX", Rate: decimal.NewFromInt(135)}); err != nil {
			return err
		}
		if err := tx.AppendFX(ctx, ledger.FXLog{EventID: 9, Currency: "JPX", Rate: decimal.NewFromInt(140)}); err != nil {
			return err
		}
		return tx.AppendPrice(ctx, ledger.PriceLog{EventID: 1, BondID: "B34678", Price: decimal.NewFromInt(10000)})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	rate, err := store.LatestFXRateAt(ctx, "JPX", 8)
	if err != nil {
		t.Fatalf("latest fx: %v", err)
	}
	if rate == nil || !rate.Equal(decimal.NewFromInt(135)) {
		t.Errorf("expected 135 at event 8, got %v", rate)
	}

	rate, err = store.LatestFXRateAt(ctx, "JPX", 4)
	if err != nil {
		t.Fatalf("latest fx: %v", err)
	}
	if rate != nil {
		t.Errorf("expected no rate before event 5, got %s", rate)
	}

	price, err := store.LatestPriceAt(ctx, "B34678", 1)
	if err != nil {
		t.Fatalf("latest price: %v", err)
	}
	if price == nil || !price.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected 10000 at event 1, got %v", price)
	}
}

func TestDuplicateJournalAppendConflicts(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	err := store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.AppendFX(ctx, ledger.FXLog{EventID: 5, Currency: "JPX", Rate: decimal.NewFromInt(135)})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	err = store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.AppendFX(ctx, ledger.FXLog{EventID: 5, Currency: "JPX", Rate: decimal.NewFromInt(136)})
	})
	if errs.CodeOf(err) != errs.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSetBondPricePinsInitial(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	for _, price := range []int64{10000, 10090} {
		err := store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
			return tx.SetBondPrice(ctx, "B34678", decimal.NewFromInt(price))
		})
		if err != nil {
			t.Fatalf("set price: %v", err)
		}
	}

	bond, err := store.GetBond(ctx, "B34678")
	if err != nil {
		t.Fatalf("get bond: %v", err)
	}
	if bond.Price == nil || !bond.Price.Equal(decimal.NewFromInt(10090)) {
		t.Errorf("unexpected price %v", bond.Price)
	}
	if bond.InitialPrice == nil || !bond.InitialPrice.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("initial price not pinned: %v", bond.InitialPrice)
	}
}
