package persistence_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coachpo/backoffice/errs"
	"github.com/coachpo/backoffice/internal/domain/ledger"
	"github.com/coachpo/backoffice/internal/infra/persistence/migrations"
	pgstore "github.com/coachpo/backoffice/internal/infra/persistence/postgres"
	"github.com/coachpo/backoffice/internal/processor"
	"github.com/coachpo/backoffice/internal/report"
	"github.com/coachpo/backoffice/internal/schema"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "backoffice"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		setupErr = fmt.Errorf("start postgres container: %w", err)
	} else {
		pgContainer = container
		setupErr = initialiseDatabase(ctx)
	}

	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres contract tests skipped: %v\n", setupErr)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/backoffice?sslmode=disable", host, port.Port())

	if err := migrations.Apply(ctx, dsn, nil); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func TestPostgresLedgerStore(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := pgstore.NewStore(testPool)

	if err := store.SeedFX(ctx, "JPX", decimal.RequireFromString("136.14")); err != nil {
		t.Fatalf("seed fx: %v", err)
	}
	if err := store.SeedBond(ctx, "B34678", "JPX"); err != nil {
		t.Fatalf("seed bond: %v", err)
	}
	if err := store.SeedDesk(ctx, "NY", decimal.NewFromInt(1_000_000)); err != nil {
		t.Fatalf("seed desk: %v", err)
	}

	proc := processor.New(store)
	events := []*schema.Event{
		{ID: 1, Kind: schema.KindPrice, Price: &schema.PricePayload{BondID: "B34678", MarketPrice: decimal.NewFromInt(10000)}},
		{ID: 2, Kind: schema.KindTrade, Trade: &schema.TradePayload{Desk: "NY", Trader: "T6899554", Book: "NY00", BondID: "B34678", Side: schema.SideBuy, Quantity: 533}},
		{ID: 3, Kind: schema.KindPrice, Price: &schema.PricePayload{BondID: "B34678", MarketPrice: decimal.NewFromInt(10090)}},
		{ID: 4, Kind: schema.KindTrade, Trade: &schema.TradePayload{Desk: "NY", Trader: "T6899554", Book: "NY00", BondID: "B34678", Side: schema.SideSell, Quantity: 33}},
		{ID: 5, Kind: schema.KindFX, FX: &schema.FXPayload{Currency: "JPX", Rate: decimal.NewFromInt(135)}},
		{ID: 6, Kind: schema.KindTrade, Trade: &schema.TradePayload{Desk: "NY", Trader: "T6899554", Book: "NY00", BondID: "B34678", Side: schema.SideSell, Quantity: 600}},
	}
	for _, evt := range events {
		if err := proc.Apply(ctx, evt); err != nil {
			t.Fatalf("apply event %d: %v", evt.ID, err)
		}
	}

	last, err := store.LastReleased(ctx)
	if err != nil {
		t.Fatalf("last released: %v", err)
	}
	if last != 6 {
		t.Fatalf("last released %d, want 6", last)
	}

	desk, err := store.GetDesk(ctx, "NY")
	if err != nil {
		t.Fatalf("get desk: %v", err)
	}
	if !desk.Cash.Equal(decimal.RequireFromString("963294.91700")) {
		t.Errorf("cash %s, want 963294.91700", desk.Cash)
	}

	positions, err := store.ListPositions(ctx)
	if err != nil {
		t.Fatalf("list positions: %v", err)
	}
	if len(positions) != 1 || positions[0].Position != 500 {
		t.Fatalf("unexpected positions %+v", positions)
	}
	if positions[0].DeskID != "NY" || positions[0].TraderID != "T6899554" {
		t.Errorf("unexpected ownership %+v", positions[0])
	}

	trades, err := store.TradeLogsAscending(ctx, 0, 6)
	if err != nil {
		t.Fatalf("trade logs: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trade logs, got %d", len(trades))
	}
	if !trades[0].Value.Equal(decimal.RequireFromString("39150.87410")) {
		t.Errorf("first trade value %s, want 39150.87410", trades[0].Value)
	}
	if trades[1].Side != schema.SideSell {
		t.Errorf("second trade side %s, want sell", trades[1].Side)
	}

	price, err := store.LatestPriceAt(ctx, "B34678", 2)
	if err != nil {
		t.Fatalf("latest price: %v", err)
	}
	if price == nil || !price.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("price at 2 %v, want 10000", price)
	}
	rate, err := store.LatestFXRateAt(ctx, "JPX", 4)
	if err != nil {
		t.Fatalf("latest rate: %v", err)
	}
	if rate != nil {
		t.Errorf("rate at 4 %v, want nil (no fx journal entry yet)", rate)
	}

	exclusions, err := store.ExclusionsThrough(ctx, 6)
	if err != nil {
		t.Fatalf("exclusions: %v", err)
	}
	if len(exclusions) != 1 || exclusions[0].Reason != ledger.ReasonQuantityOverlimit {
		t.Fatalf("unexpected exclusions %+v", exclusions)
	}
	if exclusions[0].Price == nil || !exclusions[0].Price.Equal(decimal.NewFromInt(10090)) {
		t.Errorf("exclusion price %v, want 10090", exclusions[0].Price)
	}

	engine := report.NewEngine(store)
	ws, err := engine.Snapshot(ctx, 2)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !ws.Desks["NY"].Equal(decimal.RequireFromString("960849.12590")) {
		t.Errorf("snapshot cash %s, want 960849.12590", ws.Desks["NY"])
	}
	key := report.PositionKey{Desk: "NY", Trader: "T6899554", Book: "NY00", Bond: "B34678"}
	if ws.Positions[key] != 533 {
		t.Errorf("snapshot position %d, want 533", ws.Positions[key])
	}

	// A replayed journal append must surface as a conflict and roll back.
	err = store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.AppendPrice(ctx, ledger.PriceLog{EventID: 1, BondID: "B34678", Price: decimal.NewFromInt(1)})
	})
	if errs.CodeOf(err) != errs.CodeConflict {
		t.Errorf("expected conflict for duplicate event id, got %v", err)
	}
}
