package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/errs"
	"github.com/coachpo/backoffice/internal/domain/ledger"
)

const (
	fxSelectSQL = `
SELECT currency, rate::text, initial_rate::text
FROM fx
WHERE currency = @currency;
`

	fxListSQL = `
SELECT currency, rate::text, initial_rate::text
FROM fx
ORDER BY currency;
`

	bondSelectSQL = `
SELECT bond_id, currency, price::text, initial_price::text
FROM bond
WHERE bond_id = @bond_id;
`

	bondListSQL = `
SELECT bond_id, currency, price::text, initial_price::text
FROM bond
ORDER BY bond_id;
`

	deskSelectSQL = `
SELECT desk_id, cash::text
FROM desk
WHERE desk_id = @desk_id;
`

	deskListSQL = `
SELECT desk_id, cash::text
FROM desk
ORDER BY desk_id;
`

	positionListSQL = `
SELECT r.id, t.desk_id, r.trader_id, r.book_id, r.bond_id, r.position
FROM bond_record r
JOIN trader t ON t.trader_id = r.trader_id
ORDER BY t.desk_id, r.trader_id, r.book_id, r.bond_id;
`

	bondRecordSelectSQL = `
SELECT r.id, t.desk_id, r.trader_id, r.book_id, r.bond_id, r.position
FROM bond_record r
JOIN trader t ON t.trader_id = r.trader_id
WHERE r.trader_id = @trader_id AND r.book_id = @book_id AND r.bond_id = @bond_id;
`

	fxSeedSQL = `
INSERT INTO fx (currency, rate, initial_rate)
VALUES (@currency, @rate, @rate)
ON CONFLICT (currency) DO NOTHING;
`

	bondSeedSQL = `
INSERT INTO bond (bond_id, currency, price, initial_price)
VALUES (@bond_id, @currency, NULL, NULL)
ON CONFLICT (bond_id) DO NOTHING;
`

	deskSeedSQL = `
INSERT INTO desk (desk_id, cash)
VALUES (@desk_id, @cash)
ON CONFLICT (desk_id) DO NOTHING;
`

	fxUpdateRateSQL = `
UPDATE fx SET rate = @rate WHERE currency = @currency;
`

	bondUpdatePriceSQL = `
UPDATE bond
SET price = @price,
    initial_price = COALESCE(initial_price, @price)
WHERE bond_id = @bond_id;
`

	deskUpdateCashSQL = `
UPDATE desk SET cash = @cash WHERE desk_id = @desk_id;
`

	traderInsertSQL = `
INSERT INTO trader (trader_id, desk_id)
VALUES (@trader_id, @desk_id)
ON CONFLICT (trader_id) DO NOTHING;
`

	traderDeskSQL = `
SELECT desk_id FROM trader WHERE trader_id = @trader_id;
`

	bookInsertSQL = `
INSERT INTO book (book_id, trader_id)
VALUES (@book_id, @trader_id)
ON CONFLICT (book_id) DO NOTHING;
`

	bookTraderSQL = `
SELECT trader_id FROM book WHERE book_id = @book_id;
`

	bondRecordInsertSQL = `
INSERT INTO bond_record (id, trader_id, book_id, bond_id, position)
VALUES (@id, @trader_id, @book_id, @bond_id, 0)
ON CONFLICT (trader_id, book_id, bond_id) DO NOTHING;
`

	positionUpdateSQL = `
UPDATE bond_record SET position = @position WHERE id = @id;
`
)

func getFXWith(ctx context.Context, q querier, currency string) (ledger.FX, error) {
	var (
		fx      ledger.FX
		rate    string
		initial string
	)
	args := pgx.NamedArgs{"currency": currency}
	err := q.QueryRow(ctx, fxSelectSQL, args).Scan(&fx.Currency, &rate, &initial)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.FX{}, errs.New("ledger store", errs.CodeNotFound, errs.WithMessage("unknown currency "+currency))
	}
	if err != nil {
		return ledger.FX{}, fmt.Errorf("ledger store: select fx: %w", err)
	}
	if fx.Rate, err = decimalFromText(rate); err != nil {
		return ledger.FX{}, fmt.Errorf("ledger store: fx rate: %w", err)
	}
	if fx.Initial, err = decimalFromText(initial); err != nil {
		return ledger.FX{}, fmt.Errorf("ledger store: fx initial rate: %w", err)
	}
	return fx, nil
}

func getBondWith(ctx context.Context, q querier, bondID string) (ledger.Bond, error) {
	var (
		bond    ledger.Bond
		price   sql.NullString
		initial sql.NullString
	)
	args := pgx.NamedArgs{"bond_id": bondID}
	err := q.QueryRow(ctx, bondSelectSQL, args).Scan(&bond.BondID, &bond.Currency, &price, &initial)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Bond{}, errs.New("ledger store", errs.CodeNotFound, errs.WithMessage("unknown bond "+bondID))
	}
	if err != nil {
		return ledger.Bond{}, fmt.Errorf("ledger store: select bond: %w", err)
	}
	if bond.Price, err = decimalFromNullText(price); err != nil {
		return ledger.Bond{}, fmt.Errorf("ledger store: bond price: %w", err)
	}
	if bond.InitialPrice, err = decimalFromNullText(initial); err != nil {
		return ledger.Bond{}, fmt.Errorf("ledger store: bond initial price: %w", err)
	}
	return bond, nil
}

func getDeskWith(ctx context.Context, q querier, deskID string) (ledger.Desk, error) {
	var (
		desk ledger.Desk
		cash string
	)
	args := pgx.NamedArgs{"desk_id": deskID}
	err := q.QueryRow(ctx, deskSelectSQL, args).Scan(&desk.DeskID, &cash)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Desk{}, errs.New("ledger store", errs.CodeNotFound, errs.WithMessage("unknown desk "+deskID))
	}
	if err != nil {
		return ledger.Desk{}, fmt.Errorf("ledger store: select desk: %w", err)
	}
	if desk.Cash, err = decimalFromText(cash); err != nil {
		return ledger.Desk{}, fmt.Errorf("ledger store: desk cash: %w", err)
	}
	return desk, nil
}

// GetFX returns one currency row.
func (s *Store) GetFX(ctx context.Context, currency string) (ledger.FX, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return ledger.FX{}, err
	}
	return getFXWith(ctx, pool, currency)
}

// ListFX returns every currency row ordered by currency id.
func (s *Store) ListFX(ctx context.Context) ([]ledger.FX, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, fxListSQL)
	if err != nil {
		return nil, fmt.Errorf("ledger store: list fx: %w", err)
	}
	defer rows.Close()

	var out []ledger.FX
	for rows.Next() {
		var (
			fx      ledger.FX
			rate    string
			initial string
		)
		if err := rows.Scan(&fx.Currency, &rate, &initial); err != nil {
			return nil, fmt.Errorf("ledger store: scan fx: %w", err)
		}
		if fx.Rate, err = decimalFromText(rate); err != nil {
			return nil, fmt.Errorf("ledger store: fx rate: %w", err)
		}
		if fx.Initial, err = decimalFromText(initial); err != nil {
			return nil, fmt.Errorf("ledger store: fx initial rate: %w", err)
		}
		out = append(out, fx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger store: iterate fx: %w", err)
	}
	return out, nil
}

// GetBond returns one bond row.
func (s *Store) GetBond(ctx context.Context, bondID string) (ledger.Bond, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return ledger.Bond{}, err
	}
	return getBondWith(ctx, pool, bondID)
}

// ListBonds returns every bond row ordered by bond id.
func (s *Store) ListBonds(ctx context.Context) ([]ledger.Bond, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, bondListSQL)
	if err != nil {
		return nil, fmt.Errorf("ledger store: list bonds: %w", err)
	}
	defer rows.Close()

	var out []ledger.Bond
	for rows.Next() {
		var (
			bond    ledger.Bond
			price   sql.NullString
			initial sql.NullString
		)
		if err := rows.Scan(&bond.BondID, &bond.Currency, &price, &initial); err != nil {
			return nil, fmt.Errorf("ledger store: scan bond: %w", err)
		}
		if bond.Price, err = decimalFromNullText(price); err != nil {
			return nil, fmt.Errorf("ledger store: bond price: %w", err)
		}
		if bond.InitialPrice, err = decimalFromNullText(initial); err != nil {
			return nil, fmt.Errorf("ledger store: bond initial price: %w", err)
		}
		out = append(out, bond)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger store: iterate bonds: %w", err)
	}
	return out, nil
}

// GetDesk returns one desk row.
func (s *Store) GetDesk(ctx context.Context, deskID string) (ledger.Desk, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return ledger.Desk{}, err
	}
	return getDeskWith(ctx, pool, deskID)
}

// ListDesks returns every desk row ordered by desk id.
func (s *Store) ListDesks(ctx context.Context) ([]ledger.Desk, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, deskListSQL)
	if err != nil {
		return nil, fmt.Errorf("ledger store: list desks: %w", err)
	}
	defer rows.Close()

	var out []ledger.Desk
	for rows.Next() {
		var (
			desk ledger.Desk
			cash string
		)
		if err := rows.Scan(&desk.DeskID, &cash); err != nil {
			return nil, fmt.Errorf("ledger store: scan desk: %w", err)
		}
		if desk.Cash, err = decimalFromText(cash); err != nil {
			return nil, fmt.Errorf("ledger store: desk cash: %w", err)
		}
		out = append(out, desk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger store: iterate desks: %w", err)
	}
	return out, nil
}

// ListPositions returns every bond record joined to its owning desk.
func (s *Store) ListPositions(ctx context.Context) ([]ledger.BondRecord, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, positionListSQL)
	if err != nil {
		return nil, fmt.Errorf("ledger store: list positions: %w", err)
	}
	defer rows.Close()

	var out []ledger.BondRecord
	for rows.Next() {
		var record ledger.BondRecord
		if err := rows.Scan(&record.ID, &record.DeskID, &record.TraderID, &record.BookID, &record.BondID, &record.Position); err != nil {
			return nil, fmt.Errorf("ledger store: scan position: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger store: iterate positions: %w", err)
	}
	return out, nil
}

// SeedFX inserts a currency with get-or-create semantics.
func (s *Store) SeedFX(ctx context.Context, currency string, rate decimal.Decimal) error {
	if strings.TrimSpace(currency) == "" {
		return errs.New("ledger store", errs.CodeInvalid, errs.WithMessage("currency required"))
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{"currency": currency, "rate": numericArg(rate)}
	if _, err := pool.Exec(ctx, fxSeedSQL, args); err != nil {
		return fmt.Errorf("ledger store: seed fx: %w", err)
	}
	return nil
}

// SeedBond inserts a bond with get-or-create semantics. The referenced currency
// must already exist.
func (s *Store) SeedBond(ctx context.Context, bondID, currency string) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if _, err := getFXWith(ctx, pool, currency); err != nil {
		if errs.CodeOf(err) == errs.CodeNotFound {
			return errs.New("ledger store", errs.CodeData,
				errs.WithMessage("bond "+bondID+" references unknown currency "+currency))
		}
		return err
	}
	args := pgx.NamedArgs{"bond_id": bondID, "currency": currency}
	if _, err := pool.Exec(ctx, bondSeedSQL, args); err != nil {
		return fmt.Errorf("ledger store: seed bond: %w", err)
	}
	return nil
}

// SeedDesk inserts a desk with get-or-create semantics.
func (s *Store) SeedDesk(ctx context.Context, deskID string, cash decimal.Decimal) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{"desk_id": deskID, "cash": numericArg(ledger.RoundMoney(cash))}
	if _, err := pool.Exec(ctx, deskSeedSQL, args); err != nil {
		return fmt.Errorf("ledger store: seed desk: %w", err)
	}
	return nil
}

func (t *ledgerTx) GetFX(ctx context.Context, currency string) (ledger.FX, error) {
	return getFXWith(ctx, t.tx, currency)
}

func (t *ledgerTx) GetBond(ctx context.Context, bondID string) (ledger.Bond, error) {
	return getBondWith(ctx, t.tx, bondID)
}

func (t *ledgerTx) GetDesk(ctx context.Context, deskID string) (ledger.Desk, error) {
	return getDeskWith(ctx, t.tx, deskID)
}

func (t *ledgerTx) GetBondRecord(ctx context.Context, traderID, bookID, bondID string) (ledger.BondRecord, bool, error) {
	var record ledger.BondRecord
	args := pgx.NamedArgs{"trader_id": traderID, "book_id": bookID, "bond_id": bondID}
	err := t.tx.QueryRow(ctx, bondRecordSelectSQL, args).
		Scan(&record.ID, &record.DeskID, &record.TraderID, &record.BookID, &record.BondID, &record.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.BondRecord{}, false, nil
	}
	if err != nil {
		return ledger.BondRecord{}, false, fmt.Errorf("ledger store: select bond record: %w", err)
	}
	return record, true, nil
}

func (t *ledgerTx) SetFXRate(ctx context.Context, currency string, rate decimal.Decimal) error {
	args := pgx.NamedArgs{"currency": currency, "rate": numericArg(rate)}
	tag, err := t.tx.Exec(ctx, fxUpdateRateSQL, args)
	if err != nil {
		return fmt.Errorf("ledger store: update fx rate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("ledger store", errs.CodeNotFound, errs.WithMessage("unknown currency "+currency))
	}
	return nil
}

func (t *ledgerTx) SetBondPrice(ctx context.Context, bondID string, price decimal.Decimal) error {
	args := pgx.NamedArgs{"bond_id": bondID, "price": numericArg(price)}
	tag, err := t.tx.Exec(ctx, bondUpdatePriceSQL, args)
	if err != nil {
		return fmt.Errorf("ledger store: update bond price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("ledger store", errs.CodeNotFound, errs.WithMessage("unknown bond "+bondID))
	}
	return nil
}

func (t *ledgerTx) UpdateDeskCash(ctx context.Context, deskID string, cash decimal.Decimal) error {
	args := pgx.NamedArgs{"desk_id": deskID, "cash": numericArg(ledger.RoundMoney(cash))}
	tag, err := t.tx.Exec(ctx, deskUpdateCashSQL, args)
	if err != nil {
		return fmt.Errorf("ledger store: update desk cash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("ledger store", errs.CodeNotFound, errs.WithMessage("unknown desk "+deskID))
	}
	return nil
}

func (t *ledgerTx) EnsureTrader(ctx context.Context, traderID, deskID string) error {
	args := pgx.NamedArgs{"trader_id": traderID, "desk_id": deskID}
	if _, err := t.tx.Exec(ctx, traderInsertSQL, args); err != nil {
		return fmt.Errorf("ledger store: insert trader: %w", err)
	}
	var owner string
	if err := t.tx.QueryRow(ctx, traderDeskSQL, pgx.NamedArgs{"trader_id": traderID}).Scan(&owner); err != nil {
		return fmt.Errorf("ledger store: select trader: %w", err)
	}
	if owner != deskID {
		return errs.New("ledger store", errs.CodeData,
			errs.WithMessage("trader "+traderID+" already belongs to desk "+owner))
	}
	return nil
}

func (t *ledgerTx) EnsureBook(ctx context.Context, bookID, traderID string) error {
	args := pgx.NamedArgs{"book_id": bookID, "trader_id": traderID}
	if _, err := t.tx.Exec(ctx, bookInsertSQL, args); err != nil {
		return fmt.Errorf("ledger store: insert book: %w", err)
	}
	var owner string
	if err := t.tx.QueryRow(ctx, bookTraderSQL, pgx.NamedArgs{"book_id": bookID}).Scan(&owner); err != nil {
		return fmt.Errorf("ledger store: select book: %w", err)
	}
	if owner != traderID {
		return errs.New("ledger store", errs.CodeData,
			errs.WithMessage("book "+bookID+" already belongs to trader "+owner))
	}
	return nil
}

func (t *ledgerTx) EnsureBondRecord(ctx context.Context, traderID, bookID, bondID string) (ledger.BondRecord, error) {
	args := pgx.NamedArgs{
		"id":        uuid.New(),
		"trader_id": traderID,
		"book_id":   bookID,
		"bond_id":   bondID,
	}
	if _, err := t.tx.Exec(ctx, bondRecordInsertSQL, args); err != nil {
		return ledger.BondRecord{}, fmt.Errorf("ledger store: insert bond record: %w", err)
	}
	record, ok, err := t.GetBondRecord(ctx, traderID, bookID, bondID)
	if err != nil {
		return ledger.BondRecord{}, err
	}
	if !ok {
		return ledger.BondRecord{}, fmt.Errorf("ledger store: bond record missing after insert")
	}
	return record, nil
}

func (t *ledgerTx) UpdatePosition(ctx context.Context, recordID uuid.UUID, position int64) error {
	if position < 0 {
		return errs.New("ledger store", errs.CodeInvalid, errs.WithMessage("position must be non-negative"))
	}
	args := pgx.NamedArgs{"id": recordID, "position": position}
	tag, err := t.tx.Exec(ctx, positionUpdateSQL, args)
	if err != nil {
		return fmt.Errorf("ledger store: update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("ledger store", errs.CodeNotFound, errs.WithMessage("unknown bond record "+recordID.String()))
	}
	return nil
}
