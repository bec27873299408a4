package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/errs"
	"github.com/coachpo/backoffice/internal/domain/ledger"
	"github.com/coachpo/backoffice/internal/schema"
)

const (
	tradeLogSelectBase = `
SELECT event_id, desk_id, trader_id, book_id, bond_id, buy_sell, quantity,
       position, price::text, fx_rate::text, value::text, cash::text
FROM event_log
WHERE event_id > @after_id AND event_id <= @through_id
`

	latestFXRateSQL = `
SELECT rate::text
FROM fx_event_log
WHERE currency = @currency AND event_id <= @through_id
ORDER BY event_id DESC
LIMIT 1;
`

	latestPriceSQL = `
SELECT price::text
FROM price_event_log
WHERE bond_id = @bond_id AND event_id <= @through_id
ORDER BY event_id DESC
LIMIT 1;
`

	exclusionsSelectSQL = `
SELECT event_id, desk_id, trader_id, book_id, bond_id, buy_sell, quantity,
       price::text, exclusion_reason
FROM event_exception_log
WHERE event_id <= @through_id
ORDER BY event_id;
`

	tradeLogInsertSQL = `
INSERT INTO event_log (
    event_id, desk_id, trader_id, book_id, bond_id, buy_sell, quantity,
    position, price, fx_rate, value, cash, created_at
)
VALUES (
    @event_id, @desk_id, @trader_id, @book_id, @bond_id, @buy_sell, @quantity,
    @position, @price, @fx_rate, @value, @cash, NOW()
);
`

	fxLogInsertSQL = `
INSERT INTO fx_event_log (event_id, currency, rate, created_at)
VALUES (@event_id, @currency, @rate, NOW());
`

	priceLogInsertSQL = `
INSERT INTO price_event_log (event_id, bond_id, price, created_at)
VALUES (@event_id, @bond_id, @price, NOW());
`

	exclusionInsertSQL = `
INSERT INTO event_exception_log (
    event_id, desk_id, trader_id, book_id, bond_id, buy_sell, quantity,
    price, exclusion_reason, created_at
)
VALUES (
    @event_id, @desk_id, @trader_id, @book_id, @bond_id, @buy_sell, @quantity,
    @price, @reason, NOW()
);
`

	pgUniqueViolation = "23505"
)

func (s *Store) tradeLogs(ctx context.Context, afterID, throughID int64, descending bool) ([]ledger.TradeLog, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	query := tradeLogSelectBase
	if descending {
		query += " ORDER BY event_id DESC;"
	} else {
		query += " ORDER BY event_id;"
	}
	args := pgx.NamedArgs{"after_id": afterID, "through_id": throughID}
	rows, err := pool.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("ledger store: list trade logs: %w", err)
	}
	defer rows.Close()

	var out []ledger.TradeLog
	for rows.Next() {
		var (
			row    ledger.TradeLog
			side   string
			price  string
			fxRate string
			value  string
			cash   string
		)
		if err := rows.Scan(
			&row.EventID, &row.DeskID, &row.TraderID, &row.BookID, &row.BondID,
			&side, &row.Quantity, &row.Position, &price, &fxRate, &value, &cash,
		); err != nil {
			return nil, fmt.Errorf("ledger store: scan trade log: %w", err)
		}
		row.Side = sideFromColumn(side)
		if row.Price, err = decimalFromText(price); err != nil {
			return nil, fmt.Errorf("ledger store: trade price: %w", err)
		}
		if row.FXRate, err = decimalFromText(fxRate); err != nil {
			return nil, fmt.Errorf("ledger store: trade fx rate: %w", err)
		}
		if row.Value, err = decimalFromText(value); err != nil {
			return nil, fmt.Errorf("ledger store: trade value: %w", err)
		}
		if row.Cash, err = decimalFromText(cash); err != nil {
			return nil, fmt.Errorf("ledger store: trade cash: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger store: iterate trade logs: %w", err)
	}
	return out, nil
}

// TradeLogsAscending returns trade logs with afterID < event_id <= throughID, oldest first.
func (s *Store) TradeLogsAscending(ctx context.Context, afterID, throughID int64) ([]ledger.TradeLog, error) {
	return s.tradeLogs(ctx, afterID, throughID, false)
}

// TradeLogsDescending returns trade logs with afterID < event_id <= throughID, newest first.
func (s *Store) TradeLogsDescending(ctx context.Context, afterID, throughID int64) ([]ledger.TradeLog, error) {
	return s.tradeLogs(ctx, afterID, throughID, true)
}

// LatestFXRateAt returns the newest logged rate for the currency at or before throughID.
func (s *Store) LatestFXRateAt(ctx context.Context, currency string, throughID int64) (*decimal.Decimal, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	var rate string
	args := pgx.NamedArgs{"currency": currency, "through_id": throughID}
	err = pool.QueryRow(ctx, latestFXRateSQL, args).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger store: latest fx rate: %w", err)
	}
	d, err := decimalFromText(rate)
	if err != nil {
		return nil, fmt.Errorf("ledger store: latest fx rate: %w", err)
	}
	return &d, nil
}

// LatestPriceAt returns the newest logged price for the bond at or before throughID.
func (s *Store) LatestPriceAt(ctx context.Context, bondID string, throughID int64) (*decimal.Decimal, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	var price string
	args := pgx.NamedArgs{"bond_id": bondID, "through_id": throughID}
	err = pool.QueryRow(ctx, latestPriceSQL, args).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger store: latest price: %w", err)
	}
	d, err := decimalFromText(price)
	if err != nil {
		return nil, fmt.Errorf("ledger store: latest price: %w", err)
	}
	return &d, nil
}

// ExclusionsThrough returns every exclusion with event_id <= throughID ascending.
func (s *Store) ExclusionsThrough(ctx context.Context, throughID int64) ([]ledger.Exclusion, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	args := pgx.NamedArgs{"through_id": throughID}
	rows, err := pool.Query(ctx, exclusionsSelectSQL, args)
	if err != nil {
		return nil, fmt.Errorf("ledger store: list exclusions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Exclusion
	for rows.Next() {
		var (
			row    ledger.Exclusion
			side   string
			price  sql.NullString
			reason string
		)
		if err := rows.Scan(
			&row.EventID, &row.DeskID, &row.TraderID, &row.BookID, &row.BondID,
			&side, &row.Quantity, &price, &reason,
		); err != nil {
			return nil, fmt.Errorf("ledger store: scan exclusion: %w", err)
		}
		row.Side = sideFromColumn(side)
		row.Reason = ledger.ExclusionReason(reason)
		if row.Price, err = decimalFromNullText(price); err != nil {
			return nil, fmt.Errorf("ledger store: exclusion price: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger store: iterate exclusions: %w", err)
	}
	return out, nil
}

func (t *ledgerTx) AppendTrade(ctx context.Context, row ledger.TradeLog) error {
	args := pgx.NamedArgs{
		"event_id":  row.EventID,
		"desk_id":   row.DeskID,
		"trader_id": row.TraderID,
		"book_id":   row.BookID,
		"bond_id":   row.BondID,
		"buy_sell":  string(row.Side),
		"quantity":  row.Quantity,
		"position":  row.Position,
		"price":     numericArg(ledger.RoundMoney(row.Price)),
		"fx_rate":   numericArg(ledger.RoundMoney(row.FXRate)),
		"value":     numericArg(ledger.RoundMoney(row.Value)),
		"cash":      numericArg(ledger.RoundMoney(row.Cash)),
	}
	if _, err := t.tx.Exec(ctx, tradeLogInsertSQL, args); err != nil {
		return appendError("insert trade log", row.EventID, err)
	}
	return nil
}

func (t *ledgerTx) AppendFX(ctx context.Context, row ledger.FXLog) error {
	args := pgx.NamedArgs{
		"event_id": row.EventID,
		"currency": row.Currency,
		"rate":     numericArg(ledger.RoundMoney(row.Rate)),
	}
	if _, err := t.tx.Exec(ctx, fxLogInsertSQL, args); err != nil {
		return appendError("insert fx log", row.EventID, err)
	}
	return nil
}

func (t *ledgerTx) AppendPrice(ctx context.Context, row ledger.PriceLog) error {
	args := pgx.NamedArgs{
		"event_id": row.EventID,
		"bond_id":  row.BondID,
		"price":    numericArg(ledger.RoundMoney(row.Price)),
	}
	if _, err := t.tx.Exec(ctx, priceLogInsertSQL, args); err != nil {
		return appendError("insert price log", row.EventID, err)
	}
	return nil
}

func (t *ledgerTx) AppendExclusion(ctx context.Context, row ledger.Exclusion) error {
	var price *decimal.Decimal
	if row.Price != nil {
		rounded := ledger.RoundMoney(*row.Price)
		price = &rounded
	}
	args := pgx.NamedArgs{
		"event_id":  row.EventID,
		"desk_id":   row.DeskID,
		"trader_id": row.TraderID,
		"book_id":   row.BookID,
		"bond_id":   row.BondID,
		"buy_sell":  string(row.Side),
		"quantity":  row.Quantity,
		"price":     optionalNumericArg(price),
		"reason":    string(row.Reason),
	}
	if _, err := t.tx.Exec(ctx, exclusionInsertSQL, args); err != nil {
		return appendError("insert exclusion", row.EventID, err)
	}
	return nil
}

func appendError(op string, eventID int64, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return errs.New("ledger store", errs.CodeConflict,
			errs.WithEventID(eventID), errs.WithMessage("duplicate journal row"), errs.WithCause(err))
	}
	return fmt.Errorf("ledger store: %s: %w", op, err)
}

func sideFromColumn(value string) schema.Side {
	return schema.Side(value)
}
