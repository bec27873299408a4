// Package memory provides a mutex-guarded in-memory ledger store used by the
// dev storage backend and by unit tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/errs"
	"github.com/coachpo/backoffice/internal/domain/ledger"
)

type recordKey struct {
	trader string
	book   string
	bond   string
}

type state struct {
	fx      map[string]ledger.FX
	bonds   map[string]ledger.Bond
	desks   map[string]ledger.Desk
	traders map[string]ledger.Trader
	books   map[string]ledger.Book
	records map[recordKey]ledger.BondRecord

	trades     []ledger.TradeLog
	fxLogs     []ledger.FXLog
	priceLogs  []ledger.PriceLog
	exclusions []ledger.Exclusion
}

// Store is an in-memory implementation of ledger.Store.
type Store struct {
	mu sync.RWMutex
	st state
}

// NewStore creates an empty memory-backed ledger store.
func NewStore() *Store {
	store := new(Store)
	store.st = newState()
	return store
}

func newState() state {
	return state{
		fx:      make(map[string]ledger.FX),
		bonds:   make(map[string]ledger.Bond),
		desks:   make(map[string]ledger.Desk),
		traders: make(map[string]ledger.Trader),
		books:   make(map[string]ledger.Book),
		records: make(map[recordKey]ledger.BondRecord),
	}
}

func (s state) clone() state {
	out := newState()
	for k, v := range s.fx {
		out.fx[k] = v
	}
	for k, v := range s.bonds {
		out.bonds[k] = cloneBond(v)
	}
	for k, v := range s.desks {
		out.desks[k] = v
	}
	for k, v := range s.traders {
		out.traders[k] = v
	}
	for k, v := range s.books {
		out.books[k] = v
	}
	for k, v := range s.records {
		out.records[k] = v
	}
	out.trades = append([]ledger.TradeLog(nil), s.trades...)
	out.fxLogs = append([]ledger.FXLog(nil), s.fxLogs...)
	out.priceLogs = append([]ledger.PriceLog(nil), s.priceLogs...)
	out.exclusions = append([]ledger.Exclusion(nil), s.exclusions...)
	return out
}

func cloneBond(b ledger.Bond) ledger.Bond {
	out := b
	if b.Price != nil {
		price := *b.Price
		out.Price = &price
	}
	if b.InitialPrice != nil {
		initial := *b.InitialPrice
		out.InitialPrice = &initial
	}
	return out
}

// LastReleased returns the maximum event id across the four journal tables.
func (s *Store) LastReleased(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.lastReleased(), nil
}

func (s state) lastReleased() int64 {
	var max int64
	for _, row := range s.trades {
		if row.EventID > max {
			max = row.EventID
		}
	}
	for _, row := range s.fxLogs {
		if row.EventID > max {
			max = row.EventID
		}
	}
	for _, row := range s.priceLogs {
		if row.EventID > max {
			max = row.EventID
		}
	}
	for _, row := range s.exclusions {
		if row.EventID > max {
			max = row.EventID
		}
	}
	return max
}

// GetFX returns the currency row or a not_found error.
func (s *Store) GetFX(_ context.Context, currency string) (ledger.FX, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fx, ok := s.st.fx[currency]
	if !ok {
		return ledger.FX{}, errs.New("memory store", errs.CodeNotFound, errs.WithMessage("unknown currency "+currency))
	}
	return fx, nil
}

// ListFX returns every currency row sorted by currency id.
func (s *Store) ListFX(context.Context) ([]ledger.FX, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.FX, 0, len(s.st.fx))
	for _, fx := range s.st.fx {
		out = append(out, fx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

// GetBond returns the bond row or a not_found error.
func (s *Store) GetBond(_ context.Context, bondID string) (ledger.Bond, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bond, ok := s.st.bonds[bondID]
	if !ok {
		return ledger.Bond{}, errs.New("memory store", errs.CodeNotFound, errs.WithMessage("unknown bond "+bondID))
	}
	return cloneBond(bond), nil
}

// ListBonds returns every bond row sorted by bond id.
func (s *Store) ListBonds(context.Context) ([]ledger.Bond, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Bond, 0, len(s.st.bonds))
	for _, bond := range s.st.bonds {
		out = append(out, cloneBond(bond))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BondID < out[j].BondID })
	return out, nil
}

// GetDesk returns the desk row or a not_found error.
func (s *Store) GetDesk(_ context.Context, deskID string) (ledger.Desk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	desk, ok := s.st.desks[deskID]
	if !ok {
		return ledger.Desk{}, errs.New("memory store", errs.CodeNotFound, errs.WithMessage("unknown desk "+deskID))
	}
	return desk, nil
}

// ListDesks returns every desk row sorted by desk id.
func (s *Store) ListDesks(context.Context) ([]ledger.Desk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Desk, 0, len(s.st.desks))
	for _, desk := range s.st.desks {
		out = append(out, desk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeskID < out[j].DeskID })
	return out, nil
}

// ListPositions returns every bond record sorted by (desk, trader, book, bond).
func (s *Store) ListPositions(context.Context) ([]ledger.BondRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.BondRecord, 0, len(s.st.records))
	for _, record := range s.st.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DeskID != b.DeskID {
			return a.DeskID < b.DeskID
		}
		if a.TraderID != b.TraderID {
			return a.TraderID < b.TraderID
		}
		if a.BookID != b.BookID {
			return a.BookID < b.BookID
		}
		return a.BondID < b.BondID
	})
	return out, nil
}

// TradeLogsAscending returns trade logs with afterID < event_id <= throughID, oldest first.
func (s *Store) TradeLogsAscending(_ context.Context, afterID, throughID int64) ([]ledger.TradeLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.TradeLog
	for _, row := range s.st.trades {
		if row.EventID > afterID && row.EventID <= throughID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

// TradeLogsDescending returns trade logs with afterID < event_id <= throughID, newest first.
func (s *Store) TradeLogsDescending(ctx context.Context, afterID, throughID int64) ([]ledger.TradeLog, error) {
	out, err := s.TradeLogsAscending(ctx, afterID, throughID)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID > out[j].EventID })
	return out, nil
}

// LatestFXRateAt returns the newest logged rate for the currency at or before
// throughID, or nil when no FX event that old exists.
func (s *Store) LatestFXRateAt(_ context.Context, currency string, throughID int64) (*decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best   decimal.Decimal
		bestID int64
	)
	for _, row := range s.st.fxLogs {
		if row.Currency == currency && row.EventID <= throughID && row.EventID > bestID {
			best = row.Rate
			bestID = row.EventID
		}
	}
	if bestID == 0 {
		return nil, nil
	}
	return &best, nil
}

// LatestPriceAt returns the newest logged price for the bond at or before
// throughID, or nil when no price event that old exists.
func (s *Store) LatestPriceAt(_ context.Context, bondID string, throughID int64) (*decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best   decimal.Decimal
		bestID int64
	)
	for _, row := range s.st.priceLogs {
		if row.BondID == bondID && row.EventID <= throughID && row.EventID > bestID {
			best = row.Price
			bestID = row.EventID
		}
	}
	if bestID == 0 {
		return nil, nil
	}
	return &best, nil
}

// ExclusionsThrough returns every exclusion with event_id <= throughID ascending.
func (s *Store) ExclusionsThrough(_ context.Context, throughID int64) ([]ledger.Exclusion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Exclusion
	for _, row := range s.st.exclusions {
		if row.EventID <= throughID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

// SeedFX inserts a currency with get-or-create semantics.
func (s *Store) SeedFX(_ context.Context, currency string, rate decimal.Decimal) error {
	if strings.TrimSpace(currency) == "" {
		return errs.New("memory store", errs.CodeInvalid, errs.WithMessage("currency required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.fx[currency]; ok {
		return nil
	}
	s.st.fx[currency] = ledger.FX{Currency: currency, Rate: rate, Initial: rate}
	return nil
}

// SeedBond inserts a bond with get-or-create semantics.
func (s *Store) SeedBond(_ context.Context, bondID, currency string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.fx[currency]; !ok {
		return errs.New("memory store", errs.CodeData, errs.WithMessage("bond "+bondID+" references unknown currency "+currency))
	}
	if _, ok := s.st.bonds[bondID]; ok {
		return nil
	}
	s.st.bonds[bondID] = ledger.Bond{BondID: bondID, Currency: currency}
	return nil
}

// SeedDesk inserts a desk with get-or-create semantics.
func (s *Store) SeedDesk(_ context.Context, deskID string, cash decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.desks[deskID]; ok {
		return nil
	}
	s.st.desks[deskID] = ledger.Desk{DeskID: deskID, Cash: ledger.RoundMoney(cash)}
	return nil
}

// WithTransaction runs fn against a staged copy of the store and publishes the
// copy only when fn succeeds.
func (s *Store) WithTransaction(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	if fn == nil {
		return errs.New("memory store", errs.CodeInvalid, errs.WithMessage("transaction callback required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := s.st.clone()
	tx := &memTx{st: &staged}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.st = staged
	return nil
}

type memTx struct {
	st *state
}

func (t *memTx) GetFX(_ context.Context, currency string) (ledger.FX, error) {
	fx, ok := t.st.fx[currency]
	if !ok {
		return ledger.FX{}, errs.New("memory store", errs.CodeNotFound, errs.WithMessage("unknown currency "+currency))
	}
	return fx, nil
}

func (t *memTx) GetBond(_ context.Context, bondID string) (ledger.Bond, error) {
	bond, ok := t.st.bonds[bondID]
	if !ok {
		return ledger.Bond{}, errs.New("memory store", errs.CodeNotFound, errs.WithMessage("unknown bond "+bondID))
	}
	return cloneBond(bond), nil
}

func (t *memTx) GetDesk(_ context.Context, deskID string) (ledger.Desk, error) {
	desk, ok := t.st.desks[deskID]
	if !ok {
		return ledger.Desk{}, errs.New("memory store", errs.CodeNotFound, errs.WithMessage("unknown desk "+deskID))
	}
	return desk, nil
}

func (t *memTx) GetBondRecord(_ context.Context, traderID, bookID, bondID string) (ledger.BondRecord, bool, error) {
	record, ok := t.st.records[recordKey{trader: traderID, book: bookID, bond: bondID}]
	return record, ok, nil
}

func (t *memTx) SetFXRate(_ context.Context, currency string, rate decimal.Decimal) error {
	fx, ok := t.st.fx[currency]
	if !ok {
		return errs.New("memory store", errs.CodeNotFound, errs.WithMessage("unknown currency "+currency))
	}
	fx.Rate = rate
	t.st.fx[currency] = fx
	return nil
}

func (t *memTx) SetBondPrice(_ context.Context, bondID string, price decimal.Decimal) error {
	bond, ok := t.st.bonds[bondID]
	if !ok {
		return errs.New("memory store", errs.CodeNotFound, errs.WithMessage("unknown bond "+bondID))
	}
	p := price
	bond.Price = &p
	if bond.InitialPrice == nil {
		initial := price
		bond.InitialPrice = &initial
	}
	t.st.bonds[bondID] = bond
	return nil
}

func (t *memTx) UpdateDeskCash(_ context.Context, deskID string, cash decimal.Decimal) error {
	desk, ok := t.st.desks[deskID]
	if !ok {
		return errs.New("memory store", errs.CodeNotFound, errs.WithMessage("unknown desk "+deskID))
	}
	desk.Cash = ledger.RoundMoney(cash)
	t.st.desks[deskID] = desk
	return nil
}

func (t *memTx) EnsureTrader(_ context.Context, traderID, deskID string) error {
	if trader, ok := t.st.traders[traderID]; ok {
		if trader.DeskID != deskID {
			return errs.New("memory store", errs.CodeData,
				errs.WithMessage("trader "+traderID+" already belongs to desk "+trader.DeskID))
		}
		return nil
	}
	t.st.traders[traderID] = ledger.Trader{TraderID: traderID, DeskID: deskID}
	return nil
}

func (t *memTx) EnsureBook(_ context.Context, bookID, traderID string) error {
	if book, ok := t.st.books[bookID]; ok {
		if book.TraderID != traderID {
			return errs.New("memory store", errs.CodeData,
				errs.WithMessage("book "+bookID+" already belongs to trader "+book.TraderID))
		}
		return nil
	}
	t.st.books[bookID] = ledger.Book{BookID: bookID, TraderID: traderID}
	return nil
}

func (t *memTx) EnsureBondRecord(_ context.Context, traderID, bookID, bondID string) (ledger.BondRecord, error) {
	key := recordKey{trader: traderID, book: bookID, bond: bondID}
	if record, ok := t.st.records[key]; ok {
		return record, nil
	}
	trader, ok := t.st.traders[traderID]
	if !ok {
		return ledger.BondRecord{}, errs.New("memory store", errs.CodeNotFound, errs.WithMessage("unknown trader "+traderID))
	}
	record := ledger.BondRecord{
		ID:       uuid.New(),
		DeskID:   trader.DeskID,
		TraderID: traderID,
		BookID:   bookID,
		BondID:   bondID,
		Position: 0,
	}
	t.st.records[key] = record
	return record, nil
}

func (t *memTx) UpdatePosition(_ context.Context, recordID uuid.UUID, position int64) error {
	if position < 0 {
		return errs.New("memory store", errs.CodeInvalid, errs.WithMessage("position must be non-negative"))
	}
	for key, record := range t.st.records {
		if record.ID == recordID {
			record.Position = position
			t.st.records[key] = record
			return nil
		}
	}
	return errs.New("memory store", errs.CodeNotFound, errs.WithMessage("unknown bond record "+recordID.String()))
}

func (t *memTx) AppendTrade(_ context.Context, row ledger.TradeLog) error {
	for _, existing := range t.st.trades {
		if existing.EventID == row.EventID {
			return errs.New("memory store", errs.CodeConflict, errs.WithEventID(row.EventID), errs.WithMessage("duplicate trade log"))
		}
	}
	row.Price = ledger.RoundMoney(row.Price)
	row.FXRate = ledger.RoundMoney(row.FXRate)
	row.Value = ledger.RoundMoney(row.Value)
	row.Cash = ledger.RoundMoney(row.Cash)
	t.st.trades = append(t.st.trades, row)
	return nil
}

func (t *memTx) AppendFX(_ context.Context, row ledger.FXLog) error {
	for _, existing := range t.st.fxLogs {
		if existing.EventID == row.EventID {
			return errs.New("memory store", errs.CodeConflict, errs.WithEventID(row.EventID), errs.WithMessage("duplicate fx log"))
		}
	}
	row.Rate = ledger.RoundMoney(row.Rate)
	t.st.fxLogs = append(t.st.fxLogs, row)
	return nil
}

func (t *memTx) AppendPrice(_ context.Context, row ledger.PriceLog) error {
	for _, existing := range t.st.priceLogs {
		if existing.EventID == row.EventID {
			return errs.New("memory store", errs.CodeConflict, errs.WithEventID(row.EventID), errs.WithMessage("duplicate price log"))
		}
	}
	row.Price = ledger.RoundMoney(row.Price)
	t.st.priceLogs = append(t.st.priceLogs, row)
	return nil
}

func (t *memTx) AppendExclusion(_ context.Context, row ledger.Exclusion) error {
	for _, existing := range t.st.exclusions {
		if existing.EventID == row.EventID {
			return errs.New("memory store", errs.CodeConflict, errs.WithEventID(row.EventID), errs.WithMessage("duplicate exclusion"))
		}
	}
	if row.Price != nil {
		rounded := ledger.RoundMoney(*row.Price)
		row.Price = &rounded
	}
	t.st.exclusions = append(t.st.exclusions, row)
	return nil
}
