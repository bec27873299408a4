package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/errs"
	"github.com/coachpo/backoffice/internal/observability"
)

// Kind names one of the renderable report types.
type Kind string

const (
	// KindCash is the per-desk cash report.
	KindCash Kind = "cash_level_portfolio"
	// KindPosition is the per-book position report aggregated across bonds.
	KindPosition Kind = "position_level_portfolio"
	// KindBond is the per-bond position report.
	KindBond Kind = "bond_level_portfolio"
	// KindCurrency is the per-desk-per-currency position report.
	KindCurrency Kind = "currency_level_portfolio"
	// KindExclusions is the rejected-trade report.
	KindExclusions Kind = "exclusions"
)

// Kinds lists every report type in bulk-output order.
func Kinds() []Kind {
	return []Kind{KindCash, KindPosition, KindBond, KindCurrency, KindExclusions}
}

// Render reconstructs state at targetID and writes the requested report as CSV.
func (e *Engine) Render(ctx context.Context, kind Kind, targetID int64, w io.Writer) error {
	start := time.Now()
	var err error
	switch kind {
	case KindCash, KindPosition, KindBond, KindCurrency:
		var ws *WorkingSet
		ws, err = e.Snapshot(ctx, targetID)
		if err != nil {
			return err
		}
		switch kind {
		case KindCash:
			err = writeCash(w, ws)
		case KindPosition:
			err = writePositions(w, ws)
		case KindBond:
			err = writeBonds(w, ws)
		case KindCurrency:
			err = writeCurrencies(w, ws)
		}
	case KindExclusions:
		err = e.writeExclusions(ctx, w, targetID)
	default:
		return errs.New("report", errs.CodeInvalid, errs.WithMessage("unknown report type "+string(kind)))
	}
	if err != nil {
		return err
	}
	observability.RecordReportBuilt(ctx, string(kind), float64(time.Since(start))/float64(time.Millisecond))
	return nil
}

// OutputAll renders every report type at targetID into
// outDir/output_<target>/<kind>_<target>.csv and returns the written paths.
func (e *Engine) OutputAll(ctx context.Context, targetID int64, outDir string) ([]string, error) {
	dir := filepath.Join(outDir, fmt.Sprintf("output_%d", targetID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create output dir: %w", err)
	}
	paths := make([]string, 0, len(Kinds()))
	for _, kind := range Kinds() {
		path := filepath.Join(dir, fmt.Sprintf("%s_%d.csv", kind, targetID))
		if err := e.renderToFile(ctx, kind, targetID, path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	observability.Log().Info("reports written",
		observability.Field{Key: "target_id", Value: targetID},
		observability.Field{Key: "dir", Value: dir})
	return paths, nil
}

func (e *Engine) renderToFile(ctx context.Context, kind Kind, targetID int64, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	renderErr := e.Render(ctx, kind, targetID, file)
	closeErr := file.Close()
	if renderErr != nil {
		return renderErr
	}
	if closeErr != nil {
		return fmt.Errorf("report: close %s: %w", path, closeErr)
	}
	return nil
}

// Filename returns the download filename for one report at targetID.
func Filename(kind Kind, targetID int64) string {
	return fmt.Sprintf("%s_%d.csv", kind, targetID)
}

func writeCash(w io.Writer, ws *WorkingSet) error {
	out := csv.NewWriter(w)
	if err := out.Write([]string{"Desk", "Cash"}); err != nil {
		return fmt.Errorf("report: write cash header: %w", err)
	}
	for _, deskID := range sortedKeys(ws.Desks) {
		if err := out.Write([]string{deskID, ws.Desks[deskID].StringFixed(2)}); err != nil {
			return fmt.Errorf("report: write cash row: %w", err)
		}
	}
	out.Flush()
	return out.Error()
}

type aggregateRow struct {
	key      []string
	position int64
	value    decimal.Decimal
}

// aggregate groups the working set's positions by the key fields keyFn
// extracts and sums position and market value per group.
func aggregate(ws *WorkingSet, keyFn func(PositionKey) []string) []aggregateRow {
	groups := make(map[string]*aggregateRow)
	for key, position := range ws.Positions {
		fields := keyFn(key)
		joined := ""
		for _, f := range fields {
			joined += f + "\x00"
		}
		row, ok := groups[joined]
		if !ok {
			row = &aggregateRow{key: fields}
			groups[joined] = row
		}
		row.position += position
		row.value = row.value.Add(positionValue(ws, key, position))
	}
	out := make([]aggregateRow, 0, len(groups))
	for _, row := range groups {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].key, out[j].key
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return out
}

// positionValue converts one position into USX through the working set's
// current price and rate. A position above zero always has a priced bond.
func positionValue(ws *WorkingSet, key PositionKey, position int64) decimal.Decimal {
	bond := ws.Bonds[key.Bond]
	if bond.Price == nil {
		return decimal.Decimal{}
	}
	rate, ok := ws.FX[bond.Currency]
	if !ok || rate.Sign() == 0 {
		return decimal.Decimal{}
	}
	return decimal.NewFromInt(position).Mul(*bond.Price).Div(rate)
}

func writeAggregated(w io.Writer, ws *WorkingSet, header []string, keyFn func(PositionKey) []string) error {
	out := csv.NewWriter(w)
	if err := out.Write(header); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}
	for _, row := range aggregate(ws, keyFn) {
		if row.position <= 0 {
			continue
		}
		record := append(append([]string{}, row.key...),
			strconv.FormatInt(row.position, 10), row.value.StringFixed(2))
		if err := out.Write(record); err != nil {
			return fmt.Errorf("report: write row: %w", err)
		}
	}
	out.Flush()
	return out.Error()
}

func writePositions(w io.Writer, ws *WorkingSet) error {
	return writeAggregated(w, ws,
		[]string{"Desk", "Trader", "Book", "Position", "Value"},
		func(k PositionKey) []string { return []string{k.Desk, k.Trader, k.Book} })
}

func writeBonds(w io.Writer, ws *WorkingSet) error {
	return writeAggregated(w, ws,
		[]string{"Desk", "Trader", "Book", "BondID", "Position", "Value"},
		func(k PositionKey) []string { return []string{k.Desk, k.Trader, k.Book, k.Bond} })
}

func writeCurrencies(w io.Writer, ws *WorkingSet) error {
	return writeAggregated(w, ws,
		[]string{"Desk", "Currency", "Position", "Value"},
		func(k PositionKey) []string { return []string{k.Desk, ws.Bonds[k.Bond].Currency} })
}

func (e *Engine) writeExclusions(ctx context.Context, w io.Writer, targetID int64) error {
	exclusions, err := e.store.ExclusionsThrough(ctx, targetID)
	if err != nil {
		return err
	}
	out := csv.NewWriter(w)
	header := []string{"EventID", "Desk", "Trader", "Book", "BuySell", "Quantity", "BondID", "Price", "ExclusionType"}
	if err := out.Write(header); err != nil {
		return fmt.Errorf("report: write exclusions header: %w", err)
	}
	for _, excl := range exclusions {
		price := ""
		if excl.Price != nil {
			price = excl.Price.StringFixed(2)
		}
		record := []string{
			strconv.FormatInt(excl.EventID, 10),
			excl.DeskID,
			excl.TraderID,
			excl.BookID,
			string(excl.Side),
			strconv.FormatInt(excl.Quantity, 10),
			excl.BondID,
			price,
			string(excl.Reason),
		}
		if err := out.Write(record); err != nil {
			return fmt.Errorf("report: write exclusion row: %w", err)
		}
	}
	out.Flush()
	return out.Error()
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
