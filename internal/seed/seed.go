// Package seed loads reference data from CSV files into the ledger store.
package seed

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"github.com/coachpo/backoffice/errs"
	"github.com/coachpo/backoffice/internal/domain/ledger"
	"github.com/coachpo/backoffice/internal/observability"
)

const (
	fxFile   = "initial_fx.csv"
	bondFile = "bond_details.csv"
	deskFile = "initial_cash.csv"
)

// Populate loads currencies, bonds and desks from the CSV files in dataDir.
// Rows already present are left untouched, so re-running against a populated
// store is safe. Currencies load first because bonds reference them.
func Populate(ctx context.Context, store ledger.Store, dataDir string) error {
	if err := populateFX(ctx, store, dataDir); err != nil {
		return err
	}
	if err := populateBonds(ctx, store, dataDir); err != nil {
		return err
	}
	if err := populateDesks(ctx, store, dataDir); err != nil {
		return err
	}
	observability.Log().Info("reference data seeded",
		observability.Field{Key: "dir", Value: dataDir})
	return nil
}

func populateFX(ctx context.Context, store ledger.Store, dataDir string) error {
	rows, err := readCSV(filepath.Join(dataDir, fxFile), 2)
	if err != nil {
		return err
	}
	for _, row := range rows {
		rate, err := decimal.NewFromString(row[1])
		if err != nil {
			return errs.New("seed", errs.CodeData,
				errs.WithMessage("invalid rate for currency "+row[0]), errs.WithCause(err))
		}
		if err := store.SeedFX(ctx, row[0], rate); err != nil {
			return err
		}
	}
	return nil
}

func populateBonds(ctx context.Context, store ledger.Store, dataDir string) error {
	rows, err := readCSV(filepath.Join(dataDir, bondFile), 2)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := store.SeedBond(ctx, row[0], row[1]); err != nil {
			return err
		}
	}
	return nil
}

func populateDesks(ctx context.Context, store ledger.Store, dataDir string) error {
	rows, err := readCSV(filepath.Join(dataDir, deskFile), 2)
	if err != nil {
		return err
	}
	for _, row := range rows {
		cash, err := decimal.NewFromString(row[1])
		if err != nil {
			return errs.New("seed", errs.CodeData,
				errs.WithMessage("invalid cash for desk "+row[0]), errs.WithCause(err))
		}
		if err := store.SeedDesk(ctx, row[0], cash); err != nil {
			return err
		}
	}
	return nil
}

// readCSV returns the file's rows with the header dropped.
func readCSV(path string, minFields int) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seed: open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	out := rows[1:]
	for _, row := range out {
		if len(row) < minFields {
			return nil, errs.New("seed", errs.CodeData,
				errs.WithMessage(fmt.Sprintf("short row in %s", filepath.Base(path))))
		}
	}
	return out, nil
}
