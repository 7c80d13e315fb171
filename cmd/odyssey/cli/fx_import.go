package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/fx"
)

// FXImportMode enumerates supported execution strategies.
type FXImportMode string

const (
	// FXImportModeDry parses and previews rates without writing them.
	FXImportModeDry FXImportMode = "dry"
	// FXImportModeApply persists rates after confirmation.
	FXImportModeApply FXImportMode = "apply"
)

// FXImportOptions configures the fx import command.
type FXImportOptions struct {
	Source       string
	SourceReader io.Reader
	Mode         FXImportMode
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
	Stdin        io.Reader
	Confirm      func(io.Reader, io.Writer) (bool, error)
}

// FXImportRow is one parsed rate.
type FXImportRow struct {
	AccountID     int64  `json:"account_id"`
	EffectiveFrom string `json:"effective_from"`
	Rate          string `json:"rate_to_base"`
}

// FXImportSummary captures the structured reporting outcome.
type FXImportSummary struct {
	Mode    FXImportMode  `json:"mode"`
	Rows    []FXImportRow `json:"rows"`
	Applied int           `json:"applied"`
}

// ImportCommand reads a CSV of account_id,date,rate and upserts each rate.
func (c *FXOpsCLI) ImportCommand(ctx context.Context, opts FXImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Mode == "" {
		opts.Mode = FXImportModeDry
	}
	mode := FXImportMode(strings.ToLower(string(opts.Mode)))
	switch mode {
	case FXImportModeDry, FXImportModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "fx import: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}
	rates, err := loadRates(opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}
	summary := FXImportSummary{Mode: mode, Rows: make([]FXImportRow, len(rates))}
	for i, rate := range rates {
		summary.Rows[i] = FXImportRow{
			AccountID:     rate.AccountID,
			EffectiveFrom: rate.EffectiveFrom.Format(time.DateOnly),
			Rate:          rate.RateToBase.String(),
		}
	}
	if mode == FXImportModeApply && len(rates) > 0 {
		confirm := opts.Confirm
		if confirm == nil {
			confirm = defaultConfirm
		}
		ok, err := confirm(opts.Stdin, opts.Stdout)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "fx import: confirmation failed: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintln(opts.Stderr, "fx import: cancelled by user")
			return 1
		}
		for _, rate := range rates {
			if err := c.store.UpsertRate(ctx, rate); err != nil {
				fmt.Fprintf(opts.Stderr, "fx import: account %d on %s: %v\n", rate.AccountID, rate.EffectiveFrom.Format(time.DateOnly), err)
				return 1
			}
			summary.Applied++
		}
	}
	if err := writeImportOutput(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}
	return 0
}

func loadRates(opts FXImportOptions) ([]fx.Rate, error) {
	var data []byte
	var err error
	switch {
	case opts.SourceReader != nil:
		data, err = io.ReadAll(opts.SourceReader)
	case opts.Source == "-":
		data, err = io.ReadAll(opts.Stdin)
	case strings.TrimSpace(opts.Source) == "":
		return nil, errors.New("--source is required")
	default:
		data, err = os.ReadFile(opts.Source)
	}
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(bytes.NewReader(bytes.TrimSpace(data)))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := nextNonEmptyRecord(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	account, date, value := -1, -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "account", "account_id", "bank_account_id":
			account = i
		case "date", "effective_from":
			date = i
		case "rate", "rate_to_base":
			value = i
		}
	}
	if account < 0 || date < 0 || value < 0 {
		return nil, errors.New("missing required columns in source (need account_id, date, rate)")
	}
	width := max(account, date, value) + 1

	latest := make(map[string]fx.Rate)
	for line := 2; ; line++ {
		record, err := nextNonEmptyRecord(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if len(record) < width {
			return nil, fmt.Errorf("record %d: expected at least %d fields", line, width)
		}
		accountID, err := strconv.ParseInt(strings.TrimSpace(record[account]), 10, 64)
		if err != nil || accountID <= 0 {
			return nil, fmt.Errorf("record %d: invalid account %q", line, record[account])
		}
		effective, err := time.Parse(time.DateOnly, strings.TrimSpace(record[date]))
		if err != nil {
			return nil, fmt.Errorf("record %d: invalid date %q (expected YYYY-MM-DD)", line, record[date])
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(record[value]))
		if err != nil {
			return nil, fmt.Errorf("record %d: invalid rate %q", line, record[value])
		}
		if !rate.IsPositive() || !rate.Equal(rate.Round(6)) {
			return nil, fmt.Errorf("record %d: rate must be positive with at most 6 decimals", line)
		}
		row := fx.Rate{AccountID: accountID, EffectiveFrom: effective, RateToBase: rate}
		latest[fmt.Sprintf("%d/%s", accountID, effective.Format(time.DateOnly))] = row
	}

	rates := make([]fx.Rate, 0, len(latest))
	for _, rate := range latest {
		rates = append(rates, rate)
	}
	sort.Slice(rates, func(i, j int) bool {
		if rates[i].AccountID == rates[j].AccountID {
			return rates[i].EffectiveFrom.Before(rates[j].EffectiveFrom)
		}
		return rates[i].AccountID < rates[j].AccountID
	})
	return rates, nil
}

func writeImportOutput(opts FXImportOptions, summary FXImportSummary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	fmt.Fprintf(opts.Stdout, "FX import (%s): %d rate(s)\n", summary.Mode, len(summary.Rows))
	for _, row := range summary.Rows {
		fmt.Fprintf(opts.Stdout, " - account %d from %s at %s\n", row.AccountID, row.EffectiveFrom, row.Rate)
	}
	if summary.Mode == FXImportModeApply {
		fmt.Fprintf(opts.Stdout, "Applied %d rate(s).\n", summary.Applied)
	}
	return nil
}
