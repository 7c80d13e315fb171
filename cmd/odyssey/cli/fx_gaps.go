package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// FXGapsOptions defines available flags for the fx gaps command.
type FXGapsOptions struct {
	Date       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// FXGapsSummary describes the JSON response for fx gaps.
type FXGapsSummary struct {
	OK   bool        `json:"ok"`
	Base string      `json:"base_currency"`
	Date string      `json:"date"`
	Gaps []FXRateGap `json:"gaps"`
}

// FXRateGap is a foreign-currency account that cannot be converted on the date.
type FXRateGap struct {
	AccountID int64  `json:"account_id"`
	Account   string `json:"account"`
	Currency  string `json:"currency"`
}

// GapsCommand lists non-base accounts without a rate effective on the date.
// It exits with 10 when gaps are found.
func (c *FXOpsCLI) GapsCommand(ctx context.Context, opts FXGapsOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	on := c.today()
	if raw := strings.TrimSpace(opts.Date); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "fx gaps: invalid date %q (expected YYYY-MM-DD)\n", opts.Date)
			return 1
		}
		on = parsed
	}
	gaps, err := c.store.ListRateGaps(ctx, c.baseCode, on)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "fx gaps: %v\n", err)
		return 1
	}
	summary := FXGapsSummary{OK: len(gaps) == 0, Base: c.baseCode, Date: on.Format(time.DateOnly), Gaps: make([]FXRateGap, len(gaps))}
	for i, gap := range gaps {
		summary.Gaps[i] = FXRateGap{AccountID: gap.AccountID, Account: gap.AccountName, Currency: gap.CurrencyCode}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "fx gaps: encode json: %v\n", err)
			return 1
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "FX rate coverage against %s on %s\n", summary.Base, summary.Date)
		if summary.OK {
			_, _ = fmt.Fprintln(opts.Stdout, "Every foreign-currency account has a rate.")
		} else {
			_, _ = fmt.Fprintf(opts.Stdout, "%d gap(s) detected:\n", len(summary.Gaps))
			for _, gap := range summary.Gaps {
				_, _ = fmt.Fprintf(opts.Stdout, " - account %d %s (%s)\n", gap.AccountID, gap.Account, gap.Currency)
			}
		}
	}
	if !summary.OK {
		return 10
	}
	return 0
}
