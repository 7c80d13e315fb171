package cli

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/fx"
)

// RateStore is the exchange rate persistence used by the fx commands.
type RateStore interface {
	UpsertRate(ctx context.Context, rate fx.Rate) error
	ListRateGaps(ctx context.Context, baseCode string, on time.Time) ([]fx.RateGap, error)
}

// FXOpsCLI offers operational helpers to manage account exchange rates.
type FXOpsCLI struct {
	store    RateStore
	baseCode string
	now      func() time.Time
}

// NewFXOpsCLI constructs a new helper instance.
func NewFXOpsCLI(store RateStore, baseCode string) (*FXOpsCLI, error) {
	if store == nil {
		return nil, errors.New("fx cli: store is required")
	}
	baseCode = strings.ToUpper(strings.TrimSpace(baseCode))
	if baseCode == "" {
		return nil, errors.New("fx cli: base currency is required")
	}
	return &FXOpsCLI{store: store, baseCode: baseCode, now: time.Now}, nil
}

func (c *FXOpsCLI) today() time.Time {
	now := c.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func nextNonEmptyRecord(r *csv.Reader) ([]string, error) {
	for {
		record, err := r.Read()
		if err != nil {
			return nil, err
		}
		skip := true
		for _, field := range record {
			trimmed := strings.TrimSpace(field)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			skip = false
		}
		if skip {
			continue
		}
		return record, nil
	}
}

func defaultConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Apply FX rates? Type YES to confirm: ")
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}
