// Package fx resolves settlement currencies and exchange rates for bank and
// cash accounts.
package fx

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RateEpsilon is the smallest rate difference treated as a real change.
var RateEpsilon = decimal.New(1, -6)

// Account is the subset of a bank or cash account needed for conversion.
type Account struct {
	ID              int64
	Name            string
	CurrencyCode    string
	CurrencyID      *int64
	LedgerAccountID *int64
}

// Currency is a row of the currency master.
type Currency struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Rate is one entry of an account's exchange rate history.
type Rate struct {
	AccountID     int64
	EffectiveFrom time.Time
	RateToBase    decimal.Decimal
}

// Store exposes the reads the resolver depends on. Implementations return
// shared.ErrNotFound wrapped errors when a row is absent.
type Store interface {
	GetBankAccount(ctx context.Context, id int64) (Account, error)
	GetCurrencyByID(ctx context.Context, id int64) (Currency, error)
	FindCurrency(ctx context.Context, codeOrName string) (Currency, error)
	LatestRate(ctx context.Context, accountID int64, on time.Time) (Rate, error)
}

// ResolutionKind tags the outcome of currency resolution.
type ResolutionKind int

const (
	// Base means the account settles in the base currency; no rate lookup is needed.
	Base ResolutionKind = iota + 1
	// Resolved means a foreign currency code was determined.
	Resolved
	// Unresolved means the account references a currency that could not be determined.
	Unresolved
)

func (k ResolutionKind) String() string {
	switch k {
	case Base:
		return "base"
	case Resolved:
		return "resolved"
	case Unresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// CurrencyResolution is the tagged result of ResolveCurrency.
type CurrencyResolution struct {
	Kind ResolutionKind
	Code string
	// ID degrades to nil when the currency master has no matching row.
	ID *int64
}

// IsBase reports whether the account settles in the base currency.
func (r CurrencyResolution) IsBase() bool { return r.Kind == Base }

// Quote bundles a resolved currency with the rate applicable on a date.
type Quote struct {
	Currency CurrencyResolution
	Rate     decimal.Decimal
}
