package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
)

type rateKey struct {
	accountID int64
	day       string
}

// Resolver answers currency and rate questions for one request. It memoises
// every lookup, so it must not outlive the transaction its store belongs to.
type Resolver struct {
	store    Store
	baseCode string

	accounts   map[int64]Account
	currencies map[int64]CurrencyResolution
	rates      map[rateKey]decimal.Decimal
}

// NewResolver builds a request-scoped resolver over store.
func NewResolver(store Store, baseCode string) *Resolver {
	return &Resolver{
		store:      store,
		baseCode:   strings.ToUpper(strings.TrimSpace(baseCode)),
		accounts:   make(map[int64]Account),
		currencies: make(map[int64]CurrencyResolution),
		rates:      make(map[rateKey]decimal.Decimal),
	}
}

// BaseCode returns the base currency code.
func (r *Resolver) BaseCode() string { return r.baseCode }

// Account loads an account through the memo.
func (r *Resolver) Account(ctx context.Context, accountID int64) (Account, error) {
	if acc, ok := r.accounts[accountID]; ok {
		return acc, nil
	}
	acc, err := r.store.GetBankAccount(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	r.accounts[accountID] = acc
	return acc, nil
}

// ResolveCurrency determines the settlement currency of an account using the
// ordered strategy: stored code and id, then currency row by id, then currency
// row by code or name.
func (r *Resolver) ResolveCurrency(ctx context.Context, accountID int64) (CurrencyResolution, error) {
	if res, ok := r.currencies[accountID]; ok {
		return res, nil
	}
	acc, err := r.Account(ctx, accountID)
	if err != nil {
		return CurrencyResolution{}, err
	}
	res, err := r.resolve(ctx, acc)
	if err != nil {
		return CurrencyResolution{}, err
	}
	r.currencies[accountID] = res
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, acc Account) (CurrencyResolution, error) {
	code := strings.ToUpper(strings.TrimSpace(acc.CurrencyCode))
	id := acc.CurrencyID

	if code == "" && id == nil {
		return CurrencyResolution{Kind: Base, Code: r.baseCode}, nil
	}

	if code == "" {
		cur, err := r.store.GetCurrencyByID(ctx, *id)
		switch {
		case err == nil:
			code = strings.ToUpper(cur.Code)
		case errors.Is(err, shared.ErrNotFound):
			return CurrencyResolution{Kind: Unresolved, ID: id}, nil
		default:
			return CurrencyResolution{}, err
		}
	}

	if id == nil {
		found, err := r.lookup(ctx, code)
		if err != nil {
			return CurrencyResolution{}, err
		}
		if found != nil {
			id = &found.ID
			code = strings.ToUpper(found.Code)
		}
	}

	if code == "" {
		return CurrencyResolution{Kind: Unresolved, ID: id}, nil
	}
	if code == r.baseCode {
		return CurrencyResolution{Kind: Base, Code: code, ID: id}, nil
	}
	return CurrencyResolution{Kind: Resolved, Code: code, ID: id}, nil
}

// lookup searches the currency master by ISO code first and by display name
// second. A miss is not an error.
func (r *Resolver) lookup(ctx context.Context, codeOrName string) (*Currency, error) {
	candidates := []string{codeOrName}
	if unit, err := currency.ParseISO(codeOrName); err == nil && unit.String() != codeOrName {
		candidates = append([]string{unit.String()}, candidates...)
	}
	for _, candidate := range candidates {
		cur, err := r.store.FindCurrency(ctx, candidate)
		if err == nil {
			return &cur, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// ResolveRate returns the rate-to-base for accountID on date. Base currency
// accounts resolve to one without touching the rate history.
func (r *Resolver) ResolveRate(ctx context.Context, accountID int64, on time.Time) (decimal.Decimal, error) {
	res, err := r.ResolveCurrency(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if res.IsBase() {
		return decimal.NewFromInt(1), nil
	}
	key := rateKey{accountID: accountID, day: on.Format(time.DateOnly)}
	if rate, ok := r.rates[key]; ok {
		return rate, nil
	}
	rate, err := r.store.LatestRate(ctx, accountID, on)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("%w: no exchange rate for account %d on or before %s", err, accountID, key.day)
		}
		return decimal.Zero, err
	}
	if !rate.RateToBase.IsPositive() {
		return decimal.Zero, shared.Validationf("exchange rate for account %d is not positive", accountID)
	}
	r.rates[key] = rate.RateToBase
	return rate.RateToBase, nil
}

// Quote resolves both the settlement currency and the rate for a payment.
// Unresolved currencies and missing rates are validation errors here because a
// foreign settlement without a rate can never be posted.
func (r *Resolver) Quote(ctx context.Context, accountID int64, on time.Time) (Quote, error) {
	res, err := r.ResolveCurrency(ctx, accountID)
	if err != nil {
		return Quote{}, err
	}
	if res.Kind == Unresolved {
		return Quote{}, shared.Validationf("settlement currency of account %d could not be determined", accountID)
	}
	rate, err := r.ResolveRate(ctx, accountID, on)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Quote{}, shared.Validationf("no exchange rate for %s account %d on %s", res.Code, accountID, on.Format(time.DateOnly))
		}
		return Quote{}, err
	}
	return Quote{Currency: res, Rate: rate}, nil
}

// SameRate reports whether two rates differ by less than RateEpsilon.
func SameRate(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(RateEpsilon)
}
