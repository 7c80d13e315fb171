package fx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-treasury/internal/platform/db"
	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
)

// AccountStore implements Store over a pool or transaction.
type AccountStore struct {
	q db.Querier
}

// NewAccountStore constructs a Postgres backed Store.
func NewAccountStore(q db.Querier) *AccountStore {
	return &AccountStore{q: q}
}

var _ Store = (*AccountStore)(nil)

// GetBankAccount loads an account by id.
func (s *AccountStore) GetBankAccount(ctx context.Context, id int64) (Account, error) {
	const query = `SELECT id, name, COALESCE(currency_code, ''), currency_id, ledger_account_id
FROM bank_accounts WHERE id = $1`
	var acc Account
	err := s.q.QueryRow(ctx, query, id).Scan(&acc.ID, &acc.Name, &acc.CurrencyCode, &acc.CurrencyID, &acc.LedgerAccountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, shared.NotFoundf("bank account %d", id)
	}
	if err != nil {
		return Account{}, shared.DataStore("get bank account", err)
	}
	return acc, nil
}

// GetCurrencyByID loads a currency master row.
func (s *AccountStore) GetCurrencyByID(ctx context.Context, id int64) (Currency, error) {
	var cur Currency
	err := s.q.QueryRow(ctx, `SELECT id, code, name FROM currencies WHERE id = $1`, id).Scan(&cur.ID, &cur.Code, &cur.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Currency{}, shared.NotFoundf("currency %d", id)
	}
	if err != nil {
		return Currency{}, shared.DataStore("get currency", err)
	}
	return cur, nil
}

// FindCurrency matches a currency by code or, failing that, by name.
func (s *AccountStore) FindCurrency(ctx context.Context, codeOrName string) (Currency, error) {
	const query = `SELECT id, code, name FROM currencies
WHERE UPPER(code) = UPPER($1) OR UPPER(name) = UPPER($1)
ORDER BY (UPPER(code) = UPPER($1)) DESC, id
LIMIT 1`
	var cur Currency
	err := s.q.QueryRow(ctx, query, codeOrName).Scan(&cur.ID, &cur.Code, &cur.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Currency{}, shared.NotFoundf("currency %q", codeOrName)
	}
	if err != nil {
		return Currency{}, shared.DataStore("find currency", err)
	}
	return cur, nil
}

// LatestRate returns the most recent rate effective on or before the date.
func (s *AccountStore) LatestRate(ctx context.Context, accountID int64, on time.Time) (Rate, error) {
	const query = `SELECT bank_account_id, effective_from, rate_to_base FROM exchange_rates
WHERE bank_account_id = $1 AND effective_from <= $2
ORDER BY effective_from DESC
LIMIT 1`
	var rate Rate
	err := s.q.QueryRow(ctx, query, accountID, on).Scan(&rate.AccountID, &rate.EffectiveFrom, &rate.RateToBase)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, shared.NotFoundf("exchange rate for account %d", accountID)
	}
	if err != nil {
		return Rate{}, shared.DataStore("latest rate", err)
	}
	return rate, nil
}

// UpsertRate records a rate, replacing any entry for the same account and date.
func (s *AccountStore) UpsertRate(ctx context.Context, rate Rate) error {
	if !rate.RateToBase.IsPositive() {
		return shared.Validationf("rate for account %d must be positive", rate.AccountID)
	}
	const query = `INSERT INTO exchange_rates (bank_account_id, effective_from, rate_to_base)
VALUES ($1, $2, $3)
ON CONFLICT (bank_account_id, effective_from) DO UPDATE SET rate_to_base = EXCLUDED.rate_to_base`
	_, err := s.q.Exec(ctx, query, rate.AccountID, rate.EffectiveFrom, rate.RateToBase)
	return shared.DataStore("upsert rate", err)
}

// RateGap is a foreign-currency account lacking a rate on a date.
type RateGap struct {
	AccountID    int64
	AccountName  string
	CurrencyCode string
}

// ListRateGaps returns active accounts that are not in the base currency and
// have no rate effective on or before the date.
func (s *AccountStore) ListRateGaps(ctx context.Context, baseCode string, on time.Time) ([]RateGap, error) {
	const query = `SELECT b.id, b.name, COALESCE(NULLIF(b.currency_code, ''), c.code, '')
FROM bank_accounts b
LEFT JOIN currencies c ON c.id = b.currency_id
WHERE b.is_active
  AND COALESCE(NULLIF(b.currency_code, ''), c.code, '') NOT IN ('', $1)
  AND NOT EXISTS (
    SELECT 1 FROM exchange_rates r WHERE r.bank_account_id = b.id AND r.effective_from <= $2
  )
ORDER BY b.id`
	rows, err := s.q.Query(ctx, query, baseCode, on)
	if err != nil {
		return nil, shared.DataStore("list rate gaps", err)
	}
	defer rows.Close()
	var gaps []RateGap
	for rows.Next() {
		var gap RateGap
		if err := rows.Scan(&gap.AccountID, &gap.AccountName, &gap.CurrencyCode); err != nil {
			return nil, shared.DataStore("scan rate gap", err)
		}
		gaps = append(gaps, gap)
	}
	return gaps, shared.DataStore("iterate rate gaps", rows.Err())
}
