package journal

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-treasury/internal/platform/db"
	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
)

// PostingStore implements Store and MappingStore over a pool or transaction.
type PostingStore struct {
	q db.Querier
}

// NewPostingStore constructs a Postgres backed journal store.
func NewPostingStore(q db.Querier) *PostingStore {
	return &PostingStore{q: q}
}

var (
	_ Store        = (*PostingStore)(nil)
	_ MappingStore = (*PostingStore)(nil)
)

// GetAccountMapping resolves a ledger account configured for module and key.
func (s *PostingStore) GetAccountMapping(ctx context.Context, module, key string) (int64, error) {
	if module == "" || key == "" {
		return 0, shared.Validationf("mapping module and key required")
	}
	var accountID int64
	err := s.q.QueryRow(ctx, `SELECT account_id FROM account_mappings WHERE module = $1 AND key = $2`,
		strings.ToUpper(module), key).Scan(&accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.NotFoundf("account mapping %s/%s", module, key)
	}
	if err != nil {
		return 0, shared.DataStore("get account mapping", err)
	}
	return accountID, nil
}

// SoftDeleteJournals marks active journals of the source deleted.
func (s *PostingStore) SoftDeleteJournals(ctx context.Context, sourceType SourceType, sourceID int64) (int64, error) {
	tag, err := s.q.Exec(ctx, `UPDATE gl_journals SET is_deleted = TRUE, deleted_at = NOW()
WHERE source_type = $1 AND source_id = $2 AND NOT is_deleted`, string(sourceType), sourceID)
	if err != nil {
		return 0, shared.DataStore("soft delete journals", err)
	}
	return tag.RowsAffected(), nil
}

// CreateJournal inserts the header and its lines.
func (s *PostingStore) CreateJournal(ctx context.Context, entry Entry) (int64, error) {
	const header = `INSERT INTO gl_journals (source_type, source_id, source_ref, journal_date, memo, currency_id,
exchange_rate, foreign_amount, total_amount, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`
	var id int64
	err := s.q.QueryRow(ctx, header, string(entry.SourceType), entry.SourceID, entry.SourceRef, entry.Date, entry.Memo,
		entry.CurrencyID, entry.ExchangeRate, entry.ForeignAmount, entry.TotalAmount, nullableID(entry.CreatedBy)).Scan(&id)
	if err != nil {
		return 0, shared.DataStore("insert journal", err)
	}
	const line = `INSERT INTO gl_journal_lines (journal_id, account_id, debit, credit, foreign_debit, foreign_credit,
party_id, obligation_kind, obligation_id, is_advance, memo)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)`
	for _, l := range entry.Lines {
		if _, err := s.q.Exec(ctx, line, id, l.AccountID, l.Debit, l.Credit, l.ForeignDebit, l.ForeignCredit,
			l.PartyID, l.ObligationKind, l.ObligationID, l.IsAdvance, l.Memo); err != nil {
			return 0, shared.DataStore("insert journal line", err)
		}
	}
	return id, nil
}

// Anomaly is a source whose journals violate the posting invariants.
type Anomaly struct {
	SourceType  SourceType
	SourceID    int64
	Number      string
	ActiveCount int
	JournalID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Unbalanced  bool
}

// ListMissingOrDuplicated returns approved sources that do not have exactly
// one active journal.
func (s *PostingStore) ListMissingOrDuplicated(ctx context.Context) ([]Anomaly, error) {
	const query = `SELECT 'PAYMENT', p.id, p.number, COUNT(j.id)
FROM payments p
LEFT JOIN gl_journals j ON j.source_type = 'PAYMENT' AND j.source_id = p.id AND NOT j.is_deleted
WHERE p.status = 1 AND NOT p.is_deleted
GROUP BY p.id, p.number
HAVING COUNT(j.id) <> 1
UNION ALL
SELECT 'FUND_TRANSFER', t.id, t.number, COUNT(j.id)
FROM fund_transfers t
LEFT JOIN gl_journals j ON j.source_type = 'FUND_TRANSFER' AND j.source_id = t.id AND NOT j.is_deleted
WHERE t.status = 1 AND NOT t.is_deleted
GROUP BY t.id, t.number
HAVING COUNT(j.id) <> 1`
	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, shared.DataStore("list journal gaps", err)
	}
	defer rows.Close()
	var out []Anomaly
	for rows.Next() {
		var a Anomaly
		var sourceType string
		if err := rows.Scan(&sourceType, &a.SourceID, &a.Number, &a.ActiveCount); err != nil {
			return nil, shared.DataStore("scan journal gap", err)
		}
		a.SourceType = SourceType(sourceType)
		out = append(out, a)
	}
	return out, shared.DataStore("iterate journal gaps", rows.Err())
}

// ListUnbalanced returns active journals whose lines do not balance.
func (s *PostingStore) ListUnbalanced(ctx context.Context) ([]Anomaly, error) {
	const query = `SELECT j.id, j.source_type, j.source_id, COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM gl_journals j
LEFT JOIN gl_journal_lines l ON l.journal_id = j.id
WHERE NOT j.is_deleted
GROUP BY j.id, j.source_type, j.source_id
HAVING COALESCE(SUM(l.debit), 0) <> COALESCE(SUM(l.credit), 0)`
	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, shared.DataStore("list unbalanced journals", err)
	}
	defer rows.Close()
	var out []Anomaly
	for rows.Next() {
		a := Anomaly{Unbalanced: true, ActiveCount: 1}
		var sourceType string
		if err := rows.Scan(&a.JournalID, &sourceType, &a.SourceID, &a.Debit, &a.Credit); err != nil {
			return nil, shared.DataStore("scan unbalanced journal", err)
		}
		a.SourceType = SourceType(sourceType)
		out = append(out, a)
	}
	return out, shared.DataStore("iterate unbalanced journals", rows.Err())
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
