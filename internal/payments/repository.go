package payments

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-treasury/internal/platform/db"
	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/allocation"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/fx"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/journal"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/numbering"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/workflow"
)

// Repository defines payment data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Payment, error)
}

// TxRepository defines operations within a transaction. It also serves the
// currency, allocation, numbering, journal and history stores so every step
// of an operation shares one transaction.
type TxRepository interface {
	fx.Store
	allocation.Store
	numbering.Store
	journal.Store
	journal.MappingStore
	shared.HistorySink

	// GetForUpdate loads and locks a payment with its allocations.
	GetForUpdate(ctx context.Context, id int64) (Payment, error)
	Insert(ctx context.Context, p Payment) (int64, error)
	// UpdateDetails replaces the editable fields and moves the payment to
	// state to, provided it is still in state from.
	UpdateDetails(ctx context.Context, p Payment, from, to workflow.State) error
	// UpdateState applies a transition provided the payment is still in state from.
	UpdateState(ctx context.Context, id int64, from workflow.State, change workflow.Change) error
	SoftDelete(ctx context.Context, id int64, from workflow.State, change workflow.Change) error

	ListAllocations(ctx context.Context, paymentID int64) ([]allocation.Line, error)
	InsertAllocation(ctx context.Context, paymentID int64, line allocation.Line) error
	UpdateAllocation(ctx context.Context, paymentID int64, line allocation.Line) error
	DeleteAllocation(ctx context.Context, paymentID int64, ref allocation.Ref) error
}

var (
	_ Repository   = (*pgRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newTxRepository(tx))
	})
}

func (r *pgRepository) Get(ctx context.Context, id int64) (Payment, error) {
	return getPayment(ctx, r.pool, id, false)
}

type pgTxRepository struct {
	*fx.AccountStore
	*allocation.ObligationStore
	*journal.PostingStore
	*shared.HistoryWriter
	tx pgx.Tx
}

func newTxRepository(tx pgx.Tx) *pgTxRepository {
	return &pgTxRepository{
		AccountStore:    fx.NewAccountStore(tx),
		ObligationStore: allocation.NewObligationStore(tx),
		PostingStore:    journal.NewPostingStore(tx),
		HistoryWriter:   shared.NewHistoryWriter(tx),
		tx:              tx,
	}
}

const paymentColumns = `id, number, direction, party_type, party_id, payment_method, bank_account_id,
transaction_date, currency_code, currency_id, total_amount_bank, total_amount_base, fx_rate,
reference, notes, status, edit_request_status, created_by,
submitted_by, submitted_at, approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
edit_requested_by, edit_requested_at, edit_request_reason, edit_reviewed_by, edit_reviewed_at,
edit_rejection_reason, is_deleted, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var status int
	var editStatus string
	err := row.Scan(&p.ID, &p.Number, &p.Direction, &p.PartyType, &p.PartyID, &p.Method, &p.BankAccountID,
		&p.TransactionDate, &p.CurrencyCode, &p.CurrencyID, &p.TotalAmountBank, &p.TotalAmountBase, &p.FxRate,
		&p.Reference, &p.Notes, &status, &editStatus, &p.CreatedBy,
		&p.SubmittedBy, &p.SubmittedAt, &p.ApprovedBy, &p.ApprovedAt, &p.RejectedBy, &p.RejectedAt, &p.RejectionReason,
		&p.EditRequestedBy, &p.EditRequestedAt, &p.EditRequestReason, &p.EditReviewedBy, &p.EditReviewedAt,
		&p.EditRejectionReason, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Payment{}, err
	}
	p.Status = workflow.Status(status)
	p.EditRequestStatus = workflow.EditRequestStatus(editStatus)
	return p, nil
}

func getPayment(ctx context.Context, q db.Querier, id int64, lock bool) (Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 AND NOT is_deleted`
	if lock {
		query += ` FOR UPDATE`
	}
	p, err := scanPayment(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, shared.NotFoundf("payment %d", id)
	}
	if err != nil {
		return Payment{}, shared.DataStore("get payment", err)
	}
	p.Allocations, err = listAllocations(ctx, q, id)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

func listAllocations(ctx context.Context, q db.Querier, paymentID int64) ([]allocation.Line, error) {
	rows, err := q.Query(ctx, `SELECT obligation_kind, obligation_id, amount, amount_base
FROM payment_allocations WHERE payment_id = $1 ORDER BY id`, paymentID)
	if err != nil {
		return nil, shared.DataStore("list allocations", err)
	}
	defer rows.Close()
	lines := []allocation.Line{}
	for rows.Next() {
		var line allocation.Line
		var kind string
		if err := rows.Scan(&kind, &line.ID, &line.Amount, &line.AmountBase); err != nil {
			return nil, shared.DataStore("scan allocation", err)
		}
		line.Kind = allocation.Kind(kind)
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.DataStore("iterate allocations", err)
	}
	return lines, nil
}

func (t *pgTxRepository) LastNumber(ctx context.Context, prefix string) (string, error) {
	return numbering.LastNumberIn(ctx, t.tx, "payments", prefix)
}

func (t *pgTxRepository) GetForUpdate(ctx context.Context, id int64) (Payment, error) {
	return getPayment(ctx, t.tx, id, true)
}

func (t *pgTxRepository) Insert(ctx context.Context, p Payment) (int64, error) {
	const query = `INSERT INTO payments (number, direction, party_type, party_id, payment_method, bank_account_id,
transaction_date, currency_code, currency_id, total_amount_bank, total_amount_base, fx_rate,
reference, notes, status, edit_request_status, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, query, p.Number, string(p.Direction), string(p.PartyType), p.PartyID, string(p.Method),
		p.BankAccountID, p.TransactionDate, p.CurrencyCode, p.CurrencyID, p.TotalAmountBank, p.TotalAmountBase, p.FxRate,
		p.Reference, p.Notes, int(p.Status), string(p.EditRequestStatus), p.CreatedBy).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, numbering.Collision(p.Number, err)
		}
		return 0, shared.DataStore("insert payment", err)
	}
	return id, nil
}

func (t *pgTxRepository) UpdateDetails(ctx context.Context, p Payment, from, to workflow.State) error {
	const query = `UPDATE payments SET party_type = $2, party_id = $3, payment_method = $4, bank_account_id = $5,
transaction_date = $6, currency_code = $7, currency_id = $8, total_amount_bank = $9, total_amount_base = $10,
fx_rate = $11, reference = $12, notes = $13, status = $14, edit_request_status = $15, updated_at = NOW()
WHERE id = $1 AND status = $16 AND edit_request_status = $17 AND NOT is_deleted`
	tag, err := t.tx.Exec(ctx, query, p.ID, string(p.PartyType), p.PartyID, string(p.Method), p.BankAccountID,
		p.TransactionDate, p.CurrencyCode, p.CurrencyID, p.TotalAmountBank, p.TotalAmountBase,
		p.FxRate, p.Reference, p.Notes, int(to.Status), string(to.EditRequest), int(from.Status), string(from.EditRequest))
	if err != nil {
		return shared.DataStore("update payment", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.Validationf("payment %d was changed concurrently", p.ID)
	}
	return nil
}

func (t *pgTxRepository) UpdateState(ctx context.Context, id int64, from workflow.State, change workflow.Change) error {
	query, args := workflow.UpdateStatement("payments", id, from, change)
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return shared.DataStore("update payment status", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.Validationf("payment %d was changed concurrently", id)
	}
	return nil
}

func (t *pgTxRepository) SoftDelete(ctx context.Context, id int64, from workflow.State, change workflow.Change) error {
	tag, err := t.tx.Exec(ctx, `UPDATE payments SET is_deleted = TRUE, deleted_by = $2, deleted_at = $3, updated_at = NOW()
WHERE id = $1 AND status = $4 AND edit_request_status = $5 AND NOT is_deleted`,
		id, change.Actor, change.At, int(from.Status), string(from.EditRequest))
	if err != nil {
		return shared.DataStore("delete payment", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.Validationf("payment %d was changed concurrently", id)
	}
	return nil
}

func (t *pgTxRepository) ListAllocations(ctx context.Context, paymentID int64) ([]allocation.Line, error) {
	return listAllocations(ctx, t.tx, paymentID)
}

func (t *pgTxRepository) InsertAllocation(ctx context.Context, paymentID int64, line allocation.Line) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO payment_allocations (payment_id, obligation_kind, obligation_id, amount, amount_base)
VALUES ($1, $2, $3, $4, $5)`, paymentID, string(line.Kind), line.ID, line.Amount, line.AmountBase)
	return shared.DataStore("insert allocation", err)
}

func (t *pgTxRepository) UpdateAllocation(ctx context.Context, paymentID int64, line allocation.Line) error {
	_, err := t.tx.Exec(ctx, `UPDATE payment_allocations SET amount = $4, amount_base = $5
WHERE payment_id = $1 AND obligation_kind = $2 AND obligation_id = $3`,
		paymentID, string(line.Kind), line.ID, line.Amount, line.AmountBase)
	return shared.DataStore("update allocation", err)
}

func (t *pgTxRepository) DeleteAllocation(ctx context.Context, paymentID int64, ref allocation.Ref) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM payment_allocations WHERE payment_id = $1 AND obligation_kind = $2 AND obligation_id = $3`,
		paymentID, string(ref.Kind), ref.ID)
	return shared.DataStore("delete allocation", err)
}
