package transfers

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-treasury/internal/platform/db"
	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/fx"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/journal"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/numbering"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/workflow"
)

// Repository defines transfer data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transfer, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	fx.Store
	numbering.Store
	journal.Store
	shared.HistorySink

	GetForUpdate(ctx context.Context, id int64) (Transfer, error)
	Insert(ctx context.Context, t Transfer) (int64, error)
	UpdateDetails(ctx context.Context, t Transfer, from, to workflow.State) error
	UpdateState(ctx context.Context, id int64, from workflow.State, change workflow.Change) error
	SoftDelete(ctx context.Context, id int64, from workflow.State, change workflow.Change) error
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
		return fn(ctx, &pgTxRepository{
			AccountStore:  fx.NewAccountStore(tx),
			PostingStore:  journal.NewPostingStore(tx),
			HistoryWriter: shared.NewHistoryWriter(tx),
			tx:            tx,
		})
	})
}

func (r *pgRepository) Get(ctx context.Context, id int64) (Transfer, error) {
	return getTransfer(ctx, r.pool, id, false)
}

type pgTxRepository struct {
	*fx.AccountStore
	*journal.PostingStore
	*shared.HistoryWriter
	tx pgx.Tx
}

const transferColumns = `id, number, from_account_id, to_account_id, transfer_date,
from_currency_code, from_currency_id, to_currency_code, to_currency_id,
amount_from_currency, rate_from_to_base, rate_to_to_base, amount_base, amount_to_currency, rate_overridden,
reference, notes, status, edit_request_status, created_by,
submitted_by, submitted_at, approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
edit_requested_by, edit_requested_at, edit_request_reason, edit_reviewed_by, edit_reviewed_at,
edit_rejection_reason, is_deleted, created_at, updated_at`

func getTransfer(ctx context.Context, q db.Querier, id int64, lock bool) (Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM fund_transfers WHERE id = $1 AND NOT is_deleted`
	if lock {
		query += ` FOR UPDATE`
	}
	var t Transfer
	var status int
	var editStatus string
	err := q.QueryRow(ctx, query, id).Scan(&t.ID, &t.Number, &t.FromAccountID, &t.ToAccountID, &t.TransferDate,
		&t.FromCurrencyCode, &t.FromCurrencyID, &t.ToCurrencyCode, &t.ToCurrencyID,
		&t.AmountFrom, &t.RateFrom, &t.RateTo, &t.AmountBase, &t.AmountTo, &t.RateOverridden,
		&t.Reference, &t.Notes, &status, &editStatus, &t.CreatedBy,
		&t.SubmittedBy, &t.SubmittedAt, &t.ApprovedBy, &t.ApprovedAt, &t.RejectedBy, &t.RejectedAt, &t.RejectionReason,
		&t.EditRequestedBy, &t.EditRequestedAt, &t.EditRequestReason, &t.EditReviewedBy, &t.EditReviewedAt,
		&t.EditRejectionReason, &t.IsDeleted, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, shared.NotFoundf("fund transfer %d", id)
	}
	if err != nil {
		return Transfer{}, shared.DataStore("get fund transfer", err)
	}
	t.Status = workflow.Status(status)
	t.EditRequestStatus = workflow.EditRequestStatus(editStatus)
	return t, nil
}

func (r *pgTxRepository) LastNumber(ctx context.Context, prefix string) (string, error) {
	return numbering.LastNumberIn(ctx, r.tx, "fund_transfers", prefix)
}

func (r *pgTxRepository) GetForUpdate(ctx context.Context, id int64) (Transfer, error) {
	return getTransfer(ctx, r.tx, id, true)
}

func (r *pgTxRepository) Insert(ctx context.Context, t Transfer) (int64, error) {
	const query = `INSERT INTO fund_transfers (number, from_account_id, to_account_id, transfer_date,
from_currency_code, from_currency_id, to_currency_code, to_currency_id,
amount_from_currency, rate_from_to_base, rate_to_to_base, amount_base, amount_to_currency, rate_overridden,
reference, notes, status, edit_request_status, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
RETURNING id`
	var id int64
	err := r.tx.QueryRow(ctx, query, t.Number, t.FromAccountID, t.ToAccountID, t.TransferDate,
		t.FromCurrencyCode, t.FromCurrencyID, t.ToCurrencyCode, t.ToCurrencyID,
		t.AmountFrom, t.RateFrom, t.RateTo, t.AmountBase, t.AmountTo, t.RateOverridden,
		t.Reference, t.Notes, int(t.Status), string(t.EditRequestStatus), t.CreatedBy).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, numbering.Collision(t.Number, err)
		}
		return 0, shared.DataStore("insert fund transfer", err)
	}
	return id, nil
}

func (r *pgTxRepository) UpdateDetails(ctx context.Context, t Transfer, from, to workflow.State) error {
	const query = `UPDATE fund_transfers SET from_account_id = $2, to_account_id = $3, transfer_date = $4,
from_currency_code = $5, from_currency_id = $6, to_currency_code = $7, to_currency_id = $8,
amount_from_currency = $9, rate_from_to_base = $10, rate_to_to_base = $11, amount_base = $12,
amount_to_currency = $13, rate_overridden = $14, reference = $15, notes = $16,
status = $17, edit_request_status = $18, updated_at = NOW()
WHERE id = $1 AND status = $19 AND edit_request_status = $20 AND NOT is_deleted`
	tag, err := r.tx.Exec(ctx, query, t.ID, t.FromAccountID, t.ToAccountID, t.TransferDate,
		t.FromCurrencyCode, t.FromCurrencyID, t.ToCurrencyCode, t.ToCurrencyID,
		t.AmountFrom, t.RateFrom, t.RateTo, t.AmountBase, t.AmountTo, t.RateOverridden,
		t.Reference, t.Notes, int(to.Status), string(to.EditRequest), int(from.Status), string(from.EditRequest))
	if err != nil {
		return shared.DataStore("update fund transfer", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.Validationf("fund transfer %d was changed concurrently", t.ID)
	}
	return nil
}

func (r *pgTxRepository) UpdateState(ctx context.Context, id int64, from workflow.State, change workflow.Change) error {
	query, args := workflow.UpdateStatement("fund_transfers", id, from, change)
	tag, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return shared.DataStore("update fund transfer status", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.Validationf("fund transfer %d was changed concurrently", id)
	}
	return nil
}

func (r *pgTxRepository) SoftDelete(ctx context.Context, id int64, from workflow.State, change workflow.Change) error {
	tag, err := r.tx.Exec(ctx, `UPDATE fund_transfers SET is_deleted = TRUE, deleted_by = $2, deleted_at = $3, updated_at = NOW()
WHERE id = $1 AND status = $4 AND edit_request_status = $5 AND NOT is_deleted`,
		id, change.Actor, change.At, int(from.Status), string(from.EditRequest))
	if err != nil {
		return shared.DataStore("delete fund transfer", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.Validationf("fund transfer %d was changed concurrently", id)
	}
	return nil
}
