//go:build integration

package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-treasury/internal/platform/db/dbtest"
	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/workflow"
)

func TestPostgresPaymentLifecycle(t *testing.T) {
	pool := dbtest.Start(t)
	dbtest.Seed(t, pool, dbtest.BaseFixtures...)
	dbtest.Seed(t, pool,
		`INSERT INTO bills (id, number, supplier_id, total_amount, currency_id, open_balance) VALUES
			(1, 'BILL-1', 7, 100.00, 1, 100.00),
			(2, 'BILL-2', 7, 250.00, 1, 250.00)`,
	)

	ctx := context.Background()
	svc := NewService(NewRepository(pool), slog.New(slog.NewTextHandler(io.Discard, nil)), "AED")

	p, err := svc.Create(ctx, clerk, outInput(aedAccount, alloc(bill1, "60.00"), alloc(bill2, "100.00")))
	require.NoError(t, err)
	assert.Equal(t, "PAY-OUT-000001", p.Number)
	assert.Len(t, p.Allocations, 2)
	assert.Equal(t, "40.00", openBalance(t, svc, 1))

	_, err = svc.Create(ctx, clerk, outInput(aedAccount, alloc(bill1, "40.01")))
	require.True(t, errors.Is(err, shared.ErrValidation))
	assert.Equal(t, "40.00", openBalance(t, svc, 1))

	p, err = svc.Update(ctx, clerk, p.ID, outInput(aedAccount, alloc(bill1, "100.00")))
	require.NoError(t, err)
	assert.Len(t, p.Allocations, 1)
	assert.Equal(t, "250.00", openBalance(t, svc, 2))

	_, err = svc.Submit(ctx, clerk, p.ID)
	require.NoError(t, err)
	p, err = svc.Approve(ctx, manager, p.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, p.Status)

	_, err = svc.RequestEdit(ctx, clerk, p.ID, "amount")
	require.NoError(t, err)
	_, err = svc.ApproveEditRequest(ctx, manager, p.ID)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, clerk, p.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, manager, p.ID)
	require.NoError(t, err)

	var active, total int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE NOT is_deleted), COUNT(*) FROM gl_journals WHERE source_type = 'PAYMENT' AND source_id = $1`,
		p.ID).Scan(&active, &total))
	assert.Equal(t, 1, active)
	assert.Equal(t, 2, total)

	var debit, credit decimal.Decimal
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
		FROM gl_journal_lines l JOIN gl_journals j ON j.id = l.journal_id
		WHERE j.source_id = $1 AND NOT j.is_deleted`, p.ID).Scan(&debit, &credit))
	assert.True(t, debit.Equal(credit))
	assert.Equal(t, "100.00", debit.StringFixed(2))

	var actions int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM history WHERE module = $1 AND entity_id = $2`, Module, p.ID).Scan(&actions))
	assert.Equal(t, 8, actions)
}

func openBalance(t *testing.T, svc *Service, billID int64) string {
	t.Helper()
	var balance decimal.Decimal
	err := svc.repo.(*pgRepository).pool.QueryRow(context.Background(),
		`SELECT open_balance FROM bills WHERE id = $1`, billID).Scan(&balance)
	require.NoError(t, err)
	return balance.StringFixed(2)
}
