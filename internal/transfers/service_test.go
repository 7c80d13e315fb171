package transfers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/journal"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/treasurytest"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/workflow"
)

const (
	aedAccount int64 = 10
	usdAccount int64 = 20
	clerk      int64 = 100
	manager    int64 = 200
)

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	ledger := treasurytest.NewLedger()
	ledger.AddAccount(aedAccount, treasurytest.AED, 1010)
	ledger.AddAccount(usdAccount, treasurytest.USD, 1020)
	ledger.AddRate(usdAccount, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "3.6725")

	repo := newMemoryRepo(ledger)
	svc := NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)), "AED")
	svc.now = func() time.Time { return time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC) }
	return svc, repo
}

func input(from, to int64, amount string) Input {
	return Input{
		FromAccountID: from,
		ToAccountID:   to,
		TransferDate:  "2026-03-15",
		Amount:        decimal.RequireFromString(amount),
	}
}

func TestAmounts(t *testing.T) {
	cases := []struct {
		amount, rateFrom, rateTo string
		base, to                 string
	}{
		{"100.00", "3.6725", "1", "367.25", "367.25"},
		{"367.25", "1", "3.6725", "367.25", "100.00"},
		{"100.00", "3.6725", "4.0012", "367.25", "91.78"},
		{"0.01", "1", "3", "0.01", "0.00"},
	}
	for _, tc := range cases {
		base, to := Amounts(decimal.RequireFromString(tc.amount), decimal.RequireFromString(tc.rateFrom), decimal.RequireFromString(tc.rateTo))
		assert.Equal(t, tc.base, base.StringFixed(2), tc)
		assert.Equal(t, tc.to, to.StringFixed(2), tc)
	}
}

func TestCreateDerivesBothCurrencies(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tr, err := svc.Create(ctx, clerk, input(usdAccount, aedAccount, "100.00"))
	require.NoError(t, err)
	assert.Equal(t, "TRF-000001", tr.Number)
	assert.Equal(t, "USD", tr.FromCurrencyCode)
	assert.Equal(t, "AED", tr.ToCurrencyCode)
	assert.Equal(t, "367.25", tr.AmountBase.StringFixed(2))
	assert.Equal(t, "367.25", tr.AmountTo.StringFixed(2))
	assert.False(t, tr.RateOverridden)

	tr, err = svc.Create(ctx, clerk, input(aedAccount, usdAccount, "367.25"))
	require.NoError(t, err)
	assert.Equal(t, "TRF-000002", tr.Number)
	assert.Equal(t, "100.00", tr.AmountTo.StringFixed(2))
}

func TestCreateValidation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	cases := map[string]Input{
		"same account":    input(aedAccount, aedAccount, "10.00"),
		"zero amount":     input(aedAccount, usdAccount, "0"),
		"negative amount": input(aedAccount, usdAccount, "-5.00"),
		"three decimals":  input(aedAccount, usdAccount, "5.001"),
		"dust":            input(aedAccount, usdAccount, "0.01"),
		"override without rates": func() Input {
			in := input(aedAccount, usdAccount, "10.00")
			in.RateOverridden = true
			return in
		}(),
		"rate disagrees with history": func() Input {
			in := input(usdAccount, aedAccount, "10.00")
			in.RateFrom = decimal.NewNullDecimal(decimal.RequireFromString("3.70"))
			return in
		}(),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, clerk, in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, shared.ErrValidation), err.Error())
		})
	}

	_, err := svc.Create(ctx, clerk, input(aedAccount, 99, "10.00"))
	assert.True(t, errors.Is(err, shared.ErrNotFound))

	repo.Rates = nil
	_, err = svc.Create(ctx, clerk, input(usdAccount, aedAccount, "10.00"))
	assert.True(t, errors.Is(err, shared.ErrValidation))
	assert.Empty(t, repo.transfers)
}

func TestOverriddenRatesSurviveResave(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	in := input(usdAccount, aedAccount, "100.00")
	in.RateOverridden = true
	in.RateFrom = decimal.NewNullDecimal(decimal.RequireFromString("3.70"))
	in.RateTo = decimal.NewNullDecimal(decimal.NewFromInt(1))
	tr, err := svc.Create(ctx, clerk, in)
	require.NoError(t, err)
	assert.Equal(t, "370.00", tr.AmountBase.StringFixed(2))

	resave := input(usdAccount, aedAccount, "100.00")
	resave.RateOverridden = true
	tr, err = svc.Update(ctx, clerk, tr.ID, resave)
	require.NoError(t, err)
	assert.Equal(t, "3.7", tr.RateFrom.String())
	assert.Equal(t, "370.00", tr.AmountBase.StringFixed(2))
	assert.True(t, tr.RateOverridden)

	tr, err = svc.Update(ctx, clerk, tr.ID, input(usdAccount, aedAccount, "100.00"))
	require.NoError(t, err)
	assert.Equal(t, "3.6725", tr.RateFrom.String())
	assert.Equal(t, "367.25", tr.AmountBase.StringFixed(2))
	assert.False(t, tr.RateOverridden)
}

func TestApprovePostsTransferJournal(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	tr, err := svc.Create(ctx, clerk, input(usdAccount, aedAccount, "100.00"))
	require.NoError(t, err)

	_, err = svc.Approve(ctx, manager, tr.ID)
	require.True(t, errors.Is(err, shared.ErrValidation), "drafts cannot be approved")

	_, err = svc.Submit(ctx, clerk, tr.ID)
	require.NoError(t, err)
	tr, err = svc.Approve(ctx, manager, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, tr.Status)

	active := repo.ActiveJournals(journal.SourceTransfer, tr.ID)
	require.Len(t, active, 1)
	entry := active[0].Entry
	require.Len(t, entry.Lines, 2)
	assert.Equal(t, int64(1010), entry.Lines[0].AccountID)
	assert.Equal(t, "367.25", entry.Lines[0].Debit.StringFixed(2))
	assert.Equal(t, "100.00", entry.Lines[0].ForeignDebit.StringFixed(2))
	assert.Equal(t, int64(1020), entry.Lines[1].AccountID)
	assert.Equal(t, "367.25", entry.Lines[1].Credit.StringFixed(2))
	require.NotNil(t, entry.CurrencyID)
	assert.Equal(t, treasurytest.USD, *entry.CurrencyID)
	assert.Equal(t, []string{"create", "submit", "approve"}, repo.Actions(Module, tr.ID))
}

func TestReapprovalReplacesJournal(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	tr, err := svc.Create(ctx, clerk, input(aedAccount, usdAccount, "500.00"))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, clerk, tr.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, manager, tr.ID)
	require.NoError(t, err)

	_, err = svc.RequestEdit(ctx, clerk, tr.ID, "amount")
	require.NoError(t, err)
	_, err = svc.RequestEdit(ctx, clerk, tr.ID, "again")
	assert.True(t, errors.Is(err, shared.ErrValidation), "a pending request blocks another")

	_, err = svc.ApproveEditRequest(ctx, clerk, tr.ID)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	_, err = svc.ApproveEditRequest(ctx, manager, tr.ID)
	require.NoError(t, err)

	tr, err = svc.Update(ctx, clerk, tr.ID, input(aedAccount, usdAccount, "600.00"))
	require.NoError(t, err)
	assert.Equal(t, workflow.EditRequestNone, tr.EditRequestStatus)
	_, err = svc.Submit(ctx, clerk, tr.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, manager, tr.ID)
	require.NoError(t, err)

	active := repo.ActiveJournals(journal.SourceTransfer, tr.ID)
	require.Len(t, active, 1)
	assert.Equal(t, "600.00", active[0].Entry.TotalAmount.StringFixed(2))
	assert.Len(t, repo.Journals, 2)
}

func TestApproveRollsBackWhenJournalFails(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	tr, err := svc.Create(ctx, clerk, input(aedAccount, usdAccount, "50.00"))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, clerk, tr.ID)
	require.NoError(t, err)

	repo.CreateJournalErr = errors.New("broken pipe")
	_, err = svc.Approve(ctx, manager, tr.ID)
	require.True(t, errors.Is(err, shared.ErrDataStore))

	got, err := svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSubmitted, got.Status)
	assert.Empty(t, repo.Journals)
}

func TestRejectAndDelete(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	tr, err := svc.Create(ctx, clerk, input(aedAccount, usdAccount, "50.00"))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, clerk, tr.ID)
	require.NoError(t, err)
	require.True(t, errors.Is(svc.Delete(ctx, clerk, tr.ID), shared.ErrValidation))

	tr, err = svc.Reject(ctx, manager, tr.ID, "wrong account")
	require.NoError(t, err)
	assert.Equal(t, "wrong account", tr.RejectionReason)

	_, err = svc.Update(ctx, clerk, tr.ID, input(aedAccount, usdAccount, "40.00"))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, clerk, tr.ID))

	_, err = svc.Get(ctx, tr.ID)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
	assert.Equal(t, []string{"create", "submit", "reject", "edit", "delete"}, repo.Actions(Module, tr.ID))
}
