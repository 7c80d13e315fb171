package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-treasury/internal/jobs"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/allocation"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/journal"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubIntegrity struct {
	gaps       []journal.Anomaly
	unbalanced []journal.Anomaly
	err        error
}

func (s stubIntegrity) ListMissingOrDuplicated(context.Context) ([]journal.Anomaly, error) {
	return s.gaps, s.err
}

func (s stubIntegrity) ListUnbalanced(context.Context) ([]journal.Anomaly, error) {
	return s.unbalanced, nil
}

func TestJournalIntegrityPublishesAnomalyCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewJournalIntegrityJob(stubIntegrity{
		gaps: []journal.Anomaly{
			{SourceType: journal.SourcePayment, SourceID: 1, Number: "PAY-OUT-000001"},
			{SourceType: journal.SourceTransfer, SourceID: 4, Number: "TRF-000004", ActiveCount: 2},
		},
		unbalanced: []journal.Anomaly{
			{JournalID: 9, Debit: decimal.RequireFromString("10.00"), Credit: decimal.RequireFromString("9.99"), Unbalanced: true},
		},
	}, quietLogger(), metrics)

	require.NoError(t, job.Handle(context.Background(), NewJournalIntegrityTask()))

	count, err := testutil.GatherAndCount(reg, "odyssey_treasury_journal_anomalies")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	runs, err := testutil.GatherAndCount(reg, "odyssey_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
}

func TestJournalIntegrityReportsStoreFailure(t *testing.T) {
	job := NewJournalIntegrityJob(stubIntegrity{err: errors.New("boom")}, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.Error(t, job.Handle(context.Background(), NewJournalIntegrityTask()))
}

func TestJournalIntegrityRequiresStore(t *testing.T) {
	var job *JournalIntegrityJob
	require.Error(t, job.Handle(context.Background(), NewJournalIntegrityTask()))
}

type fakeObligations struct {
	obligations map[allocation.Ref]allocation.Obligation
	recorded    map[allocation.Ref][]allocation.Recorded
	txs         int
	failTx      int
}

func newFakeObligations() *fakeObligations {
	return &fakeObligations{
		obligations: make(map[allocation.Ref]allocation.Obligation),
		recorded:    make(map[allocation.Ref][]allocation.Recorded),
	}
}

func (f *fakeObligations) add(ref allocation.Ref, total, open string, recorded ...allocation.Recorded) {
	aed := int64(1)
	f.obligations[ref] = allocation.Obligation{
		Ref:         ref,
		Total:       decimal.RequireFromString(total),
		OpenBalance: decimal.RequireFromString(open),
		CurrencyID:  &aed,
	}
	f.recorded[ref] = recorded
}

func (f *fakeObligations) ListRefs(context.Context) ([]allocation.Ref, error) {
	refs := make([]allocation.Ref, 0, len(f.obligations))
	for ref := range f.obligations {
		refs = append(refs, ref)
	}
	return refs, nil
}

func (f *fakeObligations) WithTx(ctx context.Context, fn func(context.Context, allocation.Store) error) error {
	f.txs++
	if f.failTx == f.txs {
		return errors.New("tx aborted")
	}
	return fn(ctx, f)
}

func (f *fakeObligations) GetObligation(_ context.Context, ref allocation.Ref) (allocation.Obligation, error) {
	return f.obligations[ref], nil
}

func (f *fakeObligations) ListObligationAllocations(_ context.Context, ref allocation.Ref) ([]allocation.Recorded, error) {
	return f.recorded[ref], nil
}

func (f *fakeObligations) UpdateOpenBalance(_ context.Context, ref allocation.Ref, balance decimal.Decimal) error {
	ob := f.obligations[ref]
	ob.OpenBalance = balance
	f.obligations[ref] = ob
	return nil
}

func (f *fakeObligations) open(ref allocation.Ref) string {
	return f.obligations[ref].OpenBalance.StringFixed(2)
}

func TestBalanceRefreshRewritesDriftedBalances(t *testing.T) {
	aed, usd := int64(1), int64(2)
	bill := allocation.Ref{Kind: allocation.KindBill, ID: 1}
	invoice := allocation.Ref{Kind: allocation.KindInvoice, ID: 2}
	store := newFakeObligations()
	store.add(bill, "100.00", "100.00",
		allocation.Recorded{PaymentID: 1, Amount: decimal.RequireFromString("40.00"), AmountBase: decimal.RequireFromString("40.00"), CurrencyID: &aed})
	store.add(invoice, "1000.00", "0.00",
		allocation.Recorded{PaymentID: 2, Amount: decimal.RequireFromString("100.00"), AmountBase: decimal.RequireFromString("367.25"), CurrencyID: &usd})

	reg := prometheus.NewRegistry()
	job := NewBalanceRefreshJob(store, quietLogger(), jobmetrics.NewMetrics(reg))
	task, err := NewBalanceRefreshTask(BalanceRefreshPayload{})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, "60.00", store.open(bill))
	assert.Equal(t, "632.75", store.open(invoice))
	assert.Equal(t, 1, store.txs)
	refreshed, err := testutil.GatherAndCount(reg, "odyssey_treasury_balances_refreshed_total")
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed)
}

func TestBalanceRefreshFiltersByKind(t *testing.T) {
	bill := allocation.Ref{Kind: allocation.KindBill, ID: 1}
	invoice := allocation.Ref{Kind: allocation.KindInvoice, ID: 2}
	store := newFakeObligations()
	store.add(bill, "100.00", "1.00")
	store.add(invoice, "50.00", "2.00")

	job := NewBalanceRefreshJob(store, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewBalanceRefreshTask(BalanceRefreshPayload{Kind: allocation.KindInvoice})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, "1.00", store.open(bill))
	assert.Equal(t, "50.00", store.open(invoice))
}

func TestBalanceRefreshBatchesTransactions(t *testing.T) {
	store := newFakeObligations()
	for i := 1; i <= refreshBatch+1; i++ {
		store.add(allocation.Ref{Kind: allocation.KindBill, ID: int64(i)}, "10.00", "0.00")
	}
	job := NewBalanceRefreshJob(store, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewBalanceRefreshTask(BalanceRefreshPayload{})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 2, store.txs)
}

func TestBalanceRefreshSurfacesTxFailure(t *testing.T) {
	store := newFakeObligations()
	store.add(allocation.Ref{Kind: allocation.KindBill, ID: 1}, "10.00", "0.00")
	store.failTx = 1
	job := NewBalanceRefreshJob(store, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewBalanceRefreshTask(BalanceRefreshPayload{})
	require.NoError(t, err)

	require.Error(t, job.Handle(context.Background(), task))
}

func TestBalanceRefreshSkipsRetryOnBadPayload(t *testing.T) {
	job := NewBalanceRefreshJob(newFakeObligations(), quietLogger(), nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskBalanceRefresh, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskBalanceRefresh, []byte(`{"kind":"RECEIPT"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, quietLogger()).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"retry":0}`, rec.Body.String())
}
