package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/odyssey-erp/odyssey-treasury/internal/jobs"
	"github.com/odyssey-erp/odyssey-treasury/internal/platform/db"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/allocation"
)

// refreshBatch bounds the number of obligations recomputed per transaction.
const refreshBatch = 200

// BalanceStore exposes the obligations to refresh and a transactional
// allocation store to recompute them with.
type BalanceStore interface {
	ListRefs(ctx context.Context) ([]allocation.Ref, error)
	WithTx(ctx context.Context, fn func(ctx context.Context, store allocation.Store) error) error
}

// BalanceRefreshJob recomputes every cached open balance from the recorded
// allocations of non-deleted payments.
type BalanceRefreshJob struct {
	Store   BalanceStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewBalanceRefreshJob constructs the job handler.
func NewBalanceRefreshJob(store BalanceStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *BalanceRefreshJob {
	return &BalanceRefreshJob{Store: store, Logger: logger, Metrics: metrics, clock: time.Now}
}

// Handle executes the refresh.
func (j *BalanceRefreshJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("balance refresh: dependencies not configured")
	}
	var payload BalanceRefreshPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("balance refresh: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.Kind != "" && !payload.Kind.Valid() {
		return fmt.Errorf("balance refresh: unknown kind %q: %w", payload.Kind, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskBalanceRefresh)
	start := j.now()

	refs, err := j.Store.ListRefs(ctx)
	if err != nil {
		j.log().Error("list obligations", slog.Any("error", err))
		return tracker.End(err)
	}
	if payload.Kind != "" {
		filtered := refs[:0]
		for _, ref := range refs {
			if ref.Kind == payload.Kind {
				filtered = append(filtered, ref)
			}
		}
		refs = filtered
	}

	counts := make(map[allocation.Kind]int)
	for offset := 0; offset < len(refs); offset += refreshBatch {
		batch := refs[offset:min(offset+refreshBatch, len(refs))]
		err := j.Store.WithTx(ctx, func(ctx context.Context, store allocation.Store) error {
			return allocation.Recompute(ctx, store, batch...)
		})
		if err != nil {
			j.log().Error("recompute balances", slog.Int("offset", offset), slog.Any("error", err))
			return tracker.End(err)
		}
		for _, ref := range batch {
			counts[ref.Kind]++
		}
	}
	for kind, n := range counts {
		j.metrics().AddRefreshed(string(kind), n)
	}
	j.log().Info("refreshed open balances", slog.Int("obligations", len(refs)), slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *BalanceRefreshJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *BalanceRefreshJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBalanceRefresh))
	}
	return slog.Default().With(slog.String("job", TaskBalanceRefresh))
}

func (j *BalanceRefreshJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// PGBalanceStore backs BalanceStore with Postgres.
type PGBalanceStore struct {
	pool *pgxpool.Pool
}

// NewPGBalanceStore returns a store over pool.
func NewPGBalanceStore(pool *pgxpool.Pool) *PGBalanceStore {
	return &PGBalanceStore{pool: pool}
}

// ListRefs lists every obligation.
func (s *PGBalanceStore) ListRefs(ctx context.Context) ([]allocation.Ref, error) {
	return allocation.NewObligationStore(s.pool).ListRefs(ctx)
}

// WithTx runs fn with an obligation store bound to one transaction.
func (s *PGBalanceStore) WithTx(ctx context.Context, fn func(ctx context.Context, store allocation.Store) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, allocation.NewObligationStore(tx))
	})
}
