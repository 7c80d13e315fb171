package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-treasury/internal/jobs"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/journal"
)

// Anomaly kinds reported by the integrity scan.
const (
	AnomalyMissingOrDuplicated = "missing_or_duplicated"
	AnomalyUnbalanced          = "unbalanced"
)

// IntegrityStore lists journal anomalies.
type IntegrityStore interface {
	ListMissingOrDuplicated(ctx context.Context) ([]journal.Anomaly, error)
	ListUnbalanced(ctx context.Context) ([]journal.Anomaly, error)
}

// JournalIntegrityJob reports approved payments and transfers that do not
// have exactly one active journal, and active journals that do not balance.
// Both can be left behind by a crash between soft-deleting and re-posting.
type JournalIntegrityJob struct {
	Store   IntegrityStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewJournalIntegrityJob constructs the job handler.
func NewJournalIntegrityJob(store IntegrityStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *JournalIntegrityJob {
	return &JournalIntegrityJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle executes the scan. Anomalies are findings, not failures.
func (j *JournalIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("journal integrity: dependencies not configured")
	}
	tracker := j.metrics().Track(TaskJournalIntegrity)

	gaps, err := j.Store.ListMissingOrDuplicated(ctx)
	if err != nil {
		j.log().Error("list journal gaps", slog.Any("error", err))
		return tracker.End(err)
	}
	unbalanced, err := j.Store.ListUnbalanced(ctx)
	if err != nil {
		j.log().Error("list unbalanced journals", slog.Any("error", err))
		return tracker.End(err)
	}

	for _, a := range gaps {
		j.log().Warn("approved record without exactly one active journal",
			slog.String("source_type", string(a.SourceType)),
			slog.Int64("source_id", a.SourceID),
			slog.String("number", a.Number),
			slog.Int("active_journals", a.ActiveCount))
	}
	for _, a := range unbalanced {
		j.log().Warn("unbalanced journal",
			slog.Int64("journal_id", a.JournalID),
			slog.String("source_type", string(a.SourceType)),
			slog.Int64("source_id", a.SourceID),
			slog.String("debit", a.Debit.StringFixed(2)),
			slog.String("credit", a.Credit.StringFixed(2)))
	}
	j.metrics().SetAnomalies(AnomalyMissingOrDuplicated, len(gaps))
	j.metrics().SetAnomalies(AnomalyUnbalanced, len(unbalanced))
	j.log().Info("journal integrity scan finished", slog.Int("gaps", len(gaps)), slog.Int("unbalanced", len(unbalanced)))
	return tracker.End(nil)
}

func (j *JournalIntegrityJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *JournalIntegrityJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskJournalIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskJournalIntegrity))
}
