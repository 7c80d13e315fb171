package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/allocation"
	jobmetrics "github.com/odyssey-erp/odyssey-treasury/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskJournalIntegrity scans for approved records without exactly one
	// balanced active journal.
	TaskJournalIntegrity = "treasury:journal_integrity"
	// TaskBalanceRefresh recomputes cached obligation open balances.
	TaskBalanceRefresh = "treasury:balance_refresh"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// BalanceRefreshPayload narrows a refresh to one obligation kind. An empty
// kind refreshes every obligation.
type BalanceRefreshPayload struct {
	Kind allocation.Kind `json:"kind,omitempty"`
}

// NewJournalIntegrityTask constructs the integrity scan task.
func NewJournalIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskJournalIntegrity, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// NewBalanceRefreshTask constructs a refresh task.
func NewBalanceRefreshTask(payload BalanceRefreshPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceRefresh, body, asynq.Queue(QueueDefault)), nil
}
