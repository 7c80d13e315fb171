package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-treasury/internal/platform/db"
)

// HistoryEntry is one append-only record in the history sink.
type HistoryEntry struct {
	ID       uuid.UUID
	Module   string
	EntityID int64
	ActorID  int64
	Action   string
	Details  map[string]any
	At       time.Time
}

// HistorySink appends history entries within the caller's transaction.
type HistorySink interface {
	AppendHistory(ctx context.Context, entry HistoryEntry) error
}

// HistoryWriter writes records into the history table.
type HistoryWriter struct {
	q db.Querier
}

// NewHistoryWriter returns a writer bound to q, usually a pgx.Tx.
func NewHistoryWriter(q db.Querier) *HistoryWriter {
	return &HistoryWriter{q: q}
}

// AppendHistory persists the entry.
func (w *HistoryWriter) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	if w == nil || w.q == nil {
		return errors.New("history writer not initialised")
	}
	if entry.Module == "" || entry.Action == "" || entry.EntityID == 0 {
		return errors.New("history entry requires module/action/entity_id")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	var at any
	if !entry.At.IsZero() {
		at = entry.At
	}
	_, err = w.q.Exec(ctx, `INSERT INTO history (id, module, entity_id, actor_id, action, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`, entry.ID, entry.Module, entry.EntityID, entry.ActorID, entry.Action, details, at)
	if err != nil {
		return DataStore("append history", err)
	}
	return nil
}
