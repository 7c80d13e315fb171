package journal

import (
	"context"
)

// Replace retires any active journal of the entry's source and posts entry
// in its place. The two steps share the caller's transaction.
func Replace(ctx context.Context, store Store, entry Entry) (journalID, replaced int64, err error) {
	if err := entry.Validate(); err != nil {
		return 0, 0, err
	}
	replaced, err = store.SoftDeleteJournals(ctx, entry.SourceType, entry.SourceID)
	if err != nil {
		return 0, 0, err
	}
	journalID, err = store.CreateJournal(ctx, entry)
	if err != nil {
		return 0, 0, err
	}
	return journalID, replaced, nil
}

// Retire soft-deletes the active journals of a source without reposting.
func Retire(ctx context.Context, store Store, sourceType SourceType, sourceID int64) (int64, error) {
	return store.SoftDeleteJournals(ctx, sourceType, sourceID)
}
