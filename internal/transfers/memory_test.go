package transfers

import (
	"context"
	"strings"

	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/numbering"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/treasurytest"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/workflow"
)

type memoryRepo struct {
	*treasurytest.Ledger
	transfers map[int64]Transfer
	nextID    int64
}

func newMemoryRepo(ledger *treasurytest.Ledger) *memoryRepo {
	return &memoryRepo{Ledger: ledger, transfers: make(map[int64]Transfer)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	ledger := r.Ledger.Snapshot()
	transfers := make(map[int64]Transfer, len(r.transfers))
	for k, v := range r.transfers {
		transfers[k] = v
	}
	nextID := r.nextID
	if err := fn(ctx, r); err != nil {
		r.Ledger.Restore(ledger)
		r.transfers = transfers
		r.nextID = nextID
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Transfer, error) {
	t, ok := r.transfers[id]
	if !ok || t.IsDeleted {
		return Transfer{}, shared.NotFoundf("fund transfer %d", id)
	}
	return t, nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, id int64) (Transfer, error) {
	return r.Get(ctx, id)
}

func (r *memoryRepo) LastNumber(ctx context.Context, prefix string) (string, error) {
	last := ""
	for _, t := range r.transfers {
		if strings.HasPrefix(t.Number, prefix+"-") && numbering.Later(t.Number, last) {
			last = t.Number
		}
	}
	return last, nil
}

func (r *memoryRepo) Insert(ctx context.Context, t Transfer) (int64, error) {
	r.nextID++
	t.ID = r.nextID
	r.transfers[t.ID] = t
	return t.ID, nil
}

func (r *memoryRepo) matches(id int64, from workflow.State) (Transfer, error) {
	t, ok := r.transfers[id]
	if !ok || t.IsDeleted || t.State() != from {
		return Transfer{}, shared.Validationf("fund transfer %d was changed concurrently", id)
	}
	return t, nil
}

func (r *memoryRepo) UpdateDetails(ctx context.Context, t Transfer, from, to workflow.State) error {
	if _, err := r.matches(t.ID, from); err != nil {
		return err
	}
	t.Status, t.EditRequestStatus = to.Status, to.EditRequest
	r.transfers[t.ID] = t
	return nil
}

func (r *memoryRepo) UpdateState(ctx context.Context, id int64, from workflow.State, change workflow.Change) error {
	t, err := r.matches(id, from)
	if err != nil {
		return err
	}
	actor, at := change.Actor, change.At
	t.Status, t.EditRequestStatus = change.To.Status, change.To.EditRequest
	switch change.Action {
	case workflow.ActionApprove:
		t.ApprovedBy, t.ApprovedAt = &actor, &at
	case workflow.ActionReject:
		t.RejectedBy, t.RejectedAt, t.RejectionReason = &actor, &at, change.Reason
	case workflow.ActionRequestEdit:
		t.EditRequestedBy, t.EditRequestedAt, t.EditRequestReason = &actor, &at, change.Reason
	case workflow.ActionApproveEditRequest, workflow.ActionRejectEditRequest:
		t.EditReviewedBy, t.EditReviewedAt = &actor, &at
	}
	r.transfers[id] = t
	return nil
}

func (r *memoryRepo) SoftDelete(ctx context.Context, id int64, from workflow.State, change workflow.Change) error {
	t, err := r.matches(id, from)
	if err != nil {
		return err
	}
	t.IsDeleted = true
	r.transfers[id] = t
	return nil
}
