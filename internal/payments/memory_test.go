package payments

import (
	"context"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/allocation"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/numbering"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/treasurytest"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/workflow"
)

type memoryRepo struct {
	*treasurytest.Ledger
	payments    map[int64]Payment
	allocations map[int64][]allocation.Line
	nextID      int64
}

func newMemoryRepo(ledger *treasurytest.Ledger) *memoryRepo {
	return &memoryRepo{
		Ledger:      ledger,
		payments:    make(map[int64]Payment),
		allocations: make(map[int64][]allocation.Line),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	ledger := r.Ledger.Snapshot()
	payments := make(map[int64]Payment, len(r.payments))
	for k, v := range r.payments {
		payments[k] = v
	}
	allocs := make(map[int64][]allocation.Line, len(r.allocations))
	for k, v := range r.allocations {
		allocs[k] = append([]allocation.Line(nil), v...)
	}
	nextID := r.nextID
	if err := fn(ctx, r); err != nil {
		r.Ledger.Restore(ledger)
		r.payments = payments
		r.allocations = allocs
		r.nextID = nextID
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Payment, error) {
	p, ok := r.payments[id]
	if !ok || p.IsDeleted {
		return Payment{}, shared.NotFoundf("payment %d", id)
	}
	p.Allocations = append([]allocation.Line{}, r.allocations[id]...)
	return p, nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, id int64) (Payment, error) {
	return r.Get(ctx, id)
}

func (r *memoryRepo) ListObligationAllocations(ctx context.Context, ref allocation.Ref) ([]allocation.Recorded, error) {
	ids := make([]int64, 0, len(r.allocations))
	for id := range r.allocations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []allocation.Recorded
	for _, id := range ids {
		p := r.payments[id]
		if p.IsDeleted {
			continue
		}
		for _, line := range r.allocations[id] {
			if line.Ref == ref {
				out = append(out, allocation.Recorded{PaymentID: id, Amount: line.Amount, AmountBase: line.AmountBase, CurrencyID: p.CurrencyID})
			}
		}
	}
	return out, nil
}

func (r *memoryRepo) LastNumber(ctx context.Context, prefix string) (string, error) {
	last := ""
	for _, p := range r.payments {
		if strings.HasPrefix(p.Number, prefix+"-") && numbering.Later(p.Number, last) {
			last = p.Number
		}
	}
	return last, nil
}

func (r *memoryRepo) Insert(ctx context.Context, p Payment) (int64, error) {
	for _, existing := range r.payments {
		if existing.Number == p.Number {
			return 0, shared.Validationf("number %s was issued concurrently, retry", p.Number)
		}
	}
	r.nextID++
	p.ID = r.nextID
	p.Allocations = nil
	r.payments[p.ID] = p
	return p.ID, nil
}

func (r *memoryRepo) matches(id int64, from workflow.State) (Payment, error) {
	p, ok := r.payments[id]
	if !ok || p.IsDeleted || p.State() != from {
		return Payment{}, shared.Validationf("payment %d was changed concurrently", id)
	}
	return p, nil
}

func (r *memoryRepo) UpdateDetails(ctx context.Context, p Payment, from, to workflow.State) error {
	stored, err := r.matches(p.ID, from)
	if err != nil {
		return err
	}
	p.Number = stored.Number
	p.CreatedBy = stored.CreatedBy
	p.Status = to.Status
	p.EditRequestStatus = to.EditRequest
	p.Allocations = nil
	r.payments[p.ID] = p
	return nil
}

func (r *memoryRepo) UpdateState(ctx context.Context, id int64, from workflow.State, change workflow.Change) error {
	p, err := r.matches(id, from)
	if err != nil {
		return err
	}
	actor, at := change.Actor, change.At
	p.Status = change.To.Status
	p.EditRequestStatus = change.To.EditRequest
	switch change.Action {
	case workflow.ActionSubmit:
		p.SubmittedBy, p.SubmittedAt = &actor, &at
	case workflow.ActionApprove:
		p.ApprovedBy, p.ApprovedAt = &actor, &at
	case workflow.ActionReject:
		p.RejectedBy, p.RejectedAt, p.RejectionReason = &actor, &at, change.Reason
	case workflow.ActionRequestEdit:
		p.EditRequestedBy, p.EditRequestedAt, p.EditRequestReason = &actor, &at, change.Reason
	case workflow.ActionApproveEditRequest:
		p.EditReviewedBy, p.EditReviewedAt = &actor, &at
	case workflow.ActionRejectEditRequest:
		p.EditReviewedBy, p.EditReviewedAt, p.EditRejectionReason = &actor, &at, change.Reason
	}
	r.payments[id] = p
	return nil
}

func (r *memoryRepo) SoftDelete(ctx context.Context, id int64, from workflow.State, change workflow.Change) error {
	p, err := r.matches(id, from)
	if err != nil {
		return err
	}
	p.IsDeleted = true
	r.payments[id] = p
	return nil
}

func (r *memoryRepo) ListAllocations(ctx context.Context, paymentID int64) ([]allocation.Line, error) {
	return append([]allocation.Line{}, r.allocations[paymentID]...), nil
}

func (r *memoryRepo) InsertAllocation(ctx context.Context, paymentID int64, line allocation.Line) error {
	r.allocations[paymentID] = append(r.allocations[paymentID], line)
	return nil
}

func (r *memoryRepo) UpdateAllocation(ctx context.Context, paymentID int64, line allocation.Line) error {
	lines := r.allocations[paymentID]
	for i := range lines {
		if lines[i].Ref == line.Ref {
			lines[i] = line
		}
	}
	return nil
}

func (r *memoryRepo) DeleteAllocation(ctx context.Context, paymentID int64, ref allocation.Ref) error {
	lines := r.allocations[paymentID][:0]
	for _, line := range r.allocations[paymentID] {
		if line.Ref != ref {
			lines = append(lines, line)
		}
	}
	r.allocations[paymentID] = lines
	return nil
}
