package allocation

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
)

// Request describes a proposed allocation set for one payment.
type Request struct {
	// PaymentID is zero for a new payment; otherwise its prior allocations are
	// excluded from the already allocated sums.
	PaymentID  int64
	Direction  Direction
	PartyID    int64
	CurrencyID *int64
	Rate       decimal.Decimal
	Lines      []Line
}

// Normalize merges lines pointing at the same obligation, keeping first-seen order.
func Normalize(lines []Line) []Line {
	index := make(map[Ref]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		if i, ok := index[line.Ref]; ok {
			out[i].Amount = out[i].Amount.Add(line.Amount)
			out[i].AmountBase = out[i].AmountBase.Add(line.AmountBase)
			continue
		}
		index[line.Ref] = len(out)
		out = append(out, line)
	}
	return out
}

// Validate checks every allocation of req and fails on the first violation.
// Nothing is written, so callers persist only after Validate succeeds.
func Validate(ctx context.Context, store Store, req Request) error {
	if len(req.Lines) == 0 {
		return shared.Validationf("at least one allocation is required")
	}
	if !req.Rate.IsPositive() {
		return shared.Validationf("exchange rate must be positive")
	}

	proposed := make(map[Ref]decimal.Decimal)
	for _, line := range req.Lines {
		if !line.Kind.Valid() {
			return shared.Validationf("unknown obligation kind %q", line.Kind)
		}
		if line.Kind.Direction() != req.Direction {
			return shared.Validationf("%s cannot be settled by an %s payment", line.Kind, req.Direction)
		}
		if line.ID <= 0 {
			return shared.Validationf("allocation references no %s", line.Kind)
		}
		if !line.Amount.IsPositive() {
			return shared.Validationf("allocation to %s must be positive", line.Ref)
		}
		if !line.Amount.Equal(line.Amount.Round(2)) {
			return shared.Validationf("allocation to %s has more than two decimals", line.Ref)
		}
		proposed[line.Ref] = proposed[line.Ref].Add(line.Amount)
	}

	for _, ref := range sortedRefs(proposed) {
		ob, err := store.GetObligation(ctx, ref)
		if err != nil {
			return err
		}
		if ob.PartyID != req.PartyID {
			return shared.Validationf("%s %s does not belong to party %d", ref.Kind, ob.Number, req.PartyID)
		}
		recorded, err := store.ListObligationAllocations(ctx, ref)
		if err != nil {
			return err
		}
		outstanding := ob.Total
		for _, rec := range recorded {
			if req.PaymentID != 0 && rec.PaymentID == req.PaymentID {
				continue
			}
			outstanding = outstanding.Sub(Contribution(rec, ob.CurrencyID))
		}
		want := proposed[ref].Mul(EffectiveRate(req.CurrencyID, ob.CurrencyID, req.Rate))
		if want.Sub(outstanding).GreaterThanOrEqual(Tolerance) {
			return shared.Validationf("allocation of %s to %s %s exceeds outstanding %s",
				want.StringFixed(2), ref.Kind, ob.Number, outstanding.StringFixed(2))
		}
	}
	return nil
}

// Split computes the payment totals and spreads the base amount across lines
// so that the line base amounts add up to the rounded total exactly. Each
// line starts from its truncated base amount and the leftover cents go to the
// lines with the largest truncated remainders, later lines first on ties.
// Amounts and rate are positive, so the leftover is never negative.
func Split(lines []Line, rate decimal.Decimal) (totalBank, totalBase decimal.Decimal, out []Line) {
	out = make([]Line, len(lines))
	copy(out, lines)
	if len(out) == 0 {
		return decimal.Zero, decimal.Zero, out
	}

	exact := make([]decimal.Decimal, len(out))
	assigned := decimal.Zero
	for i := range out {
		totalBank = totalBank.Add(out[i].Amount)
		exact[i] = out[i].Amount.Mul(rate)
		out[i].AmountBase = exact[i].Truncate(2)
		assigned = assigned.Add(out[i].AmountBase)
	}
	totalBase = totalBank.Mul(rate).Round(2)

	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra := exact[order[a]].Sub(out[order[a]].AmountBase)
		rb := exact[order[b]].Sub(out[order[b]].AmountBase)
		if !ra.Equal(rb) {
			return ra.GreaterThan(rb)
		}
		return order[a] > order[b]
	})

	cent := decimal.New(1, -2)
	residual := totalBase.Sub(assigned)
	for i := 0; residual.IsPositive(); i++ {
		idx := order[i%len(order)]
		out[idx].AmountBase = out[idx].AmountBase.Add(cent)
		residual = residual.Sub(cent)
	}
	return totalBank, totalBase, out
}

func sortedRefs[V any](m map[Ref]V) []Ref {
	refs := make([]Ref, 0, len(m))
	for ref := range m {
		refs = append(refs, ref)
	}
	sortRefs(refs)
	return refs
}

func sortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].ID < refs[j].ID
	})
}
