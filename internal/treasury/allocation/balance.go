package allocation

import (
	"context"
)

// Recompute rewrites the cached open balance of every referenced obligation
// as its total minus the currency-aware sum of all active allocations.
func Recompute(ctx context.Context, store Store, refs ...Ref) error {
	seen := make(map[Ref]struct{}, len(refs))
	for _, ref := range refs {
		seen[ref] = struct{}{}
	}
	for _, ref := range sortedRefs(seen) {
		ob, err := store.GetObligation(ctx, ref)
		if err != nil {
			return err
		}
		recorded, err := store.ListObligationAllocations(ctx, ref)
		if err != nil {
			return err
		}
		balance := ob.Total
		for _, rec := range recorded {
			balance = balance.Sub(Contribution(rec, ob.CurrencyID))
		}
		if err := store.UpdateOpenBalance(ctx, ref, balance.Round(2)); err != nil {
			return err
		}
	}
	return nil
}
