package allocation

// Reconciliation describes how a stored allocation set must change to match
// a new one.
type Reconciliation struct {
	Added   []Line
	Removed []Line
	// Changed holds the new values of lines whose amounts differ.
	Changed []Line
}

// Diff compares the stored lines with the replacement set. Both inputs must
// already be normalized.
func Diff(old, new []Line) Reconciliation {
	before := make(map[Ref]Line, len(old))
	for _, line := range old {
		before[line.Ref] = line
	}
	var rec Reconciliation
	after := make(map[Ref]struct{}, len(new))
	for _, line := range new {
		after[line.Ref] = struct{}{}
		prev, ok := before[line.Ref]
		switch {
		case !ok:
			rec.Added = append(rec.Added, line)
		case !prev.Amount.Equal(line.Amount) || !prev.AmountBase.Equal(line.AmountBase):
			rec.Changed = append(rec.Changed, line)
		}
	}
	for _, line := range old {
		if _, ok := after[line.Ref]; !ok {
			rec.Removed = append(rec.Removed, line)
		}
	}
	return rec
}

// Empty reports whether nothing changed.
func (r Reconciliation) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0
}

// Touched returns every obligation whose balance depends on the change,
// including those that lost an allocation.
func (r Reconciliation) Touched() []Ref {
	seen := make(map[Ref]struct{})
	for _, set := range [][]Line{r.Added, r.Removed, r.Changed} {
		for _, line := range set {
			seen[line.Ref] = struct{}{}
		}
	}
	return sortedRefs(seen)
}

// Refs lists the obligations referenced by lines.
func Refs(lines []Line) []Ref {
	refs := make([]Ref, 0, len(lines))
	for _, line := range lines {
		refs = append(refs, line.Ref)
	}
	return refs
}
