package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-treasury/internal/platform/db"
	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
)

type obligationTable struct {
	table      string
	partyCol   string
	totalCol   string
	balanceCol string
}

var obligationTables = map[Kind]obligationTable{
	KindBill:            {table: "bills", partyCol: "supplier_id", totalCol: "total_amount", balanceCol: "open_balance"},
	KindPOAdvance:       {table: "purchase_orders", partyCol: "supplier_id", totalCol: "advance_amount", balanceCol: "advance_open_balance"},
	KindInvoice:         {table: "invoices", partyCol: "customer_id", totalCol: "total_amount", balanceCol: "open_balance"},
	KindProformaAdvance: {table: "proforma_invoices", partyCol: "customer_id", totalCol: "advance_amount", balanceCol: "advance_open_balance"},
}

func tableFor(kind Kind) (obligationTable, error) {
	t, ok := obligationTables[kind]
	if !ok {
		return obligationTable{}, shared.Validationf("unknown obligation kind %q", kind)
	}
	return t, nil
}

// ObligationStore implements Store over a pool or transaction.
type ObligationStore struct {
	q db.Querier
}

// NewObligationStore constructs a Postgres backed Store.
func NewObligationStore(q db.Querier) *ObligationStore {
	return &ObligationStore{q: q}
}

var _ Store = (*ObligationStore)(nil)

// GetObligation loads an obligation and locks its row until the transaction ends.
func (s *ObligationStore) GetObligation(ctx context.Context, ref Ref) (Obligation, error) {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return Obligation{}, err
	}
	query := fmt.Sprintf(`SELECT id, number, %s, %s, currency_id, %s FROM %s WHERE id = $1 FOR UPDATE`,
		t.partyCol, t.totalCol, t.balanceCol, t.table)
	ob := Obligation{Ref: ref}
	err = s.q.QueryRow(ctx, query, ref.ID).Scan(&ob.ID, &ob.Number, &ob.PartyID, &ob.Total, &ob.CurrencyID, &ob.OpenBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Obligation{}, shared.NotFoundf("%s %d", ref.Kind, ref.ID)
	}
	if err != nil {
		return Obligation{}, shared.DataStore("get obligation", err)
	}
	return ob, nil
}

// ListObligationAllocations returns allocations of non-deleted payments.
func (s *ObligationStore) ListObligationAllocations(ctx context.Context, ref Ref) ([]Recorded, error) {
	const query = `SELECT a.payment_id, a.amount, a.amount_base, p.currency_id
FROM payment_allocations a
JOIN payments p ON p.id = a.payment_id
WHERE a.obligation_kind = $1 AND a.obligation_id = $2 AND NOT p.is_deleted
ORDER BY a.id`
	rows, err := s.q.Query(ctx, query, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, shared.DataStore("list obligation allocations", err)
	}
	defer rows.Close()
	var out []Recorded
	for rows.Next() {
		var rec Recorded
		if err := rows.Scan(&rec.PaymentID, &rec.Amount, &rec.AmountBase, &rec.CurrencyID); err != nil {
			return nil, shared.DataStore("scan obligation allocation", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.DataStore("iterate obligation allocations", err)
	}
	return out, nil
}

// UpdateOpenBalance writes the cached open balance.
func (s *ObligationStore) UpdateOpenBalance(ctx context.Context, ref Ref, balance decimal.Decimal) error {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE id = $1`, t.table, t.balanceCol)
	tag, err := s.q.Exec(ctx, query, ref.ID, balance)
	if err != nil {
		return shared.DataStore("update open balance", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("%s %d", ref.Kind, ref.ID)
	}
	return nil
}

// ListRefs returns every obligation of every kind.
func (s *ObligationStore) ListRefs(ctx context.Context) ([]Ref, error) {
	var refs []Ref
	for _, kind := range []Kind{KindBill, KindPOAdvance, KindInvoice, KindProformaAdvance} {
		t := obligationTables[kind]
		rows, err := s.q.Query(ctx, fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, t.table))
		if err != nil {
			return nil, shared.DataStore("list obligations", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, shared.DataStore("scan obligation", err)
			}
			refs = append(refs, Ref{Kind: kind, ID: id})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, shared.DataStore("iterate obligations", err)
		}
	}
	return refs, nil
}
