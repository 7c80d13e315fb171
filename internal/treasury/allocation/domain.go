// Package allocation validates payment allocations against open obligations
// and keeps the cached open balance of those obligations current.
package allocation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Tolerance is the allocation policy margin. Proposed amounts may exceed the
// outstanding balance by strictly less than one cent.
var Tolerance = decimal.New(1, -2)

// Direction is the cash flow direction of a payment.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool { return d == DirectionIn || d == DirectionOut }

// Kind identifies the obligation type an allocation settles.
type Kind string

const (
	KindBill            Kind = "BILL"
	KindPOAdvance       Kind = "PO_ADVANCE"
	KindInvoice         Kind = "INVOICE"
	KindProformaAdvance Kind = "PROFORMA_ADVANCE"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindBill, KindPOAdvance, KindInvoice, KindProformaAdvance:
		return true
	}
	return false
}

// Direction returns the payment direction that may settle obligations of kind k.
func (k Kind) Direction() Direction {
	switch k {
	case KindInvoice, KindProformaAdvance:
		return DirectionIn
	default:
		return DirectionOut
	}
}

// IsAdvance reports whether k is an advance rather than a balance settlement.
func (k Kind) IsAdvance() bool { return k == KindPOAdvance || k == KindProformaAdvance }

// Ref points at one obligation.
type Ref struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func (r Ref) String() string { return fmt.Sprintf("%s#%d", r.Kind, r.ID) }

// Line is one allocation of a payment, in settlement and base currency.
type Line struct {
	Ref
	Amount     decimal.Decimal `json:"amount"`
	AmountBase decimal.Decimal `json:"amount_base"`
}

// Obligation is a bill, invoice or advance as seen by the allocation engine.
type Obligation struct {
	Ref
	Number      string
	PartyID     int64
	Total       decimal.Decimal
	CurrencyID  *int64
	OpenBalance decimal.Decimal
}

// Recorded is an allocation already stored against an obligation, together
// with the settlement currency of the payment that owns it.
type Recorded struct {
	PaymentID  int64
	Amount     decimal.Decimal
	AmountBase decimal.Decimal
	CurrencyID *int64
}

// Store is the data access the validator and balance updater need. All calls
// run inside the caller's transaction.
type Store interface {
	// GetObligation loads and locks an obligation.
	GetObligation(ctx context.Context, ref Ref) (Obligation, error)
	// ListObligationAllocations returns allocations of every non-deleted payment.
	ListObligationAllocations(ctx context.Context, ref Ref) ([]Recorded, error)
	UpdateOpenBalance(ctx context.Context, ref Ref, balance decimal.Decimal) error
}

func sameCurrency(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}

// Contribution is the amount a recorded allocation consumes from an
// obligation: settlement amount when currencies match, base amount otherwise.
func Contribution(rec Recorded, obligationCurrencyID *int64) decimal.Decimal {
	if sameCurrency(rec.CurrencyID, obligationCurrencyID) {
		return rec.Amount
	}
	return rec.AmountBase
}

// EffectiveRate is the factor converting settlement amounts into obligation terms.
func EffectiveRate(settlementCurrencyID, obligationCurrencyID *int64, rate decimal.Decimal) decimal.Decimal {
	if sameCurrency(settlementCurrencyID, obligationCurrencyID) {
		return decimal.NewFromInt(1)
	}
	return rate
}
