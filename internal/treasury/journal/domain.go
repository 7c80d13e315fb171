// Package journal builds balanced general ledger entries for approved
// payments and transfers and replaces them on re-approval.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
)

// SourceType tags the record a journal was posted for.
type SourceType string

const (
	SourcePayment  SourceType = "PAYMENT"
	SourceTransfer SourceType = "FUND_TRANSFER"
)

// Mapping keys under MappingModule resolving control accounts.
const (
	MappingModule    = "TREASURY"
	MappingAPControl = "ap.control"
	MappingARControl = "ar.control"
)

// Line is one journal line. Debit and Credit are in base currency; the
// Foreign pair carries the same movement in the entry's currency.
type Line struct {
	AccountID      int64
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	ForeignDebit   decimal.Decimal
	ForeignCredit  decimal.Decimal
	PartyID        *int64
	ObligationKind string
	ObligationID   *int64
	IsAdvance      bool
	Memo           string
}

// Entry is the payload handed to the poster.
type Entry struct {
	SourceType    SourceType
	SourceID      int64
	SourceRef     uuid.UUID
	Date          time.Time
	Memo          string
	CurrencyID    *int64
	ExchangeRate  decimal.Decimal
	ForeignAmount decimal.Decimal
	TotalAmount   decimal.Decimal
	CreatedBy     int64
	Lines         []Line
}

// SourceRef derives the stable reference of a source record.
func SourceRef(sourceType SourceType, sourceID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", sourceType, sourceID)))
}

// Totals sums the line amounts.
func (e Entry) Totals() (debit, credit, foreignDebit, foreignCredit decimal.Decimal) {
	for _, l := range e.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
		foreignDebit = foreignDebit.Add(l.ForeignDebit)
		foreignCredit = foreignCredit.Add(l.ForeignCredit)
	}
	return debit, credit, foreignDebit, foreignCredit
}

// Validate enforces the poster contract: lines balance exactly in both
// currencies and reconcile with the entry totals.
func (e Entry) Validate() error {
	if e.SourceType == "" || e.SourceID <= 0 {
		return shared.Validationf("journal source is required")
	}
	if e.Date.IsZero() {
		return shared.Validationf("journal date is required")
	}
	if len(e.Lines) < 2 {
		return shared.Validationf("journal needs at least two lines")
	}
	for i, l := range e.Lines {
		if l.AccountID <= 0 {
			return shared.Validationf("journal line %d has no account", i+1)
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() || l.ForeignDebit.IsNegative() || l.ForeignCredit.IsNegative() {
			return shared.Validationf("journal line %d has a negative amount", i+1)
		}
		if (!l.Debit.IsZero() || !l.ForeignDebit.IsZero()) && (!l.Credit.IsZero() || !l.ForeignCredit.IsZero()) {
			return shared.Validationf("journal line %d posts to both sides", i+1)
		}
	}
	debit, credit, foreignDebit, foreignCredit := e.Totals()
	if !debit.Equal(credit) {
		return shared.Validationf("journal is unbalanced: debit %s credit %s", debit.StringFixed(2), credit.StringFixed(2))
	}
	if !foreignDebit.Equal(foreignCredit) {
		return shared.Validationf("journal is unbalanced in foreign currency: debit %s credit %s", foreignDebit.StringFixed(2), foreignCredit.StringFixed(2))
	}
	if !debit.Equal(e.TotalAmount) {
		return shared.Validationf("journal total %s does not match lines %s", e.TotalAmount.StringFixed(2), debit.StringFixed(2))
	}
	if !foreignDebit.Equal(e.ForeignAmount) {
		return shared.Validationf("journal foreign amount %s does not match lines %s", e.ForeignAmount.StringFixed(2), foreignDebit.StringFixed(2))
	}
	return nil
}

// Store persists journals.
type Store interface {
	// SoftDeleteJournals retires every active journal of the source and
	// reports how many were retired.
	SoftDeleteJournals(ctx context.Context, sourceType SourceType, sourceID int64) (int64, error)
	CreateJournal(ctx context.Context, entry Entry) (int64, error)
}

// MappingStore resolves configured ledger accounts.
type MappingStore interface {
	GetAccountMapping(ctx context.Context, module, key string) (int64, error)
}
