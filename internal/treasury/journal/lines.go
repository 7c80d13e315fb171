package journal

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/allocation"
)

// PaymentPosting is the approved payment data needed to build its entry.
type PaymentPosting struct {
	PaymentID        int64
	Number           string
	Direction        allocation.Direction
	PartyID          int64
	Date             time.Time
	CurrencyID       *int64
	Rate             decimal.Decimal
	TotalBank        decimal.Decimal
	TotalBase        decimal.Decimal
	BankLedgerID     int64
	ControlAccountID int64
	Allocations      []allocation.Line
	ActorID          int64
}

// ControlAccount resolves the AP or AR control account for a direction.
func ControlAccount(ctx context.Context, store MappingStore, direction allocation.Direction) (int64, error) {
	key := MappingAPControl
	if direction == allocation.DirectionIn {
		key = MappingARControl
	}
	id, err := store.GetAccountMapping(ctx, MappingModule, key)
	if errors.Is(err, shared.ErrNotFound) {
		return 0, shared.Validationf("account mapping %s/%s is not configured", MappingModule, key)
	}
	return id, err
}

// BuildPaymentEntry produces one balanced pair of lines per allocation. Out
// payments debit the payable control account and credit the bank; in
// payments mirror that against the receivable control account.
func BuildPaymentEntry(p PaymentPosting) (Entry, error) {
	if p.BankLedgerID <= 0 {
		return Entry{}, shared.Validationf("settlement account of payment %s has no ledger account", p.Number)
	}
	if p.ControlAccountID <= 0 {
		return Entry{}, shared.Validationf("control account for payment %s is not configured", p.Number)
	}
	entry := Entry{
		SourceType:    SourcePayment,
		SourceID:      p.PaymentID,
		SourceRef:     SourceRef(SourcePayment, p.PaymentID),
		Date:          p.Date,
		Memo:          "Payment " + p.Number,
		CurrencyID:    p.CurrencyID,
		ExchangeRate:  p.Rate,
		ForeignAmount: p.TotalBank,
		TotalAmount:   p.TotalBase,
		CreatedBy:     p.ActorID,
	}
	debitAccount, creditAccount := p.ControlAccountID, p.BankLedgerID
	if p.Direction == allocation.DirectionIn {
		debitAccount, creditAccount = p.BankLedgerID, p.ControlAccountID
	}
	for _, a := range p.Allocations {
		partyID := p.PartyID
		obligationID := a.ID
		memo := p.Number + " " + a.Ref.String()
		entry.Lines = append(entry.Lines,
			Line{
				AccountID:      debitAccount,
				Debit:          a.AmountBase,
				ForeignDebit:   a.Amount,
				PartyID:        &partyID,
				ObligationKind: string(a.Kind),
				ObligationID:   &obligationID,
				IsAdvance:      a.Kind.IsAdvance(),
				Memo:           memo,
			},
			Line{
				AccountID:      creditAccount,
				Credit:         a.AmountBase,
				ForeignCredit:  a.Amount,
				PartyID:        &partyID,
				ObligationKind: string(a.Kind),
				ObligationID:   &obligationID,
				IsAdvance:      a.Kind.IsAdvance(),
				Memo:           memo,
			},
		)
	}
	if err := entry.Validate(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// TransferPosting is the approved transfer data needed to build its entry.
type TransferPosting struct {
	TransferID     int64
	Number         string
	Date           time.Time
	FromCurrencyID *int64
	RateFrom       decimal.Decimal
	AmountFrom     decimal.Decimal
	AmountBase     decimal.Decimal
	FromLedgerID   int64
	ToLedgerID     int64
	ActorID        int64
}

// BuildTransferEntry debits the destination and credits the source, both in
// the source account's currency and rate.
func BuildTransferEntry(p TransferPosting) (Entry, error) {
	if p.FromLedgerID <= 0 || p.ToLedgerID <= 0 {
		return Entry{}, shared.Validationf("both accounts of transfer %s need a ledger account", p.Number)
	}
	memo := "Fund transfer " + p.Number
	entry := Entry{
		SourceType:    SourceTransfer,
		SourceID:      p.TransferID,
		SourceRef:     SourceRef(SourceTransfer, p.TransferID),
		Date:          p.Date,
		Memo:          memo,
		CurrencyID:    p.FromCurrencyID,
		ExchangeRate:  p.RateFrom,
		ForeignAmount: p.AmountFrom,
		TotalAmount:   p.AmountBase,
		CreatedBy:     p.ActorID,
		Lines: []Line{
			{AccountID: p.ToLedgerID, Debit: p.AmountBase, ForeignDebit: p.AmountFrom, Memo: memo},
			{AccountID: p.FromLedgerID, Credit: p.AmountBase, ForeignCredit: p.AmountFrom, Memo: memo},
		},
	}
	if err := entry.Validate(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}
