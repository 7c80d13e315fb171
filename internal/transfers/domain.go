// Package transfers moves funds between internally owned accounts.
package transfers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/workflow"
)

// Module is the history and metrics label of this package.
const Module = "transfers"

// Transfer is a movement between two internal accounts. Amounts are held in
// both currencies together with both account-to-base rates.
type Transfer struct {
	ID                  int64                      `json:"id"`
	Number              string                     `json:"number"`
	FromAccountID       int64                      `json:"from_account_id"`
	ToAccountID         int64                      `json:"to_account_id"`
	TransferDate        time.Time                  `json:"transfer_date"`
	FromCurrencyCode    string                     `json:"from_currency_code"`
	FromCurrencyID      *int64                     `json:"from_currency_id,omitempty"`
	ToCurrencyCode      string                     `json:"to_currency_code"`
	ToCurrencyID        *int64                     `json:"to_currency_id,omitempty"`
	AmountFrom          decimal.Decimal            `json:"amount_from_currency"`
	RateFrom            decimal.Decimal            `json:"rate_from_to_base"`
	RateTo              decimal.Decimal            `json:"rate_to_to_base"`
	AmountBase          decimal.Decimal            `json:"amount_base"`
	AmountTo            decimal.Decimal            `json:"amount_to_currency"`
	RateOverridden      bool                       `json:"rate_overridden"`
	Reference           string                     `json:"reference,omitempty"`
	Notes               string                     `json:"notes,omitempty"`
	Status              workflow.Status            `json:"status"`
	EditRequestStatus   workflow.EditRequestStatus `json:"edit_request_status"`
	CreatedBy           int64                      `json:"created_by"`
	SubmittedBy         *int64                     `json:"submitted_by,omitempty"`
	SubmittedAt         *time.Time                 `json:"submitted_at,omitempty"`
	ApprovedBy          *int64                     `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time                 `json:"approved_at,omitempty"`
	RejectedBy          *int64                     `json:"rejected_by,omitempty"`
	RejectedAt          *time.Time                 `json:"rejected_at,omitempty"`
	RejectionReason     string                     `json:"rejection_reason,omitempty"`
	EditRequestedBy     *int64                     `json:"edit_requested_by,omitempty"`
	EditRequestedAt     *time.Time                 `json:"edit_requested_at,omitempty"`
	EditRequestReason   string                     `json:"edit_request_reason,omitempty"`
	EditReviewedBy      *int64                     `json:"edit_reviewed_by,omitempty"`
	EditReviewedAt      *time.Time                 `json:"edit_reviewed_at,omitempty"`
	EditRejectionReason string                     `json:"edit_rejection_reason,omitempty"`
	IsDeleted           bool                       `json:"is_deleted"`
	CreatedAt           time.Time                  `json:"created_at"`
	UpdatedAt           time.Time                  `json:"updated_at"`
}

// State returns the workflow state of the transfer.
func (t Transfer) State() workflow.State {
	return workflow.State{Status: t.Status, EditRequest: t.EditRequestStatus}
}

// Input carries the editable fields of a transfer. Rates are only read when
// RateOverridden is set; otherwise both are resolved from the rate history.
// On update an overridden transfer keeps its stored rates when none are given.
type Input struct {
	FromAccountID  int64               `json:"from_account_id" validate:"required,gt=0"`
	ToAccountID    int64               `json:"to_account_id" validate:"required,gt=0,nefield=FromAccountID"`
	TransferDate   string              `json:"transfer_date" validate:"required,datetime=2006-01-02"`
	Amount         decimal.Decimal     `json:"amount_from_currency"`
	RateOverridden bool                `json:"rate_overridden"`
	RateFrom       decimal.NullDecimal `json:"rate_from_to_base"`
	RateTo         decimal.NullDecimal `json:"rate_to_to_base"`
	Reference      string              `json:"reference" validate:"max=100"`
	Notes          string              `json:"notes" validate:"max=1000"`
}

// Amounts derives the base and destination amounts. The base amount is the
// source amount at the source rate, the destination amount is the base amount
// at the destination rate, both rounded to cents.
func Amounts(amountFrom, rateFrom, rateTo decimal.Decimal) (amountBase, amountTo decimal.Decimal) {
	amountBase = amountFrom.Mul(rateFrom).Round(2)
	amountTo = amountBase.Div(rateTo).Round(2)
	return amountBase, amountTo
}
