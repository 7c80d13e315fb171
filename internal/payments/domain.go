package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/allocation"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/workflow"
)

// Module is the history and metrics label of this package.
const Module = "payments"

// PartyType identifies the counter-party kind.
type PartyType string

const (
	PartySupplier PartyType = "SUPPLIER"
	PartyCustomer PartyType = "CUSTOMER"
)

// Method is how the payment is settled.
type Method string

const (
	MethodCash   Method = "CASH"
	MethodCheque Method = "CHEQUE"
	MethodTT     Method = "TT"
)

// Payment is a supplier or customer cash movement.
type Payment struct {
	ID                  int64                      `json:"id"`
	Number              string                     `json:"number"`
	Direction           allocation.Direction       `json:"direction"`
	PartyType           PartyType                  `json:"party_type"`
	PartyID             int64                      `json:"party_id"`
	Method              Method                     `json:"payment_method"`
	BankAccountID       int64                      `json:"bank_account_id"`
	TransactionDate     time.Time                  `json:"transaction_date"`
	CurrencyCode        string                     `json:"currency_code"`
	CurrencyID          *int64                     `json:"currency_id,omitempty"`
	TotalAmountBank     decimal.Decimal            `json:"total_amount_bank"`
	TotalAmountBase     decimal.Decimal            `json:"total_amount_base"`
	FxRate              decimal.Decimal            `json:"fx_rate"`
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
	Allocations         []allocation.Line          `json:"allocations"`
}

// State returns the workflow state of the payment.
func (p Payment) State() workflow.State {
	return workflow.State{Status: p.Status, EditRequest: p.EditRequestStatus}
}

// AllocationInput is one requested allocation.
type AllocationInput struct {
	Kind   allocation.Kind `json:"kind" validate:"required,oneof=BILL PO_ADVANCE INVOICE PROFORMA_ADVANCE"`
	ID     int64           `json:"id" validate:"required,gt=0"`
	Amount decimal.Decimal `json:"amount"`
}

// Input carries the editable fields of a payment. TotalAmount is optional;
// when set it must equal the allocation sum.
type Input struct {
	Direction       allocation.Direction `json:"direction" validate:"required,oneof=IN OUT"`
	PartyType       PartyType            `json:"party_type" validate:"required,oneof=SUPPLIER CUSTOMER"`
	PartyID         int64                `json:"party_id" validate:"required,gt=0"`
	Method          Method               `json:"payment_method" validate:"required,oneof=CASH CHEQUE TT"`
	BankAccountID   int64                `json:"bank_account_id" validate:"required,gt=0"`
	TransactionDate string               `json:"transaction_date" validate:"required,datetime=2006-01-02"`
	TotalAmount     decimal.Decimal      `json:"total_amount"`
	Reference       string               `json:"reference" validate:"max=100"`
	Notes           string               `json:"notes" validate:"max=1000"`
	Allocations     []AllocationInput    `json:"allocations" validate:"required,min=1,dive"`
}

func (in Input) lines() []allocation.Line {
	lines := make([]allocation.Line, 0, len(in.Allocations))
	for _, a := range in.Allocations {
		lines = append(lines, allocation.Line{Ref: allocation.Ref{Kind: a.Kind, ID: a.ID}, Amount: a.Amount})
	}
	return allocation.Normalize(lines)
}
