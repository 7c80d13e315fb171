package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-treasury/internal/observability"
	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/allocation"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/fx"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/journal"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/numbering"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/workflow"
)

// Service implements the payment lifecycle.
type Service struct {
	repo         Repository
	logger       *slog.Logger
	baseCurrency string
	currencies   *fx.CurrencyCache
	metrics      *observability.Metrics
	validate     *validator.Validate
	now          func() time.Time
}

// NewService constructs the payment service.
func NewService(repo Repository, logger *slog.Logger, baseCurrency string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		logger:       logger,
		baseCurrency: baseCurrency,
		validate:     validator.New(),
		now:          time.Now,
	}
}

// SetCurrencyCache routes currency master reads through cache.
func (s *Service) SetCurrencyCache(cache *fx.CurrencyCache) {
	s.currencies = cache
}

// SetMetrics injects the ledger counters.
func (s *Service) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

func (s *Service) resolver(tx TxRepository) *fx.Resolver {
	return fx.NewResolver(s.currencies.Wrap(tx), s.baseCurrency)
}

// Get returns a payment with its allocations.
func (s *Service) Get(ctx context.Context, id int64) (Payment, error) {
	return s.repo.Get(ctx, id)
}

// Create records a new draft payment. The exchange rate is resolved for the
// transaction date and frozen on the record.
func (s *Service) Create(ctx context.Context, actorID int64, input Input) (Payment, error) {
	if err := s.checkInput(actorID, input); err != nil {
		return Payment{}, err
	}
	date, _ := time.Parse(time.DateOnly, input.TransactionDate)

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p := Payment{
			Direction:         input.Direction,
			Status:            workflow.StatusDraft,
			EditRequestStatus: workflow.EditRequestNone,
			CreatedBy:         actorID,
		}
		lines, err := s.price(ctx, tx, &p, input, date)
		if err != nil {
			return err
		}
		prefix := numbering.PrefixPaymentOut
		if p.Direction == allocation.DirectionIn {
			prefix = numbering.PrefixPaymentIn
		}
		if p.Number, err = numbering.Next(ctx, tx, prefix); err != nil {
			return err
		}
		if id, err = tx.Insert(ctx, p); err != nil {
			return err
		}
		for _, line := range lines {
			if err := tx.InsertAllocation(ctx, id, line); err != nil {
				return err
			}
		}
		if err := allocation.Recompute(ctx, tx, allocation.Refs(lines)...); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, shared.HistoryEntry{
			Module:   Module,
			EntityID: id,
			ActorID:  actorID,
			Action:   "create",
			At:       s.now(),
			Details: map[string]any{
				"number":            p.Number,
				"total_amount_bank": p.TotalAmountBank.StringFixed(2),
				"total_amount_base": p.TotalAmountBase.StringFixed(2),
				"fx_rate":           p.FxRate.String(),
				"allocations":       len(lines),
			},
		})
	})
	if err != nil {
		return Payment{}, err
	}
	s.logger.Info("payment created", slog.Int64("payment_id", id), slog.Int64("actor_id", actorID))
	return s.repo.Get(ctx, id)
}

// Update replaces the editable fields of a draft, submitted or rejected
// payment, or of an approved one whose edit request was approved. The
// payment returns to draft and its allocations are reconciled against the
// stored set.
func (s *Service) Update(ctx context.Context, actorID, id int64, input Input) (Payment, error) {
	if err := s.checkInput(actorID, input); err != nil {
		return Payment{}, err
	}
	date, _ := time.Parse(time.DateOnly, input.TransactionDate)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		to, err := workflow.Transition(current.State(), workflow.ActionEdit)
		if err != nil {
			return err
		}
		if input.Direction != current.Direction {
			return shared.Validationf("payment direction cannot change from %s to %s", current.Direction, input.Direction)
		}
		p := current
		p.ID = id
		lines, err := s.price(ctx, tx, &p, input, date)
		if err != nil {
			return err
		}

		rec := allocation.Diff(current.Allocations, lines)
		for _, line := range rec.Removed {
			if err := tx.DeleteAllocation(ctx, id, line.Ref); err != nil {
				return err
			}
		}
		for _, line := range rec.Changed {
			if err := tx.UpdateAllocation(ctx, id, line); err != nil {
				return err
			}
		}
		for _, line := range rec.Added {
			if err := tx.InsertAllocation(ctx, id, line); err != nil {
				return err
			}
		}
		if err := tx.UpdateDetails(ctx, p, current.State(), to); err != nil {
			return err
		}

		touched := rec.Touched()
		if !sameCurrency(current.CurrencyID, p.CurrencyID) {
			touched = append(allocation.Refs(current.Allocations), allocation.Refs(lines)...)
		}
		if err := allocation.Recompute(ctx, tx, touched...); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, shared.HistoryEntry{
			Module:   Module,
			EntityID: id,
			ActorID:  actorID,
			Action:   string(workflow.ActionEdit),
			At:       s.now(),
			Details: map[string]any{
				"from":              current.State().String(),
				"to":                to.String(),
				"added":             len(rec.Added),
				"removed":           len(rec.Removed),
				"changed":           len(rec.Changed),
				"total_amount_bank": p.TotalAmountBank.StringFixed(2),
				"fx_rate":           p.FxRate.String(),
			},
		})
	})
	if err != nil {
		return Payment{}, err
	}
	s.metrics.RecordTransition(Module, string(workflow.ActionEdit))
	s.logger.Info("payment updated", slog.Int64("payment_id", id), slog.Int64("actor_id", actorID))
	return s.repo.Get(ctx, id)
}

// price resolves currency and rate, validates the allocations and fills the
// monetary fields of p. It returns the allocation lines with base amounts.
func (s *Service) price(ctx context.Context, tx TxRepository, p *Payment, input Input, date time.Time) ([]allocation.Line, error) {
	quote, err := s.resolver(tx).Quote(ctx, input.BankAccountID, date)
	if err != nil {
		return nil, err
	}
	lines := input.lines()
	err = allocation.Validate(ctx, tx, allocation.Request{
		PaymentID:  p.ID,
		Direction:  input.Direction,
		PartyID:    input.PartyID,
		CurrencyID: quote.Currency.ID,
		Rate:       quote.Rate,
		Lines:      lines,
	})
	if err != nil {
		if errors.Is(err, shared.ErrValidation) {
			s.metrics.RecordAllocationRejected(Module)
		}
		return nil, err
	}
	totalBank, totalBase, lines := allocation.Split(lines, quote.Rate)
	for _, line := range lines {
		if !line.AmountBase.IsPositive() {
			return nil, shared.Validationf("allocation of %s to %s %d is too small to carry a base amount at rate %s",
				line.Amount.StringFixed(2), line.Ref.Kind, line.Ref.ID, quote.Rate.String())
		}
	}
	if !input.TotalAmount.IsZero() && !input.TotalAmount.Equal(totalBank) {
		return nil, shared.Validationf("total amount %s does not match allocations %s",
			input.TotalAmount.StringFixed(2), totalBank.StringFixed(2))
	}

	p.PartyType = input.PartyType
	p.PartyID = input.PartyID
	p.Method = input.Method
	p.BankAccountID = input.BankAccountID
	p.TransactionDate = date
	p.CurrencyCode = quote.Currency.Code
	p.CurrencyID = quote.Currency.ID
	p.FxRate = quote.Rate
	p.TotalAmountBank = totalBank
	p.TotalAmountBase = totalBase
	p.Reference = input.Reference
	p.Notes = input.Notes
	return lines, nil
}

// Submit sends a draft for approval.
func (s *Service) Submit(ctx context.Context, actorID, id int64) (Payment, error) {
	return s.transition(ctx, actorID, id, workflow.ActionSubmit, "", nil)
}

// Reject returns a submitted payment to the editable rejected state.
func (s *Service) Reject(ctx context.Context, actorID, id int64, reason string) (Payment, error) {
	return s.transition(ctx, actorID, id, workflow.ActionReject, reason, nil)
}

// RequestEdit asks for an approved payment to be reopened.
func (s *Service) RequestEdit(ctx context.Context, actorID, id int64, reason string) (Payment, error) {
	if reason == "" {
		return Payment{}, shared.Validationf("edit request reason is required")
	}
	return s.transition(ctx, actorID, id, workflow.ActionRequestEdit, reason, nil)
}

// ApproveEditRequest reopens an approved payment as a draft. The journal of
// the earlier approval stays active until the payment is approved again.
func (s *Service) ApproveEditRequest(ctx context.Context, actorID, id int64) (Payment, error) {
	return s.transition(ctx, actorID, id, workflow.ActionApproveEditRequest, "", func(p Payment) error {
		return workflow.CheckReviewer(p.EditRequestedBy, actorID)
	})
}

// RejectEditRequest leaves the payment approved and records the reason.
func (s *Service) RejectEditRequest(ctx context.Context, actorID, id int64, reason string) (Payment, error) {
	return s.transition(ctx, actorID, id, workflow.ActionRejectEditRequest, reason, nil)
}

func (s *Service) transition(ctx context.Context, actorID, id int64, action workflow.Action, reason string, guard func(Payment) error) (Payment, error) {
	if actorID <= 0 {
		return Payment{}, shared.Validationf("actor is required")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		to, err := workflow.Transition(p.State(), action)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(p); err != nil {
				return err
			}
		}
		change := workflow.Change{Action: action, To: to, Actor: actorID, At: s.now(), Reason: reason}
		if err := tx.UpdateState(ctx, id, p.State(), change); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, historyFor(id, p.State(), change))
	})
	if err != nil {
		return Payment{}, err
	}
	s.metrics.RecordTransition(Module, string(action))
	s.logger.Info("payment transition", slog.Int64("payment_id", id), slog.String("action", string(action)), slog.Int64("actor_id", actorID))
	return s.repo.Get(ctx, id)
}

// Approve re-validates a submitted payment with its frozen rate, replaces its
// journal and recomputes the balances of every allocated obligation.
func (s *Service) Approve(ctx context.Context, actorID, id int64) (Payment, error) {
	if actorID <= 0 {
		return Payment{}, shared.Validationf("actor is required")
	}
	var replaced int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		to, err := workflow.Transition(p.State(), workflow.ActionApprove)
		if err != nil {
			return err
		}

		resolver := s.resolver(tx)
		if _, err := resolver.Quote(ctx, p.BankAccountID, p.TransactionDate); err != nil {
			return err
		}
		err = allocation.Validate(ctx, tx, allocation.Request{
			PaymentID:  p.ID,
			Direction:  p.Direction,
			PartyID:    p.PartyID,
			CurrencyID: p.CurrencyID,
			Rate:       p.FxRate,
			Lines:      p.Allocations,
		})
		if err != nil {
			if errors.Is(err, shared.ErrValidation) {
				s.metrics.RecordAllocationRejected(Module)
			}
			return err
		}
		if sum := sumAmounts(p.Allocations); !sum.Equal(p.TotalAmountBank) {
			return shared.Validationf("payment total %s does not match allocations %s",
				p.TotalAmountBank.StringFixed(2), sum.StringFixed(2))
		}

		account, err := resolver.Account(ctx, p.BankAccountID)
		if err != nil {
			return err
		}
		if account.LedgerAccountID == nil {
			return shared.Validationf("bank account %d has no ledger account", p.BankAccountID)
		}
		control, err := journal.ControlAccount(ctx, tx, p.Direction)
		if err != nil {
			return err
		}
		entry, err := journal.BuildPaymentEntry(journal.PaymentPosting{
			PaymentID:        p.ID,
			Number:           p.Number,
			Direction:        p.Direction,
			PartyID:          p.PartyID,
			Date:             p.TransactionDate,
			CurrencyID:       p.CurrencyID,
			Rate:             p.FxRate,
			TotalBank:        p.TotalAmountBank,
			TotalBase:        p.TotalAmountBase,
			BankLedgerID:     *account.LedgerAccountID,
			ControlAccountID: control,
			Allocations:      p.Allocations,
			ActorID:          actorID,
		})
		if err != nil {
			return err
		}

		change := workflow.Change{Action: workflow.ActionApprove, To: to, Actor: actorID, At: s.now()}
		if err := tx.UpdateState(ctx, id, p.State(), change); err != nil {
			return err
		}
		journalID, n, err := journal.Replace(ctx, tx, entry)
		if err != nil {
			return err
		}
		replaced = n
		if err := allocation.Recompute(ctx, tx, allocation.Refs(p.Allocations)...); err != nil {
			return err
		}
		entryLog := historyFor(id, p.State(), change)
		entryLog.Details["journal_id"] = journalID
		entryLog.Details["replaced_journals"] = n
		return tx.AppendHistory(ctx, entryLog)
	})
	if err != nil {
		return Payment{}, err
	}
	s.metrics.RecordTransition(Module, string(workflow.ActionApprove))
	outcome := "posted"
	if replaced > 0 {
		outcome = "replaced"
		s.logger.Info("payment journal replaced", slog.Int64("payment_id", id), slog.Int64("retired", replaced))
	}
	s.metrics.RecordJournal(string(journal.SourcePayment), outcome)
	s.logger.Info("payment approved", slog.Int64("payment_id", id), slog.Int64("actor_id", actorID))
	return s.repo.Get(ctx, id)
}

// Delete logically removes a draft payment. Its allocations stop counting
// against obligations and any journal left by an earlier approval is retired.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if actorID <= 0 {
		return shared.Validationf("actor is required")
	}
	var retired int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		to, err := workflow.Transition(p.State(), workflow.ActionDelete)
		if err != nil {
			return err
		}
		change := workflow.Change{Action: workflow.ActionDelete, To: to, Actor: actorID, At: s.now()}
		if err := tx.SoftDelete(ctx, id, p.State(), change); err != nil {
			return err
		}
		if retired, err = journal.Retire(ctx, tx, journal.SourcePayment, id); err != nil {
			return err
		}
		if err := allocation.Recompute(ctx, tx, allocation.Refs(p.Allocations)...); err != nil {
			return err
		}
		entry := historyFor(id, p.State(), change)
		entry.Details["retired_journals"] = retired
		return tx.AppendHistory(ctx, entry)
	})
	if err != nil {
		return err
	}
	s.metrics.RecordTransition(Module, string(workflow.ActionDelete))
	if retired > 0 {
		s.metrics.RecordJournal(string(journal.SourcePayment), "retired")
	}
	s.logger.Info("payment deleted", slog.Int64("payment_id", id), slog.Int64("actor_id", actorID))
	return nil
}

func (s *Service) checkInput(actorID int64, input Input) error {
	if actorID <= 0 {
		return shared.Validationf("actor is required")
	}
	if err := s.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return shared.Validationf("%s: %s", verrs[0].Field(), verrs[0].Tag())
		}
		return shared.Validationf("%v", err)
	}
	want := PartySupplier
	if input.Direction == allocation.DirectionIn {
		want = PartyCustomer
	}
	if input.PartyType != want {
		return shared.Validationf("%s payments are made to a %s, not a %s", input.Direction, want, input.PartyType)
	}
	return nil
}

func historyFor(id int64, from workflow.State, change workflow.Change) shared.HistoryEntry {
	details := map[string]any{
		"from": from.String(),
		"to":   change.To.String(),
	}
	if change.Reason != "" {
		details["reason"] = change.Reason
	}
	return shared.HistoryEntry{
		Module:   Module,
		EntityID: id,
		ActorID:  change.Actor,
		Action:   string(change.Action),
		At:       change.At,
		Details:  details,
	}
}

func sumAmounts(lines []allocation.Line) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(line.Amount)
	}
	return sum
}

func sameCurrency(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
