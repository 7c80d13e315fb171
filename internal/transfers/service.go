package transfers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-treasury/internal/observability"
	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/fx"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/journal"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/numbering"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/workflow"
)

// Service implements the fund transfer lifecycle.
type Service struct {
	repo         Repository
	logger       *slog.Logger
	baseCurrency string
	currencies   *fx.CurrencyCache
	metrics      *observability.Metrics
	validate     *validator.Validate
	now          func() time.Time
}

// NewService constructs the transfer service.
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

// Get returns a transfer.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.Get(ctx, id)
}

// Create records a draft transfer with rates frozen for the transfer date.
func (s *Service) Create(ctx context.Context, actorID int64, input Input) (Transfer, error) {
	if err := s.checkInput(actorID, input); err != nil {
		return Transfer{}, err
	}
	date, _ := time.Parse(time.DateOnly, input.TransferDate)

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t := Transfer{
			Status:            workflow.StatusDraft,
			EditRequestStatus: workflow.EditRequestNone,
			CreatedBy:         actorID,
		}
		if err := s.price(ctx, tx, &t, input, date); err != nil {
			return err
		}
		var err error
		if t.Number, err = numbering.Next(ctx, tx, numbering.PrefixTransfer); err != nil {
			return err
		}
		if id, err = tx.Insert(ctx, t); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, shared.HistoryEntry{
			Module:   Module,
			EntityID: id,
			ActorID:  actorID,
			Action:   "create",
			At:       s.now(),
			Details:  amountDetails(t),
		})
	})
	if err != nil {
		return Transfer{}, err
	}
	s.logger.Info("fund transfer created", slog.Int64("transfer_id", id), slog.Int64("actor_id", actorID))
	return s.repo.Get(ctx, id)
}

// Update replaces the editable fields and returns the transfer to draft.
func (s *Service) Update(ctx context.Context, actorID, id int64, input Input) (Transfer, error) {
	if err := s.checkInput(actorID, input); err != nil {
		return Transfer{}, err
	}
	date, _ := time.Parse(time.DateOnly, input.TransferDate)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		to, err := workflow.Transition(current.State(), workflow.ActionEdit)
		if err != nil {
			return err
		}
		t := current
		if input.RateOverridden && current.RateOverridden {
			if !input.RateFrom.Valid {
				input.RateFrom = decimal.NewNullDecimal(current.RateFrom)
			}
			if !input.RateTo.Valid {
				input.RateTo = decimal.NewNullDecimal(current.RateTo)
			}
		}
		if err := s.price(ctx, tx, &t, input, date); err != nil {
			return err
		}
		if err := tx.UpdateDetails(ctx, t, current.State(), to); err != nil {
			return err
		}
		details := amountDetails(t)
		details["from"] = current.State().String()
		details["to"] = to.String()
		return tx.AppendHistory(ctx, shared.HistoryEntry{
			Module:   Module,
			EntityID: id,
			ActorID:  actorID,
			Action:   string(workflow.ActionEdit),
			At:       s.now(),
			Details:  details,
		})
	})
	if err != nil {
		return Transfer{}, err
	}
	s.metrics.RecordTransition(Module, string(workflow.ActionEdit))
	s.logger.Info("fund transfer updated", slog.Int64("transfer_id", id), slog.Int64("actor_id", actorID))
	return s.repo.Get(ctx, id)
}

// price resolves both account currencies and rates and derives the amounts.
// Overridden rates are taken as given; resolved rates must agree with any
// rates the caller sent.
func (s *Service) price(ctx context.Context, tx TxRepository, t *Transfer, input Input, date time.Time) error {
	if !input.Amount.IsPositive() {
		return shared.Validationf("transfer amount must be positive")
	}
	if !input.Amount.Equal(input.Amount.Round(2)) {
		return shared.Validationf("transfer amount has more than two decimals")
	}
	resolver := fx.NewResolver(s.currencies.Wrap(tx), s.baseCurrency)
	fromCur, err := settlement(ctx, resolver, input.FromAccountID)
	if err != nil {
		return err
	}
	toCur, err := settlement(ctx, resolver, input.ToAccountID)
	if err != nil {
		return err
	}

	var rateFrom, rateTo decimal.Decimal
	if input.RateOverridden {
		if !input.RateFrom.Valid || !input.RateTo.Valid {
			return shared.Validationf("overridden transfers need both rates")
		}
		rateFrom, rateTo = input.RateFrom.Decimal, input.RateTo.Decimal
		if !rateFrom.IsPositive() || !rateTo.IsPositive() {
			return shared.Validationf("exchange rates must be positive")
		}
		if !rateFrom.Equal(rateFrom.Round(6)) || !rateTo.Equal(rateTo.Round(6)) {
			return shared.Validationf("exchange rates have more than six decimals")
		}
	} else {
		if rateFrom, err = quote(ctx, resolver, input.FromAccountID, date); err != nil {
			return err
		}
		if rateTo, err = quote(ctx, resolver, input.ToAccountID, date); err != nil {
			return err
		}
		if input.RateFrom.Valid && !fx.SameRate(input.RateFrom.Decimal, rateFrom) ||
			input.RateTo.Valid && !fx.SameRate(input.RateTo.Decimal, rateTo) {
			return shared.Validationf("rates differ from the account rate history; mark the transfer as overridden")
		}
	}

	t.FromAccountID = input.FromAccountID
	t.ToAccountID = input.ToAccountID
	t.TransferDate = date
	t.FromCurrencyCode, t.FromCurrencyID = fromCur.Code, fromCur.ID
	t.ToCurrencyCode, t.ToCurrencyID = toCur.Code, toCur.ID
	t.AmountFrom = input.Amount
	t.RateFrom, t.RateTo = rateFrom, rateTo
	t.AmountBase, t.AmountTo = Amounts(input.Amount, rateFrom, rateTo)
	t.RateOverridden = input.RateOverridden
	t.Reference = input.Reference
	t.Notes = input.Notes
	if !t.AmountTo.IsPositive() {
		return shared.Validationf("transfer amount rounds to zero in the destination currency")
	}
	return nil
}

func settlement(ctx context.Context, resolver *fx.Resolver, accountID int64) (fx.CurrencyResolution, error) {
	res, err := resolver.ResolveCurrency(ctx, accountID)
	if err != nil {
		return fx.CurrencyResolution{}, err
	}
	if res.Kind == fx.Unresolved {
		return fx.CurrencyResolution{}, shared.Validationf("settlement currency of account %d could not be determined", accountID)
	}
	return res, nil
}

func quote(ctx context.Context, resolver *fx.Resolver, accountID int64, date time.Time) (decimal.Decimal, error) {
	q, err := resolver.Quote(ctx, accountID, date)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Rate, nil
}

// Submit sends a draft for approval.
func (s *Service) Submit(ctx context.Context, actorID, id int64) (Transfer, error) {
	return s.transition(ctx, actorID, id, workflow.ActionSubmit, "", nil)
}

// Reject returns a submitted transfer to the editable rejected state.
func (s *Service) Reject(ctx context.Context, actorID, id int64, reason string) (Transfer, error) {
	return s.transition(ctx, actorID, id, workflow.ActionReject, reason, nil)
}

// RequestEdit asks for an approved transfer to be reopened.
func (s *Service) RequestEdit(ctx context.Context, actorID, id int64, reason string) (Transfer, error) {
	if reason == "" {
		return Transfer{}, shared.Validationf("edit request reason is required")
	}
	return s.transition(ctx, actorID, id, workflow.ActionRequestEdit, reason, nil)
}

// ApproveEditRequest reopens an approved transfer as a draft.
func (s *Service) ApproveEditRequest(ctx context.Context, actorID, id int64) (Transfer, error) {
	return s.transition(ctx, actorID, id, workflow.ActionApproveEditRequest, "", func(t Transfer) error {
		return workflow.CheckReviewer(t.EditRequestedBy, actorID)
	})
}

// RejectEditRequest leaves the transfer approved.
func (s *Service) RejectEditRequest(ctx context.Context, actorID, id int64, reason string) (Transfer, error) {
	return s.transition(ctx, actorID, id, workflow.ActionRejectEditRequest, reason, nil)
}

func (s *Service) transition(ctx context.Context, actorID, id int64, action workflow.Action, reason string, guard func(Transfer) error) (Transfer, error) {
	if actorID <= 0 {
		return Transfer{}, shared.Validationf("actor is required")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		to, err := workflow.Transition(t.State(), action)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(t); err != nil {
				return err
			}
		}
		change := workflow.Change{Action: action, To: to, Actor: actorID, At: s.now(), Reason: reason}
		if err := tx.UpdateState(ctx, id, t.State(), change); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, historyFor(id, t.State(), change))
	})
	if err != nil {
		return Transfer{}, err
	}
	s.metrics.RecordTransition(Module, string(action))
	s.logger.Info("fund transfer transition", slog.Int64("transfer_id", id), slog.String("action", string(action)), slog.Int64("actor_id", actorID))
	return s.repo.Get(ctx, id)
}

// Approve posts the journal of a submitted transfer, replacing any journal of
// an earlier approval. Frozen rates are not recomputed.
func (s *Service) Approve(ctx context.Context, actorID, id int64) (Transfer, error) {
	if actorID <= 0 {
		return Transfer{}, shared.Validationf("actor is required")
	}
	var replaced int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		to, err := workflow.Transition(t.State(), workflow.ActionApprove)
		if err != nil {
			return err
		}
		if wantBase, wantTo := Amounts(t.AmountFrom, t.RateFrom, t.RateTo); !wantBase.Equal(t.AmountBase) || !wantTo.Equal(t.AmountTo) {
			return shared.Validationf("stored amounts of transfer %s do not match its rates", t.Number)
		}

		resolver := fx.NewResolver(s.currencies.Wrap(tx), s.baseCurrency)
		fromAcc, err := resolver.Account(ctx, t.FromAccountID)
		if err != nil {
			return err
		}
		toAcc, err := resolver.Account(ctx, t.ToAccountID)
		if err != nil {
			return err
		}
		entry, err := journal.BuildTransferEntry(journal.TransferPosting{
			TransferID:     t.ID,
			Number:         t.Number,
			Date:           t.TransferDate,
			FromCurrencyID: t.FromCurrencyID,
			RateFrom:       t.RateFrom,
			AmountFrom:     t.AmountFrom,
			AmountBase:     t.AmountBase,
			FromLedgerID:   ledgerID(fromAcc),
			ToLedgerID:     ledgerID(toAcc),
			ActorID:        actorID,
		})
		if err != nil {
			return err
		}

		change := workflow.Change{Action: workflow.ActionApprove, To: to, Actor: actorID, At: s.now()}
		if err := tx.UpdateState(ctx, id, t.State(), change); err != nil {
			return err
		}
		journalID, n, err := journal.Replace(ctx, tx, entry)
		if err != nil {
			return err
		}
		replaced = n
		entryLog := historyFor(id, t.State(), change)
		entryLog.Details["journal_id"] = journalID
		entryLog.Details["replaced_journals"] = n
		return tx.AppendHistory(ctx, entryLog)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.metrics.RecordTransition(Module, string(workflow.ActionApprove))
	outcome := "posted"
	if replaced > 0 {
		outcome = "replaced"
		s.logger.Info("fund transfer journal replaced", slog.Int64("transfer_id", id), slog.Int64("retired", replaced))
	}
	s.metrics.RecordJournal(string(journal.SourceTransfer), outcome)
	s.logger.Info("fund transfer approved", slog.Int64("transfer_id", id), slog.Int64("actor_id", actorID))
	return s.repo.Get(ctx, id)
}

// Delete logically removes a draft transfer and retires any journal left by
// an earlier approval.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if actorID <= 0 {
		return shared.Validationf("actor is required")
	}
	var retired int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		to, err := workflow.Transition(t.State(), workflow.ActionDelete)
		if err != nil {
			return err
		}
		change := workflow.Change{Action: workflow.ActionDelete, To: to, Actor: actorID, At: s.now()}
		if err := tx.SoftDelete(ctx, id, t.State(), change); err != nil {
			return err
		}
		if retired, err = journal.Retire(ctx, tx, journal.SourceTransfer, id); err != nil {
			return err
		}
		entry := historyFor(id, t.State(), change)
		entry.Details["retired_journals"] = retired
		return tx.AppendHistory(ctx, entry)
	})
	if err != nil {
		return err
	}
	s.metrics.RecordTransition(Module, string(workflow.ActionDelete))
	if retired > 0 {
		s.metrics.RecordJournal(string(journal.SourceTransfer), "retired")
	}
	s.logger.Info("fund transfer deleted", slog.Int64("transfer_id", id), slog.Int64("actor_id", actorID))
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
	return nil
}

func ledgerID(acc fx.Account) int64 {
	if acc.LedgerAccountID == nil {
		return 0
	}
	return *acc.LedgerAccountID
}

func amountDetails(t Transfer) map[string]any {
	return map[string]any{
		"number":               t.Number,
		"amount_from_currency": t.AmountFrom.StringFixed(2),
		"amount_base":          t.AmountBase.StringFixed(2),
		"amount_to_currency":   t.AmountTo.StringFixed(2),
		"rate_from_to_base":    t.RateFrom.String(),
		"rate_to_to_base":      t.RateTo.String(),
		"rate_overridden":      t.RateOverridden,
	}
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
