// Package treasurytest provides an in-memory ledger for service tests. It
// implements the fx, allocation, journal and history stores with snapshot
// based rollback.
package treasurytest

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/allocation"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/fx"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/journal"
)

// Currency ids seeded by NewLedger.
const (
	AED int64 = 1
	USD int64 = 2
	EUR int64 = 3
)

// StoredJournal is a journal as kept by the ledger.
type StoredJournal struct {
	ID      int64
	Entry   journal.Entry
	Deleted bool
}

// Ledger is the shared in-memory state.
type Ledger struct {
	Accounts    map[int64]fx.Account
	Currencies  map[int64]fx.Currency
	Rates       []fx.Rate
	Obligations map[allocation.Ref]allocation.Obligation
	Mappings    map[string]int64
	Journals    []StoredJournal
	History     []shared.HistoryEntry

	// CreateJournalErr, when set, fails the next journal insert.
	CreateJournalErr error

	nextJournalID int64
}

// NewLedger returns a ledger with AED, USD and EUR currencies and both
// control account mappings configured.
func NewLedger() *Ledger {
	return &Ledger{
		Accounts: make(map[int64]fx.Account),
		Currencies: map[int64]fx.Currency{
			AED: {ID: AED, Code: "AED", Name: "UAE Dirham"},
			USD: {ID: USD, Code: "USD", Name: "US Dollar"},
			EUR: {ID: EUR, Code: "EUR", Name: "Euro"},
		},
		Obligations: make(map[allocation.Ref]allocation.Obligation),
		Mappings: map[string]int64{
			journal.MappingModule + "/" + journal.MappingAPControl: 2100,
			journal.MappingModule + "/" + journal.MappingARControl: 1200,
		},
	}
}

// AddAccount registers a bank account settling in currencyID with the given
// ledger account.
func (l *Ledger) AddAccount(id int64, currencyID int64, ledgerID int64) {
	cur := l.Currencies[currencyID]
	cid, lid := currencyID, ledgerID
	l.Accounts[id] = fx.Account{ID: id, Name: cur.Code + " account", CurrencyCode: cur.Code, CurrencyID: &cid, LedgerAccountID: &lid}
}

// AddRate records a rate effective from the given day.
func (l *Ledger) AddRate(accountID int64, from time.Time, rate string) {
	l.Rates = append(l.Rates, fx.Rate{AccountID: accountID, EffectiveFrom: from, RateToBase: decimal.RequireFromString(rate)})
}

// AddObligation registers an obligation with its open balance equal to total.
func (l *Ledger) AddObligation(ref allocation.Ref, partyID int64, total string, currencyID int64) {
	cid := currencyID
	amount := decimal.RequireFromString(total)
	l.Obligations[ref] = allocation.Obligation{
		Ref:         ref,
		Number:      ref.String(),
		PartyID:     partyID,
		Total:       amount,
		CurrencyID:  &cid,
		OpenBalance: amount,
	}
}

// Balance returns the cached open balance of ref as a fixed two decimal string.
func (l *Ledger) Balance(ref allocation.Ref) string {
	return l.Obligations[ref].OpenBalance.StringFixed(2)
}

// ActiveJournals returns the non-deleted journals of a source.
func (l *Ledger) ActiveJournals(sourceType journal.SourceType, sourceID int64) []StoredJournal {
	var out []StoredJournal
	for _, j := range l.Journals {
		if !j.Deleted && j.Entry.SourceType == sourceType && j.Entry.SourceID == sourceID {
			out = append(out, j)
		}
	}
	return out
}

// Actions lists the history actions recorded for an entity, oldest first.
func (l *Ledger) Actions(module string, entityID int64) []string {
	var out []string
	for _, h := range l.History {
		if h.Module == module && h.EntityID == entityID {
			out = append(out, h.Action)
		}
	}
	return out
}

// Snapshot deep copies the ledger state.
func (l *Ledger) Snapshot() *Ledger {
	cp := &Ledger{
		Accounts:      make(map[int64]fx.Account, len(l.Accounts)),
		Currencies:    make(map[int64]fx.Currency, len(l.Currencies)),
		Rates:         append([]fx.Rate(nil), l.Rates...),
		Obligations:   make(map[allocation.Ref]allocation.Obligation, len(l.Obligations)),
		Mappings:      make(map[string]int64, len(l.Mappings)),
		Journals:      append([]StoredJournal(nil), l.Journals...),
		History:       append([]shared.HistoryEntry(nil), l.History...),
		nextJournalID: l.nextJournalID,
	}
	for k, v := range l.Accounts {
		cp.Accounts[k] = v
	}
	for k, v := range l.Currencies {
		cp.Currencies[k] = v
	}
	for k, v := range l.Obligations {
		cp.Obligations[k] = v
	}
	for k, v := range l.Mappings {
		cp.Mappings[k] = v
	}
	return cp
}

// Restore replaces the ledger state with a snapshot. Injected failures are
// not rolled back.
func (l *Ledger) Restore(s *Ledger) {
	failure := l.CreateJournalErr
	*l = *s
	l.CreateJournalErr = failure
}

// GetBankAccount implements fx.Store.
func (l *Ledger) GetBankAccount(ctx context.Context, id int64) (fx.Account, error) {
	acc, ok := l.Accounts[id]
	if !ok {
		return fx.Account{}, shared.NotFoundf("bank account %d", id)
	}
	return acc, nil
}

// GetCurrencyByID implements fx.Store.
func (l *Ledger) GetCurrencyByID(ctx context.Context, id int64) (fx.Currency, error) {
	cur, ok := l.Currencies[id]
	if !ok {
		return fx.Currency{}, shared.NotFoundf("currency %d", id)
	}
	return cur, nil
}

// FindCurrency implements fx.Store.
func (l *Ledger) FindCurrency(ctx context.Context, codeOrName string) (fx.Currency, error) {
	for _, cur := range l.Currencies {
		if strings.EqualFold(cur.Code, codeOrName) {
			return cur, nil
		}
	}
	for _, cur := range l.Currencies {
		if strings.EqualFold(cur.Name, codeOrName) {
			return cur, nil
		}
	}
	return fx.Currency{}, shared.NotFoundf("currency %q", codeOrName)
}

// LatestRate implements fx.Store.
func (l *Ledger) LatestRate(ctx context.Context, accountID int64, on time.Time) (fx.Rate, error) {
	var best *fx.Rate
	for i := range l.Rates {
		r := l.Rates[i]
		if r.AccountID != accountID || r.EffectiveFrom.After(on) {
			continue
		}
		if best == nil || r.EffectiveFrom.After(best.EffectiveFrom) {
			best = &r
		}
	}
	if best == nil {
		return fx.Rate{}, shared.NotFoundf("exchange rate for account %d", accountID)
	}
	return *best, nil
}

// GetObligation returns an obligation.
func (l *Ledger) GetObligation(ctx context.Context, ref allocation.Ref) (allocation.Obligation, error) {
	ob, ok := l.Obligations[ref]
	if !ok {
		return allocation.Obligation{}, shared.NotFoundf("%s", ref)
	}
	return ob, nil
}

// UpdateOpenBalance writes the cached balance.
func (l *Ledger) UpdateOpenBalance(ctx context.Context, ref allocation.Ref, balance decimal.Decimal) error {
	ob, ok := l.Obligations[ref]
	if !ok {
		return shared.NotFoundf("%s", ref)
	}
	ob.OpenBalance = balance
	l.Obligations[ref] = ob
	return nil
}

// GetAccountMapping implements journal.MappingStore.
func (l *Ledger) GetAccountMapping(ctx context.Context, module, key string) (int64, error) {
	id, ok := l.Mappings[strings.ToUpper(module)+"/"+key]
	if !ok {
		return 0, shared.NotFoundf("account mapping %s/%s", module, key)
	}
	return id, nil
}

// SoftDeleteJournals implements journal.Store.
func (l *Ledger) SoftDeleteJournals(ctx context.Context, sourceType journal.SourceType, sourceID int64) (int64, error) {
	var n int64
	for i := range l.Journals {
		j := &l.Journals[i]
		if !j.Deleted && j.Entry.SourceType == sourceType && j.Entry.SourceID == sourceID {
			j.Deleted = true
			n++
		}
	}
	return n, nil
}

// CreateJournal implements journal.Store.
func (l *Ledger) CreateJournal(ctx context.Context, entry journal.Entry) (int64, error) {
	if err := l.CreateJournalErr; err != nil {
		l.CreateJournalErr = nil
		return 0, shared.DataStore("insert journal", err)
	}
	l.nextJournalID++
	l.Journals = append(l.Journals, StoredJournal{ID: l.nextJournalID, Entry: entry})
	return l.nextJournalID, nil
}

// AppendHistory implements shared.HistorySink.
func (l *Ledger) AppendHistory(ctx context.Context, entry shared.HistoryEntry) error {
	l.History = append(l.History, entry)
	return nil
}
