package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")
	ErrInsufficientFree  = errors.New("ledger: insufficient free collateral")
	ErrLockedBounds      = errors.New("ledger: locked collateral out of bounds")
)

// Delta is a signed change to an account's total and locked collateral.
type Delta struct {
	Total  decimal.Decimal
	Locked decimal.Decimal
}

func (d Delta) Add(o Delta) Delta {
	return Delta{Total: d.Total.Add(o.Total), Locked: d.Locked.Add(o.Locked)}
}

func (d Delta) Neg() Delta {
	return Delta{Total: d.Total.Neg(), Locked: d.Locked.Neg()}
}

func (d Delta) IsZero() bool {
	return d.Total.IsZero() && d.Locked.IsZero()
}

// Free is the change in free collateral.
func (d Delta) Free() decimal.Decimal {
	return d.Total.Sub(d.Locked)
}

// Deltas accumulates per-trader changes for one commit.
type Deltas map[string]Delta

func (ds Deltas) Add(trader string, d Delta) {
	ds[trader] = ds[trader].Add(d)
}

// Inverse returns the compensating deltas.
func (ds Deltas) Inverse() Deltas {
	out := make(Deltas, len(ds))
	for trader, d := range ds {
		out[trader] = d.Neg()
	}
	return out
}

// Staged splits the deltas of a commit that waits on an external
// confirmation. hold carries every change but keeps any collateral the
// deltas would free still locked; release unlocks it once confirmed.
//
// hold never raises a trader's free collateral, so it is valid whenever ds
// is, and hold.Inverse() never lowers it.
func (ds Deltas) Staged() (hold, release Deltas) {
	hold = make(Deltas, len(ds))
	release = make(Deltas)
	for trader, d := range ds {
		if f := d.Free(); f.IsPositive() {
			d.Locked = d.Locked.Add(f)
			release[trader] = Delta{Locked: f.Neg()}
		}
		hold[trader] = d
	}
	return hold, release
}

func (ds Deltas) Traders() []string {
	out := make([]string, 0, len(ds))
	for trader := range ds {
		out = append(out, trader)
	}
	sort.Strings(out)
	return out
}

// Balance is a point-in-time view of one account.
type Balance struct {
	Trader string          `json:"trader"`
	Total  decimal.Decimal `json:"total"`
	Locked decimal.Decimal `json:"locked"`
	Free   decimal.Decimal `json:"free"`
}

type account struct {
	mu     sync.Mutex
	total  decimal.Decimal
	locked decimal.Decimal
}

func (a *account) valid(d Delta) bool {
	total := a.total.Add(d.Total)
	locked := a.locked.Add(d.Locked)
	return !locked.IsNegative() && locked.LessThanOrEqual(total)
}

// Accounts is the account-wide collateral of every trader. Each account has
// its own mutex, so traders never contend with each other.
type Accounts struct {
	mu       sync.RWMutex
	byTrader map[string]*account
}

func NewAccounts() *Accounts {
	return &Accounts{byTrader: make(map[string]*account)}
}

func (a *Accounts) lookup(trader string) (*account, bool) {
	a.mu.RLock()
	acc, ok := a.byTrader[trader]
	a.mu.RUnlock()
	return acc, ok
}

func (a *Accounts) get(trader string) *account {
	if acc, ok := a.lookup(trader); ok {
		return acc
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if acc, ok := a.byTrader[trader]; ok {
		return acc
	}
	acc := &account{}
	a.byTrader[trader] = acc
	return acc
}

// Balance returns the trader's balance; unknown traders read as zero.
func (a *Accounts) Balance(trader string) Balance {
	acc, ok := a.lookup(trader)
	if !ok {
		return Balance{Trader: trader}
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return Balance{
		Trader: trader,
		Total:  acc.total,
		Locked: acc.locked,
		Free:   acc.total.Sub(acc.locked),
	}
}

// Credit adds to total collateral.
func (a *Accounts) Credit(trader string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: credit %s", ErrNonPositiveAmount, amount)
	}
	acc := a.get(trader)
	acc.mu.Lock()
	acc.total = acc.total.Add(amount)
	acc.mu.Unlock()
	return nil
}

// Debit removes free collateral.
func (a *Accounts) Debit(trader string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: debit %s", ErrNonPositiveAmount, amount)
	}
	acc := a.get(trader)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if free := acc.total.Sub(acc.locked); free.LessThan(amount) {
		return fmt.Errorf("%w: trader=%s free=%s debit=%s", ErrInsufficientFree, trader, free, amount)
	}
	acc.total = acc.total.Sub(amount)
	return nil
}

func (a *Accounts) lockAll(traders []string) []*account {
	accs := make([]*account, len(traders))
	for i, trader := range traders {
		accs[i] = a.get(trader)
		accs[i].mu.Lock()
	}
	return accs
}

func unlockAll(accs []*account) {
	for i := len(accs) - 1; i >= 0; i-- {
		accs[i].mu.Unlock()
	}
}

// Apply commits every delta or none. Accounts are locked in sorted trader
// order and each must satisfy 0 <= locked <= total after the change.
func (a *Accounts) Apply(deltas Deltas) error {
	traders := deltas.Traders()
	accs := a.lockAll(traders)
	defer unlockAll(accs)

	for i, trader := range traders {
		if !accs[i].valid(deltas[trader]) {
			d := deltas[trader]
			return fmt.Errorf("%w: trader=%s total=%s locked=%s delta=(%s,%s)",
				ErrLockedBounds, trader, accs[i].total, accs[i].locked, d.Total, d.Locked)
		}
	}
	for i, trader := range traders {
		accs[i].total = accs[i].total.Add(deltas[trader].Total)
		accs[i].locked = accs[i].locked.Add(deltas[trader].Locked)
	}
	return nil
}

// ApplyUnchecked applies deltas without bounds checks. It exists for
// compensating a held stage and for replaying journaled outcomes, whose
// order across markets may differ from the order they were committed in.
func (a *Accounts) ApplyUnchecked(deltas Deltas) {
	traders := deltas.Traders()
	accs := a.lockAll(traders)
	defer unlockAll(accs)

	for i, trader := range traders {
		accs[i].total = accs[i].total.Add(deltas[trader].Total)
		accs[i].locked = accs[i].locked.Add(deltas[trader].Locked)
	}
}

// Traders lists every known trader, sorted.
func (a *Accounts) Traders() []string {
	a.mu.RLock()
	out := make([]string, 0, len(a.byTrader))
	for trader := range a.byTrader {
		out = append(out, trader)
	}
	a.mu.RUnlock()
	sort.Strings(out)
	return out
}
