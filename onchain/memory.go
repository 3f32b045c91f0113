package onchain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpClose  Op = "close"
)

// Fault decides whether a call fails. Returning nil lets it through.
type Fault func(op Op, market, trader string) error

// MemoryLedger is an in-process escrow ledger. It backs tests and local runs
// without a chain.
type MemoryLedger struct {
	mu sync.Mutex

	vault    string
	records  map[string]PositionRecord
	receipts map[string]Receipt
	fault    Fault
	calls    map[Op]int
}

func NewMemoryLedger(vault string) *MemoryLedger {
	return &MemoryLedger{
		vault:    vault,
		records:  make(map[string]PositionRecord),
		receipts: make(map[string]Receipt),
		calls:    make(map[Op]int),
	}
}

func recordKey(market, trader string) string { return market + "/" + trader }

// Inject installs a fault hook; nil removes it.
func (m *MemoryLedger) Inject(f Fault) {
	m.mu.Lock()
	m.fault = f
	m.mu.Unlock()
}

// FailAfter lets n calls of op succeed and fails every later one with err.
func FailAfter(op Op, n int, err error) Fault {
	var mu sync.Mutex
	seen := 0
	return func(got Op, _, _ string) error {
		if got != op {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		seen++
		if seen > n {
			return err
		}
		return nil
	}
}

func (m *MemoryLedger) UpsertPosition(ctx context.Context, rec PositionRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[OpUpsert]++
	if m.fault != nil {
		if err := m.fault(OpUpsert, rec.Market, rec.Trader); err != nil {
			return err
		}
	}
	if rec.Vault != m.vault {
		return fmt.Errorf("%w: vault %s", ErrUnexpectedState, rec.Vault)
	}

	key := recordKey(rec.Market, rec.Trader)
	if cur, ok := m.records[key]; ok && rec.Seq < cur.Seq {
		return nil
	}
	m.records[key] = rec
	return nil
}

func (m *MemoryLedger) ClosePosition(ctx context.Context, vault, market, trader string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[OpClose]++
	if m.fault != nil {
		if err := m.fault(OpClose, market, trader); err != nil {
			return err
		}
	}
	if vault != m.vault {
		return fmt.Errorf("%w: vault %s", ErrUnexpectedState, vault)
	}

	delete(m.records, recordKey(market, trader))
	return nil
}

// Record returns the mirrored position, if any.
func (m *MemoryLedger) Record(market, trader string) (PositionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(market, trader)]
	return rec, ok
}

// Records lists mirrored positions of a market sorted by trader.
func (m *MemoryLedger) Records(market string) []PositionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PositionRecord
	for key, rec := range m.records {
		if strings.HasPrefix(key, market+"/") {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trader < out[j].Trader })
	return out
}

func (m *MemoryLedger) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// AddReceipt registers a transaction the verifier will report.
func (m *MemoryLedger) AddReceipt(r Receipt) {
	m.mu.Lock()
	m.receipts[r.TxHash] = r
	m.mu.Unlock()
}

func (m *MemoryLedger) VerifyDeposit(ctx context.Context, txHash string) (Receipt, error) {
	return m.receipt(ctx, txHash)
}

func (m *MemoryLedger) VerifyWithdraw(ctx context.Context, txHash string) (Receipt, error) {
	return m.receipt(ctx, txHash)
}

func (m *MemoryLedger) receipt(ctx context.Context, txHash string) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[txHash]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrTxNotFound, txHash)
	}
	return r, nil
}
