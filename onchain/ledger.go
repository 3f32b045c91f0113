// Package onchain is the boundary to the on-chain escrow ledger: the two
// position calls the engine may issue, transaction verification for
// deposits and withdrawals, and the coordinator that drives both.
package onchain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTxNotFound      = errors.New("onchain: transaction not found")
	ErrTxRejected      = errors.New("onchain: transaction failed on chain")
	ErrTxMismatch      = errors.New("onchain: transaction does not match request")
	ErrUnexpectedState = errors.New("onchain: unexpected on-chain state")
	ErrUnavailable     = errors.New("onchain: ledger unavailable")
)

// Function names the vault contract exposes for collateral movement.
const (
	FuncDeposit  = "deposit"
	FuncWithdraw = "withdraw"
)

// PositionRecord is the mirrored position of one trader in one market.
type PositionRecord struct {
	Vault      string
	Market     string
	Trader     string
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	Margin     decimal.Decimal
	Timestamp  time.Time
	Seq        uint64
}

// PositionWriter is the only capability the engine holds over on-chain state.
// Both calls are idempotent. ClosePosition on a trader with no record is a
// successful no-op.
type PositionWriter interface {
	UpsertPosition(ctx context.Context, rec PositionRecord) error
	ClosePosition(ctx context.Context, vault, market, trader string) error
}

// Receipt is what the chain reports about a collateral transaction.
type Receipt struct {
	TxHash   string
	Success  bool
	Function string
	Sender   string
	Target   string
	Asset    string
	Amount   decimal.Decimal
}

type TxVerifier interface {
	VerifyDeposit(ctx context.Context, txHash string) (Receipt, error)
	VerifyWithdraw(ctx context.Context, txHash string) (Receipt, error)
}

// Ledger is the full external collaborator.
type Ledger interface {
	PositionWriter
	TxVerifier
}
