package service

import (
	"context"
	"errors"

	"perpx/domain/ledger"
	"perpx/infra/journal"
	"perpx/infra/outbox"
	"perpx/onchain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type collateralRecord struct {
	Trader string          `json:"trader"`
	TxHash string          `json:"txHash"`
	Amount decimal.Decimal `json:"amount"`
}

// Deposit credits the trader with a verified on-chain deposit. Each
// transaction hash is credited at most once.
func (e *Engine) Deposit(ctx context.Context, trader, txHash string) (decimal.Decimal, error) {
	return e.settle(ctx, onchain.FuncDeposit, journal.RecordDeposit, trader, txHash, e.accounts.Credit)
}

// Withdraw debits free collateral for a verified on-chain withdrawal.
func (e *Engine) Withdraw(ctx context.Context, trader, txHash string) (decimal.Decimal, error) {
	return e.settle(ctx, onchain.FuncWithdraw, journal.RecordWithdraw, trader, txHash, e.accounts.Debit)
}

func (e *Engine) settle(
	ctx context.Context,
	function string,
	rt journal.RecordType,
	trader, txHash string,
	apply func(string, decimal.Decimal) error,
) (decimal.Decimal, error) {
	if trader == "" || txHash == "" {
		return decimal.Zero, errorf(KindValidation, function, "", "%w: trader and tx hash are required", ErrInvalidRequest)
	}

	amount, err := e.settler.Settle(ctx, function, trader, txHash, func(amt decimal.Decimal) error {
		return apply(trader, amt)
	})
	if err != nil {
		e.log.Warn("collateral transaction refused",
			zap.String("function", function),
			zap.String("trader", trader),
			zap.String("tx", txHash),
			zap.Error(err),
		)
		return decimal.Zero, newError(collateralKind(err), function, "", err)
	}

	e.record(rt, collateralRecord{Trader: trader, TxHash: txHash, Amount: amount})
	return amount, nil
}

func collateralKind(err error) Kind {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFree):
		return KindMargin
	case errors.Is(err, onchain.ErrTxNotFound):
		return KindNotFound
	case errors.Is(err, onchain.ErrUnavailable):
		return KindSync
	case errors.Is(err, onchain.ErrTxRejected),
		errors.Is(err, onchain.ErrTxMismatch),
		errors.Is(err, outbox.ErrAlreadyProcessed),
		errors.Is(err, ledger.ErrNonPositiveAmount):
		return KindValidation
	}
	return KindSync
}
