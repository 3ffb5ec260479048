// =============================
// File: internal/swap/executor.go
// =============================
package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/pool-sniper/internal/blockchain/solbc"
)

// Ledger - часть клиента блокчейна, нужная исполнителю.
type Ledger interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetTokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error)
	GetRecentBlockReference(ctx context.Context) (solbc.BlockReference, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	AwaitConfirmation(ctx context.Context, sig solana.Signature, ref solbc.BlockReference) error
}

// Executor выполняет попытки покупки и цикл повторов.
type Executor struct {
	ledger     Ledger
	builder    Builder
	feeReserve uint64
	journal    *Journal
	logger     *zap.Logger
}

// ExecutorOption настраивает Executor.
type ExecutorOption func(*Executor)

// WithFeeReserve оставляет на кошельке lamports на комиссии.
func WithFeeReserve(lamports uint64) ExecutorOption {
	return func(e *Executor) { e.feeReserve = lamports }
}

// WithJournal пишет каждую попытку в журнал.
func WithJournal(j *Journal) ExecutorOption {
	return func(e *Executor) { e.journal = j }
}

func NewExecutor(ledger Ledger, builder Builder, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		ledger:  ledger,
		builder: builder,
		logger:  logger.Named("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Attempt выполняет одну попытку: баланс, сборка, подпись, отправка, подтверждение.
func (e *Executor) Attempt(ctx context.Context, order Order, poolAddr solana.PublicKey) Outcome {
	if out, ok := e.checkBalance(ctx, order); !ok {
		return out
	}

	ref, err := e.ledger.GetRecentBlockReference(ctx)
	if err != nil {
		return Outcome{Kind: TransientFailure, Reason: fmt.Errorf("blockhash: %w", err)}
	}

	tx, err := e.builder.Build(ctx, order, poolAddr, ref)
	if err != nil {
		return Outcome{Kind: TransientFailure, Reason: fmt.Errorf("build: %w", err)}
	}

	if err := order.Wallet.SignTransaction(tx); err != nil {
		return Outcome{Kind: TransientFailure, Reason: fmt.Errorf("sign: %w", err)}
	}

	// подписанная транзакция уходит целиком: отмена не обрывает запрос на полпути
	sig, err := e.ledger.SendTransaction(context.WithoutCancel(ctx), tx)
	if err != nil {
		return Outcome{Kind: TransientFailure, Reason: fmt.Errorf("submit: %w", err)}
	}
	e.logger.Info("Transaction sent", zap.String("signature", sig.String()), zap.String("pool", poolAddr.String()))

	// отправленная транзакция всегда получает классифицированный исход, даже при отмене
	err = e.ledger.AwaitConfirmation(context.WithoutCancel(ctx), sig, ref)

	var txErr *solbc.TransactionError
	switch {
	case err == nil:
		e.logger.Info("Transaction confirmed", zap.String("signature", sig.String()))
		return Outcome{Kind: Confirmed, Signature: sig}
	case errors.As(err, &txErr):
		return Outcome{Kind: Rejected, Signature: sig, Reason: err}
	default:
		return Outcome{Kind: TransientFailure, Signature: sig, Reason: err}
	}
}

func (e *Executor) checkBalance(ctx context.Context, order Order) (Outcome, bool) {
	native, err := e.ledger.GetBalance(ctx, order.Wallet.PublicKey)
	if err != nil {
		return Outcome{Kind: TransientFailure, Reason: fmt.Errorf("balance: %w", err)}, false
	}

	amount := order.Intent.Amount
	switch order.Intent.Source {
	case SourceUSDC:
		ata, err := order.Wallet.GetATA(USDCMint)
		if err != nil {
			return Outcome{Kind: TransientFailure, Reason: err}, false
		}
		tokens, err := e.ledger.GetTokenBalance(ctx, ata)
		if errors.Is(err, solbc.ErrAccountNotFound) {
			tokens, err = 0, nil
		}
		if err != nil {
			return Outcome{Kind: TransientFailure, Reason: fmt.Errorf("token balance: %w", err)}, false
		}
		if tokens < amount || native < e.feeReserve {
			return Outcome{Kind: InsufficientBalance, Reason: fmt.Errorf("%w: have %d (native %d), need %d (+%d reserve)",
				ErrInsufficientBalance, tokens, native, amount, e.feeReserve)}, false
		}
	default:
		if native < amount || native-amount < e.feeReserve {
			return Outcome{Kind: InsufficientBalance, Reason: fmt.Errorf("%w: have %d, need %d (+%d reserve)",
				ErrInsufficientBalance, native, amount, e.feeReserve)}, false
		}
	}
	return Outcome{}, true
}

// Execute повторяет попытки, пока не будет Confirmed или InsufficientBalance, не кончится budget
// или не отменят ctx. Отмена проверяется только между попытками.
func (e *Executor) Execute(ctx context.Context, order Order, poolAddr solana.PublicKey, budget *RetryBudget) Outcome {
	last := Outcome{Kind: TransientFailure, Reason: ErrBudgetExhausted}
	log := e.logger.With(zap.String("pool", poolAddr.String()))

	for !budget.Exhausted() {
		if err := ctx.Err(); err != nil {
			if last.Reason == ErrBudgetExhausted {
				last.Reason = err
			}
			return last
		}

		budget.Attempts++
		started := time.Now()
		out := e.Attempt(ctx, order, poolAddr)
		out.Attempt = budget.Attempts
		last = out

		if e.journal != nil {
			if err := e.journal.Record(order, poolAddr, out); err != nil {
				log.Warn("Failed to write attempt journal", zap.Error(err))
			}
		}

		fields := []zap.Field{
			zap.Int("attempt", out.Attempt),
			zap.Int("max_attempts", budget.MaxAttempts),
			zap.Stringer("outcome", out.Kind),
			zap.Duration("took", time.Since(started)),
		}
		if out.Reason != nil {
			fields = append(fields, zap.Error(out.Reason))
		}

		switch out.Kind {
		case Confirmed:
			log.Info("Purchase succeeded", append(fields, zap.String("signature", out.Signature.String()))...)
			return out
		case InsufficientBalance:
			log.Warn("Insufficient balance, stopping", fields...)
			return out
		default:
			log.Warn("Attempt failed", fields...)
		}

		if budget.Exhausted() {
			break
		}

		timer := time.NewTimer(budget.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}

	log.Warn("Retry budget exhausted", zap.Int("attempts", budget.Attempts))
	return last
}
