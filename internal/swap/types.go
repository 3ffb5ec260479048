// =============================
// File: internal/swap/types.go
// =============================
package swap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/pool-sniper/internal/wallet"
)

// USDCMint - mint стабильного актива для source_asset=usdc.
var USDCMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

var (
	// ErrBudgetExhausted - бюджет попыток для пула израсходован до начала попытки.
	ErrBudgetExhausted = errors.New("retry budget exhausted")
	// ErrInsufficientBalance - на кошельке меньше, чем amount плюс резерв на комиссии.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnknownSourceAsset - неизвестный исходный актив.
	ErrUnknownSourceAsset = errors.New("unknown source asset")
)

// SourceAsset - актив, которым платим за покупку.
type SourceAsset string

const (
	SourceNative SourceAsset = "native"
	SourceUSDC   SourceAsset = "usdc"
)

// ParseSourceAsset разбирает значение из конфигурации.
func ParseSourceAsset(s string) (SourceAsset, error) {
	switch SourceAsset(strings.ToLower(strings.TrimSpace(s))) {
	case SourceNative, "sol", "":
		return SourceNative, nil
	case SourceUSDC:
		return SourceUSDC, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSourceAsset, s)
	}
}

// Decimals возвращает количество знаков после запятой у актива.
func (a SourceAsset) Decimals() uint8 {
	if a == SourceUSDC {
		return 6
	}
	return 9
}

// Mint возвращает mint актива; для нативного SOL - wrapped SOL.
func (a SourceAsset) Mint() solana.PublicKey {
	if a == SourceUSDC {
		return USDCMint
	}
	return solana.SolMint
}

// Intent - что и сколько покупаем. Не меняется в течение сессии.
type Intent struct {
	Source      SourceAsset
	Amount      uint64 // в базовых единицах актива
	SlippageBps uint16
}

// Order - всё, что исполнителю нужно знать о сессии.
type Order struct {
	Wallet  *wallet.Wallet
	Target  solana.PublicKey
	Program solana.PublicKey
	Intent  Intent
}

// OutcomeKind классифицирует результат одной попытки.
type OutcomeKind int

const (
	Confirmed OutcomeKind = iota
	Rejected
	TransientFailure
	InsufficientBalance
)

func (k OutcomeKind) String() string {
	switch k {
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	case TransientFailure:
		return "transient_failure"
	case InsufficientBalance:
		return "insufficient_balance"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Terminal - после этого исхода повторять бессмысленно.
func (k OutcomeKind) Terminal() bool {
	return k == Confirmed || k == InsufficientBalance
}

// Outcome - результат попытки покупки.
type Outcome struct {
	Kind      OutcomeKind
	Signature solana.Signature // пустая, если транзакция не была отправлена
	Reason    error
	Attempt   int
}

func (o Outcome) String() string {
	if o.Reason != nil {
		return fmt.Sprintf("%s: %v", o.Kind, o.Reason)
	}
	return o.Kind.String()
}

// RetryBudget - счётчик попыток для одного пула. Меняет его только Executor.
type RetryBudget struct {
	Attempts    int
	MaxAttempts int // 0 - без ограничения, до исчерпания баланса
	Delay       time.Duration
}

// NewRetryBudget создаёт свежий бюджет.
func NewRetryBudget(maxAttempts int, delay time.Duration) *RetryBudget {
	return &RetryBudget{MaxAttempts: maxAttempts, Delay: delay}
}

// Exhausted сообщает, что новых попыток не будет.
func (b *RetryBudget) Exhausted() bool {
	return b.MaxAttempts > 0 && b.Attempts >= b.MaxAttempts
}
