// =============================
// File: internal/sniper/session.go
// =============================
package sniper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/rovshanmuradov/pool-sniper/internal/swap"
	"github.com/rovshanmuradov/pool-sniper/internal/wallet"
)

// ErrInvalidSession - сессия собрана с ошибкой.
var ErrInvalidSession = errors.New("invalid session")

// Trigger - условие, при котором кандидат идёт на исполнение.
type Trigger string

const (
	// TriggerGated - покупаем, только когда пул проходит проверку готовности.
	TriggerGated Trigger = "gated"
	// TriggerEvent - покупаем по первому событию активного пула.
	TriggerEvent Trigger = "event"
)

// ParseTrigger разбирает значение из конфигурации.
func ParseTrigger(s string) (Trigger, error) {
	switch Trigger(strings.ToLower(strings.TrimSpace(s))) {
	case TriggerGated, "":
		return TriggerGated, nil
	case TriggerEvent:
		return TriggerEvent, nil
	default:
		return "", fmt.Errorf("unknown trigger: %s", s)
	}
}

// Session - состояние сессии, которое явно передаётся компонентам.
// Кошелёк задаётся один раз при создании, сумма покупки не меняется.
type Session struct {
	ID           string
	Wallet       *wallet.Wallet
	Target       solana.PublicKey
	Program      solana.PublicKey
	Pool         solana.PublicKey // нулевой - пул ищется по программе
	Intent       swap.Intent
	MinLiquidity uint64
	Trigger      Trigger
	MaxAttempts  int
	RetryDelay   time.Duration
}

// NewSessionID генерирует идентификатор сессии для логов.
func NewSessionID() string {
	return uuid.NewString()
}

// Validate проверяет, что сессия готова к запуску.
func (s *Session) Validate() error {
	switch {
	case s.Wallet == nil:
		return fmt.Errorf("%w: wallet is not set", ErrInvalidSession)
	case s.Target.IsZero():
		return fmt.Errorf("%w: target token is not set", ErrInvalidSession)
	case s.Program.IsZero():
		return fmt.Errorf("%w: program is not set", ErrInvalidSession)
	case s.Intent.Amount == 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidSession)
	case s.MaxAttempts < 0:
		return fmt.Errorf("%w: max attempts must not be negative", ErrInvalidSession)
	}
	if s.ID == "" {
		s.ID = NewSessionID()
	}
	return nil
}

// Order возвращает то, что нужно исполнителю.
func (s *Session) Order() swap.Order {
	return swap.Order{
		Wallet:  s.Wallet,
		Target:  s.Target,
		Program: s.Program,
		Intent:  s.Intent,
	}
}
