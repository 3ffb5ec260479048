// internal/sniper/report.go
package sniper

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/pool-sniper/internal/swap"
)

// Status - итог сессии.
type Status int

const (
	StatusSucceeded Status = iota
	StatusExhausted
	StatusRetriesExhausted
	StatusPoolNeverAppeared
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusExhausted:
		return "balance_exhausted"
	case StatusRetriesExhausted:
		return "retries_exhausted"
	case StatusPoolNeverAppeared:
		return "pool_never_appeared"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Report - что произошло за сессию.
type Report struct {
	SessionID string
	Status    Status
	Pool      solana.PublicKey
	// LastOutcome - результат последней попытки; nil, если попыток не было.
	LastOutcome *swap.Outcome
	Attempts    int
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
