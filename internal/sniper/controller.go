// =============================
// File: internal/sniper/controller.go
// =============================
package sniper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/pool-sniper/internal/pool"
	"github.com/rovshanmuradov/pool-sniper/internal/swap"
	"github.com/rovshanmuradov/pool-sniper/internal/watcher"
)

const candidateBuffer = 16

// PoolWatcher - источник кандидатов.
type PoolWatcher interface {
	Watch(ctx context.Context, out chan<- watcher.Candidate) error
}

// SwapExecutor - исполнитель покупки с повторами.
type SwapExecutor interface {
	Execute(ctx context.Context, order swap.Order, poolAddr solana.PublicKey, budget *swap.RetryBudget) swap.Outcome
}

// BalanceReader нужен для проверки баланса до начала наблюдения.
type BalanceReader interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

// Controller связывает наблюдателя и исполнителя: одна покупка в полёте на токен.
type Controller struct {
	session   Session
	watcher   PoolWatcher
	executor  SwapExecutor
	preflight BalanceReader
	logger    *zap.Logger
}

// Option настраивает Controller.
type Option func(*Controller)

// WithPreflight проверяет нативный баланс кошелька до начала наблюдения.
func WithPreflight(r BalanceReader) Option {
	return func(c *Controller) { c.preflight = r }
}

func NewController(session Session, w PoolWatcher, e SwapExecutor, logger *zap.Logger, opts ...Option) (*Controller, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		session:  session,
		watcher:  w,
		executor: e,
		logger:   logger.Named("sniper").With(zap.String("session", session.ID)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Session возвращает копию сессии.
func (c *Controller) Session() Session {
	return c.session
}

type execution struct {
	pool    solana.PublicKey
	outcome swap.Outcome
}

// Run блокируется до успеха, исчерпания баланса или попыток, таймаута наблюдения или отмены ctx.
// При отмене текущая попытка доводится до классифицированного исхода.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	s := c.session
	report := &Report{SessionID: s.ID, Pool: s.Pool, StartedAt: time.Now()}
	defer func() { report.FinishedAt = time.Now() }()

	c.logger.Info("Session started",
		zap.String("wallet", s.Wallet.String()),
		zap.String("target", s.Target.String()),
		zap.String("pool", keyOrEmpty(s.Pool)),
		zap.String("source", string(s.Intent.Source)),
		zap.Uint64("amount", s.Intent.Amount),
		zap.Uint16("slippage_bps", s.Intent.SlippageBps),
		zap.Int("max_attempts", s.MaxAttempts),
		zap.String("trigger", string(s.Trigger)))

	if done, err := c.checkPreflight(ctx, report); done || err != nil {
		return report, err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	candidates := make(chan watcher.Candidate, candidateBuffer)
	watchErr := make(chan error, 1)
	results := make(chan execution, 1)

	var g errgroup.Group
	g.Go(func() error {
		watchErr <- c.watcher.Watch(watchCtx, candidates)
		return nil
	})
	defer g.Wait()
	defer stopWatch()

	watchDone := (<-chan error)(watchErr)

	budgets := make(map[solana.PublicKey]*swap.RetryBudget)
	inFlight := false

	record := func(ex execution) {
		inFlight = false
		out := ex.outcome
		report.LastOutcome = &out
		report.Pool = ex.pool
		report.Attempts = c.totalAttempts(budgets)
	}

	for {
		select {
		case <-ctx.Done():
			if inFlight {
				record(<-results)
			}
			report.Status = StatusCancelled
			c.logger.Info("Session cancelled", zap.Int("attempts", report.Attempts))
			return report, nil

		case err := <-watchDone:
			watchDone = nil
			if inFlight {
				// исход текущей покупки важнее причины остановки наблюдателя
				ex := <-results
				record(ex)
				if status, final := c.classify(ex, budgets); final {
					report.Status = status
					return report, nil
				}
			}
			switch {
			case errors.Is(err, watcher.ErrWatchTimeout):
				report.Status = StatusPoolNeverAppeared
				c.logger.Warn("Pool never appeared", zap.Error(err))
				return report, nil
			case ctx.Err() != nil:
				continue
			default:
				report.Status = StatusFailed
				return report, fmt.Errorf("watcher stopped: %w", err)
			}

		case cand := <-candidates:
			if inFlight {
				c.logger.Debug("Execution in flight, discarding candidate", zap.String("pool", cand.Pool.String()))
				continue
			}
			if !c.triggered(cand) {
				continue
			}
			budget, ok := budgets[cand.Pool]
			if !ok {
				budget = swap.NewRetryBudget(s.MaxAttempts, s.RetryDelay)
				budgets[cand.Pool] = budget
			}
			if budget.Exhausted() {
				continue
			}

			inFlight = true
			order := s.Order()
			g.Go(func() error {
				results <- execution{pool: cand.Pool, outcome: c.executor.Execute(ctx, order, cand.Pool, budget)}
				return nil
			})

		case ex := <-results:
			record(ex)
			if status, final := c.classify(ex, budgets); final {
				report.Status = status
				return report, nil
			}
		}
	}
}

// classify решает, завершает ли исход сессию.
func (c *Controller) classify(ex execution, budgets map[solana.PublicKey]*swap.RetryBudget) (Status, bool) {
	switch ex.outcome.Kind {
	case swap.Confirmed:
		return StatusSucceeded, true
	case swap.InsufficientBalance:
		return StatusExhausted, true
	}
	if b := budgets[ex.pool]; b != nil && b.Exhausted() {
		c.logger.Warn("Retry budget exhausted for pool", zap.String("pool", ex.pool.String()), zap.Int("attempts", b.Attempts))
		return StatusRetriesExhausted, true
	}
	// отмена между попытками: дождёмся ctx.Done в основном цикле
	return 0, false
}

func (c *Controller) triggered(cand watcher.Candidate) bool {
	if c.session.Trigger == TriggerEvent {
		return true
	}
	if pool.IsReady(&cand.Record, c.session.MinLiquidity) {
		return true
	}
	c.logger.Info("Pool not ready yet",
		zap.String("pool", cand.Pool.String()),
		zap.Uint64("reserve_a", cand.Record.ReserveA),
		zap.Uint64("min_liquidity", c.session.MinLiquidity))
	return false
}

func (c *Controller) checkPreflight(ctx context.Context, report *Report) (bool, error) {
	if c.preflight == nil || c.session.Intent.Source != swap.SourceNative {
		return false, nil
	}
	balance, err := c.preflight.GetBalance(ctx, c.session.Wallet.PublicKey)
	if err != nil {
		report.Status = StatusFailed
		return true, fmt.Errorf("preflight balance check: %w", err)
	}
	if balance < c.session.Intent.Amount {
		c.logger.Warn("Insufficient balance before start",
			zap.Uint64("balance", balance),
			zap.Uint64("amount", c.session.Intent.Amount))
		out := swap.Outcome{Kind: swap.InsufficientBalance, Reason: swap.ErrInsufficientBalance}
		report.LastOutcome = &out
		report.Status = StatusExhausted
		return true, nil
	}
	c.logger.Info("Wallet balance", zap.Uint64("lamports", balance))
	return false, nil
}

func (c *Controller) totalAttempts(budgets map[solana.PublicKey]*swap.RetryBudget) int {
	total := 0
	for _, b := range budgets {
		total += b.Attempts
	}
	return total
}

func keyOrEmpty(k solana.PublicKey) string {
	if k.IsZero() {
		return ""
	}
	return k.String()
}
