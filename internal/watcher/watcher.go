// =============================
// File: internal/watcher/watcher.go
// =============================
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/pool-sniper/internal/blockchain/solbc"
	"github.com/rovshanmuradov/pool-sniper/internal/pool"
)

// ErrWatchTimeout - пул не появился за отведённое время.
var ErrWatchTimeout = errors.New("pool never appeared within watch timeout")

// Значения по умолчанию
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultRetryBackoff = 100 * time.Millisecond
	DefaultScanLimit    = 100
)

// State - состояние автомата наблюдения.
type State int32

const (
	Idle State = iota
	ScanningHistory
	Subscribed
	Polling
	Found
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ScanningHistory:
		return "scanning_history"
	case Subscribed:
		return "subscribed"
	case Polling:
		return "polling"
	case Found:
		return "found"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Candidate - обнаруженный пул с декодированным состоянием.
type Candidate struct {
	Pool         solana.PublicKey
	Record       pool.Record
	DiscoveredAt time.Time
	Source       string // history, logs, account, poll
}

// Ledger - чтение блокчейна, нужное наблюдателю.
type Ledger interface {
	GetAccount(ctx context.Context, account solana.PublicKey) (*solbc.Account, error)
	ListRecentSignatures(ctx context.Context, program solana.PublicKey, limit int) ([]solana.Signature, error)
	GetTransactionAccounts(ctx context.Context, sig solana.Signature) ([]solana.PublicKey, error)
}

// Notifier - push-уведомления. Может отсутствовать, тогда работает только опрос.
type Notifier interface {
	SubscribeAccount(ctx context.Context, account solana.PublicKey) (*solbc.Subscription[solbc.AccountNotification], error)
	SubscribeProgramLogs(ctx context.Context, program solana.PublicKey) (*solbc.Subscription[solbc.LogNotification], error)
}

// Config - параметры наблюдения.
type Config struct {
	Target  solana.PublicKey
	Program solana.PublicKey
	// Pool - известный адрес пула; нулевой ключ означает поиск по программе.
	Pool         solana.PublicKey
	Strategy     Strategy
	PollInterval time.Duration
	RetryBackoff time.Duration
	ScanLimit    int
	// Timeout - 0 означает ждать бесконечно.
	Timeout time.Duration
}

// Watcher ищет пул целевого токена и отдаёт кандидатов в канал.
type Watcher struct {
	cfg      Config
	ledger   Ledger
	notifier Notifier
	logger   *zap.Logger

	state   atomic.Int32
	found   atomic.Bool
	pool    solana.PublicKey
	emitted map[solana.PublicKey]pool.Record
}

func New(cfg Config, ledger Ledger, notifier Notifier, logger *zap.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = DefaultScanLimit
	}
	if cfg.Strategy == nil {
		cfg.Strategy = Push()
	}
	return &Watcher{
		cfg:      cfg,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger.Named("watcher"),
		pool:     cfg.Pool,
		emitted:  make(map[solana.PublicKey]pool.Record),
	}
}

// State возвращает текущее состояние; безопасно из любой горутины.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

func (w *Watcher) setState(s State) {
	if prev := State(w.state.Swap(int32(s))); prev != s {
		w.logger.Debug("State changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

func (w *Watcher) poolKnown() bool {
	return !w.pool.IsZero()
}

// Watch блокируется до отмены ctx, таймаута или окончательной ошибки.
// Каждый кандидат отправляется в out в порядке обнаружения.
func (w *Watcher) Watch(ctx context.Context, out chan<- Candidate) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	defer w.setState(Terminated)

	if w.cfg.Timeout > 0 {
		timer := time.AfterFunc(w.cfg.Timeout, func() {
			if !w.found.Load() {
				cancel(ErrWatchTimeout)
			}
		})
		defer timer.Stop()
	}

	w.logger.Info("Watching for pool",
		zap.String("target", w.cfg.Target.String()),
		zap.String("program", w.cfg.Program.String()),
		zap.Bool("pool_known", w.poolKnown()),
		zap.String("strategy", w.cfg.Strategy.Name()))

	err := w.run(ctx, out)
	if errors.Is(context.Cause(ctx), ErrWatchTimeout) {
		return ErrWatchTimeout
	}
	return err
}

func (w *Watcher) run(ctx context.Context, out chan<- Candidate) error {
	if w.poolKnown() {
		// аккаунт мог стать активным до подписки
		if err := w.checkAccount(ctx, w.pool, "account", out); err != nil {
			return err
		}
	} else {
		w.setState(ScanningHistory)
		if err := w.scanHistory(ctx, "history", out); err != nil {
			return err
		}
	}
	return w.cfg.Strategy.Run(ctx, w, out)
}

// retry повторяет op с постоянной задержкой, пока она не удастся, не станет Permanent или не отменят ctx.
func retry[T any](ctx context.Context, w *Watcher, what string, op func() (T, error)) (T, error) {
	notify := func(err error, d time.Duration) {
		w.logger.Debug("Transient error, retrying", zap.String("op", what), zap.Error(err), zap.Duration("backoff", d))
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(w.cfg.RetryBackoff)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify))
}

// fetchAccount читает аккаунт; отсутствие аккаунта не повторяется, а возвращается как ErrAccountNotFound.
func (w *Watcher) fetchAccount(ctx context.Context, account solana.PublicKey) (*solbc.Account, error) {
	return retry(ctx, w, "getAccountInfo", func() (*solbc.Account, error) {
		acc, err := w.ledger.GetAccount(ctx, account)
		if errors.Is(err, solbc.ErrAccountNotFound) {
			return nil, backoff.Permanent(err)
		}
		return acc, err
	})
}

// checkAccount читает известный пул и отдаёт кандидата, если он активен.
func (w *Watcher) checkAccount(ctx context.Context, account solana.PublicKey, source string, out chan<- Candidate) error {
	acc, err := w.fetchAccount(ctx, account)
	if errors.Is(err, solbc.ErrAccountNotFound) {
		w.logger.Debug("Pool account not created yet", zap.String("pool", account.String()))
		return nil
	}
	if err != nil {
		return err
	}
	return w.consider(ctx, account, acc.Data, source, out)
}

// consider декодирует данные пула; ошибки декодирования значат "ещё не пул".
func (w *Watcher) consider(ctx context.Context, account solana.PublicKey, data []byte, source string, out chan<- Candidate) error {
	record, err := pool.Decode(data)
	if err != nil {
		w.logger.Debug("Not a valid pool yet", zap.String("pool", account.String()), zap.Error(err))
		return nil
	}
	_, err = w.emit(ctx, account, record, source, out)
	return err
}

// emit отправляет кандидата, если пул активен и его состояние изменилось с прошлой отправки.
func (w *Watcher) emit(ctx context.Context, account solana.PublicKey, record *pool.Record, source string, out chan<- Candidate) (bool, error) {
	if !pool.IsReady(record, 0) {
		return false, nil
	}
	if last, ok := w.emitted[account]; ok && last == *record {
		return false, nil
	}
	w.emitted[account] = *record

	w.found.Store(true)
	w.setState(Found)
	w.pool = account

	c := Candidate{Pool: account, Record: *record, DiscoveredAt: time.Now(), Source: source}
	select {
	case out <- c:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	w.logger.Info("Pool found",
		zap.String("pool", account.String()),
		zap.String("source", source),
		zap.Uint64("reserve_a", record.ReserveA),
		zap.Uint64("reserve_b", record.ReserveB))
	return true, nil
}

// scanHistory просматривает последние транзакции программы; первый подходящий пул выигрывает.
func (w *Watcher) scanHistory(ctx context.Context, source string, out chan<- Candidate) error {
	sigs, err := retry(ctx, w, "getSignaturesForAddress", func() ([]solana.Signature, error) {
		return w.ledger.ListRecentSignatures(ctx, w.cfg.Program, w.cfg.ScanLimit)
	})
	if err != nil {
		return err
	}

	for _, sig := range sigs {
		found, err := w.inspectTransaction(ctx, sig, source, out)
		if err != nil || found {
			return err
		}
	}
	w.logger.Debug("History scan found nothing", zap.Int("transactions", len(sigs)))
	return nil
}

// inspectTransaction ищет среди аккаунтов транзакции пул программы, если транзакция касается целевого токена.
func (w *Watcher) inspectTransaction(ctx context.Context, sig solana.Signature, source string, out chan<- Candidate) (bool, error) {
	accounts, err := retry(ctx, w, "getTransaction", func() ([]solana.PublicKey, error) {
		accs, err := w.ledger.GetTransactionAccounts(ctx, sig)
		if errors.Is(err, solbc.ErrAccountNotFound) {
			return nil, backoff.Permanent(err)
		}
		return accs, err
	})
	if errors.Is(err, solbc.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !containsKey(accounts, w.cfg.Target) {
		return false, nil
	}

	for _, account := range accounts {
		if w.skipAccount(account) {
			continue
		}
		acc, err := w.fetchAccount(ctx, account)
		if errors.Is(err, solbc.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if !acc.Owner.Equals(w.cfg.Program) {
			continue
		}
		record, err := pool.Decode(acc.Data)
		if err != nil {
			continue
		}
		emitted, err := w.emit(ctx, account, record, source, out)
		if err != nil || emitted {
			return emitted, err
		}
	}
	return false, nil
}

func (w *Watcher) skipAccount(account solana.PublicKey) bool {
	switch {
	case account.Equals(w.cfg.Target), account.Equals(w.cfg.Program),
		account.Equals(solana.SystemProgramID), account.Equals(solana.TokenProgramID),
		account.Equals(solana.SPLAssociatedTokenAccountProgramID), account.Equals(solana.ComputeBudget):
		return true
	}
	return false
}

func containsKey(keys []solana.PublicKey, key solana.PublicKey) bool {
	for _, k := range keys {
		if k.Equals(key) {
			return true
		}
	}
	return false
}
