package sniper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/pool-sniper/internal/blockchain/solbc"
	"github.com/rovshanmuradov/pool-sniper/internal/pool"
	"github.com/rovshanmuradov/pool-sniper/internal/swap"
	"github.com/rovshanmuradov/pool-sniper/internal/wallet"
	"github.com/rovshanmuradov/pool-sniper/internal/watcher"
)

const (
	testAmount       = 500_000_000
	testMinLiquidity = 100_000_000
)

var (
	readyRecord    = pool.Record{Active: true, ReserveA: 2 * testMinLiquidity, ReserveB: 1_000}
	shallowRecord  = pool.Record{Active: true, ReserveA: testMinLiquidity - 1, ReserveB: 1_000}
	inactiveRecord = pool.Record{Active: false, ReserveA: 2 * testMinLiquidity, ReserveB: 1_000}
)

// scriptedWatcher отдаёт кандидатов из feed и завершается с err, когда feed закрыт.
type scriptedWatcher struct {
	feed chan watcher.Candidate
	err  error
}

func newScriptedWatcher() *scriptedWatcher {
	return &scriptedWatcher{feed: make(chan watcher.Candidate)}
}

func (w *scriptedWatcher) Watch(ctx context.Context, out chan<- watcher.Candidate) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-w.feed:
			if !ok {
				if w.err != nil {
					return w.err
				}
				<-ctx.Done()
				return ctx.Err()
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// gatedExecutor возвращает исходы по очереди; если release не nil, ждёт его перед ответом.
type gatedExecutor struct {
	mu       sync.Mutex
	outcomes []swap.OutcomeKind
	calls    []solana.PublicKey
	started  chan struct{}
	release  chan struct{}
}

func (e *gatedExecutor) Execute(ctx context.Context, order swap.Order, poolAddr solana.PublicKey, budget *swap.RetryBudget) swap.Outcome {
	e.mu.Lock()
	e.calls = append(e.calls, poolAddr)
	kind := swap.Confirmed
	if len(e.outcomes) > 0 {
		kind = e.outcomes[0]
		e.outcomes = e.outcomes[1:]
	}
	e.mu.Unlock()

	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.release != nil {
		<-e.release
	}

	budget.Attempts++
	if kind != swap.Confirmed && kind != swap.InsufficientBalance {
		budget.Attempts = budget.MaxAttempts
	}
	return swap.Outcome{Kind: kind, Attempt: budget.Attempts, Signature: solana.Signature{1}}
}

func (e *gatedExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func testSession(t *testing.T) Session {
	t.Helper()
	w, err := wallet.NewWallet(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)
	return Session{
		Wallet:       w,
		Target:       solana.NewWallet().PublicKey(),
		Program:      solana.NewWallet().PublicKey(),
		Intent:       swap.Intent{Source: swap.SourceNative, Amount: testAmount, SlippageBps: 3000},
		MinLiquidity: testMinLiquidity,
		Trigger:      TriggerGated,
		MaxAttempts:  3,
		RetryDelay:   time.Millisecond,
	}
}

type runResult struct {
	report *Report
	err    error
}

func runAsync(t *testing.T, ctx context.Context, c *Controller) <-chan runResult {
	t.Helper()
	done := make(chan runResult, 1)
	go func() {
		r, err := c.Run(ctx)
		done <- runResult{r, err}
	}()
	return done
}

func wait(t *testing.T, done <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("controller did not finish")
		return runResult{}
	}
}

func candidate(p solana.PublicKey, r pool.Record) watcher.Candidate {
	return watcher.Candidate{Pool: p, Record: r, DiscoveredAt: time.Now(), Source: "test"}
}

func TestRun_GatedWaitsForReadiness(t *testing.T) {
	w := newScriptedWatcher()
	e := &gatedExecutor{}
	c, err := NewController(testSession(t), w, e, zaptest.NewLogger(t))
	require.NoError(t, err)

	done := runAsync(t, context.Background(), c)
	p := solana.NewWallet().PublicKey()

	w.feed <- candidate(p, inactiveRecord)
	w.feed <- candidate(p, shallowRecord)
	assert.Zero(t, e.callCount())

	w.feed <- candidate(p, readyRecord)
	r := wait(t, done)

	require.NoError(t, r.err)
	assert.Equal(t, StatusSucceeded, r.report.Status)
	assert.Equal(t, p, r.report.Pool)
	assert.Equal(t, 1, e.callCount())
	assert.Equal(t, 1, r.report.Attempts)
	require.NotNil(t, r.report.LastOutcome)
	assert.Equal(t, swap.Confirmed, r.report.LastOutcome.Kind)
	assert.NotEmpty(t, r.report.SessionID)
}

func TestRun_EventTriggerIgnoresLiquidity(t *testing.T) {
	session := testSession(t)
	session.Trigger = TriggerEvent

	w := newScriptedWatcher()
	e := &gatedExecutor{}
	c, err := NewController(session, w, e, zaptest.NewLogger(t))
	require.NoError(t, err)

	done := runAsync(t, context.Background(), c)
	w.feed <- candidate(solana.NewWallet().PublicKey(), shallowRecord)

	r := wait(t, done)
	assert.Equal(t, StatusSucceeded, r.report.Status)
	assert.Equal(t, 1, e.callCount())
}

func TestRun_DiscardsDuplicatesWhileInFlight(t *testing.T) {
	w := newScriptedWatcher()
	e := &gatedExecutor{
		outcomes: []swap.OutcomeKind{swap.Confirmed},
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	c, err := NewController(testSession(t), w, e, zaptest.NewLogger(t))
	require.NoError(t, err)

	done := runAsync(t, context.Background(), c)
	p := solana.NewWallet().PublicKey()

	w.feed <- candidate(p, readyRecord)
	<-e.started
	for i := 0; i < 5; i++ {
		w.feed <- candidate(p, readyRecord)
	}
	close(e.release)

	r := wait(t, done)
	assert.Equal(t, StatusSucceeded, r.report.Status)
	assert.Equal(t, 1, e.callCount())
}

func TestRun_InsufficientBalanceEndsSession(t *testing.T) {
	w := newScriptedWatcher()
	e := &gatedExecutor{outcomes: []swap.OutcomeKind{swap.InsufficientBalance}}
	c, err := NewController(testSession(t), w, e, zaptest.NewLogger(t))
	require.NoError(t, err)

	done := runAsync(t, context.Background(), c)
	w.feed <- candidate(solana.NewWallet().PublicKey(), readyRecord)

	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, StatusExhausted, r.report.Status)
}

func TestRun_RetriesExhausted(t *testing.T) {
	w := newScriptedWatcher()
	e := &gatedExecutor{outcomes: []swap.OutcomeKind{swap.Rejected}}
	c, err := NewController(testSession(t), w, e, zaptest.NewLogger(t))
	require.NoError(t, err)

	done := runAsync(t, context.Background(), c)
	w.feed <- candidate(solana.NewWallet().PublicKey(), readyRecord)

	r := wait(t, done)
	assert.Equal(t, StatusRetriesExhausted, r.report.Status)
	assert.Equal(t, swap.Rejected, r.report.LastOutcome.Kind)
	assert.Equal(t, 3, r.report.Attempts)
}

func TestRun_WatchTimeout(t *testing.T) {
	w := newScriptedWatcher()
	w.err = watcher.ErrWatchTimeout
	c, err := NewController(testSession(t), w, &gatedExecutor{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	done := runAsync(t, context.Background(), c)
	close(w.feed)

	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, StatusPoolNeverAppeared, r.report.Status)
	assert.Nil(t, r.report.LastOutcome)
}

func TestRun_WatcherFailure(t *testing.T) {
	w := newScriptedWatcher()
	w.err = errors.New("boom")
	c, err := NewController(testSession(t), w, &gatedExecutor{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	done := runAsync(t, context.Background(), c)
	close(w.feed)

	r := wait(t, done)
	assert.Error(t, r.err)
	assert.Equal(t, StatusFailed, r.report.Status)
}

func TestRun_CancelWaitsForInFlightOutcome(t *testing.T) {
	w := newScriptedWatcher()
	e := &gatedExecutor{
		outcomes: []swap.OutcomeKind{swap.Rejected},
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	session := testSession(t)
	session.MaxAttempts = 0
	c, err := NewController(session, w, e, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, ctx, c)

	w.feed <- candidate(solana.NewWallet().PublicKey(), readyRecord)
	<-e.started
	cancel()

	select {
	case <-done:
		t.Fatal("returned before the in-flight attempt was classified")
	case <-time.After(30 * time.Millisecond):
	}
	close(e.release)

	r := wait(t, done)
	assert.Equal(t, StatusCancelled, r.report.Status)
	require.NotNil(t, r.report.LastOutcome)
	assert.Equal(t, swap.Rejected, r.report.LastOutcome.Kind)
}

type staticBalance uint64

func (b staticBalance) GetBalance(context.Context, solana.PublicKey) (uint64, error) {
	return uint64(b), nil
}

func TestRun_PreflightInsufficient(t *testing.T) {
	w := newScriptedWatcher()
	c, err := NewController(testSession(t), w, &gatedExecutor{}, zaptest.NewLogger(t), WithPreflight(staticBalance(testAmount-1)))
	require.NoError(t, err)

	r, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, r.Status)
}

func TestNewController_ValidatesSession(t *testing.T) {
	s := testSession(t)
	s.Wallet = nil
	_, err := NewController(s, newScriptedWatcher(), &gatedExecutor{}, zap.NewNop())
	assert.True(t, errors.Is(err, ErrInvalidSession))

	s = testSession(t)
	s.Intent.Amount = 0
	_, err = NewController(s, newScriptedWatcher(), &gatedExecutor{}, zap.NewNop())
	assert.True(t, errors.Is(err, ErrInvalidSession))
}

// chainFake - леджер для сквозного теста: аккаунты пула, балансы и отправленные транзакции.
type chainFake struct {
	mu      sync.Mutex
	account *solbc.Account
	balance uint64
	sent    int
}

func (f *chainFake) setPool(owner solana.PublicKey, r pool.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account = &solbc.Account{Owner: owner, Data: pool.Encode(&r)}
}

func (f *chainFake) GetAccount(context.Context, solana.PublicKey) (*solbc.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.account == nil {
		return nil, solbc.ErrAccountNotFound
	}
	return f.account, nil
}

func (f *chainFake) ListRecentSignatures(context.Context, solana.PublicKey, int) ([]solana.Signature, error) {
	return nil, nil
}

func (f *chainFake) GetTransactionAccounts(context.Context, solana.Signature) ([]solana.PublicKey, error) {
	return nil, solbc.ErrAccountNotFound
}

func (f *chainFake) GetBalance(context.Context, solana.PublicKey) (uint64, error) {
	return f.balance, nil
}

func (f *chainFake) GetTokenBalance(context.Context, solana.PublicKey) (uint64, error) {
	return 0, solbc.ErrAccountNotFound
}

func (f *chainFake) GetRecentBlockReference(context.Context) (solbc.BlockReference, error) {
	return solbc.BlockReference{Blockhash: solana.Hash{5}, LastValidBlockHeight: 1_000}, nil
}

func (f *chainFake) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return tx.Signatures[0], nil
}

func (f *chainFake) AwaitConfirmation(context.Context, solana.Signature, solbc.BlockReference) error {
	return nil
}

func (f *chainFake) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func TestRun_EndToEndWithPolling(t *testing.T) {
	session := testSession(t)
	session.Pool = solana.NewWallet().PublicKey()
	log := zaptest.NewLogger(t)

	chain := &chainFake{balance: testAmount}
	chain.setPool(session.Program, inactiveRecord)

	w := watcher.New(watcher.Config{
		Target:       session.Target,
		Program:      session.Program,
		Pool:         session.Pool,
		Strategy:     watcher.Poll(),
		PollInterval: 5 * time.Millisecond,
		RetryBackoff: time.Millisecond,
	}, chain, nil, log)
	e := swap.NewExecutor(chain, swap.NewDirectBuilder(swap.PriorityConfig{}, log), log)

	c, err := NewController(session, w, e, log, WithPreflight(chain))
	require.NoError(t, err)

	done := runAsync(t, context.Background(), c)

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, chain.sentCount(), "inactive pool must not trigger a purchase")

	chain.setPool(session.Program, readyRecord)
	r := wait(t, done)

	require.NoError(t, r.err)
	assert.Equal(t, StatusSucceeded, r.report.Status)
	assert.Equal(t, session.Pool, r.report.Pool)
	assert.Equal(t, 1, chain.sentCount())
	assert.Equal(t, 1, r.report.Attempts)
}
