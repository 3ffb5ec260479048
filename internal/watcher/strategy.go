// internal/watcher/strategy.go
package watcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/pool-sniper/internal/blockchain/solbc"
)

// Strategy - способ наблюдения после сканирования истории. Стратегии взаимозаменяемы,
// переход push -> poll происходит в той же горутине.
type Strategy interface {
	Name() string
	Run(ctx context.Context, w *Watcher, out chan<- Candidate) error
}

// Push возвращает стратегию push-уведомлений с откатом на опрос.
func Push() Strategy { return pushStrategy{} }

// Poll возвращает стратегию периодического опроса.
func Poll() Strategy { return pollStrategy{} }

// ParseStrategy разбирает watch_mode из конфигурации.
func ParseStrategy(mode string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "subscribe", "push":
		return Push(), nil
	case "poll", "polling":
		return Poll(), nil
	default:
		return nil, fmt.Errorf("unknown watch mode: %s", mode)
	}
}

type pollStrategy struct{}

func (pollStrategy) Name() string { return "poll" }

func (pollStrategy) Run(ctx context.Context, w *Watcher, out chan<- Candidate) error {
	w.setState(Polling)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var err error
		if w.poolKnown() {
			err = w.checkAccount(ctx, w.pool, "poll", out)
		} else {
			err = w.scanHistory(ctx, "poll", out)
		}
		if err != nil {
			return err
		}
	}
}

type pushStrategy struct{}

func (pushStrategy) Name() string { return "subscribe" }

func (pushStrategy) Run(ctx context.Context, w *Watcher, out chan<- Candidate) error {
	if w.notifier == nil {
		w.logger.Info("Push notifications unavailable, polling")
		return pollStrategy{}.Run(ctx, w, out)
	}

	w.setState(Subscribed)
	if !w.poolKnown() {
		fellBack, err := watchProgramLogs(ctx, w, out)
		if err != nil || fellBack {
			return err
		}
		// пул найден по логам, дальше следим за его аккаунтом
	}
	return watchAccount(ctx, w, out)
}

// subscribeWithRetry регистрирует подписку и при неудаче делает ровно одну повторную попытку.
func subscribeWithRetry[T any](ctx context.Context, w *Watcher, what string,
	subscribe func(context.Context) (*solbc.Subscription[T], error)) (*solbc.Subscription[T], error) {

	sub, err := subscribe(ctx)
	if err == nil {
		return sub, nil
	}
	w.logger.Warn("Subscription failed, retrying once", zap.String("subscription", what), zap.Error(err))

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(w.cfg.RetryBackoff):
	}
	return subscribe(ctx)
}

func streamError[T any](sub *solbc.Subscription[T]) error {
	select {
	case err := <-sub.Err:
		return err
	default:
		return solbc.ErrStreamClosed
	}
}

// watchAccount следит за известным пулом через accountSubscribe.
func watchAccount(ctx context.Context, w *Watcher, out chan<- Candidate) error {
	account := w.pool
	subscribe := func(ctx context.Context) (*solbc.Subscription[solbc.AccountNotification], error) {
		return w.notifier.SubscribeAccount(ctx, account)
	}

	sub, err := subscribeWithRetry(ctx, w, "account", subscribe)
	for {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("Account subscription unavailable, falling back to polling", zap.Error(err))
			return pollStrategy{}.Run(ctx, w, out)
		}
		w.setState(Subscribed)

		err = consumeAccount(ctx, w, account, sub, out)
		sub.Close()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.logger.Warn("Account stream broken, re-subscribing", zap.Error(streamError(sub)))
		// то, что пришло за время обрыва, подберёт свежее чтение
		if err := w.checkAccount(ctx, account, "account", out); err != nil {
			return err
		}
		sub, err = subscribe(ctx)
	}
}

// consumeAccount читает уведомления до обрыва потока (nil) или отмены/ошибки отправки.
func consumeAccount(ctx context.Context, w *Watcher, account solana.PublicKey,
	sub *solbc.Subscription[solbc.AccountNotification], out chan<- Candidate) error {

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-sub.Updates:
			if !ok {
				return nil
			}
			var err error
			if n.Data == nil {
				err = w.checkAccount(ctx, account, "account", out)
			} else {
				err = w.consider(ctx, account, n.Data, "account", out)
			}
			if err != nil {
				return err
			}
		}
	}
}

// watchProgramLogs ждёт транзакций программы до первого найденного пула.
// fellBack=true, если подписка недоступна и наблюдение продолжилось опросом.
func watchProgramLogs(ctx context.Context, w *Watcher, out chan<- Candidate) (bool, error) {
	subscribe := func(ctx context.Context) (*solbc.Subscription[solbc.LogNotification], error) {
		return w.notifier.SubscribeProgramLogs(ctx, w.cfg.Program)
	}

	sub, err := subscribeWithRetry(ctx, w, "logs", subscribe)
	for {
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			w.logger.Warn("Log subscription unavailable, falling back to polling", zap.Error(err))
			return true, pollStrategy{}.Run(ctx, w, out)
		}
		w.setState(Subscribed)

		var found bool
		found, err = consumeLogs(ctx, w, sub, out)
		sub.Close()
		if err != nil || found {
			return false, err
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		w.logger.Warn("Log stream broken, re-subscribing", zap.Error(streamError(sub)))
		sub, err = subscribe(ctx)
	}
}

func consumeLogs(ctx context.Context, w *Watcher, sub *solbc.Subscription[solbc.LogNotification], out chan<- Candidate) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case n, ok := <-sub.Updates:
			if !ok {
				return false, nil
			}
			if n.Failed {
				continue
			}
			found, err := w.inspectTransaction(ctx, n.Signature, "logs", out)
			if err != nil || found {
				return found, err
			}
		}
	}
}
