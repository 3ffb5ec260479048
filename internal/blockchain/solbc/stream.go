// internal/blockchain/solbc/stream.go
package solbc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"
)

// ErrStreamClosed возвращается, когда websocket-поток оборвался.
var ErrStreamClosed = errors.New("notification stream closed")

// AccountNotification - новое состояние аккаунта из подписки.
type AccountNotification struct {
	Slot uint64
	Data []byte
}

// LogNotification - транзакция, упомянувшая программу.
type LogNotification struct {
	Slot      uint64
	Signature solana.Signature
	Failed    bool
}

// Subscription доставляет уведомления в Updates; обрыв потока приходит в Err один раз.
type Subscription[T any] struct {
	Updates <-chan T
	Err     <-chan error

	closeOnce sync.Once
	closeFn   func()
}

// NewSubscription собирает подписку из каналов. closeFn может быть nil.
func NewSubscription[T any](updates <-chan T, errs <-chan error, closeFn func()) *Subscription[T] {
	return &Subscription[T]{Updates: updates, Err: errs, closeFn: closeFn}
}

// Close отписывается от уведомлений. Повторный вызов безопасен.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}

// Stream - websocket-часть клиента: подписки на аккаунты и логи программ.
type Stream struct {
	url        string
	logger     *zap.Logger
	commitment solanarpc.CommitmentType

	mu     sync.Mutex
	client *ws.Client
}

// NewStream создаёт поток; соединение открывается лениво при первой подписке.
func NewStream(wsURL string, logger *zap.Logger) *Stream {
	return &Stream{
		url:        wsURL,
		logger:     logger.Named("solbc-stream"),
		commitment: solanarpc.CommitmentProcessed,
	}
}

// WebSocketURL переводит HTTP(S) endpoint в WS(S).
func WebSocketURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	default:
		return rpcURL
	}
}

func (s *Stream) connect(ctx context.Context) (*ws.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	client, err := ws.Connect(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("websocket connect %s: %w", s.url, err)
	}
	s.client = client
	s.logger.Info("WebSocket connected", zap.String("url", s.url))
	return client, nil
}

// reset закрывает сломанное соединение, следующая подписка переподключится.
func (s *Stream) reset(broken *ws.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == broken && s.client != nil {
		s.client.Close()
		s.client = nil
	}
}

// Close закрывает соединение.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
}

// SubscribeAccount подписывается на изменения аккаунта.
func (s *Stream) SubscribeAccount(ctx context.Context, account solana.PublicKey) (*Subscription[AccountNotification], error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	sub, err := client.AccountSubscribeWithOpts(account, s.commitment, solana.EncodingBase64)
	if err != nil {
		s.reset(client)
		return nil, fmt.Errorf("accountSubscribe %s: %w", account, err)
	}

	recv := func(ctx context.Context) (AccountNotification, error) {
		res, err := sub.Recv(ctx)
		if err != nil {
			return AccountNotification{}, err
		}
		return accountNotification(res), nil
	}

	return pump(ctx, s, client, recv, sub.Unsubscribe), nil
}

// accountNotification переводит уведомление узла; value=null (аккаунт удалён) даёт пустые данные.
func accountNotification(res *ws.AccountResult) AccountNotification {
	if res == nil {
		return AccountNotification{}
	}
	n := AccountNotification{Slot: res.Context.Slot}
	if res.Value != nil && res.Value.Data != nil {
		n.Data = res.Value.Data.GetBinary()
	}
	return n
}

// SubscribeProgramLogs подписывается на логи транзакций, упоминающих программу.
func (s *Stream) SubscribeProgramLogs(ctx context.Context, program solana.PublicKey) (*Subscription[LogNotification], error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	sub, err := client.LogsSubscribeMentions(program, s.commitment)
	if err != nil {
		s.reset(client)
		return nil, fmt.Errorf("logsSubscribe %s: %w", program, err)
	}

	recv := func(ctx context.Context) (LogNotification, error) {
		res, err := sub.Recv(ctx)
		if err != nil {
			return LogNotification{}, err
		}
		return LogNotification{
			Slot:      res.Context.Slot,
			Signature: res.Value.Signature,
			Failed:    res.Value.Err != nil,
		}, nil
	}

	return pump(ctx, s, client, recv, sub.Unsubscribe), nil
}

// pump перекачивает уведомления из ws-подписки в каналы до отмены ctx или обрыва.
func pump[T any](
	ctx context.Context,
	s *Stream,
	client *ws.Client,
	recv func(context.Context) (T, error),
	unsubscribe func(),
) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	updates := make(chan T, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(updates)
		defer unsubscribe()

		for {
			item, err := recv(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("Subscription stream broken", zap.Error(err))
					s.reset(client)
					errs <- fmt.Errorf("%w: %v", ErrStreamClosed, err)
				}
				return
			}
			select {
			case updates <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	return NewSubscription[T](updates, errs, cancel)
}
