// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/pool-sniper/internal/blockchain/solbc/rpc"
)

const (
	defaultConfirmPoll = 400 * time.Millisecond
	maxTxVersion       = uint64(0)
)

// Определение ошибок
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrBlockHeightExceeded = errors.New("block height exceeded")
	ErrTransactionFailed   = errors.New("transaction failed")
)

// BlockReference - blockhash и высота блока, после которой транзакция с ним недействительна.
type BlockReference struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// TransactionError - ошибка исполнения, которую вернул сам леджер.
type TransactionError struct {
	Signature solana.Signature
	Reason    string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrTransactionFailed, e.Signature, e.Reason)
}

func (e *TransactionError) Unwrap() error {
	return ErrTransactionFailed
}

// Client – тонкий адаптер для взаимодействия с блокчейном Solana через solana-go.
type Client struct {
	pool        *rpc.Pool
	logger      *zap.Logger
	commitment  solanarpc.CommitmentType
	confirmPoll time.Duration
}

// ClientOption настраивает Client.
type ClientOption func(*Client)

// WithCommitment задаёт уровень commitment для чтения.
func WithCommitment(c solanarpc.CommitmentType) ClientOption {
	return func(cl *Client) { cl.commitment = c }
}

// WithConfirmPoll задаёт период опроса статуса подписи.
func WithConfirmPoll(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.confirmPoll = d
		}
	}
}

// NewClient создаёт клиент поверх пула RPC узлов.
func NewClient(rpcURLs []string, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	pool, err := rpc.NewPool(rpcURLs, logger)
	if err != nil {
		return nil, err
	}

	c := &Client{
		pool:        pool,
		logger:      logger.Named("solbc-client"),
		commitment:  solanarpc.CommitmentConfirmed,
		confirmPoll: defaultConfirmPoll,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetBalance получает баланс аккаунта в лампортах.
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var balance uint64
	err := c.pool.Execute(ctx, "getBalance", func(cl *solanarpc.Client) error {
		res, err := cl.GetBalance(ctx, account, c.commitment)
		if err != nil {
			return err
		}
		balance = res.Value
		return nil
	})
	if err != nil {
		c.logger.Debug("GetBalance error", zap.String("account", account.String()), zap.Error(err))
		return 0, err
	}
	return balance, nil
}

// GetTokenBalance получает баланс токен-аккаунта в базовых единицах.
func (c *Client) GetTokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error) {
	var amount string
	err := c.pool.Execute(ctx, "getTokenAccountBalance", func(cl *solanarpc.Client) error {
		res, err := cl.GetTokenAccountBalance(ctx, tokenAccount, c.commitment)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return solanarpc.ErrNotFound
		}
		amount = res.Value.Amount
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}

	value, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q: %w", amount, err)
	}
	return value, nil
}

// Account - владелец и данные аккаунта.
type Account struct {
	Owner solana.PublicKey
	Data  []byte
}

// GetAccountBytes возвращает сырые данные аккаунта. Отсутствующий аккаунт - ErrAccountNotFound.
func (c *Client) GetAccountBytes(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	acc, err := c.GetAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	return acc.Data, nil
}

// GetAccount возвращает данные аккаунта вместе с программой-владельцем.
func (c *Client) GetAccount(ctx context.Context, account solana.PublicKey) (*Account, error) {
	var acc *Account
	err := c.pool.Execute(ctx, "getAccountInfo", func(cl *solanarpc.Client) error {
		res, err := cl.GetAccountInfoWithOpts(ctx, account, &solanarpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil || res.Value.Data == nil {
			return solanarpc.ErrNotFound
		}
		acc = &Account{Owner: res.Value.Owner, Data: res.Value.Data.GetBinary()}
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrAccountNotFound
		}
		c.logger.Debug("GetAccount error", zap.String("account", account.String()), zap.Error(err))
		return nil, err
	}
	return acc, nil
}

// GetRecentBlockReference получает последний blockhash вместе с границей его действия.
func (c *Client) GetRecentBlockReference(ctx context.Context) (BlockReference, error) {
	var ref BlockReference
	err := c.pool.Execute(ctx, "getLatestBlockhash", func(cl *solanarpc.Client) error {
		res, err := cl.GetLatestBlockhash(ctx, solanarpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return fmt.Errorf("empty getLatestBlockhash response")
		}
		ref = BlockReference{
			Blockhash:            res.Value.Blockhash,
			LastValidBlockHeight: res.Value.LastValidBlockHeight,
		}
		return nil
	})
	if err != nil {
		c.logger.Error("GetRecentBlockReference error", zap.Error(err))
		return BlockReference{}, err
	}
	return ref, nil
}

// SendTransaction отправляет подписанную транзакцию без preflight.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := c.pool.Execute(ctx, "sendTransaction", func(cl *solanarpc.Client) error {
		var err error
		sig, err = cl.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: solanarpc.CommitmentProcessed,
		})
		return err
	})
	if err != nil {
		fields := []zap.Field{zap.Error(err)}
		if logs, anchor := AnalyzeSendError(err); anchor != nil {
			fields = append(fields, zap.Stringer("anchor_error", anchor))
		} else if len(logs) > 0 {
			fields = append(fields, zap.Strings("logs", logs))
		}
		c.logger.Error("SendTransaction error", fields...)
		return solana.Signature{}, err
	}
	return sig, nil
}

// AwaitConfirmation ждёт подтверждения подписи до истечения blockhash из ref.
// Ошибка исполнения возвращается как *TransactionError, истечение - ErrBlockHeightExceeded.
func (c *Client) AwaitConfirmation(ctx context.Context, sig solana.Signature, ref BlockReference) error {
	ticker := time.NewTicker(c.confirmPoll)
	defer ticker.Stop()

	for {
		done, err := c.checkSignature(ctx, sig)
		if done {
			return err
		}

		height, hErr := c.getBlockHeight(ctx)
		if hErr == nil && height > ref.LastValidBlockHeight {
			// последняя проверка: транзакция могла попасть в последний валидный блок
			if done, err := c.checkSignature(ctx, sig); done {
				return err
			}
			return fmt.Errorf("%w: %s (height %d > %d)", ErrBlockHeightExceeded, sig, height, ref.LastValidBlockHeight)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) checkSignature(ctx context.Context, sig solana.Signature) (bool, error) {
	var status *solanarpc.SignatureStatusesResult
	err := c.pool.Execute(ctx, "getSignatureStatuses", func(cl *solanarpc.Client) error {
		res, err := cl.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return err
		}
		if res != nil && len(res.Value) > 0 {
			status = res.Value[0]
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("Error getting signature statuses", zap.Error(err))
		return false, nil
	}
	if status == nil {
		return false, nil
	}
	if status.Err != nil {
		return true, &TransactionError{Signature: sig, Reason: DescribeTransactionError(status.Err)}
	}
	if status.ConfirmationStatus == solanarpc.ConfirmationStatusConfirmed ||
		status.ConfirmationStatus == solanarpc.ConfirmationStatusFinalized {
		return true, nil
	}
	return false, nil
}

func (c *Client) getBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.pool.Execute(ctx, "getBlockHeight", func(cl *solanarpc.Client) error {
		var err error
		height, err = cl.GetBlockHeight(ctx, solanarpc.CommitmentConfirmed)
		return err
	})
	return height, err
}

// LogNodeStats пишет счётчики каждого RPC узла. В лог попадает только хост: в URL бывают API-ключи.
func (c *Client) LogNodeStats() {
	for _, node := range c.pool.Nodes() {
		success, failed, latency := node.Stats()
		c.logger.Info("RPC node stats",
			zap.String("host", nodeHost(node.URL)),
			zap.Uint64("success", success),
			zap.Uint64("failed", failed),
			zap.Duration("avg_latency", latency))
	}
}

func nodeHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid-url"
	}
	return u.Host
}

// ListRecentSignatures возвращает до limit последних успешных подписей программы (новые первыми).
func (c *Client) ListRecentSignatures(ctx context.Context, program solana.PublicKey, limit int) ([]solana.Signature, error) {
	var sigs []solana.Signature
	err := c.pool.Execute(ctx, "getSignaturesForAddress", func(cl *solanarpc.Client) error {
		res, err := cl.GetSignaturesForAddressWithOpts(ctx, program, &solanarpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: c.commitment,
		})
		if err != nil {
			return err
		}
		sigs = make([]solana.Signature, 0, len(res))
		for _, s := range res {
			if s == nil || s.Err != nil {
				continue
			}
			sigs = append(sigs, s.Signature)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sigs, nil
}

// GetTransactionAccounts возвращает все аккаунты транзакции, включая подгруженные через lookup-таблицы.
func (c *Client) GetTransactionAccounts(ctx context.Context, sig solana.Signature) ([]solana.PublicKey, error) {
	version := maxTxVersion
	var accounts []solana.PublicKey
	err := c.pool.Execute(ctx, "getTransaction", func(cl *solanarpc.Client) error {
		res, err := cl.GetTransaction(ctx, sig, &solanarpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     c.commitment,
			MaxSupportedTransactionVersion: &version,
		})
		if err != nil {
			return err
		}
		if res == nil || res.Transaction == nil {
			return solanarpc.ErrNotFound
		}

		tx, err := res.Transaction.GetTransaction()
		if err != nil {
			return fmt.Errorf("decode transaction %s: %w", sig, err)
		}

		accounts = append(accounts, tx.Message.AccountKeys...)
		if res.Meta != nil {
			accounts = append(accounts, res.Meta.LoadedAddresses.Writable...)
			accounts = append(accounts, res.Meta.LoadedAddresses.ReadOnly...)
		}
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return accounts, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, solanarpc.ErrNotFound) || errors.Is(err, ErrAccountNotFound)
}
