// internal/swap/builder.go
package swap

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/pool-sniper/internal/blockchain/solbc"
	"github.com/rovshanmuradov/pool-sniper/internal/pool"
	"github.com/rovshanmuradov/pool-sniper/internal/quote"
)

// swapDiscriminator - первый байт данных инструкции покупки.
const swapDiscriminator uint8 = 0

// Builder собирает неподписанную транзакцию покупки. Плательщик комиссии - кошелёк ордера,
// blockhash - из ref.
type Builder interface {
	Build(ctx context.Context, order Order, poolAddr solana.PublicKey, ref solbc.BlockReference) (*solana.Transaction, error)
}

// AccountReader читает сырые данные аккаунта.
type AccountReader interface {
	GetAccountBytes(ctx context.Context, account solana.PublicKey) ([]byte, error)
}

// EncodeSwapData кодирует данные инструкции: [0x00][amount u64 LE], и [minOut u64 LE] если задан.
func EncodeSwapData(amount uint64, minOut *uint64) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	// запись в bytes.Buffer не возвращает ошибок
	_ = enc.WriteUint8(swapDiscriminator)
	_ = enc.WriteUint64(amount, bin.LE)
	if minOut != nil {
		_ = enc.WriteUint64(*minOut, bin.LE)
	}
	return buf.Bytes()
}

// NewSwapInstruction создаёт инструкцию покупки в пуле.
func NewSwapInstruction(program, poolAddr, user, token solana.PublicKey, data []byte) solana.Instruction {
	return solana.NewInstruction(
		program,
		solana.AccountMetaSlice{
			solana.Meta(poolAddr).WRITE(),
			solana.Meta(user).WRITE().SIGNER(),
			solana.Meta(token).WRITE(),
			solana.Meta(solana.SystemProgramID),
		},
		data,
	)
}

// DirectBuilder обращается к программе пула напрямую.
type DirectBuilder struct {
	priority PriorityConfig
	guard    AccountReader // не nil - добавляем minOut по текущим резервам пула
	logger   *zap.Logger
}

// DirectOption настраивает DirectBuilder.
type DirectOption func(*DirectBuilder)

// WithSlippageGuard включает минимальный выход, рассчитанный по резервам пула.
func WithSlippageGuard(reader AccountReader) DirectOption {
	return func(b *DirectBuilder) { b.guard = reader }
}

func NewDirectBuilder(priority PriorityConfig, logger *zap.Logger, opts ...DirectOption) *DirectBuilder {
	b := &DirectBuilder{priority: priority, logger: logger.Named("direct-builder")}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *DirectBuilder) Build(ctx context.Context, order Order, poolAddr solana.PublicKey, ref solbc.BlockReference) (*solana.Transaction, error) {
	var minOut *uint64
	if b.guard != nil {
		v, err := b.minOut(ctx, order, poolAddr)
		if err != nil {
			return nil, err
		}
		minOut = &v
	}

	// токен-аккаунт под купленный токен; повторное создание не падает
	createATA, err := order.Wallet.CreateATAIdempotentInstruction(order.Target)
	if err != nil {
		return nil, fmt.Errorf("target ATA: %w", err)
	}

	instructions := b.priority.Instructions()
	instructions = append(instructions, createATA, NewSwapInstruction(
		order.Program,
		poolAddr,
		order.Wallet.PublicKey,
		order.Target,
		EncodeSwapData(order.Intent.Amount, minOut),
	))

	tx, err := solana.NewTransaction(instructions, ref.Blockhash, solana.TransactionPayer(order.Wallet.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}

func (b *DirectBuilder) minOut(ctx context.Context, order Order, poolAddr solana.PublicKey) (uint64, error) {
	data, err := b.guard.GetAccountBytes(ctx, poolAddr)
	if err != nil {
		return 0, fmt.Errorf("read pool for slippage guard: %w", err)
	}
	record, err := pool.Decode(data)
	if err != nil {
		return 0, err
	}
	expected := pool.ExpectedOut(record, order.Intent.Amount)
	minOut := pool.MinAmountOut(expected, order.Intent.SlippageBps)

	b.logger.Debug("Slippage guard",
		zap.Uint64("expected_out", expected),
		zap.Uint64("min_out", minOut),
		zap.Uint16("slippage_bps", order.Intent.SlippageBps))
	return minOut, nil
}

// RouteService - сервис котировок маршрутов.
type RouteService interface {
	GetQuote(ctx context.Context, source, target solana.PublicKey, amount uint64, slippageBps uint16) (*quote.Route, error)
	BuildSwapTransaction(ctx context.Context, route *quote.Route, payer solana.PublicKey) ([]byte, error)
}

// RouteBuilder покупает через сервис маршрутов: пул выбирает сервис, а не мы.
type RouteBuilder struct {
	quotes RouteService
	logger *zap.Logger
}

func NewRouteBuilder(quotes RouteService, logger *zap.Logger) *RouteBuilder {
	return &RouteBuilder{quotes: quotes, logger: logger.Named("route-builder")}
}

func (b *RouteBuilder) Build(ctx context.Context, order Order, poolAddr solana.PublicKey, ref solbc.BlockReference) (*solana.Transaction, error) {
	route, err := b.quotes.GetQuote(ctx, order.Intent.Source.Mint(), order.Target, order.Intent.Amount, order.Intent.SlippageBps)
	if err != nil {
		if errors.Is(err, quote.ErrNoRouteFound) {
			b.logger.Debug("Pool not routable yet", zap.String("pool", poolAddr.String()))
		}
		return nil, err
	}

	raw, err := b.quotes.BuildSwapTransaction(ctx, route, order.Wallet.PublicKey)
	if err != nil {
		return nil, err
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("decode routed transaction: %w", err)
	}
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(order.Wallet.PublicKey) {
		return nil, fmt.Errorf("routed transaction fee payer is not the wallet")
	}

	// подпись считается заново по нашему blockhash
	tx.Message.RecentBlockhash = ref.Blockhash
	tx.Signatures = nil
	return tx, nil
}
