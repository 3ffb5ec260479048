// internal/quote/client.go
package quote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://quote-api.jup.ag/v6"

	defaultRatePerSecond = 10
	defaultTimeout       = 5 * time.Second
	maxRequestTries      = 3
)

var (
	// ErrNoRouteFound - сервис не нашёл маршрут (пул ещё не торгуется или нет ликвидности).
	ErrNoRouteFound = errors.New("no route found")
	// ErrBadResponse - ответ сервиса не удалось разобрать.
	ErrBadResponse = errors.New("bad route service response")
)

// Route - котировка маршрута. Raw отправляется обратно в /swap без изменений.
type Route struct {
	InputMint            string          `json:"inputMint"`
	OutputMint           string          `json:"outputMint"`
	InAmount             string          `json:"inAmount"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SlippageBps          uint16          `json:"slippageBps"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	Raw                  json.RawMessage `json:"-"`
}

// OutAmountUint возвращает OutAmount в базовых единицах.
func (r *Route) OutAmountUint() (uint64, error) {
	return strconv.ParseUint(r.OutAmount, 10, 64)
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports uint64          `json:"prioritizationFeeLamports,omitempty"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// Client - HTTP-клиент сервиса котировок, совместимого с Jupiter v6.
type Client struct {
	baseURL     string
	http        *http.Client
	limiter     ratelimit.Limiter
	logger      *zap.Logger
	priorityFee uint64
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет http.Client (тесты, прокси).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit задаёт максимум запросов в секунду.
func WithRateLimit(perSecond int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = ratelimit.New(perSecond)
		}
	}
}

// WithPrioritizationFee задаёт приоритетную комиссию в лампортах для собранных транзакций.
func WithPrioritizationFee(lamports uint64) Option {
	return func(c *Client) { c.priorityFee = lamports }
}

// NewClient создаёт клиент сервиса котировок.
func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: ratelimit.New(defaultRatePerSecond),
		logger:  logger.Named("quote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetQuote запрашивает маршрут обмена amount единиц source на target.
func (c *Client) GetQuote(ctx context.Context, source, target solana.PublicKey, amount uint64, slippageBps uint16) (*Route, error) {
	params := url.Values{}
	params.Set("inputMint", source.String())
	params.Set("outputMint", target.String())
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.FormatUint(uint64(slippageBps), 10))

	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("quote %s -> %s: %w", source, target, err)
	}

	var route Route
	if err := json.Unmarshal(body, &route); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if route.OutAmount == "" {
		return nil, fmt.Errorf("%w: empty outAmount", ErrNoRouteFound)
	}
	out, err := route.OutAmountUint()
	if err != nil {
		return nil, fmt.Errorf("%w: outAmount %q: %v", ErrBadResponse, route.OutAmount, err)
	}
	if out == 0 {
		return nil, fmt.Errorf("%w: zero outAmount", ErrNoRouteFound)
	}
	route.Raw = json.RawMessage(body)

	c.logger.Debug("Route quoted",
		zap.String("in", route.InAmount),
		zap.Uint64("out", out),
		zap.String("price_impact", route.PriceImpactPct))
	return &route, nil
}

// BuildSwapTransaction возвращает сериализованную неподписанную транзакцию для маршрута.
func (c *Client) BuildSwapTransaction(ctx context.Context, route *Route, payer solana.PublicKey) ([]byte, error) {
	if route == nil || len(route.Raw) == 0 {
		return nil, fmt.Errorf("%w: route has no raw quote", ErrBadResponse)
	}

	reqBody, err := json.Marshal(swapRequest{
		QuoteResponse:             route.Raw,
		UserPublicKey:             payer.String(),
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: c.priorityFee,
	})
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/swap", reqBody)
	if err != nil {
		return nil, fmt.Errorf("swap build: %w", err)
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("%w: swapTransaction is not base64", ErrBadResponse)
	}
	return raw, nil
}

// do выполняет запрос с ограничением частоты и повторами на 429/5xx.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	operation := func() ([]byte, error) {
		c.limiter.Take()
		// лимитер мог держать нас дольше, чем живёт сессия
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("route service status %d", resp.StatusCode)
		default:
			return nil, backoff.Permanent(classify(resp.StatusCode, body))
		}
	}

	notify := func(err error, d time.Duration) {
		c.logger.Debug("Retrying route service request", zap.Error(err), zap.Duration("backoff", d))
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(maxRequestTries),
		backoff.WithNotify(notify))
}

func classify(status int, body []byte) error {
	var er errorResponse
	_ = json.Unmarshal(body, &er)

	if er.ErrorCode == "COULD_NOT_FIND_ANY_ROUTE" || er.ErrorCode == "TOKEN_NOT_TRADABLE" ||
		strings.Contains(strings.ToLower(er.Error), "route") {
		return fmt.Errorf("%w: %s", ErrNoRouteFound, er.Error)
	}
	if er.Error != "" {
		return fmt.Errorf("route service status %d: %s", status, er.Error)
	}
	return fmt.Errorf("route service status %d", status)
}
