// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/pool-sniper/internal/blockchain/solbc"
	"github.com/rovshanmuradov/pool-sniper/internal/quote"
	"github.com/rovshanmuradov/pool-sniper/internal/sniper"
	"github.com/rovshanmuradov/pool-sniper/internal/swap"
	"github.com/rovshanmuradov/pool-sniper/internal/wallet"
	"github.com/rovshanmuradov/pool-sniper/internal/watcher"
)

// ErrInvalidConfig - любая ошибка конфигурации, фатальна при старте.
var ErrInvalidConfig = errors.New("invalid configuration")

const envPrefix = "SNIPER"

// Способ сборки транзакции покупки.
const (
	ExecutionDirect = "direct"
	ExecutionRoute  = "route"
)

type Config struct {
	RPCList      []string `mapstructure:"rpc_list"`
	WebSocketURL string   `mapstructure:"websocket_url"`

	PrivateKey string `mapstructure:"private_key"`
	KeyFile    string `mapstructure:"key_file"`

	TargetToken string `mapstructure:"target_token"`
	PoolAddress string `mapstructure:"pool_address"`
	ProgramID   string `mapstructure:"program_id"`

	SourceAsset     string  `mapstructure:"source_asset"`
	Amount          float64 `mapstructure:"amount"`
	MinAmount       float64 `mapstructure:"min_amount"`
	SlippageBps     int     `mapstructure:"slippage_bps"`
	EnforceSlippage bool    `mapstructure:"enforce_slippage"`
	MinLiquidity    uint64  `mapstructure:"min_liquidity"`

	PollInterval time.Duration `mapstructure:"poll_interval"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	ScanLimit    int           `mapstructure:"scan_limit"`
	WatchTimeout time.Duration `mapstructure:"watch_timeout"`
	WatchMode    string        `mapstructure:"watch_mode"`
	Trigger      string        `mapstructure:"trigger"`

	Execution      string `mapstructure:"execution"`
	QuoteAPIURL    string `mapstructure:"quote_api_url"`
	QuoteRateLimit int    `mapstructure:"quote_rate_limit"`

	FeeReserve   uint64 `mapstructure:"fee_reserve"`
	Priority     string `mapstructure:"priority"`
	PriorityFee  uint64 `mapstructure:"priority_fee"`
	ComputeUnits uint32 `mapstructure:"compute_units"`

	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`
	AttemptsLog  string `mapstructure:"attempts_log"`
}

const (
	DefaultProgramID      = "M2mx93ekt1fmXSVkTrUL9xVFHkmME8HTUi5Cyc5aF7K"
	DefaultSlippageBps    = 3000
	DefaultMinLiquidity   = 100_000_000 // 0.1 SOL в лампортах
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultRetryBackoff   = 100 * time.Millisecond
	DefaultRetryDelay     = 150 * time.Millisecond
	DefaultMaxAttempts    = 1000
	DefaultScanLimit      = 100
	DefaultQuoteRateLimit = 10
)

// keys без значения по умолчанию, которые всё равно должны читаться из окружения
var envOnlyKeys = []string{
	"websocket_url", "private_key", "key_file", "target_token",
	"pool_address", "amount", "log_file", "attempts_log",
}

// LoadConfig читает конфигурацию из файла и окружения.
func LoadConfig(path string) (*Config, error) {
	return Load(path, nil)
}

// Load читает конфигурацию: значения по умолчанию, файл (если задан), окружение SNIPER_*,
// затем явно указанные флаги. Имена флагов через дефис соответствуют ключам с подчёркиванием.
// Переменные из .env (или из --env-file) подмешиваются в окружение, не перекрывая уже заданные.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := loadDotEnv(flags); err != nil {
		return nil, err
	}

	v := viper.New()

	defaults := map[string]interface{}{
		"program_id":       DefaultProgramID,
		"source_asset":     string(swap.SourceNative),
		"min_amount":       0.0,
		"slippage_bps":     DefaultSlippageBps,
		"enforce_slippage": false,
		"min_liquidity":    DefaultMinLiquidity,
		"poll_interval":    DefaultPollInterval,
		"retry_backoff":    DefaultRetryBackoff,
		"retry_delay":      DefaultRetryDelay,
		"max_attempts":     DefaultMaxAttempts,
		"scan_limit":       DefaultScanLimit,
		"watch_timeout":    time.Duration(0),
		"watch_mode":       "subscribe",
		"trigger":          string(sniper.TriggerGated),
		"execution":        ExecutionDirect,
		"quote_api_url":    quote.DefaultBaseURL,
		"quote_rate_limit": DefaultQuoteRateLimit,
		"fee_reserve":      uint64(0),
		"priority":         string(swap.PriorityNone),
		"priority_fee":     uint64(0),
		"compute_units":    uint32(0),
		"debug_logging":    false,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	bindEnvironment(v)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	loadEnvironmentVariables(v, &cfg, flags)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(flags *pflag.FlagSet) error {
	if flags != nil {
		if f := flags.Lookup("env-file"); f != nil && f.Value.String() != "" {
			if err := godotenv.Load(f.Value.String()); err != nil {
				return fmt.Errorf("failed to load env file %s: %w", f.Value.String(), err)
			}
			return nil
		}
	}
	_ = godotenv.Load()
	return nil
}

func bindEnvironment(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		_ = v.BindEnv(key)
	}
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "env-file" || bindErr != nil {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// loadEnvironmentVariables разбирает список RPC из SNIPER_RPC_LIST через запятую.
// Явно заданный флаг --rpc-list важнее окружения.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config, flags *pflag.FlagSet) {
	if flags != nil {
		if f := flags.Lookup("rpc-list"); f != nil && f.Changed {
			return
		}
	}

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList == "" {
		return
	}
	var cleanRPCs []string
	for _, rpc := range strings.Split(envRPCList, ",") {
		clean := strings.TrimSpace(rpc)
		if clean != "" {
			cleanRPCs = append(cleanRPCs, clean)
		}
	}
	if len(cleanRPCs) > 0 {
		cfg.RPCList = cleanRPCs
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return invalid("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return invalid("rpc url %q: %v", rpcURL, err)
		}
	}
	if cfg.WebSocketURL != "" {
		if err := validateURLWithCache(cfg.WebSocketURL, "ws"); err != nil {
			return invalid("websocket url %q: %v", cfg.WebSocketURL, err)
		}
	}

	switch {
	case cfg.PrivateKey == "" && cfg.KeyFile == "":
		return invalid("private_key or key_file is required")
	case cfg.PrivateKey != "" && cfg.KeyFile != "":
		return invalid("only one of private_key and key_file may be set")
	}

	if cfg.TargetToken == "" {
		return invalid("target_token is required")
	}
	for name, value := range map[string]string{
		"target_token": cfg.TargetToken,
		"pool_address": cfg.PoolAddress,
		"program_id":   cfg.ProgramID,
	} {
		if value == "" {
			continue
		}
		if _, err := solana.PublicKeyFromBase58(value); err != nil {
			return invalid("%s: %v", name, err)
		}
	}
	if cfg.ProgramID == "" {
		return invalid("program_id is required")
	}

	if err := validateAmount(cfg); err != nil {
		return err
	}
	if cfg.SlippageBps < 0 || cfg.SlippageBps > 10_000 {
		return invalid("slippage_bps must be within [0, 10000], got %d", cfg.SlippageBps)
	}

	if err := validateNumericParams(cfg); err != nil {
		return err
	}

	if _, err := watcher.ParseStrategy(cfg.WatchMode); err != nil {
		return invalid("watch_mode: %v", err)
	}
	if _, err := sniper.ParseTrigger(cfg.Trigger); err != nil {
		return invalid("trigger: %v", err)
	}
	if _, err := swap.ResolvePriority(cfg.Priority, cfg.ComputeUnits, cfg.PriorityFee); err != nil {
		return invalid("priority: %v", err)
	}

	switch strings.ToLower(cfg.Execution) {
	case ExecutionDirect:
	case ExecutionRoute:
		if err := validateURLWithCache(cfg.QuoteAPIURL, "http"); err != nil {
			return invalid("quote_api_url %q: %v", cfg.QuoteAPIURL, err)
		}
	default:
		return invalid("unknown execution %q", cfg.Execution)
	}
	return nil
}

func validateAmount(cfg *Config) error {
	asset, err := swap.ParseSourceAsset(cfg.SourceAsset)
	if err != nil {
		return invalid("source_asset: %v", err)
	}
	if math.IsNaN(cfg.Amount) || math.IsInf(cfg.Amount, 0) || cfg.Amount <= 0 {
		return invalid("amount must be a positive number, got %v", cfg.Amount)
	}
	if math.IsNaN(cfg.MinAmount) || cfg.MinAmount < 0 {
		return invalid("min_amount must not be negative, got %v", cfg.MinAmount)
	}
	if cfg.Amount <= cfg.MinAmount {
		return invalid("amount %v must be greater than min_amount %v", cfg.Amount, cfg.MinAmount)
	}
	if _, err := BaseUnits(cfg.Amount, asset.Decimals()); err != nil {
		return invalid("amount: %v", err)
	}
	return nil
}

func validateNumericParams(cfg *Config) error {
	if cfg.PollInterval <= 0 {
		return invalid("poll_interval must be positive")
	}
	if cfg.RetryBackoff <= 0 {
		return invalid("retry_backoff must be positive")
	}
	if cfg.RetryDelay < 0 {
		return invalid("retry_delay must not be negative")
	}
	if cfg.WatchTimeout < 0 {
		return invalid("watch_timeout must not be negative")
	}
	if cfg.MaxAttempts < 0 {
		return invalid("max_attempts must not be negative")
	}
	if cfg.ScanLimit <= 0 {
		return invalid("scan_limit must be positive")
	}
	if cfg.QuoteRateLimit < 0 {
		return invalid("quote_rate_limit must not be negative")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) || parsed.Host == "" {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

// BaseUnits переводит сумму в единицах актива в базовые единицы (лампорты, микро-USDC).
func BaseUnits(amount float64, decimals uint8) (uint64, error) {
	scaled := math.Round(amount * math.Pow10(int(decimals)))
	if scaled < 1 {
		return 0, fmt.Errorf("%v is below one base unit", amount)
	}
	if scaled >= math.MaxUint64 {
		return 0, fmt.Errorf("%v overflows base units", amount)
	}
	return uint64(scaled), nil
}

// WebSocketEndpoint возвращает websocket_url или выводит его из первого RPC.
func (c *Config) WebSocketEndpoint() string {
	if c.WebSocketURL != "" {
		return c.WebSocketURL
	}
	if len(c.RPCList) == 0 {
		return ""
	}
	return solbc.WebSocketURL(c.RPCList[0])
}

// Strategy возвращает стратегию наблюдения из watch_mode.
func (c *Config) Strategy() watcher.Strategy {
	s, err := watcher.ParseStrategy(c.WatchMode)
	if err != nil {
		return watcher.Push()
	}
	return s
}

// PriorityConfig возвращает параметры compute budget.
func (c *Config) PriorityConfig() swap.PriorityConfig {
	p, _ := swap.ResolvePriority(c.Priority, c.ComputeUnits, c.PriorityFee)
	return p
}

// LoadWallet загружает кошелёк из private_key или key_file.
func (c *Config) LoadWallet() (*wallet.Wallet, error) {
	var (
		w   *wallet.Wallet
		err error
	)
	if c.PrivateKey != "" {
		w, err = wallet.NewWallet(c.PrivateKey)
	} else {
		w, err = wallet.LoadFromFile(c.KeyFile)
	}
	if err != nil {
		// текст ошибки кошелька не содержит сам ключ
		return nil, fmt.Errorf("%w: wallet: %v", ErrInvalidConfig, err)
	}
	return w, nil
}

// Session собирает сессию снайпера: кошелёк загружается один раз здесь.
func (c *Config) Session() (*sniper.Session, error) {
	w, err := c.LoadWallet()
	if err != nil {
		return nil, err
	}

	asset, err := swap.ParseSourceAsset(c.SourceAsset)
	if err != nil {
		return nil, invalid("source_asset: %v", err)
	}
	amount, err := BaseUnits(c.Amount, asset.Decimals())
	if err != nil {
		return nil, invalid("amount: %v", err)
	}
	trigger, err := sniper.ParseTrigger(c.Trigger)
	if err != nil {
		return nil, invalid("trigger: %v", err)
	}

	s := &sniper.Session{
		ID:      sniper.NewSessionID(),
		Wallet:  w,
		Target:  solana.MustPublicKeyFromBase58(c.TargetToken),
		Program: solana.MustPublicKeyFromBase58(c.ProgramID),
		Intent: swap.Intent{
			Source:      asset,
			Amount:      amount,
			SlippageBps: uint16(c.SlippageBps),
		},
		MinLiquidity: c.MinLiquidity,
		Trigger:      trigger,
		MaxAttempts:  c.MaxAttempts,
		RetryDelay:   c.RetryDelay,
	}
	if c.PoolAddress != "" {
		s.Pool = solana.MustPublicKeyFromBase58(c.PoolAddress)
	}
	if asset == swap.SourceUSDC {
		if err := w.PrecomputeATAs(swap.USDCMint, s.Target); err != nil {
			return nil, invalid("wallet: %v", err)
		}
	} else if err := w.PrecomputeATAs(s.Target); err != nil {
		return nil, invalid("wallet: %v", err)
	}
	return s, nil
}
