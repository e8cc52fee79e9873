package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

// DebugMode enables verbose order book logging. Set by Load.
var DebugMode bool

type Config struct {
	Provider      string
	Symbol        string
	SnapshotLimit int
	TopN          int
	Debug         bool
	// providers accepted by the rpc surface
	Providers []string

	Log     LogConfig
	Binance BinanceConfig
	Kucoin  KucoinConfig
	Scaler  ScalerConfig
	Resync  ResyncConfig
	Metrics MetricsConfig
	RPC     RPCConfig
	Redis   RedisConfig
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type BinanceConfig struct {
	WsAPIURL         string
	StreamURL        string
	HandshakeTimeout time.Duration
}

type KucoinConfig struct {
	APIKey     string
	Secret     string
	Passphrase string
	BaseURL    string
}

type ScalerConfig struct {
	Rounding  string
	Tolerance string
}

type ResyncConfig struct {
	Backoff     time.Duration
	MaxAttempts int
}

type MetricsConfig struct {
	Addr string
}

type RPCConfig struct {
	Addr string
}

// RedisConfig holds the top of book publisher settings; an empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads an optional .env file, then resolves configuration from
// environment variables prefixed with OBSYNC_ (dots become underscores,
// e.g. OBSYNC_BINANCE_STREAM_URL).
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("OBSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("provider", "binance")
	v.SetDefault("symbol", "btc_usdt")
	v.SetDefault("snapshot_limit", 1000)
	v.SetDefault("top_n", 20)
	v.SetDefault("debug", false)
	v.SetDefault("providers", "binance,kucoin")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("binance.ws_api_url", "wss://ws-api.binance.com:443/ws-api/v3")
	v.SetDefault("binance.stream_url", "wss://stream.binance.com:9443/stream")
	v.SetDefault("binance.handshake_timeout", 5*time.Second)

	v.SetDefault("kucoin.base_url", "https://api.kucoin.com")

	v.SetDefault("scaler.rounding", string(domain.RoundingNearest))
	v.SetDefault("scaler.tolerance", "0")

	v.SetDefault("resync.backoff", 500*time.Millisecond)
	v.SetDefault("resync.max_attempts", 5)

	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("rpc.addr", ":50051")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	cfg := &Config{
		Provider:      strings.ToLower(v.GetString("provider")),
		Symbol:        v.GetString("symbol"),
		SnapshotLimit: v.GetInt("snapshot_limit"),
		TopN:          v.GetInt("top_n"),
		Debug:         v.GetBool("debug"),
		Providers:     splitList(v.GetString("providers")),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Pretty: v.GetBool("log.pretty"),
	}

	cfg.Binance = BinanceConfig{
		WsAPIURL:         v.GetString("binance.ws_api_url"),
		StreamURL:        v.GetString("binance.stream_url"),
		HandshakeTimeout: v.GetDuration("binance.handshake_timeout"),
	}

	cfg.Kucoin = KucoinConfig{
		APIKey:     v.GetString("kucoin.api_key"),
		Secret:     v.GetString("kucoin.secret"),
		Passphrase: v.GetString("kucoin.passphrase"),
		BaseURL:    v.GetString("kucoin.base_url"),
	}

	cfg.Scaler = ScalerConfig{
		Rounding:  strings.ToLower(v.GetString("scaler.rounding")),
		Tolerance: v.GetString("scaler.tolerance"),
	}

	cfg.Resync = ResyncConfig{
		Backoff:     v.GetDuration("resync.backoff"),
		MaxAttempts: v.GetInt("resync.max_attempts"),
	}

	cfg.Metrics = MetricsConfig{Addr: v.GetString("metrics.addr")}
	cfg.RPC = RPCConfig{Addr: v.GetString("rpc.addr")}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	DebugMode = cfg.Debug
	return cfg, nil
}

func (c *Config) Validate() error {
	if !slices.Contains(c.Providers, c.Provider) {
		return fmt.Errorf("%w: %q", domain.ErrProviderNotFound, c.Provider)
	}
	if _, err := domain.NewMarketSymbolFromString(c.Symbol); err != nil {
		return fmt.Errorf("symbol: %w", err)
	}
	if c.SnapshotLimit <= 0 {
		return fmt.Errorf("snapshot_limit must be positive, got %d", c.SnapshotLimit)
	}
	if c.TopN <= 0 {
		return fmt.Errorf("top_n must be positive, got %d", c.TopN)
	}
	if c.Resync.MaxAttempts <= 0 {
		return fmt.Errorf("resync.max_attempts must be positive, got %d", c.Resync.MaxAttempts)
	}
	if c.Resync.Backoff < 0 {
		return fmt.Errorf("resync.backoff must not be negative, got %s", c.Resync.Backoff)
	}
	if _, err := c.ScalerOptions(); err != nil {
		return err
	}
	return nil
}

// ScalerOptions turns the scaler section into domain options.
func (c *Config) ScalerOptions() ([]domain.ScalerOption, error) {
	mode := domain.RoundingMode(c.Scaler.Rounding)
	if mode != domain.RoundingNearest && mode != domain.RoundingFloor {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidRounding, c.Scaler.Rounding)
	}

	tolerance, err := decimal.NewFromString(c.Scaler.Tolerance)
	if err != nil {
		return nil, fmt.Errorf("scaler.tolerance: %w", err)
	}
	if tolerance.IsNegative() {
		return nil, fmt.Errorf("scaler.tolerance must not be negative, got %s", tolerance)
	}

	return []domain.ScalerOption{
		domain.WithRounding(mode),
		domain.WithTolerance(tolerance),
	}, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
