// Package config loads the bot configuration from a YAML file plus
// environment variables. The file carries deployment shape (pair, timezone,
// storage, feature toggles); the environment carries credentials and guard
// thresholds so they stay out of the config file.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Pair     domain.Pair
	Exchange domain.Exchange
	Timezone string
	DryRun   bool
	Testnet  bool

	HealthPort  int
	WALDir      string
	PostgresDSN string
	WebhookURL  string

	BinanceKey    string
	BinanceSecret string
	OKXKey        string
	OKXSecret     string
	OKXPassphrase string
	OKXSimulated  bool
	OKXLive       bool

	BinanceMaxUSDT decimal.Decimal
	OKXMaxUSDT     decimal.Decimal

	MaxSpreadPct         decimal.Decimal
	DepthGuardEnabled    bool
	DepthMinNotionalUSDT decimal.Decimal
	DepthBandPct         decimal.Decimal
	DepthLevel           int
	TWAPGuardEnabled     bool
	TWAPWindowMinutes    int
	TWAPMaxDeviationPct  decimal.Decimal

	AnomalyPnLThresholdUSDT      decimal.Decimal
	AnomalyNotionalThresholdUSDT decimal.Decimal

	S4Enabled     bool
	S4Exchange    domain.Exchange
	S4MinFlipUSDT decimal.Decimal
}

type configTmp struct {
	Pair        string `yaml:"pair"`
	Exchange    string `yaml:"exchange"`
	Timezone    string `yaml:"timezone"`
	DryRun      bool   `yaml:"dry_run"`
	Testnet     bool   `yaml:"testnet"`
	HealthPort  int    `yaml:"health_port"`
	WALDir      string `yaml:"wal_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
	WebhookURL  string `yaml:"webhook_url"`
	S4Exchange  string `yaml:"s4_exchange"`
}

// Get loads the configuration. A missing .env file is fine; a missing yaml
// file at an explicitly given path is not.
func Get(yamlPath string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if yamlPath != "" {
		if err := applyYaml(&cfg, yamlPath); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.PostgresDSN == "" {
		return Config{}, errors.New("postgres DSN is required (postgres_dsn in yaml or POSTGRES_DSN)")
	}
	if !cfg.DryRun {
		if cfg.Exchange == domain.ExchangeBinance && (cfg.BinanceKey == "" || cfg.BinanceSecret == "") {
			return Config{}, errors.New("binance credentials required outside dry-run")
		}
		if cfg.Exchange == domain.ExchangeOKX && (cfg.OKXKey == "" || cfg.OKXSecret == "" || cfg.OKXPassphrase == "") {
			return Config{}, errors.New("okx credentials required outside dry-run")
		}
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Pair:     domain.Pair{From: "BTC", To: "USDT"},
		Exchange: domain.ExchangeBinance,
		Timezone: "Asia/Bangkok",

		HealthPort: 8001,
		WALDir:     "wal/dedupe",

		MaxSpreadPct:         decimal.RequireFromString("0.60"),
		DepthGuardEnabled:    true,
		DepthMinNotionalUSDT: decimal.NewFromInt(1000000),
		DepthBandPct:         decimal.NewFromInt(1),
		DepthLevel:           40,
		TWAPGuardEnabled:     true,
		TWAPWindowMinutes:    15,
		TWAPMaxDeviationPct:  decimal.RequireFromString("1.5"),

		AnomalyPnLThresholdUSDT:      decimal.NewFromInt(50000),
		AnomalyNotionalThresholdUSDT: decimal.NewFromInt(250000),

		S4Exchange:    domain.ExchangeOKX,
		S4MinFlipUSDT: decimal.NewFromInt(500),
	}
}

func applyYaml(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	var tmp configTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return errors.Wrap(err, "parse config file")
	}

	if tmp.Pair != "" {
		pair, err := PairFromString(tmp.Pair)
		if err != nil {
			return err
		}
		cfg.Pair = pair
	}
	if tmp.Exchange != "" {
		ex, err := domain.ParseExchange(tmp.Exchange)
		if err != nil {
			return err
		}
		cfg.Exchange = ex
	}
	if tmp.Timezone != "" {
		cfg.Timezone = tmp.Timezone
	}
	cfg.DryRun = tmp.DryRun
	cfg.Testnet = tmp.Testnet
	if tmp.HealthPort != 0 {
		cfg.HealthPort = tmp.HealthPort
	}
	if tmp.WALDir != "" {
		cfg.WALDir = tmp.WALDir
	}
	if tmp.PostgresDSN != "" {
		cfg.PostgresDSN = tmp.PostgresDSN
	}
	if tmp.WebhookURL != "" {
		cfg.WebhookURL = tmp.WebhookURL
	}
	if tmp.S4Exchange != "" {
		ex, err := domain.ParseExchange(tmp.S4Exchange)
		if err != nil {
			return err
		}
		cfg.S4Exchange = ex
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.BinanceKey = envStr("BINANCE_API_KEY", cfg.BinanceKey)
	cfg.BinanceSecret = envStr("BINANCE_API_SECRET", cfg.BinanceSecret)
	cfg.OKXKey = envStr("OKX_API_KEY", cfg.OKXKey)
	cfg.OKXSecret = envStr("OKX_API_SECRET", cfg.OKXSecret)
	cfg.OKXPassphrase = envStr("OKX_API_PASSPHRASE", cfg.OKXPassphrase)
	cfg.PostgresDSN = envStr("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.WebhookURL = envStr("NOTIFY_WEBHOOK_URL", cfg.WebhookURL)

	var err error
	apply := func(f func() error) {
		if err == nil {
			err = f()
		}
	}

	apply(func() error { return envBool("OKX_SIMULATED", &cfg.OKXSimulated) })
	apply(func() error { return envBool("OKX_LIVE", &cfg.OKXLive) })
	apply(func() error { return envBool("ENABLE_DEPTH_GUARD", &cfg.DepthGuardEnabled) })
	apply(func() error { return envBool("ENABLE_TWAP_GUARD", &cfg.TWAPGuardEnabled) })
	apply(func() error { return envBool("FEATURE_S4_ENABLED", &cfg.S4Enabled) })

	apply(func() error { return envInt("HEALTH_CHECK_PORT", &cfg.HealthPort) })
	apply(func() error { return envInt("DEPTH_GUARD_DEPTH_LEVEL", &cfg.DepthLevel) })
	apply(func() error { return envInt("TWAP_GUARD_WINDOW_MINUTES", &cfg.TWAPWindowMinutes) })

	apply(func() error { return envDecimal("LIQUIDITY_MAX_SPREAD_PCT", &cfg.MaxSpreadPct) })
	apply(func() error { return envDecimal("DEPTH_GUARD_MIN_NOTIONAL_USDT", &cfg.DepthMinNotionalUSDT) })
	apply(func() error { return envDecimal("DEPTH_GUARD_BAND_PCT", &cfg.DepthBandPct) })
	apply(func() error { return envDecimal("TWAP_GUARD_MAX_DEVIATION_PCT", &cfg.TWAPMaxDeviationPct) })
	apply(func() error { return envDecimal("ANOMALY_PNL_THRESHOLD_USDT", &cfg.AnomalyPnLThresholdUSDT) })
	apply(func() error { return envDecimal("ANOMALY_NOTIONAL_THRESHOLD_USDT", &cfg.AnomalyNotionalThresholdUSDT) })
	apply(func() error { return envDecimal("BINANCE_MAX_USDT", &cfg.BinanceMaxUSDT) })
	apply(func() error { return envDecimal("OKX_MAX_USDT", &cfg.OKXMaxUSDT) })
	apply(func() error { return envDecimal("S4_MIN_FLIP_USDT", &cfg.S4MinFlipUSDT) })

	return err
}

// PairFromString parses the underscore pair format, e.g. "BTC_USDT".
func PairFromString(s string) (domain.Pair, error) {
	parts := strings.Split(strings.TrimSpace(s), "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return domain.Pair{}, errors.Errorf("invalid pair %q, expected BASE_QUOTE", s)
	}
	return domain.Pair{From: strings.ToUpper(parts[0]), To: strings.ToUpper(parts[1])}, nil
}

func envStr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return errors.Wrapf(err, "parse %s", key)
	}
	*dst = parsed
	return nil
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return errors.Wrapf(err, "parse %s", key)
	}
	*dst = parsed
	return nil
}

func envDecimal(key string, dst *decimal.Decimal) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	parsed, err := decimal.NewFromString(v)
	if err != nil {
		return errors.Wrapf(err, "parse %s", key)
	}
	*dst = parsed
	return nil
}
