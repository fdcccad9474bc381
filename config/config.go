// Package config loads process configuration from the environment.
package config

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"stakecourt/dispute"
	"stakecourt/escrow"
	"stakecourt/ledger"
	"stakecourt/oracle"
	"stakecourt/outbox"
	"stakecourt/treasury"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the full process configuration.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"0"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	JWTSecret   string `env:"JWT_SECRET,required,notEmpty"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// AdminEmail and AdminPassword bootstrap the first administrator. Both or
	// neither must be set.
	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	Denom                string        `env:"STAKE_DENOMINATION" envDefault:"STK"`
	MaxCounters          int           `env:"MAX_COUNTERS" envDefault:"3"`
	BurnPercentage       int64         `env:"BURN_PERCENTAGE" envDefault:"50"`
	StakeWindow          time.Duration `env:"STAKE_WINDOW" envDefault:"72h"`
	ResolutionTimeout    time.Duration `env:"RESOLUTION_TIMEOUT" envDefault:"168h"`
	CounterExtension     time.Duration `env:"COUNTER_EXTENSION" envDefault:"24h"`
	CounterFeeBase       int64         `env:"COUNTER_FEE_BASE" envDefault:"1000"`
	IncentiveBps         int64         `env:"INITIATOR_INCENTIVE_BPS" envDefault:"1000"`
	EscalationMultiplier int64         `env:"ESCALATION_MULTIPLIER" envDefault:"150"`
	CooldownPeriod       time.Duration `env:"COOLDOWN_PERIOD" envDefault:"720h"`

	BlockThreshold         int64         `env:"HARASSMENT_BLOCK_THRESHOLD" envDefault:"50"`
	SubsidyMaxPerDispute   int64         `env:"SUBSIDY_MAX_PER_DISPUTE" envDefault:"10000"`
	SubsidyMaxPerPart      int64         `env:"SUBSIDY_MAX_PER_PARTICIPANT" envDefault:"50000"`
	SubsidyWindow          time.Duration `env:"SUBSIDY_WINDOW" envDefault:"720h"`
	SubsidyDynamicCapBps   int64         `env:"SUBSIDY_DYNAMIC_CAP_BPS" envDefault:"0"`
	SubsidyDynamicCapFloor int64         `env:"SUBSIDY_DYNAMIC_CAP_FLOOR" envDefault:"0"`
	TierThresholds         []int64       `env:"SUBSIDY_TIER_THRESHOLDS" envDefault:"10,25,50" envSeparator:","`
	TierMultipliers        []int64       `env:"SUBSIDY_TIER_MULTIPLIERS" envDefault:"100,75,50" envSeparator:","`

	ProposerKeys string `env:"PROPOSER_KEYS"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
	RedisURL           string        `env:"REDIS_URL"`
	EventStream        string        `env:"EVENT_STREAM" envDefault:"stakecourt.events"`
	EventStreamMaxLen  int64         `env:"EVENT_STREAM_MAXLEN" envDefault:"100000"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every derived configuration.
func (c Config) Validate() error {
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("%w: JWT_SECRET must be at least 16 bytes", ErrInvalid)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return fmt.Errorf("%w: ADMIN_EMAIL and ADMIN_PASSWORD must be set together", ErrInvalid)
	}
	if c.AdminPassword != "" && len(c.AdminPassword) < 8 {
		return fmt.Errorf("%w: ADMIN_PASSWORD must be at least 8 characters", ErrInvalid)
	}
	if c.DBMaxConns < 0 {
		return fmt.Errorf("%w: DB_MAX_CONNS must not be negative", ErrInvalid)
	}
	if c.StakeWindow <= 0 || c.ResolutionTimeout <= 0 || c.CounterExtension < 0 {
		return fmt.Errorf("%w: dispute windows must be positive", ErrInvalid)
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	tc, err := c.TreasuryConfig()
	if err != nil {
		return err
	}
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := c.Keys(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.OutboxPollInterval <= 0 || c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		return fmt.Errorf("%w: outbox settings must be positive", ErrInvalid)
	}
	return nil
}

func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("%w: LOG_LEVEL %q", ErrInvalid, c.LogLevel)
	}
	return lvl, nil
}

func (c Config) Policy() escrow.Policy {
	return escrow.Policy{
		EscalationMultiplier: c.EscalationMultiplier,
		CooldownPeriod:       c.CooldownPeriod,
		CounterFeeBase:       c.CounterFeeBase,
		MaxCounters:          c.MaxCounters,
		BurnPercentage:       c.BurnPercentage,
		IncentiveBps:         c.IncentiveBps,
	}
}

func (c Config) DisputeConfig() dispute.Config {
	return dispute.Config{
		Denom:             ledger.Denomination(c.Denom),
		StakeWindow:       c.StakeWindow,
		ResolutionTimeout: c.ResolutionTimeout,
		CounterExtension:  c.CounterExtension,
		Policy:            c.Policy(),
	}
}

// TreasuryConfig pairs tier thresholds with multipliers by position.
func (c Config) TreasuryConfig() (treasury.Config, error) {
	if len(c.TierThresholds) != len(c.TierMultipliers) {
		return treasury.Config{}, fmt.Errorf("%w: %d tier thresholds but %d multipliers",
			ErrInvalid, len(c.TierThresholds), len(c.TierMultipliers))
	}
	tiers := make([]treasury.Tier, len(c.TierThresholds))
	for i := range c.TierThresholds {
		tiers[i] = treasury.Tier{Below: c.TierThresholds[i], Multiplier: c.TierMultipliers[i]}
	}
	return treasury.Config{
		Denom:             ledger.Denomination(c.Denom),
		MaxPerDispute:     c.SubsidyMaxPerDispute,
		MaxPerParticipant: c.SubsidyMaxPerPart,
		Window:            c.SubsidyWindow,
		DynamicCapBps:     c.SubsidyDynamicCapBps,
		DynamicCapFloor:   c.SubsidyDynamicCapFloor,
		BlockThreshold:    c.BlockThreshold,
		Tiers:             tiers,
	}, nil
}

// Keys decodes PROPOSER_KEYS.
func (c Config) Keys() (map[string]ed25519.PublicKey, error) {
	return oracle.ParseKeys(c.ProposerKeys)
}

func (c Config) RelayConfig() outbox.RelayConfig {
	return outbox.RelayConfig{
		Interval:    c.OutboxPollInterval,
		BatchSize:   c.OutboxBatchSize,
		MaxAttempts: c.OutboxMaxAttempts,
	}
}
