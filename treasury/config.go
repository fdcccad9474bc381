package treasury

import (
	"fmt"
	"time"

	"stakecourt/ledger"
)

// Tier grants Multiplier percent of the computed subsidy to scores strictly
// below Below.
type Tier struct {
	Below      int64 `json:"below"`
	Multiplier int64 `json:"multiplier"`
}

// Config bounds how much the treasury hands out.
type Config struct {
	Denom             ledger.Denomination `json:"denom"`
	MaxPerDispute     int64               `json:"max_per_dispute"`
	MaxPerParticipant int64               `json:"max_per_participant"`
	Window            time.Duration       `json:"window"`
	// DynamicCapBps, when positive, caps the per-participant allowance at
	// that share of the treasury balance, never below DynamicCapFloor.
	DynamicCapBps   int64  `json:"dynamic_cap_bps"`
	DynamicCapFloor int64  `json:"dynamic_cap_floor"`
	BlockThreshold  int64  `json:"block_threshold"`
	Tiers           []Tier `json:"tiers"`
}

func DefaultConfig() Config {
	return Config{
		Denom:             "STK",
		MaxPerDispute:     10_000,
		MaxPerParticipant: 50_000,
		Window:            30 * 24 * time.Hour,
		BlockThreshold:    50,
		Tiers: []Tier{
			{Below: 10, Multiplier: 100},
			{Below: 25, Multiplier: 75},
			{Below: 50, Multiplier: 50},
		},
	}
}

func (c Config) Validate() error {
	switch {
	case c.Denom == "":
		return fmt.Errorf("%w: denomination required", ErrInvalidConfig)
	case c.MaxPerDispute <= 0 || c.MaxPerParticipant <= 0:
		return fmt.Errorf("%w: caps must be positive", ErrInvalidConfig)
	case c.Window <= 0:
		return fmt.Errorf("%w: window must be positive", ErrInvalidConfig)
	case c.DynamicCapBps < 0 || c.DynamicCapBps > 10_000 || c.DynamicCapFloor < 0:
		return fmt.Errorf("%w: dynamic cap out of range", ErrInvalidConfig)
	case c.BlockThreshold <= 0:
		return fmt.Errorf("%w: block threshold must be positive", ErrInvalidConfig)
	case len(c.Tiers) == 0:
		return fmt.Errorf("%w: at least one tier required", ErrInvalidConfig)
	}
	for i, t := range c.Tiers {
		if t.Multiplier <= 0 || t.Multiplier > 100 {
			return fmt.Errorf("%w: tier %d multiplier %d", ErrInvalidConfig, i, t.Multiplier)
		}
		if t.Below > c.BlockThreshold {
			return fmt.Errorf("%w: tier %d threshold above block threshold", ErrInvalidConfig, i)
		}
		if i > 0 && (t.Below <= c.Tiers[i-1].Below || t.Multiplier >= c.Tiers[i-1].Multiplier) {
			return fmt.Errorf("%w: tiers must rise in threshold and fall in multiplier", ErrInvalidConfig)
		}
	}
	return nil
}

// Multiplier returns the subsidy percentage for a harassment score. Scores
// at or above the block threshold, or above every tier, get zero.
func (c Config) Multiplier(score int64) int64 {
	if score >= c.BlockThreshold {
		return 0
	}
	for _, t := range c.Tiers {
		if score < t.Below {
			return t.Multiplier
		}
	}
	return 0
}

// EffectiveMax is the per-participant allowance for a window given the
// current treasury balance.
func (c Config) EffectiveMax(balance int64) int64 {
	if c.DynamicCapBps <= 0 {
		return c.MaxPerParticipant
	}
	dynamic := max(mulDiv(balance, c.DynamicCapBps, 10_000), c.DynamicCapFloor)
	return min(c.MaxPerParticipant, dynamic)
}

// mulDiv computes a*b/d for non-negative a with b, d small enough that the
// split product cannot overflow.
func mulDiv(a, b, d int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a/d)*b + (a%d)*b/d
}
