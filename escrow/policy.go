// Package escrow holds the stake, fee and settlement arithmetic used by the
// dispute state machine. Everything here is a pure function of its inputs.
//
// Percentages and basis points use integer division truncating toward zero.
// Whatever a split cannot hand out evenly is reported as Dust and routed to
// the burn sink so escrow always drains to exactly zero.
package escrow

import (
	"fmt"
	"math"
	"math/bits"
	"time"

	"stakecourt/fault"
)

var (
	ErrInvalidStake    = fault.New(fault.Validation, "escrow: stake must be positive")
	ErrCounterLimit    = fault.New(fault.Validation, "escrow: counter-proposal limit reached")
	ErrInsufficientFee = fault.New(fault.Economic, "escrow: counter fee below required amount")
	ErrOverflow        = fault.New(fault.Economic, "escrow: amount overflows")
	ErrInvalidPolicy   = fault.New(fault.Validation, "escrow: invalid policy")
)

const bpsDenominator = 10_000

// Policy carries the configuration constants of the fee engine.
type Policy struct {
	// EscalationMultiplier is a percentage: 150 requires 1.5x the stake.
	EscalationMultiplier int64
	CooldownPeriod       time.Duration
	CounterFeeBase       int64
	MaxCounters          int
	BurnPercentage       int64
	IncentiveBps         int64
}

// DefaultPolicy mirrors the reference constants.
func DefaultPolicy() Policy {
	return Policy{
		EscalationMultiplier: 150,
		CooldownPeriod:       30 * 24 * time.Hour,
		CounterFeeBase:       1000,
		MaxCounters:          3,
		BurnPercentage:       50,
		IncentiveBps:         1000,
	}
}

// Validate rejects configurations the arithmetic cannot honour.
func (p Policy) Validate() error {
	switch {
	case p.EscalationMultiplier < 100:
		return fmt.Errorf("%w: escalation multiplier %d below 100", ErrInvalidPolicy, p.EscalationMultiplier)
	case p.CooldownPeriod < 0:
		return fmt.Errorf("%w: negative cooldown", ErrInvalidPolicy)
	case p.CounterFeeBase <= 0:
		return fmt.Errorf("%w: counter fee base must be positive", ErrInvalidPolicy)
	case p.MaxCounters < 0 || p.MaxCounters > 62:
		return fmt.Errorf("%w: max counters %d out of range", ErrInvalidPolicy, p.MaxCounters)
	case p.BurnPercentage < 0 || p.BurnPercentage > 100:
		return fmt.Errorf("%w: burn percentage %d out of range", ErrInvalidPolicy, p.BurnPercentage)
	case p.IncentiveBps < 0 || p.IncentiveBps > bpsDenominator:
		return fmt.Errorf("%w: incentive bps %d out of range", ErrInvalidPolicy, p.IncentiveBps)
	}
	return nil
}

// InCooldown reports whether a dispute between the same pair at last is
// recent enough to escalate one starting at now.
func (p Policy) InCooldown(last time.Time, now time.Time) bool {
	return now.Sub(last) < p.CooldownPeriod
}

// RequiredStake returns the stake the initiator must lock. hasPrior reports
// whether the pair has disputed before and last is when.
func (p Policy) RequiredStake(stake int64, last time.Time, hasPrior bool, now time.Time) (int64, error) {
	if stake <= 0 {
		return 0, ErrInvalidStake
	}
	if !hasPrior || !p.InCooldown(last, now) {
		return stake, nil
	}
	return mulDiv(stake, p.EscalationMultiplier, 100)
}

// CounterFee returns the fee for the counter-proposal that follows count
// earlier ones: base * 2^count.
func (p Policy) CounterFee(count int) (int64, error) {
	if count < 0 || count >= p.MaxCounters {
		return 0, ErrCounterLimit
	}
	if p.CounterFeeBase > math.MaxInt64>>uint(count) {
		return 0, ErrOverflow
	}
	return p.CounterFeeBase << uint(count), nil
}

// CounterCharge splits a counter-proposal payment.
type CounterCharge struct {
	Required int64
	Paid     int64
	// Burn is the required fee, sent to the burn sink.
	Burn int64
	// Sweep is whatever was paid above the fee, sent to the treasury.
	Sweep int64
}

// ChargeCounter validates feePaid against the fee due for the next counter.
func (p Policy) ChargeCounter(count int, feePaid int64) (CounterCharge, error) {
	required, err := p.CounterFee(count)
	if err != nil {
		return CounterCharge{}, err
	}
	if feePaid < required {
		return CounterCharge{}, fmt.Errorf("%w: paid %d, required %d", ErrInsufficientFee, feePaid, required)
	}
	return CounterCharge{
		Required: required,
		Paid:     feePaid,
		Burn:     required,
		Sweep:    feePaid - required,
	}, nil
}

// MaxGriefingCost is the total a single party pays to exhaust every counter
// at the minimum fee: base * (2^MaxCounters - 1).
func (p Policy) MaxGriefingCost() (int64, error) {
	var total int64
	for i := 0; i < p.MaxCounters; i++ {
		fee, err := p.CounterFee(i)
		if err != nil {
			return 0, err
		}
		if total > math.MaxInt64-fee {
			return 0, ErrOverflow
		}
		total += fee
	}
	return total, nil
}

// mulDiv computes a*b/d truncating, failing on results beyond int64.
func mulDiv(a, b, d int64) (int64, error) {
	if a < 0 || b < 0 || d <= 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(d) {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, uint64(d))
	if q > math.MaxInt64 {
		return 0, ErrOverflow
	}
	return int64(q), nil
}
