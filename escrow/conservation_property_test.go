package escrow

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Escrow must drain to exactly zero on every terminal path and the fee split
// must account for every unit paid.
func TestSettlementConservation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("timeout settlement drains escrow exactly", prop.ForAll(
		func(stake int64, burnPct int64) bool {
			p := DefaultPolicy()
			p.BurnPercentage = burnPct
			s, err := p.TimeoutSettlement(stake, stake)
			if err != nil {
				return false
			}
			return s.EscrowOutflow() == 2*stake &&
				s.InitiatorRefund == s.CounterpartyRefund &&
				s.Dust >= 0 && s.Dust <= 1 &&
				s.Incentive == 0
		},
		gen.Int64Range(1, 1<<60),
		gen.Int64Range(0, 100),
	))

	properties.Property("accepted settlement returns both stakes", prop.ForAll(
		func(stake int64) bool {
			s := DefaultPolicy().AcceptedSettlement(stake, stake)
			return s.EscrowOutflow() == 2*stake && s.Burned() == 0
		},
		gen.Int64Range(1, 1<<60),
	))

	properties.Property("default settlement returns the stake and a bounded incentive", prop.ForAll(
		func(stake int64, bps int64) bool {
			p := DefaultPolicy()
			p.IncentiveBps = bps
			s, err := p.DefaultSettlement(stake)
			if err != nil {
				return false
			}
			return s.EscrowOutflow() == stake && s.Incentive >= 0 && s.Incentive <= stake
		},
		gen.Int64Range(1, 1<<50),
		gen.Int64Range(0, 10_000),
	))

	properties.Property("subsidy return keeps escrow drained and the counterparty unsubsidised", prop.ForAll(
		func(stake int64, subsidy int64, burnPct int64) bool {
			subsidy = subsidy % (stake + 1)
			p := DefaultPolicy()
			p.BurnPercentage = burnPct
			base, err := p.TimeoutSettlement(stake, stake)
			if err != nil {
				return false
			}
			s, err := base.ReturnSubsidy(subsidy, stake)
			if err != nil {
				return false
			}
			own := stake - subsidy
			return s.EscrowOutflow() == 2*stake &&
				s.CounterpartyRefund+s.SubsidyReturn == base.CounterpartyRefund &&
				s.CounterpartyRefund <= own &&
				s.InitiatorRefund == base.InitiatorRefund
		},
		gen.Int64Range(1, 1<<40),
		gen.Int64Range(0, 1<<40),
		gen.Int64Range(0, 100),
	))

	properties.Property("counter charge splits payment into burn and sweep", prop.ForAll(
		func(count int, extra int64) bool {
			p := DefaultPolicy()
			fee, err := p.CounterFee(count)
			if err != nil {
				return false
			}
			c, err := p.ChargeCounter(count, fee+extra)
			if err != nil {
				return false
			}
			return c.Burn+c.Sweep == c.Paid && c.Burn == fee && c.Sweep == extra
		},
		gen.IntRange(0, 2),
		gen.Int64Range(0, 1<<40),
	))

	properties.Property("counter fees strictly increase", prop.ForAll(
		func(base int64) bool {
			p := DefaultPolicy()
			p.CounterFeeBase = base
			prev := int64(0)
			for i := 0; i < p.MaxCounters; i++ {
				fee, err := p.CounterFee(i)
				if err != nil || fee <= prev {
					return false
				}
				prev = fee
			}
			return true
		},
		gen.Int64Range(1, 1<<40),
	))

	properties.TestingRun(t)
}
