package escrow

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var day = 24 * time.Hour

func TestRequiredStakeEscalation(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := p.RequiredStake(100, now.Add(-10*day), true, now)
	require.NoError(t, err)
	require.Equal(t, int64(150), got, "prior dispute 10 days ago is inside the cooldown")

	got, err = p.RequiredStake(100, now.Add(-31*day), true, now)
	require.NoError(t, err)
	require.Equal(t, int64(100), got, "prior dispute 31 days ago is outside the cooldown")

	got, err = p.RequiredStake(100, time.Time{}, false, now)
	require.NoError(t, err)
	require.Equal(t, int64(100), got)

	got, err = p.RequiredStake(100, now.Add(-30*day), true, now)
	require.NoError(t, err)
	require.Equal(t, int64(100), got, "cooldown ends exactly at the period boundary")

	got, err = p.RequiredStake(3, now, true, now)
	require.NoError(t, err)
	require.Equal(t, int64(4), got, "escalation truncates toward zero")
}

func TestRequiredStakeRejectsZero(t *testing.T) {
	_, err := DefaultPolicy().RequiredStake(0, time.Time{}, false, time.Now())
	require.ErrorIs(t, err, ErrInvalidStake)
}

func TestRequiredStakeOverflow(t *testing.T) {
	now := time.Now()
	_, err := DefaultPolicy().RequiredStake(math.MaxInt64, now, true, now)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestCounterFeeSchedule(t *testing.T) {
	p := DefaultPolicy()
	p.CounterFeeBase = 7

	want := []int64{7, 14, 28}
	for i, w := range want {
		fee, err := p.CounterFee(i)
		require.NoError(t, err)
		require.Equal(t, w, fee, "counter %d", i)
	}

	_, err := p.CounterFee(3)
	require.ErrorIs(t, err, ErrCounterLimit)

	total, err := p.MaxGriefingCost()
	require.NoError(t, err)
	require.Equal(t, int64(49), total)
}

func TestChargeCounter(t *testing.T) {
	p := DefaultPolicy()

	charge, err := p.ChargeCounter(1, 2500)
	require.NoError(t, err)
	require.Equal(t, CounterCharge{Required: 2000, Paid: 2500, Burn: 2000, Sweep: 500}, charge)

	_, err = p.ChargeCounter(1, 1999)
	require.ErrorIs(t, err, ErrInsufficientFee)

	_, err = p.ChargeCounter(3, math.MaxInt64)
	require.True(t, errors.Is(err, ErrCounterLimit), "a fourth counter fails regardless of fee")
}

func TestTimeoutSettlement(t *testing.T) {
	p := DefaultPolicy()

	s, err := p.TimeoutSettlement(100, 100)
	require.NoError(t, err)
	require.Equal(t, Settlement{InitiatorRefund: 50, CounterpartyRefund: 50, Burn: 100}, s)
	require.Equal(t, int64(200), s.EscrowOutflow())

	s, err = p.TimeoutSettlement(101, 101)
	require.NoError(t, err)
	require.Equal(t, int64(101), s.Burn)
	require.Equal(t, int64(50), s.InitiatorRefund)
	require.Equal(t, int64(50), s.CounterpartyRefund)
	require.Equal(t, int64(1), s.Dust)
	require.Equal(t, int64(202), s.EscrowOutflow())
}

func TestDefaultSettlement(t *testing.T) {
	s, err := DefaultPolicy().DefaultSettlement(100)
	require.NoError(t, err)
	require.Equal(t, Settlement{InitiatorRefund: 100, Incentive: 10}, s)
	require.Equal(t, int64(100), s.EscrowOutflow())
}

func TestReturnSubsidy(t *testing.T) {
	p := DefaultPolicy()

	s, err := p.AcceptedSettlement(10, 10).ReturnSubsidy(10, 10)
	require.NoError(t, err)
	require.Equal(t, Settlement{InitiatorRefund: 10, SubsidyReturn: 10}, s, "fully subsidised stake refunds nothing to the counterparty")

	s, err = p.AcceptedSettlement(1_000, 1_000).ReturnSubsidy(150, 1_000)
	require.NoError(t, err)
	require.Equal(t, int64(850), s.CounterpartyRefund)
	require.Equal(t, int64(150), s.SubsidyReturn)
	require.Equal(t, int64(2_000), s.EscrowOutflow())

	timeout, err := p.TimeoutSettlement(101, 101)
	require.NoError(t, err)
	s, err = timeout.ReturnSubsidy(33, 101)
	require.NoError(t, err)
	require.Equal(t, int64(33), s.CounterpartyRefund, "own share of 50 is 50*68/101 rounded down")
	require.Equal(t, int64(17), s.SubsidyReturn)
	require.Equal(t, int64(202), s.EscrowOutflow())

	s, err = timeout.ReturnSubsidy(0, 101)
	require.NoError(t, err)
	require.Equal(t, timeout, s)

	_, err = timeout.ReturnSubsidy(102, 101)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	bad := DefaultPolicy()
	bad.BurnPercentage = 101
	require.ErrorIs(t, bad.Validate(), ErrInvalidPolicy)

	bad = DefaultPolicy()
	bad.CounterFeeBase = 0
	require.ErrorIs(t, bad.Validate(), ErrInvalidPolicy)

	bad = DefaultPolicy()
	bad.EscalationMultiplier = 90
	require.ErrorIs(t, bad.Validate(), ErrInvalidPolicy)
}
