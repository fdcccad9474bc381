package escrow

import "math"

// Settlement is the terminal distribution of a dispute's escrow.
type Settlement struct {
	InitiatorRefund    int64 `json:"initiator_refund"`
	CounterpartyRefund int64 `json:"counterparty_refund"`
	Burn               int64 `json:"burn"`
	// Dust is the indivisible remainder of an odd split. It is burned with
	// Burn rather than favouring either party.
	Dust int64 `json:"dust"`
	// Incentive is paid from the treasury, not from escrow.
	Incentive int64 `json:"incentive"`
	// SubsidyReturn is the subsidised share of the counterparty refund. It
	// goes back to the treasury instead of the counterparty.
	SubsidyReturn int64 `json:"subsidy_return"`
	// SubsidyReclaimed is an earmark that was granted but never staked. It
	// moves from the earmark to the treasury, not through escrow.
	SubsidyReclaimed int64 `json:"subsidy_reclaimed"`
}

// EscrowOutflow is everything the settlement takes out of escrow.
func (s Settlement) EscrowOutflow() int64 {
	return s.InitiatorRefund + s.CounterpartyRefund + s.SubsidyReturn + s.Burn + s.Dust
}

// ReturnSubsidy moves the subsidised share of the counterparty refund to
// SubsidyReturn. subsidy of counterpartyStake came from the treasury, so the
// same fraction of whatever is refunded goes back there. The counterparty's
// own share rounds down so no treasury value reaches it.
func (s Settlement) ReturnSubsidy(subsidy, counterpartyStake int64) (Settlement, error) {
	if subsidy < 0 || subsidy > counterpartyStake {
		return Settlement{}, ErrOverflow
	}
	if subsidy == 0 || s.CounterpartyRefund == 0 {
		return s, nil
	}
	own, err := mulDiv(s.CounterpartyRefund, counterpartyStake-subsidy, counterpartyStake)
	if err != nil {
		return Settlement{}, err
	}
	s.SubsidyReturn += s.CounterpartyRefund - own
	s.CounterpartyRefund = own
	return s, nil
}

// Burned is the total sent to the burn sink.
func (s Settlement) Burned() int64 {
	return s.Burn + s.Dust
}

// AcceptedSettlement refunds both stakes in full.
func (p Policy) AcceptedSettlement(initiatorStake, counterpartyStake int64) Settlement {
	return Settlement{
		InitiatorRefund:    initiatorStake,
		CounterpartyRefund: counterpartyStake,
	}
}

// TimeoutSettlement burns BurnPercentage of both stakes and splits the rest
// evenly.
func (p Policy) TimeoutSettlement(initiatorStake, counterpartyStake int64) (Settlement, error) {
	if initiatorStake < 0 || counterpartyStake < 0 || initiatorStake > math.MaxInt64-counterpartyStake {
		return Settlement{}, ErrOverflow
	}
	total := initiatorStake + counterpartyStake
	burn, err := mulDiv(total, p.BurnPercentage, 100)
	if err != nil {
		return Settlement{}, err
	}
	remainder := total - burn
	half := remainder / 2
	return Settlement{
		InitiatorRefund:    half,
		CounterpartyRefund: half,
		Burn:               burn,
		Dust:               remainder - 2*half,
	}, nil
}

// DefaultSettlement returns the initiator's stake when the counterparty
// never matched it, plus IncentiveBps of the stake from the treasury.
func (p Policy) DefaultSettlement(initiatorStake int64) (Settlement, error) {
	if initiatorStake < 0 {
		return Settlement{}, ErrOverflow
	}
	incentive, err := mulDiv(initiatorStake, p.IncentiveBps, bpsDenominator)
	if err != nil {
		return Settlement{}, err
	}
	return Settlement{
		InitiatorRefund: initiatorStake,
		Incentive:       incentive,
	}, nil
}
