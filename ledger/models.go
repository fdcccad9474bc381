package ledger

import (
	"strconv"
	"time"
)

// Denomination names the unit an account is held in. Accounts of different
// denominations never exchange value.
type Denomination string

// AccountKind separates custody roles inside one denomination.
type AccountKind string

const (
	KindParticipant AccountKind = "participant"
	KindEscrow      AccountKind = "escrow"
	KindTreasury    AccountKind = "treasury"
	// KindSubsidy holds treasury value earmarked for one dispute's
	// counterparty stake. Only the dispute can spend it.
	KindSubsidy AccountKind = "subsidy"
	// KindBurn accounts only receive. Value sent there is gone.
	KindBurn AccountKind = "burn"
	// KindExternal stands for the world outside custody. It is the only kind
	// allowed to go negative, so the sum of all balances in a denomination is
	// always zero.
	KindExternal AccountKind = "external"
)

// Account identifies one balance.
type Account struct {
	Kind  AccountKind
	Owner string
	Denom Denomination
}

// Key is the storage key of the account.
func (a Account) Key() string {
	return string(a.Kind) + ":" + a.Owner + ":" + string(a.Denom)
}

func (a Account) String() string { return a.Key() }

// Participant is the free balance of a dispute participant.
func Participant(id string, denom Denomination) Account {
	return Account{Kind: KindParticipant, Owner: id, Denom: denom}
}

// Escrow holds the stakes locked in one dispute.
func Escrow(disputeID int64, denom Denomination) Account {
	return Account{Kind: KindEscrow, Owner: strconv.FormatInt(disputeID, 10), Denom: denom}
}

// Treasury is the subsidy pool.
func Treasury(denom Denomination) Account {
	return Account{Kind: KindTreasury, Owner: "pool", Denom: denom}
}

// Subsidy is the earmark a treasury grant pays into for one dispute. It is
// never a participant's free balance.
func Subsidy(disputeID int64, denom Denomination) Account {
	return Account{Kind: KindSubsidy, Owner: strconv.FormatInt(disputeID, 10), Denom: denom}
}

// Burn is the non-recoverable sink.
func Burn(denom Denomination) Account {
	return Account{Kind: KindBurn, Owner: "sink", Denom: denom}
}

// External is the counter-account for funding and withdrawals.
func External(denom Denomination) Account {
	return Account{Kind: KindExternal, Owner: "world", Denom: denom}
}

// Reason tags why value moved.
type Reason string

const (
	ReasonStake           Reason = "stake"
	ReasonRefund          Reason = "refund"
	ReasonBurn            Reason = "burn"
	ReasonIncentive       Reason = "incentive"
	ReasonCounterFee      Reason = "counter_fee"
	ReasonFeeSweep        Reason = "fee_sweep"
	ReasonSubsidy         Reason = "subsidy"
	ReasonSubsidyReturn   Reason = "subsidy_return"
	ReasonTreasuryDeposit Reason = "treasury_deposit"
	ReasonFunding         Reason = "funding"
	ReasonWithdrawal      Reason = "withdrawal"
)

// Transfer describes one movement between two accounts of the same
// denomination. DisputeID is zero for movements unrelated to a dispute.
type Transfer struct {
	From      Account
	To        Account
	Amount    int64
	Reason    Reason
	DisputeID int64
}

// Entry is the append-only record of a committed Transfer.
type Entry struct {
	ID        string
	From      string
	To        string
	Denom     Denomination
	Amount    int64
	Reason    Reason
	DisputeID int64
	CreatedAt time.Time
}
