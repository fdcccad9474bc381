package dispute

import "stakecourt/fault"

var (
	ErrZeroStake         = fault.New(fault.Validation, "dispute: stake must be positive")
	ErrMissingParty      = fault.New(fault.Validation, "dispute: initiator and counterparty required")
	ErrSelfDispute       = fault.New(fault.Validation, "dispute: cannot dispute with oneself")
	ErrMissingEvidence   = fault.New(fault.Validation, "dispute: evidence reference required")
	ErrInvalidTerms      = fault.New(fault.Validation, "dispute: invalid fallback terms")
	ErrAlreadyStaked     = fault.New(fault.Validation, "dispute: counterparty already staked")
	ErrNotActive         = fault.New(fault.Validation, "dispute: counterparty has not staked")
	ErrEmptyProposal     = fault.New(fault.Validation, "dispute: proposal is empty")
	ErrNoProposal        = fault.New(fault.Validation, "dispute: no proposal to accept")
	ErrAlreadyAccepted   = fault.New(fault.Validation, "dispute: proposal already accepted by caller")
	ErrResolved          = fault.New(fault.Validation, "dispute: already resolved")
	ErrCounterLimit      = fault.New(fault.Validation, "dispute: counter-proposal limit reached")
	ErrNotCounterparty   = fault.New(fault.Authorization, "dispute: caller is not the counterparty")
	ErrNotParty          = fault.New(fault.Authorization, "dispute: caller is not a party")
	ErrBadCredential     = fault.New(fault.Authorization, "dispute: proposer credential rejected")
	ErrStakeWindowClosed = fault.New(fault.Validation, "dispute: stake window closed")
	ErrDeadlinePassed    = fault.New(fault.Validation, "dispute: resolution deadline passed")
	ErrNotDue            = fault.New(fault.Timing, "dispute: timeout not yet due")
	ErrNotFound          = fault.New(fault.NotFound, "dispute: not found")
)
