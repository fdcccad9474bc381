package dispute

import (
	"time"

	"stakecourt/escrow"
)

// Status is the lifecycle stage derived from a record's fields.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusActive    Status = "active"
	StatusResolved  Status = "resolved"
)

// Outcome records how a dispute ended.
type Outcome string

const (
	OutcomePending          Outcome = "pending"
	OutcomeAcceptedProposal Outcome = "accepted_proposal"
	OutcomeTimeoutWithBurn  Outcome = "timeout_with_burn"
	OutcomeDefaultLicense   Outcome = "default_license_applied"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePending, OutcomeAcceptedProposal, OutcomeTimeoutWithBurn, OutcomeDefaultLicense:
		return true
	default:
		return false
	}
}

// FallbackTerms describes the non-exclusive license applied when the parties
// do not agree. It is fixed at initiation.
type FallbackTerms struct {
	TermsRef      string        `json:"terms_ref"`
	Duration      time.Duration `json:"duration"`
	RoyaltyCapBps int64         `json:"royalty_cap_bps"`
}

// Dispute mirrors the disputes table.
type Dispute struct {
	ID                   int64
	Initiator            string
	Counterparty         string
	InitiatorStake       int64
	CounterpartyStake    int64
	// CounterpartySubsidy is the part of CounterpartyStake drawn from the
	// dispute's treasury earmark rather than the counterparty's own balance.
	CounterpartySubsidy  int64
	StartTime            time.Time
	Deadline             time.Time
	EvidenceRef          string
	CurrentProposal      []byte
	InitiatorAccepted    bool
	CounterpartyAccepted bool
	Resolved             bool
	Outcome              Outcome
	FallbackTerms        FallbackTerms
	CounterCount         int
	FeesBurned           int64
	FeesSwept            int64
	Settlement           *escrow.Settlement
	ResolvedAt           *time.Time
	UpdatedAt            time.Time
}

// Status derives the lifecycle stage.
func (d Dispute) Status() Status {
	switch {
	case d.Resolved:
		return StatusResolved
	case d.CounterpartyStake > 0:
		return StatusActive
	default:
		return StatusInitiated
	}
}

// IsParty reports whether id is the initiator or the counterparty.
func (d Dispute) IsParty(id string) bool {
	return id != "" && (id == d.Initiator || id == d.Counterparty)
}

// StakeWindowOpen reports whether the counterparty may still stake at now.
// It depends only on the stored start time, so repeated polls agree.
func (d Dispute) StakeWindowOpen(now time.Time, window time.Duration) bool {
	return now.Before(d.StartTime.Add(window))
}

// TimeoutDue reports whether the resolution deadline has passed at now.
// Acceptance is allowed strictly before the deadline and timeout enforcement
// from the deadline on, so the two never overlap.
func (d Dispute) TimeoutDue(now time.Time) bool {
	return !now.Before(d.Deadline)
}

// InitiateParams captures the inputs of Initiate.
type InitiateParams struct {
	Initiator     string
	Counterparty  string
	Stake         int64
	EvidenceRef   string
	FallbackTerms FallbackTerms
}

// CounterParams captures the inputs of CounterPropose.
type CounterParams struct {
	DisputeID   int64
	Caller      string
	EvidenceRef string
	FeePaid     int64
}

// AssetOutcome is handed to the asset registry when a dispute resolves.
type AssetOutcome struct {
	Outcome    Outcome   `json:"outcome"`
	Terms      []byte    `json:"terms,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Event topics emitted through the outbox.
const (
	TopicInitiated = "dispute.initiated"
	TopicStaked    = "dispute.staked"
	TopicProposed  = "dispute.proposed"
	TopicAccepted  = "dispute.accepted"
	TopicCountered = "dispute.countered"
	TopicResolved  = "dispute.resolved"
)
