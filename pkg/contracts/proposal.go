package contracts

import (
	"github.com/accordlabs/accord/pkg/canonicalize"
)

// ProposalAction defines the mutation a proposal requests.
type ProposalAction string

// Proposal action constants.
const (
	ActionAdd    ProposalAction = "ADD"
	ActionFuse   ProposalAction = "FUSE"
	ActionDelete ProposalAction = "DELETE"
)

// ProposalStatus defines the lifecycle of a proposal.
// PENDING is the only non-terminal state; every transition out of it is final.
type ProposalStatus string

// Proposal status constants.
const (
	StatusPending  ProposalStatus = "PENDING"
	StatusAdopted  ProposalStatus = "ADOPTED"
	StatusRejected ProposalStatus = "REJECTED"
	StatusExpired  ProposalStatus = "EXPIRED"
)

// Terminal reports whether the status permits no further transitions.
func (s ProposalStatus) Terminal() bool {
	return s == StatusAdopted || s == StatusRejected || s == StatusExpired
}

// Proposal is a candidate mutation of the shared tenet set awaiting votes.
// Proposals are never deleted; terminal ones are retained for audit and replay.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Proposal struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	ProposerID string         `json:"proposer_id"`
	Action     ProposalAction `json:"action"`

	// TargetIDs names the tenets a FUSE or DELETE acts on. Empty for ADD.
	TargetIDs []string `json:"target_ids,omitempty"`

	Status ProposalStatus `json:"status"`

	// Votes maps voter agent ID to its cast vote. The proposer never
	// appears here; entries are immutable once recorded.
	Votes map[string]bool `json:"votes"`

	CreatedRound int `json:"created_round"`
}

// ProposalID derives the deterministic identifier for a proposal from its
// identifying triple. Identical (text, proposer, round) triples collide to
// the same ID by design, so resubmissions of the same content are idempotent.
func ProposalID(text, proposerID string, createdRound int) string {
	hash, err := canonicalize.CanonicalHash(struct {
		Text         string `json:"text"`
		ProposerID   string `json:"proposer_id"`
		CreatedRound int    `json:"created_round"`
	}{text, proposerID, createdRound})
	if err != nil {
		// Only unmarshalable values can fail here; the triple is plain data.
		panic("contracts: proposal id derivation: " + err.Error())
	}
	return "prop-" + hash[:16]
}

// NewProposal constructs a PENDING proposal with its derived ID.
func NewProposal(text, proposerID string, action ProposalAction, targets []string, createdRound int) *Proposal {
	return &Proposal{
		ID:           ProposalID(text, proposerID, createdRound),
		Text:         text,
		ProposerID:   proposerID,
		Action:       action,
		TargetIDs:    targets,
		Status:       StatusPending,
		Votes:        make(map[string]bool),
		CreatedRound: createdRound,
	}
}

// YesNo tallies the recorded votes.
func (p *Proposal) YesNo() (yes, no int) {
	for _, v := range p.Votes {
		if v {
			yes++
		} else {
			no++
		}
	}
	return yes, no
}
