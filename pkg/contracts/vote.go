package contracts

// VoteRecord is a per-agent historical log entry kept for that agent's own
// future reasoning. Agents cap their history to a bounded recent window.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type VoteRecord struct {
	ProposalID string         `json:"proposal_id"`
	Action     ProposalAction `json:"action"`
	Vote       bool           `json:"vote"`
	Outcome    ProposalStatus `json:"outcome"`
	Round      int            `json:"round"`
}
