package contracts

import "time"

// Tenet is an adopted, immutable shared statement. Tenets are created and
// removed only by the consensus engine holding the store grant; nothing else
// may touch them.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Tenet struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	ProposerID   string    `json:"proposer_id"`
	AdoptedAt    time.Time `json:"adopted_at"`
	CreatedRound int       `json:"created_round"`
	VotesFor     int       `json:"votes_for"`
	VotesAgainst int       `json:"votes_against"`

	// Supersedes lists the tenet IDs this tenet replaced via a FUSE action.
	Supersedes []string `json:"supersedes,omitempty"`
}
