// Package consensus implements the proposal lifecycle state machine: submit,
// vote, and the end-of-round tally that adopts, rejects, or expires proposals
// and dispatches their effects to the shared store. The engine is the single
// writer: it owns the store grant, and every tenet ever created or removed
// passes through it.
package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/accordlabs/accord/pkg/audit"
	"github.com/accordlabs/accord/pkg/canonicalize"
	"github.com/accordlabs/accord/pkg/contracts"
	"github.com/accordlabs/accord/pkg/integrity"
	"github.com/accordlabs/accord/pkg/store"
)

// Config fixes the protocol parameters for a run.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Config struct {
	// AgentCount is the total population; quorum on a proposal is every
	// agent except the proposer.
	AgentCount int

	// Threshold is the minimum yes-ratio required to adopt. Ratios equal to
	// the threshold adopt, so ties favor adoption at the default 0.5.
	Threshold float64

	// ExpiryRounds ages out proposals that never reach quorum.
	ExpiryRounds int

	// MaxPending caps concurrently PENDING proposals.
	MaxPending int
}

// DefaultConfig returns the stock protocol parameters for n agents.
func DefaultConfig(n int) Config {
	return Config{
		AgentCount:   n,
		Threshold:    0.5,
		ExpiryRounds: 3,
		MaxPending:   10,
	}
}

// Engine drives the consensus protocol. All methods are safe for concurrent
// use, though the round orchestrator serializes agents anyway; the lock
// exists for remote-backend deployments with outside writers.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	proposals map[string]*contracts.Proposal
	order     []string // insertion order, for deterministic tally iteration
	store     store.Store
	grant     *store.Grant
	gate      *integrity.Gate
	log       *audit.Log
	clock     func() time.Time
}

// NewEngine creates an engine over the given store. The grant must be the
// one minted by that store; the engine is its sole holder.
func NewEngine(cfg Config, st store.Store, grant *store.Grant, gate *integrity.Gate, log *audit.Log) *Engine {
	return &Engine{
		cfg:       cfg,
		proposals: make(map[string]*contracts.Proposal),
		store:     st,
		grant:     grant,
		gate:      gate,
		log:       log,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock injects a deterministic clock for replay and tests.
func (e *Engine) SetClock(clock func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

// Submit registers a proposal. It returns false when the content fails the
// integrity gate or the pending cap is reached; resubmitting an identical
// (text, proposer, round) triple is a no-op returning false because the
// derived ID already exists.
func (e *Engine) Submit(ctx context.Context, p *contracts.Proposal) bool {
	clean, ok := e.gate.Admit(ctx, p.ProposerID, p.Text)
	if !ok {
		return false
	}
	p.Text = clean

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.proposals[p.ID]; exists {
		return false
	}
	if e.pendingCountLocked() >= e.cfg.MaxPending {
		return false
	}

	if p.Votes == nil {
		p.Votes = make(map[string]bool)
	}
	p.Status = contracts.StatusPending
	e.proposals[p.ID] = p
	e.order = append(e.order, p.ID)

	_, _ = e.log.Append(ctx, p.ProposerID, "PROPOSAL_SUBMITTED", map[string]any{
		"proposal_id":  p.ID,
		"action":       string(p.Action),
		"content_hash": canonicalize.HashBytes([]byte(p.Text)),
		"round":        p.CreatedRound,
	})
	return true
}

// CastVote records agentID's vote on a proposal. It returns false when the
// proposal is absent or no longer PENDING, when the agent is the proposer,
// or when the agent already voted; a recorded vote is immutable.
func (e *Engine) CastVote(ctx context.Context, agentID, proposalID string, vote bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok || p.Status != contracts.StatusPending {
		return false
	}
	if agentID == p.ProposerID {
		return false
	}
	if _, voted := p.Votes[agentID]; voted {
		return false
	}

	p.Votes[agentID] = vote
	_, _ = e.log.Append(ctx, agentID, "VOTE_CAST", map[string]any{
		"proposal_id": proposalID,
		"vote":        vote,
	})
	return true
}

// EndOfRound tallies every PENDING proposal and returns the tenets newly
// adopted this round.
//
// Order of checks per proposal: age out past ExpiryRounds first; then leave
// under-quorum proposals PENDING (waiting for votes is normal flow, not a
// timeout; a zero-vote proposal simply waits until it expires); then adopt
// when yes/(yes+no) >= threshold, else reject. Store failures abort the
// tally and surface to the caller.
func (e *Engine) EndOfRound(ctx context.Context, round int) ([]contracts.Tenet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var adopted []contracts.Tenet
	for _, id := range e.order {
		p := e.proposals[id]
		if p.Status != contracts.StatusPending {
			continue
		}

		if round-p.CreatedRound >= e.cfg.ExpiryRounds {
			p.Status = contracts.StatusExpired
			_, _ = e.log.Append(ctx, "engine", "PROPOSAL_EXPIRED", map[string]any{
				"proposal_id": p.ID,
				"round":       round,
			})
			continue
		}

		if len(p.Votes) < e.cfg.AgentCount-1 {
			continue // quorum not yet reached
		}

		yes, no := p.YesNo()
		ratio := float64(yes) / float64(yes+no)
		if ratio >= e.cfg.Threshold {
			tenet, created, err := e.applyLocked(ctx, p, round, yes, no)
			if err != nil {
				return adopted, err
			}
			p.Status = contracts.StatusAdopted
			detail := map[string]any{
				"proposal_id":   p.ID,
				"votes_for":     yes,
				"votes_against": no,
			}
			if created {
				adopted = append(adopted, tenet)
				detail["tenet_id"] = tenet.ID
			}
			_, _ = e.log.Append(ctx, "engine", "PROPOSAL_ADOPTED", detail)
		} else {
			p.Status = contracts.StatusRejected
			_, _ = e.log.Append(ctx, "engine", "PROPOSAL_REJECTED", map[string]any{
				"proposal_id":   p.ID,
				"votes_for":     yes,
				"votes_against": no,
			})
		}
	}
	return adopted, nil
}

// applyLocked dispatches an adopted proposal's effect to the store. The
// created flag is false for DELETE, which produces no tenet.
func (e *Engine) applyLocked(ctx context.Context, p *contracts.Proposal, round, yes, no int) (contracts.Tenet, bool, error) {
	tenet := contracts.Tenet{
		ID:           tenetID(p.ID, round),
		Text:         p.Text,
		ProposerID:   p.ProposerID,
		AdoptedAt:    e.clock(),
		CreatedRound: p.CreatedRound,
		VotesFor:     yes,
		VotesAgainst: no,
	}

	switch p.Action {
	case contracts.ActionAdd:
		if err := e.store.WriteTenet(ctx, tenet, e.grant); err != nil {
			return contracts.Tenet{}, false, fmt.Errorf("consensus: apply ADD: %w", err)
		}
	case contracts.ActionFuse:
		if err := e.store.DeleteTenets(ctx, p.TargetIDs, e.grant); err != nil {
			return contracts.Tenet{}, false, fmt.Errorf("consensus: apply FUSE delete: %w", err)
		}
		tenet.Supersedes = p.TargetIDs
		if err := e.store.WriteTenet(ctx, tenet, e.grant); err != nil {
			return contracts.Tenet{}, false, fmt.Errorf("consensus: apply FUSE write: %w", err)
		}
	case contracts.ActionDelete:
		if err := e.store.DeleteTenets(ctx, p.TargetIDs, e.grant); err != nil {
			return contracts.Tenet{}, false, fmt.Errorf("consensus: apply DELETE: %w", err)
		}
		return contracts.Tenet{}, false, nil
	default:
		return contracts.Tenet{}, false, fmt.Errorf("consensus: unknown action %q", p.Action)
	}
	return tenet, true, nil
}

// Pending returns the PENDING proposals in submission order.
func (e *Engine) Pending() []*contracts.Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*contracts.Proposal
	for _, id := range e.order {
		if p := e.proposals[id]; p.Status == contracts.StatusPending {
			out = append(out, p)
		}
	}
	return out
}

// Get returns a proposal by ID, pending or terminal.
func (e *Engine) Get(proposalID string) (*contracts.Proposal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[proposalID]
	return p, ok
}

func (e *Engine) pendingCountLocked() int {
	n := 0
	for _, p := range e.proposals {
		if p.Status == contracts.StatusPending {
			n++
		}
	}
	return n
}

// tenetID derives a deterministic tenet identifier from the adopted
// proposal and round, so replays produce identical stores.
func tenetID(proposalID string, round int) string {
	hash, err := canonicalize.CanonicalHash(struct {
		ProposalID string `json:"proposal_id"`
		Round      int    `json:"round"`
	}{proposalID, round})
	if err != nil {
		panic("consensus: tenet id derivation: " + err.Error())
	}
	return "tenet-" + hash[:16]
}
