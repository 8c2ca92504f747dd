// Package agent implements the per-round agent decision loop: perceive,
// reason and vote, propose, reflect. The concrete reasoning lives behind the
// Strategy interface; the loop only sequences phases and enforces budgets.
package agent

import (
	"context"
	"fmt"

	"github.com/accordlabs/accord/pkg/bus"
	"github.com/accordlabs/accord/pkg/consensus"
	"github.com/accordlabs/accord/pkg/contracts"
	"github.com/accordlabs/accord/pkg/intent"
	"github.com/accordlabs/accord/pkg/store"
)

// RoundContext is the read-only view a strategy reasons over. Tenets are
// re-fetched from the store every round; nothing keeps stale copies.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type RoundContext struct {
	Round     int
	Tenets    []contracts.Tenet
	Pending   []*contracts.Proposal
	Memory    []string
	History   []contracts.VoteRecord
	Directive string // non-empty when the operator issued one this round
}

// Strategy is the pluggable decision interface. Implementations are outside
// the core; the loop never inspects how a vote or text was produced.
type Strategy interface {
	// Evaluate decides a vote on a proposal, optionally with a rationale.
	Evaluate(ctx context.Context, agentID string, proposal *contracts.Proposal, rc RoundContext) (vote bool, rationale string)

	// Generate produces proposal text for this round, or ok=false to skip.
	Generate(ctx context.Context, agentID string, round int, rc RoundContext) (text string, ok bool)
}

// Budgets caps per-round agent activity.
type Budgets struct {
	VotesPerRound     int
	ProposalsPerRound int
}

// DefaultBudgets returns the stock per-round caps.
func DefaultBudgets() Budgets {
	return Budgets{VotesPerRound: 5, ProposalsPerRound: 1}
}

// Agent is one autonomous participant. Agents hold only private state;
// everything shared flows through the bus, engine, and store.
type Agent struct {
	id       string
	strategy Strategy
	budgets  Budgets

	engine *consensus.Engine
	bus    *bus.Bus
	store  store.Store

	memory     []string
	history    []contracts.VoteRecord
	memoryCap  int
	historyCap int
}

// New creates an agent wired to its collaborators and subscribes it to the bus.
func New(id string, strategy Strategy, budgets Budgets, engine *consensus.Engine, b *bus.Bus, st store.Store) *Agent {
	a := &Agent{
		id:         id,
		strategy:   strategy,
		budgets:    budgets,
		engine:     engine,
		bus:        b,
		store:      st,
		memoryCap:  50,
		historyCap: 50,
	}
	b.Subscribe(id)
	return a
}

// ID returns the agent's identifier.
func (a *Agent) ID() string { return a.id }

// Memory returns the agent's private memory window.
func (a *Agent) Memory() []string { return a.memory }

// History returns the agent's bounded vote history.
func (a *Agent) History() []contracts.VoteRecord { return a.history }

// RunRound executes the four phases in order. Only storage failures surface
// as errors; blocked or rejected content is normal flow.
func (a *Agent) RunRound(ctx context.Context, round int, directive string) error {
	a.perceive(directive)

	tenets, err := a.store.ReadTenets(ctx)
	if err != nil {
		return fmt.Errorf("agent %s: read tenets: %w", a.id, err)
	}
	rc := RoundContext{
		Round:     round,
		Tenets:    tenets,
		Pending:   a.engine.Pending(),
		Memory:    a.memory,
		History:   a.history,
		Directive: directive,
	}

	votes := a.reasonAndVote(ctx, rc)
	proposals := a.propose(ctx, rc)
	a.reflect(round, votes, proposals, len(tenets))
	return nil
}

// perceive drains the mailbox, applies REWARD messages to private memory,
// backfills settled outcomes into the vote history, and ingests a pending
// operator directive.
func (a *Agent) perceive(directive string) {
	for _, msg := range a.bus.Receive(a.id) {
		if msg.Type == contracts.MessageReward {
			a.remember(fmt.Sprintf("reward from %s: %v", msg.SenderID, msg.Payload["value"]))
		}
	}
	a.reconcileHistory()
	if directive != "" {
		a.remember("directive: " + directive)
	}
}

// reconcileHistory copies terminal statuses onto history entries recorded
// while their proposals were still pending. Entries whose proposal has been
// evicted from the engine keep their last known outcome.
func (a *Agent) reconcileHistory() {
	for i := range a.history {
		if a.history[i].Outcome != contracts.StatusPending {
			continue
		}
		if p, ok := a.engine.Get(a.history[i].ProposalID); ok && p.Status.Terminal() {
			a.history[i].Outcome = p.Status
		}
	}
}

// reasonAndVote evaluates each eligible PENDING proposal up to the vote
// budget and returns the number of votes cast.
func (a *Agent) reasonAndVote(ctx context.Context, rc RoundContext) int {
	votes := 0
	for _, p := range rc.Pending {
		if votes >= a.budgets.VotesPerRound {
			break
		}
		if p.ProposerID == a.id {
			continue
		}
		if _, voted := p.Votes[a.id]; voted {
			continue
		}

		vote, rationale := a.strategy.Evaluate(ctx, a.id, p, rc)
		if !a.engine.CastVote(ctx, a.id, p.ID, vote) {
			continue
		}
		votes++
		a.history = append(a.history, contracts.VoteRecord{
			ProposalID: p.ID,
			Action:     p.Action,
			Vote:       vote,
			Outcome:    contracts.StatusPending,
			Round:      rc.Round,
		})
		if len(a.history) > a.historyCap {
			a.history = a.history[len(a.history)-a.historyCap:]
		}

		a.bus.Broadcast(ctx, contracts.Message{
			SenderID: a.id,
			Type:     contracts.MessageVote,
			Payload: map[string]any{
				"proposal_id": p.ID,
				"vote":        vote,
				"rationale":   rationale,
			},
		})
	}
	return votes
}

// propose runs the strategy's generator under the proposal budget, parses
// the embedded grammar, and submits through the gate and engine.
func (a *Agent) propose(ctx context.Context, rc RoundContext) int {
	proposals := 0
	for proposals < a.budgets.ProposalsPerRound {
		text, ok := a.strategy.Generate(ctx, a.id, rc.Round, rc)
		if !ok {
			break
		}

		parsed := intent.Parse(text)
		p := contracts.NewProposal(parsed.Text, a.id, parsed.Action, parsed.TargetIDs, rc.Round)
		if !a.engine.Submit(ctx, p) {
			break
		}
		proposals++

		a.bus.Broadcast(ctx, contracts.Message{
			SenderID: a.id,
			Type:     contracts.MessageProposal,
			Payload: map[string]any{
				"proposal_id": p.ID,
				"action":      string(p.Action),
				"text":        p.Text,
			},
		})
	}
	return proposals
}

// reflect appends a one-line structured summary to private memory.
func (a *Agent) reflect(round, votes, proposals, tenets int) {
	a.remember(fmt.Sprintf("round=%d votes_cast=%d proposals_made=%d tenets_known=%d",
		round, votes, proposals, tenets))
}

func (a *Agent) remember(line string) {
	a.memory = append(a.memory, line)
	if len(a.memory) > a.memoryCap {
		a.memory = a.memory[len(a.memory)-a.memoryCap:]
	}
}
