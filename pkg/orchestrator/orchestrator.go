// Package orchestrator drives the round loop: directive intake, randomized
// but reproducible agent scheduling, end-of-round tallying, and the final
// run report.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/accordlabs/accord/pkg/agent"
	"github.com/accordlabs/accord/pkg/audit"
	"github.com/accordlabs/accord/pkg/consensus"
	"github.com/accordlabs/accord/pkg/contracts"
	"github.com/accordlabs/accord/pkg/integrity"
	"github.com/accordlabs/accord/pkg/observability"
	"github.com/accordlabs/accord/pkg/store"
)

// RoundSummary is the per-round slice of the final report.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type RoundSummary struct {
	Round        int      `json:"round"`
	AgentOrder   []string `json:"agent_order"`
	Directive    bool     `json:"directive"`
	Adopted      []string `json:"adopted,omitempty"`
	PendingAfter int      `json:"pending_after"`
	TenetCount   int      `json:"tenet_count"`
}

// Report summarizes a completed run.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Report struct {
	Rounds      []RoundSummary    `json:"rounds"`
	Tenets      []contracts.Tenet `json:"tenets"`
	AuditSize   int               `json:"audit_size"`
	ChainIntact bool              `json:"chain_intact"`
}

// Orchestrator owns the shared infrastructure for one run. Agents execute
// sequentially within a round; only the schedule order varies, seeded by the
// round number so runs are reproducible.
type Orchestrator struct {
	agents    []*agent.Agent
	engine    *consensus.Engine
	store     store.Store
	directive *integrity.DirectiveChannel
	log       *audit.Log
	obs       *observability.Provider
	logger    *slog.Logger
}

// New assembles an orchestrator. directive and obs may be nil.
func New(agents []*agent.Agent, engine *consensus.Engine, st store.Store, directive *integrity.DirectiveChannel, log *audit.Log, obs *observability.Provider) *Orchestrator {
	return &Orchestrator{
		agents:    agents,
		engine:    engine,
		store:     st,
		directive: directive,
		log:       log,
		obs:       obs,
		logger:    slog.Default().With("component", "orchestrator"),
	}
}

// Run executes the given number of rounds, numbered from 1. Storage failures
// abort the run; everything else (blocked content, rejected proposals,
// invalid directives) is normal flow and shows up in the audit log instead.
func (o *Orchestrator) Run(ctx context.Context, rounds int) (*Report, error) {
	report := &Report{Rounds: make([]RoundSummary, 0, rounds)}

	for round := 1; round <= rounds; round++ {
		summary, err := o.runRound(ctx, round)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
		report.Rounds = append(report.Rounds, summary)
	}

	tenets, err := o.store.ReadTenets(ctx)
	if err != nil {
		return nil, fmt.Errorf("final read: %w", err)
	}
	report.Tenets = tenets
	report.AuditSize = o.log.Size()
	report.ChainIntact = o.log.VerifyChain() == nil
	return report, nil
}

func (o *Orchestrator) runRound(ctx context.Context, round int) (RoundSummary, error) {
	start := time.Now()

	var span trace.Span
	if o.obs != nil {
		ctx, span = o.obs.Tracer().Start(ctx, "consensus.round",
			trace.WithAttributes(attribute.Int("round", round)))
		defer span.End()
	}

	// One directive intake per round; the payload reaches every agent in
	// this round and is gone afterwards.
	directive := ""
	if o.directive != nil {
		payload, ok, err := o.directive.Consume(ctx)
		if err != nil {
			o.logger.WarnContext(ctx, "directive intake failed", "error", err)
		} else if ok {
			directive = payload
		}
	}

	order := o.schedule(round)
	pendingBefore := len(o.engine.Pending())

	for _, a := range order {
		if err := a.RunRound(ctx, round, directive); err != nil {
			return RoundSummary{}, err
		}
	}

	adopted, err := o.engine.EndOfRound(ctx, round)
	if err != nil {
		return RoundSummary{}, fmt.Errorf("tally: %w", err)
	}

	tenets, err := o.store.ReadTenets(ctx)
	if err != nil {
		return RoundSummary{}, fmt.Errorf("read tenets: %w", err)
	}

	summary := RoundSummary{
		Round:        round,
		AgentOrder:   make([]string, len(order)),
		Directive:    directive != "",
		PendingAfter: len(o.engine.Pending()),
		TenetCount:   len(tenets),
	}
	for i, a := range order {
		summary.AgentOrder[i] = a.ID()
	}
	for _, t := range adopted {
		summary.Adopted = append(summary.Adopted, t.ID)
	}

	if o.obs != nil {
		submitted := summary.PendingAfter + len(adopted) - pendingBefore
		if submitted < 0 {
			submitted = 0
		}
		o.obs.RecordRound(ctx, submitted, len(adopted), 0, time.Since(start))
	}

	o.logger.InfoContext(ctx, "round complete",
		"round", round,
		"adopted", len(adopted),
		"pending", summary.PendingAfter,
		"tenets", summary.TenetCount,
	)
	return summary, nil
}

// schedule returns the agents in a shuffled order seeded by the round
// number, so two runs with the same configuration visit agents identically.
func (o *Orchestrator) schedule(round int) []*agent.Agent {
	order := make([]*agent.Agent, len(o.agents))
	copy(order, o.agents)
	rng := rand.New(rand.NewSource(int64(round)))
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}
