package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/accordlabs/accord/pkg/agent"
	"github.com/accordlabs/accord/pkg/contracts"
)

// CEL is a strategy whose vote decision is a CEL expression over the
// proposal and round context. Evaluation is fail-closed: any compile or
// runtime error counts as a NO vote. Proposal generation delegates to an
// inner strategy, usually a Heuristic.
type CEL struct {
	env       *cel.Env
	rule      string
	generator agent.Strategy

	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewCEL compiles the environment for a vote rule. The rule sees:
//
//	proposal: map with text, action, proposer_id, created_round, target_count
//	round:    current round number
//	tenet_count: adopted tenets visible this round
//	agent_id: the evaluating agent
func NewCEL(rule string, generator agent.Strategy) (*CEL, error) {
	env, err := cel.NewEnv(
		cel.Variable("proposal", cel.DynType),
		cel.Variable("round", cel.IntType),
		cel.Variable("tenet_count", cel.IntType),
		cel.Variable("agent_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	return &CEL{
		env:       env,
		rule:      rule,
		generator: generator,
		prgCache:  make(map[string]cel.Program),
	}, nil
}

// Evaluate runs the vote rule against the proposal.
func (c *CEL) Evaluate(_ context.Context, agentID string, p *contracts.Proposal, rc agent.RoundContext) (bool, string) {
	input := map[string]any{
		"proposal": map[string]any{
			"text":          p.Text,
			"action":        string(p.Action),
			"proposer_id":   p.ProposerID,
			"created_round": p.CreatedRound,
			"target_count":  len(p.TargetIDs),
		},
		"round":       rc.Round,
		"tenet_count": len(rc.Tenets),
		"agent_id":    agentID,
	}

	allowed, err := c.evaluateExpr(c.rule, input)
	if err != nil {
		return false, fmt.Sprintf("rule error: %v", err)
	}
	if allowed {
		return true, "rule satisfied"
	}
	return false, "rule denied"
}

// Generate delegates to the inner strategy.
func (c *CEL) Generate(ctx context.Context, agentID string, round int, rc agent.RoundContext) (string, bool) {
	if c.generator == nil {
		return "", false
	}
	return c.generator.Generate(ctx, agentID, round, rc)
}

func (c *CEL) evaluateExpr(expr string, input map[string]any) (bool, error) {
	c.mu.RLock()
	prg, hit := c.prgCache[expr]
	c.mu.RUnlock()

	if !hit {
		c.mu.Lock()
		// Double check
		if prg, hit = c.prgCache[expr]; !hit {
			ast, issues := c.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				c.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := c.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				c.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			c.prgCache[expr] = p
			prg = p
		}
		c.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
