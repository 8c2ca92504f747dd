// Package strategy provides the built-in agent reasoning implementations:
// a deterministic keyword heuristic and a CEL rule evaluator.
package strategy

import (
	"context"
	"strings"

	"github.com/accordlabs/accord/pkg/agent"
	"github.com/accordlabs/accord/pkg/contracts"
)

// Heuristic is a deterministic rule-of-thumb strategy. It votes against
// proposals containing any configured objection keyword, against FUSE and
// DELETE proposals whose targets are not all currently adopted, and for
// everything else. Proposals come from a rotating statement list.
type Heuristic struct {
	objections []string
	statements []string
	cursor     int
}

// NewHeuristic builds a heuristic strategy. Nil slices select stock
// objections and statements.
func NewHeuristic(objections, statements []string) *Heuristic {
	if objections == nil {
		objections = []string{"always", "never", "must obey", "unconditional"}
	}
	if statements == nil {
		// Kept short so the drift filter's length floor applies; longer
		// statements must share vocabulary with the genesis text.
		statements = []string{
			"tenet: verify",
			"tenet: candor",
			"tenet: records",
			"tenet: brevity",
		}
	}
	return &Heuristic{objections: objections, statements: statements}
}

// Evaluate applies the keyword and target rules.
func (h *Heuristic) Evaluate(_ context.Context, _ string, p *contracts.Proposal, rc agent.RoundContext) (bool, string) {
	lower := strings.ToLower(p.Text)
	for _, word := range h.objections {
		if strings.Contains(lower, word) {
			return false, "objection: " + word
		}
	}
	if p.Action != contracts.ActionAdd {
		adopted := make(map[string]bool, len(rc.Tenets))
		for _, t := range rc.Tenets {
			adopted[t.ID] = true
		}
		for _, id := range p.TargetIDs {
			if !adopted[id] {
				return false, "unknown target " + id
			}
		}
	}
	return true, "no objection"
}

// Generate emits the next unadopted statement from the rotation, or skips
// the round once the list is exhausted.
func (h *Heuristic) Generate(_ context.Context, _ string, _ int, rc agent.RoundContext) (string, bool) {
	adopted := make(map[string]bool, len(rc.Tenets))
	for _, t := range rc.Tenets {
		adopted[t.Text] = true
	}
	pending := make(map[string]bool, len(rc.Pending))
	for _, p := range rc.Pending {
		pending[p.Text] = true
	}

	for h.cursor < len(h.statements) {
		text := h.statements[h.cursor]
		h.cursor++
		if !adopted[text] && !pending[text] {
			return text, true
		}
	}
	return "", false
}
