// Package store implements the capability-gated shared tenet store with
// pre-mutation archiving, backed by either a local durable file or a remote
// Redis deployment. Only the consensus engine, holding the grant minted at
// store construction, may mutate it.
package store

import (
	"context"
	"sort"

	"github.com/accordlabs/accord/pkg/audit"
	"github.com/accordlabs/accord/pkg/contracts"
	"github.com/accordlabs/accord/pkg/integrity"
)

// Store is the shared tenet store contract. Both backends satisfy the same
// conformance suite.
//
// Mutating calls require the grant minted when the store was constructed;
// any other value panics, because a bad grant means something bypassed the
// single-writer path, which is not a recoverable condition.
type Store interface {
	// ReadTenets returns all tenets ordered by adoption time, then created
	// round, then ID.
	ReadTenets(ctx context.Context) ([]contracts.Tenet, error)

	// WriteTenet screens the tenet text through the content gate and
	// persists it. Gate-blocked content is silently dropped: no tenet, no
	// error, only a blocked audit entry.
	WriteTenet(ctx context.Context, tenet contracts.Tenet, grant *Grant) error

	// DeleteTenets removes the named tenets. Unknown IDs are ignored.
	DeleteTenets(ctx context.Context, ids []string, grant *Grant) error

	// Reset clears all tenets.
	Reset(ctx context.Context) error
}

// admitter is the shared write-side content screen. Admit returns the text
// to store (override MACs stripped) or ok=false for a silent drop.
type admitter struct {
	gate *integrity.Gate
	log  *audit.Log
}

func (a admitter) admit(ctx context.Context, text string) (string, bool) {
	if a.gate == nil {
		return text, true
	}
	return a.gate.Admit(ctx, "store", text)
}

func (a admitter) record(ctx context.Context, action string, detail map[string]any) error {
	if a.log == nil {
		return nil
	}
	_, err := a.log.Append(ctx, "store", action, detail)
	return err
}

// sortTenets orders tenets by (AdoptedAt, CreatedRound, ID) so both backends
// present the same ordering.
func sortTenets(tenets []contracts.Tenet) {
	sort.Slice(tenets, func(i, j int) bool {
		a, b := tenets[i], tenets[j]
		if !a.AdoptedAt.Equal(b.AdoptedAt) {
			return a.AdoptedAt.Before(b.AdoptedAt)
		}
		if a.CreatedRound != b.CreatedRound {
			return a.CreatedRound < b.CreatedRound
		}
		return a.ID < b.ID
	})
}
