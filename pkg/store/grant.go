package store

import (
	"crypto/rand"
	"encoding/hex"
)

// Grant is the unforgeable capability required for mutating store calls.
// Exactly one grant is minted per store, at construction, and handed to the
// component that owns the single-writer path (the consensus engine). The
// token field is unexported and grants are compared by identity, so no other
// package can construct or forge one.
type Grant struct {
	token string
}

func mintGrant() *Grant {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("store: grant entropy unavailable: " + err.Error())
	}
	return &Grant{token: hex.EncodeToString(buf)}
}

// guard holds a store's minted grant and checks presented proofs.
type guard struct {
	grant *Grant
}

// authorize panics unless the presented grant is the one minted for this
// store. A failure here means a caller bypassed the consensus engine's
// single-writer path; that is a programming error, not a runtime condition,
// so it fails loudly rather than no-op-ing.
func (g guard) authorize(grant *Grant) {
	if grant == nil || grant != g.grant {
		panic("store: capability violation: mutating call without a valid grant")
	}
}
