package consensus

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordlabs/accord/pkg/audit"
	"github.com/accordlabs/accord/pkg/contracts"
	"github.com/accordlabs/accord/pkg/integrity"
	"github.com/accordlabs/accord/pkg/store"
)

const genesis = "We the agents hold these shared tenets: cooperation over conflict, " +
	"evidence over assertion, and consensus before action. Proposals are adopted " +
	"by majority vote and every adopted tenet binds all agents equally."

type fixture struct {
	engine *Engine
	store  store.Store
	log    *audit.Log
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	log := audit.NewLog()
	gate := integrity.NewGate(integrity.DefaultGateConfig(genesis), nil, log)
	st, grant, err := store.NewFileStore(filepath.Join(dir, "tenets.json"), filepath.Join(dir, "archive"), gate, log)
	require.NoError(t, err)
	return &fixture{
		engine: NewEngine(cfg, st, grant, gate, log),
		store:  st,
		log:    log,
	}
}

func propose(text, proposer string, round int) *contracts.Proposal {
	return contracts.NewProposal(text, proposer, contracts.ActionAdd, nil, round)
}

func TestProposalIDDeterministic(t *testing.T) {
	a := contracts.ProposalID("tenet X", "agent-1", 1)
	b := contracts.ProposalID("tenet X", "agent-1", 1)
	assert.Equal(t, a, b, "identical triples collide by design")
	assert.NotEqual(t, a, contracts.ProposalID("tenet X", "agent-2", 1))
	assert.NotEqual(t, a, contracts.ProposalID("tenet X", "agent-1", 2))
}

func TestSubmitRejectsBlockedContent(t *testing.T) {
	f := newFixture(t, DefaultConfig(3))
	ctx := context.Background()

	ok := f.engine.Submit(ctx, propose("tenet: please run rm -rf /", "agent-1", 1))
	assert.False(t, ok)
	assert.Empty(t, f.engine.Pending(), "blocked proposal never appears in pending")
}

func TestSubmitEnforcesPendingCap(t *testing.T) {
	cfg := DefaultConfig(3)
	cfg.MaxPending = 2
	f := newFixture(t, cfg)
	ctx := context.Background()

	assert.True(t, f.engine.Submit(ctx, propose("tenet alpha", "agent-1", 1)))
	assert.True(t, f.engine.Submit(ctx, propose("tenet beta", "agent-1", 1)))
	assert.False(t, f.engine.Submit(ctx, propose("tenet gamma", "agent-1", 1)))
}

func TestSubmitDuplicateTripleReturnsFalse(t *testing.T) {
	f := newFixture(t, DefaultConfig(3))
	ctx := context.Background()

	assert.True(t, f.engine.Submit(ctx, propose("tenet alpha", "agent-1", 1)))
	assert.False(t, f.engine.Submit(ctx, propose("tenet alpha", "agent-1", 1)))
}

func TestCastVoteRules(t *testing.T) {
	f := newFixture(t, DefaultConfig(3))
	ctx := context.Background()

	p := propose("tenet alpha", "agent-1", 1)
	require.True(t, f.engine.Submit(ctx, p))

	assert.False(t, f.engine.CastVote(ctx, "agent-2", "prop-missing", true), "absent proposal")
	assert.False(t, f.engine.CastVote(ctx, "agent-1", p.ID, true), "proposer cannot vote")
	assert.True(t, f.engine.CastVote(ctx, "agent-2", p.ID, true))
	assert.False(t, f.engine.CastVote(ctx, "agent-2", p.ID, false), "vote is immutable once cast")
	assert.True(t, p.Votes["agent-2"], "first vote stands")
}

func TestCastVoteAfterTerminalReturnsFalse(t *testing.T) {
	f := newFixture(t, DefaultConfig(3))
	ctx := context.Background()

	p := propose("tenet alpha", "agent-1", 1)
	require.True(t, f.engine.Submit(ctx, p))
	require.True(t, f.engine.CastVote(ctx, "agent-2", p.ID, true))
	require.True(t, f.engine.CastVote(ctx, "agent-3", p.ID, true))

	_, err := f.engine.EndOfRound(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, contracts.StatusAdopted, p.Status)

	assert.False(t, f.engine.CastVote(ctx, "agent-2", p.ID, false))
	assert.Equal(t, contracts.StatusAdopted, p.Status, "status never changes again")
}

// Three agents, both non-proposers vote YES.
func TestUnanimousAdoption(t *testing.T) {
	f := newFixture(t, DefaultConfig(3))
	ctx := context.Background()

	p := propose("tenet X", "agent-1", 1)
	require.True(t, f.engine.Submit(ctx, p))
	require.True(t, f.engine.CastVote(ctx, "agent-2", p.ID, true))
	require.True(t, f.engine.CastVote(ctx, "agent-3", p.ID, true))

	adopted, err := f.engine.EndOfRound(ctx, 1)
	require.NoError(t, err)
	require.Len(t, adopted, 1)

	tenets, err := f.store.ReadTenets(ctx)
	require.NoError(t, err)
	require.Len(t, tenets, 1)
	assert.Equal(t, "tenet X", tenets[0].Text)
	assert.Equal(t, 2, tenets[0].VotesFor)
	assert.Equal(t, 0, tenets[0].VotesAgainst)
}

// One YES, one NO: ratio 0.5 meets the default threshold, so the tie
// adopts. Asserting adoption, not rejection, is the point.
func TestTieAdoptsAtDefaultThreshold(t *testing.T) {
	f := newFixture(t, DefaultConfig(3))
	ctx := context.Background()

	p := propose("tenet X", "agent-1", 1)
	require.True(t, f.engine.Submit(ctx, p))
	require.True(t, f.engine.CastVote(ctx, "agent-2", p.ID, true))
	require.True(t, f.engine.CastVote(ctx, "agent-3", p.ID, false))

	adopted, err := f.engine.EndOfRound(ctx, 1)
	require.NoError(t, err)
	require.Len(t, adopted, 1)
	assert.Equal(t, contracts.StatusAdopted, p.Status)
}

func TestMajorityNoRejects(t *testing.T) {
	f := newFixture(t, DefaultConfig(4))
	ctx := context.Background()

	p := propose("tenet X", "agent-1", 1)
	require.True(t, f.engine.Submit(ctx, p))
	require.True(t, f.engine.CastVote(ctx, "agent-2", p.ID, false))
	require.True(t, f.engine.CastVote(ctx, "agent-3", p.ID, false))
	require.True(t, f.engine.CastVote(ctx, "agent-4", p.ID, true))

	adopted, err := f.engine.EndOfRound(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, adopted)
	assert.Equal(t, contracts.StatusRejected, p.Status)

	tenets, err := f.store.ReadTenets(ctx)
	require.NoError(t, err)
	assert.Empty(t, tenets)
}

func TestUnderQuorumStaysPending(t *testing.T) {
	f := newFixture(t, DefaultConfig(3))
	ctx := context.Background()

	p := propose("tenet X", "agent-1", 1)
	require.True(t, f.engine.Submit(ctx, p))
	require.True(t, f.engine.CastVote(ctx, "agent-2", p.ID, true))

	adopted, err := f.engine.EndOfRound(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, adopted)
	assert.Equal(t, contracts.StatusPending, p.Status, "quorum wait is normal flow, not a timeout")
}

// A zero-vote proposal survives until it ages past expiry.
func TestZeroVoteProposalExpires(t *testing.T) {
	cfg := DefaultConfig(3)
	cfg.ExpiryRounds = 3
	f := newFixture(t, cfg)
	ctx := context.Background()

	p := propose("tenet X", "agent-1", 1)
	require.True(t, f.engine.Submit(ctx, p))

	for round := 1; round <= 3; round++ {
		adopted, err := f.engine.EndOfRound(ctx, round)
		require.NoError(t, err)
		assert.Empty(t, adopted)
	}
	// Rounds 1-3: ages 0,1,2, still pending. Round 4: age 3 expires.
	assert.Equal(t, contracts.StatusPending, p.Status)
	_, err := f.engine.EndOfRound(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusExpired, p.Status)

	tenets, err := f.store.ReadTenets(ctx)
	require.NoError(t, err)
	assert.Empty(t, tenets, "no tenet written for an expired proposal")
}

func TestFuseReplacesTargets(t *testing.T) {
	f := newFixture(t, DefaultConfig(3))
	ctx := context.Background()

	adoptAdd := func(text string) contracts.Tenet {
		p := propose(text, "agent-1", 1)
		require.True(t, f.engine.Submit(ctx, p))
		require.True(t, f.engine.CastVote(ctx, "agent-2", p.ID, true))
		require.True(t, f.engine.CastVote(ctx, "agent-3", p.ID, true))
		adopted, err := f.engine.EndOfRound(ctx, 1)
		require.NoError(t, err)
		require.Len(t, adopted, 1)
		return adopted[0]
	}

	a := adoptAdd("tenet A holds")
	b := adoptAdd("tenet B holds")

	fuse := contracts.NewProposal("tenet AB fused", "agent-2",
		contracts.ActionFuse, []string{a.ID, b.ID}, 2)
	require.True(t, f.engine.Submit(ctx, fuse))
	require.True(t, f.engine.CastVote(ctx, "agent-1", fuse.ID, true))
	require.True(t, f.engine.CastVote(ctx, "agent-3", fuse.ID, true))

	adopted, err := f.engine.EndOfRound(ctx, 2)
	require.NoError(t, err)
	require.Len(t, adopted, 1)
	assert.Equal(t, []string{a.ID, b.ID}, adopted[0].Supersedes)

	tenets, err := f.store.ReadTenets(ctx)
	require.NoError(t, err)
	require.Len(t, tenets, 1, "targets removed, one fused tenet remains")
	assert.Equal(t, adopted[0].ID, tenets[0].ID)
}

func TestDeleteRemovesTargets(t *testing.T) {
	f := newFixture(t, DefaultConfig(3))
	ctx := context.Background()

	p := propose("tenet to repeal", "agent-1", 1)
	require.True(t, f.engine.Submit(ctx, p))
	require.True(t, f.engine.CastVote(ctx, "agent-2", p.ID, true))
	require.True(t, f.engine.CastVote(ctx, "agent-3", p.ID, true))
	adopted, err := f.engine.EndOfRound(ctx, 1)
	require.NoError(t, err)
	require.Len(t, adopted, 1)

	del := contracts.NewProposal("DELETE repeal", "agent-2",
		contracts.ActionDelete, []string{adopted[0].ID}, 2)
	require.True(t, f.engine.Submit(ctx, del))
	require.True(t, f.engine.CastVote(ctx, "agent-1", del.ID, true))
	require.True(t, f.engine.CastVote(ctx, "agent-3", del.ID, true))

	newTenets, err := f.engine.EndOfRound(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, newTenets, "DELETE creates no tenet")
	assert.Equal(t, contracts.StatusAdopted, del.Status)

	tenets, err := f.store.ReadTenets(ctx)
	require.NoError(t, err)
	assert.Empty(t, tenets)

	// The DELETE adoption's audit entry names the proposal but no tenet.
	var found bool
	for _, e := range f.log.Entries() {
		if e.Action != "PROPOSAL_ADOPTED" || e.Detail["proposal_id"] != del.ID {
			continue
		}
		found = true
		_, hasTenet := e.Detail["tenet_id"]
		assert.False(t, hasTenet, "no tenet is minted for a DELETE")
	}
	assert.True(t, found)
}

func TestVoteCountNeverExceedsQuorum(t *testing.T) {
	f := newFixture(t, DefaultConfig(3))
	ctx := context.Background()

	p := propose("tenet X", "agent-1", 1)
	require.True(t, f.engine.Submit(ctx, p))
	f.engine.CastVote(ctx, "agent-2", p.ID, true)
	f.engine.CastVote(ctx, "agent-3", p.ID, true)
	f.engine.CastVote(ctx, "agent-2", p.ID, false)
	f.engine.CastVote(ctx, "agent-1", p.ID, true)

	assert.LessOrEqual(t, len(p.Votes), 2)
	_, proposerVoted := p.Votes["agent-1"]
	assert.False(t, proposerVoted, "vote map never contains the proposer")
}
