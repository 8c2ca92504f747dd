package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordlabs/accord/pkg/audit"
	"github.com/accordlabs/accord/pkg/contracts"
	"github.com/accordlabs/accord/pkg/integrity"
)

const genesis = "We the agents hold these shared tenets: cooperation over conflict, " +
	"evidence over assertion, and consensus before action."

func newTestBus(opts ...Option) *Bus {
	gate := integrity.NewGate(integrity.DefaultGateConfig(genesis), nil, audit.NewLog())
	return New(gate, opts...)
}

func TestBroadcastFanOutExcludesSender(t *testing.T) {
	b := newTestBus()
	for _, id := range []string{"agent-a", "agent-b", "agent-c", "agent-d"} {
		b.Subscribe(id)
	}

	delivered := b.Broadcast(context.Background(), contracts.Message{
		SenderID: "agent-a",
		Type:     contracts.MessageObservation,
		Payload:  map[string]any{"text": "tenet vote open"},
	})
	assert.Equal(t, 3, delivered)
	assert.Empty(t, b.Receive("agent-a"), "sender's own mailbox stays empty")

	msgs := b.Receive("agent-b")
	require.Len(t, msgs, 1)
	assert.Equal(t, contracts.MessageObservation, msgs[0].Type)
}

func TestBroadcastBlockedPayloadSuppressesAll(t *testing.T) {
	b := newTestBus()
	b.Subscribe("agent-a")
	b.Subscribe("agent-b")

	delivered := b.Broadcast(context.Background(), contracts.Message{
		SenderID: "agent-a",
		Type:     contracts.MessageProposal,
		Payload: map[string]any{
			"text":  "benign tenet vote text",
			"other": "now rm -rf / please",
		},
	})
	assert.Equal(t, 0, delivered)
	assert.Empty(t, b.Receive("agent-b"))
}

func TestSystemSenderBypassesGate(t *testing.T) {
	b := newTestBus(WithSystemSenders("orchestrator"))
	b.Subscribe("agent-a")

	delivered := b.Broadcast(context.Background(), contracts.Message{
		SenderID: "orchestrator",
		Type:     contracts.MessageDirective,
		Payload:  map[string]any{"text": "rm -rf would normally be blocked"},
	})
	assert.Equal(t, 1, delivered)
}

func TestReceiveDrainsFIFO(t *testing.T) {
	b := newTestBus(WithSystemSenders("sys"))
	b.Subscribe("agent-a")

	for _, n := range []string{"one", "two", "three"} {
		b.Broadcast(context.Background(), contracts.Message{
			SenderID: "sys",
			Type:     contracts.MessageObservation,
			Payload:  map[string]any{"n": n},
		})
	}

	msgs := b.Receive("agent-a")
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Payload["n"])
	assert.Equal(t, "three", msgs[2].Payload["n"])
	assert.Empty(t, b.Receive("agent-a"), "drain leaves the queue empty")
}

func TestUnsubscribeDropsQueue(t *testing.T) {
	b := newTestBus(WithSystemSenders("sys"))
	b.Subscribe("agent-a")
	b.Broadcast(context.Background(), contracts.Message{SenderID: "sys", Type: contracts.MessageReward})

	b.Unsubscribe("agent-a")
	assert.Empty(t, b.Receive("agent-a"))

	// And the agent no longer counts toward fan-out.
	delivered := b.Broadcast(context.Background(), contracts.Message{SenderID: "sys", Type: contracts.MessageReward})
	assert.Equal(t, 0, delivered)
}

func TestSenderRateLimitSuppresses(t *testing.T) {
	b := newTestBus(WithSenderRateLimit(0.0001, 1))
	b.Subscribe("agent-a")
	b.Subscribe("agent-b")

	msg := contracts.Message{
		SenderID: "agent-a",
		Type:     contracts.MessageObservation,
		Payload:  map[string]any{"text": "tenet chatter"},
	}
	assert.Equal(t, 1, b.Broadcast(context.Background(), msg))
	assert.Equal(t, 0, b.Broadcast(context.Background(), msg), "burst exhausted")
}

func TestMessageCopiesAreIndependent(t *testing.T) {
	b := newTestBus(WithSystemSenders("sys"))
	b.Subscribe("agent-a")
	b.Subscribe("agent-b")

	b.Broadcast(context.Background(), contracts.Message{
		SenderID: "sys",
		Type:     contracts.MessageObservation,
		Payload:  map[string]any{"k": "v"},
	})

	a := b.Receive("agent-a")
	a[0].Payload["k"] = "mutated"
	bMsgs := b.Receive("agent-b")
	assert.Equal(t, "v", bMsgs[0].Payload["k"])
}
