// Package bus implements the in-process publish/subscribe fabric: one FIFO
// mailbox per agent with broadcast fan-out, gated by the content integrity
// filter. Nothing here persists; unsubscribing drops undelivered messages.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/accordlabs/accord/pkg/contracts"
	"github.com/accordlabs/accord/pkg/integrity"
)

// Bus fans broadcasts out to subscriber mailboxes. Messages from senders on
// the system allow-list bypass the gate; every other sender's string payload
// values are scanned first, and one blocked value suppresses the whole
// broadcast.
type Bus struct {
	mu            sync.Mutex
	queues        map[string][]contracts.Message
	gate          *integrity.Gate
	systemSenders map[string]struct{}
	limiters      map[string]*rate.Limiter
	senderLimit   rate.Limit
	senderBurst   int
	clock         func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithSystemSenders sets the allow-list of internal senders that bypass the
// content gate.
func WithSystemSenders(ids ...string) Option {
	return func(b *Bus) {
		for _, id := range ids {
			b.systemSenders[id] = struct{}{}
		}
	}
}

// WithSenderRateLimit caps broadcasts per sender. The default is unlimited;
// the limiter exists to keep one misbehaving strategy from flooding every
// mailbox in a shared deployment.
func WithSenderRateLimit(perSecond float64, burst int) Option {
	return func(b *Bus) {
		b.senderLimit = rate.Limit(perSecond)
		b.senderBurst = burst
	}
}

// New creates a bus screening non-system senders through gate.
func New(gate *integrity.Gate, opts ...Option) *Bus {
	b := &Bus{
		queues:        make(map[string][]contracts.Message),
		gate:          gate,
		systemSenders: make(map[string]struct{}),
		limiters:      make(map[string]*rate.Limiter),
		senderLimit:   rate.Inf,
		senderBurst:   1,
		clock:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe opens a mailbox for agentID. Subscribing twice is a no-op.
func (b *Bus) Subscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[agentID]; !ok {
		b.queues[agentID] = nil
	}
}

// Unsubscribe closes agentID's mailbox, dropping any undelivered messages.
func (b *Bus) Unsubscribe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, agentID)
	delete(b.limiters, agentID)
}

// Broadcast delivers a copy of msg to every subscriber except the sender and
// returns the delivered count. A gate block or rate-limit denial suppresses
// the whole broadcast: zero messages are delivered.
func (b *Bus) Broadcast(ctx context.Context, msg contracts.Message) int {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.clock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, system := b.systemSenders[msg.SenderID]; !system {
		if !b.limiter(msg.SenderID).Allow() {
			return 0
		}
		for _, value := range msg.Payload {
			text, ok := value.(string)
			if !ok {
				continue
			}
			if _, admitted := b.gate.Admit(ctx, msg.SenderID, text); !admitted {
				return 0
			}
		}
	}

	delivered := 0
	for agentID := range b.queues {
		if agentID == msg.SenderID {
			continue
		}
		b.queues[agentID] = append(b.queues[agentID], msg.Clone())
		delivered++
	}
	return delivered
}

// Receive drains agentID's mailbox without blocking, preserving FIFO order.
func (b *Bus) Receive(agentID string) []contracts.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.queues[agentID]
	if msgs == nil {
		return nil
	}
	b.queues[agentID] = nil
	return msgs
}

func (b *Bus) limiter(senderID string) *rate.Limiter {
	l, ok := b.limiters[senderID]
	if !ok {
		l = rate.NewLimiter(b.senderLimit, b.senderBurst)
		b.limiters[senderID] = l
	}
	return l
}
