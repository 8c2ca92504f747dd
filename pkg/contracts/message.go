package contracts

import "time"

// MessageType categorizes bus traffic.
type MessageType string

// Message type constants.
const (
	MessageProposal    MessageType = "PROPOSAL"
	MessageVote        MessageType = "VOTE"
	MessageObservation MessageType = "OBSERVATION"
	MessageReward      MessageType = "REWARD"
	MessageDirective   MessageType = "DIRECTIVE"
)

// Message is an ephemeral bus envelope. Messages live only in per-agent
// queues and are dropped on unsubscribe; nothing persists them.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Message struct {
	ID        string         `json:"id"`
	SenderID  string         `json:"sender_id"`
	Type      MessageType    `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Clone returns a copy with its own payload map, so recipients cannot
// mutate each other's view of a broadcast.
func (m Message) Clone() Message {
	if m.Payload == nil {
		return m
	}
	payload := make(map[string]any, len(m.Payload))
	for k, v := range m.Payload {
		payload[k] = v
	}
	m.Payload = payload
	return m
}
