package domain

import (
	"bytes"
	"errors"
	"fmt"
)

// NegotiationStatus is the lifecycle state of a negotiation.
type NegotiationStatus string

const (
	NegotiationInitialization NegotiationStatus = "initialization"
	NegotiationNegotiating    NegotiationStatus = "negotiating"
	NegotiationCompletion     NegotiationStatus = "completion"
	NegotiationCompleted      NegotiationStatus = "completed"
	NegotiationCancelled      NegotiationStatus = "cancelled"
)

// rank orders the forward path. Cancelled sits past every non-terminal state.
var statusRank = map[NegotiationStatus]int{
	NegotiationInitialization: 0,
	NegotiationNegotiating:    1,
	NegotiationCompletion:     2,
	NegotiationCompleted:      3,
	NegotiationCancelled:      3,
}

// IsTerminal reports whether no further message can be accepted.
func (s NegotiationStatus) IsTerminal() bool {
	return s == NegotiationCompleted || s == NegotiationCancelled
}

var (
	// ErrNegotiationClosed is returned when appending to a terminal negotiation.
	ErrNegotiationClosed = errors.New("negotiation is closed")

	// ErrInvalidTransition is returned when a message would move the status backwards.
	ErrInvalidTransition = errors.New("invalid negotiation transition")
)

// Negotiation is the per-session state machine and its append-only message log.
// A Negotiation is not safe for concurrent use; callers serialize access per id.
type Negotiation struct {
	id      string
	role    Role
	network string
	status  NegotiationStatus
	history []Message
}

// NewNegotiation creates an empty seller-side negotiation. The opening
// BargainRequest must be appended before the negotiation is stored.
func NewNegotiation(id, network string) *Negotiation {
	return &Negotiation{
		id:      id,
		role:    RoleSeller,
		network: network,
		status:  NegotiationInitialization,
	}
}

func (n *Negotiation) ID() string                { return n.id }
func (n *Negotiation) Role() Role                { return n.role }
func (n *Negotiation) Network() string           { return n.network }
func (n *Negotiation) Status() NegotiationStatus { return n.status }
func (n *Negotiation) Len() int                  { return len(n.history) }

// IsTerminal reports whether the negotiation reached Completed or Cancelled.
func (n *Negotiation) IsTerminal() bool {
	return n.status.IsTerminal()
}

// History returns a copy of the message log in chronological order.
func (n *Negotiation) History() []Message {
	out := make([]Message, len(n.history))
	copy(out, n.history)
	return out
}

// LastMessage returns the most recent message.
func (n *Negotiation) LastMessage() (Message, bool) {
	if len(n.history) == 0 {
		return Message{}, false
	}
	return n.history[len(n.history)-1], true
}

// MessageAt returns the message at idx. Negative indexes count from the end.
func (n *Negotiation) MessageAt(idx int) (Message, bool) {
	if idx < 0 {
		idx += len(n.history)
	}
	if idx < 0 || idx >= len(n.history) {
		return Message{}, false
	}
	return n.history[idx], true
}

// LastOffer returns the most recent seller message carrying outputs. It is
// looked up by author rather than position so consecutive buyer messages
// cannot shift it.
func (n *Negotiation) LastOffer() (Message, bool) {
	for i := len(n.history) - 1; i >= 0; i-- {
		m := n.history[i]
		if m.From == RoleSeller && len(m.Details.Outputs) > 0 {
			return m, true
		}
	}
	return Message{}, false
}

// LastBuyerMessage returns the most recent buyer message.
func (n *Negotiation) LastBuyerMessage() (Message, bool) {
	for i := len(n.history) - 1; i >= 0; i-- {
		if n.history[i].From == RoleBuyer {
			return n.history[i], true
		}
	}
	return Message{}, false
}

// AlreadyReceived reports whether raw bytes identical to msg were logged before.
func (n *Negotiation) AlreadyReceived(msg Message) bool {
	if len(msg.Raw) == 0 {
		return false
	}
	for _, m := range n.history {
		if bytes.Equal(m.Raw, msg.Raw) {
			return true
		}
	}
	return false
}

// NextActiveRole returns the party expected to send the next message. It is
// empty once the negotiation is terminal.
func (n *Negotiation) NextActiveRole() Role {
	if n.IsTerminal() {
		return ""
	}
	last, ok := n.LastMessage()
	if !ok {
		return RoleBuyer
	}
	if last.From == RoleSeller {
		return RoleBuyer
	}
	return RoleSeller
}

// NextMessageTypes lists the protocol-legal continuations.
func (n *Negotiation) NextMessageTypes() []MessageType {
	if n.IsTerminal() {
		return nil
	}
	last, ok := n.LastMessage()
	if !ok {
		return []MessageType{TypeBargainRequest}
	}
	if last.IsInvalid() {
		return []MessageType{TypeBargainCancellation}
	}
	switch last.Type {
	case TypeBargainRequest:
		return []MessageType{TypeBargainRequestAck, TypeBargainCancellation}
	case TypeBargainRequestAck, TypeBargainProposalAck:
		return []MessageType{TypeBargainProposal, TypeBargainCancellation}
	case TypeBargainProposal:
		if n.status == NegotiationCompletion {
			return []MessageType{TypeBargainCompletion, TypeBargainCancellation}
		}
		return []MessageType{TypeBargainProposalAck, TypeBargainCancellation}
	}
	return nil
}

// Accepts reports whether t is one of the next legal message types.
func (n *Negotiation) Accepts(t MessageType) bool {
	for _, next := range n.NextMessageTypes() {
		if next == t {
			return true
		}
	}
	return false
}

// Append logs msg and advances the status accordingly.
func (n *Negotiation) Append(msg Message) error {
	if n.IsTerminal() {
		return ErrNegotiationClosed
	}
	if msg.Type == TypeBargainRequest && len(n.history) > 0 {
		return fmt.Errorf("%w: request on an open negotiation", ErrInvalidTransition)
	}

	next := n.status
	switch {
	case msg.Type == TypeBargainCancellation:
		next = NegotiationCancelled
	case msg.IsInvalid():
		// The seller answers with a cancellation.
	case msg.Type == TypeBargainRequestAck:
		next = NegotiationNegotiating
	case msg.Type == TypeBargainProposal:
		if msg.Status == StatusValid && n.agreesWith(msg) {
			next = NegotiationCompletion
		}
	case msg.Type == TypeBargainCompletion:
		next = NegotiationCompleted
	}

	if statusRank[next] < statusRank[n.status] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.status, next)
	}

	n.history = append(n.history, msg)
	n.status = next
	return nil
}

// agreesWith reports whether a buyer proposal meets the last seller offer.
func (n *Negotiation) agreesWith(proposal Message) bool {
	offer, ok := n.LastOffer()
	if !ok {
		return false
	}
	return proposal.Details.Amount+proposal.Details.Fees >= offer.Details.OfferedAmount()
}

// Clone returns a copy whose log can be appended to independently.
func (n *Negotiation) Clone() *Negotiation {
	c := *n
	c.history = n.History()
	return &c
}

// NegotiationSnapshot is the persisted form of a negotiation.
type NegotiationSnapshot struct {
	ID      string
	Role    Role
	Network string
	Status  NegotiationStatus
	History []Message
}

// Snapshot exports the negotiation state.
func (n *Negotiation) Snapshot() NegotiationSnapshot {
	return NegotiationSnapshot{
		ID:      n.id,
		Role:    n.role,
		Network: n.network,
		Status:  n.status,
		History: n.History(),
	}
}

// RestoreNegotiation rebuilds a negotiation from a snapshot.
func RestoreNegotiation(s NegotiationSnapshot) *Negotiation {
	history := make([]Message, len(s.History))
	copy(history, s.History)
	return &Negotiation{
		id:      s.ID,
		role:    s.Role,
		network: s.Network,
		status:  s.Status,
		history: history,
	}
}
