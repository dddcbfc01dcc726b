package domain

import (
	"errors"
	"testing"
)

func buyerMsg(t MessageType) Message {
	return Message{Type: t, From: RoleBuyer, Status: StatusValid}
}

func sellerOffer(t MessageType, amounts ...int64) Message {
	m := Message{Type: t, From: RoleSeller, Status: StatusValid}
	for _, a := range amounts {
		m.Details.Outputs = append(m.Details.Outputs, Output{Amount: a, Script: []byte{0x01}})
	}
	return m
}

func proposal(amount, fees int64) Message {
	m := buyerMsg(TypeBargainProposal)
	m.Details.Amount = amount
	m.Details.Fees = fees
	return m
}

func mustAppend(t *testing.T, n *Negotiation, msgs ...Message) {
	t.Helper()
	for _, m := range msgs {
		if err := n.Append(m); err != nil {
			t.Fatalf("Append(%s) error = %v", m.Type, err)
		}
	}
}

func TestNegotiation_Lifecycle(t *testing.T) {
	n := NewNegotiation("n1", "testnet")
	if n.Role() != RoleSeller || n.Status() != NegotiationInitialization {
		t.Fatalf("new negotiation = %s/%s", n.Role(), n.Status())
	}
	if n.NextActiveRole() != RoleBuyer {
		t.Errorf("NextActiveRole() = %s, want buyer", n.NextActiveRole())
	}

	mustAppend(t, n, buyerMsg(TypeBargainRequest))
	if n.Status() != NegotiationInitialization {
		t.Errorf("after request status = %s", n.Status())
	}
	if n.NextActiveRole() != RoleSeller {
		t.Errorf("NextActiveRole() = %s, want seller", n.NextActiveRole())
	}

	mustAppend(t, n, sellerOffer(TypeBargainRequestAck, 150_000_000, 100_000_000))
	if n.Status() != NegotiationNegotiating {
		t.Errorf("after request ack status = %s", n.Status())
	}

	mustAppend(t, n, proposal(100_000_000, 0))
	if n.Status() != NegotiationNegotiating {
		t.Errorf("low proposal moved status to %s", n.Status())
	}
	if !n.Accepts(TypeBargainProposalAck) || n.Accepts(TypeBargainCompletion) {
		t.Errorf("NextMessageTypes() = %v", n.NextMessageTypes())
	}

	mustAppend(t, n, sellerOffer(TypeBargainProposalAck, 100_000_000, 100_000_000))
	mustAppend(t, n, proposal(199_950_000, 50_000))
	if n.Status() != NegotiationCompletion {
		t.Fatalf("matching proposal status = %s, want completion", n.Status())
	}
	if !n.Accepts(TypeBargainCompletion) {
		t.Errorf("NextMessageTypes() = %v, want completion", n.NextMessageTypes())
	}

	mustAppend(t, n, sellerOffer(TypeBargainCompletion))
	if n.Status() != NegotiationCompleted || !n.IsTerminal() {
		t.Fatalf("status = %s, want completed", n.Status())
	}
	if n.NextActiveRole() != "" || n.NextMessageTypes() != nil {
		t.Errorf("terminal negotiation still expects %s %v", n.NextActiveRole(), n.NextMessageTypes())
	}

	if err := n.Append(buyerMsg(TypeBargainProposal)); !errors.Is(err, ErrNegotiationClosed) {
		t.Errorf("Append() after completion error = %v, want ErrNegotiationClosed", err)
	}
	if n.Len() != 6 {
		t.Errorf("Len() = %d, want 6", n.Len())
	}
}

func TestNegotiation_InvalidMessageLeadsToCancellation(t *testing.T) {
	n := NewNegotiation("n1", "testnet")
	mustAppend(t, n,
		buyerMsg(TypeBargainRequest),
		sellerOffer(TypeBargainRequestAck, 150_000_000, 100_000_000),
	)

	bad := proposal(1, 0).WithError("insufficient funds")
	mustAppend(t, n, bad)
	if n.Status() != NegotiationNegotiating {
		t.Errorf("invalid message changed status to %s", n.Status())
	}
	types := n.NextMessageTypes()
	if len(types) != 1 || types[0] != TypeBargainCancellation {
		t.Errorf("NextMessageTypes() = %v, want [cancellation]", types)
	}

	mustAppend(t, n, Message{Type: TypeBargainCancellation, From: RoleSeller, Status: StatusValid})
	if n.Status() != NegotiationCancelled {
		t.Errorf("status = %s, want cancelled", n.Status())
	}
	if err := n.Append(buyerMsg(TypeBargainProposal)); !errors.Is(err, ErrNegotiationClosed) {
		t.Errorf("Append() error = %v, want ErrNegotiationClosed", err)
	}
}

func TestNegotiation_RequestOnOpenNegotiation(t *testing.T) {
	n := NewNegotiation("n1", "testnet")
	mustAppend(t, n, buyerMsg(TypeBargainRequest))

	if err := n.Append(buyerMsg(TypeBargainRequest)); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Append() error = %v, want ErrInvalidTransition", err)
	}
	if n.Len() != 1 {
		t.Errorf("Len() = %d, want 1", n.Len())
	}
}

func TestNegotiation_StatusNeverMovesBackwards(t *testing.T) {
	sequences := [][]Message{
		{buyerMsg(TypeBargainRequest), sellerOffer(TypeBargainRequestAck, 10), proposal(10, 0), sellerOffer(TypeBargainCompletion)},
		{buyerMsg(TypeBargainRequest), sellerOffer(TypeBargainRequestAck, 10), proposal(1, 0), sellerOffer(TypeBargainProposalAck, 9), buyerMsg(TypeBargainCancellation)},
		{buyerMsg(TypeBargainRequest).WithError("bad"), sellerOffer(TypeBargainCancellation)},
		{buyerMsg(TypeBargainRequest), sellerOffer(TypeBargainRequestAck, 10), sellerOffer(TypeBargainRequestAck, 10), proposal(10, 0)},
	}

	for i, seq := range sequences {
		n := NewNegotiation("n", "testnet")
		prev := statusRank[n.Status()]
		for _, m := range seq {
			if err := n.Append(m); err != nil {
				continue
			}
			cur := statusRank[n.Status()]
			if cur < prev {
				t.Errorf("sequence %d: status moved backwards to %s", i, n.Status())
			}
			prev = cur
		}
	}
}

func TestNegotiation_LastOfferByRole(t *testing.T) {
	n := NewNegotiation("n1", "testnet")
	mustAppend(t, n,
		buyerMsg(TypeBargainRequest),
		sellerOffer(TypeBargainRequestAck, 6_000_000, 2_000_000),
		proposal(4_000_000, 0),
	)
	// Two buyer messages in a row must not shift the prior offer.
	n.history = append(n.history, proposal(4_500_000, 0))

	offer, ok := n.LastOffer()
	if !ok {
		t.Fatal("LastOffer() found nothing")
	}
	if offer.Details.OfferedAmount() != 8_000_000 {
		t.Errorf("LastOffer() amount = %d, want 8000000", offer.Details.OfferedAmount())
	}

	last, ok := n.LastBuyerMessage()
	if !ok || last.Details.Amount != 4_500_000 {
		t.Errorf("LastBuyerMessage() = %+v", last.Details)
	}
}

func TestNegotiation_AlreadyReceived(t *testing.T) {
	n := NewNegotiation("n1", "testnet")
	req := buyerMsg(TypeBargainRequest)
	req.Raw = []byte{0x01, 0x02}
	mustAppend(t, n, req)

	dup := buyerMsg(TypeBargainRequest)
	dup.Raw = []byte{0x01, 0x02}
	if !n.AlreadyReceived(dup) {
		t.Errorf("AlreadyReceived() = false for identical bytes")
	}

	other := buyerMsg(TypeBargainProposal)
	other.Raw = []byte{0x01, 0x03}
	if n.AlreadyReceived(other) {
		t.Errorf("AlreadyReceived() = true for different bytes")
	}
	if n.AlreadyReceived(buyerMsg(TypeBargainProposal)) {
		t.Errorf("AlreadyReceived() = true for a message without wire bytes")
	}
}

func TestNegotiation_MessageAt(t *testing.T) {
	n := NewNegotiation("n1", "testnet")
	mustAppend(t, n, buyerMsg(TypeBargainRequest), sellerOffer(TypeBargainRequestAck, 1))

	tests := []struct {
		idx    int
		want   MessageType
		wantOK bool
	}{
		{0, TypeBargainRequest, true},
		{1, TypeBargainRequestAck, true},
		{-1, TypeBargainRequestAck, true},
		{-2, TypeBargainRequest, true},
		{2, "", false},
		{-3, "", false},
	}
	for _, tt := range tests {
		got, ok := n.MessageAt(tt.idx)
		if ok != tt.wantOK || got.Type != tt.want {
			t.Errorf("MessageAt(%d) = %s/%v, want %s/%v", tt.idx, got.Type, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNegotiation_CloneAndSnapshot(t *testing.T) {
	n := NewNegotiation("n1", "testnet")
	mustAppend(t, n, buyerMsg(TypeBargainRequest))

	c := n.Clone()
	mustAppend(t, c, sellerOffer(TypeBargainRequestAck, 1))
	if n.Len() != 1 || n.Status() != NegotiationInitialization {
		t.Errorf("clone shares state with its source: len=%d status=%s", n.Len(), n.Status())
	}

	r := RestoreNegotiation(c.Snapshot())
	if r.ID() != "n1" || r.Network() != "testnet" || r.Status() != NegotiationNegotiating || r.Len() != 2 {
		t.Errorf("RestoreNegotiation() = %s/%s/%s/%d", r.ID(), r.Network(), r.Status(), r.Len())
	}
}
