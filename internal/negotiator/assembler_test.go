package negotiator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/bargain-gateway/internal/codec"
	"github.com/tjfontaine/bargain-gateway/internal/domain"
	"github.com/tjfontaine/bargain-gateway/internal/keyring"
	"github.com/tjfontaine/bargain-gateway/internal/protocol"
)

type failingSigner struct{}

func (failingSigner) Sign(domain.Message, domain.Message) (domain.Message, error) {
	return domain.Message{}, errors.New("hsm offline")
}

func newTestAssembler(t *testing.T, signer Signer) (*Assembler, *keyring.Keyring) {
	t.Helper()
	k, err := keyring.Derive([]byte("seed"), "testnet")
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	if signer == nil {
		signer = k
	}
	clock := func() time.Time { return time.Unix(1_700_000_000, 0) }
	a := NewAssembler(signer, protocol.NewValidator(protocol.WithClock(clock)),
		NewConcession(k.Scripts(), WithRepeatProbability(0)), k.Scripts(),
		Config{BargainURI: "http://seller.test/bargain", ProductID: "bd-48t", OfferTTL: 20 * time.Minute},
		WithClock(clock))
	return a, k
}

func openedNegotiation(t *testing.T, request domain.Message) *domain.Negotiation {
	t.Helper()
	n := domain.NewNegotiation("n1", "testnet")
	if err := n.Append(request); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return n
}

func buyerRequest() domain.Message {
	return domain.Message{
		Type:    domain.TypeBargainRequest,
		From:    domain.RoleBuyer,
		Status:  domain.StatusValid,
		Details: domain.Details{Time: 1_699_999_990, Network: "testnet", BuyerData: []byte("buyer-ref")},
		Raw:     []byte("request bytes"),
	}
}

func TestAssembler_RequestAck(t *testing.T) {
	a, k := newTestAssembler(t, nil)
	n := openedNegotiation(t, buyerRequest())

	msg, ok := a.Build(n)
	if !ok {
		t.Fatal("Build() = false")
	}
	if msg.Type != domain.TypeBargainRequestAck || msg.From != domain.RoleSeller {
		t.Fatalf("Build() = %s from %s", msg.Type, msg.From)
	}
	if msg.Status != domain.StatusValid {
		t.Errorf("Build() status = %s", msg.Status)
	}
	d := msg.Details
	if d.OfferedAmount() != 250_000_000 || len(d.Outputs) != 2 {
		t.Errorf("opening offer = %v", d.Outputs)
	}
	if d.Memo != WelcomeMemo || d.CallbackURI != "http://seller.test/bargain" {
		t.Errorf("memo/callback = %q/%q", d.Memo, d.CallbackURI)
	}
	if d.Expires != 1_700_000_000+1200 {
		t.Errorf("Expires = %d", d.Expires)
	}
	if string(d.BuyerData) != "buyer-ref" {
		t.Errorf("BuyerData = %q, want it carried forward", d.BuyerData)
	}

	sd, err := codec.DecodeSellerData(msg)
	if err != nil {
		t.Fatalf("DecodeSellerData() error = %v", err)
	}
	if sd.NegotiationID != "n1" || sd.ProductID != "bd-48t" {
		t.Errorf("seller data = %+v", sd)
	}

	decoded, err := codec.Decode(msg.Raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := keyring.Verify(decoded, buyerRequest()); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
	if string(decoded.PublicKey) != string(k.PublicKey()) {
		t.Errorf("public key not carried on the wire")
	}
}

func TestAssembler_ProposalAck(t *testing.T) {
	a, _ := newTestAssembler(t, nil)
	n := openedNegotiation(t, buyerRequest())
	ack, ok := a.Build(n)
	if !ok {
		t.Fatal("Build() = false")
	}
	if err := n.Append(ack); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	proposal := domain.Message{
		Type:    domain.TypeBargainProposal,
		From:    domain.RoleBuyer,
		Status:  domain.StatusValid,
		Details: domain.Details{Time: 1_700_000_000, SellerData: ack.Details.SellerData, Amount: 100_000_000},
	}
	if err := n.Append(proposal); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	msg, ok := a.Build(n)
	if !ok {
		t.Fatal("Build() = false")
	}
	if msg.Type != domain.TypeBargainProposalAck {
		t.Fatalf("Build() type = %s", msg.Type)
	}
	total := msg.Details.OfferedAmount()
	if total < 100_000_000 || total > 250_000_000 {
		t.Errorf("counter-offer = %d out of bounds", total)
	}
}

func TestAssembler_Cancellation(t *testing.T) {
	a, _ := newTestAssembler(t, nil)
	n := openedNegotiation(t, buyerRequest().WithErrors("Invalid message format", "unexpected network"))

	msg, ok := a.Build(n)
	if !ok {
		t.Fatal("Build() = false")
	}
	if msg.Type != domain.TypeBargainCancellation {
		t.Fatalf("Build() type = %s", msg.Type)
	}
	if !strings.Contains(msg.Details.Memo, "Invalid message format, unexpected network") {
		t.Errorf("memo = %q", msg.Details.Memo)
	}
	if err := n.Append(msg); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if n.Status() != domain.NegotiationCancelled {
		t.Errorf("status = %s, want cancelled", n.Status())
	}
}

func TestAssembler_Completion(t *testing.T) {
	a, _ := newTestAssembler(t, nil)
	n := openedNegotiation(t, buyerRequest())
	ack, _ := a.Build(n)
	if err := n.Append(ack); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	txs := []domain.Transaction{{
		ID:      "tx-1",
		Inputs:  []domain.TxInput{{PrevScript: []byte("buyer")}},
		Outputs: ack.Details.Outputs,
	}}
	proposal := domain.Message{
		Type:   domain.TypeBargainProposal,
		From:   domain.RoleBuyer,
		Status: domain.StatusValid,
		Details: domain.Details{
			Time:         1_700_000_000,
			SellerData:   ack.Details.SellerData,
			Amount:       250_000_000,
			Transactions: txs,
		},
	}
	if err := n.Append(proposal); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if n.Status() != domain.NegotiationCompletion {
		t.Fatalf("status = %s, want completion", n.Status())
	}

	msg, ok := a.Build(n)
	if !ok {
		t.Fatal("Build() = false")
	}
	if msg.Type != domain.TypeBargainCompletion || msg.Details.Memo != CompletionMemo {
		t.Errorf("Build() = %s %q", msg.Type, msg.Details.Memo)
	}
	if len(msg.Details.Transactions) != 1 || msg.Details.Transactions[0].ID != "tx-1" {
		t.Errorf("Transactions = %+v", msg.Details.Transactions)
	}
}

func TestAssembler_NoReply(t *testing.T) {
	a, _ := newTestAssembler(t, nil)

	n := openedNegotiation(t, buyerRequest())
	ack, _ := a.Build(n)
	_ = n.Append(ack)
	if _, ok := a.Build(n); ok {
		t.Errorf("Build() built a reply on the buyer's turn")
	}

	failing, _ := newTestAssembler(t, failingSigner{})
	if _, ok := failing.Build(openedNegotiation(t, buyerRequest())); ok {
		t.Errorf("Build() = true with a failing signer")
	}
}
