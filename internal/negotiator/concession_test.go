package negotiator

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/tjfontaine/bargain-gateway/internal/domain"
)

var testScripts = [2][]byte{[]byte("script-1"), []byte("script-2")}

// negotiationAt builds a negotiation whose last seller offer totals prior and
// whose last buyer proposal asks for ask.
func negotiationAt(t *testing.T, prior, ask int64) *domain.Negotiation {
	t.Helper()
	n := domain.NewNegotiation("n1", "testnet")
	msgs := []domain.Message{
		{Type: domain.TypeBargainRequest, From: domain.RoleBuyer, Status: domain.StatusValid},
		{
			Type:   domain.TypeBargainRequestAck,
			From:   domain.RoleSeller,
			Status: domain.StatusValid,
			Details: domain.Details{Outputs: []domain.Output{
				{Amount: prior / 2, Script: testScripts[0]},
				{Amount: prior - prior/2, Script: testScripts[1]},
			}},
		},
		{Type: domain.TypeBargainProposal, From: domain.RoleBuyer, Status: domain.StatusValid, Details: domain.Details{Amount: ask}},
	}
	for _, m := range msgs {
		if err := n.Append(m); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	return n
}

func TestConcession_AcceptsSmallGap(t *testing.T) {
	for seed := uint64(0); seed < 50; seed++ {
		c := NewConcession(testScripts, WithRepeatProbability(0), WithSource(rand.NewPCG(seed, seed)))
		offer, err := c.NextOffer(negotiationAt(t, 6_000_000, 5_500_000))
		if err != nil {
			t.Fatalf("NextOffer() error = %v", err)
		}
		if offer.Total() != 5_500_000 {
			t.Fatalf("NextOffer() total = %d, want 5500000", offer.Total())
		}
		if offer.Memo != AgreeMemo {
			t.Errorf("NextOffer() memo = %q, want agreement", offer.Memo)
		}
	}
}

func TestConcession_HoldsMediumGap(t *testing.T) {
	for seed := uint64(0); seed < 50; seed++ {
		c := NewConcession(testScripts, WithRepeatProbability(0), WithSource(rand.NewPCG(seed, 1)))
		offer, err := c.NextOffer(negotiationAt(t, 6_000_000, 4_500_000))
		if err != nil {
			t.Fatalf("NextOffer() error = %v", err)
		}
		if offer.Total() != 6_000_000 {
			t.Fatalf("NextOffer() total = %d, want 6000000", offer.Total())
		}
		if offer.Memo == AgreeMemo || !slices.Contains(memoPool, offer.Memo) {
			t.Errorf("NextOffer() memo = %q, want one from the pool", offer.Memo)
		}
	}
}

func TestConcession_ConcedesLargeGap(t *testing.T) {
	for seed := uint64(0); seed < 200; seed++ {
		c := NewConcession(testScripts, WithRepeatProbability(0), WithSource(rand.NewPCG(seed, 7)))
		offer, err := c.NextOffer(negotiationAt(t, 8_000_000, 4_000_000))
		if err != nil {
			t.Fatalf("NextOffer() error = %v", err)
		}
		total := offer.Total()
		if total < 4_000_000 || total > 8_000_000 {
			t.Fatalf("NextOffer() total = %d, want within [4000000, 8000000]", total)
		}
		if total%amountRound != 0 {
			t.Errorf("NextOffer() total = %d, not a multiple of %d", total, amountRound)
		}
		if len(offer.Outputs) != 2 {
			t.Fatalf("NextOffer() outputs = %d, want 2", len(offer.Outputs))
		}
		if offer.Outputs[0].Amount%amountRound != 0 || offer.Outputs[0].Amount > total/2 {
			t.Errorf("first output = %d, want rounded half of %d", offer.Outputs[0].Amount, total)
		}
		if !bytes.Equal(offer.Outputs[0].Script, testScripts[0]) || !bytes.Equal(offer.Outputs[1].Script, testScripts[1]) {
			t.Errorf("outputs are not addressed to the seller scripts")
		}
	}
}

func TestConcession_RepeatsPriorOffer(t *testing.T) {
	c := NewConcession(testScripts, WithRepeatProbability(1))
	n := negotiationAt(t, 8_000_001, 4_000_000)

	offer, err := c.NextOffer(n)
	if err != nil {
		t.Fatalf("NextOffer() error = %v", err)
	}
	prior, _ := n.LastOffer()
	if len(offer.Outputs) != len(prior.Details.Outputs) {
		t.Fatalf("NextOffer() outputs = %v, want prior split", offer.Outputs)
	}
	for i := range offer.Outputs {
		if offer.Outputs[i].Amount != prior.Details.Outputs[i].Amount {
			t.Errorf("output %d = %d, want %d", i, offer.Outputs[i].Amount, prior.Details.Outputs[i].Amount)
		}
	}
}

func TestConcession_UsesAskWithFees(t *testing.T) {
	c := NewConcession(testScripts, WithRepeatProbability(0))
	n := domain.NewNegotiation("n1", "testnet")
	_ = n.Append(domain.Message{Type: domain.TypeBargainRequest, From: domain.RoleBuyer, Status: domain.StatusValid})
	_ = n.Append(domain.Message{Type: domain.TypeBargainRequestAck, From: domain.RoleSeller, Status: domain.StatusValid,
		Details: domain.Details{Outputs: []domain.Output{{Amount: 6_000_000, Script: testScripts[0]}}}})
	_ = n.Append(domain.Message{Type: domain.TypeBargainProposal, From: domain.RoleBuyer, Status: domain.StatusValid,
		Details: domain.Details{Amount: 5_400_000, Fees: 100_000}})

	offer, err := c.NextOffer(n)
	if err != nil {
		t.Fatalf("NextOffer() error = %v", err)
	}
	if offer.Total() != 5_500_000 {
		t.Errorf("NextOffer() total = %d, want 5500000", offer.Total())
	}
}

func TestConcession_MissingHistory(t *testing.T) {
	c := NewConcession(testScripts)

	n := domain.NewNegotiation("n1", "testnet")
	if _, err := c.NextOffer(n); !errors.Is(err, ErrNoBuyerMessage) {
		t.Errorf("NextOffer() error = %v, want ErrNoBuyerMessage", err)
	}

	_ = n.Append(domain.Message{Type: domain.TypeBargainRequest, From: domain.RoleBuyer, Status: domain.StatusValid})
	if _, err := c.NextOffer(n); !errors.Is(err, ErrNoPriorOffer) {
		t.Errorf("NextOffer() error = %v, want ErrNoPriorOffer", err)
	}
}
