// Package negotiator computes the seller's counter-offers and assembles the
// seller's outbound messages.
package negotiator

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/tjfontaine/bargain-gateway/internal/domain"
)

const (
	// Amounts are in the smallest currency unit.
	acceptGap   = 1_000_000
	holdGap     = 2_000_000
	amountRound = 100_000

	defaultRepeatProbability = 0.10
)

// AgreeMemo is sent when the seller accepts the buyer's ask.
const AgreeMemo = "Ok for this price. Please confirm the deal."

var memoPool = []string{
	"Come on ! This is an Intel Xeon",
	"This is cheaper than free",
	"There's 256 IP addresses !",
	"Oh please. I have many devices to feed",
	"Do you try to kill my business ?",
	"Did you notice the 32 cores and 64 threads ?",
	"Let's agree on this price and I add a 2TB disk",
	"What ? You're not serious ?",
	"I can't propose a better price",
	"Do you know the price on AWS ?",
	"This is our last available instance. Don't miss the opportunity",
	"Ok. I propose this price for a different model with 16 cores",
	"Let's agree on this price and I add 16GB RAM",
	"How about a laptop, instead ?",
	"You won't find a better price anywhere else",
	"This is the best model available right now !",
	"This is an incredible opportunity !",
	"This is my best price",
}

var (
	ErrNoBuyerMessage = errors.New("negotiator: no buyer message to answer")
	ErrNoPriorOffer   = errors.New("negotiator: no prior seller offer")
)

// Offer is a seller counter-offer.
type Offer struct {
	Outputs []domain.Output
	Memo    string
}

// Total returns the sum of the offer outputs.
func (o Offer) Total() int64 {
	var total int64
	for _, out := range o.Outputs {
		total += out.Amount
	}
	return total
}

// Strategy computes the next seller offer from the negotiation history.
type Strategy interface {
	NextOffer(nego *domain.Negotiation) (Offer, error)
}

// Concession is the randomized concession strategy: it converges toward the
// buyer's ask by random discounts of at most half the remaining gap.
type Concession struct {
	scripts [2][]byte
	repeat  float64

	mu  sync.Mutex
	rng *rand.Rand
}

// ConcessionOption configures a Concession.
type ConcessionOption func(*Concession)

// WithSource fixes the random source, for reproducible runs.
func WithSource(src rand.Source) ConcessionOption {
	return func(c *Concession) { c.rng = rand.New(src) }
}

// WithRepeatProbability sets the chance of repeating the prior offer verbatim.
func WithRepeatProbability(p float64) ConcessionOption {
	return func(c *Concession) { c.repeat = p }
}

// NewConcession returns a strategy paying to the two given destination scripts.
func NewConcession(scripts [2][]byte, opts ...ConcessionOption) *Concession {
	c := &Concession{
		scripts: scripts,
		repeat:  defaultRepeatProbability,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NextOffer implements Strategy.
func (c *Concession) NextOffer(nego *domain.Negotiation) (Offer, error) {
	buyer, ok := nego.LastBuyerMessage()
	if !ok {
		return Offer{}, ErrNoBuyerMessage
	}
	prior, ok := nego.LastOffer()
	if !ok {
		return Offer{}, ErrNoPriorOffer
	}
	ask := buyer.Details.Amount + buyer.Details.Fees
	priorAmount := prior.Details.OfferedAmount()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rng.Float64() < c.repeat {
		outputs := make([]domain.Output, len(prior.Details.Outputs))
		copy(outputs, prior.Details.Outputs)
		return Offer{Outputs: outputs, Memo: c.memo(priorAmount, ask)}, nil
	}

	total := c.concede(ask, priorAmount)
	return Offer{Outputs: c.split(total), Memo: c.memo(total, ask)}, nil
}

func (c *Concession) concede(ask, prior int64) int64 {
	gap := prior - ask
	switch {
	case gap < acceptGap:
		return ask
	case gap < holdGap:
		return prior
	}
	discount := int64(c.rng.Float64() * float64(gap) / 2)
	return max(ask, roundDown(prior-discount))
}

// split pays the rounded half of total to the first script and the rest to the second.
func (c *Concession) split(total int64) []domain.Output {
	first := roundDown(total / 2)
	return []domain.Output{
		{Amount: first, Script: c.scripts[0]},
		{Amount: total - first, Script: c.scripts[1]},
	}
}

func (c *Concession) memo(offer, ask int64) string {
	if offer == ask {
		return AgreeMemo
	}
	return memoPool[c.rng.IntN(len(memoPool))]
}

func roundDown(x int64) int64 {
	return x / amountRound * amountRound
}
