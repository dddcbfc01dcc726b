package negotiator

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tjfontaine/bargain-gateway/internal/codec"
	"github.com/tjfontaine/bargain-gateway/internal/domain"
)

const (
	WelcomeMemo    = "Hi ! Here is our best offer for a BD-48T dedicated server (monthly rental)"
	CompletionMemo = "Deal ! Your transaction has been broadcast for validation"
	cancelMemo     = "We were unable to process your last message. Negotiation is aborted. Errors detected : %s"

	openingFirstOutput  = 150_000_000
	openingSecondOutput = 100_000_000
)

// Signer signs a seller message, binding it to the message it answers.
type Signer interface {
	Sign(msg, prev domain.Message) (domain.Message, error)
}

// Checker runs the protocol checks on an outbound message.
type Checker interface {
	CheckFormat(msg domain.Message, network string) domain.Message
	CheckConsistency(msg domain.Message, nego *domain.Negotiation) domain.Message
}

// Config holds the seller's advertised parameters.
type Config struct {
	BargainURI string
	ProductID  string
	OfferTTL   time.Duration
}

// Assembler builds the seller's reply for the current state of a negotiation.
type Assembler struct {
	signer   Signer
	checker  Checker
	strategy Strategy
	scripts  [2][]byte
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithLogger sets the logger for the assembler.
func WithLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// WithClock sets the clock stamping outbound messages.
func WithClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) {
		a.now = now
	}
}

// NewAssembler creates an assembler paying the opening offer to scripts.
func NewAssembler(signer Signer, checker Checker, strategy Strategy, scripts [2][]byte, cfg Config, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		signer:   signer,
		checker:  checker,
		strategy: strategy,
		scripts:  scripts,
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build returns the signed and serialized seller reply. It reports false when
// it is not the seller's turn or when no well-formed reply could be built.
func (a *Assembler) Build(nego *domain.Negotiation) (domain.Message, bool) {
	if nego.NextActiveRole() != domain.RoleSeller {
		return domain.Message{}, false
	}
	msg, err := a.build(nego)
	if err != nil {
		a.logger.Warn("unable to build seller message",
			"negotiation_id", nego.ID(),
			"status", nego.Status(),
			"error", err)
		return domain.Message{}, false
	}
	return msg, true
}

func (a *Assembler) build(nego *domain.Negotiation) (domain.Message, error) {
	last, ok := nego.LastMessage()
	if !ok {
		return domain.Message{}, fmt.Errorf("empty negotiation")
	}

	now := a.now().Unix()
	sellerData, err := codec.EncodeSellerData(codec.SellerData{
		NegotiationID: nego.ID(),
		ProductID:     a.productID(last),
	})
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		From: domain.RoleSeller,
		Details: domain.Details{
			Time:       now,
			BuyerData:  last.Details.BuyerData,
			SellerData: sellerData,
		},
	}

	switch {
	case last.IsInvalid():
		msg.Type = domain.TypeBargainCancellation
		msg.Details.Memo = fmt.Sprintf(cancelMemo, strings.Join(last.Errors, ", "))
	case nego.Status() == domain.NegotiationInitialization:
		msg.Type = domain.TypeBargainRequestAck
		msg.Details.Network = nego.Network()
		msg.Details.Memo = WelcomeMemo
		msg.Details.CallbackURI = a.cfg.BargainURI
		msg.Details.Expires = now + int64(a.cfg.OfferTTL/time.Second)
		msg.Details.Outputs = []domain.Output{
			{Amount: openingFirstOutput, Script: a.scripts[0]},
			{Amount: openingSecondOutput, Script: a.scripts[1]},
		}
	case nego.Status() == domain.NegotiationNegotiating:
		offer, err := a.strategy.NextOffer(nego)
		if err != nil {
			return domain.Message{}, err
		}
		msg.Type = domain.TypeBargainProposalAck
		msg.Details.Outputs = offer.Outputs
		msg.Details.Memo = offer.Memo
		msg.Details.Expires = now + int64(a.cfg.OfferTTL/time.Second)
	case nego.Status() == domain.NegotiationCompletion:
		msg.Type = domain.TypeBargainCompletion
		msg.Details.Transactions = last.Details.Transactions
		msg.Details.Memo = CompletionMemo
	default:
		return domain.Message{}, fmt.Errorf("no reply for status %s", nego.Status())
	}
	if msg.Details.Expires == now {
		msg.Details.Expires = 0
	}

	msg = a.checker.CheckFormat(msg, nego.Network())
	if msg.IsInvalid() {
		return domain.Message{}, fmt.Errorf("format: %s", strings.Join(msg.Errors, "; "))
	}
	msg, err = a.signer.Sign(msg, last)
	if err != nil {
		return domain.Message{}, fmt.Errorf("sign: %w", err)
	}
	msg = a.checker.CheckConsistency(msg, nego)
	if msg.IsInvalid() {
		return domain.Message{}, fmt.Errorf("consistency: %s", strings.Join(msg.Errors, "; "))
	}
	raw, err := codec.Encode(msg)
	if err != nil {
		return domain.Message{}, err
	}
	msg.Raw = raw
	return msg, nil
}

// productID passes the buyer's round-tripped product through, falling back to
// the configured one.
func (a *Assembler) productID(last domain.Message) string {
	if sd, err := codec.DecodeSellerData(last); err == nil && sd.ProductID != "" {
		return sd.ProductID
	}
	return a.cfg.ProductID
}
