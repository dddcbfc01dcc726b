// Package protocol holds the rule set applied to bargaining messages: the
// structural format check, the consistency check against a negotiation and
// the funds precheck on buyer proposals.
package protocol

import (
	"fmt"
	"time"

	"github.com/tjfontaine/bargain-gateway/internal/codec"
	"github.com/tjfontaine/bargain-gateway/internal/domain"
	"github.com/tjfontaine/bargain-gateway/internal/keyring"
)

const defaultMaxMemo = 4096

// Validator checks messages. The zero value is not usable; call NewValidator.
type Validator struct {
	now     func() time.Time
	maxMemo int
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock sets the clock used for offer expiry.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithMaxMemo bounds the memo length in bytes.
func WithMaxMemo(n int) Option {
	return func(v *Validator) { v.maxMemo = n }
}

func NewValidator(opts ...Option) *Validator {
	v := &Validator{now: time.Now, maxMemo: defaultMaxMemo}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// CheckFormat applies the per-type structural rules. Problems are recorded on
// the returned message, which is then Invalid.
func (v *Validator) CheckFormat(msg domain.Message, network string) domain.Message {
	var errs []string
	d := msg.Details

	if !msg.Type.Valid() {
		return msg.WithError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
	if d.Time <= 0 {
		errs = append(errs, "missing message time")
	}
	if len(d.Memo) > v.maxMemo {
		errs = append(errs, "memo is too long")
	}
	if d.Expires != 0 && d.Expires <= d.Time {
		errs = append(errs, "expiry precedes message time")
	}
	if msg.Type != domain.TypeBargainRequest && len(d.SellerData) == 0 {
		errs = append(errs, "missing seller data")
	}

	switch msg.Type {
	case domain.TypeBargainRequest:
		if d.Network != network {
			errs = append(errs, fmt.Sprintf("unexpected network %q", d.Network))
		}
	case domain.TypeBargainRequestAck, domain.TypeBargainProposalAck:
		errs = append(errs, checkOutputs(d.Outputs)...)
	case domain.TypeBargainProposal:
		if d.Amount <= 0 {
			errs = append(errs, "proposed amount must be positive")
		}
		if d.Fees < 0 {
			errs = append(errs, "fees must not be negative")
		}
		if d.Amount > domain.MaxAmount || d.Fees > domain.MaxAmount || d.Amount+d.Fees > domain.MaxAmount {
			errs = append(errs, "proposed amount out of range")
		}
		errs = append(errs, checkTransactions(d.Transactions)...)
	case domain.TypeBargainCompletion:
		errs = append(errs, checkTransactions(d.Transactions)...)
	}

	return msg.WithErrors(errs...)
}

func checkOutputs(outs []domain.Output) []string {
	if len(outs) == 0 {
		return []string{"offer carries no outputs"}
	}
	var errs []string
	for i, o := range outs {
		if o.Amount <= 0 || o.Amount > domain.MaxAmount {
			errs = append(errs, fmt.Sprintf("output %d amount out of range", i))
		}
		if len(o.Script) == 0 {
			errs = append(errs, fmt.Sprintf("output %d has no destination script", i))
		}
	}
	return errs
}

func checkTransactions(txs []domain.Transaction) []string {
	if len(txs) == 0 {
		return []string{"missing transactions"}
	}
	var errs []string
	for i, tx := range txs {
		if len(tx.Inputs) == 0 {
			errs = append(errs, fmt.Sprintf("transaction %d has no inputs", i))
		}
		if len(tx.Outputs) == 0 {
			errs = append(errs, fmt.Sprintf("transaction %d has no outputs", i))
		}
		for j, o := range tx.Outputs {
			if o.Amount <= 0 || o.Amount > domain.MaxAmount {
				errs = append(errs, fmt.Sprintf("transaction %d output %d amount out of range", i, j))
			}
		}
	}
	return errs
}

// CheckConsistency checks msg against the state of nego. A message that
// passes is returned Valid; an already Invalid message is returned unchanged.
func (v *Validator) CheckConsistency(msg domain.Message, nego *domain.Negotiation) domain.Message {
	if msg.IsInvalid() {
		return msg
	}
	if nego.IsTerminal() {
		return msg.WithError("negotiation is closed")
	}
	if !nego.Accepts(msg.Type) {
		return msg.WithError(fmt.Sprintf("unexpected message type %s", msg.Type))
	}
	if msg.From != nego.NextActiveRole() {
		return msg.WithError(fmt.Sprintf("message from %s out of turn", msg.From))
	}

	if msg.Type == domain.TypeBargainRequest {
		if msg.Details.Network != nego.Network() {
			return msg.WithError("network does not match the negotiation")
		}
	} else if codec.NegotiationID(msg) != nego.ID() {
		return msg.WithError("seller data does not match the negotiation")
	}

	if msg.From == domain.RoleBuyer && msg.Type != domain.TypeBargainCancellation {
		if offer, ok := nego.LastOffer(); ok && offer.Details.Expires > 0 &&
			v.now().Unix() > offer.Details.Expires {
			return msg.WithError("offer has expired")
		}
	}

	if msg.From == domain.RoleSeller {
		prev, _ := nego.LastMessage()
		if err := keyring.Verify(msg, prev); err != nil {
			return msg.WithError(fmt.Sprintf("invalid signature: %v", err))
		}
	}

	return msg.WithStatus(domain.StatusValid)
}
