package protocol

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/tjfontaine/bargain-gateway/internal/domain"
)

// FundsVerdict is the result of a funds precheck.
type FundsVerdict int

const (
	FundsOK FundsVerdict = iota
	FundsInsufficient
	FundsUnknown
)

func (v FundsVerdict) String() string {
	switch v {
	case FundsOK:
		return "ok"
	case FundsInsufficient:
		return "insufficient"
	default:
		return "unknown"
	}
}

// PrecheckFunds verifies that the transactions of a buyer proposal pay at least
// the proposed amount to the scripts of the prior seller offer, and that the
// funds behind their inputs cover amount plus fees. A proposal without
// transactions is left to the format check. FundsUnknown means the ledger
// could not answer; the proposal is returned unchanged.
func PrecheckFunds(ctx context.Context, proposal, prior domain.Message, lookup domain.FundsLookup) (domain.Message, FundsVerdict) {
	d := proposal.Details
	if len(d.Transactions) == 0 {
		return proposal, FundsOK
	}
	if len(prior.Details.Outputs) == 0 {
		return proposal.WithError("no prior offer to pay"), FundsInsufficient
	}
	if d.Amount < 0 || d.Fees < 0 || d.Amount > domain.MaxAmount || d.Fees > domain.MaxAmount-d.Amount {
		return proposal.WithError("proposed amount out of range"), FundsInsufficient
	}
	required := d.Amount + d.Fees

	var paid int64
	var inputs [][]byte
	for _, tx := range d.Transactions {
		for _, out := range tx.Outputs {
			if paysTo(out.Script, prior.Details.Outputs) {
				paid = addAmount(paid, out.Amount)
			}
		}
		for _, in := range tx.Inputs {
			if !containsScript(inputs, in.PrevScript) {
				inputs = append(inputs, in.PrevScript)
			}
		}
	}
	if paid < d.Amount {
		return proposal.WithError(fmt.Sprintf("transactions pay %d to the seller, proposal is %d", paid, d.Amount)),
			FundsInsufficient
	}

	var available int64
	for _, script := range inputs {
		sum, err := lookup.SumUnspent(ctx, script)
		if err != nil || sum < 0 {
			return proposal, FundsUnknown
		}
		available = addAmount(available, sum)
	}
	if available < required {
		return proposal.WithError(fmt.Sprintf("insufficient funds: %d available, %d required", available, required)),
			FundsInsufficient
	}
	return proposal, FundsOK
}

// addAmount adds b to a, saturating at math.MaxInt64. Non-positive b adds nothing.
func addAmount(a, b int64) int64 {
	if b <= 0 {
		return a
	}
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func paysTo(script []byte, outs []domain.Output) bool {
	for _, o := range outs {
		if bytes.Equal(o.Script, script) {
			return true
		}
	}
	return false
}

func containsScript(scripts [][]byte, s []byte) bool {
	for _, x := range scripts {
		if bytes.Equal(x, s) {
			return true
		}
	}
	return false
}
