package domain

import "context"

// FundsLookup queries an external ledger for the unspent amount locked by a script.
type FundsLookup interface {
	SumUnspent(ctx context.Context, script []byte) (int64, error)
}

// FundsLookupFunc adapts a function to FundsLookup.
type FundsLookupFunc func(ctx context.Context, script []byte) (int64, error)

func (f FundsLookupFunc) SumUnspent(ctx context.Context, script []byte) (int64, error) {
	return f(ctx, script)
}
