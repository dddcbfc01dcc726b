package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
)

// Static answers lookups from a fixed table keyed by hex-encoded script.
// Unknown scripts hold nothing.
type Static struct {
	balances map[string]int64
}

// NewStatic validates the table and returns a lookup over it.
func NewStatic(balances map[string]int64) (*Static, error) {
	s := &Static{balances: make(map[string]int64, len(balances))}
	for k, v := range balances {
		key := strings.ToLower(k)
		if _, err := hex.DecodeString(key); err != nil {
			return nil, fmt.Errorf("ledger: balance key %q is not hex: %w", k, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("ledger: negative balance for %s", k)
		}
		s.balances[key] = v
	}
	return s, nil
}

// SumUnspent implements domain.FundsLookup.
func (s *Static) SumUnspent(_ context.Context, script []byte) (int64, error) {
	return s.balances[hex.EncodeToString(script)], nil
}
