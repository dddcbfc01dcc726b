package codec

import (
	"errors"
	"fmt"

	"github.com/tjfontaine/bargain-gateway/internal/domain"
)

// ErrNoSellerData is returned when a message carries no seller correlation blob.
var ErrNoSellerData = errors.New("no seller data")

// SellerData is the correlation blob the buyer round-trips untouched.
type SellerData struct {
	NegotiationID string `cbor:"nid,omitempty"`
	ProductID     string `cbor:"pid,omitempty"`
}

// EncodeSellerData serializes sd.
func EncodeSellerData(sd SellerData) ([]byte, error) {
	b, err := encMode.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("encode seller data: %w", err)
	}
	return b, nil
}

// DecodeSellerData parses the seller blob of a message.
func DecodeSellerData(msg domain.Message) (SellerData, error) {
	var sd SellerData
	if len(msg.Details.SellerData) == 0 {
		return sd, ErrNoSellerData
	}
	if err := decMode.Unmarshal(msg.Details.SellerData, &sd); err != nil {
		return SellerData{}, fmt.Errorf("decode seller data: %w", err)
	}
	return sd, nil
}

// NegotiationID extracts the session id from the seller blob of msg. It returns
// an empty string when the blob is missing or unreadable.
func NegotiationID(msg domain.Message) string {
	sd, err := DecodeSellerData(msg)
	if err != nil {
		return ""
	}
	return sd.NegotiationID
}
