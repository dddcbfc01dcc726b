// Package codec converts bargaining messages to and from their binary wire
// form. Envelopes and payloads are CBOR; payloads use canonical encoding so
// the bytes covered by a signature are reproducible.
package codec

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/tjfontaine/bargain-gateway/internal/domain"
)

// ErrEmptyMessage is returned when decoding zero bytes.
var ErrEmptyMessage = errors.New("empty message")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: build encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  16,
		MaxArrayElements: 4096,
		MaxMapPairs:      256,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: build decoder: %v", err))
	}
}

type envelope struct {
	Type          string `cbor:"1,keyasint"`
	Details       []byte `cbor:"2,keyasint"`
	Signature     []byte `cbor:"3,keyasint,omitempty"`
	SignatureType string `cbor:"4,keyasint,omitempty"`
	PublicKey     []byte `cbor:"5,keyasint,omitempty"`
}

type wireOutput struct {
	Amount int64  `cbor:"1,keyasint"`
	Script []byte `cbor:"2,keyasint"`
}

type wireInput struct {
	PrevScript []byte `cbor:"1,keyasint"`
	Amount     int64  `cbor:"2,keyasint,omitempty"`
}

type wireTransaction struct {
	ID      string       `cbor:"1,keyasint,omitempty"`
	Inputs  []wireInput  `cbor:"2,keyasint"`
	Outputs []wireOutput `cbor:"3,keyasint"`
}

type wireDetails struct {
	Time         int64             `cbor:"1,keyasint"`
	BuyerData    []byte            `cbor:"2,keyasint,omitempty"`
	SellerData   []byte            `cbor:"3,keyasint,omitempty"`
	Network      string            `cbor:"4,keyasint,omitempty"`
	Amount       int64             `cbor:"5,keyasint,omitempty"`
	Fees         int64             `cbor:"6,keyasint,omitempty"`
	Outputs      []wireOutput      `cbor:"7,keyasint,omitempty"`
	Transactions []wireTransaction `cbor:"8,keyasint,omitempty"`
	Memo         string            `cbor:"9,keyasint,omitempty"`
	Expires      int64             `cbor:"10,keyasint,omitempty"`
	CallbackURI  string            `cbor:"11,keyasint,omitempty"`
}

// signingPayload binds a message to the digest of the message it answers.
type signingPayload struct {
	Type     string `cbor:"1,keyasint"`
	Details  []byte `cbor:"2,keyasint"`
	Previous []byte `cbor:"3,keyasint"`
}

// Decode parses wire bytes into an undetermined message. The sender is left
// unset; the caller knows which side of the exchange it is on.
func Decode(b []byte) (domain.Message, error) {
	if len(b) == 0 {
		return domain.Message{}, ErrEmptyMessage
	}

	var env envelope
	if err := decMode.Unmarshal(b, &env); err != nil {
		return domain.Message{}, fmt.Errorf("decode envelope: %w", err)
	}

	var wd wireDetails
	if len(env.Details) > 0 {
		if err := decMode.Unmarshal(env.Details, &wd); err != nil {
			return domain.Message{}, fmt.Errorf("decode details: %w", err)
		}
	}

	raw := make([]byte, len(b))
	copy(raw, b)

	return domain.Message{
		Type:          domain.MessageType(env.Type),
		Details:       fromWire(wd),
		Status:        domain.StatusUndetermined,
		Signature:     env.Signature,
		SignatureType: env.SignatureType,
		PublicKey:     env.PublicKey,
		Raw:           raw,
	}, nil
}

// Encode serializes msg. Status, errors and sender are not part of the wire form.
func Encode(msg domain.Message) ([]byte, error) {
	details, err := encMode.Marshal(toWire(msg.Details))
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}

	b, err := encMode.Marshal(envelope{
		Type:          string(msg.Type),
		Details:       details,
		Signature:     msg.Signature,
		SignatureType: msg.SignatureType,
		PublicKey:     msg.PublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// SigningBytes returns the bytes a signature over msg must cover: its type,
// its canonical details and the digest of the previous message's wire form.
func SigningBytes(msg, prev domain.Message) ([]byte, error) {
	details, err := encMode.Marshal(toWire(msg.Details))
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	digest := sha256.Sum256(prev.Raw)

	b, err := encMode.Marshal(signingPayload{
		Type:     string(msg.Type),
		Details:  details,
		Previous: digest[:],
	})
	if err != nil {
		return nil, fmt.Errorf("encode signing payload: %w", err)
	}
	return b, nil
}

func toWire(d domain.Details) wireDetails {
	wd := wireDetails{
		Time:        d.Time,
		BuyerData:   d.BuyerData,
		SellerData:  d.SellerData,
		Network:     d.Network,
		Amount:      d.Amount,
		Fees:        d.Fees,
		Outputs:     outputsToWire(d.Outputs),
		Memo:        d.Memo,
		Expires:     d.Expires,
		CallbackURI: d.CallbackURI,
	}
	for _, tx := range d.Transactions {
		wt := wireTransaction{ID: tx.ID, Outputs: outputsToWire(tx.Outputs)}
		for _, in := range tx.Inputs {
			wt.Inputs = append(wt.Inputs, wireInput{PrevScript: in.PrevScript, Amount: in.Amount})
		}
		wd.Transactions = append(wd.Transactions, wt)
	}
	return wd
}

func fromWire(wd wireDetails) domain.Details {
	d := domain.Details{
		Time:        wd.Time,
		BuyerData:   wd.BuyerData,
		SellerData:  wd.SellerData,
		Network:     wd.Network,
		Amount:      wd.Amount,
		Fees:        wd.Fees,
		Outputs:     outputsFromWire(wd.Outputs),
		Memo:        wd.Memo,
		Expires:     wd.Expires,
		CallbackURI: wd.CallbackURI,
	}
	for _, wt := range wd.Transactions {
		tx := domain.Transaction{ID: wt.ID, Outputs: outputsFromWire(wt.Outputs)}
		for _, in := range wt.Inputs {
			tx.Inputs = append(tx.Inputs, domain.TxInput{PrevScript: in.PrevScript, Amount: in.Amount})
		}
		d.Transactions = append(d.Transactions, tx)
	}
	return d
}

func outputsToWire(outs []domain.Output) []wireOutput {
	if len(outs) == 0 {
		return nil
	}
	w := make([]wireOutput, len(outs))
	for i, o := range outs {
		w[i] = wireOutput{Amount: o.Amount, Script: o.Script}
	}
	return w
}

func outputsFromWire(w []wireOutput) []domain.Output {
	if len(w) == 0 {
		return nil
	}
	outs := make([]domain.Output, len(w))
	for i, o := range w {
		outs[i] = domain.Output{Amount: o.Amount, Script: o.Script}
	}
	return outs
}
