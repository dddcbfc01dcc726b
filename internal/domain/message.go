package domain

// MessageType identifies a bargaining message. Values match the suffix of the
// protocol's media types (application/bitcoin-<type>).
type MessageType string

const (
	TypeBargainRequest      MessageType = "bargainrequest"
	TypeBargainRequestAck   MessageType = "bargainrequestack"
	TypeBargainProposal     MessageType = "bargainproposal"
	TypeBargainProposalAck  MessageType = "bargainproposalack"
	TypeBargainCompletion   MessageType = "bargaincompletion"
	TypeBargainCancellation MessageType = "bargaincancellation"
)

// MessageTypes lists every type known to the protocol.
var MessageTypes = []MessageType{
	TypeBargainRequest,
	TypeBargainRequestAck,
	TypeBargainProposal,
	TypeBargainProposalAck,
	TypeBargainCompletion,
	TypeBargainCancellation,
}

// Valid reports whether t is a protocol message type.
func (t MessageType) Valid() bool {
	for _, known := range MessageTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Role is a party of the negotiation.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// MessageStatus is the verdict of the validation stages on a message.
type MessageStatus string

const (
	StatusUndetermined MessageStatus = "undetermined"
	StatusValid        MessageStatus = "valid"
	StatusInvalid      MessageStatus = "invalid"
)

// MaxAmount bounds every amount carried by a message, in smallest currency
// units (21 million coins of 10^8 units). Sums of in-range amounts stay far
// below the int64 limit.
const MaxAmount int64 = 21_000_000 * 100_000_000

// Output is an amount paid to a destination script.
type Output struct {
	Amount int64
	Script []byte
}

// TxInput references funds spent by a buyer transaction.
type TxInput struct {
	PrevScript []byte
	Amount     int64
}

// Transaction is a buyer transaction attached to a proposal.
type Transaction struct {
	ID      string
	Inputs  []TxInput
	Outputs []Output
}

// Details is the payload of a message. Fields irrelevant to a given type are
// left zero.
type Details struct {
	Time         int64
	BuyerData    []byte
	SellerData   []byte
	Network      string
	Amount       int64
	Fees         int64
	Outputs      []Output
	Transactions []Transaction
	Memo         string
	Expires      int64
	CallbackURI  string
}

// OfferedAmount is the total requested by a seller offer, or the amount
// proposed by the buyer when the message carries no outputs.
func (d Details) OfferedAmount() int64 {
	if len(d.Outputs) == 0 {
		return d.Amount
	}
	var total int64
	for _, o := range d.Outputs {
		total += o.Amount
	}
	return total
}

// Message is a bargaining message. Messages are values: the With* helpers
// return modified copies and the slices they hold are never written after
// construction.
type Message struct {
	Type          MessageType
	From          Role
	Details       Details
	Status        MessageStatus
	Errors        []string
	Signature     []byte
	SignatureType string
	PublicKey     []byte
	Raw           []byte
}

// WithStatus returns a copy of m with the given status.
func (m Message) WithStatus(s MessageStatus) Message {
	m.Status = s
	return m
}

// WithError returns a copy of m marked invalid with reason appended to its errors.
func (m Message) WithError(reason string) Message {
	return m.WithErrors(reason)
}

// WithErrors returns a copy of m marked invalid with reasons appended. With no
// reasons m is returned unchanged.
func (m Message) WithErrors(reasons ...string) Message {
	if len(reasons) == 0 {
		return m
	}
	errs := make([]string, 0, len(m.Errors)+len(reasons))
	errs = append(errs, m.Errors...)
	errs = append(errs, reasons...)
	m.Errors = errs
	m.Status = StatusInvalid
	return m
}

// IsInvalid reports whether a validation stage rejected the message.
func (m Message) IsInvalid() bool {
	return m.Status == StatusInvalid
}
