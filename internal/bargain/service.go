// Package bargain orchestrates the seller side of a negotiation: for each
// inbound message it decides the effect on the session store and the reply.
package bargain

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/bargain-gateway/internal/codec"
	"github.com/tjfontaine/bargain-gateway/internal/domain"
	"github.com/tjfontaine/bargain-gateway/internal/protocol"
	"github.com/tjfontaine/bargain-gateway/internal/storage"
)

// Checker runs the format and consistency checks on inbound messages.
type Checker interface {
	CheckFormat(msg domain.Message, network string) domain.Message
	CheckConsistency(msg domain.Message, nego *domain.Negotiation) domain.Message
}

// Builder produces the seller's reply for a negotiation.
type Builder interface {
	Build(nego *domain.Negotiation) (domain.Message, bool)
}

// Inbound is one message as received from the transport.
type Inbound struct {
	ContentType      string
	TransferEncoding string
	Body             []byte
}

// Reasons for answering without a message.
const (
	ReasonNotFound     = "negotiation not found"
	ReasonDuplicate    = "duplicate message"
	ReasonClosed       = "negotiation closed"
	ReasonUndetermined = "funds undetermined"
	ReasonTerminal     = "negotiation terminal"
	ReasonNoReply      = "no reply built"
)

// Outcome is the result of handling an inbound message. A nil Message is a
// bare acknowledgement; Reason then says why.
type Outcome struct {
	Message       *domain.Message
	NextTypes     []domain.MessageType
	NegotiationID string
	InboundType   domain.MessageType
	Status        domain.NegotiationStatus
	Reason        string
}

// Config holds the orchestrator settings.
type Config struct {
	Network string
	// ReclaimTerminal removes negotiations from the store once they end.
	ReclaimTerminal bool
}

// Service is the request orchestrator.
type Service struct {
	store     storage.NegotiationStore
	checker   Checker
	assembler Builder
	funds     domain.FundsLookup
	cfg       Config
	locks     *keyedMutex
	newID     func() string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithIDGenerator replaces the negotiation id generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

// NewService creates the orchestrator.
func NewService(store storage.NegotiationStore, checker Checker, assembler Builder, funds domain.FundsLookup, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:     store,
		checker:   checker,
		assembler: assembler,
		funds:     funds,
		cfg:       cfg,
		locks:     newKeyedMutex(),
		newID:     uuid.NewString,
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/tjfontaine/bargain-gateway/internal/bargain"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle processes one inbound message. Protocol disagreements never produce
// an error: they end in a Cancellation reply. Errors are *domain.APIError.
func (s *Service) Handle(ctx context.Context, in Inbound) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "bargain.handle")
	defer span.End()

	if err := codec.CheckFraming(in.ContentType, in.TransferEncoding); err != nil {
		return nil, domain.ErrInvalidRequest(err.Error()).WithCause(err)
	}

	msg, err := codec.Decode(in.Body)
	if err != nil {
		span.RecordError(err)
		return nil, domain.ErrDecode(err)
	}
	msg.From = domain.RoleBuyer
	span.SetAttributes(attribute.String("bargain.message_type", string(msg.Type)))

	var out *Outcome
	if msg.Type == domain.TypeBargainRequest {
		out, err = s.start(ctx, msg)
	} else {
		out, err = s.resume(ctx, msg)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out.InboundType = msg.Type
	span.SetAttributes(
		attribute.String("bargain.negotiation_id", out.NegotiationID),
		attribute.String("bargain.status", string(out.Status)),
	)
	return out, nil
}

// start opens a negotiation on a BargainRequest. A malformed request is
// answered with a Cancellation from a negotiation that is never stored.
func (s *Service) start(ctx context.Context, msg domain.Message) (*Outcome, error) {
	id := s.newID()
	logger := s.logger.With("negotiation_id", id)
	nego := domain.NewNegotiation(id, s.cfg.Network)

	msg = s.checker.CheckFormat(msg, s.cfg.Network)
	if msg.IsInvalid() {
		logger.Info("rejecting bargain request", "errors", msg.Errors)
		if err := nego.Append(msg); err != nil {
			return nil, domain.ErrServer("append request", err)
		}
		return s.reply(ctx, nego, false), nil
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	msg = s.checker.CheckConsistency(msg, nego)
	if err := nego.Append(msg); err != nil {
		return nil, domain.ErrServer("append request", err)
	}
	if err := s.store.Create(ctx, nego); err != nil {
		logger.Error("failed to create negotiation", "error", err)
		return nil, domain.ErrServer("create negotiation", err)
	}
	logger.Info("negotiation opened", "network", nego.Network())

	return s.reply(ctx, nego, true), nil
}

// resume continues a stored negotiation under its per-id lock.
func (s *Service) resume(ctx context.Context, msg domain.Message) (*Outcome, error) {
	id := codec.NegotiationID(msg)
	logger := s.logger.With("negotiation_id", id, "message_type", msg.Type)
	if id == "" {
		logger.Info("message without a negotiation id")
		return &Outcome{Reason: ReasonNotFound}, nil
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	nego, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Info("message for an unknown negotiation")
		return &Outcome{NegotiationID: id, Reason: ReasonNotFound}, nil
	}
	if err != nil {
		logger.Error("failed to load negotiation", "error", err)
		return nil, domain.ErrServer("load negotiation", err)
	}

	ack := &Outcome{NegotiationID: id, Status: nego.Status()}
	if nego.AlreadyReceived(msg) {
		ack.Reason = ReasonDuplicate
		return ack, nil
	}
	if nego.IsTerminal() {
		ack.Reason = ReasonClosed
		return ack, nil
	}

	verdict := protocol.FundsOK
	if msg.Type == domain.TypeBargainProposal {
		prior, _ := nego.LastOffer()
		msg, verdict = protocol.PrecheckFunds(ctx, msg, prior, s.funds)
	}
	msg = s.checker.CheckFormat(msg, nego.Network())
	if !msg.IsInvalid() {
		msg = s.checker.CheckConsistency(msg, nego)
	}

	// Without an asynchronous channel an undetermined message is not logged,
	// so the buyer's resend is processed afresh.
	if verdict == protocol.FundsUnknown && !msg.IsInvalid() {
		logger.Warn("funds could not be verified, deferring")
		ack.Reason = ReasonUndetermined
		return ack, nil
	}
	if msg.IsInvalid() {
		logger.Info("message rejected", "errors", msg.Errors)
	}

	if err := nego.Append(msg); err != nil {
		return nil, domain.ErrServer("append message", err)
	}
	if err := s.store.Update(ctx, nego); err != nil {
		logger.Error("failed to update negotiation", "error", err)
		return nil, domain.ErrServer("update negotiation", err)
	}

	return s.reply(ctx, nego, true), nil
}

// reply builds, logs and persists the seller's answer. persisted is false for
// negotiations that were never stored.
func (s *Service) reply(ctx context.Context, nego *domain.Negotiation, persisted bool) *Outcome {
	out := &Outcome{NegotiationID: nego.ID(), Status: nego.Status()}
	logger := s.logger.With("negotiation_id", nego.ID())

	if nego.IsTerminal() {
		s.reclaim(ctx, nego, persisted)
		out.Reason = ReasonTerminal
		return out
	}

	msg, ok := s.assembler.Build(nego)
	if !ok {
		out.Reason = ReasonNoReply
		return out
	}
	if err := nego.Append(msg); err != nil {
		logger.Warn("unable to log seller message", "error", err)
		out.Reason = ReasonNoReply
		return out
	}
	if persisted {
		if err := s.store.Update(ctx, nego); err != nil {
			logger.Error("failed to persist seller message", "error", err)
			out.Reason = ReasonNoReply
			return out
		}
	}
	s.reclaim(ctx, nego, persisted)

	out.Message = &msg
	out.NextTypes = nego.NextMessageTypes()
	out.Status = nego.Status()
	logger.Info("seller replied", "reply_type", msg.Type, "status", nego.Status())
	return out
}

func (s *Service) reclaim(ctx context.Context, nego *domain.Negotiation, persisted bool) {
	if !persisted || !s.cfg.ReclaimTerminal || !nego.IsTerminal() {
		return
	}
	if err := s.store.Delete(ctx, nego.ID()); err != nil {
		s.logger.Warn("failed to reclaim negotiation", "negotiation_id", nego.ID(), "error", err)
	}
}

// Negotiations lists the stored negotiations.
func (s *Service) Negotiations(ctx context.Context) ([]*domain.Negotiation, error) {
	negos, err := s.store.List(ctx)
	if err != nil {
		return nil, domain.ErrServer("list negotiations", err)
	}
	return negos, nil
}
