// Package bargain is the HTTP frontdoor of the seller: it maps POST /bargain
// onto the orchestrator and exposes a diagnostic listing.
package bargain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/bargain-gateway/internal/bargain"
	"github.com/tjfontaine/bargain-gateway/internal/codec"
	"github.com/tjfontaine/bargain-gateway/internal/domain"
	"github.com/tjfontaine/bargain-gateway/internal/server"
)

const defaultMaxBodyBytes = 64 << 10

// Orchestrator is the part of bargain.Service the handler needs.
type Orchestrator interface {
	Handle(ctx context.Context, in bargain.Inbound) (*bargain.Outcome, error)
	Negotiations(ctx context.Context) ([]*domain.Negotiation, error)
}

type Handler struct {
	svc          Orchestrator
	maxBodyBytes int64
	logger       *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxBodyBytes caps the size of inbound messages.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithLogger sets the logger for the handler.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func NewHandler(svc Orchestrator, opts ...Option) *Handler {
	h := &Handler{
		svc:          svc,
		maxBodyBytes: defaultMaxBodyBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.With(server.NoCache).Post("/bargain", h.HandleBargain)
	r.Get("/admin/negotiations", h.HandleListNegotiations)
	r.Get("/healthz", h.HandleHealth)
}

// HandleBargain answers one negotiation message. The reply, when there is
// one, is the serialized seller message; a bare acknowledgement is an empty 200.
func (h *Handler) HandleBargain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	server.AddLogField(ctx, "frontdoor", "bargain")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		apiErr := domain.ErrInvalidRequest("unable to read message").WithCause(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiErr = domain.ErrInvalidRequest("message too large").WithCause(err).
				WithStatusCode(http.StatusRequestEntityTooLarge)
		}
		h.writeError(w, r, apiErr)
		return
	}

	out, err := h.svc.Handle(ctx, bargain.Inbound{
		ContentType:      r.Header.Get("Content-Type"),
		TransferEncoding: r.Header.Get("Content-Transfer-Encoding"),
		Body:             body,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	server.AddLogField(ctx, "negotiation_id", out.NegotiationID)
	server.AddLogField(ctx, "message_type", string(out.InboundType))
	server.AddLogField(ctx, "negotiation_status", string(out.Status))

	if out.Message == nil {
		server.AddLogField(ctx, "outcome", "ack")
		server.AddLogField(ctx, "reason", out.Reason)
		w.WriteHeader(http.StatusOK)
		return
	}

	server.AddLogField(ctx, "outcome", "reply")
	server.AddLogField(ctx, "reply_type", string(out.Message.Type))

	hdr := w.Header()
	hdr.Set("Content-Type", codec.MediaType(out.Message.Type))
	hdr.Set("Content-Transfer-Encoding", codec.TransferEncodingBinary)
	if len(out.NextTypes) > 0 {
		hdr.Set("Accept", strings.Join(codec.MediaTypes(out.NextTypes), ", "))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Message.Raw); err != nil {
		h.logger.Warn("failed to write reply",
			slog.String("request_id", server.GetRequestID(ctx)),
			slog.String("negotiation_id", out.NegotiationID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	server.AddError(r.Context(), err)

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		apiErr = domain.ErrServer("internal error", err)
	}
	if apiErr.HTTPStatusCode() >= http.StatusInternalServerError {
		h.logger.Error("bargain request failed",
			slog.String("request_id", server.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatusCode())
	json.NewEncoder(w).Encode(map[string]*domain.APIError{"error": apiErr})
}

// NegotiationSummary is one entry of the diagnostic listing.
type NegotiationSummary struct {
	ID        string   `json:"id"`
	Network   string   `json:"network"`
	Status    string   `json:"status"`
	Messages  int      `json:"messages"`
	LastType  string   `json:"last_type,omitempty"`
	NextTypes []string `json:"next_types"`
}

func (h *Handler) HandleListNegotiations(w http.ResponseWriter, r *http.Request) {
	server.AddLogField(r.Context(), "frontdoor", "admin")

	negos, err := h.svc.Negotiations(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	list := make([]NegotiationSummary, 0, len(negos))
	for _, n := range negos {
		s := NegotiationSummary{
			ID:        n.ID(),
			Network:   n.Network(),
			Status:    string(n.Status()),
			Messages:  n.Len(),
			NextTypes: codec.MediaTypes(n.NextMessageTypes()),
		}
		if last, ok := n.LastMessage(); ok {
			s.LastType = string(last.Type)
		}
		list = append(list, s)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": list})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}
