// Package storage defines the negotiation store contract shared by the memory
// and SQL backends.
package storage

import (
	"context"
	"errors"

	"github.com/tjfontaine/bargain-gateway/internal/domain"
)

var (
	ErrAlreadyExists  = errors.New("negotiation already exists")
	ErrNotFound       = errors.New("negotiation not found")
	ErrNilNegotiation = errors.New("nil negotiation")
	ErrEmptyID        = errors.New("empty negotiation id")
)

// NegotiationStore maps session ids to negotiations. A failed mutation leaves
// the store unchanged. Implementations never share state with callers:
// negotiations are copied in and out.
type NegotiationStore interface {
	// Create inserts nego under its id. It fails with ErrAlreadyExists when
	// the id is present and with ErrNilNegotiation when nego is nil.
	Create(ctx context.Context, nego *domain.Negotiation) error

	// Update replaces the stored negotiation. It fails with ErrNotFound when
	// the id is absent.
	Update(ctx context.Context, nego *domain.Negotiation) error

	// Delete removes the negotiation. It fails with ErrNotFound when absent.
	Delete(ctx context.Context, id string) error

	// Get returns the negotiation or ErrNotFound. A blank id is never found.
	Get(ctx context.Context, id string) (*domain.Negotiation, error)

	// List returns every stored negotiation, for diagnostics.
	List(ctx context.Context) ([]*domain.Negotiation, error)

	Close() error
}

// CheckNegotiation validates the argument of Create and Update.
func CheckNegotiation(nego *domain.Negotiation) error {
	if nego == nil {
		return ErrNilNegotiation
	}
	if nego.ID() == "" {
		return ErrEmptyID
	}
	return nil
}
