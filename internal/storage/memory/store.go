package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tjfontaine/bargain-gateway/internal/domain"
	"github.com/tjfontaine/bargain-gateway/internal/storage"
)

// Store is an in-memory implementation of NegotiationStore
type Store struct {
	mu           sync.RWMutex
	negotiations map[string]*domain.Negotiation
}

var _ storage.NegotiationStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		negotiations: make(map[string]*domain.Negotiation),
	}
}

func (s *Store) Create(ctx context.Context, nego *domain.Negotiation) error {
	if err := storage.CheckNegotiation(nego); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.negotiations[nego.ID()]; exists {
		return fmt.Errorf("negotiation %s: %w", nego.ID(), storage.ErrAlreadyExists)
	}

	s.negotiations[nego.ID()] = nego.Clone()
	return nil
}

func (s *Store) Update(ctx context.Context, nego *domain.Negotiation) error {
	if err := storage.CheckNegotiation(nego); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.negotiations[nego.ID()]; !exists {
		return fmt.Errorf("negotiation %s: %w", nego.ID(), storage.ErrNotFound)
	}

	s.negotiations[nego.ID()] = nego.Clone()
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.negotiations[id]; !exists {
		return fmt.Errorf("negotiation %s: %w", id, storage.ErrNotFound)
	}

	delete(s.negotiations, id)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Negotiation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, storage.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	nego, exists := s.negotiations[id]
	if !exists {
		return nil, fmt.Errorf("negotiation %s: %w", id, storage.ErrNotFound)
	}

	return nego.Clone(), nil
}

func (s *Store) List(ctx context.Context) ([]*domain.Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Negotiation, 0, len(s.negotiations))
	for _, nego := range s.negotiations {
		result = append(result, nego.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })

	return result, nil
}

func (s *Store) Close() error {
	return nil
}
