package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/tjfontaine/bargain-gateway/internal/domain"
	"github.com/tjfontaine/bargain-gateway/internal/storage"
)

func newNegotiation(t *testing.T, id string) *domain.Negotiation {
	t.Helper()
	n := domain.NewNegotiation(id, "testnet")
	err := n.Append(domain.Message{Type: domain.TypeBargainRequest, From: domain.RoleBuyer, Status: domain.StatusValid})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return n
}

func TestMemoryStore_Create(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.Create(ctx, newNegotiation(t, "nego-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	retrieved, err := store.Get(ctx, "nego-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if retrieved.ID() != "nego-1" || retrieved.Len() != 1 {
		t.Errorf("Get() = %s/%d, want nego-1/1", retrieved.ID(), retrieved.Len())
	}

	// A second create must not replace the stored entry.
	dup := newNegotiation(t, "nego-1")
	_ = dup.Append(domain.Message{Type: domain.TypeBargainRequestAck, From: domain.RoleSeller, Status: domain.StatusValid})
	if err := store.Create(ctx, dup); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("Create() error = %v, want ErrAlreadyExists", err)
	}
	retrieved, _ = store.Get(ctx, "nego-1")
	if retrieved.Len() != 1 {
		t.Errorf("failed Create() changed the stored entry: len = %d", retrieved.Len())
	}

	if err := store.Create(ctx, nil); !errors.Is(err, storage.ErrNilNegotiation) {
		t.Errorf("Create(nil) error = %v, want ErrNilNegotiation", err)
	}
}

func TestMemoryStore_Update(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.Update(ctx, newNegotiation(t, "missing")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("failed Update() created an entry")
	}

	n := newNegotiation(t, "nego-2")
	if err := store.Create(ctx, n); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := n.Append(domain.Message{Type: domain.TypeBargainRequestAck, From: domain.RoleSeller, Status: domain.StatusValid}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	before, _ := store.Get(ctx, "nego-2")
	if before.Len() != 1 {
		t.Errorf("store shares state with the caller: len = %d", before.Len())
	}

	if err := store.Update(ctx, n); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	after, _ := store.Get(ctx, "nego-2")
	if after.Len() != 2 || after.Status() != domain.NegotiationNegotiating {
		t.Errorf("Get() after Update() = %d/%s", after.Len(), after.Status())
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.Create(ctx, newNegotiation(t, "nego-3")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Delete(ctx, "nego-3"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "nego-3"); err == nil {
		t.Error("Get() expected error for deleted negotiation")
	}
	if err := store.Delete(ctx, "nego-3"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_GetBlankID(t *testing.T) {
	store := New()
	for _, id := range []string{"", "   "} {
		if _, err := store.Get(context.Background(), id); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestMemoryStore_List(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if err := store.Create(ctx, newNegotiation(t, id)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	negos, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(negos) != 3 {
		t.Fatalf("List() count = %d, want 3", len(negos))
	}
	if negos[0].ID() != "a" || negos[2].ID() != "c" {
		t.Errorf("List() order = %s,%s,%s", negos[0].ID(), negos[1].ID(), negos[2].ID())
	}
}
