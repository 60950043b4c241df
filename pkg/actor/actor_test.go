package actor

import (
	"context"
	"errors"
	"testing"
)

func TestMemStoreRegisterIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	a, err := s.Register(ctx, TypeHuman, "alice", "alice@example.com", RoleManager)
	if err != nil {
		t.Fatal(err)
	}
	again, err := s.Register(ctx, TypeHuman, "alice", "", RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != a.ID {
		t.Fatalf("expected same actor, got %s and %s", a.ID, again.ID)
	}
	if again.Role != RoleManager {
		t.Errorf("existing actor should keep its role, got %s", again.Role)
	}

	byEmail, _ := s.Register(ctx, TypeHuman, "alice2", "alice@example.com", RoleDeveloper)
	if byEmail.ID != a.ID {
		t.Errorf("expected email match to return existing actor")
	}
}

func TestMemStoreInvalidRole(t *testing.T) {
	if _, err := NewMemStore().Register(context.Background(), TypeHuman, "bob", "", "root"); err == nil {
		t.Fatal("expected invalid role error")
	}
}

func TestMemStoreLookups(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	dev, _ := s.Register(ctx, TypeHuman, "dev", "", RoleDeveloper)
	cascade, err := RegisterCascade(ctx, s, "cascade")
	if err != nil {
		t.Fatal(err)
	}
	if cascade.Type != TypeSystem || cascade.Role != RoleSystem {
		t.Errorf("expected system cascade actor, got %+v", cascade)
	}

	got, err := s.ByName(ctx, "dev")
	if err != nil || got.ID != dev.ID {
		t.Fatalf("expected dev by name, got %v, %v", got, err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	all, _ := s.List(ctx)
	if len(all) != 2 || all[0].ID != dev.ID {
		t.Errorf("expected [dev cascade] in creation order, got %+v", all)
	}

	promoted, err := s.SetRole(ctx, dev.ID, RoleManager)
	if err != nil || promoted.Role != RoleManager {
		t.Fatalf("expected manager role, got %v, %v", promoted, err)
	}
	if _, err := s.SetRole(ctx, "missing", RoleAdmin); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
