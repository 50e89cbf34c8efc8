package session

import (
	"context"
	"errors"
	"testing"

	"github.com/mmeshcher/agromart-gateway/internal/model"
	"github.com/mmeshcher/agromart-gateway/internal/repository"
)

type stubRepo struct {
	ident    *model.Identity
	getErr   error
	saved    *model.Identity
	saveErr  error
	deleted  []int64
	deleteErr error
}

func (s *stubRepo) SaveIdentity(ctx context.Context, ident *model.Identity) error {
	s.saved = ident
	return s.saveErr
}

func (s *stubRepo) GetIdentity(ctx context.Context, userID int64) (*model.Identity, error) {
	return s.ident, s.getErr
}

func (s *stubRepo) DeleteUserState(ctx context.Context, userID int64) error {
	s.deleted = append(s.deleted, userID)
	return s.deleteErr
}

func TestCurrent_FailsClosed(t *testing.T) {
	repo := &stubRepo{getErr: repository.ErrNoSession}
	m := NewManager(repo)

	if ident := m.Current(context.Background(), 1); ident != nil {
		t.Fatalf("Current must return nil on missing session, got %+v", ident)
	}

	repo.getErr = errors.New("connection refused")
	if ident := m.Current(context.Background(), 1); ident != nil {
		t.Fatalf("Current must return nil on storage error, got %+v", ident)
	}
}

func TestSave_RequiresUserID(t *testing.T) {
	m := NewManager(&stubRepo{})

	if err := m.Save(context.Background(), &model.Identity{}); err == nil {
		t.Fatalf("expected error for identity without user id")
	}
	if err := m.Save(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil identity")
	}
}

func TestIsAuthenticated(t *testing.T) {
	repo := &stubRepo{ident: &model.Identity{UserID: 1, Role: "DEALER", Token: "tok"}}
	m := NewManager(repo)

	if !m.IsAuthenticated(context.Background(), 1) {
		t.Fatalf("identity with token must be authenticated")
	}

	repo.ident = &model.Identity{UserID: 1, Role: "DEALER"}
	if m.IsAuthenticated(context.Background(), 1) {
		t.Fatalf("identity without token must not be authenticated")
	}
}

func TestHasAnyRole(t *testing.T) {
	repo := &stubRepo{ident: &model.Identity{UserID: 1, Role: "role_dealer", Token: "tok"}}
	m := NewManager(repo)

	if !m.HasAnyRole(context.Background(), 1, model.RoleDealer) {
		t.Fatalf("ROLE_-prefixed dealer must match DEALER")
	}
	if m.HasAnyRole(context.Background(), 1, model.RoleAdmin) {
		t.Fatalf("dealer must not match ADMIN")
	}

	repo.getErr = repository.ErrNoSession
	if m.HasAnyRole(context.Background(), 1, model.RoleDealer) {
		t.Fatalf("missing session must not match any role")
	}
}

func TestLogout_DeletesAllState(t *testing.T) {
	repo := &stubRepo{}
	m := NewManager(repo)

	if err := m.Logout(context.Background(), 7); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != 7 {
		t.Fatalf("deleted = %v, want [7]", repo.deleted)
	}
}
