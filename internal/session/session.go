// Package session реализует хранилище личности пользователя — единственный
// источник истины о том, кто вошёл в систему.
package session

import (
	"context"
	"fmt"

	"github.com/mmeshcher/agromart-gateway/internal/model"
)

// Repository описывает контракт доступа к сохранённому состоянию пользователя.
type Repository interface {
	SaveIdentity(ctx context.Context, ident *model.Identity) error
	GetIdentity(ctx context.Context, userID int64) (*model.Identity, error)
	DeleteUserState(ctx context.Context, userID int64) error
}

// Manager управляет сохранённой личностью пользователя.
type Manager struct {
	repo Repository
}

// NewManager создаёт хранилище сессий поверх репозитория.
func NewManager(repo Repository) *Manager {
	return &Manager{repo: repo}
}

// Current возвращает сохранённую личность пользователя.
// Любая проблема — отсутствие записи, повреждённые данные, недоступное
// хранилище — трактуется как «не вошёл»: возвращается nil, не ошибка.
func (m *Manager) Current(ctx context.Context, userID int64) *model.Identity {
	ident, err := m.repo.GetIdentity(ctx, userID)
	if err != nil {
		return nil
	}
	return ident
}

// Save перезаписывает личность пользователя безусловно, без слияния с предыдущей.
func (m *Manager) Save(ctx context.Context, ident *model.Identity) error {
	if ident == nil || ident.UserID == 0 {
		return fmt.Errorf("identity without user id")
	}
	return m.repo.SaveIdentity(ctx, ident)
}

// Logout удаляет всё сохранённое состояние пользователя, включая корзину.
func (m *Manager) Logout(ctx context.Context, userID int64) error {
	return m.repo.DeleteUserState(ctx, userID)
}

// IsAuthenticated сообщает, есть ли у пользователя действующий токен.
func (m *Manager) IsAuthenticated(ctx context.Context, userID int64) bool {
	ident := m.Current(ctx, userID)
	return ident != nil && ident.Token != ""
}

// HasAnyRole проверяет роль пользователя против перечисленных кандидатов.
func (m *Manager) HasAnyRole(ctx context.Context, userID int64, candidates ...model.Role) bool {
	return m.Current(ctx, userID).HasAnyRole(candidates...)
}
