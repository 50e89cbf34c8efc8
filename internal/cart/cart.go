// Package cart реализует корзину дилера: упорядоченный список одобренных заявок,
// ожидающих оплаты. Каждая мутация сохраняет корзину целиком до возврата управления.
package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/agromart-gateway/internal/model"
)

// ErrItemNotFound возвращается при попытке изменить отсутствующую позицию.
var ErrItemNotFound = errors.New("cart item not found")

// Repository описывает контракт хранения снимков корзины.
type Repository interface {
	GetCart(ctx context.Context, userID int64) ([]model.CartItem, error)
	SaveCart(ctx context.Context, userID int64, items []model.CartItem) error
	DeleteCart(ctx context.Context, userID int64) error
}

// Store управляет корзинами дилеров поверх репозитория.
type Store struct {
	repo Repository
}

// NewStore создаёт хранилище корзин.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// Items возвращает позиции корзины в порядке добавления.
func (s *Store) Items(ctx context.Context, userID int64) ([]model.CartItem, error) {
	items, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return items, nil
}

// Add добавляет позицию в конец корзины. Повторное добавление заявки с тем же
// идентификатором — не ошибка, а no-op: возвращается false, корзина не меняется.
func (s *Store) Add(ctx context.Context, userID int64, item model.CartItem) (bool, error) {
	items, err := s.Items(ctx, userID)
	if err != nil {
		return false, err
	}

	for _, it := range items {
		if it.RequestID == item.RequestID {
			return false, nil
		}
	}

	item.Quantity = model.ClampQuantity(item.Quantity)
	if item.OfferedPrice < 0 {
		item.OfferedPrice = 0
	}

	items = append(items, item)
	if err := s.repo.SaveCart(ctx, userID, items); err != nil {
		return false, fmt.Errorf("persist cart: %w", err)
	}

	return true, nil
}

// UpdateQuantity меняет количество позиции на delta. Результат никогда
// не опускается ниже единицы.
func (s *Store) UpdateQuantity(ctx context.Context, userID, requestID int64, delta int) error {
	return s.mutate(ctx, userID, requestID, func(it *model.CartItem) {
		it.Quantity = model.ClampQuantity(it.Quantity + delta)
	})
}

// SetQuantity выставляет количество из пользовательского ввода.
func (s *Store) SetQuantity(ctx context.Context, userID, requestID int64, raw string) error {
	return s.mutate(ctx, userID, requestID, func(it *model.CartItem) {
		it.Quantity = model.ParseQuantity(raw)
	})
}

// SetPrice выставляет предложенную цену из пользовательского ввода.
// Некорректный или отрицательный ввод приводится к нулю, а не отклоняется.
func (s *Store) SetPrice(ctx context.Context, userID, requestID int64, raw string) error {
	return s.mutate(ctx, userID, requestID, func(it *model.CartItem) {
		it.OfferedPrice = model.ParsePrice(raw)
	})
}

func (s *Store) mutate(ctx context.Context, userID, requestID int64, fn func(*model.CartItem)) error {
	items, err := s.Items(ctx, userID)
	if err != nil {
		return err
	}

	found := false
	for i := range items {
		if items[i].RequestID == requestID {
			fn(&items[i])
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: request %d", ErrItemNotFound, requestID)
	}

	if err := s.repo.SaveCart(ctx, userID, items); err != nil {
		return fmt.Errorf("persist cart: %w", err)
	}
	return nil
}

// Remove убирает позицию из корзины. Отсутствие позиции не считается ошибкой.
// Оставшийся снимок сохраняется, даже если он пуст: пустой список и удалённый
// ключ — разные состояния.
func (s *Store) Remove(ctx context.Context, userID, requestID int64) error {
	items, err := s.Items(ctx, userID)
	if err != nil {
		return err
	}

	kept := items[:0]
	for _, it := range items {
		if it.RequestID != requestID {
			kept = append(kept, it)
		}
	}

	if err := s.repo.SaveCart(ctx, userID, kept); err != nil {
		return fmt.Errorf("persist cart: %w", err)
	}
	return nil
}

// Clear удаляет корзину целиком вместе с ключом хранения.
func (s *Store) Clear(ctx context.Context, userID int64) error {
	if err := s.repo.DeleteCart(ctx, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Total возвращает суммарную стоимость корзины. Значение считается заново при каждом вызове.
func (s *Store) Total(ctx context.Context, userID int64) (float64, error) {
	items, err := s.Items(ctx, userID)
	if err != nil {
		return 0, err
	}
	return model.CartTotal(items), nil
}
