// Package checkout реализует последовательное проведение платежей по корзине дилера.
//
// Партия обрабатывается строго по одному платежу: следующий вызов уходит только
// после ответа на предыдущий. Благодаря этому у дилера в любой момент не более
// одного платежа в полёте, а остановка на первой ошибке не требует компенсаций:
// к моменту остановки ничего, кроме текущей позиции, ещё не списано.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/agromart-gateway/internal/backend"
	"github.com/mmeshcher/agromart-gateway/internal/model"
	"github.com/mmeshcher/agromart-gateway/internal/toast"
)

var (
	// ErrBusy возвращается, если у дилера уже идёт другой чекаут.
	ErrBusy = errors.New("checkout already in progress")
	// ErrEmptyCart возвращается при попытке чекаута пустой корзины.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrItemNotFound возвращается, если позиции нет в корзине.
	ErrItemNotFound = errors.New("item not in cart")
	// ErrInvalidAmount возвращается для позиции с нулевой или отрицательной суммой.
	ErrInvalidAmount = errors.New("payment amount must be positive")
)

// Carts описывает операции корзины, используемые секвенсором.
type Carts interface {
	Items(ctx context.Context, userID int64) ([]model.CartItem, error)
	Remove(ctx context.Context, userID, requestID int64) error
	Clear(ctx context.Context, userID int64) error
}

// Payments описывает вызов платёжного эндпоинта бэкенда.
type Payments interface {
	CreatePayment(ctx context.Context, ident *model.Identity, p model.Payment, idempotencyKey string) (*backend.PaymentReceipt, error)
}

// Notifier показывает пользователю всплывающее сообщение.
type Notifier interface {
	Show(userID int64, text string, kind toast.Kind)
}

// Refresher сигнализирует о необходимости обновить зависимые списки заявок.
type Refresher interface {
	Invalidate(userID int64)
}

// StepKind описывает исход обработки одной позиции партии.
type StepKind int

const (
	StepSkipped StepKind = iota
	StepSucceeded
	StepFailed
)

// String возвращает имя исхода для ответов API и журналов.
func (k StepKind) String() string {
	switch k {
	case StepSkipped:
		return "skipped"
	case StepSucceeded:
		return "succeeded"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome — исход обработки одной позиции корзины.
type Outcome struct {
	Item    model.CartItem
	Kind    StepKind
	Reason  string
	Receipt *backend.PaymentReceipt
	Err     error
}

// Sequencer проводит платежи по корзине дилера.
type Sequencer struct {
	carts     Carts
	payments  Payments
	notifier  Notifier
	refresher Refresher
	logger    *zap.Logger

	mu   sync.Mutex
	busy map[int64]bool
}

// NewSequencer создаёт секвенсор чекаута.
func NewSequencer(carts Carts, payments Payments, notifier Notifier, refresher Refresher, logger *zap.Logger) *Sequencer {
	return &Sequencer{
		carts:     carts,
		payments:  payments,
		notifier:  notifier,
		refresher: refresher,
		logger:    logger,
		busy:      make(map[int64]bool),
	}
}

func (s *Sequencer) tryAcquire(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy[userID] {
		return false
	}
	s.busy[userID] = true
	return true
}

func (s *Sequencer) release(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, userID)
}

// CheckoutOne проводит платёж по одной позиции корзины. При успехе из корзины
// удаляется только эта позиция; при ошибке корзина не меняется, повторов нет.
func (s *Sequencer) CheckoutOne(ctx context.Context, ident *model.Identity, requestID int64) (*Outcome, error) {
	userID := ident.UserID
	if !s.tryAcquire(userID) {
		return nil, ErrBusy
	}
	defer s.release(userID)

	items, err := s.carts.Items(ctx, userID)
	if err != nil {
		return nil, err
	}

	var item *model.CartItem
	for i := range items {
		if items[i].RequestID == requestID {
			item = &items[i]
			break
		}
	}
	if item == nil {
		return nil, fmt.Errorf("%w: request %d", ErrItemNotFound, requestID)
	}

	if item.Amount() <= 0 {
		s.notifier.Show(userID, fmt.Sprintf("Cannot pay: amount is zero for request #%d. Check offered price and quantity.", requestID), toast.KindError)
		return nil, fmt.Errorf("request %d: %w", requestID, ErrInvalidAmount)
	}

	outcome := s.pay(ctx, ident, *item)
	if outcome.Kind == StepFailed {
		s.notifier.Show(userID, outcome.Err.Error(), toast.KindError)
		return &outcome, nil
	}

	if err := s.carts.Remove(ctx, userID, requestID); err != nil {
		return &outcome, err
	}

	s.notifier.Show(userID, receiptMessage(outcome.Receipt), toast.KindSuccess)
	s.refresher.Invalidate(userID)

	return &outcome, nil
}

// CheckoutAll проводит платежи по всей корзине. Снимок позиций захватывается
// один раз на входе: мутации корзины во время обработки на партию не влияют.
//
// Позиция без привязки к фермеру или культуре пропускается, партия продолжается.
// Позиция с суммой не больше нуля и любая ошибка платежа останавливают партию
// целиком: необработанный остаток, включая упавшую позицию, остаётся в корзине.
// Эта асимметрия намеренная, менять её без решения продукта нельзя.
func (s *Sequencer) CheckoutAll(ctx context.Context, ident *model.Identity) ([]Outcome, error) {
	userID := ident.UserID
	if !s.tryAcquire(userID) {
		return nil, ErrBusy
	}
	defer s.release(userID)

	snapshot, err := s.carts.Items(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(snapshot) == 0 {
		return nil, ErrEmptyCart
	}

	outcomes := make([]Outcome, 0, len(snapshot))

	for _, item := range snapshot {
		if item.FarmerID == 0 || item.CropID == 0 {
			s.logger.Warn("skipping cart item with missing linkage",
				zap.Int64("requestID", item.RequestID),
				zap.Int64("farmerID", item.FarmerID),
				zap.Int64("cropID", item.CropID),
			)
			outcomes = append(outcomes, Outcome{Item: item, Kind: StepSkipped, Reason: "missing farmer or crop reference"})
			continue
		}

		if item.Amount() <= 0 {
			s.notifier.Show(userID, fmt.Sprintf("Invalid amount for request #%d.", item.RequestID), toast.KindError)
			return outcomes, fmt.Errorf("request %d: %w", item.RequestID, ErrInvalidAmount)
		}

		outcome := s.pay(ctx, ident, item)
		outcomes = append(outcomes, outcome)

		if outcome.Kind == StepFailed {
			s.notifier.Show(userID, outcome.Err.Error(), toast.KindError)
			return outcomes, fmt.Errorf("checkout halted at request %d: %w", item.RequestID, outcome.Err)
		}

		s.notifier.Show(userID, receiptMessage(outcome.Receipt), toast.KindSuccess)
		s.refresher.Invalidate(userID)

		if err := s.carts.Remove(ctx, userID, item.RequestID); err != nil {
			return outcomes, err
		}
	}

	// Партия дошла до конца: корзина очищается целиком, включая пропущенные позиции.
	if err := s.carts.Clear(ctx, userID); err != nil {
		return outcomes, err
	}

	s.notifier.Show(userID, "Payment(s) completed.", toast.KindSuccess)
	s.refresher.Invalidate(userID)

	return outcomes, nil
}

// pay отправляет один платёж и ждёт ответа. Повторов нет: при сомнении
// пользователь сам повторяет позицию, ключ идемпотентности защищает от дубля.
func (s *Sequencer) pay(ctx context.Context, ident *model.Identity, item model.CartItem) Outcome {
	payment := model.Payment{
		RequestID: item.RequestID,
		FarmerID:  item.FarmerID,
		DealerID:  ident.UserID,
		CropID:    item.CropID,
		Amount:    item.Amount(),
		Status:    "SUCCESS",
	}

	receipt, err := s.payments.CreatePayment(ctx, ident, payment, uuid.NewString())
	if err != nil {
		s.logger.Error("payment failed",
			zap.Error(err),
			zap.Int64("requestID", item.RequestID),
			zap.Int64("dealerID", ident.UserID),
			zap.Float64("amount", payment.Amount),
		)
		return Outcome{Item: item, Kind: StepFailed, Err: err}
	}

	return Outcome{Item: item, Kind: StepSucceeded, Receipt: receipt}
}

func receiptMessage(receipt *backend.PaymentReceipt) string {
	if receipt != nil && receipt.Message != "" {
		return receipt.Message
	}
	return "Payment completed"
}
