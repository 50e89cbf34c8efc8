package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/agromart-gateway/internal/cart"
	"github.com/mmeshcher/agromart-gateway/internal/checkout"
	"github.com/mmeshcher/agromart-gateway/internal/model"
	"github.com/mmeshcher/agromart-gateway/internal/toast"
)

type cartResponse struct {
	Items []model.CartItem `json:"items"`
	Total float64          `json:"total"`
}

// GetCart возвращает корзину текущего дилера с пересчитанной суммой.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	items, err := h.carts.Items(r.Context(), ident.UserID)
	if err != nil {
		h.logger.Error("get cart error", zap.Error(err), zap.Int64("userID", ident.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []model.CartItem{}
	}

	writeJSON(w, http.StatusOK, cartResponse{
		Items: items,
		Total: model.CartTotal(items),
	})
}

type addToCartResponse struct {
	Added bool `json:"added"`
}

// AddToCart добавляет одобренную заявку в корзину. Повторное добавление той же
// заявки — не ошибка: корзина не меняется, дилер видит информационное сообщение.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	var item model.CartItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if item.RequestID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	added, err := h.carts.Add(r.Context(), ident.UserID, item)
	if err != nil {
		h.logger.Error("add to cart error", zap.Error(err), zap.Int64("userID", ident.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if !added {
		h.toasts.Show(ident.UserID, fmt.Sprintf("Request #%d is already in the cart.", item.RequestID), toast.KindInfo)
	}

	writeJSON(w, http.StatusOK, addToCartResponse{Added: added})
}

type quantityRequest struct {
	Delta int    `json:"delta,omitempty"`
	Value string `json:"value,omitempty"`
}

// UpdateItemQuantity меняет количество позиции: либо на delta от кнопок
// плюс/минус, либо прямым вводом значения.
func (h *Handler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	requestID, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Value != "" {
		err = h.carts.SetQuantity(r.Context(), ident.UserID, requestID, req.Value)
	} else {
		err = h.carts.UpdateQuantity(r.Context(), ident.UserID, requestID, req.Delta)
	}
	h.respondCartMutation(w, ident.UserID, err)
}

type priceRequest struct {
	Value string `json:"value"`
}

// UpdateItemPrice выставляет предложенную цену позиции из пользовательского ввода.
func (h *Handler) UpdateItemPrice(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	requestID, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.respondCartMutation(w, ident.UserID, h.carts.SetPrice(r.Context(), ident.UserID, requestID, req.Value))
}

// RemoveCartItem убирает позицию из корзины.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	requestID, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.respondCartMutation(w, ident.UserID, h.carts.Remove(r.Context(), ident.UserID, requestID))
}

// ClearCart удаляет корзину дилера целиком.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)
	h.respondCartMutation(w, ident.UserID, h.carts.Clear(r.Context(), ident.UserID))
}

func (h *Handler) respondCartMutation(w http.ResponseWriter, userID int64, err error) {
	if err != nil {
		if errors.Is(err, cart.ErrItemNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("cart mutation error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkoutStep struct {
	RequestID int64  `json:"requestId"`
	Result    string `json:"result"`
	Reason    string `json:"reason,omitempty"`
}

type checkoutResponse struct {
	Completed bool           `json:"completed"`
	Results   []checkoutStep `json:"results"`
	Error     string         `json:"error,omitempty"`
}

func buildCheckoutResponse(outcomes []checkout.Outcome, err error) checkoutResponse {
	resp := checkoutResponse{
		Completed: err == nil,
		Results:   make([]checkoutStep, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		step := checkoutStep{
			RequestID: o.Item.RequestID,
			Result:    o.Kind.String(),
			Reason:    o.Reason,
		}
		if o.Err != nil {
			step.Reason = o.Err.Error()
		}
		resp.Results = append(resp.Results, step)
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// Checkout проводит платежи по всей корзине текущего дилера.
// Остановленная партия — штатный исход, ответ содержит уже обработанные позиции.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	outcomes, err := h.checkout.CheckoutAll(r.Context(), ident)
	switch {
	case errors.Is(err, checkout.ErrBusy):
		http.Error(w, "checkout already in progress", http.StatusConflict)
	case errors.Is(err, checkout.ErrEmptyCart):
		http.Error(w, "cart is empty", http.StatusBadRequest)
	case errors.Is(err, checkout.ErrInvalidAmount):
		writeJSON(w, http.StatusUnprocessableEntity, buildCheckoutResponse(outcomes, err))
	case err != nil:
		writeJSON(w, http.StatusBadGateway, buildCheckoutResponse(outcomes, err))
	default:
		writeJSON(w, http.StatusOK, buildCheckoutResponse(outcomes, nil))
	}
}

// CheckoutItem проводит платёж по одной позиции корзины.
func (h *Handler) CheckoutItem(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	requestID, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	outcome, err := h.checkout.CheckoutOne(r.Context(), ident, requestID)
	switch {
	case errors.Is(err, checkout.ErrBusy):
		http.Error(w, "checkout already in progress", http.StatusConflict)
		return
	case errors.Is(err, checkout.ErrItemNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	case errors.Is(err, checkout.ErrInvalidAmount):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		h.logger.Error("checkout item error", zap.Error(err), zap.Int64("requestID", requestID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := buildCheckoutResponse([]checkout.Outcome{*outcome}, nil)
	resp.Completed = outcome.Kind == checkout.StepSucceeded
	if outcome.Kind == checkout.StepFailed {
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
