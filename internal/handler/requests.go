package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/agromart-gateway/internal/model"
)

type createRequestBody struct {
	CropID       int64   `json:"cropId"`
	OfferedPrice float64 `json:"offeredPrice"`
	Quantity     int     `json:"quantity"`
}

// CreateRequest создаёт заявку дилера на закупку культуры.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	var req createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.CropID == 0 || req.OfferedPrice < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req.Quantity = model.ClampQuantity(req.Quantity)

	if err := h.backend.CreateRequest(r.Context(), ident, req.CropID, req.OfferedPrice, req.Quantity); err != nil {
		h.backendError(w, err, "create request error")
		return
	}

	h.view.Invalidate(ident.UserID)
	w.WriteHeader(http.StatusCreated)
}

// DealerRequests возвращает заявки текущего дилера. Ответ берётся из кэша
// фонового опроса; при промахе список читается с бэкенда, а дилер включается
// в опрос, чтобы следующие чтения шли из кэша.
func (h *Handler) DealerRequests(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	if reqs, ok := h.view.Requests(ident.UserID); ok {
		writeJSON(w, http.StatusOK, reqs)
		return
	}

	reqs, err := h.backend.MyRequests(r.Context(), ident)
	if err != nil {
		h.backendError(w, err, "dealer requests error")
		return
	}

	h.view.Subscribe(ident)
	if reqs == nil {
		reqs = []model.CropRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// UpdateRequestStatus переводит заявку в указанный статус.
func (h *Handler) UpdateRequestStatus(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status, ok := model.ParseRequestStatus(chi.URLParam(r, "status"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.backend.UpdateRequestStatus(r.Context(), ident, id, status); err != nil {
		h.backendError(w, err, "update request status error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type completeRequestBody struct {
	PricePerUnit float64 `json:"pricePerUnit"`
}

// CompleteRequest помечает заявку завершённой с итоговой ценой за единицу.
func (h *Handler) CompleteRequest(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req completeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PricePerUnit < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.backend.CompleteRequest(r.Context(), ident, id, req.PricePerUnit); err != nil {
		h.backendError(w, err, "complete request error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DealerPayments возвращает историю платежей текущего дилера.
func (h *Handler) DealerPayments(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	payments, err := h.backend.DealerPayments(r.Context(), ident)
	if err != nil {
		h.backendError(w, err, "dealer payments error")
		return
	}

	writeJSON(w, http.StatusOK, payments)
}

// FarmerPayments возвращает историю платежей текущего фермера.
func (h *Handler) FarmerPayments(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	payments, err := h.backend.FarmerPayments(r.Context(), ident)
	if err != nil {
		h.backendError(w, err, "farmer payments error")
		return
	}

	writeJSON(w, http.StatusOK, payments)
}

// AdminPayments возвращает платежи за период для администратора.
func (h *Handler) AdminPayments(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		http.Error(w, "from and to query parameters are required", http.StatusBadRequest)
		return
	}

	payments, err := h.backend.PaymentsInRange(r.Context(), ident, from, to)
	if err != nil {
		h.backendError(w, err, "admin payments error")
		return
	}

	writeJSON(w, http.StatusOK, payments)
}

// Notifications возвращает уведомления текущего пользователя.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	items, err := h.backend.Notifications(r.Context(), ident)
	if err != nil {
		h.backendError(w, err, "notifications error")
		return
	}

	writeJSON(w, http.StatusOK, items)
}

// UnreadNotifications возвращает непрочитанные уведомления.
func (h *Handler) UnreadNotifications(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	items, err := h.backend.UnreadNotifications(r.Context(), ident)
	if err != nil {
		h.backendError(w, err, "unread notifications error")
		return
	}

	writeJSON(w, http.StatusOK, items)
}

// MarkNotificationRead помечает уведомление прочитанным.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.backend.MarkNotificationRead(r.Context(), ident, id); err != nil {
		h.backendError(w, err, "mark notification read error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// CurrentToast возвращает активное всплывающее сообщение пользователя.
func (h *Handler) CurrentToast(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	msg, ok := h.toasts.Current(ident.UserID)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// DismissToast скрывает всплывающее сообщение немедленно.
func (h *Handler) DismissToast(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	h.toasts.Dismiss(ident.UserID)
	w.WriteHeader(http.StatusNoContent)
}
