package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mmeshcher/agromart-gateway/internal/model"
)

type cropRequest struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	PricePerUnit float64 `json:"pricePerUnit"`
	Quantity     int     `json:"quantity"`
	ImageURL     string  `json:"imageUrl,omitempty"`
	Location     string  `json:"location,omitempty"`
}

func (c cropRequest) model() model.Crop {
	return model.Crop{
		Name:         c.Name,
		Type:         c.Type,
		PricePerUnit: c.PricePerUnit,
		Quantity:     c.Quantity,
		ImageURL:     c.ImageURL,
		Location:     c.Location,
	}
}

type moderateFunc func(ctx context.Context, ident *model.Identity, id int64) error

// ListCrops возвращает каталог одобренных культур.
func (h *Handler) ListCrops(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	crops, err := h.backend.Crops(r.Context(), ident)
	if err != nil {
		h.backendError(w, err, "list crops error")
		return
	}

	writeJSON(w, http.StatusOK, crops)
}

// MyCrops возвращает культуры текущего фермера.
func (h *Handler) MyCrops(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	crops, err := h.backend.MyCrops(r.Context(), ident)
	if err != nil {
		h.backendError(w, err, "my crops error")
		return
	}

	writeJSON(w, http.StatusOK, crops)
}

// CreateCrop создаёт новую культуру фермера.
func (h *Handler) CreateCrop(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	var crop cropRequest
	if err := json.NewDecoder(r.Body).Decode(&crop); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if crop.Name == "" || crop.PricePerUnit < 0 || crop.Quantity < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	created, err := h.backend.CreateCrop(r.Context(), ident, crop.model())
	if err != nil {
		h.backendError(w, err, "create crop error")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// UpdateCrop обновляет культуру фермера.
func (h *Handler) UpdateCrop(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var crop cropRequest
	if err := json.NewDecoder(r.Body).Decode(&crop); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	updated, err := h.backend.UpdateCrop(r.Context(), ident, id, crop.model())
	if err != nil {
		h.backendError(w, err, "update crop error")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// DeleteCrop удаляет культуру фермера.
func (h *Handler) DeleteCrop(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.backend.DeleteCrop(r.Context(), ident, id); err != nil {
		h.backendError(w, err, "delete crop error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PendingCrops возвращает культуры, ожидающие модерации.
func (h *Handler) PendingCrops(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFromRequest(r)

	crops, err := h.backend.PendingCrops(r.Context(), ident)
	if err != nil {
		h.backendError(w, err, "pending crops error")
		return
	}

	writeJSON(w, http.StatusOK, crops)
}

// ApproveCrop одобряет культуру при модерации.
func (h *Handler) ApproveCrop(w http.ResponseWriter, r *http.Request) {
	h.moderateCrop(w, r, h.backend.ApproveCrop, "approve crop error")
}

// RejectCrop отклоняет культуру при модерации.
func (h *Handler) RejectCrop(w http.ResponseWriter, r *http.Request) {
	h.moderateCrop(w, r, h.backend.RejectCrop, "reject crop error")
}

func (h *Handler) moderateCrop(w http.ResponseWriter, r *http.Request, action moderateFunc, op string) {
	ident, _ := identityFromRequest(r)

	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := action(r.Context(), ident, id); err != nil {
		h.backendError(w, err, op)
		return
	}

	w.WriteHeader(http.StatusOK)
}
