// Package handler содержит HTTP-обработчики API шлюза агромаркета.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/agromart-gateway/internal/backend"
	"github.com/mmeshcher/agromart-gateway/internal/checkout"
	"github.com/mmeshcher/agromart-gateway/internal/middleware"
	"github.com/mmeshcher/agromart-gateway/internal/model"
	"github.com/mmeshcher/agromart-gateway/internal/toast"
)

// Marketplace определяет операции внешнего бэкенда, используемые обработчиками.
type Marketplace interface {
	Login(ctx context.Context, email, password string) (*backend.Credentials, error)
	Register(ctx context.Context, req backend.RegisterRequest) (*backend.Credentials, error)
	GoogleLogin(ctx context.Context, idToken string) (*backend.Credentials, error)
	RoleRegister(ctx context.Context, email, role string) (*backend.Credentials, error)

	Crops(ctx context.Context, ident *model.Identity) ([]model.Crop, error)
	MyCrops(ctx context.Context, ident *model.Identity) ([]model.Crop, error)
	CreateCrop(ctx context.Context, ident *model.Identity, crop model.Crop) (*model.Crop, error)
	UpdateCrop(ctx context.Context, ident *model.Identity, id int64, crop model.Crop) (*model.Crop, error)
	DeleteCrop(ctx context.Context, ident *model.Identity, id int64) error
	PendingCrops(ctx context.Context, ident *model.Identity) ([]model.Crop, error)
	ApproveCrop(ctx context.Context, ident *model.Identity, id int64) error
	RejectCrop(ctx context.Context, ident *model.Identity, id int64) error

	CreateRequest(ctx context.Context, ident *model.Identity, cropID int64, offeredPrice float64, quantity int) error
	MyRequests(ctx context.Context, ident *model.Identity) ([]model.CropRequest, error)
	UpdateRequestStatus(ctx context.Context, ident *model.Identity, id int64, status model.RequestStatus) error
	CompleteRequest(ctx context.Context, ident *model.Identity, id int64, pricePerUnit float64) error

	DealerPayments(ctx context.Context, ident *model.Identity) ([]model.Payment, error)
	FarmerPayments(ctx context.Context, ident *model.Identity) ([]model.Payment, error)
	PaymentsInRange(ctx context.Context, ident *model.Identity, from, to string) ([]model.Payment, error)

	Notifications(ctx context.Context, ident *model.Identity) ([]model.Notification, error)
	UnreadNotifications(ctx context.Context, ident *model.Identity) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, ident *model.Identity, id int64) error
}

// Sessions определяет операции хранилища сессий, используемые обработчиками.
type Sessions interface {
	Save(ctx context.Context, ident *model.Identity) error
	Logout(ctx context.Context, userID int64) error
}

// Carts определяет операции корзины, используемые обработчиками.
type Carts interface {
	Items(ctx context.Context, userID int64) ([]model.CartItem, error)
	Add(ctx context.Context, userID int64, item model.CartItem) (bool, error)
	UpdateQuantity(ctx context.Context, userID, requestID int64, delta int) error
	SetQuantity(ctx context.Context, userID, requestID int64, raw string) error
	SetPrice(ctx context.Context, userID, requestID int64, raw string) error
	Remove(ctx context.Context, userID, requestID int64) error
	Clear(ctx context.Context, userID int64) error
	Total(ctx context.Context, userID int64) (float64, error)
}

// Checkout определяет операции проведения платежей по корзине.
type Checkout interface {
	CheckoutAll(ctx context.Context, ident *model.Identity) ([]checkout.Outcome, error)
	CheckoutOne(ctx context.Context, ident *model.Identity, requestID int64) (*checkout.Outcome, error)
}

// Toasts определяет операции канала всплывающих сообщений.
type Toasts interface {
	Show(userID int64, text string, kind toast.Kind)
	Dismiss(userID int64)
	Current(userID int64) (toast.Message, bool)
}

// RequestsView определяет кэш списков заявок, обновляемый фоновым опросом.
type RequestsView interface {
	Subscribe(ident *model.Identity)
	Unsubscribe(userID int64)
	Requests(userID int64) ([]model.CropRequest, bool)
	Invalidate(userID int64)
}

// Handler реализует HTTP-обработчики API шлюза агромаркета.
type Handler struct {
	backend  Marketplace
	sessions Sessions
	carts    Carts
	checkout Checkout
	toasts   Toasts
	view     RequestsView

	auth   *middleware.AuthMiddleware
	guard  *middleware.Guard
	logger *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(
	m Marketplace,
	sessions Sessions,
	carts Carts,
	co Checkout,
	toasts Toasts,
	view RequestsView,
	auth *middleware.AuthMiddleware,
	guard *middleware.Guard,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		backend:  m,
		sessions: sessions,
		carts:    carts,
		checkout: co,
		toasts:   toasts,
		view:     view,
		auth:     auth,
		guard:    guard,
		logger:   logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Заголовок уже отправлен, менять статус при ошибке кодирования поздно.
	_ = json.NewEncoder(w).Encode(v)
}

// backendError транслирует ошибку бэкенда в HTTP-ответ. Статус и текст сервера
// передаются как есть; всё остальное скрывается за 502.
func (h *Handler) backendError(w http.ResponseWriter, err error, op string) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		http.Error(w, apiErr.Error(), apiErr.StatusCode)
		return
	}
	h.logger.Error(op, zap.Error(err))
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

func identityFromRequest(r *http.Request) (*model.Identity, bool) {
	return middleware.GetIdentityFromContext(r.Context())
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type googleLoginRequest struct {
	IDToken string `json:"idToken"`
}

type roleRegisterRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type loginResponse struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	Home   string `json:"home"`
}

type needsRoleResponse struct {
	NeedsRoleSelection bool   `json:"needsRoleSelection"`
	Email              string `json:"email,omitempty"`
}

// finishLogin завершает любой вариант входа: сохраняет личность, ставит cookie
// и отвечает стартовой страницей роли. Ответ 202 без токена — не ошибка,
// а ветка выбора роли: личность не сохраняется, cookie не ставится.
func (h *Handler) finishLogin(w http.ResponseWriter, r *http.Request, creds *backend.Credentials) {
	if creds.NeedsRole {
		writeJSON(w, http.StatusAccepted, needsRoleResponse{
			NeedsRoleSelection: true,
			Email:              creds.Email,
		})
		return
	}

	ident := creds.Identity()
	if ident.UserID == 0 {
		h.logger.Error("backend returned credentials without user id")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	if err := h.sessions.Save(r.Context(), ident); err != nil {
		h.logger.Error("save session error", zap.Error(err), zap.Int64("userID", ident.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	role := model.NormalizeRole(ident.Role)
	if role == model.RoleDealer {
		h.view.Subscribe(ident)
	}

	h.auth.SetAuthCookie(w, ident.UserID)
	writeJSON(w, http.StatusOK, loginResponse{
		UserID: ident.UserID,
		Name:   ident.Name,
		Email:  ident.Email,
		Role:   string(role),
		Home:   role.Home(),
	})
}

// Login выполняет вход по паре email/пароль.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	creds, err := h.backend.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.backendError(w, err, "login error")
		return
	}

	h.finishLogin(w, r, creds)
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	creds, err := h.backend.Register(r.Context(), backend.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     string(model.NormalizeRole(req.Role)),
	})
	if err != nil {
		h.backendError(w, err, "register error")
		return
	}

	h.finishLogin(w, r, creds)
}

// GoogleLogin выполняет вход по токену Google OAuth.
func (h *Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	creds, err := h.backend.GoogleLogin(r.Context(), req.IDToken)
	if err != nil {
		h.backendError(w, err, "google login error")
		return
	}

	h.finishLogin(w, r, creds)
}

// RoleRegister завершает OAuth-регистрацию выбором роли.
func (h *Handler) RoleRegister(w http.ResponseWriter, r *http.Request) {
	var req roleRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	role := model.NormalizeRole(req.Role)
	if req.Email == "" || !role.Known() {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	creds, err := h.backend.RoleRegister(r.Context(), req.Email, string(role))
	if err != nil {
		h.backendError(w, err, "role register error")
		return
	}

	h.finishLogin(w, r, creds)
}

// Logout удаляет всё состояние пользователя: сессию, корзину, подписку на опрос
// и активное всплывающее сообщение.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.view.Unsubscribe(ident.UserID)
	h.toasts.Dismiss(ident.UserID)

	if err := h.sessions.Logout(r.Context(), ident.UserID); err != nil {
		h.logger.Error("logout error", zap.Error(err), zap.Int64("userID", ident.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.auth.ClearAuthCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
