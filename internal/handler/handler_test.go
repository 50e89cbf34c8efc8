package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/agromart-gateway/internal/backend"
	"github.com/mmeshcher/agromart-gateway/internal/checkout"
	"github.com/mmeshcher/agromart-gateway/internal/middleware"
	"github.com/mmeshcher/agromart-gateway/internal/model"
	"github.com/mmeshcher/agromart-gateway/internal/toast"
)

type stubMarketplace struct {
	loginCreds *backend.Credentials
	loginErr   error

	myRequestsResp  []model.CropRequest
	myRequestsErr   error
	myRequestsCalls int

	paymentsResp []model.Payment
}

func (s *stubMarketplace) Login(ctx context.Context, email, password string) (*backend.Credentials, error) {
	return s.loginCreds, s.loginErr
}

func (s *stubMarketplace) Register(ctx context.Context, req backend.RegisterRequest) (*backend.Credentials, error) {
	return s.loginCreds, s.loginErr
}

func (s *stubMarketplace) GoogleLogin(ctx context.Context, idToken string) (*backend.Credentials, error) {
	return s.loginCreds, s.loginErr
}

func (s *stubMarketplace) RoleRegister(ctx context.Context, email, role string) (*backend.Credentials, error) {
	return s.loginCreds, s.loginErr
}

func (s *stubMarketplace) Crops(ctx context.Context, ident *model.Identity) ([]model.Crop, error) {
	return nil, nil
}

func (s *stubMarketplace) MyCrops(ctx context.Context, ident *model.Identity) ([]model.Crop, error) {
	return nil, nil
}

func (s *stubMarketplace) CreateCrop(ctx context.Context, ident *model.Identity, crop model.Crop) (*model.Crop, error) {
	return &crop, nil
}

func (s *stubMarketplace) UpdateCrop(ctx context.Context, ident *model.Identity, id int64, crop model.Crop) (*model.Crop, error) {
	return &crop, nil
}

func (s *stubMarketplace) DeleteCrop(ctx context.Context, ident *model.Identity, id int64) error {
	return nil
}

func (s *stubMarketplace) PendingCrops(ctx context.Context, ident *model.Identity) ([]model.Crop, error) {
	return nil, nil
}

func (s *stubMarketplace) ApproveCrop(ctx context.Context, ident *model.Identity, id int64) error {
	return nil
}

func (s *stubMarketplace) RejectCrop(ctx context.Context, ident *model.Identity, id int64) error {
	return nil
}

func (s *stubMarketplace) CreateRequest(ctx context.Context, ident *model.Identity, cropID int64, offeredPrice float64, quantity int) error {
	return nil
}

func (s *stubMarketplace) MyRequests(ctx context.Context, ident *model.Identity) ([]model.CropRequest, error) {
	s.myRequestsCalls++
	return s.myRequestsResp, s.myRequestsErr
}

func (s *stubMarketplace) UpdateRequestStatus(ctx context.Context, ident *model.Identity, id int64, status model.RequestStatus) error {
	return nil
}

func (s *stubMarketplace) CompleteRequest(ctx context.Context, ident *model.Identity, id int64, pricePerUnit float64) error {
	return nil
}

func (s *stubMarketplace) DealerPayments(ctx context.Context, ident *model.Identity) ([]model.Payment, error) {
	return s.paymentsResp, nil
}

func (s *stubMarketplace) FarmerPayments(ctx context.Context, ident *model.Identity) ([]model.Payment, error) {
	return s.paymentsResp, nil
}

func (s *stubMarketplace) PaymentsInRange(ctx context.Context, ident *model.Identity, from, to string) ([]model.Payment, error) {
	return s.paymentsResp, nil
}

func (s *stubMarketplace) Notifications(ctx context.Context, ident *model.Identity) ([]model.Notification, error) {
	return nil, nil
}

func (s *stubMarketplace) UnreadNotifications(ctx context.Context, ident *model.Identity) ([]model.Notification, error) {
	return nil, nil
}

func (s *stubMarketplace) MarkNotificationRead(ctx context.Context, ident *model.Identity, id int64) error {
	return nil
}

type stubSessions struct {
	saved     []*model.Identity
	loggedOut []int64
}

func (s *stubSessions) Save(ctx context.Context, ident *model.Identity) error {
	s.saved = append(s.saved, ident)
	return nil
}

func (s *stubSessions) Logout(ctx context.Context, userID int64) error {
	s.loggedOut = append(s.loggedOut, userID)
	return nil
}

type stubCarts struct {
	items    []model.CartItem
	addAdded bool
	addErr   error
	added    []model.CartItem
}

func (s *stubCarts) Items(ctx context.Context, userID int64) ([]model.CartItem, error) {
	return s.items, nil
}

func (s *stubCarts) Add(ctx context.Context, userID int64, item model.CartItem) (bool, error) {
	if s.addErr != nil {
		return false, s.addErr
	}
	if s.addAdded {
		s.added = append(s.added, item)
	}
	return s.addAdded, nil
}

func (s *stubCarts) UpdateQuantity(ctx context.Context, userID, requestID int64, delta int) error {
	return nil
}

func (s *stubCarts) SetQuantity(ctx context.Context, userID, requestID int64, raw string) error {
	return nil
}

func (s *stubCarts) SetPrice(ctx context.Context, userID, requestID int64, raw string) error {
	return nil
}

func (s *stubCarts) Remove(ctx context.Context, userID, requestID int64) error { return nil }
func (s *stubCarts) Clear(ctx context.Context, userID int64) error             { return nil }

func (s *stubCarts) Total(ctx context.Context, userID int64) (float64, error) {
	return model.CartTotal(s.items), nil
}

type stubCheckout struct {
	outcomes []checkout.Outcome
	err      error
	one      *checkout.Outcome
	oneErr   error
}

func (s *stubCheckout) CheckoutAll(ctx context.Context, ident *model.Identity) ([]checkout.Outcome, error) {
	return s.outcomes, s.err
}

func (s *stubCheckout) CheckoutOne(ctx context.Context, ident *model.Identity, requestID int64) (*checkout.Outcome, error) {
	return s.one, s.oneErr
}

type shownToast struct {
	text string
	kind toast.Kind
}

type stubToasts struct {
	shown     []shownToast
	current   *toast.Message
	dismissed []int64
}

func (s *stubToasts) Show(userID int64, text string, kind toast.Kind) {
	s.shown = append(s.shown, shownToast{text: text, kind: kind})
}

func (s *stubToasts) Dismiss(userID int64) {
	s.dismissed = append(s.dismissed, userID)
}

func (s *stubToasts) Current(userID int64) (toast.Message, bool) {
	if s.current == nil {
		return toast.Message{}, false
	}
	return *s.current, true
}

type stubView struct {
	cached       map[int64][]model.CropRequest
	subscribed   []int64
	unsubscribed []int64
	invalidated  []int64
}

func (s *stubView) Subscribe(ident *model.Identity) {
	s.subscribed = append(s.subscribed, ident.UserID)
}

func (s *stubView) Unsubscribe(userID int64) {
	s.unsubscribed = append(s.unsubscribed, userID)
}

func (s *stubView) Requests(userID int64) ([]model.CropRequest, bool) {
	reqs, ok := s.cached[userID]
	return reqs, ok
}

func (s *stubView) Invalidate(userID int64) {
	s.invalidated = append(s.invalidated, userID)
}

type guardSessions struct {
	idents map[int64]*model.Identity
}

func (s *guardSessions) Current(ctx context.Context, userID int64) *model.Identity {
	return s.idents[userID]
}

type testEnv struct {
	backend  *stubMarketplace
	sessions *stubSessions
	carts    *stubCarts
	checkout *stubCheckout
	toasts   *stubToasts
	view     *stubView

	auth   *middleware.AuthMiddleware
	router *chi.Mux
}

func newTestEnv(t *testing.T, idents map[int64]*model.Identity) *testEnv {
	t.Helper()

	env := &testEnv{
		backend:  &stubMarketplace{},
		sessions: &stubSessions{},
		carts:    &stubCarts{},
		checkout: &stubCheckout{},
		toasts:   &stubToasts{},
		view:     &stubView{cached: map[int64][]model.CropRequest{}},
		auth:     middleware.NewAuthMiddleware("test-secret"),
	}

	guard := middleware.NewGuard(env.auth, &guardSessions{idents: idents})
	h := NewHandler(env.backend, env.sessions, env.carts, env.checkout, env.toasts, env.view, env.auth, guard, zap.NewNop())
	env.router = h.SetupRouter()

	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, userID int64) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != 0 {
		rec := httptest.NewRecorder()
		e.auth.SetAuthCookie(rec, userID)
		req.AddCookie(rec.Result().Cookies()[0])
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func dealerIdents() map[int64]*model.Identity {
	return map[int64]*model.Identity{
		7: {UserID: 7, Role: "DEALER", Token: "tok"},
	}
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.loginCreds = &backend.Credentials{
		Token:  "tok",
		Role:   "ROLE_DEALER",
		UserID: 7,
		Email:  "dealer@example.com",
	}

	rec := env.do(t, http.MethodPost, "/api/auth/login", credentialsRequest{
		Email:    "dealer@example.com",
		Password: "pass",
	}, 0)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("no auth cookie set on successful login")
	}

	var resp loginResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Role != "DEALER" {
		t.Fatalf("role = %q, want DEALER", resp.Role)
	}
	if resp.Home != "/dealer" {
		t.Fatalf("home = %q, want /dealer", resp.Home)
	}

	if len(env.sessions.saved) != 1 || env.sessions.saved[0].UserID != 7 {
		t.Fatalf("identity was not saved to the session store")
	}
	if len(env.view.subscribed) != 1 || env.view.subscribed[0] != 7 {
		t.Fatalf("dealer was not subscribed to the requests poll")
	}
}

func TestLogin_RoleSelectionBranch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.loginCreds = &backend.Credentials{
		Email:     "new@example.com",
		NeedsRole: true,
	}

	rec := env.do(t, http.MethodPost, "/api/auth/login", credentialsRequest{
		Email:    "new@example.com",
		Password: "pass",
	}, 0)

	res := rec.Result()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	if len(res.Cookies()) != 0 {
		t.Fatalf("cookie must not be set before the role is chosen")
	}

	var resp needsRoleResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.NeedsRoleSelection {
		t.Fatalf("needsRoleSelection = false, want true")
	}

	if len(env.sessions.saved) != 0 {
		t.Fatalf("identity must not be saved on the role selection branch")
	}
}

func TestLogin_BackendErrorPassedThrough(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.loginErr = &backend.APIError{
		StatusCode: http.StatusUnauthorized,
		Message:    "Invalid credentials",
	}

	rec := env.do(t, http.MethodPost, "/api/auth/login", credentialsRequest{
		Email:    "dealer@example.com",
		Password: "wrong",
	}, 0)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}

	body, _ := io.ReadAll(res.Body)
	if !bytes.Contains(body, []byte("Invalid credentials")) {
		t.Fatalf("body = %q, want verbatim backend message", body)
	}
}

func TestRegister_BadRequestOnEmptyFields(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/auth/register", registerRequest{Name: "x"}, 0)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestRouter_UnauthenticatedRedirectsToLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/dealer/cart", nil, 0)

	res := rec.Result()
	if res.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusFound)
	}
	if loc := res.Header.Get("Location"); loc != "/login" {
		t.Fatalf("location = %q, want /login", loc)
	}
}

func TestRouter_DealerDeniedAdminRouteRedirectsToDealerHome(t *testing.T) {
	env := newTestEnv(t, dealerIdents())

	rec := env.do(t, http.MethodGet, "/api/admin/payments?from=2024-01-01&to=2024-12-31", nil, 7)

	res := rec.Result()
	if res.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusFound)
	}
	if loc := res.Header.Get("Location"); loc != "/dealer" {
		t.Fatalf("location = %q, want /dealer", loc)
	}
}

func TestGetCart_EmptyCartReturnsEmptyList(t *testing.T) {
	env := newTestEnv(t, dealerIdents())

	rec := env.do(t, http.MethodGet, "/api/dealer/cart", nil, 7)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp cartResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Items == nil || len(resp.Items) != 0 {
		t.Fatalf("items = %v, want empty list", resp.Items)
	}
	if resp.Total != 0 {
		t.Fatalf("total = %v, want 0", resp.Total)
	}
}

func TestAddToCart_Added(t *testing.T) {
	env := newTestEnv(t, dealerIdents())
	env.carts.addAdded = true

	rec := env.do(t, http.MethodPost, "/api/dealer/cart", model.CartItem{
		RequestID: 5, CropID: 2, FarmerID: 3, Quantity: 1, OfferedPrice: 10,
	}, 7)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp addToCartResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Added {
		t.Fatalf("added = false, want true")
	}
	if len(env.toasts.shown) != 0 {
		t.Fatalf("no toast expected on a fresh add, got %v", env.toasts.shown)
	}
}

func TestAddToCart_DuplicateIsNoOpWithInfoToast(t *testing.T) {
	env := newTestEnv(t, dealerIdents())
	env.carts.addAdded = false

	rec := env.do(t, http.MethodPost, "/api/dealer/cart", model.CartItem{RequestID: 5}, 7)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp addToCartResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Added {
		t.Fatalf("added = true, want false for a duplicate")
	}

	if len(env.toasts.shown) != 1 {
		t.Fatalf("toasts shown = %d, want 1", len(env.toasts.shown))
	}
	if env.toasts.shown[0].kind != toast.KindInfo {
		t.Fatalf("toast kind = %q, want info", env.toasts.shown[0].kind)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	env := newTestEnv(t, dealerIdents())
	env.checkout.err = checkout.ErrEmptyCart

	rec := env.do(t, http.MethodPost, "/api/dealer/cart/checkout", nil, 7)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestCheckout_Busy(t *testing.T) {
	env := newTestEnv(t, dealerIdents())
	env.checkout.err = checkout.ErrBusy

	rec := env.do(t, http.MethodPost, "/api/dealer/cart/checkout", nil, 7)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestCheckout_HaltedBatchReturnsPartialResults(t *testing.T) {
	env := newTestEnv(t, dealerIdents())
	env.checkout.outcomes = []checkout.Outcome{
		{Item: model.CartItem{RequestID: 1}, Kind: checkout.StepSucceeded},
		{Item: model.CartItem{RequestID: 2}, Kind: checkout.StepFailed, Err: errors.New("insufficient funds")},
	}
	env.checkout.err = fmt.Errorf("checkout halted at request 2: %w", errors.New("insufficient funds"))

	rec := env.do(t, http.MethodPost, "/api/dealer/cart/checkout", nil, 7)

	res := rec.Result()
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadGateway)
	}

	var resp checkoutResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Completed {
		t.Fatalf("completed = true, want false for a halted batch")
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	if resp.Results[0].Result != "succeeded" || resp.Results[1].Result != "failed" {
		t.Fatalf("results = %+v, want succeeded then failed", resp.Results)
	}
}

func TestCheckout_Success(t *testing.T) {
	env := newTestEnv(t, dealerIdents())
	env.checkout.outcomes = []checkout.Outcome{
		{Item: model.CartItem{RequestID: 1}, Kind: checkout.StepSucceeded},
	}

	rec := env.do(t, http.MethodPost, "/api/dealer/cart/checkout", nil, 7)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp checkoutResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Completed {
		t.Fatalf("completed = false, want true")
	}
}

func TestDealerRequests_CacheHitSkipsBackend(t *testing.T) {
	env := newTestEnv(t, dealerIdents())
	env.view.cached[7] = []model.CropRequest{{ID: 1, Status: "PENDING"}}

	rec := env.do(t, http.MethodGet, "/api/dealer/requests", nil, 7)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
	if env.backend.myRequestsCalls != 0 {
		t.Fatalf("backend calls = %d, want 0 on a cache hit", env.backend.myRequestsCalls)
	}
}

func TestDealerRequests_CacheMissFetchesAndSubscribes(t *testing.T) {
	env := newTestEnv(t, dealerIdents())
	env.backend.myRequestsResp = []model.CropRequest{{ID: 1}, {ID: 2}}

	rec := env.do(t, http.MethodGet, "/api/dealer/requests", nil, 7)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if env.backend.myRequestsCalls != 1 {
		t.Fatalf("backend calls = %d, want 1 on a cache miss", env.backend.myRequestsCalls)
	}
	if len(env.view.subscribed) != 1 || env.view.subscribed[0] != 7 {
		t.Fatalf("dealer was not subscribed after a cache miss")
	}

	var reqs []model.CropRequest
	if err := json.NewDecoder(res.Body).Decode(&reqs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
}

func TestUpdateRequestStatus_InvalidStatus(t *testing.T) {
	env := newTestEnv(t, map[int64]*model.Identity{
		7: {UserID: 7, Role: "FARMER", Token: "tok"},
	})

	rec := env.do(t, http.MethodPut, "/api/requests/5/status/SHIPPED", nil, 7)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestAdminPayments_RequiresRange(t *testing.T) {
	env := newTestEnv(t, map[int64]*model.Identity{
		7: {UserID: 7, Role: "ADMIN", Token: "tok"},
	})

	rec := env.do(t, http.MethodGet, "/api/admin/payments", nil, 7)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestCurrentToast_NoContentWhenEmpty(t *testing.T) {
	env := newTestEnv(t, dealerIdents())

	rec := env.do(t, http.MethodGet, "/api/toast", nil, 7)

	if rec.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNoContent)
	}
}

func TestCurrentToast_ReturnsActiveMessage(t *testing.T) {
	env := newTestEnv(t, dealerIdents())
	env.toasts.current = &toast.Message{Text: "Payment(s) completed.", Kind: toast.KindSuccess}

	rec := env.do(t, http.MethodGet, "/api/toast", nil, 7)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var msg toast.Message
	if err := json.NewDecoder(res.Body).Decode(&msg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if msg.Text != "Payment(s) completed." || msg.Kind != toast.KindSuccess {
		t.Fatalf("message = %+v, want the active success toast", msg)
	}
}

func TestLogout_RemovesAllUserState(t *testing.T) {
	env := newTestEnv(t, dealerIdents())

	rec := env.do(t, http.MethodPost, "/api/auth/logout", nil, 7)

	res := rec.Result()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}

	if len(env.sessions.loggedOut) != 1 || env.sessions.loggedOut[0] != 7 {
		t.Fatalf("session store was not asked to remove user state")
	}
	if len(env.view.unsubscribed) != 1 || env.view.unsubscribed[0] != 7 {
		t.Fatalf("dealer was not unsubscribed from the poll")
	}
	if len(env.toasts.dismissed) != 1 {
		t.Fatalf("active toast was not dismissed")
	}

	cookies := res.Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("auth cookie was not cleared")
	}
}
