// Package backend предоставляет клиент внешнего REST-бэкенда маркетплейса.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/agromart-gateway/internal/model"
)

// requestTimeout ограничивает любой вызов бэкенда. В исходной системе таймаута не было,
// и зависший вызов держал флаг занятости бесконечно.
const requestTimeout = 10 * time.Second

// Client инкапсулирует HTTP-взаимодействие с бэкендом маркетплейса.
// Идемпотентные GET ходят через клиент с повторами; мутации, в первую очередь платежи,
// выполняются ровно один раз.
type Client struct {
	baseURL    string
	httpClient *http.Client
	getClient  *http.Client
}

// NewClient создаёт клиент бэкенда маркетплейса по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	rc.HTTPClient.Timeout = requestTimeout

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		getClient: rc.StandardClient(),
	}
}

// APIError описывает ошибку, возвращённую бэкендом. Текст сервера показывается
// пользователю как есть; при его отсутствии используется сообщение по умолчанию.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend responded with status %d", e.StatusCode)
}

// flexID разбирает идентификатор, который бэкенд присылает то числом, то строкой.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse id %q: %w", s, err)
	}
	*f = flexID(v)
	return nil
}

// Credentials описывает ответ бэкенда на вход или регистрацию.
type Credentials struct {
	Token  string `json:"token,omitempty"`
	Role   string `json:"role,omitempty"`
	UserID flexID `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`

	// NeedsRole выставляется при ответе 202 без токена: пользователь
	// аутентифицирован, но должен выбрать роль. Это ветка сценария, не ошибка.
	NeedsRole bool `json:"-"`
}

// Identity собирает личность пользователя из учётных данных.
func (c *Credentials) Identity() *model.Identity {
	return &model.Identity{
		UserID: int64(c.UserID),
		Name:   c.Name,
		Email:  c.Email,
		Role:   c.Role,
		Token:  c.Token,
	}
}

// PaymentReceipt описывает ответ бэкенда на проведение платежа.
type PaymentReceipt struct {
	ID      int64  `json:"id,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

func (c *Client) url(path string) string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + path
}

func setAuthHeaders(req *http.Request, ident *model.Identity) {
	if ident == nil {
		return
	}
	if ident.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ident.Token)
	}
	if ident.UserID != 0 {
		req.Header.Set("X-User-Id", strconv.FormatInt(ident.UserID, 10))
	}
	if ident.Role != "" {
		req.Header.Set("X-User-Role", ident.Role)
	}
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(body) > 0 {
		var payload struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil {
			if payload.Message != "" {
				apiErr.Message = payload.Message
			} else if payload.Error != "" {
				apiErr.Message = payload.Error
			}
		}
	}

	return apiErr
}

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, ident *model.Identity, body any, header http.Header, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	setAuthHeaders(req, ident)

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, decodeError(resp)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

func (c *Client) getJSON(ctx context.Context, path string, ident *model.Identity, out any) error {
	_, err := c.do(ctx, c.getClient, http.MethodGet, path, ident, nil, nil, out)
	return err
}

// loginLike выполняет один из вариантов входа и разбирает ветку выбора роли.
func (c *Client) loginLike(ctx context.Context, path string, body any) (*Credentials, error) {
	var creds Credentials
	status, err := c.do(ctx, c.httpClient, http.MethodPost, path, nil, body, nil, &creds)
	if err != nil {
		return nil, err
	}

	if status == http.StatusAccepted && creds.Token == "" {
		creds.NeedsRole = true
	}

	return &creds, nil
}

// Login выполняет вход по паре email/пароль.
func (c *Client) Login(ctx context.Context, email, password string) (*Credentials, error) {
	return c.loginLike(ctx, "/users/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

// RegisterRequest описывает данные регистрации нового пользователя.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// Register регистрирует нового пользователя.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Credentials, error) {
	return c.loginLike(ctx, "/users/register", req)
}

// GoogleLogin выполняет вход по токену Google OAuth.
func (c *Client) GoogleLogin(ctx context.Context, idToken string) (*Credentials, error) {
	return c.loginLike(ctx, "/users/google-login", map[string]string{"idToken": idToken})
}

// RoleRegister завершает OAuth-регистрацию выбором роли.
func (c *Client) RoleRegister(ctx context.Context, email, role string) (*Credentials, error) {
	return c.loginLike(ctx, "/users/role-register", map[string]string{
		"email": email,
		"role":  role,
	})
}

// Crops возвращает каталог одобренных культур.
func (c *Client) Crops(ctx context.Context, ident *model.Identity) ([]model.Crop, error) {
	var crops []model.Crop
	if err := c.getJSON(ctx, "/crops", ident, &crops); err != nil {
		return nil, err
	}
	return crops, nil
}

// MyCrops возвращает культуры текущего фермера.
func (c *Client) MyCrops(ctx context.Context, ident *model.Identity) ([]model.Crop, error) {
	var crops []model.Crop
	if err := c.getJSON(ctx, "/crops/my", ident, &crops); err != nil {
		return nil, err
	}
	return crops, nil
}

// CreateCrop создаёт новую культуру фермера.
func (c *Client) CreateCrop(ctx context.Context, ident *model.Identity, crop model.Crop) (*model.Crop, error) {
	var created model.Crop
	if _, err := c.do(ctx, c.httpClient, http.MethodPost, "/crops", ident, crop, nil, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateCrop обновляет культуру фермера.
func (c *Client) UpdateCrop(ctx context.Context, ident *model.Identity, id int64, crop model.Crop) (*model.Crop, error) {
	var updated model.Crop
	path := fmt.Sprintf("/crops/%d", id)
	if _, err := c.do(ctx, c.httpClient, http.MethodPut, path, ident, crop, nil, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteCrop удаляет культуру фермера.
func (c *Client) DeleteCrop(ctx context.Context, ident *model.Identity, id int64) error {
	path := fmt.Sprintf("/crops/%d", id)
	_, err := c.do(ctx, c.httpClient, http.MethodDelete, path, ident, nil, nil, nil)
	return err
}

// PendingCrops возвращает культуры, ожидающие модерации.
func (c *Client) PendingCrops(ctx context.Context, ident *model.Identity) ([]model.Crop, error) {
	var crops []model.Crop
	if err := c.getJSON(ctx, "/crops/admin/pending", ident, &crops); err != nil {
		return nil, err
	}
	return crops, nil
}

// ApproveCrop одобряет культуру при модерации.
func (c *Client) ApproveCrop(ctx context.Context, ident *model.Identity, id int64) error {
	path := fmt.Sprintf("/crops/admin/%d/approve", id)
	_, err := c.do(ctx, c.httpClient, http.MethodPost, path, ident, nil, nil, nil)
	return err
}

// RejectCrop отклоняет культуру при модерации.
func (c *Client) RejectCrop(ctx context.Context, ident *model.Identity, id int64) error {
	path := fmt.Sprintf("/crops/admin/%d/reject", id)
	_, err := c.do(ctx, c.httpClient, http.MethodPost, path, ident, nil, nil, nil)
	return err
}

// CreateRequest создаёт заявку дилера на закупку культуры.
func (c *Client) CreateRequest(ctx context.Context, ident *model.Identity, cropID int64, offeredPrice float64, quantity int) error {
	body := map[string]any{
		"cropId":       cropID,
		"offeredPrice": offeredPrice,
		"quantity":     quantity,
	}
	_, err := c.do(ctx, c.httpClient, http.MethodPost, "/requests", ident, body, nil, nil)
	return err
}

// MyRequests возвращает заявки текущего пользователя.
func (c *Client) MyRequests(ctx context.Context, ident *model.Identity) ([]model.CropRequest, error) {
	var reqs []model.CropRequest
	if err := c.getJSON(ctx, "/requests/my", ident, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// UpdateRequestStatus переводит заявку в указанный статус.
func (c *Client) UpdateRequestStatus(ctx context.Context, ident *model.Identity, id int64, status model.RequestStatus) error {
	path := fmt.Sprintf("/requests/%d/status/%s", id, string(status))
	_, err := c.do(ctx, c.httpClient, http.MethodPut, path, ident, nil, nil, nil)
	return err
}

// CompleteRequest помечает заявку завершённой с итоговой ценой за единицу.
func (c *Client) CompleteRequest(ctx context.Context, ident *model.Identity, id int64, pricePerUnit float64) error {
	path := fmt.Sprintf("/requests/%d/complete?pricePerUnit=%s",
		id, url.QueryEscape(strconv.FormatFloat(pricePerUnit, 'f', -1, 64)))
	_, err := c.do(ctx, c.httpClient, http.MethodPut, path, ident, nil, nil, nil)
	return err
}

// CreatePayment проводит один платёж. Вызов никогда не повторяется автоматически;
// ключ идемпотентности позволяет бэкенду отбросить случайный дубль.
func (c *Client) CreatePayment(ctx context.Context, ident *model.Identity, p model.Payment, idempotencyKey string) (*PaymentReceipt, error) {
	header := http.Header{}
	if idempotencyKey != "" {
		header.Set("Idempotency-Key", idempotencyKey)
	}

	var receipt PaymentReceipt
	if _, err := c.do(ctx, c.httpClient, http.MethodPost, "/payments", ident, p, header, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// DealerPayments возвращает историю платежей текущего дилера.
func (c *Client) DealerPayments(ctx context.Context, ident *model.Identity) ([]model.Payment, error) {
	var payments []model.Payment
	if err := c.getJSON(ctx, "/payments/dealer/my", ident, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

// FarmerPayments возвращает историю платежей текущего фермера.
func (c *Client) FarmerPayments(ctx context.Context, ident *model.Identity) ([]model.Payment, error) {
	var payments []model.Payment
	if err := c.getJSON(ctx, "/payments/farmer/my", ident, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

// PaymentsInRange возвращает платежи за период для администратора.
func (c *Client) PaymentsInRange(ctx context.Context, ident *model.Identity, from, to string) ([]model.Payment, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)

	var payments []model.Payment
	if err := c.getJSON(ctx, "/payments/admin/range?"+q.Encode(), ident, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

// Notifications возвращает уведомления текущего пользователя.
func (c *Client) Notifications(ctx context.Context, ident *model.Identity) ([]model.Notification, error) {
	var items []model.Notification
	if err := c.getJSON(ctx, "/notifications", ident, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// UnreadNotifications возвращает непрочитанные уведомления.
func (c *Client) UnreadNotifications(ctx context.Context, ident *model.Identity) ([]model.Notification, error) {
	var items []model.Notification
	if err := c.getJSON(ctx, "/notifications/unread", ident, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// MarkNotificationRead помечает уведомление прочитанным.
func (c *Client) MarkNotificationRead(ctx context.Context, ident *model.Identity, id int64) error {
	path := fmt.Sprintf("/notifications/%d/read", id)
	_, err := c.do(ctx, c.httpClient, http.MethodPatch, path, ident, nil, nil, nil)
	return err
}
