// Package model содержит доменные сущности шлюза агромаркета.
package model

import (
	"math"
	"strconv"
	"strings"
)

// Role описывает роль пользователя маркетплейса.
type Role string

const (
	RoleFarmer Role = "FARMER"
	RoleDealer Role = "DEALER"
	RoleAdmin  Role = "ADMIN"
)

// NormalizeRole приводит строковое представление роли к каноническому виду:
// обрезает пробелы, убирает исторический префикс ROLE_ и переводит в верхний регистр.
func NormalizeRole(raw string) Role {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "ROLE_")
	return Role(s)
}

// Known сообщает, относится ли роль к закрытому набору ролей системы.
func (r Role) Known() bool {
	switch r {
	case RoleFarmer, RoleDealer, RoleAdmin:
		return true
	}
	return false
}

// Home возвращает стартовую страницу для роли. Для неизвестной роли — страница входа,
// чтобы пользователь без валидной роли не попадал в цикл редиректов.
func (r Role) Home() string {
	switch r {
	case RoleFarmer:
		return "/farmer"
	case RoleDealer:
		return "/dealer"
	case RoleAdmin:
		return "/admin"
	default:
		return "/login"
	}
}

// Identity описывает аутентифицированного пользователя: идентификатор, роль и токен бэкенда.
type Identity struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	Token  string `json:"token,omitempty"`
}

// HasAnyRole проверяет, совпадает ли роль пользователя с одной из перечисленных.
// Сравнение не зависит от регистра. Без личности или без кандидатов результат всегда false.
func (i *Identity) HasAnyRole(candidates ...Role) bool {
	if i == nil {
		return false
	}
	own := NormalizeRole(i.Role)
	for _, c := range candidates {
		if own == NormalizeRole(string(c)) {
			return true
		}
	}
	return false
}

// CartItem описывает позицию корзины дилера: одобренную заявку с предложенной ценой.
// Поле RequestID — уникальный ключ позиции внутри корзины.
type CartItem struct {
	RequestID    int64   `json:"requestId"`
	CropID       int64   `json:"cropId"`
	FarmerID     int64   `json:"farmerId"`
	CropName     string  `json:"cropName,omitempty"`
	Quantity     int     `json:"quantity"`
	OfferedPrice float64 `json:"offeredPrice"`
}

// Amount возвращает стоимость позиции.
func (c CartItem) Amount() float64 {
	return float64(c.Quantity) * c.OfferedPrice
}

// CartTotal возвращает суммарную стоимость позиций корзины.
// Значение всегда вычисляется заново и нигде не кэшируется.
func CartTotal(items []CartItem) float64 {
	var total float64
	for _, it := range items {
		total += it.Amount()
	}
	return total
}

// ClampQuantity ограничивает количество снизу единицей.
func ClampQuantity(q int) int {
	if q < 1 {
		return 1
	}
	return q
}

// ParseQuantity разбирает количество из пользовательского ввода.
// Нечисловое или неположительное значение заменяется единицей.
func ParseQuantity(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// ParsePrice разбирает цену из пользовательского ввода.
// Нечисловое или отрицательное значение заменяется нулём, а не отклоняется.
func ParsePrice(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// RequestStatus описывает статус заявки дилера на закупку.
// На проводе значения чувствительны к регистру, на клиенте сравнение всегда нечувствительно.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusCompleted RequestStatus = "COMPLETED"
)

// ParseRequestStatus приводит строку к каноническому статусу заявки.
func ParseRequestStatus(raw string) (RequestStatus, bool) {
	switch s := RequestStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected, RequestStatusCompleted:
		return s, true
	default:
		return "", false
	}
}

// Is сравнивает статус с указанным без учёта регистра.
func (s RequestStatus) Is(other RequestStatus) bool {
	return strings.EqualFold(string(s), string(other))
}

// Approved сообщает, одобрена ли заявка. Старые версии бэкенда присылали
// ACCEPTED вместо APPROVED, оба значения считаются одобрением.
func (s RequestStatus) Approved() bool {
	up := strings.ToUpper(string(s))
	return up == "APPROVED" || up == "ACCEPTED"
}

// Crop описывает культуру из каталога фермера.
type Crop struct {
	ID           int64   `json:"id,omitempty"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	PricePerUnit float64 `json:"pricePerUnit"`
	Quantity     int     `json:"quantity"`
	Status       string  `json:"status,omitempty"`
	ImageURL     string  `json:"imageUrl,omitempty"`
	Location     string  `json:"location,omitempty"`
	FarmerID     int64   `json:"farmerId,omitempty"`
	CreatedAt    string  `json:"createdAt,omitempty"`
}

// CropRequest описывает заявку дилера на закупку культуры фермера.
type CropRequest struct {
	ID           int64         `json:"id"`
	CropID       int64         `json:"cropId"`
	CropName     string        `json:"cropName,omitempty"`
	FarmerID     int64         `json:"farmerId,omitempty"`
	DealerID     int64         `json:"dealerId,omitempty"`
	OfferedPrice float64       `json:"offeredPrice"`
	Quantity     int           `json:"quantity"`
	Status       RequestStatus `json:"status,omitempty"`
	CreatedAt    string        `json:"createdAt,omitempty"`
}

// Payment описывает платёж дилера фермеру по заявке.
type Payment struct {
	ID        int64   `json:"id,omitempty"`
	RequestID int64   `json:"requestId"`
	FarmerID  int64   `json:"farmerId"`
	DealerID  int64   `json:"dealerId,omitempty"`
	CropID    int64   `json:"cropId"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status,omitempty"`
	CreatedAt string  `json:"createdAt,omitempty"`
}

// Notification описывает уведомление пользователя.
type Notification struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"userId,omitempty"`
	Message   string `json:"message"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt,omitempty"`
}
