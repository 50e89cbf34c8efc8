// Package toast реализует канал всплывающих сообщений: по одному видимому
// сообщению на пользователя, новое всегда вытесняет старое.
package toast

import (
	"sync"
	"time"
)

// Kind описывает тип всплывающего сообщения.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// Message — одно всплывающее сообщение пользователя.
type Message struct {
	Text    string    `json:"text"`
	Kind    Kind      `json:"kind"`
	ShownAt time.Time `json:"shownAt"`
}

type slot struct {
	msg   Message
	timer *time.Timer
	gen   uint64
}

// Hub хранит по одному активному сообщению на пользователя и гасит его по таймеру.
type Hub struct {
	mu    sync.Mutex
	ttl   time.Duration
	slots map[int64]*slot
}

// NewHub создаёт канал сообщений со временем автоскрытия по умолчанию.
func NewHub(ttl time.Duration) *Hub {
	if ttl <= 0 {
		ttl = 3500 * time.Millisecond
	}
	return &Hub{
		ttl:   ttl,
		slots: make(map[int64]*slot),
	}
}

// Show показывает сообщение со стандартным временем автоскрытия.
func (h *Hub) Show(userID int64, text string, kind Kind) {
	h.ShowFor(userID, text, kind, h.ttl)
}

// ShowFor показывает сообщение и перезапускает таймер автоскрытия.
// Предыдущее сообщение вытесняется, его таймер отменяется: очереди нет,
// в любой момент видно не более одного сообщения.
func (h *Hub) ShowFor(userID int64, text string, kind Kind, d time.Duration) {
	if d <= 0 {
		d = h.ttl
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.slots[userID]
	if ok {
		s.timer.Stop()
	} else {
		s = &slot{}
		h.slots[userID] = s
	}

	s.gen++
	gen := s.gen
	s.msg = Message{Text: text, Kind: kind, ShownAt: time.Now()}
	s.timer = time.AfterFunc(d, func() {
		h.expire(userID, gen)
	})
}

// Поколение защищает от гонки таймера, сработавшего после перепоказа.
func (h *Hub) expire(userID int64, gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.slots[userID]; ok && s.gen == gen {
		delete(h.slots, userID)
	}
}

// Dismiss скрывает сообщение немедленно и отменяет таймер.
func (h *Hub) Dismiss(userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.slots[userID]; ok {
		s.timer.Stop()
		delete(h.slots, userID)
	}
}

// Current возвращает активное сообщение пользователя, если оно есть.
func (h *Hub) Current(userID int64) (Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.slots[userID]; ok {
		return s.msg, true
	}
	return Message{}, false
}

// Close отменяет все таймеры. Вызывается при остановке шлюза.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, s := range h.slots {
		s.timer.Stop()
		delete(h.slots, id)
	}
}
