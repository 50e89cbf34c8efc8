// Package poller фоновым опросом обновляет списки заявок активных дилеров.
//
// Опрос и пользовательские действия не координируются: опрос лишь перезаписывает
// локальный кэш последним состоянием сервера, серверное состояние он не меняет.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/agromart-gateway/internal/model"
)

// Backend описывает вызов бэкенда для получения заявок дилера.
type Backend interface {
	MyRequests(ctx context.Context, ident *model.Identity) ([]model.CropRequest, error)
}

// Poller периодически обновляет кэш списков заявок подписанных дилеров.
type Poller struct {
	backend  Backend
	logger   *zap.Logger
	interval time.Duration

	mu    sync.Mutex
	subs  map[int64]*model.Identity
	cache map[int64][]model.CropRequest
}

// New создаёт опросчик с указанным интервалом.
func New(backend Backend, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 8 * time.Second
	}
	return &Poller{
		backend:  backend,
		logger:   logger,
		interval: interval,
		subs:     make(map[int64]*model.Identity),
		cache:    make(map[int64][]model.CropRequest),
	}
}

// Subscribe включает дилера в фоновый опрос. Повторная подписка обновляет личность.
func (p *Poller) Subscribe(ident *model.Identity) {
	if ident == nil || ident.UserID == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[ident.UserID] = ident
}

// Unsubscribe исключает дилера из опроса и выбрасывает его кэш.
func (p *Poller) Unsubscribe(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, userID)
	delete(p.cache, userID)
}

// Requests возвращает кэшированный список заявок дилера, если он есть.
func (p *Poller) Requests(userID int64) ([]model.CropRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reqs, ok := p.cache[userID]
	return reqs, ok
}

// Invalidate выбрасывает кэш дилера: следующее чтение пойдёт на бэкенд.
func (p *Poller) Invalidate(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, userID)
}

// Run крутит цикл опроса до отмены контекста.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshAll(ctx)
		}
	}
}

func (p *Poller) refreshAll(ctx context.Context) {
	p.mu.Lock()
	idents := make([]*model.Identity, 0, len(p.subs))
	for _, ident := range p.subs {
		idents = append(idents, ident)
	}
	p.mu.Unlock()

	for _, ident := range idents {
		reqs, err := p.backend.MyRequests(ctx, ident)
		if err != nil {
			// Неудачный опрос не трогает кэш, останется прошлое состояние.
			p.logger.Debug("requests poll failed",
				zap.Error(err),
				zap.Int64("userID", ident.UserID),
			)
			continue
		}

		p.mu.Lock()
		p.cache[ident.UserID] = reqs
		p.mu.Unlock()
	}
}
