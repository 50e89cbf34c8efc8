// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/agromart-gateway/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoSession возвращается, если сохранённая личность пользователя отсутствует или повреждена.
var ErrNoSession = errors.New("session not found")

// PostgresRepository предоставляет доступ к хранилищу состояния пользователей в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// БД может подниматься дольше шлюза, даём ей время принять соединение.
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// SaveIdentity сохраняет личность пользователя. Запись перезаписывается безусловно,
// побеждает последняя версия.
func (r *PostgresRepository) SaveIdentity(ctx context.Context, ident *model.Identity) error {
	raw, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO sessions (user_id, identity, updated_at) VALUES ($1, $2, now())
			 ON CONFLICT (user_id) DO UPDATE SET identity = EXCLUDED.identity, updated_at = now()`,
			ident.UserID, raw,
		)
		if err != nil {
			return fmt.Errorf("save identity: %w", err)
		}
		return nil
	})
}

// GetIdentity возвращает сохранённую личность пользователя.
// Отсутствующая или повреждённая запись даёт ErrNoSession, а не панику или частичный результат.
func (r *PostgresRepository) GetIdentity(ctx context.Context, userID int64) (*model.Identity, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT identity FROM sessions WHERE user_id = $1`,
		userID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}

	var ident model.Identity
	if err := json.Unmarshal(raw, &ident); err != nil {
		return nil, ErrNoSession
	}

	return &ident, nil
}

// DeleteUserState удаляет всё сохранённое состояние пользователя: и сессию, и корзину.
func (r *PostgresRepository) DeleteUserState(ctx context.Context, userID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM carts WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// SaveCart сохраняет корзину пользователя целиком, как единый снимок.
func (r *PostgresRepository) SaveCart(ctx context.Context, userID int64, items []model.CartItem) error {
	if items == nil {
		items = []model.CartItem{}
	}

	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO carts (user_id, items, updated_at) VALUES ($1, $2, now())
			 ON CONFLICT (user_id) DO UPDATE SET items = EXCLUDED.items, updated_at = now()`,
			userID, raw,
		)
		if err != nil {
			return fmt.Errorf("save cart: %w", err)
		}
		return nil
	})
}

// GetCart возвращает корзину пользователя. Отсутствие записи — пустая корзина, не ошибка.
func (r *PostgresRepository) GetCart(ctx context.Context, userID int64) ([]model.CartItem, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT items FROM carts WHERE user_id = $1`,
		userID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	var items []model.CartItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}

	return items, nil
}

// DeleteCart удаляет запись корзины целиком. Очистка — это удаление ключа, а не пустой список.
func (r *PostgresRepository) DeleteCart(ctx context.Context, userID int64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx, `DELETE FROM carts WHERE user_id = $1`, userID)
		if err != nil {
			return fmt.Errorf("delete cart: %w", err)
		}
		return nil
	})
}
