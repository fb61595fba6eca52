// Package repository содержит хранилища платёжной проекции заказов: PostgreSQL и память процесса.
package repository

import (
	"context"
	"embed"
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

	"github.com/mmeshcher/trustcore/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrOrderNotFound возвращается, если проекция заказа не найдена.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition возвращается, если текущий статус заказа не допускает переход.
	ErrInvalidTransition = errors.New("payment status transition not allowed")
	// ErrOrderSettled возвращается при попытке привязать новое намерение к уже оплаченному заказу.
	ErrOrderSettled = errors.New("order payment already settled")
	// ErrRefundExists возвращается при повторной записи того же возврата.
	ErrRefundExists = errors.New("refund already recorded")
)

// PostgresRepository хранит проекцию заказов в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт репозиторий и применяет миграции.
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

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond},
	}

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

// withRetry повторяет fn при конфликтах сериализации и взаимных блокировках.
// Остальные ошибки возвращаются сразу.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(r.delays) {
			return err
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
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

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// GetOrder возвращает проекцию заказа.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var (
		o        model.Order
		status   string
		intentID *string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, payment_status, payment_intent_id, amount, currency, customer_email, payout_paused, updated_at
		 FROM payment_orders
		 WHERE id = $1`,
		id,
	).Scan(&o.ID, &status, &intentID, &o.AmountMinor, &o.Currency, &o.CustomerEmail, &o.PayoutPaused, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	o.PaymentStatus = model.PaymentStatus(status)
	if intentID != nil {
		o.PaymentIntentID = *intentID
	}
	return &o, nil
}

// TrackIntent привязывает к заказу новое платёжное намерение и переводит его в awaiting_payment.
// Заказ после неудачной оплаты можно оплатить заново; оплаченный заказ нельзя.
func (r *PostgresRepository) TrackIntent(ctx context.Context, o model.Order) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// При одновременном создании второй INSERT ждёт первый и уходит в ветку обновления.
		tag, err := tx.Exec(ctx,
			`INSERT INTO payment_orders (id, payment_status, payment_intent_id, amount, currency, customer_email)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO NOTHING`,
			o.ID, string(model.PaymentStatusAwaiting), o.PaymentIntentID, o.AmountMinor, o.Currency, o.CustomerEmail,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var status string
			err = tx.QueryRow(ctx,
				`SELECT payment_status FROM payment_orders WHERE id = $1 FOR UPDATE`,
				o.ID,
			).Scan(&status)
			if err != nil {
				return fmt.Errorf("lock order: %w", err)
			}
			if !canTrackIntent(model.PaymentStatus(status)) {
				return ErrOrderSettled
			}
			_, err = tx.Exec(ctx,
				`UPDATE payment_orders
				 SET payment_status = $2, payment_intent_id = $3, amount = $4, currency = $5,
				     customer_email = $6, updated_at = NOW()
				 WHERE id = $1`,
				o.ID, string(model.PaymentStatusAwaiting), o.PaymentIntentID, o.AmountMinor, o.Currency, o.CustomerEmail,
			)
			if err != nil {
				return fmt.Errorf("update order: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// UpdatePaymentStatus применяет переход, вызванный событием causedByEventID. Повторное событие
// не меняет состояние и возвращает applied=false. Переход в disputed приостанавливает выплату.
func (r *PostgresRepository) UpdatePaymentStatus(ctx context.Context, orderID string, tr model.Transition, causedByEventID string) (bool, error) {
	var applied bool
	err := r.withRetry(ctx, func() error {
		applied = false

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var status string
		err = tx.QueryRow(ctx,
			`SELECT payment_status FROM payment_orders WHERE id = $1 FOR UPDATE`,
			orderID,
		).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO applied_events (event_id, order_id, to_status) VALUES ($1, $2, $3)
			 ON CONFLICT (event_id) DO NOTHING`,
			causedByEventID, orderID, string(tr.To),
		)
		if err != nil {
			return fmt.Errorf("insert event marker: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		current := model.PaymentStatus(status)
		if current == tr.To {
			return nil
		}
		if !tr.Allows(current) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, tr.To)
		}

		_, err = tx.Exec(ctx,
			`UPDATE payment_orders
			 SET payment_status = $2, payout_paused = payout_paused OR $3, updated_at = NOW()
			 WHERE id = $1`,
			orderID, string(tr.To), tr.To == model.PaymentStatusDisputed,
		)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// RecordRefund сохраняет возврат, созданный у процессора.
func (r *PostgresRepository) RecordRefund(ctx context.Context, refund model.Refund) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO refunds (id, payment_intent_id, order_id, amount, currency, reason, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		refund.ID, refund.PaymentIntentID, refund.OrderID, refund.AmountMinor, refund.Currency,
		string(refund.Reason), refund.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrRefundExists, refund.ID)
		}
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// ListRefunds возвращает возвраты по заказу, начиная с последних.
func (r *PostgresRepository) ListRefunds(ctx context.Context, orderID string) ([]model.Refund, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, payment_intent_id, order_id, amount, currency, reason, status, created_at
		 FROM refunds
		 WHERE order_id = $1
		 ORDER BY created_at DESC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select refunds: %w", err)
	}
	defer rows.Close()

	var res []model.Refund
	for rows.Next() {
		var (
			rf     model.Refund
			reason string
		)
		if err := rows.Scan(&rf.ID, &rf.PaymentIntentID, &rf.OrderID, &rf.AmountMinor, &rf.Currency, &reason, &rf.Status, &rf.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		rf.Reason = model.RefundReason(reason)
		res = append(res, rf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func canTrackIntent(s model.PaymentStatus) bool {
	return s == model.PaymentStatusAwaiting || s == model.PaymentStatusFailed
}
