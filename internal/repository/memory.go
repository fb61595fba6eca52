package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/trustcore/internal/model"
)

// MemoryRepository хранит проекцию заказов в памяти процесса. Используется без DATABASE_URI.
type MemoryRepository struct {
	mu      sync.Mutex
	orders  map[string]model.Order
	applied map[string]struct{}
	refunds map[string]model.Refund
	now     func() time.Time
}

// NewMemoryRepository создаёт пустое хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:  make(map[string]model.Order),
		applied: make(map[string]struct{}),
		refunds: make(map[string]model.Refund),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

// Ping всегда успешен.
func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

// GetOrder возвращает копию проекции заказа.
func (r *MemoryRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

// TrackIntent повторяет семантику PostgresRepository.TrackIntent.
func (r *MemoryRepository) TrackIntent(ctx context.Context, o model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.orders[o.ID]
	if ok && !canTrackIntent(existing.PaymentStatus) {
		return ErrOrderSettled
	}

	o.PaymentStatus = model.PaymentStatusAwaiting
	o.PayoutPaused = existing.PayoutPaused
	o.UpdatedAt = r.now()
	r.orders[o.ID] = o
	return nil
}

// UpdatePaymentStatus повторяет семантику PostgresRepository.UpdatePaymentStatus.
func (r *MemoryRepository) UpdatePaymentStatus(ctx context.Context, orderID string, tr model.Transition, causedByEventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return false, ErrOrderNotFound
	}
	if _, seen := r.applied[causedByEventID]; seen {
		return false, nil
	}
	if o.PaymentStatus == tr.To {
		return false, nil
	}
	if !tr.Allows(o.PaymentStatus) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.PaymentStatus, tr.To)
	}

	o.PaymentStatus = tr.To
	if tr.To == model.PaymentStatusDisputed {
		o.PayoutPaused = true
	}
	o.UpdatedAt = r.now()
	r.orders[orderID] = o
	r.applied[causedByEventID] = struct{}{}
	return true, nil
}

// RecordRefund сохраняет возврат.
func (r *MemoryRepository) RecordRefund(ctx context.Context, refund model.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.refunds[refund.ID]; ok {
		return fmt.Errorf("%w: %s", ErrRefundExists, refund.ID)
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = r.now()
	}
	r.refunds[refund.ID] = refund
	return nil
}

// ListRefunds возвращает возвраты по заказу, начиная с последних.
func (r *MemoryRepository) ListRefunds(ctx context.Context, orderID string) ([]model.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Refund
	for _, rf := range r.refunds {
		if rf.OrderID == orderID {
			res = append(res, rf)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}
