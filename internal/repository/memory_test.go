package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/trustcore/internal/model"
)

func seeded(t *testing.T) *MemoryRepository {
	t.Helper()

	r := NewMemoryRepository()
	require.NoError(t, r.TrackIntent(context.Background(), model.Order{
		ID:              "ORD-1",
		PaymentIntentID: "pi_1",
		AmountMinor:     4500,
		Currency:        "usd",
	}))
	return r
}

func TestMemory_TrackIntent(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	o, err := r.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusAwaiting, o.PaymentStatus)
	assert.Equal(t, "pi_1", o.PaymentIntentID)

	_, err = r.GetOrder(ctx, "ORD-404")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMemory_RetryAfterFailure(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	applied, err := r.UpdatePaymentStatus(ctx, "ORD-1", model.TransitionFailed, "evt_fail")
	require.NoError(t, err)
	require.True(t, applied)

	require.NoError(t, r.TrackIntent(ctx, model.Order{ID: "ORD-1", PaymentIntentID: "pi_2", AmountMinor: 4500, Currency: "usd"}))

	o, err := r.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusAwaiting, o.PaymentStatus)
	assert.Equal(t, "pi_2", o.PaymentIntentID)
}

func TestMemory_SettledOrderRejectsNewIntent(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	_, err := r.UpdatePaymentStatus(ctx, "ORD-1", model.TransitionPaid, "evt_paid")
	require.NoError(t, err)

	err = r.TrackIntent(ctx, model.Order{ID: "ORD-1", PaymentIntentID: "pi_2"})
	require.ErrorIs(t, err, ErrOrderSettled)
}

func TestMemory_UpdatePaymentStatus_Idempotent(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	applied, err := r.UpdatePaymentStatus(ctx, "ORD-1", model.TransitionPaid, "evt_1")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = r.UpdatePaymentStatus(ctx, "ORD-1", model.TransitionPaid, "evt_1")
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = r.UpdatePaymentStatus(ctx, "ORD-1", model.TransitionPaid, "evt_other")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMemory_UpdatePaymentStatus_InvalidTransition(t *testing.T) {
	r := seeded(t)

	_, err := r.UpdatePaymentStatus(context.Background(), "ORD-1", model.TransitionRefunded, "evt_refund")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = r.UpdatePaymentStatus(context.Background(), "ORD-404", model.TransitionPaid, "evt_x")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMemory_DisputePausesPayout(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	_, err := r.UpdatePaymentStatus(ctx, "ORD-1", model.TransitionPaid, "evt_paid")
	require.NoError(t, err)
	_, err = r.UpdatePaymentStatus(ctx, "ORD-1", model.TransitionDisputed, "evt_dispute")
	require.NoError(t, err)

	o, err := r.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusDisputed, o.PaymentStatus)
	assert.True(t, o.PayoutPaused)
}

func TestMemory_ConcurrentRedelivery(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	var appliedCount int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := r.UpdatePaymentStatus(ctx, "ORD-1", model.TransitionPaid, "evt_same")
			assert.NoError(t, err)
			if applied {
				atomic.AddInt32(&appliedCount, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), appliedCount)
}

func TestMemory_Refunds(t *testing.T) {
	r := seeded(t)
	ctx := context.Background()

	refund := model.Refund{ID: "re_1", PaymentIntentID: "pi_1", OrderID: "ORD-1", AmountMinor: 4500, Currency: "usd", Reason: model.RefundReasonDuplicate, Status: "succeeded"}
	require.NoError(t, r.RecordRefund(ctx, refund))
	require.ErrorIs(t, r.RecordRefund(ctx, refund), ErrRefundExists)

	list, err := r.ListRefunds(ctx, "ORD-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "re_1", list[0].ID)
}
