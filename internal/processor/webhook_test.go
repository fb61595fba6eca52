package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/trustcore/internal/clock"
)

const testSecret = "whsec_test"

var succeededBody = []byte(`{"id":"evt_1","type":"payment_intent.succeeded","created":1740830400,"data":{"object":{"id":"pi_1","amount":4500,"currency":"usd","status":"succeeded","metadata":{"orderId":"ORD-1"}}}}`)

func newVerifier(t *testing.T, now time.Time) *WebhookVerifier {
	t.Helper()

	v, err := NewWebhookVerifier(testSecret, DefaultTolerance, clock.NewFake(now))
	require.NoError(t, err)
	return v
}

func TestVerifyWebhookSignature_Valid(t *testing.T) {
	now := time.Unix(1740830400, 0)
	header, err := SignPayload(testSecret, now, succeededBody)
	require.NoError(t, err)

	ev, err := newVerifier(t, now).VerifyWebhookSignature(succeededBody, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventPaymentSucceeded, ev.Kind)

	intent, err := ev.Intent()
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", intent.OrderID())
	assert.Equal(t, int64(4500), intent.Amount)
}

func TestVerifyWebhookSignature_SingleBitFlip(t *testing.T) {
	now := time.Unix(1740830400, 0)
	header, err := SignPayload(testSecret, now, succeededBody)
	require.NoError(t, err)
	v := newVerifier(t, now)

	for i := range succeededBody {
		for bit := 0; bit < 8; bit++ {
			tampered := make([]byte, len(succeededBody))
			copy(tampered, succeededBody)
			tampered[i] ^= 1 << bit

			_, err := v.VerifyWebhookSignature(tampered, header)
			require.ErrorIs(t, err, ErrInvalidSignature, "byte %d bit %d", i, bit)
		}
	}
}

func TestVerifyWebhookSignature_Rejections(t *testing.T) {
	now := time.Unix(1740830400, 0)
	valid, err := SignPayload(testSecret, now, succeededBody)
	require.NoError(t, err)
	wrongSecret, err := SignPayload("other", now, succeededBody)
	require.NoError(t, err)
	stale, err := SignPayload(testSecret, now.Add(-10*time.Minute), succeededBody)
	require.NoError(t, err)
	future, err := SignPayload(testSecret, now.Add(10*time.Minute), succeededBody)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{name: "empty header", header: ""},
		{name: "garbage header", header: "nonsense"},
		{name: "missing signature", header: "t=1740830400"},
		{name: "missing timestamp", header: "v1=abcdef"},
		{name: "wrong secret", header: wrongSecret},
		{name: "stale timestamp", header: stale},
		{name: "future timestamp", header: future},
		{name: "non-numeric timestamp", header: "t=abc,v1=" + valid[len("t=1740830400,v1="):]},
	}

	v := newVerifier(t, now)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyWebhookSignature(succeededBody, tt.header)
			require.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestVerifyWebhookSignature_RotatedSecrets(t *testing.T) {
	now := time.Unix(1740830400, 0)
	valid, err := SignPayload(testSecret, now, succeededBody)
	require.NoError(t, err)

	header := "t=1740830400,v1=deadbeef," + valid[len("t=1740830400,"):]
	_, err = newVerifier(t, now).VerifyWebhookSignature(succeededBody, header)
	require.NoError(t, err)
}

func TestVerifyWebhookSignature_UnknownEventType(t *testing.T) {
	now := time.Unix(1740830400, 0)
	body := []byte(`{"id":"evt_9","type":"customer.created","data":{"object":{}}}`)
	header, err := SignPayload(testSecret, now, body)
	require.NoError(t, err)

	ev, err := newVerifier(t, now).VerifyWebhookSignature(body, header)
	require.NoError(t, err)
	assert.Equal(t, EventUnknown, ev.Kind)
	assert.Equal(t, "customer.created", ev.Type)
}

func TestVerifyWebhookSignature_SignedButInvalidJSON(t *testing.T) {
	now := time.Unix(1740830400, 0)
	body := []byte(`not json`)
	header, err := SignPayload(testSecret, now, body)
	require.NoError(t, err)

	_, err = newVerifier(t, now).VerifyWebhookSignature(body, header)
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestParseEventKind(t *testing.T) {
	assert.Equal(t, EventPaymentFailed, ParseEventKind("payment_intent.payment_failed"))
	assert.Equal(t, EventChargeRefunded, ParseEventKind("charge.refunded"))
	assert.Equal(t, EventDisputeCreated, ParseEventKind("charge.dispute.created"))
	assert.Equal(t, EventUnknown, ParseEventKind("charge.dispute.closed"))
	assert.Equal(t, "charge.refunded", EventChargeRefunded.String())
	assert.Equal(t, "unknown", EventUnknown.String())
}
