package verification

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/trustcore/internal/clock"
)

func fixedCode(code string) func() (string, error) {
	return func() (string, error) { return code, nil }
}

func newTestService(t *testing.T, clk clock.Clock, opts ...Option) *Service {
	t.Helper()

	opts = append([]Option{WithClock(clk)}, opts...)
	svc, err := NewService([]byte("test-secret"), opts...)
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresSecret(t *testing.T) {
	_, err := NewService(nil)
	require.Error(t, err)
}

func TestIssueAndVerify_Scenario(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk, WithCodeGenerator(fixedCode("482913")))

	ch, err := svc.IssueChallenge("user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "482913", ch.Code)
	assert.Equal(t, clk.Now().Add(10*time.Minute), ch.ExpiresAt)
	assert.NotContains(t, mustDecode(t, ch.Token), "482913")

	clk.Advance(9 * time.Minute)
	id, err := svc.VerifyChallenge(ch.Token, "482913")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", id)

	clk.Advance(2 * time.Minute)
	_, err = svc.VerifyChallenge(ch.Token, "482913")
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerify_ExactlyAtExpiry(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk, WithCodeGenerator(fixedCode("111111")))

	ch, err := svc.IssueChallenge("+15550100")
	require.NoError(t, err)

	clk.Advance(DefaultTTL)
	_, err = svc.VerifyChallenge(ch.Token, "111111")
	require.NoError(t, err)

	clk.Advance(time.Millisecond)
	_, err = svc.VerifyChallenge(ch.Token, "111111")
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerify_WrongCode(t *testing.T) {
	svc := newTestService(t, clock.NewFake(time.Now()), WithCodeGenerator(fixedCode("123456")))

	ch, err := svc.IssueChallenge("user@example.com")
	require.NoError(t, err)

	for _, code := range []string{"123457", "", "12345", "1234567", "654321"} {
		_, err := svc.VerifyChallenge(ch.Token, code)
		assert.ErrorIs(t, err, ErrInvalidCode, "code %q", code)
	}
}

func TestVerify_ReplayWithinWindowSucceeds(t *testing.T) {
	svc := newTestService(t, clock.NewFake(time.Now()), WithCodeGenerator(fixedCode("246810")))

	ch, err := svc.IssueChallenge("user@example.com")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		id, err := svc.VerifyChallenge(ch.Token, "246810")
		require.NoError(t, err)
		assert.Equal(t, "user@example.com", id)
	}
}

func TestVerify_OtherSecretRejected(t *testing.T) {
	clk := clock.NewFake(time.Now())
	issuer := newTestService(t, clk, WithCodeGenerator(fixedCode("135790")))
	other, err := NewService([]byte("other-secret"), WithClock(clk))
	require.NoError(t, err)

	ch, err := issuer.IssueChallenge("user@example.com")
	require.NoError(t, err)

	_, err = other.VerifyChallenge(ch.Token, "135790")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestVerify_AnyTamperedByteRejected(t *testing.T) {
	svc := newTestService(t, clock.NewFake(time.Now()), WithCodeGenerator(fixedCode("482913")))

	ch, err := svc.IssueChallenge("user@example.com")
	require.NoError(t, err)

	for i := 0; i < len(ch.Token); i++ {
		for _, repl := range []byte{'A', 'z', '0', '+'} {
			if ch.Token[i] == repl {
				continue
			}
			tampered := []byte(ch.Token)
			tampered[i] = repl

			_, err := svc.VerifyChallenge(string(tampered), "482913")
			require.Error(t, err, "position %d replaced with %q", i, repl)
			assert.True(t, IsVerificationError(err))
		}
	}
}

func TestVerify_ForgedIdentifierRejected(t *testing.T) {
	svc := newTestService(t, clock.NewFake(time.Now()), WithCodeGenerator(fixedCode("482913")))

	ch, err := svc.IssueChallenge("user@example.com")
	require.NoError(t, err)

	claims, err := DecodeToken(ch.Token)
	require.NoError(t, err)
	claims.Identifier = "victim@example.com"
	forged, err := json.Marshal(claims)
	require.NoError(t, err)

	_, err = svc.VerifyChallenge(base64.StdEncoding.EncodeToString(forged), "482913")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestVerify_ExtendedExpiryRejected(t *testing.T) {
	clk := clock.NewFake(time.Now())
	svc := newTestService(t, clk, WithCodeGenerator(fixedCode("482913")))

	ch, err := svc.IssueChallenge("user@example.com")
	require.NoError(t, err)

	claims, err := DecodeToken(ch.Token)
	require.NoError(t, err)
	claims.ExpiresAt += int64(time.Hour / time.Millisecond)
	forged, err := json.Marshal(claims)
	require.NoError(t, err)

	clk.Advance(30 * time.Minute)
	_, err = svc.VerifyChallenge(base64.StdEncoding.EncodeToString(forged), "482913")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestDecodeToken_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "not base64", token: "%%%"},
		{name: "not json", token: base64.StdEncoding.EncodeToString([]byte("hello"))},
		{name: "missing identifier", token: encode(`{"identifier":"","expiresAt":1,"signature":"ab"}`)},
		{name: "missing signature", token: encode(`{"identifier":"a","expiresAt":1,"signature":""}`)},
		{name: "missing expiry", token: encode(`{"identifier":"a","signature":"ab"}`)},
		{name: "non-canonical field case", token: encode(`{"Identifier":"a","expiresAt":1,"signature":"ab"}`)},
		{name: "extra whitespace", token: encode(`{"identifier": "a","expiresAt":1,"signature":"ab"}`)},
		{name: "unknown field", token: encode(`{"identifier":"a","expiresAt":1,"signature":"ab","code":"1"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeToken(tt.token)
			require.ErrorIs(t, err, ErrMalformedToken)
		})
	}
}

func TestIssueChallenge_EmptyIdentifier(t *testing.T) {
	svc := newTestService(t, clock.NewFake(time.Now()))

	_, err := svc.IssueChallenge("   ")
	require.ErrorIs(t, err, ErrEmptyIdentifier)
}

func TestIssueChallenge_InvalidUTF8Identifier(t *testing.T) {
	svc := newTestService(t, clock.NewFake(time.Now()), WithCodeGenerator(fixedCode("123456")))

	_, err := svc.IssueChallenge("farm\xffer@example.com")
	require.ErrorIs(t, err, ErrInvalidIdentifier)

	ch, err := svc.IssueChallenge("фермер@example.com")
	require.NoError(t, err)
	id, err := svc.VerifyChallenge(ch.Token, "123456")
	require.NoError(t, err)
	assert.Equal(t, "фермер@example.com", id)
}

func TestWithTTL(t *testing.T) {
	clk := clock.NewFake(time.Now())
	svc := newTestService(t, clk, WithTTL(time.Minute), WithCodeGenerator(fixedCode("100000")))

	ch, err := svc.IssueChallenge("user@example.com")
	require.NoError(t, err)

	clk.Advance(61 * time.Second)
	_, err = svc.VerifyChallenge(ch.Token, "100000")
	require.ErrorIs(t, err, ErrExpired)
}

func TestRandomCode_Range(t *testing.T) {
	for i := 0; i < 500; i++ {
		code, err := RandomCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		assert.NotEqual(t, byte('0'), code[0])
		assert.Empty(t, strings.Trim(code, "0123456789"))
	}
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func mustDecode(t *testing.T, token string) string {
	t.Helper()

	raw, err := base64.StdEncoding.DecodeString(token)
	require.NoError(t, err)
	return string(raw)
}

