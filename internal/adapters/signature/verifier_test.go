package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/testutil"
)

const testSecret = "s3cr3t"

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"repository":{"full_name":"owner/repo"}}`)
	header := SignHMAC(body, []byte(testSecret))

	v := NewVerifier(WithHMACSecret(testSecret))
	h := http.Header{}
	h.Set(HeaderHubSignature, header)

	ev, err := v.Verify(body, h, SchemeHMACSHA256)
	require.NoError(t, err)
	require.Equal(t, "owner/repo", ev.String("repository.full_name"))
}

func TestVerifyHMACSingleByteMutation(t *testing.T) {
	body := []byte(`{"repository":{"full_name":"owner/repo"},"ref":"main"}`)
	header := SignHMAC(body, []byte(testSecret))
	require.NoError(t, VerifyHMAC(body, header, []byte(testSecret)))

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		err := VerifyHMAC(mutated, header, []byte(testSecret))
		require.ErrorIs(t, err, ErrBadSignature, "byte %d", i)
	}
}

func TestVerifyHMACErrors(t *testing.T) {
	body := []byte(`{}`)
	tests := []struct {
		name   string
		header string
		secret string
		want   error
	}{
		{name: "missing header", header: "", secret: testSecret, want: ErrMissingCredentials},
		{name: "no prefix", header: "deadbeef", secret: testSecret, want: ErrBadSignature},
		{name: "not hex", header: "sha256=zz", secret: testSecret, want: ErrBadSignature},
		{name: "other secret", header: SignHMAC(body, []byte("other")), secret: testSecret, want: ErrBadSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyHMAC(body, tt.header, []byte(tt.secret))
			require.ErrorIs(t, err, tt.want)
			require.True(t, errors.Is(err, domain.ErrAuth))
		})
	}
}

func TestVerifyMalformedBodyIsAuthError(t *testing.T) {
	body := []byte(`not json`)
	h := http.Header{}
	h.Set(HeaderHubSignature, SignHMAC(body, []byte(testSecret)))

	_, err := NewVerifier(WithHMACSecret(testSecret)).Verify(body, h, SchemeHMACSHA256)
	require.ErrorIs(t, err, ErrMalformedBody)
	require.ErrorIs(t, err, domain.ErrAuth)
}

func signEd25519(t *testing.T, priv ed25519.PrivateKey, ts string, body []byte) string {
	t.Helper()
	return hex.EncodeToString(ed25519.Sign(priv, append([]byte(ts), body...)))
}

func TestVerifyEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewClock(now)
	v := NewVerifier(WithPublicKey(pub), WithClock(clock), WithMaxSkew(5*time.Minute))
	body := []byte(`{"type":1}`)

	fresh := strconv.FormatInt(now.Unix(), 10)
	h := http.Header{}
	h.Set(HeaderEd25519Timestamp, fresh)
	h.Set(HeaderEd25519Signature, signEd25519(t, priv, fresh, body))
	ev, err := v.Verify(body, h, SchemeEd25519)
	require.NoError(t, err)
	require.Equal(t, "1", ev.String("type"))

	t.Run("stale timestamp", func(t *testing.T) {
		stale := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
		h := http.Header{}
		h.Set(HeaderEd25519Timestamp, stale)
		h.Set(HeaderEd25519Signature, signEd25519(t, priv, stale, body))
		_, err := v.Verify(body, h, SchemeEd25519)
		require.ErrorIs(t, err, ErrStaleTimestamp)
	})

	t.Run("mutated body", func(t *testing.T) {
		_, err := v.Verify([]byte(`{"type":2}`), h, SchemeEd25519)
		require.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("missing headers", func(t *testing.T) {
		_, err := v.Verify(body, http.Header{}, SchemeEd25519)
		require.ErrorIs(t, err, ErrMissingCredentials)
	})
}

func TestParseEd25519PublicKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	key, err := ParseEd25519PublicKey(hex.EncodeToString(pub))
	require.NoError(t, err)
	require.Equal(t, pub, key)

	_, err = ParseEd25519PublicKey("abcd")
	require.Error(t, err)
}
