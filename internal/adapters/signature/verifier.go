package signature

import (
	"bytes"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"guild-rewards-bot/internal/domain"
)

// Заголовки подписанных запросов.
const (
	HeaderHubSignature     = "X-Hub-Signature-256"
	HeaderGitHubEvent      = "X-GitHub-Event"
	HeaderGitHubDelivery   = "X-GitHub-Delivery"
	HeaderEd25519Signature = "X-Signature-Ed25519"
	HeaderEd25519Timestamp = "X-Signature-Timestamp"
)

const hubSignaturePrefix = "sha256="

// DefaultMaxSkew — допустимое расхождение метки времени подписи с часами сервера.
const DefaultMaxSkew = 5 * time.Minute

var (
	ErrMissingCredentials = fmt.Errorf("%w: missing signature headers", domain.ErrAuth)
	ErrBadSignature       = fmt.Errorf("%w: signature mismatch", domain.ErrAuth)
	ErrStaleTimestamp     = fmt.Errorf("%w: timestamp outside freshness window", domain.ErrAuth)
	ErrMalformedBody      = fmt.Errorf("%w: malformed body", domain.ErrAuth)
)

// Scheme выбирает способ проверки подписи.
type Scheme int

const (
	// SchemeHMACSHA256 — keyed-hash от сырого тела, заголовок "sha256=<hex>".
	SchemeHMACSHA256 Scheme = iota + 1
	// SchemeEd25519 — подпись ed25519 от timestamp+body с проверкой свежести.
	SchemeEd25519
)

// ParsedEvent — тело запроса после успешной проверки подписи.
type ParsedEvent struct {
	Raw    []byte
	Fields map[string]any
}

// String возвращает строковое поле верхнего уровня или вложенное через точку ("repository.full_name").
func (e ParsedEvent) String(path string) string {
	var cur any = e.Fields
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	switch v := cur.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

// Verifier проверяет подписи входящих событий. Побочных эффектов нет.
type Verifier struct {
	hmacSecret []byte
	publicKey  ed25519.PublicKey
	maxSkew    time.Duration
	clock      domain.Clock
}

// Option настраивает Verifier.
type Option func(*Verifier)

// WithHMACSecret задаёт общий секрет для SchemeHMACSHA256.
func WithHMACSecret(secret string) Option {
	return func(v *Verifier) { v.hmacSecret = []byte(secret) }
}

// WithPublicKey задаёт публичный ключ для SchemeEd25519.
func WithPublicKey(key ed25519.PublicKey) Option {
	return func(v *Verifier) { v.publicKey = key }
}

// WithMaxSkew задаёт окно свежести метки времени.
func WithMaxSkew(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.maxSkew = d
		}
	}
}

// WithClock подменяет часы.
func WithClock(c domain.Clock) Option {
	return func(v *Verifier) { v.clock = c }
}

// NewVerifier создаёт проверяющий компонент.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{maxSkew: DefaultMaxSkew, clock: domain.SystemClock{}}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify проверяет подпись сырого тела и разбирает его как JSON-объект.
// Все ошибки оборачивают domain.ErrAuth.
func (v *Verifier) Verify(rawBody []byte, headers http.Header, scheme Scheme) (ParsedEvent, error) {
	var err error
	switch scheme {
	case SchemeHMACSHA256:
		err = VerifyHMAC(rawBody, headers.Get(HeaderHubSignature), v.hmacSecret)
	case SchemeEd25519:
		err = VerifyEd25519(rawBody, headers.Get(HeaderEd25519Signature), headers.Get(HeaderEd25519Timestamp), v.publicKey, v.clock.Now(), v.maxSkew)
	default:
		err = fmt.Errorf("%w: unknown scheme %d", domain.ErrAuth, scheme)
	}
	if err != nil {
		return ParsedEvent{}, err
	}
	return parseBody(rawBody)
}

// VerifyHMAC сравнивает HMAC-SHA256 тела с заголовком "sha256=<hex>" за постоянное время.
func VerifyHMAC(body []byte, header string, secret []byte) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingCredentials
	}
	if len(secret) == 0 {
		return fmt.Errorf("%w: secret is not configured", domain.ErrAuth)
	}
	if !strings.HasPrefix(header, hubSignaturePrefix) {
		return ErrBadSignature
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(header, hubSignaturePrefix))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrBadSignature
	}
	return nil
}

// SignHMAC вычисляет значение заголовка для тела. Используется в тестах и утилитах.
func SignHMAC(body []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hubSignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifyEd25519 проверяет подпись timestamp+body и свежесть метки времени (unix seconds).
func VerifyEd25519(body []byte, sigHex, timestamp string, key ed25519.PublicKey, now time.Time, maxSkew time.Duration) error {
	sigHex = strings.TrimSpace(sigHex)
	timestamp = strings.TrimSpace(timestamp)
	if sigHex == "" || timestamp == "" {
		return ErrMissingCredentials
	}
	if len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key is not configured", domain.ErrAuth)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	if !ed25519.Verify(key, msg, sig) {
		return ErrBadSignature
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return ErrStaleTimestamp
	}
	return nil
}

// ParseEd25519PublicKey разбирает hex-представление публичного ключа.
func ParseEd25519PublicKey(hexKey string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

func parseBody(raw []byte) (ParsedEvent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ParsedEvent{}, ErrMalformedBody
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return ParsedEvent{}, ErrMalformedBody
	}
	return ParsedEvent{Raw: raw, Fields: fields}, nil
}
