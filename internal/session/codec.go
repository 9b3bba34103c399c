package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const issuer = "console"

// MinSecretLength is the shortest accepted session secret.
const MinSecretLength = 32

var (
	// ErrInvalidToken reports a cookie that failed decryption or verification.
	ErrInvalidToken = errors.New("session: invalid token")
	// ErrShortSecret reports a session secret below MinSecretLength.
	ErrShortSecret = fmt.Errorf("session: secret must be at least %d bytes", MinSecretLength)
)

type claims struct {
	Session Payload `json:"session"`
	jwt.RegisteredClaims
}

// Codec turns a payload into an opaque token and back. The payload is signed
// as an HS256 JWT, then encrypted as a dir/A256GCM JWE.
type Codec struct {
	signKey []byte
	encKey  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewCodec derives signing and encryption keys from secret. Tokens expire ttl
// after they were encoded.
func NewCodec(secret string, ttl time.Duration) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrShortSecret
	}
	signKey, err := deriveKey(secret, "console session signing")
	if err != nil {
		return nil, err
	}
	encKey, err := deriveKey(secret, "console session encryption")
	if err != nil {
		return nil, err
	}
	return &Codec{signKey: signKey, encKey: encKey, ttl: ttl, now: time.Now}, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("session: derive key: %w", err)
	}
	return key, nil
}

// TTL returns the token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Encode seals p. The issue time is now.
func (c *Codec) Encode(p Payload) (string, error) {
	now := c.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Session: p,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        p.SID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	})
	signed, err := tok.SignedString(c.signKey)
	if err != nil {
		return "", fmt.Errorf("session: sign: %w", err)
	}

	enc, err := jose.NewEncrypter(jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: c.encKey},
		(&jose.EncrypterOptions{}).WithContentType("JWT"))
	if err != nil {
		return "", fmt.Errorf("session: encrypter: %w", err)
	}
	obj, err := enc.Encrypt([]byte(signed))
	if err != nil {
		return "", fmt.Errorf("session: encrypt: %w", err)
	}
	return obj.CompactSerialize()
}

// Decode opens a token produced by Encode. Any failure wraps ErrInvalidToken.
func (c *Codec) Decode(token string) (*Payload, error) {
	obj, err := jose.ParseEncrypted(token,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	signed, err := obj.Decrypt(c.encKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	var cl claims
	_, err = jwt.ParseWithClaims(string(signed), &cl,
		func(*jwt.Token) (any, error) { return c.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if cl.ID != cl.Session.SID {
		return nil, fmt.Errorf("%w: session id mismatch", ErrInvalidToken)
	}
	p := cl.Session
	if cl.IssuedAt != nil {
		p.issuedAt = cl.IssuedAt.Time
	}
	return &p, nil
}
