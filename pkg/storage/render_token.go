package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTokenMalformed is returned for tokens that do not have the expected shape.
	ErrTokenMalformed = errors.New("malformed render token")
	// ErrTokenSignature is returned when the HMAC does not match.
	ErrTokenSignature = errors.New("invalid render token signature")
	// ErrTokenExpired is returned once the token is past its expiry.
	ErrTokenExpired = errors.New("render token expired")
)

// RenderClaims is what a render token grants access to.
type RenderClaims struct {
	BulletinID string
	Version    int
	ExpiresAt  time.Time
}

// RenderTokenSigner issues short-lived tokens that let a renderer fetch bulletin document data
// without an API session.
type RenderTokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewRenderTokenSigner constructs a signer with the provided secret and TTL.
func NewRenderTokenSigner(secret string, ttl time.Duration) *RenderTokenSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RenderTokenSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for one bulletin snapshot version.
func (s *RenderTokenSigner) Issue(bulletinID string, version int) (string, time.Time, error) {
	if bulletinID == "" {
		return "", time.Time{}, fmt.Errorf("bulletin id required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).UTC()
	id := base64.RawURLEncoding.EncodeToString([]byte(bulletinID))
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	ver := strconv.Itoa(version)
	token := strings.Join([]string{id, ver, exp, s.sign(id, ver, exp)}, ".")
	return token, time.Unix(expiresAt.Unix(), 0).UTC(), nil
}

// Verify checks the signature and expiry and returns the embedded claims.
func (s *RenderTokenSigner) Verify(token string) (RenderClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return RenderClaims{}, ErrTokenMalformed
	}
	id, ver, exp, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(id, ver, exp)), []byte(signature)) {
		return RenderClaims{}, ErrTokenSignature
	}
	rawID, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return RenderClaims{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	version, err := strconv.Atoi(ver)
	if err != nil {
		return RenderClaims{}, fmt.Errorf("%w: version", ErrTokenMalformed)
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return RenderClaims{}, fmt.Errorf("%w: expiry", ErrTokenMalformed)
	}
	expiresAt := time.Unix(expUnix, 0).UTC()
	if s.now().After(expiresAt) {
		return RenderClaims{}, ErrTokenExpired
	}
	return RenderClaims{BulletinID: string(rawID), Version: version, ExpiresAt: expiresAt}, nil
}

func (s *RenderTokenSigner) sign(parts ...string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
