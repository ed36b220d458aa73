// Package token issues and verifies the short-lived encrypted tokens used to
// log a user in when they arrive from the remote directory.
//
// Tokens are JWTs encrypted with a shared symmetric key (JWE, A256KW key
// wrapping, A256CBC-HS512 content encryption).
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"go.uber.org/zap"
)

// DefaultExpiry is the lifetime of an issued token.
const DefaultExpiry = 60 * time.Second

// ErrInvalid is returned for any token that cannot be decrypted, is
// malformed or has expired.
var ErrInvalid = errors.New("invalid token")

// Issuer issues and verifies tokens with one key.
type Issuer struct {
	key    []byte
	expiry time.Duration
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewIssuer builds an Issuer from a JSON Web Key holding a 256-bit
// symmetric ("oct") key. A zero expiry selects DefaultExpiry.
func NewIssuer(jwkJSON []byte, expiry time.Duration, logger *zap.SugaredLogger) (*Issuer, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(jwkJSON); err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	key, ok := jwk.Key.([]byte)
	if !ok {
		return nil, fmt.Errorf("key must be symmetric, got %T", jwk.Key)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 256 bits, got %d", len(key)*8)
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if logger == nil {
		logger = zap.S()
	}
	return &Issuer{key: key, expiry: expiry, now: time.Now, logger: logger.Named("token")}, nil
}

// GenerateKey returns a new random key as a JSON Web Key.
func GenerateKey() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return jose.JSONWebKey{Key: secret, Algorithm: string(jose.A256KW), Use: "enc"}.MarshalJSON()
}

// Issue encrypts claims. An "exp" claim is added unless claims has one.
func (i *Issuer) Issue(claims map[string]any) (string, error) {
	c := maps.Clone(claims)
	if c == nil {
		c = map[string]any{}
	}
	if _, ok := c["exp"]; !ok {
		c["exp"] = i.now().Add(i.expiry).Unix()
	}

	enc, err := jose.NewEncrypter(
		jose.A256CBC_HS512,
		jose.Recipient{Algorithm: jose.A256KW, Key: i.key},
		(&jose.EncrypterOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("create encrypter: %w", err)
	}
	return jwt.Encrypted(enc).Claims(c).Serialize()
}

// IssueAutoLogin issues a token identifying the user by email.
func (i *Issuer) IssueAutoLogin(email string) (string, error) {
	return i.Issue(map[string]any{"email": email})
}

// Verify decrypts token and checks its expiry. The returned claims do not
// include "exp".
func (i *Issuer) Verify(token string) (map[string]any, error) {
	claims, err := i.verify(token)
	if err != nil {
		i.logger.Infow("Could not decrypt token", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return claims, nil
}

func (i *Issuer) verify(token string) (map[string]any, error) {
	tok, err := jwt.ParseEncrypted(token, []jose.KeyAlgorithm{jose.A256KW}, []jose.ContentEncryption{jose.A256CBC_HS512})
	if err != nil {
		return nil, err
	}

	var (
		std    jwt.Claims
		claims map[string]any
	)
	if err := tok.Claims(i.key, &std, &claims); err != nil {
		return nil, err
	}
	if err := std.Validate(jwt.Expected{Time: i.now()}); err != nil {
		return nil, err
	}

	delete(claims, "exp")
	return claims, nil
}
