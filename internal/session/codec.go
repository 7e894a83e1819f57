/**
 * @description
 * This package seals the donor's provider customer id into an opaque token
 * carried as a browser cookie. The cookie is the only durable copy: nothing is
 * stored server-side, and a returning one-time donor can be upgraded to a
 * monthly subscription without re-collecting payment details.
 *
 * Key features:
 * - Symmetric authenticated encryption: PBKDF2-SHA256 key derivation with a
 *   random per-token salt, then AES-256-GCM.
 * - A fixed parameter set shared by both directions, so tokens issued by any
 *   instance decode on any other instance holding the same secret.
 *
 * @dependencies
 * - golang.org/x/crypto/pbkdf2: Key derivation from the server-held secret.
 * - crypto/aes, crypto/cipher, crypto/rand, crypto/sha256: Standard library AEAD.
 */

package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Fixed parameter set. Changing any of these invalidates tokens in flight.
const (
	tokenVersion  = "v1"
	keyIterations = 4096
	keyLength     = 32
	saltLength    = 16
)

// ErrTokenInvalid is returned for any token that fails parsing, decryption or
// authentication. Callers must treat it as "no credential available", not as a
// fatal error.
var ErrTokenInvalid = errors.New("session token invalid")

// Payload is the structured content of a session token.
type Payload struct {
	StripeCustomerID string `json:"stripe_customer_id"`
}

// Codec encrypts and decrypts session tokens with a server-held secret.
type Codec struct {
	secret []byte
}

// NewCodec creates a codec keyed by the given secret. The secret must be
// non-empty; token security is only as strong as the secret's entropy.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("session codec secret must not be empty")
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Encode seals the payload into an opaque token string.
func (c *Codec) Encode(payload Payload) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session payload: %w", err)
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate token salt: %w", err)
	}

	aead, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate token nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, []byte(tokenVersion))

	return strings.Join([]string{
		tokenVersion,
		base64.RawURLEncoding.EncodeToString(salt),
		base64.RawURLEncoding.EncodeToString(sealed),
	}, "."), nil
}

// Decode opens a token produced by Encode. Any parsing, version, decryption or
// authentication failure yields ErrTokenInvalid; a wrong-but-successful payload
// is never returned.
func (c *Codec) Decode(token string) (Payload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != tokenVersion {
		return Payload{}, ErrTokenInvalid
	}

	salt, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(salt) != saltLength {
		return Payload{}, ErrTokenInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Payload{}, ErrTokenInvalid
	}

	aead, err := c.aead(salt)
	if err != nil {
		return Payload{}, ErrTokenInvalid
	}
	if len(sealed) < aead.NonceSize() {
		return Payload{}, ErrTokenInvalid
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(tokenVersion))
	if err != nil {
		return Payload{}, ErrTokenInvalid
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return Payload{}, ErrTokenInvalid
	}
	return payload, nil
}

func (c *Codec) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.secret, salt, keyIterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
