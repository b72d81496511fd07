// Package crypto provides room-key end-to-end encryption for document
// payloads and the one-way wire identifier of secure rooms.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/dkeye/omnio/internal/domain"
	chacha "golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const KeySize = chacha.KeySize

var ErrBadKey = errors.New("crypto: bad room key")

// RoomKey is the 32-byte symmetric secret shared by members of a secure
// room.
type RoomKey [KeySize]byte

func (k RoomKey) String() string { return hex.EncodeToString(k[:]) }

func (k RoomKey) IsZero() bool { return k == RoomKey{} }

func ParseRoomKey(s string) (RoomKey, error) {
	var k RoomKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf("%w: want %d bytes, got %d", ErrBadKey, KeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// GenerateRoomKey draws a fresh key from the system CSPRNG.
func GenerateRoomKey() (RoomKey, error) {
	var k RoomKey
	if _, err := rand.Read(k[:]); err != nil {
		return k, fmt.Errorf("crypto: generate key: %w", err)
	}
	return k, nil
}

// Encrypt seals plaintext under key with XChaCha20-Poly1305 and a random
// nonce. The result is base64(nonce || ciphertext || tag).
func Encrypt(key RoomKey, plaintext string) (string, error) {
	aead, err := chacha.NewX(key[:])
	if err != nil {
		return "", fmt.Errorf("crypto: init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Any failure (malformed input,
// wrong key, tampering) yields "", false.
func Decrypt(key RoomKey, ciphertext string) (string, bool) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", false
	}
	aead, err := chacha.NewX(key[:])
	if err != nil {
		return "", false
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return "", false
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", false
	}
	return string(plain), true
}

// DeriveRoomID maps a room id and its key to the identifier used on the
// signaling wire. Peers holding the same key derive the same id; the relay
// cannot recover either input from it.
func DeriveRoomID(room domain.RoomID, key RoomKey) (domain.RoomID, error) {
	sub := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key[:], nil, []byte("omnio room id")), sub); err != nil {
		return "", fmt.Errorf("crypto: derive: %w", err)
	}
	mac := hmac.New(sha256.New, sub)
	mac.Write([]byte(room))
	return domain.RoomID(hex.EncodeToString(mac.Sum(nil)[:16])), nil
}
