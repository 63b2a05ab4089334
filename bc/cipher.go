package bc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/hkdf"
)

const gcmNonceSize = 12

// sharedKey derives the 32-byte AES key for the (self, peer) pair:
// HKDF-SHA256 over the ECDH shared secret, empty salt, fixed info string.
// The derivation is symmetric, so either side reaches the same key.
func (id *Identity) sharedKey(peerAddr string) ([]byte, error) {
	if id.priv == nil {
		return nil, ErrNoPrivateKey
	}
	peer, err := PublicKeyFromAddress(peerAddr)
	if err != nil {
		return nil, err
	}
	secret := secp256k1.GenerateSharedSecret(id.priv, peer)
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive shared key: %w", err)
	}
	return key, nil
}

// EncryptFor encrypts plaintext for the holder of peerAddr and returns
// base64(nonce ‖ ciphertext ‖ tag), AES-256-GCM with a random 12-byte
// nonce.
func (id *Identity) EncryptFor(plaintext []byte, peerAddr string) (string, error) {
	key, err := id.sharedKey(peerAddr)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptFrom reverses EncryptFor for a message sent by peerAddr. The
// second return is false on any decode or authentication failure; a
// failed tag never surfaces partial plaintext.
func (id *Identity) DecryptFrom(encoded, peerAddr string) ([]byte, bool) {
	key, err := id.sharedKey(peerAddr)
	if err != nil {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}
	if len(raw) < gcmNonceSize {
		return nil, false
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, false
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, false
	}
	plaintext, err := aead.Open(nil, raw[:gcmNonceSize], raw[gcmNonceSize:], nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}
