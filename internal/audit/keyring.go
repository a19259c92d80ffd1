package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var ErrSignatureMismatch = errors.New("block signature mismatch")

// Keyring stores root HMAC keys and the active key id used to sign block hashes.
type Keyring struct {
	keys        map[string][]byte
	activeKeyID string
}

func NewKeyring(keys map[string][]byte, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("hmac keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, fmt.Errorf("active hmac key id is required")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active hmac key id is not configured")
	}
	return &Keyring{keys: keys, activeKeyID: activeKeyID}, nil
}

// KeyringFromSecret builds a single-key keyring, or nil when secret is empty.
func KeyringFromSecret(secret, keyID string) (*Keyring, error) {
	if secret == "" {
		return nil, nil
	}
	return NewKeyring(map[string][]byte{keyID: []byte(secret)}, keyID)
}

func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.activeKeyID
}

// Sign signs a block hash with the active key.
func (k *Keyring) Sign(blockHash string) (string, string, error) {
	if k == nil {
		return "", "", fmt.Errorf("hmac keyring is not configured")
	}
	key, err := chainKey(k.keys[k.activeKeyID])
	if err != nil {
		return "", "", err
	}
	return hmacSHA256Hex(key, blockHash), k.activeKeyID, nil
}

// Verify checks a block hash signature made with any configured key.
func (k *Keyring) Verify(blockHash, signature, keyID string) error {
	if k == nil {
		return fmt.Errorf("hmac keyring is not configured")
	}
	rootKey, ok := k.keys[strings.TrimSpace(keyID)]
	if !ok {
		return fmt.Errorf("signature key id %q is unknown", keyID)
	}
	key, err := chainKey(rootKey)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(hmacSHA256Hex(key, blockHash)), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

func chainKey(rootKey []byte) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, rootKey, nil, []byte("walk-audit-chain")), key); err != nil {
		return nil, fmt.Errorf("derive chain key: %w", err)
	}
	return key, nil
}

func hmacSHA256Hex(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
