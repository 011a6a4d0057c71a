// Package vault encrypts individual field values. Each value carries its own
// nonce and the key version that sealed it, so rotation never requires a
// stop-the-world rewrite: old versions stay decryptable until the last
// ciphertext referencing them is re-encrypted.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"custodia/internal/platform/metrics"
	dErrors "custodia/pkg/domainerrors"
)

// EncryptedValue is the stored form of a restricted field.
type EncryptedValue struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	KeyVersion int    `json:"key_version"`
}

// KeyringStore holds the current key version pointer. Implementations must
// make Advance atomic: concurrent rotations may not hand out the same
// version twice.
type KeyringStore interface {
	// CurrentVersion returns the active key version. Fetched per operation
	// so a rotation is visible to every caller immediately.
	CurrentVersion(ctx context.Context) (int, error)
	// Advance atomically increments the current version and returns the new
	// value.
	Advance(ctx context.Context) (int, error)
}

// Vault derives per-version AES-256 keys from a master secret with HKDF and
// seals values with AES-GCM. Plaintext never appears in logs or errors.
type Vault struct {
	master  []byte
	keyring KeyringStore
	metrics *metrics.Metrics

	mu   sync.RWMutex
	keys map[int][]byte // derived keys; derivation is deterministic
}

// New builds a vault from a base64-encoded master secret of at least 32
// bytes.
func New(masterKey string, keyring KeyringStore) (*Vault, error) {
	master, err := base64.StdEncoding.DecodeString(masterKey)
	if err != nil {
		master, err = base64.RawStdEncoding.DecodeString(masterKey)
	}
	if err != nil {
		return nil, fmt.Errorf("master key is not valid base64: %w", err)
	}
	if len(master) < 32 {
		return nil, fmt.Errorf("master key must be at least 32 bytes, got %d", len(master))
	}
	return &Vault{master: master, keyring: keyring, keys: make(map[int][]byte)}, nil
}

// WithMetrics attaches operation counters and returns the vault for chaining.
func (v *Vault) WithMetrics(m *metrics.Metrics) *Vault {
	v.metrics = m
	return v
}

func (v *Vault) count(op string, err error) {
	if v.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	v.metrics.VaultOperations.WithLabelValues(op, result).Inc()
}

func (v *Vault) key(version int) ([]byte, error) {
	v.mu.RLock()
	key, ok := v.keys[version]
	v.mu.RUnlock()
	if ok {
		return key, nil
	}

	info := fmt.Appendf(nil, "custodia field key v%d", version)
	key = make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, v.master, nil, info), key); err != nil {
		return nil, fmt.Errorf("derive key version %d: %w", version, err)
	}

	v.mu.Lock()
	v.keys[version] = key
	v.mu.Unlock()
	return key, nil
}

func (v *Vault) aead(version int) (cipher.AEAD, error) {
	key, err := v.key(version)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under the current key version with a fresh nonce.
func (v *Vault) Encrypt(ctx context.Context, plaintext []byte) (value EncryptedValue, err error) {
	defer func() { v.count("encrypt", err) }()
	version, err := v.keyring.CurrentVersion(ctx)
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("load current key version: %w", err)
	}
	return v.encryptWith(version, plaintext)
}

func (v *Vault) encryptWith(version int, plaintext []byte) (EncryptedValue, error) {
	gcm, err := v.aead(version)
	if err != nil {
		return EncryptedValue{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return EncryptedValue{}, fmt.Errorf("generate nonce: %w", err)
	}
	return EncryptedValue{
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
		KeyVersion: version,
	}, nil
}

// Decrypt opens a sealed value with the key version it was sealed under.
// Tampered ciphertext or a wrong version fails with CodeDecryption; corrupted
// plaintext is never returned.
func (v *Vault) Decrypt(_ context.Context, value EncryptedValue) (plaintext []byte, err error) {
	defer func() { v.count("decrypt", err) }()
	if value.KeyVersion < 1 {
		return nil, dErrors.Newf(dErrors.CodeDecryption, "invalid key version %d", value.KeyVersion)
	}
	gcm, err := v.aead(value.KeyVersion)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDecryption, "prepare cipher")
	}
	if len(value.Nonce) != gcm.NonceSize() {
		return nil, dErrors.New(dErrors.CodeDecryption, "nonce length mismatch")
	}
	plaintext, err = gcm.Open(nil, value.Nonce, value.Ciphertext, nil)
	if err != nil {
		// Deliberately drop the underlying error: GCM failures carry no
		// useful detail and the message must never echo data.
		return nil, dErrors.New(dErrors.CodeDecryption, "ciphertext failed authentication")
	}
	return plaintext, nil
}

// Rotate atomically advances the current key version. In-flight operations
// keep working: values sealed under older versions remain decryptable.
func (v *Vault) Rotate(ctx context.Context) (int, error) {
	version, err := v.keyring.Advance(ctx)
	if err != nil {
		return 0, fmt.Errorf("advance key version: %w", err)
	}
	return version, nil
}

// Reencrypt reseals a value under the current key version. Used for the lazy
// or batch migration that drains old versions after a rotation.
func (v *Vault) Reencrypt(ctx context.Context, value EncryptedValue) (EncryptedValue, error) {
	current, err := v.keyring.CurrentVersion(ctx)
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("load current key version: %w", err)
	}
	if value.KeyVersion == current {
		return value, nil
	}
	plaintext, err := v.Decrypt(ctx, value)
	if err != nil {
		return EncryptedValue{}, err
	}
	return v.encryptWith(current, plaintext)
}
