// Package vault implements the encrypted credential store. The on-disk file
// is a single AEAD-sealed JSON object of key→value strings:
//
//	byte 0      format version (0x02 HMAC-CTR, 0x03 AES-256-GCM)
//	bytes 1-16  PBKDF2 salt
//	then        nonce (12 bytes for 0x03, 16-byte IV for 0x02)
//	then        ciphertext (+16-byte GCM tag, or +32-byte HMAC tag for 0x02)
//
// Keys derive from the password via PBKDF2-SHA256. New files are always
// written as 0x03; 0x02 is kept readable for files created before AES-GCM.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

const (
	versionHMACCTR = 0x02
	versionAESGCM  = 0x03

	saltLen       = 16
	gcmNonceLen   = 12
	ctrIVLen      = 16
	hmacTagLen    = 32
	pbkdf2Iters   = 100_000
	keyLen        = 32
)

// Vault is the process-wide encrypted key/value store. All access is
// mutex-guarded; the cleartext map lives only in memory while unlocked.
type Vault struct {
	mu       sync.RWMutex
	path     string
	password string
	data     map[string]string
	unlocked bool
}

// New points a vault at its file. The vault starts locked.
func New(path string) *Vault {
	return &Vault{path: path}
}

// Exists reports whether the vault file is present on disk.
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// Create initializes a new empty vault sealed with password. Fails if the
// file already exists.
func (v *Vault) Create(password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := os.Stat(v.path); err == nil {
		return fmt.Errorf("vault already exists at %s", v.path)
	}
	v.password = password
	v.data = make(map[string]string)
	v.unlocked = true
	return v.saveLocked()
}

// Unlock decrypts the vault with password. A wrong password returns false
// without revealing anything about where decryption failed.
func (v *Vault) Unlock(password string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	raw, err := os.ReadFile(v.path)
	if err != nil {
		return false
	}
	data, err := open(raw, password)
	if err != nil {
		return false
	}
	v.password = password
	v.data = data
	v.unlocked = true
	return true
}

// IsUnlocked reports whether secrets are currently readable.
func (v *Vault) IsUnlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.unlocked
}

// Lock wipes the in-memory cleartext.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.data = nil
	v.password = ""
	v.unlocked = false
}

// Get returns the value for key.
func (v *Vault) Get(key string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.unlocked {
		return "", entity.ErrVaultLocked
	}
	val, ok := v.data[key]
	if !ok {
		return "", entity.ErrKeyNotFound
	}
	return val, nil
}

// Set stores key=value and persists immediately.
func (v *Vault) Set(key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.unlocked {
		return entity.ErrVaultLocked
	}
	v.data[key] = value
	return v.saveLocked()
}

// Delete removes key and persists.
func (v *Vault) Delete(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.unlocked {
		return entity.ErrVaultLocked
	}
	delete(v.data, key)
	return v.saveLocked()
}

// Keys lists stored key names, sorted.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.unlocked {
		return nil
	}
	keys := make([]string, 0, len(v.data))
	for k := range v.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasKey reports whether the named provider has a credential. Implements the
// model router's KeyChecker. Ollama runs keyless, so it always qualifies.
func (v *Vault) HasKey(provider string) bool {
	if provider == "ollama" {
		return true
	}
	_, err := v.Get(provider + "_api_key")
	return err == nil
}

// saveLocked seals and atomically replaces the vault file. Caller holds mu.
func (v *Vault) saveLocked() error {
	plain, err := json.Marshal(v.data)
	if err != nil {
		return fmt.Errorf("marshal vault: %w", err)
	}
	sealed, err := seal(plain, v.password)
	if err != nil {
		return err
	}

	tmp := v.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	return os.Rename(tmp, v.path)
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iters, keyLen, sha256.New)
}

// seal encrypts plain with a fresh salt and nonce as a version 0x03 blob.
func seal(plain []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	ct := gcm.Seal(nil, nonce, plain, nil)

	out := make([]byte, 0, 1+saltLen+gcmNonceLen+len(ct))
	out = append(out, versionAESGCM)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

// open decrypts a vault blob in either supported format.
func open(raw []byte, password string) (map[string]string, error) {
	if len(raw) < 1+saltLen {
		return nil, entity.ErrBadVaultMagic
	}
	version := raw[0]
	salt := raw[1 : 1+saltLen]
	rest := raw[1+saltLen:]
	key := deriveKey(password, salt)

	var plain []byte
	var err error
	switch version {
	case versionAESGCM:
		plain, err = openGCM(rest, key)
	case versionHMACCTR:
		plain, err = openHMACCTR(rest, key, salt, password)
	default:
		return nil, entity.ErrBadVaultMagic
	}
	if err != nil {
		return nil, err
	}

	data := make(map[string]string)
	if err := json.Unmarshal(plain, &data); err != nil {
		return nil, fmt.Errorf("vault payload corrupt: %w", err)
	}
	return data, nil
}

func openGCM(rest, key []byte) ([]byte, error) {
	if len(rest) < gcmNonceLen {
		return nil, entity.ErrBadVaultMagic
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, rest[:gcmNonceLen], rest[gcmNonceLen:], nil)
}

// openHMACCTR handles the legacy format: IV | ciphertext | HMAC-SHA256 tag,
// where the tag keys off a separate HMAC key derived from password+salt.
func openHMACCTR(rest, key, salt []byte, password string) ([]byte, error) {
	if len(rest) < ctrIVLen+hmacTagLen {
		return nil, entity.ErrBadVaultMagic
	}
	iv := rest[:ctrIVLen]
	ct := rest[ctrIVLen : len(rest)-hmacTagLen]
	tag := rest[len(rest)-hmacTagLen:]

	hmacKey := pbkdf2.Key([]byte(password), append([]byte("hmac:"), salt...), pbkdf2Iters, keyLen, sha256.New)
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(iv)
	mac.Write(ct)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return nil, fmt.Errorf("vault authentication failed")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ct))
	cipher.NewCTR(block, iv).XORKeyStream(plain, ct)
	return plain, nil
}
