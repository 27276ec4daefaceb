// Package vault keeps owner tokens on the client so that a casual look at
// local storage does not reveal them. The AES key is stored next to the
// tokens, so anyone who can read the vault file can decrypt it.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Entries live under "qrdrop.{scope}.{id}"; the key's name uses a separator
// no entry name can produce.
const (
	keyID         = "qrdrop/key"
	entryPrefix   = "qrdrop."
	keySize       = 32
	encodedPrefix = "enc."
)

var errMalformed = errors.New("malformed vault entry")

// Vault encrypts tokens with AES-GCM under a key kept in the same Storage.
// Every failure degrades instead of erroring: Save falls back to plaintext
// and Load returns nothing.
type Vault struct {
	store Storage

	mu   sync.Mutex
	aead cipher.AEAD
}

// New wraps store. The key is created or loaded lazily.
func New(store Storage) *Vault {
	return &Vault{store: store}
}

// Save stores token under (scope, id).
func (v *Vault) Save(scope, id, token string) {
	value, err := v.seal(token)
	if err != nil {
		// Degraded mode: the token is still needed to manage the resource.
		log.Printf("vault: encryption unavailable, storing %s/%s in plaintext: %v", scope, id, err)
		value = token
	}
	if err := v.store.Set(entryKey(scope, id), value); err != nil {
		log.Printf("vault: save %s/%s: %v", scope, id, err)
	}
}

// Load returns the token under (scope, id). Values without the encrypted
// prefix are returned unchanged.
func (v *Vault) Load(scope, id string) (string, bool) {
	value, ok, err := v.store.Get(entryKey(scope, id))
	if err != nil {
		log.Printf("vault: load %s/%s: %v", scope, id, err)
		return "", false
	}
	if !ok {
		return "", false
	}
	if !strings.HasPrefix(value, encodedPrefix) {
		return value, true
	}
	token, err := v.open(value)
	if err != nil {
		log.Printf("vault: decrypt %s/%s: %v", scope, id, err)
		return "", false
	}
	return token, true
}

// Remove deletes the entry under (scope, id).
func (v *Vault) Remove(scope, id string) {
	if err := v.store.Delete(entryKey(scope, id)); err != nil {
		log.Printf("vault: remove %s/%s: %v", scope, id, err)
	}
}

func (v *Vault) seal(token string) (string, error) {
	aead, err := v.key()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, []byte(token), nil)
	return encodedPrefix + base64.StdEncoding.EncodeToString(nonce) + "." + base64.StdEncoding.EncodeToString(ct), nil
}

func (v *Vault) open(value string) (string, error) {
	nonceB64, ctB64, ok := strings.Cut(strings.TrimPrefix(value, encodedPrefix), ".")
	if !ok {
		return "", errMalformed
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	aead, err := v.key()
	if err != nil {
		return "", err
	}
	if len(nonce) != aead.NonceSize() {
		return "", errMalformed
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(pt), nil
}

// key loads the stored secret or creates one on first use. The stored
// base64 bytes are the AES key itself.
func (v *Vault) key() (cipher.AEAD, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.aead != nil {
		return v.aead, nil
	}
	encoded, ok, err := v.store.Get(keyID)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	var raw []byte
	if ok {
		raw, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(raw) != keySize {
			return nil, errors.New("stored key is unusable")
		}
	} else {
		raw = make([]byte, keySize)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		if err := v.store.Set(keyID, base64.StdEncoding.EncodeToString(raw)); err != nil {
			return nil, fmt.Errorf("persist key: %w", err)
		}
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	v.aead = aead
	return aead, nil
}

func entryKey(scope, id string) string {
	return entryPrefix + scope + "." + id
}
