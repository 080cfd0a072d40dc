// Package vault provides symmetric authenticated encryption of exchange API
// credentials at rest. It never logs plaintext, and its ciphertext format is
// self-describing so that a future key rotation can carry an explicit epoch.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	formatVersion = "v1"
	algoTag       = "chacha20poly1305"
)

// Credentials bundles the three secrets an ExchangeAccount may carry.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string // optional; empty string means "not set"
}

// Vault encrypts and decrypts plaintext under a single process-wide master
// key. Key is read-only after construction; rotation is modeled by keeping
// multiple epochs available to Decrypt while Encrypt always uses the active
// epoch.
type Vault struct {
	activeEpoch int
	keys        map[int][]byte // epoch -> 32-byte key
}

// New constructs a Vault whose active encryption epoch is 0, using
// masterKey (must be exactly 32 bytes) as that epoch's key.
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("vault: master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(masterKey))
	}
	return &Vault{
		activeEpoch: 0,
		keys:        map[int][]byte{0: masterKey},
	}, nil
}

// AddEpoch registers an additional decryptable key epoch without changing
// which epoch new Encrypt calls use. Used when a new master key has been
// provisioned but old ciphertexts must remain decryptable until re-encrypted.
func (v *Vault) AddEpoch(epoch int, key []byte) error {
	if len(key) != chacha20poly1305.KeySize {
		return fmt.Errorf("vault: key for epoch %d must be %d bytes, got %d", epoch, chacha20poly1305.KeySize, len(key))
	}
	v.keys[epoch] = key
	return nil
}

// Encrypt seals plaintext under the active key epoch, returning a
// self-describing ciphertext string of the form
// v1.chacha20poly1305.{epoch}.{nonceB64}.{tagB64}.{ctB64}.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	key := v.keys[v.activeEpoch]
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("vault: construct aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	// chacha20poly1305.Seal appends the 16-byte Poly1305 tag to the ciphertext.
	tagStart := len(sealed) - chacha20poly1305.Overhead
	ct, tag := sealed[:tagStart], sealed[tagStart:]

	return fmt.Sprintf("%s.%s.%d.%s.%s.%s",
		formatVersion, algoTag, v.activeEpoch,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ct),
	), nil
}

// Decrypt opens a ciphertext string previously produced by Encrypt, under
// whichever key epoch it was tagged with.
func (v *Vault) Decrypt(ciphertext string) ([]byte, error) {
	parts := strings.Split(ciphertext, ".")
	if len(parts) != 6 || parts[0] != formatVersion {
		return nil, fmt.Errorf("vault: unrecognized ciphertext format")
	}
	if parts[1] != algoTag {
		return nil, fmt.Errorf("vault: unsupported algorithm tag %q", parts[1])
	}
	epoch, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("vault: malformed key epoch: %w", err)
	}
	key, ok := v.keys[epoch]
	if !ok {
		return nil, fmt.Errorf("vault: unknown key epoch %d", epoch)
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("vault: malformed nonce: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("vault: malformed tag: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, fmt.Errorf("vault: malformed payload: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("vault: construct aead: %w", err)
	}
	sealed := append(append([]byte{}, ct...), tag...)
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: authentication failed")
	}
	return plaintext, nil
}

// EncryptCredentials encrypts each non-empty field of creds independently,
// returning the three ciphertext strings (passphrase ciphertext is empty if
// creds.Passphrase was empty).
func (v *Vault) EncryptCredentials(creds Credentials) (apiKeyCT, secretCT, passphraseCT string, err error) {
	apiKeyCT, err = v.Encrypt([]byte(creds.APIKey))
	if err != nil {
		return "", "", "", fmt.Errorf("vault: encrypt api key: %w", err)
	}
	secretCT, err = v.Encrypt([]byte(creds.Secret))
	if err != nil {
		return "", "", "", fmt.Errorf("vault: encrypt secret: %w", err)
	}
	if creds.Passphrase != "" {
		passphraseCT, err = v.Encrypt([]byte(creds.Passphrase))
		if err != nil {
			return "", "", "", fmt.Errorf("vault: encrypt passphrase: %w", err)
		}
	}
	return apiKeyCT, secretCT, passphraseCT, nil
}

// DecryptCredentials reverses EncryptCredentials. An empty passphraseCT
// yields an empty plaintext passphrase rather than an error.
func (v *Vault) DecryptCredentials(apiKeyCT, secretCT, passphraseCT string) (Credentials, error) {
	apiKey, err := v.Decrypt(apiKeyCT)
	if err != nil {
		return Credentials{}, fmt.Errorf("vault: decrypt api key: %w", err)
	}
	secret, err := v.Decrypt(secretCT)
	if err != nil {
		return Credentials{}, fmt.Errorf("vault: decrypt secret: %w", err)
	}
	var passphrase []byte
	if passphraseCT != "" {
		passphrase, err = v.Decrypt(passphraseCT)
		if err != nil {
			return Credentials{}, fmt.Errorf("vault: decrypt passphrase: %w", err)
		}
	}
	return Credentials{APIKey: string(apiKey), Secret: string(secret), Passphrase: string(passphrase)}, nil
}
