// Package crypto provides cryptographic primitives for rdcred.
//
// This package implements PBKDF2-HMAC-SHA256 key derivation and
// AES-256-GCM authenticated encryption of single credential records.
//
// # Security Features
//
//   - PBKDF2-HMAC-SHA256 key derivation (100,000 iterations)
//   - AES-256-GCM authenticated encryption
//   - Random 16-byte per-credential salt against ciphertext correlation
//   - Secure memory wiping for key material
//
// # Example Usage
//
//	key := crypto.DeriveKey([]byte("master password"), salt)
//
//	blob, err := crypto.EncryptCredential(key, "hunter2", "db-server-01", crypto.KeyKindCustom)
//
//	rec, err := crypto.DecryptCredential(key, blob)
//
//	crypto.SecureWipe(key)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation and blob layout parameters.
const (
	// PBKDF2Iterations is the iteration count for PBKDF2-HMAC-SHA256.
	PBKDF2Iterations = 100000

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// MasterSaltLength is the length of the master-password salt in bytes.
	MasterSaltLength = 32

	// CredentialSaltLength is the length of the random per-credential
	// salt prefixed to every encrypted blob.
	CredentialSaltLength = 16

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// RecordVersion is the schema version embedded in every credential record.
	RecordVersion = 1
)

// KeyKind identifies which kind of key a credential was encrypted under.
type KeyKind string

const (
	// KeyKindDefault marks credentials encrypted under the machine-derived
	// fallback key.
	KeyKindDefault KeyKind = "default"

	// KeyKindCustom marks credentials encrypted under a key derived from
	// a user-chosen master password.
	KeyKindCustom KeyKind = "custom"
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrDecryptionFailed indicates authentication tag verification failed.
	// A wrong key and a corrupted blob are indistinguishable.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrBlobTooShort indicates the encoded blob is shorter than the
	// credential salt, nonce, and GCM tag combined.
	ErrBlobTooShort = errors.New("crypto: encrypted blob too short")

	// ErrBlobEncoding indicates the blob is not valid base64.
	ErrBlobEncoding = errors.New("crypto: encrypted blob is not valid base64")
)

// CredentialRecord is the structured plaintext wrapped by every
// encrypted credential blob.
type CredentialRecord struct {
	Password string  `json:"password"`
	Server   string  `json:"server"`
	Version  int     `json:"version"`
	KeyKind  KeyKind `json:"key_kind"`
}

// DeriveKey derives a 256-bit encryption key from a password using
// PBKDF2-HMAC-SHA256 with 100,000 iterations.
//
// The salt should be 32 bytes of cryptographically secure random data
// (or the deterministic fallback salt). Pure and deterministic: same
// inputs always produce the same key.
func DeriveKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, PBKDF2Iterations, KeyLength, sha256.New)
}

// EncryptCredential encrypts a single credential under key.
//
// Every call generates a fresh random 16-byte credential salt and GCM
// nonce, so encrypting the same credential twice produces different
// blobs. The returned blob is base64(salt || nonce || ciphertext).
func EncryptCredential(key []byte, password, server string, kind KeyKind) (string, error) {
	if len(key) != KeyLength {
		return "", ErrInvalidKeyLength
	}

	rec := CredentialRecord{
		Password: password,
		Server:   server,
		Version:  RecordVersion,
		KeyKind:  kind,
	}
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to encode credential record: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	// Random per-credential salt; never reused across credentials.
	header := make([]byte, CredentialSaltLength+NonceLength)
	if _, err := rand.Read(header); err != nil {
		return "", fmt.Errorf("crypto: failed to generate salt and nonce: %w", err)
	}

	nonce := header[CredentialSaltLength:]
	combined := gcm.Seal(header, nonce, plaintext, nil)

	SecureWipe(plaintext)

	return base64.StdEncoding.EncodeToString(combined), nil
}

// DecryptCredential decodes and authenticated-decrypts a credential blob.
//
// Returns ErrDecryptionFailed if the authentication tag does not verify;
// the caller cannot distinguish a wrong key from a tampered blob.
func DecryptCredential(key []byte, blob string) (*CredentialRecord, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	combined, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlobEncoding, err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(combined) < CredentialSaltLength+NonceLength+gcm.Overhead() {
		return nil, ErrBlobTooShort
	}

	// The credential salt only decorrelates ciphertexts; it is not fed
	// back into key derivation.
	nonce := combined[CredentialSaltLength : CredentialSaltLength+NonceLength]
	ciphertext := combined[CredentialSaltLength+NonceLength:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	defer SecureWipe(plaintext)

	var rec CredentialRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("crypto: failed to decode credential record: %w", err)
	}

	return &rec, nil
}

// Encrypt encrypts arbitrary data under key with AES-256-GCM, returning
// the ciphertext and the fresh random nonce separately. Used for bulk
// payloads (backups) where the credential record framing does not apply.
func Encrypt(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	if len(key) != KeyLength {
		return nil, nil, ErrInvalidKeyLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt reverses Encrypt. Returns ErrDecryptionFailed if the
// authentication tag does not verify.
func Decrypt(key, ciphertext, nonce []byte) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	if len(nonce) != NonceLength {
		return nil, ErrDecryptionFailed
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
// This is critical for securely destroying session key material.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the write operations are not optimized away
	// by the compiler since b is still "in use" after the loop.
	runtime.KeepAlive(b)
}
