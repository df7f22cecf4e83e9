package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

// TestDeriveKey tests the PBKDF2 key derivation function
func TestDeriveKey(t *testing.T) {
	password := []byte("test-password-123")
	salt := make([]byte, MasterSaltLength)
	if _, err := rand.Read(salt); err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}

	// Test key derivation produces correct length
	key := DeriveKey(password, salt)
	if len(key) != KeyLength {
		t.Errorf("DeriveKey() returned key of length %d, want %d", len(key), KeyLength)
	}

	// Test same password + salt produces same key (deterministic)
	key2 := DeriveKey(password, salt)
	if !bytes.Equal(key, key2) {
		t.Error("DeriveKey() with same inputs should produce identical keys")
	}

	// Test different password produces different key
	differentKey := DeriveKey([]byte("different-password"), salt)
	if bytes.Equal(key, differentKey) {
		t.Error("DeriveKey() with different password should produce different key")
	}

	// Test different salt produces different key
	differentSalt := make([]byte, MasterSaltLength)
	if _, err := rand.Read(differentSalt); err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}
	differentKey = DeriveKey(password, differentSalt)
	if bytes.Equal(key, differentKey) {
		t.Error("DeriveKey() with different salt should produce different key")
	}
}

// TestDeriveKeyParameters verifies the KDF parameters match current guidance
func TestDeriveKeyParameters(t *testing.T) {
	if PBKDF2Iterations != 100000 {
		t.Errorf("PBKDF2Iterations = %d, want 100000", PBKDF2Iterations)
	}
	if KeyLength != 32 {
		t.Errorf("KeyLength = %d, want 32 (256-bit)", KeyLength)
	}
	if MasterSaltLength != 32 {
		t.Errorf("MasterSaltLength = %d, want 32", MasterSaltLength)
	}
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

// TestEncryptDecryptRoundTrip verifies decrypt(encrypt(p, s, k), k) == p
func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)

	passwords := []string{"hunter2", "", "p@ss with spaces", "senha-çãõ-ünïcode", strings.Repeat("x", 4096)}
	for _, password := range passwords {
		blob, err := EncryptCredential(key, password, "db-server-01", KeyKindCustom)
		if err != nil {
			t.Fatalf("EncryptCredential() error = %v", err)
		}

		rec, err := DecryptCredential(key, blob)
		if err != nil {
			t.Fatalf("DecryptCredential() error = %v", err)
		}
		if rec.Password != password {
			t.Errorf("round trip password = %q, want %q", rec.Password, password)
		}
		if rec.Server != "db-server-01" {
			t.Errorf("round trip server = %q, want db-server-01", rec.Server)
		}
		if rec.Version != RecordVersion {
			t.Errorf("round trip version = %d, want %d", rec.Version, RecordVersion)
		}
		if rec.KeyKind != KeyKindCustom {
			t.Errorf("round trip key kind = %q, want %q", rec.KeyKind, KeyKindCustom)
		}
	}
}

// TestKeySeparation verifies decryption with a different key fails authentication
func TestKeySeparation(t *testing.T) {
	key1 := testKey(t)
	key2 := testKey(t)

	blob, err := EncryptCredential(key1, "secret", "srv1", KeyKindDefault)
	if err != nil {
		t.Fatalf("EncryptCredential() error = %v", err)
	}

	_, err = DecryptCredential(key2, blob)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("DecryptCredential() with wrong key error = %v, want ErrDecryptionFailed", err)
	}
}

// TestSaltUniqueness verifies identical inputs produce different blobs
func TestSaltUniqueness(t *testing.T) {
	key := testKey(t)

	blob1, err := EncryptCredential(key, "same-password", "same-server", KeyKindCustom)
	if err != nil {
		t.Fatalf("EncryptCredential() error = %v", err)
	}
	blob2, err := EncryptCredential(key, "same-password", "same-server", KeyKindCustom)
	if err != nil {
		t.Fatalf("EncryptCredential() error = %v", err)
	}

	if blob1 == blob2 {
		t.Error("two encryptions of the same credential produced identical blobs")
	}

	// The 16-byte credential salt prefix itself must differ
	raw1, _ := base64.StdEncoding.DecodeString(blob1)
	raw2, _ := base64.StdEncoding.DecodeString(blob2)
	if bytes.Equal(raw1[:CredentialSaltLength], raw2[:CredentialSaltLength]) {
		t.Error("credential salt prefix was reused across encryptions")
	}
}

// TestDecryptTampered verifies a flipped ciphertext bit fails authentication
func TestDecryptTampered(t *testing.T) {
	key := testKey(t)

	blob, err := EncryptCredential(key, "secret", "srv1", KeyKindCustom)
	if err != nil {
		t.Fatalf("EncryptCredential() error = %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		t.Fatalf("failed to decode blob: %v", err)
	}
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = DecryptCredential(key, tampered)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("DecryptCredential() of tampered blob error = %v, want ErrDecryptionFailed", err)
	}

	// Tampering the credential salt prefix must not break authentication,
	// the salt is outside the authenticated payload
	raw[len(raw)-1] ^= 0x01
	raw[0] ^= 0x01
	saltTampered := base64.StdEncoding.EncodeToString(raw)
	if _, err := DecryptCredential(key, saltTampered); err != nil {
		t.Errorf("DecryptCredential() with modified salt prefix error = %v, want nil", err)
	}
}

// TestDecryptMalformed covers non-base64 and truncated blobs
func TestDecryptMalformed(t *testing.T) {
	key := testKey(t)

	if _, err := DecryptCredential(key, "not base64!!!"); !errors.Is(err, ErrBlobEncoding) {
		t.Errorf("DecryptCredential() of invalid base64 error = %v, want ErrBlobEncoding", err)
	}

	short := base64.StdEncoding.EncodeToString(make([]byte, CredentialSaltLength))
	if _, err := DecryptCredential(key, short); !errors.Is(err, ErrBlobTooShort) {
		t.Errorf("DecryptCredential() of truncated blob error = %v, want ErrBlobTooShort", err)
	}
}

// TestInvalidKeyLength verifies both directions reject short keys
func TestInvalidKeyLength(t *testing.T) {
	shortKey := make([]byte, 16)

	if _, err := EncryptCredential(shortKey, "p", "s", KeyKindCustom); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("EncryptCredential() with short key error = %v, want ErrInvalidKeyLength", err)
	}
	if _, err := DecryptCredential(shortKey, "AAAA"); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("DecryptCredential() with short key error = %v, want ErrInvalidKeyLength", err)
	}
}

// TestSecureWipe verifies the buffer is zeroed
func TestSecureWipe(t *testing.T) {
	data := []byte("sensitive key material")
	SecureWipe(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureWipe() left non-zero byte at index %d", i)
		}
	}
}

// TestRawEncryptDecrypt covers the bulk payload primitives
func TestRawEncryptDecrypt(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("bulk payload data")

	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(nonce) != NonceLength {
		t.Errorf("Encrypt() nonce length = %d, want %d", len(nonce), NonceLength)
	}

	decrypted, err := Decrypt(key, ciphertext, nonce)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}

	// Tampered ciphertext fails authentication
	ciphertext[0] ^= 0xff
	if _, err := Decrypt(key, ciphertext, nonce); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() of tampered ciphertext error = %v, want ErrDecryptionFailed", err)
	}
}
