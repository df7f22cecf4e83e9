// Package backup provides encrypted backup and restore of the rdcred
// data directory.
//
// Encrypted backup file layout:
//
//	magic (8) | header length (4, BE) | header JSON |
//	ciphertext length (4, BE) | nonce+ciphertext | HMAC-SHA256 (32)
//
// The HMAC covers everything before it and is keyed separately from the
// encryption key via HKDF. The backup salt is generated fresh for every
// backup and never reuses the master password salt.
package backup

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mpontes/rdcred/pkg/config"
	"github.com/mpontes/rdcred/pkg/crypto"
	"github.com/mpontes/rdcred/pkg/keystore"
	"github.com/mpontes/rdcred/pkg/registry"
)

// Options configures the backup operation.
type Options struct {
	// Output is the destination writer for the backup.
	Output io.Writer
	// IncludeAudit includes the audit log directory in the backup.
	IncludeAudit bool
	// ServerCount is recorded in the header for display on verify.
	ServerCount int
	// Password for encryption. Ignored when KeyFile is set.
	Password []byte
	// KeyFile path holding a 32-byte encryption key.
	KeyFile string
}

// RestoreOptions configures the restore operation.
type RestoreOptions struct {
	// DataDir is the target data directory.
	DataDir string
	// Overwrite replaces an existing data directory.
	Overwrite bool
	// WithAudit restores the audit log directory.
	WithAudit bool
	// Password for decryption. Ignored when KeyFile is set.
	Password []byte
	// KeyFile path holding the 32-byte decryption key.
	KeyFile string
}

// RestoreResult contains the result of a restore operation.
type RestoreResult struct {
	// ServerCount is the number of servers in the restored inventory.
	ServerCount int
	// AuditRestored indicates the audit logs were restored.
	AuditRestored bool
}

// VerifyResult contains the result of a verify operation.
type VerifyResult struct {
	// Valid indicates the backup passed all integrity checks.
	Valid bool
	// Version is the backup format version.
	Version int
	// CreatedAt is when the backup was created.
	CreatedAt time.Time
	// ServerCount is the number of servers in the backup.
	ServerCount int
	// IncludesAudit indicates the audit logs are included.
	IncludesAudit bool
	// Error is set when verification failed.
	Error string
}

// Backup writes an encrypted backup of the data directory at dir.
func Backup(dir string, opts Options) error {
	if opts.Output == nil {
		return fmt.Errorf("backup: output writer is required")
	}

	encKey, macKey, kdfParams, encMode, err := backupKeys(opts.Password, opts.KeyFile)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	payload, err := collectDataDir(dir, opts.IncludeAudit)
	if err != nil {
		return err
	}

	payloadBytes, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(payloadBytes)

	ciphertext, err := EncryptPayload(payloadBytes, encKey)
	if err != nil {
		return err
	}

	header := &Header{
		Version:        FormatVersion,
		CreatedAt:      time.Now().UTC(),
		EncryptionMode: encMode,
		KDFParams:      kdfParams,
		IncludesAudit:  opts.IncludeAudit,
		ServerCount:    opts.ServerCount,
	}

	// Buffer everything so the HMAC can cover header and ciphertext
	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		return err
	}
	if err := writeUint32(&buf, uint32(len(ciphertext))); err != nil {
		return err
	}
	if _, err := buf.Write(ciphertext); err != nil {
		return fmt.Errorf("backup: failed to write ciphertext: %w", err)
	}

	mac := ComputeHMAC(buf.Bytes(), macKey)

	if _, err := opts.Output.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("backup: failed to write backup: %w", err)
	}
	if _, err := opts.Output.Write(mac); err != nil {
		return fmt.Errorf("backup: failed to write HMAC: %w", err)
	}
	return nil
}

// Restore restores a data directory from an encrypted backup file.
func Restore(backupPath string, opts RestoreOptions) (*RestoreResult, error) {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read backup file: %w", err)
	}

	header, payload, err := verifyAndDecrypt(data, opts.Password, opts.KeyFile)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(opts.DataDir); err == nil {
		if !opts.Overwrite {
			return nil, fmt.Errorf("%w: %s", ErrDataDirExists, opts.DataDir)
		}
	}

	return performRestore(opts, header, payload)
}

// Verify checks backup integrity without restoring anything.
func Verify(backupPath string, password []byte, keyFile string) (*VerifyResult, error) {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}, nil
	}

	header, _, err := verifyAndDecrypt(data, password, keyFile)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}, nil
	}

	return &VerifyResult{
		Valid:         true,
		Version:       header.Version,
		CreatedAt:     header.CreatedAt,
		ServerCount:   header.ServerCount,
		IncludesAudit: header.IncludesAudit,
	}, nil
}

// backupKeys resolves the encryption and MAC keys from either a key
// file or a passphrase with a fresh salt.
func backupKeys(password []byte, keyFile string) (encKey, macKey []byte, kdfParams *KDFParams, mode EncryptionMode, err error) {
	if keyFile != "" {
		encKey, err = ReadKeyFile(keyFile)
		if err != nil {
			return nil, nil, nil, "", err
		}
		macKey, err = deriveHKDF(encKey, []byte(hkdfInfoMAC))
		if err != nil {
			crypto.SecureWipe(encKey)
			return nil, nil, nil, "", fmt.Errorf("backup: failed to derive MAC key: %w", err)
		}
		return encKey, macKey, nil, EncryptionModeKey, nil
	}

	salt, err := GenerateSalt()
	if err != nil {
		return nil, nil, nil, "", err
	}
	encKey, macKey, err = DeriveBackupKeys(password, salt)
	if err != nil {
		return nil, nil, nil, "", err
	}
	kdfParams = &KDFParams{
		Salt:       salt,
		Iterations: crypto.PBKDF2Iterations,
	}
	return encKey, macKey, kdfParams, EncryptionModePassword, nil
}

// collectDataDir reads the data directory files into a payload.
func collectDataDir(dir string, includeAudit bool) (*Payload, error) {
	dbData, err := os.ReadFile(filepath.Join(dir, registry.DBFileName))
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read %s: %w", registry.DBFileName, err)
	}

	payload := &Payload{ServersDB: dbData}

	// Salt and config are optional
	salt, err := os.ReadFile(filepath.Join(dir, keystore.SaltFileName))
	if err == nil {
		payload.MasterSalt = salt
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("backup: failed to read %s: %w", keystore.SaltFileName, err)
	}

	if _, err := os.Stat(filepath.Join(dir, keystore.MarkerFileName)); err == nil {
		payload.MasterPasswordSet = true
	}

	cfgData, err := os.ReadFile(filepath.Join(dir, config.FileName))
	if err == nil {
		payload.Config = cfgData
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("backup: failed to read %s: %w", config.FileName, err)
	}

	if includeAudit {
		auditDir := filepath.Join(dir, "audit")
		entries, err := os.ReadDir(auditDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("backup: failed to read audit directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(auditDir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("backup: failed to read audit file %s: %w", entry.Name(), err)
			}
			if payload.AuditFiles == nil {
				payload.AuditFiles = make(map[string][]byte)
			}
			payload.AuditFiles[entry.Name()] = data
		}
	}

	return payload, nil
}

// verifyAndDecrypt verifies the backup integrity and decrypts the
// payload.
func verifyAndDecrypt(data []byte, password []byte, keyFile string) (*Header, *Payload, error) {
	if len(data) < 8+4+HMACLength {
		return nil, nil, ErrInvalidMagic
	}

	reader := bytes.NewReader(data)
	header, err := ReadHeader(reader)
	if err != nil {
		return nil, nil, err
	}
	headerEnd := len(data) - reader.Len()

	var ciphertextLen uint32
	if err := readUint32(reader, &ciphertextLen); err != nil {
		return nil, nil, fmt.Errorf("backup: failed to read ciphertext length: %w", err)
	}
	if reader.Len() < int(ciphertextLen)+HMACLength {
		return nil, nil, fmt.Errorf("backup: file truncated")
	}

	ciphertext := make([]byte, ciphertextLen)
	if _, err := io.ReadFull(reader, ciphertext); err != nil {
		return nil, nil, fmt.Errorf("backup: failed to read ciphertext: %w", err)
	}

	storedMAC := make([]byte, HMACLength)
	if _, err := io.ReadFull(reader, storedMAC); err != nil {
		return nil, nil, fmt.Errorf("backup: failed to read HMAC: %w", err)
	}

	var encKey, macKey []byte
	switch {
	case keyFile != "":
		encKey, err = ReadKeyFile(keyFile)
		if err != nil {
			return nil, nil, err
		}
		defer crypto.SecureWipe(encKey)

		macKey, err = deriveHKDF(encKey, []byte(hkdfInfoMAC))
		if err != nil {
			return nil, nil, fmt.Errorf("backup: failed to derive MAC key: %w", err)
		}
		defer crypto.SecureWipe(macKey)
	case header.EncryptionMode == EncryptionModePassword && header.KDFParams != nil:
		if password == nil {
			return nil, nil, ErrEmptyPassword
		}
		encKey, macKey, err = DeriveBackupKeys(password, header.KDFParams.Salt)
		if err != nil {
			return nil, nil, err
		}
		defer crypto.SecureWipe(encKey)
		defer crypto.SecureWipe(macKey)
	default:
		return nil, nil, fmt.Errorf("backup: cannot determine decryption key")
	}

	// HMAC covers header, ciphertext length, and ciphertext
	if !VerifyHMAC(data[:headerEnd+4+int(ciphertextLen)], storedMAC, macKey) {
		return nil, nil, ErrIntegrityFailed
	}

	plaintext, err := DecryptPayload(ciphertext, encKey)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(plaintext)

	payload, err := DecodePayload(plaintext)
	if err != nil {
		return nil, nil, err
	}
	return header, payload, nil
}

// performRestore stages the data directory in a temp location, then
// swaps it into place.
func performRestore(opts RestoreOptions, header *Header, payload *Payload) (*RestoreResult, error) {
	parent := filepath.Dir(opts.DataDir)
	if err := os.MkdirAll(parent, 0700); err != nil {
		return nil, fmt.Errorf("backup: failed to create parent directory: %w", err)
	}

	// Temp dir under the same parent so the final rename stays on one
	// filesystem
	tempDir, err := os.MkdirTemp(parent, ".rdcred-restore-*")
	if err != nil {
		return nil, fmt.Errorf("backup: failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if err := os.Chmod(tempDir, 0700); err != nil {
		return nil, fmt.Errorf("backup: failed to set temp directory permissions: %w", err)
	}

	if err := os.WriteFile(filepath.Join(tempDir, registry.DBFileName), payload.ServersDB, 0600); err != nil {
		return nil, fmt.Errorf("backup: failed to write %s: %w", registry.DBFileName, err)
	}
	if payload.MasterSalt != nil {
		if err := os.WriteFile(filepath.Join(tempDir, keystore.SaltFileName), payload.MasterSalt, 0600); err != nil {
			return nil, fmt.Errorf("backup: failed to write %s: %w", keystore.SaltFileName, err)
		}
	}
	if payload.MasterPasswordSet {
		if err := os.WriteFile(filepath.Join(tempDir, keystore.MarkerFileName), nil, 0600); err != nil {
			return nil, fmt.Errorf("backup: failed to write %s: %w", keystore.MarkerFileName, err)
		}
	}
	if payload.Config != nil {
		if err := os.WriteFile(filepath.Join(tempDir, config.FileName), payload.Config, 0600); err != nil {
			return nil, fmt.Errorf("backup: failed to write %s: %w", config.FileName, err)
		}
	}

	auditRestored := false
	if opts.WithAudit && len(payload.AuditFiles) > 0 {
		auditDir := filepath.Join(tempDir, "audit")
		if err := os.MkdirAll(auditDir, 0700); err != nil {
			return nil, fmt.Errorf("backup: failed to create audit directory: %w", err)
		}
		for name, data := range payload.AuditFiles {
			// Names came from a ReadDir; reject anything that tries to
			// escape the audit directory anyway
			if name != filepath.Base(name) {
				return nil, fmt.Errorf("backup: invalid audit file name %q", name)
			}
			if err := os.WriteFile(filepath.Join(auditDir, name), data, 0600); err != nil {
				return nil, fmt.Errorf("backup: failed to write audit file %s: %w", name, err)
			}
		}
		auditRestored = true
	}

	if opts.Overwrite {
		if err := os.RemoveAll(opts.DataDir); err != nil {
			return nil, fmt.Errorf("backup: failed to remove existing data directory: %w", err)
		}
	}

	if err := os.Rename(tempDir, opts.DataDir); err != nil {
		return nil, fmt.Errorf("backup: failed to move restored directory into place: %w", err)
	}

	return &RestoreResult{
		ServerCount:   header.ServerCount,
		AuditRestored: auditRestored,
	}, nil
}

// writeUint32 writes a uint32 in big-endian format.
func writeUint32(w io.Writer, v uint32) error {
	buf := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	_, err := w.Write(buf)
	return err
}

// readUint32 reads a uint32 in big-endian format.
func readUint32(r io.Reader, v *uint32) error {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	*v = uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	return nil
}
