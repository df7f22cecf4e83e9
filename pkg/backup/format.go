package backup

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Magic number for backup files: "RDC_BKUP"
var MagicNumber = [8]byte{'R', 'D', 'C', '_', 'B', 'K', 'U', 'P'}

// Current backup format version.
const FormatVersion = 1

// EncryptionMode specifies how the backup is encrypted.
type EncryptionMode string

const (
	// EncryptionModePassword derives keys from a passphrase.
	EncryptionModePassword EncryptionMode = "password"
	// EncryptionModeKey uses a separate 32-byte key file.
	EncryptionModeKey EncryptionMode = "key"
)

// KDFParams contains PBKDF2 key derivation parameters.
type KDFParams struct {
	Salt       []byte `json:"salt"`       // Base64-encoded salt
	Iterations int    `json:"iterations"` // PBKDF2 iteration count
}

// Header contains backup file metadata.
type Header struct {
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	EncryptionMode EncryptionMode `json:"encryption_mode"`
	KDFParams      *KDFParams     `json:"kdf_params,omitempty"` // nil if EncryptionModeKey
	IncludesAudit  bool           `json:"includes_audit"`
	ServerCount    int            `json:"server_count"`
}

// Payload contains the plaintext backup data before encryption.
type Payload struct {
	// ServersDB is the SQLite inventory database.
	ServersDB []byte `json:"servers_db"`
	// MasterSalt is the master password salt file, nil when no master
	// password is configured.
	MasterSalt []byte `json:"master_salt,omitempty"`
	// MasterPasswordSet records whether the marker file existed.
	MasterPasswordSet bool `json:"master_password_set"`
	// Config is the config.yaml content, nil if absent.
	Config []byte `json:"config,omitempty"`
	// AuditFiles maps audit file names to their content.
	AuditFiles map[string][]byte `json:"audit_files,omitempty"`
}

// WriteHeader writes the magic number and header to the writer.
func WriteHeader(w io.Writer, header *Header) error {
	if _, err := w.Write(MagicNumber[:]); err != nil {
		return fmt.Errorf("backup: failed to write magic number: %w", err)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("backup: failed to marshal header: %w", err)
	}

	// Header length as 4 bytes big-endian
	if err := binary.Write(w, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("backup: failed to write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("backup: failed to write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the magic number and header from the
// reader.
func ReadHeader(r io.Reader) (*Header, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("backup: failed to read magic number: %w", err)
	}
	if magic != MagicNumber {
		return nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("backup: failed to read header length: %w", err)
	}

	// Sanity bound on header size
	if headerLen > 1024*1024 {
		return nil, fmt.Errorf("backup: header too large: %d bytes", headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, fmt.Errorf("backup: failed to read header: %w", err)
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("backup: failed to unmarshal header: %w", err)
	}

	if header.Version > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}

	return &header, nil
}

// EncodePayload encodes the payload to JSON bytes.
func EncodePayload(payload *Payload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to marshal payload: %w", err)
	}
	return data, nil
}

// DecodePayload decodes JSON bytes to a payload.
func DecodePayload(data []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("backup: failed to unmarshal payload: %w", err)
	}
	return &payload, nil
}
