// Package keystore persists the key-derivation inputs for rdcred: the
// random master-password salt, the custom-password marker file, and the
// deterministic fallback salt.
//
// The marker file carries no content; its existence is the only signal
// that a custom master password has been configured.
package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mpontes/rdcred/pkg/crypto"
)

// File layout constants.
const (
	SaltFileName   = "master.salt"
	MarkerFileName = "master.enabled"
	FileMode       = 0600 // Owner read/write only
	DirMode        = 0700 // Owner read/write/execute only

	// createRetries bounds the exclusive-create race loop.
	createRetries = 3
)

// defaultSaltSeed is the fixed constant mixed with the OS name to
// produce the deterministic fallback salt. Changing it invalidates
// every credential encrypted under the fallback key.
const defaultSaltSeed = "rdcred-default-key-v1"

// ErrSaltUnavailable indicates the salt file could not be created after
// repeated attempts.
var ErrSaltUnavailable = errors.New("keystore: could not create or read salt file")

// Store manages salt and marker files inside a single directory.
type Store struct {
	dir string
}

// New creates a Store rooted at dir. The directory is created lazily on
// first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaltPath returns the path of the master salt file.
func (s *Store) SaltPath() string {
	return filepath.Join(s.dir, SaltFileName)
}

// MarkerPath returns the path of the custom-password marker file.
func (s *Store) MarkerPath() string {
	return filepath.Join(s.dir, MarkerFileName)
}

// LoadOrCreateSalt returns the persisted master-password salt, creating
// it on first use.
//
// A stored value of the wrong length is discarded and regenerated; any
// credentials encrypted under the old salt's key become undecryptable,
// which surfaces as an authentication failure rather than silent
// garbage. Creation uses an exclusive-create so two racing first-time
// callers converge on a single salt: the loser rereads the winner's
// file instead of overwriting it.
func (s *Store) LoadOrCreateSalt() ([]byte, error) {
	path := s.SaltPath()

	salt, err := os.ReadFile(path)
	switch {
	case err == nil && len(salt) == crypto.MasterSaltLength:
		return salt, nil
	case err == nil:
		fmt.Fprintf(os.Stderr, "warning: discarding malformed salt file (%d bytes, expected %d)\n",
			len(salt), crypto.MasterSaltLength)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("keystore: failed to remove malformed salt file: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("keystore: failed to read salt file: %w", err)
	}

	if err := os.MkdirAll(s.dir, DirMode); err != nil {
		return nil, fmt.Errorf("keystore: failed to create directory: %w", err)
	}

	for attempt := 0; attempt < createRetries; attempt++ {
		fresh := make([]byte, crypto.MasterSaltLength)
		if _, err := rand.Read(fresh); err != nil {
			return nil, fmt.Errorf("keystore: failed to generate salt: %w", err)
		}

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, FileMode)
		if err != nil {
			if os.IsExist(err) {
				// Another process won the race; use its salt.
				salt, rerr := os.ReadFile(path)
				if rerr == nil && len(salt) == crypto.MasterSaltLength {
					return salt, nil
				}
				continue
			}
			return nil, fmt.Errorf("keystore: failed to create salt file: %w", err)
		}

		if _, err := f.Write(fresh); err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("keystore: failed to write salt file: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("keystore: failed to close salt file: %w", err)
		}
		return fresh, nil
	}

	return nil, ErrSaltUnavailable
}

// GenerateSalt returns a fresh random master salt without touching the
// filesystem. Pair with ReplaceSalt to persist it only after the
// credentials encrypted under its key have been flushed.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, crypto.MasterSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keystore: failed to generate salt: %w", err)
	}
	return salt, nil
}

// ReplaceSalt atomically installs salt as the master salt file: the
// value is staged to a temp file in the same directory and renamed into
// place, so a crash mid-write never leaves a truncated salt.
func (s *Store) ReplaceSalt(salt []byte) error {
	if len(salt) != crypto.MasterSaltLength {
		return fmt.Errorf("keystore: invalid salt length %d, expected %d", len(salt), crypto.MasterSaltLength)
	}

	if err := os.MkdirAll(s.dir, DirMode); err != nil {
		return fmt.Errorf("keystore: failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, SaltFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("keystore: failed to create temp salt file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(FileMode); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("keystore: failed to set salt file permissions: %w", err)
	}
	if _, err := tmp.Write(salt); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("keystore: failed to write salt file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("keystore: failed to close salt file: %w", err)
	}

	if err := os.Rename(tmpPath, s.SaltPath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("keystore: failed to install salt file: %w", err)
	}
	return nil
}

// DeleteSalt removes the master salt file. No-op if it does not exist.
func (s *Store) DeleteSalt() error {
	if err := os.Remove(s.SaltPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("keystore: failed to delete salt file: %w", err)
	}
	return nil
}

// DefaultSalt returns the deterministic salt for the machine-derived
// fallback key: a pure function of a fixed constant and the OS name,
// identical on every call on the same host. No I/O.
func DefaultSalt() []byte {
	sum := sha256.Sum256([]byte(defaultSaltSeed + "|" + runtime.GOOS))
	return sum[:]
}

// HasMarker reports whether the custom-password marker file exists.
func (s *Store) HasMarker() bool {
	_, err := os.Stat(s.MarkerPath())
	return err == nil
}

// CreateMarker creates the zero-byte custom-password marker file.
// Idempotent: recreating an existing marker succeeds.
func (s *Store) CreateMarker() error {
	if err := os.MkdirAll(s.dir, DirMode); err != nil {
		return fmt.Errorf("keystore: failed to create directory: %w", err)
	}
	if err := os.WriteFile(s.MarkerPath(), nil, FileMode); err != nil {
		return fmt.Errorf("keystore: failed to create marker file: %w", err)
	}
	return nil
}

// RemoveMarker removes the marker file. No-op if it does not exist.
func (s *Store) RemoveMarker() error {
	if err := os.Remove(s.MarkerPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("keystore: failed to remove marker file: %w", err)
	}
	return nil
}
