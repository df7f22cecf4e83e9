package keystore

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/mpontes/rdcred/pkg/crypto"
)

func TestLoadOrCreateSalt(t *testing.T) {
	s := New(t.TempDir())

	salt, err := s.LoadOrCreateSalt()
	if err != nil {
		t.Fatalf("LoadOrCreateSalt failed: %v", err)
	}
	if len(salt) != crypto.MasterSaltLength {
		t.Errorf("salt length = %d, want %d", len(salt), crypto.MasterSaltLength)
	}

	// Second call returns the same persisted salt
	salt2, err := s.LoadOrCreateSalt()
	if err != nil {
		t.Fatalf("LoadOrCreateSalt failed on second call: %v", err)
	}
	if !bytes.Equal(salt, salt2) {
		t.Error("LoadOrCreateSalt returned a different salt on second call")
	}
}

func TestLoadOrCreateSaltPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permissions are not enforced on windows")
	}

	s := New(t.TempDir())
	if _, err := s.LoadOrCreateSalt(); err != nil {
		t.Fatalf("LoadOrCreateSalt failed: %v", err)
	}

	info, err := os.Stat(s.SaltPath())
	if err != nil {
		t.Fatalf("stat salt file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != FileMode {
		t.Errorf("salt file permissions = %04o, want %04o", perm, FileMode)
	}
}

func TestLoadOrCreateSaltRegeneratesMalformed(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	// Plant a wrong-length salt; it must be discarded and regenerated
	if err := os.WriteFile(s.SaltPath(), []byte("short"), FileMode); err != nil {
		t.Fatalf("write malformed salt: %v", err)
	}

	salt, err := s.LoadOrCreateSalt()
	if err != nil {
		t.Fatalf("LoadOrCreateSalt failed: %v", err)
	}
	if len(salt) != crypto.MasterSaltLength {
		t.Errorf("regenerated salt length = %d, want %d", len(salt), crypto.MasterSaltLength)
	}

	stored, err := os.ReadFile(s.SaltPath())
	if err != nil {
		t.Fatalf("read regenerated salt: %v", err)
	}
	if !bytes.Equal(salt, stored) {
		t.Error("returned salt does not match persisted salt")
	}
}

func TestLoadOrCreateSaltUsesExistingFileFromRace(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	// Simulate another process having created the salt already
	existing := bytes.Repeat([]byte{0xAB}, crypto.MasterSaltLength)
	if err := os.WriteFile(filepath.Join(dir, SaltFileName), existing, FileMode); err != nil {
		t.Fatalf("write existing salt: %v", err)
	}

	salt, err := s.LoadOrCreateSalt()
	if err != nil {
		t.Fatalf("LoadOrCreateSalt failed: %v", err)
	}
	if !bytes.Equal(salt, existing) {
		t.Error("LoadOrCreateSalt did not return the pre-existing salt")
	}
}

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	if len(a) != crypto.MasterSaltLength {
		t.Errorf("salt length = %d, want %d", len(a), crypto.MasterSaltLength)
	}

	b, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two generated salts are identical")
	}
}

func TestReplaceSalt(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	old, err := s.LoadOrCreateSalt()
	if err != nil {
		t.Fatalf("LoadOrCreateSalt failed: %v", err)
	}

	fresh := bytes.Repeat([]byte{0xCD}, crypto.MasterSaltLength)
	if err := s.ReplaceSalt(fresh); err != nil {
		t.Fatalf("ReplaceSalt failed: %v", err)
	}

	stored, err := os.ReadFile(s.SaltPath())
	if err != nil {
		t.Fatalf("read replaced salt: %v", err)
	}
	if !bytes.Equal(stored, fresh) {
		t.Error("salt file does not contain the replacement salt")
	}
	if bytes.Equal(stored, old) {
		t.Error("salt file still holds the old salt")
	}

	// No staging leftovers in the directory
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != SaltFileName {
			t.Errorf("unexpected file left behind: %s", e.Name())
		}
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(s.SaltPath())
		if err != nil {
			t.Fatalf("stat salt file: %v", err)
		}
		if perm := info.Mode().Perm(); perm != FileMode {
			t.Errorf("salt file permissions = %04o, want %04o", perm, FileMode)
		}
	}
}

func TestReplaceSaltRejectsWrongLength(t *testing.T) {
	s := New(t.TempDir())
	if err := s.ReplaceSalt([]byte("short")); err == nil {
		t.Error("ReplaceSalt accepted a wrong-length salt")
	}
}

func TestDeleteSaltIdempotent(t *testing.T) {
	s := New(t.TempDir())

	// Deleting a missing salt is a no-op
	if err := s.DeleteSalt(); err != nil {
		t.Errorf("DeleteSalt on missing file: %v", err)
	}

	if _, err := s.LoadOrCreateSalt(); err != nil {
		t.Fatalf("LoadOrCreateSalt failed: %v", err)
	}
	if err := s.DeleteSalt(); err != nil {
		t.Errorf("DeleteSalt failed: %v", err)
	}
	if _, err := os.Stat(s.SaltPath()); !os.IsNotExist(err) {
		t.Error("salt file still exists after DeleteSalt")
	}
	if err := s.DeleteSalt(); err != nil {
		t.Errorf("second DeleteSalt failed: %v", err)
	}
}

func TestDefaultSalt(t *testing.T) {
	salt := DefaultSalt()
	if len(salt) != crypto.MasterSaltLength {
		t.Errorf("DefaultSalt length = %d, want %d", len(salt), crypto.MasterSaltLength)
	}

	// Pure function: identical on every call
	if !bytes.Equal(salt, DefaultSalt()) {
		t.Error("DefaultSalt is not deterministic")
	}
}

func TestMarkerLifecycle(t *testing.T) {
	s := New(t.TempDir())

	if s.HasMarker() {
		t.Error("HasMarker true before creation")
	}

	if err := s.CreateMarker(); err != nil {
		t.Fatalf("CreateMarker failed: %v", err)
	}
	if !s.HasMarker() {
		t.Error("HasMarker false after creation")
	}

	// Marker is zero-length; only its existence matters
	info, err := os.Stat(s.MarkerPath())
	if err != nil {
		t.Fatalf("stat marker: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("marker file size = %d, want 0", info.Size())
	}

	// Idempotent creation
	if err := s.CreateMarker(); err != nil {
		t.Errorf("second CreateMarker failed: %v", err)
	}

	if err := s.RemoveMarker(); err != nil {
		t.Fatalf("RemoveMarker failed: %v", err)
	}
	if s.HasMarker() {
		t.Error("HasMarker true after removal")
	}
	if err := s.RemoveMarker(); err != nil {
		t.Errorf("second RemoveMarker failed: %v", err)
	}
}
