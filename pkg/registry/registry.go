// Package registry stores the server inventory in SQLite: connection
// settings in plaintext columns, the credential as an opaque encrypted
// blob produced by the key manager. The registry never sees a key or a
// plaintext password.
//
// Credential writes are staged in memory and persisted by Flush in a
// single transaction, so a bulk re-encryption either lands completely
// or not at all.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	_ "modernc.org/sqlite"
)

// Constants
const (
	DBFileName = "servers.db"
	FileMode   = 0600 // Owner read/write only
	DirMode    = 0700 // Owner read/write/execute only

	DefaultPort = 3389

	// Input validation limits
	MinNameLength = 1
	MaxNameLength = 128
	MaxHostLength = 255

	// Disk capacity thresholds
	MinDiskSpaceBytes  = 10 * 1024 * 1024 // 10 MB minimum free space
	DiskWarningPercent = 90               // Warn when disk is 90% full
)

// Errors
var (
	ErrServerNotFound   = errors.New("registry: server not found")
	ErrServerExists     = errors.New("registry: server already exists")
	ErrNameTooShort     = errors.New("registry: server name too short")
	ErrNameTooLong      = errors.New("registry: server name too long")
	ErrNameInvalid      = errors.New("registry: server name contains invalid characters")
	ErrHostEmpty        = errors.New("registry: host must not be empty")
	ErrHostTooLong      = errors.New("registry: host too long")
	ErrPortInvalid      = errors.New("registry: port must be between 1 and 65535")
	ErrNoCredential     = errors.New("registry: server has no stored credential")
	ErrInsufficientDisk = errors.New("registry: insufficient disk space")
)

// Server is one registered remote desktop target.
type Server struct {
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username"`
	HasCred   bool      `json:"has_credential"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry manages the server database.
type Registry struct {
	path   string // Path to registry directory (e.g., ~/.rdcred)
	db     *sql.DB
	mu     sync.RWMutex
	staged map[string]string // Credential blobs awaiting Flush
}

// Open opens (creating if needed) the registry database under dir.
func Open(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, fmt.Errorf("registry: failed to create directory: %w", err)
	}

	dbPath := filepath.Join(dir, DBFileName)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("registry: failed to open database: %w", err)
	}

	// Single-connection mode avoids "database is locked" errors; this is
	// a per-user CLI database, not a shared service.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	r := &Registry{
		path:   dir,
		db:     db,
		staged: make(map[string]string),
	}

	if err := r.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: failed to create tables: %w", err)
	}

	if err := os.Chmod(dbPath, FileMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: failed to set database permissions: %w", err)
	}

	return r, nil
}

// Close closes the database connection. Staged credential writes that
// were never flushed are discarded.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.staged = make(map[string]string)
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Path returns the registry directory.
func (r *Registry) Path() string {
	return r.path
}

func (r *Registry) createTables() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS servers (
			id INTEGER PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			host TEXT NOT NULL,
			port INTEGER NOT NULL DEFAULT 3389,
			username TEXT NOT NULL DEFAULT '',
			cred_encrypted TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// NormalizeName canonicalizes a server name: surrounding whitespace
// trimmed, Unicode composed to NFC so visually identical names hit the
// same row regardless of input method.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// validateName validates a normalized server name.
func validateName(name string) error {
	if len(name) < MinNameLength {
		return ErrNameTooShort
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	for _, r := range name {
		// Control characters break display and log output
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: control character U+%04X", ErrNameInvalid, r)
		}
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "-") {
		return fmt.Errorf("%w: cannot start with '.' or '-'", ErrNameInvalid)
	}
	return nil
}

func validateServer(s *Server) error {
	if err := validateName(s.Name); err != nil {
		return err
	}
	if s.Host == "" {
		return ErrHostEmpty
	}
	if len(s.Host) > MaxHostLength {
		return ErrHostTooLong
	}
	if s.Port < 1 || s.Port > 65535 {
		return ErrPortInvalid
	}
	return nil
}

// Add registers a new server. The name is normalized before storage;
// the port defaults to 3389 when zero. The credential is set separately
// through SetCredential.
func (r *Registry) Add(s *Server) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.Name = NormalizeName(s.Name)
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if err := validateServer(s); err != nil {
		return err
	}

	if err := r.checkDiskSpaceForWrite(len(s.Name) + len(s.Host) + len(s.Username)); err != nil {
		return err
	}

	_, err := r.db.Exec(`
		INSERT INTO servers (name, host, port, username)
		VALUES (?, ?, ?, ?)
	`, s.Name, s.Host, s.Port, s.Username)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrServerExists, s.Name)
		}
		return fmt.Errorf("registry: failed to add server: %w", err)
	}

	return nil
}

// Update replaces a server's connection settings. The stored credential
// blob is untouched.
func (r *Registry) Update(s *Server) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.Name = NormalizeName(s.Name)
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if err := validateServer(s); err != nil {
		return err
	}

	result, err := r.db.Exec(`
		UPDATE servers
		SET host = ?, port = ?, username = ?, updated_at = CURRENT_TIMESTAMP
		WHERE name = ?
	`, s.Host, s.Port, s.Username, s.Name)
	if err != nil {
		return fmt.Errorf("registry: failed to update server: %w", err)
	}
	return checkAffected(result, s.Name)
}

// Get returns a single server by name.
func (r *Registry) Get(name string) (*Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name = NormalizeName(name)

	var s Server
	var cred sql.NullString
	err := r.db.QueryRow(`
		SELECT name, host, port, username, cred_encrypted, created_at, updated_at
		FROM servers WHERE name = ?
	`, name).Scan(&s.Name, &s.Host, &s.Port, &s.Username, &cred, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrServerNotFound, name)
		}
		return nil, fmt.Errorf("registry: failed to read server: %w", err)
	}
	s.HasCred = r.hasCredLocked(name, cred)
	return &s, nil
}

// List returns all servers ordered by name. Credential blobs are not
// included, only a presence flag.
func (r *Registry) List() ([]*Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.Query(`
		SELECT name, host, port, username, cred_encrypted, created_at, updated_at
		FROM servers ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to query servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		var s Server
		var cred sql.NullString
		if err := rows.Scan(&s.Name, &s.Host, &s.Port, &s.Username, &cred, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("registry: failed to scan row: %w", err)
		}
		s.HasCred = r.hasCredLocked(s.Name, cred)
		servers = append(servers, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: error iterating rows: %w", err)
	}

	return servers, nil
}

// Remove deletes a server and its stored credential.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = NormalizeName(name)

	result, err := r.db.Exec("DELETE FROM servers WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("registry: failed to delete server: %w", err)
	}
	if err := checkAffected(result, name); err != nil {
		return err
	}

	delete(r.staged, name)
	return nil
}

// Rename changes a server's name, carrying the stored credential blob
// along. The blob keeps its embedded context; the key manager tolerates
// the mismatch on the next decrypt.
func (r *Registry) Rename(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldName = NormalizeName(oldName)
	newName = NormalizeName(newName)
	if err := validateName(newName); err != nil {
		return err
	}

	result, err := r.db.Exec(`
		UPDATE servers SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?
	`, newName, oldName)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrServerExists, newName)
		}
		return fmt.Errorf("registry: failed to rename server: %w", err)
	}
	if err := checkAffected(result, oldName); err != nil {
		return err
	}

	if blob, ok := r.staged[oldName]; ok {
		delete(r.staged, oldName)
		r.staged[newName] = blob
	}
	return nil
}

// Names returns the names of all servers that currently have a stored
// credential, ordered by name. Implements keymgr.CredentialStore.
func (r *Registry) Names() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.Query(`
		SELECT name, cred_encrypted FROM servers ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to query credentials: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		var cred sql.NullString
		if err := rows.Scan(&name, &cred); err != nil {
			return nil, fmt.Errorf("registry: failed to scan row: %w", err)
		}
		if r.hasCredLocked(name, cred) {
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: error iterating rows: %w", err)
	}

	return names, nil
}

// Credential returns the encrypted credential blob for a server,
// preferring a staged but unflushed write. Implements
// keymgr.CredentialStore.
func (r *Registry) Credential(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name = NormalizeName(name)

	if blob, ok := r.staged[name]; ok {
		return blob, nil
	}

	var cred sql.NullString
	err := r.db.QueryRow("SELECT cred_encrypted FROM servers WHERE name = ?", name).Scan(&cred)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %q", ErrServerNotFound, name)
		}
		return "", fmt.Errorf("registry: failed to read credential: %w", err)
	}
	if !cred.Valid || cred.String == "" {
		return "", fmt.Errorf("%w: %q", ErrNoCredential, name)
	}
	return cred.String, nil
}

// SetCredential stages an encrypted credential blob for a server. The
// server must already exist; the blob becomes durable on Flush.
// Implements keymgr.CredentialStore.
func (r *Registry) SetCredential(name, blob string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = NormalizeName(name)

	var exists int
	err := r.db.QueryRow("SELECT 1 FROM servers WHERE name = ?", name).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrServerNotFound, name)
		}
		return fmt.Errorf("registry: failed to check server: %w", err)
	}

	r.staged[name] = blob
	return nil
}

// Flush persists all staged credential writes in one transaction.
// Implements keymgr.CredentialStore.
func (r *Registry) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.staged) == 0 {
		return nil
	}

	size := 0
	for name, blob := range r.staged {
		size += len(name) + len(blob)
	}
	if err := r.checkDiskSpaceForWrite(size); err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("registry: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		UPDATE servers SET cred_encrypted = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?
	`)
	if err != nil {
		return fmt.Errorf("registry: failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for name, blob := range r.staged {
		if _, err := stmt.Exec(blob, name); err != nil {
			return fmt.Errorf("registry: failed to write credential for %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: failed to commit transaction: %w", err)
	}

	r.staged = make(map[string]string)
	return nil
}

// Discard drops all staged credential writes without persisting them.
// Implements keymgr.CredentialStore.
func (r *Registry) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.staged = make(map[string]string)
}

// RemoveCredential clears a server's stored credential without removing
// the server.
func (r *Registry) RemoveCredential(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = NormalizeName(name)
	delete(r.staged, name)

	result, err := r.db.Exec(`
		UPDATE servers SET cred_encrypted = NULL, updated_at = CURRENT_TIMESTAMP WHERE name = ?
	`, name)
	if err != nil {
		return fmt.Errorf("registry: failed to clear credential: %w", err)
	}
	return checkAffected(result, name)
}

// hasCredLocked reports credential presence, staged writes included.
// Caller must hold at least the read lock.
func (r *Registry) hasCredLocked(name string, cred sql.NullString) bool {
	if _, ok := r.staged[name]; ok {
		return true
	}
	return cred.Valid && cred.String != ""
}

// checkAffected converts a zero-row update into ErrServerNotFound.
func checkAffected(result sql.Result, name string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrServerNotFound, name)
	}
	return nil
}

// isUniqueViolation detects a UNIQUE constraint failure without
// depending on driver error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// checkDiskSpaceForWrite verifies sufficient disk space before write
// operations. A failed probe only warns; refusing to save over a stat
// error would be worse than the risk it guards against.
func (r *Registry) checkDiskSpaceForWrite(dataSize int) error {
	info, err := r.CheckDiskSpace()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to check disk space: %v\n", err)
		return nil
	}

	required := uint64(MinDiskSpaceBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}

	if info.Available < required {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficientDisk,
			info.Available/(1024*1024),
			required/(1024*1024))
	}

	if info.UsedPct >= DiskWarningPercent {
		fmt.Fprintf(os.Stderr, "warning: disk is %d%% full, consider freeing space\n", info.UsedPct)
	}

	return nil
}

// DiskSpaceInfo contains disk usage information.
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`     // Total disk space in bytes
	Free      uint64 `json:"free"`      // Free disk space in bytes
	Available uint64 `json:"available"` // Available to non-root users
	UsedPct   int    `json:"used_pct"`  // Percentage of disk used
}
