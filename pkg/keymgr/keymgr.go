// Package keymgr holds the session encryption key and orchestrates
// every key-management flow of rdcred: derivation of the machine-bound
// fallback key, master-password configuration, rotation and removal,
// lock/unlock, and the bulk re-encryption that moves stored credentials
// between keys.
//
// A Manager is constructed once per process and handed to consumers
// explicitly; there are no package-level singletons. All state
// transitions are serialized by an internal lock. Encrypt and decrypt
// calls only read the active key and may run concurrently.
package keymgr

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/mpontes/rdcred/pkg/audit"
	"github.com/mpontes/rdcred/pkg/crypto"
	"github.com/mpontes/rdcred/pkg/keystore"
)

// fallbackPassphrase is the fixed input the machine-derived fallback
// key is built from, together with keystore.DefaultSalt. It guarantees
// the vault can always encrypt and decrypt even if the user never sets
// a master password; it protects against casual file disclosure, not
// against an attacker running code on the same machine.
const fallbackPassphrase = "rdcred-fallback-passphrase-v1"

// State is the key manager's session state.
type State int

const (
	// Locked means a custom master password is configured but has not
	// been supplied this session; encrypt/decrypt are unavailable.
	Locked State = iota

	// UnlockedDefault means the machine-derived fallback key is active.
	UnlockedDefault

	// UnlockedCustom means a key derived from the user's master
	// password is active.
	UnlockedCustom
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case UnlockedDefault:
		return "unlocked (default key)"
	case UnlockedCustom:
		return "unlocked (master password)"
	default:
		return "unknown"
	}
}

// Sentinel errors returned by the key manager.
var (
	// ErrLocked indicates an encrypt/decrypt attempt while Locked. It
	// is an expected, checkable condition, not a failure: callers
	// branch on it (or call IsUnlocked first) and prompt for the
	// master password.
	ErrLocked = errors.New("keymgr: vault is locked")

	// ErrWrongPassword indicates validation against an existing
	// credential failed. Recoverable; state is unchanged.
	ErrWrongPassword = errors.New("keymgr: wrong master password")

	// ErrAlreadyUnlocked indicates Unlock was called outside Locked.
	ErrAlreadyUnlocked = errors.New("keymgr: vault is already unlocked")

	// ErrNoMasterPassword indicates a change/unlock operation that
	// requires a configured custom master password.
	ErrNoMasterPassword = errors.New("keymgr: no custom master password configured")

	// ErrContextMismatch indicates the embedded server context did not
	// match the caller's expectation. Only returned when the manager
	// was built with WithStrictContext.
	ErrContextMismatch = errors.New("keymgr: credential server context mismatch")
)

// Option configures a Manager.
type Option func(*Manager)

// WithStrictContext makes a server-context mismatch during decryption
// an error instead of a logged warning. The default is lenient: the
// reference behavior tolerates mismatches (e.g. hand-edited stores
// after a rename) because authentication has already passed.
func WithStrictContext() Option {
	return func(m *Manager) { m.strictContext = true }
}

// WithAudit attaches an audit logger. Audit failures are reported as
// warnings and never block an operation.
func WithAudit(l *audit.Logger) Option {
	return func(m *Manager) { m.audit = l }
}

// Manager owns the session's active key and state.
type Manager struct {
	mu            sync.RWMutex
	state         State
	key           []byte
	keys          *keystore.Store
	creds         CredentialStore
	audit         *audit.Logger
	strictContext bool
}

// New constructs a Manager. If the custom-password marker exists the
// manager starts Locked; otherwise it derives the fallback key
// immediately and starts UnlockedDefault, so a system without a master
// password is always usable.
//
// Key derivation runs 100,000 PBKDF2 iterations; construction is
// CPU-bound and should be kept off interactive event loops.
func New(keys *keystore.Store, creds CredentialStore, opts ...Option) *Manager {
	m := &Manager{
		keys:  keys,
		creds: creds,
	}
	for _, opt := range opts {
		opt(m)
	}

	// The audit HMAC key is derived from the stable machine-bound
	// fallback key, not the rotating session key, so the log chain
	// stays verifiable across master-password changes.
	if m.audit != nil {
		hmacSeed := deriveFallbackKey()
		if err := m.audit.SetHMACKey(hmacSeed); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize audit logger: %v\n", err)
		}
		crypto.SecureWipe(hmacSeed)
	}

	if keys.HasMarker() {
		m.state = Locked
		return m
	}

	m.activate(deriveFallbackKey(), UnlockedDefault)
	return m
}

// deriveFallbackKey derives the machine-bound default key. Pure CPU;
// identical on every call on the same host.
func deriveFallbackKey() []byte {
	return crypto.DeriveKey([]byte(fallbackPassphrase), keystore.DefaultSalt())
}

// activate installs key as the session key, wiping any previous one.
// Caller must hold the write lock (or be the constructor).
func (m *Manager) activate(key []byte, state State) {
	if m.key != nil {
		crypto.SecureWipe(m.key)
	}
	m.key = key
	m.state = state

	if m.audit != nil {
		_ = m.audit.LogSuccess(audit.OpVaultUnlock, "")
	}
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsUnlocked reports whether encrypt/decrypt operations are available.
func (m *Manager) IsUnlocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != Locked
}

// activeKind maps the current state to the key kind embedded in new
// credential records. Caller must hold at least the read lock.
func (m *Manager) activeKind() crypto.KeyKind {
	if m.state == UnlockedCustom {
		return crypto.KeyKindCustom
	}
	return crypto.KeyKindDefault
}

// EncryptPassword encrypts a single credential under the active key,
// embedding serverName as the credential's context. Returns ErrLocked
// while Locked.
func (m *Manager) EncryptPassword(password, serverName string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == Locked {
		return "", ErrLocked
	}

	blob, err := crypto.EncryptCredential(m.key, password, serverName, m.activeKind())
	if err != nil {
		m.auditError(audit.OpCredentialEncrypt, serverName, "ENCRYPT_FAILED", err)
		return "", err
	}

	m.auditSuccess(audit.OpCredentialEncrypt, serverName)
	return blob, nil
}

// DecryptPassword decrypts a credential blob with the active key and
// returns the plaintext password. Returns ErrLocked while Locked and
// crypto.ErrDecryptionFailed when the blob was encrypted under a
// different key or has been corrupted (indistinguishable by design).
//
// If expectedServer is non-empty and does not match the embedded
// context, the mismatch is logged and the password still returned,
// unless the manager was built with WithStrictContext.
func (m *Manager) DecryptPassword(blob, expectedServer string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == Locked {
		return "", ErrLocked
	}

	rec, err := m.decryptWithKey(m.key, blob, expectedServer)
	if err != nil {
		m.auditError(audit.OpCredentialDecrypt, expectedServer, "DECRYPT_FAILED", err)
		return "", err
	}

	m.auditSuccess(audit.OpCredentialDecrypt, expectedServer)
	return rec.Password, nil
}

// decryptWithKey decrypts a blob with an explicit key and applies the
// context-mismatch policy.
func (m *Manager) decryptWithKey(key []byte, blob, expectedServer string) (*crypto.CredentialRecord, error) {
	rec, err := crypto.DecryptCredential(key, blob)
	if err != nil {
		return nil, err
	}

	if expectedServer != "" && rec.Server != expectedServer {
		if m.strictContext {
			return nil, fmt.Errorf("%w: expected %q, embedded %q", ErrContextMismatch, expectedServer, rec.Server)
		}
		log.Printf("keymgr: server context mismatch: expected %q, embedded %q", expectedServer, rec.Server)
	}

	return rec, nil
}

// SetMasterPassword configures or re-validates the custom master
// password.
//
// First-time configuration (no marker): creates a fresh salt, migrates
// every stored credential from the fallback key to the new custom key,
// creates the marker, and activates the custom key. A failure on any
// step aborts the whole operation with no persisted changes.
//
// With a marker already present the supplied password is validated
// against the existing salt and one stored credential; on success the
// manager transitions to UnlockedCustom. Genuine rotation goes through
// ChangeMasterPassword.
func (m *Manager) SetMasterPassword(password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keys.HasMarker() {
		return m.unlockLocked(password)
	}

	// Decrypt everything under the current fallback key before touching
	// any persistent state.
	plains, err := m.decryptAll(m.key)
	if err != nil {
		m.auditError(audit.OpMasterSet, "", "MIGRATION_FAILED", err)
		return err
	}

	// First-time set has no old salt to preserve, so the fresh salt is
	// persisted before the flush; an abort rolls it back.
	salt, err := m.keys.LoadOrCreateSalt()
	if err != nil {
		m.auditError(audit.OpMasterSet, "", "SALT_IO", err)
		return err
	}
	newKey := crypto.DeriveKey([]byte(password), salt)

	if err := m.writeAll(plains, newKey, crypto.KeyKindCustom); err != nil {
		// Roll back the salt so a retry starts clean.
		if derr := m.keys.DeleteSalt(); derr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove salt after aborted migration: %v\n", derr)
		}
		m.auditError(audit.OpMasterSet, "", "MIGRATION_FAILED", err)
		return err
	}

	if err := m.keys.CreateMarker(); err != nil {
		m.auditError(audit.OpMasterSet, "", "SALT_IO", err)
		return err
	}

	m.activate(newKey, UnlockedCustom)
	m.auditSuccess(audit.OpMasterSet, "")
	return nil
}

// ChangeMasterPassword rotates the custom master password,
// re-encrypting every stored credential. Any decryption failure aborts
// before any record or salt is overwritten.
func (m *Manager) ChangeMasterPassword(oldPassword, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.keys.HasMarker() {
		return ErrNoMasterPassword
	}

	oldSalt, err := m.keys.LoadOrCreateSalt()
	if err != nil {
		return err
	}
	oldKey := crypto.DeriveKey([]byte(oldPassword), oldSalt)

	if err := m.validateKey(oldKey); err != nil {
		crypto.SecureWipe(oldKey)
		m.auditError(audit.OpMasterChange, "", "AUTH_FAILED", err)
		return err
	}

	// Fail before mutating: every credential must decrypt under the old
	// key before the salt file or any record is replaced.
	plains, err := m.decryptAll(oldKey)
	crypto.SecureWipe(oldKey)
	if err != nil {
		m.auditError(audit.OpMasterChange, "", "MIGRATION_FAILED", err)
		return err
	}

	// The new salt stays in memory until every re-encrypted credential
	// is durable; on abort the old salt file is untouched, so the old
	// password still opens the persisted records.
	newSalt, err := keystore.GenerateSalt()
	if err != nil {
		return err
	}
	newKey := crypto.DeriveKey([]byte(newPassword), newSalt)

	if err := m.writeAll(plains, newKey, crypto.KeyKindCustom); err != nil {
		m.auditError(audit.OpMasterChange, "", "MIGRATION_FAILED", err)
		return err
	}

	if err := m.keys.ReplaceSalt(newSalt); err != nil {
		m.auditError(audit.OpMasterChange, "", "SALT_IO", err)
		return err
	}

	m.activate(newKey, UnlockedCustom)
	m.auditSuccess(audit.OpMasterChange, "")
	return nil
}

// RemoveMasterPassword removes the custom master password, returning
// the vault to fallback mode. Every credential is re-encrypted under
// the machine-derived default key; the salt and marker files are
// deleted. No-op success when no custom password is configured.
func (m *Manager) RemoveMasterPassword() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.keys.HasMarker() {
		return nil
	}
	if m.state != UnlockedCustom {
		return ErrLocked
	}

	plains, err := m.decryptAll(m.key)
	if err != nil {
		m.auditError(audit.OpMasterRemove, "", "MIGRATION_FAILED", err)
		return err
	}

	defaultKey := deriveFallbackKey()
	if err := m.writeAll(plains, defaultKey, crypto.KeyKindDefault); err != nil {
		crypto.SecureWipe(defaultKey)
		m.auditError(audit.OpMasterRemove, "", "MIGRATION_FAILED", err)
		return err
	}

	if err := m.keys.DeleteSalt(); err != nil {
		return err
	}
	if err := m.keys.RemoveMarker(); err != nil {
		return err
	}

	m.activate(defaultKey, UnlockedDefault)
	m.auditSuccess(audit.OpMasterRemove, "")
	return nil
}

// Lock discards the custom key from memory. Only meaningful from
// UnlockedCustom; locking the fallback key would gain nothing (there is
// nothing the user could forget), so Lock is a no-op in UnlockedDefault
// and idempotent in every state.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != UnlockedCustom {
		return
	}

	if m.audit != nil {
		_ = m.audit.LogSuccess(audit.OpVaultLock, "")
	}

	crypto.SecureWipe(m.key)
	m.key = nil
	m.state = Locked
}

// Unlock derives a key from the stored salt and the supplied password,
// validates it against one existing credential, and activates it. Only
// valid from Locked.
func (m *Manager) Unlock(password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Locked {
		return ErrAlreadyUnlocked
	}

	return m.unlockLocked(password)
}

// unlockLocked validates password against the existing custom salt and
// activates the derived key. Caller must hold the write lock.
func (m *Manager) unlockLocked(password string) error {
	salt, err := m.keys.LoadOrCreateSalt()
	if err != nil {
		return err
	}
	key := crypto.DeriveKey([]byte(password), salt)

	if err := m.validateKey(key); err != nil {
		crypto.SecureWipe(key)
		m.auditError(audit.OpVaultUnlockFailed, "", "AUTH_FAILED", err)
		return err
	}

	m.activate(key, UnlockedCustom)
	return nil
}

// validateKey checks a candidate key against the first stored
// credential. With zero encrypted credentials there is nothing to
// contradict the candidate, so validation trivially succeeds; the first
// password ever set is accepted unconditionally, and a later different
// password is rejected once data exists. That asymmetry is intentional.
func (m *Manager) validateKey(key []byte) error {
	names, err := m.creds.Names()
	if err != nil {
		return fmt.Errorf("keymgr: failed to enumerate credentials: %w", err)
	}
	if len(names) == 0 {
		return nil
	}

	blob, err := m.creds.Credential(names[0])
	if err != nil {
		return fmt.Errorf("keymgr: failed to read credential for %q: %w", names[0], err)
	}

	if _, err := crypto.DecryptCredential(key, blob); err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return ErrWrongPassword
		}
		return err
	}
	return nil
}

// namedPassword pairs a record name with its recovered plaintext.
type namedPassword struct {
	name     string
	password string
}

// decryptAll recovers every stored credential under srcKey. Fail-fast:
// a single failure aborts the migration with nothing written, leaving
// all records in their pre-migration encrypted form.
func (m *Manager) decryptAll(srcKey []byte) ([]namedPassword, error) {
	names, err := m.creds.Names()
	if err != nil {
		return nil, fmt.Errorf("keymgr: failed to enumerate credentials: %w", err)
	}

	plains := make([]namedPassword, 0, len(names))
	for _, name := range names {
		blob, err := m.creds.Credential(name)
		if err != nil {
			return nil, fmt.Errorf("keymgr: failed to read credential for %q: %w", name, err)
		}
		// No context expectation here: migration re-stamps every record
		// with its own name on the write side.
		rec, err := crypto.DecryptCredential(srcKey, blob)
		if err != nil {
			return nil, fmt.Errorf("keymgr: failed to decrypt credential for %q: %w", name, err)
		}
		plains = append(plains, namedPassword{name: name, password: rec.Password})
	}
	return plains, nil
}

// writeAll re-encrypts recovered credentials under dstKey, using each
// record's own name as its server context, stages every blob, and
// persists them with a single flush. Records are only written after
// every one has been transformed, so the persisted state never mixes
// keys.
func (m *Manager) writeAll(plains []namedPassword, dstKey []byte, kind crypto.KeyKind) error {
	staged := make([]namedPassword, 0, len(plains))
	for _, p := range plains {
		blob, err := crypto.EncryptCredential(dstKey, p.password, p.name, kind)
		if err != nil {
			return fmt.Errorf("keymgr: failed to re-encrypt credential for %q: %w", p.name, err)
		}
		staged = append(staged, namedPassword{name: p.name, password: blob})
	}

	// Any failure after staging begins must drop the staged blobs:
	// leaving them behind would let a later unrelated Flush persist
	// records under an abandoned key.
	for _, s := range staged {
		if err := m.creds.SetCredential(s.name, s.password); err != nil {
			m.creds.Discard()
			return fmt.Errorf("keymgr: failed to stage credential for %q: %w", s.name, err)
		}
	}

	if err := m.creds.Flush(); err != nil {
		m.creds.Discard()
		return fmt.Errorf("keymgr: failed to persist migrated credentials: %w", err)
	}

	if m.audit != nil {
		_ = m.audit.LogSuccess(audit.OpMigration, "")
	}
	return nil
}

func (m *Manager) auditSuccess(op, server string) {
	if m.audit != nil {
		_ = m.audit.LogSuccess(op, server)
	}
}

func (m *Manager) auditError(op, server, code string, err error) {
	if m.audit != nil {
		_ = m.audit.LogError(op, server, code, err.Error())
	}
}
