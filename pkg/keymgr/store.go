package keymgr

// CredentialStore is the contract the key manager uses to reach the
// external record store during migration and normal use. Implemented by
// the server registry; the key manager never assumes the store's
// internal representation.
type CredentialStore interface {
	// Names returns the names of all records that currently have an
	// encrypted credential field, in stable iteration order.
	Names() ([]string, error)

	// Credential returns the encrypted credential blob for a record.
	Credential(name string) (string, error)

	// SetCredential stages a new encrypted credential blob for a
	// record. Staged values become durable only after Flush.
	SetCredential(name, blob string) error

	// Flush persists all staged writes to durable storage. Invoked
	// once per completed migration or save.
	Flush() error

	// Discard drops all staged writes without persisting them. Invoked
	// when a migration aborts after staging has begun, so a later
	// unrelated Flush cannot persist blobs from the abandoned key.
	Discard()
}
