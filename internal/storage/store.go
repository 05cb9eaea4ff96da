package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arenvik/deadbolt/internal/crypto"
)

// RecordsDir is the directory under the vault root holding per-record
// ciphertext files, one subdirectory per scope.
const RecordsDir = "records"

var (
	ErrNotFound = errors.New("record not found")

	// ErrIntegrity reports a fingerprint mismatch after successful
	// decryption: tampering or corruption, distinct from a wrong key.
	ErrIntegrity = errors.New("record failed integrity check")
)

// Handle is the opaque reference to a stored record. It carries the
// integrity fingerprint and size but never the caller's tag.
type Handle struct {
	ID          string
	Fingerprint string
	Size        int64
}

// Store persists raw bytes as encrypted records for one scope. All
// mutations are serialized: the index is a single read-modify-write unit
// flushed whole on every change.
type Store struct {
	root    *os.Root
	catalog *Catalog
	scope   Scope
	enc     *crypto.Encryptor
	index   *Index
	mu      sync.Mutex
}

// ScopeDir returns the records directory for a scope under the vault root.
func ScopeDir(rootDir string, scope Scope) string {
	return filepath.Join(rootDir, RecordsDir, string(scope))
}

func recordPath(scope Scope, id string) string {
	return path.Join(RecordsDir, string(scope), id)
}

// OpenStore opens the record store for one scope. The encryptor must hold
// the session key of the persona that owns the scope; the encrypted index
// is loaded once here and kept in memory until Close.
func OpenStore(rootDir string, catalog *Catalog, scope Scope, enc *crypto.Encryptor) (*Store, error) {
	root, err := os.OpenRoot(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault root: %w", err)
	}

	s := &Store{
		root:    root,
		catalog: catalog,
		scope:   scope,
		enc:     enc,
	}

	if err := s.loadIndex(); err != nil {
		root.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the store's root handle. It does not destroy the
// encryptor; the session owns the key lifetime.
func (s *Store) Close() error {
	return s.root.Close()
}

func (s *Store) loadIndex() error {
	raw, err := s.catalog.GetIndexRecord(s.scope)
	if err != nil {
		return fmt.Errorf("failed to read index record: %w", err)
	}
	if raw == nil {
		s.index = NewIndex()
		return nil
	}

	record, err := crypto.UnmarshalRecord(raw)
	if err != nil {
		return fmt.Errorf("corrupt index record: %w", err)
	}

	plaintext, err := s.enc.Decrypt(record)
	if err != nil {
		return fmt.Errorf("failed to decrypt index: %w", err)
	}
	defer crypto.ClearBytes(plaintext)

	var index Index
	if err := json.Unmarshal(plaintext, &index); err != nil {
		return fmt.Errorf("failed to parse index: %w", err)
	}
	s.index = &index
	return nil
}

// flushIndex writes the whole index as one encrypted record. The bbolt
// commit is atomic, so a partially written index is never observable.
func (s *Store) flushIndex() error {
	plaintext, err := json.Marshal(s.index)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	defer crypto.ClearBytes(plaintext)

	record, err := s.enc.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt index: %w", err)
	}

	if err := s.catalog.PutIndexRecord(s.scope, record.Marshal()); err != nil {
		return fmt.Errorf("failed to store index: %w", err)
	}
	return s.catalog.UpdateModified()
}

// Store encrypts data into a new record file and registers it in the
// index. The tag is written only inside the encrypted index.
func (s *Store) Store(data []byte, tag string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fingerprint := crypto.Fingerprint(data)

	record, err := s.enc.Encrypt(data)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to encrypt record: %w", err)
	}

	id := uuid.NewString()

	if err := s.root.MkdirAll(path.Join(RecordsDir, string(s.scope)), 0700); err != nil {
		return Handle{}, fmt.Errorf("failed to create records directory: %w", err)
	}
	if err := s.root.WriteFile(recordPath(s.scope, id), record.Marshal(), 0600); err != nil {
		return Handle{}, fmt.Errorf("failed to write record: %w", err)
	}

	s.index.Add(IndexEntry{
		ID:          id,
		Tag:         tag,
		Size:        int64(len(data)),
		Fingerprint: fingerprint,
		Created:     time.Now(),
	})

	if err := s.flushIndex(); err != nil {
		return Handle{}, err
	}

	return Handle{
		ID:          id,
		Fingerprint: fingerprint,
		Size:        int64(len(data)),
	}, nil
}

// Retrieve decrypts the record behind a handle and verifies its
// fingerprint. Decryption failure and integrity failure are distinct.
func (s *Store) Retrieve(h Handle) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.index.Find(h.ID)
	if entry == nil {
		return nil, ErrNotFound
	}
	if _, err := uuid.Parse(entry.ID); err != nil {
		return nil, fmt.Errorf("%w: malformed record id", ErrNotFound)
	}

	raw, err := s.root.ReadFile(recordPath(s.scope, entry.ID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	record, err := crypto.UnmarshalRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crypto.ErrDecryptionFailed, err)
	}

	plaintext, err := s.enc.Decrypt(record)
	if err != nil {
		return nil, err
	}

	if crypto.Fingerprint(plaintext) != entry.Fingerprint {
		crypto.ClearBytes(plaintext)
		return nil, ErrIntegrity
	}

	return plaintext, nil
}

// Lookup resolves an ID to its handle.
func (s *Store) Lookup(id string) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.index.Find(id)
	if entry == nil {
		return Handle{}, false
	}
	return Handle{
		ID:          entry.ID,
		Fingerprint: entry.Fingerprint,
		Size:        entry.Size,
	}, true
}

// Entries returns a copy of the index entries in insertion order.
func (s *Store) Entries() []IndexEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]IndexEntry, len(s.index.Entries))
	copy(out, s.index.Entries)
	return out
}

// SecureDelete overwrites the record file with random passes before
// removal, then drops the entry and flushes the index.
func (s *Store) SecureDelete(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.index.Find(h.ID)
	if entry == nil {
		return ErrNotFound
	}
	if _, err := uuid.Parse(entry.ID); err != nil {
		return fmt.Errorf("%w: malformed record id", ErrNotFound)
	}

	p := recordPath(s.scope, entry.ID)
	f, err := s.root.OpenFile(p, os.O_WRONLY, 0)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to open record for wiping: %w", err)
		}
		// Already gone on disk; still drop the index entry below.
	} else {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to stat record: %w", err)
		}
		if err := overwriteFile(f, info.Size()); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close record: %w", err)
		}
		if err := s.root.Remove(p); err != nil {
			return fmt.Errorf("failed to remove record: %w", err)
		}
	}

	s.index.Remove(entry.ID)
	return s.flushIndex()
}
