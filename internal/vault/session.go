package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/arenvik/deadbolt/internal/audit"
	"github.com/arenvik/deadbolt/internal/auth"
	"github.com/arenvik/deadbolt/internal/crypto"
	"github.com/arenvik/deadbolt/internal/escalate"
	"github.com/arenvik/deadbolt/internal/storage"
)

// Session is one authenticated scope view of the vault. All operations
// share the vault's mutex, so nothing here ever interleaves with the
// destruction sequence.
type Session struct {
	vault   *Vault
	persona auth.Persona
	enc     *crypto.Encryptor
	store   *storage.Store
	trail   *audit.Trail
	closed  bool
}

// Persona returns the persona this session authenticated as.
func (s *Session) Persona() auth.Persona {
	return s.persona
}

// Close releases the store and zeroes the session key. The session is
// unusable afterwards.
func (s *Session) Close() error {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.trail.LogBestEffort(audit.Entry{
		Category:    escalate.CategorySecurity,
		Severity:    escalate.SeverityLow,
		EventType:   "lock",
		Description: "session closed",
	})

	err := s.store.Close()
	s.enc.Destroy()
	return err
}

// Store encrypts data into a new record. The tag lands only inside the
// encrypted index. A transient storage failure is retried with backoff
// before it surfaces.
func (s *Session) Store(ctx context.Context, data []byte, tag string) (storage.Handle, error) {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()

	if s.closed {
		return storage.Handle{}, ErrSessionClosed
	}

	var handle storage.Handle
	op := func() error {
		h, err := s.store.Store(data, tag)
		if err != nil {
			return err
		}
		handle = h
		return nil
	}

	if err := op(); err != nil {
		if result := s.reportStorage("store failed", err); result.Action == escalate.ActionRetry {
			err = s.vault.retry(ctx, op)
		}
		if err != nil {
			return storage.Handle{}, err
		}
	}

	s.vault.escalator.ConfirmSuccess(escalate.CategoryStorage)
	s.trail.LogBestEffort(audit.Entry{
		Category:    escalate.CategoryStorage,
		Severity:    escalate.SeverityLow,
		EventType:   "store",
		Description: fmt.Sprintf("stored %d bytes as %s", handle.Size, handle.ID),
	})
	return handle, nil
}

// Retrieve decrypts and integrity-checks the record behind a handle.
// Operational read failures are retried with backoff; key and integrity
// failures are terminal and escalate instead.
func (s *Session) Retrieve(ctx context.Context, handle storage.Handle) ([]byte, error) {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	var data []byte
	op := func() error {
		d, err := s.store.Retrieve(handle)
		if err != nil {
			return err
		}
		data = d
		return nil
	}

	if err := op(); err != nil {
		switch {
		case errors.Is(err, crypto.ErrDecryptionFailed), errors.Is(err, crypto.ErrInvalidRecord):
			s.vault.escalator.Report(escalate.ErrorEvent{
				Category:    escalate.CategoryCrypto,
				Severity:    escalate.SeverityHigh,
				Recoverable: false,
				Context:     "record decryption failed",
			})
		case errors.Is(err, storage.ErrIntegrity):
			s.vault.escalator.Report(escalate.ErrorEvent{
				Category:    escalate.CategoryCrypto,
				Severity:    escalate.SeverityHigh,
				Recoverable: false,
				Context:     "record integrity check failed",
			})
		case errors.Is(err, storage.ErrNotFound):
			// Not a fault; the caller asked for something that is not there.
		default:
			if result := s.reportStorage("retrieve failed", err); result.Action == escalate.ActionRetry {
				err = s.vault.retry(ctx, op)
			}
		}
		if err != nil {
			s.trail.LogBestEffort(audit.Entry{
				Category:    escalate.CategoryStorage,
				Severity:    escalate.SeverityMedium,
				EventType:   "retrieve-failed",
				Description: fmt.Sprintf("record %s: %v", handle.ID, err),
			})
			return nil, err
		}
	}

	s.vault.escalator.ConfirmSuccess(escalate.CategoryCrypto)
	return data, nil
}

// SecureDelete wipes a record's ciphertext on disk and drops it from the
// index. A transient wipe failure is retried with backoff.
func (s *Session) SecureDelete(ctx context.Context, handle storage.Handle) error {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	op := func() error { return s.store.SecureDelete(handle) }

	if err := op(); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if result := s.reportStorage("secure delete failed", err); result.Action == escalate.ActionRetry {
			err = s.vault.retry(ctx, op)
		}
		if err != nil {
			return err
		}
	}

	s.trail.LogBestEffort(audit.Entry{
		Category:    escalate.CategoryStorage,
		Severity:    escalate.SeverityLow,
		EventType:   "secure-delete",
		Description: fmt.Sprintf("record %s wiped", handle.ID),
	})
	return nil
}

// Lookup resolves a record ID to its handle.
func (s *Session) Lookup(id string) (storage.Handle, bool) {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()

	if s.closed {
		return storage.Handle{}, false
	}
	return s.store.Lookup(id)
}

// Entries lists the scope's index entries in insertion order.
func (s *Session) Entries() []storage.IndexEntry {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()

	if s.closed {
		return nil
	}
	return s.store.Entries()
}

// Audit reads this session's readable audit entries. Frames written
// under another scope's key are silently skipped.
func (s *Session) Audit(filter audit.Filter) ([]audit.Entry, error) {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.trail.Read(filter)
}

// Log appends a caller-supplied audit entry, best effort.
func (s *Session) Log(entry audit.Entry) {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()

	if s.closed {
		return
	}
	s.trail.LogBestEffort(entry)
}

// reportStorage routes an operational storage failure into escalation
// and returns the selected recovery action. Caller holds the vault
// mutex.
func (s *Session) reportStorage(what string, err error) escalate.ErrorHandlingResult {
	return s.vault.escalator.Report(escalate.ErrorEvent{
		Category:    escalate.CategoryStorage,
		Severity:    escalate.SeverityMedium,
		Recoverable: true,
		Context:     what + ": " + err.Error(),
	})
}
