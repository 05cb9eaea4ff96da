// Package vault ties the security core together: one Vault per root
// directory, one Session per authenticated password.
//
// Opening a session classifies the password into a persona. Master and
// decoy sessions work on their own record scope; the panic persona first
// runs the destruction sequence and then hands back a decoy-scoped
// session, so the caller sees nothing unusual.
//
// A single mutex serializes every session operation against the
// destruction sequence. Nothing reads or writes vault state while a
// panic is executing.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arenvik/deadbolt/internal/audit"
	"github.com/arenvik/deadbolt/internal/auth"
	"github.com/arenvik/deadbolt/internal/config"
	"github.com/arenvik/deadbolt/internal/crypto"
	"github.com/arenvik/deadbolt/internal/destruct"
	"github.com/arenvik/deadbolt/internal/escalate"
	"github.com/arenvik/deadbolt/internal/storage"
)

// CatalogName is the catalog database file under the vault root.
const CatalogName = "deadbolt.db"

var (
	// ErrAccessDenied is returned for any password that matches no
	// persona. Deliberately uninformative.
	ErrAccessDenied = errors.New("access denied")

	ErrSessionClosed = errors.New("session closed")
)

// Vault is the root object for one vault directory. Safe for concurrent
// use; all operations funnel through one mutex.
type Vault struct {
	root      string
	cfg       *config.Config
	catalog   *storage.Catalog
	authority *auth.Authority
	escalator *escalate.Escalator
	executor  *destruct.Executor

	// retry backs the decision table's retry action on recoverable
	// session failures. Indirect so tests run without real backoff.
	retry func(ctx context.Context, op func() error) error

	resumed *destruct.Trigger

	mu sync.Mutex
}

// New opens the vault at root, creating the directory and catalog
// scaffolding as needed. An interrupted destruction found on disk is
// finished here, before anything else can run.
func New(root string) (*Vault, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	cfg, err := config.Load(filepath.Join(root, config.ConfigFile))
	if err != nil {
		return nil, err
	}

	catalog, err := storage.OpenCatalog(filepath.Join(root, CatalogName))
	if err != nil {
		return nil, err
	}

	initialized, err := catalog.IsInitialized()
	if err != nil {
		catalog.Close()
		return nil, err
	}
	if !initialized {
		if err := catalog.Initialize(); err != nil {
			catalog.Close()
			return nil, err
		}
	}

	v := &Vault{
		root:    root,
		cfg:     cfg,
		catalog: catalog,
	}
	v.executor = destruct.New(root, catalog)
	v.escalator = escalate.New(cfg.Escalation, v.panic)
	v.authority = auth.New(catalog, v.escalator, cfg.Auth.MaxFailedAttempts)
	v.retry = escalate.Retry

	trigger, err := v.executor.ResumeIfNeeded()
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("failed to finish interrupted destruction: %w", err)
	}
	v.resumed = trigger

	return v, nil
}

// Close releases the catalog.
func (v *Vault) Close() error {
	return v.catalog.Close()
}

// Resumed reports the trigger of a destruction that was finished during
// New, or nil when the vault started clean.
func (v *Vault) Resumed() *destruct.Trigger {
	return v.resumed
}

// panic is the escalation callback. Execution errors cannot go to the
// audit trail (it is being destroyed), so they fall back to stderr.
func (v *Vault) panic(reason string, source escalate.PanicSource) {
	err := v.executor.Execute(destruct.Trigger{Reason: reason, Source: source})
	if err != nil {
		fmt.Fprintf(os.Stderr, "deadbolt: destruction sequence error: %v\n", err)
	}
}

// Init sets up the three personas and their scope keys. The panic
// persona wraps the decoy scope key, so a post-destruction panic session
// opens onto the decoy records.
func (v *Vault) Init(master, panicPw, decoy []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.authority.Initialize(master, panicPw, decoy); err != nil {
		return err
	}

	masterScope, err := crypto.GenerateRandom(crypto.KeySize)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(masterScope)
	decoyScope, err := crypto.GenerateRandom(crypto.KeySize)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(decoyScope)

	wraps := []struct {
		password []byte
		persona  auth.Persona
		scopeKey []byte
	}{
		{master, auth.PersonaMaster, masterScope},
		{panicPw, auth.PersonaPanic, decoyScope},
		{decoy, auth.PersonaDecoy, decoyScope},
	}
	for _, w := range wraps {
		if err := v.wrapScopeKey(w.password, w.persona, w.scopeKey); err != nil {
			return err
		}
	}

	_, err = v.catalog.GetOrCreateVaultID()
	return err
}

func (v *Vault) wrapScopeKey(password []byte, persona auth.Persona, scopeKey []byte) error {
	kek, err := v.authority.DeriveSessionKey(password, persona)
	if err != nil {
		return err
	}
	defer kek.Zero()

	enc := crypto.NewEncryptor(kek.Bytes())
	record, err := enc.Encrypt(scopeKey)
	if err != nil {
		return fmt.Errorf("failed to wrap %s scope key: %w", persona, err)
	}

	return v.catalog.SetWrappedKey(persona.String(), record.Marshal())
}

func (v *Vault) unwrapScopeKey(kek *auth.VaultKey, persona auth.Persona) ([]byte, error) {
	raw, err := v.catalog.GetWrappedKey(persona.String())
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("no scope key stored for persona %s", persona)
	}

	record, err := crypto.UnmarshalRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt wrapped scope key: %w", err)
	}

	enc := crypto.NewEncryptor(kek.Bytes())
	return enc.Decrypt(record)
}

func scopeFor(persona auth.Persona) storage.Scope {
	if persona == auth.PersonaMaster {
		return storage.ScopeMaster
	}
	return storage.ScopeDecoy
}

// Open authenticates a password and yields a working session. An invalid
// password is ErrAccessDenied; the panic persona destroys the master
// contents and then opens indistinguishably from a decoy session.
func (v *Vault) Open(password []byte) (*Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	persona, err := v.authority.Classify(password)
	if err != nil {
		return nil, err
	}
	if persona == auth.PersonaInvalid {
		return nil, ErrAccessDenied
	}

	if persona == auth.PersonaPanic {
		v.escalator.TriggerPanic("duress password entered", escalate.SourcePersonaMatch)
	}

	kek, err := v.authority.DeriveSessionKey(password, persona)
	if err != nil {
		return nil, err
	}
	defer kek.Zero()

	scopeKey, err := v.unwrapScopeKey(kek, persona)
	if err != nil {
		v.escalator.Report(escalate.ErrorEvent{
			Category:    escalate.CategoryCrypto,
			Severity:    escalate.SeverityHigh,
			Recoverable: false,
			Context:     "scope key unwrap failed",
		})
		return nil, err
	}

	enc := crypto.NewEncryptor(scopeKey)

	store, err := storage.OpenStore(v.root, v.catalog, scopeFor(persona), enc)
	if err != nil {
		enc.Destroy()
		v.escalator.Report(escalate.ErrorEvent{
			Category:    escalate.CategoryCrypto,
			Severity:    escalate.SeverityHigh,
			Recoverable: false,
			Context:     "index decryption failed",
		})
		return nil, err
	}

	trail, err := audit.Open(v.root, enc, v.cfg.Audit.MaxContainerBytes, v.cfg.Audit.MaxArchives)
	if err != nil {
		store.Close()
		enc.Destroy()
		return nil, err
	}

	s := &Session{
		vault:   v,
		persona: persona,
		enc:     enc,
		store:   store,
		trail:   trail,
	}

	trail.LogBestEffort(audit.Entry{
		Category:    escalate.CategorySecurity,
		Severity:    escalate.SeverityLow,
		EventType:   "unlock",
		Description: "session opened",
	})

	return s, nil
}

// Destroy fires the destruction sequence on explicit operator request.
// No confirmation gate here; the CLI owns the prompt.
func (v *Vault) Destroy(reason string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.escalator.TriggerPanic(reason, escalate.SourceOperatorAction)
	return v.executor.Execute(destruct.Trigger{
		Reason: reason,
		Source: escalate.SourceOperatorAction,
	})
}

// Compact rewrites the catalog database, dropping free pages. Needs no
// password; everything sensitive in the catalog is ciphertext.
func (v *Vault) Compact() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.catalog.Compact()
}

// Status describes the vault without requiring a password.
type Status struct {
	Initialized    bool
	Destroyed      bool
	VaultID        string
	Modified       time.Time
	FailedAttempts uint32
	Health         escalate.Snapshot
}

// Status reports what can be known about the vault without key material.
// Destroyed means the master scope key is gone while verifiers remain.
func (v *Vault) Status() (Status, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var st Status

	if _, err := v.catalog.GetVerifierBundle(); err == nil {
		st.Initialized = true
	}

	if st.Initialized {
		masterKey, err := v.catalog.GetWrappedKey(auth.PersonaMaster.String())
		if err != nil {
			return st, err
		}
		st.Destroyed = masterKey == nil
	}

	if id, err := v.catalog.GetVaultID(); err == nil {
		st.VaultID = id
	}
	if modified, err := v.catalog.GetModified(); err == nil {
		st.Modified = modified
	}

	attempts, err := v.catalog.FailedAttempts()
	if err != nil {
		return st, err
	}
	st.FailedAttempts = attempts
	st.Health = v.escalator.Snapshot()

	return st, nil
}
