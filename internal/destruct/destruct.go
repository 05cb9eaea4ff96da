// Package destruct runs the irreversible destruction sequence: secure
// wipe of every master-scope record, the master index, and the audit
// trail. The decoy scope is deliberately left intact so the vault still
// opens convincingly under the cover password afterwards.
//
// A durable marker file is written before any wiping starts. If the
// process dies mid-sequence, the marker is found at the next startup and
// the sequence resumes; destruction needs no key material, so resumption
// works even though no session is open.
package destruct

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arenvik/deadbolt/internal/audit"
	"github.com/arenvik/deadbolt/internal/escalate"
	"github.com/arenvik/deadbolt/internal/storage"
)

// MarkerName is the durable in-progress marker under the vault root.
const MarkerName = ".panic"

// State tracks the executor through its one-way lifecycle.
type State int

const (
	StateArmed State = iota
	StateTriggered
	StateComplete
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateTriggered:
		return "triggered"
	}
	return "complete"
}

// Trigger records what fired the sequence. It is persisted in the marker
// so an interrupted destruction still knows its cause on resume.
type Trigger struct {
	Reason    string               `json:"reason"`
	Source    escalate.PanicSource `json:"source"`
	Timestamp time.Time            `json:"timestamp"`
}

// Executor performs the destruction sequence exactly once. After
// completion it stays terminal; further Execute calls are no-ops.
type Executor struct {
	root    string
	catalog *storage.Catalog

	mu    sync.Mutex
	state State
}

// New creates an armed executor for the vault at root.
func New(root string, catalog *storage.Catalog) *Executor {
	return &Executor{
		root:    root,
		catalog: catalog,
	}
}

// State returns the current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Executor) markerPath() string {
	return filepath.Join(e.root, MarkerName)
}

// Execute runs the full destruction sequence. Idempotent: once complete,
// subsequent calls return immediately without touching the filesystem.
func (e *Executor) Execute(trigger Trigger) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateComplete {
		return nil
	}
	e.state = StateTriggered

	if trigger.Timestamp.IsZero() {
		trigger.Timestamp = time.Now()
	}

	// The marker lands on disk before the first wipe so a crash anywhere
	// in the sequence leaves evidence that it must finish.
	if err := e.writeMarker(trigger); err != nil {
		return err
	}

	if err := e.run(); err != nil {
		return err
	}

	if err := os.Remove(e.markerPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove destruction marker: %w", err)
	}

	e.state = StateComplete
	return nil
}

// ResumeIfNeeded finishes an interrupted destruction found at startup.
// Returns the original trigger when a sequence was resumed, nil when the
// vault was clean.
func (e *Executor) ResumeIfNeeded() (*Trigger, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw, err := os.ReadFile(e.markerPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read destruction marker: %w", err)
	}

	// A torn marker write still means destruction was in flight; finish
	// it even if the cause is lost.
	var trigger Trigger
	if err := json.Unmarshal(raw, &trigger); err != nil {
		trigger = Trigger{Reason: "unreadable marker", Source: escalate.SourceThresholdBreach}
	}

	e.state = StateTriggered
	if err := e.run(); err != nil {
		return nil, err
	}

	if err := os.Remove(e.markerPath()); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove destruction marker: %w", err)
	}

	e.state = StateComplete
	return &trigger, nil
}

func (e *Executor) writeMarker(trigger Trigger) error {
	data, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal destruction marker: %w", err)
	}

	f, err := os.OpenFile(e.markerPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create destruction marker: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write destruction marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync destruction marker: %w", err)
	}
	return f.Close()
}

// run performs the ordered wipe. Caller holds the mutex. Every step is
// idempotent so a resumed sequence can repeat completed steps safely.
func (e *Executor) run() error {
	var errs []error

	// 1. Master-scope record files.
	if err := wipeDir(storage.ScopeDir(e.root, storage.ScopeMaster)); err != nil {
		errs = append(errs, err)
	}

	// 2. Master index record and wrapped master key, then compaction so
	// no stale page keeps either.
	indexErr := e.catalog.WipeIndexRecord(storage.ScopeMaster)
	if indexErr != nil {
		errs = append(errs, fmt.Errorf("failed to wipe master index: %w", indexErr))
	}
	keyErr := e.catalog.WipeWrappedKey(string(storage.ScopeMaster))
	if keyErr != nil {
		errs = append(errs, fmt.Errorf("failed to wipe master key: %w", keyErr))
	}
	if indexErr == nil && keyErr == nil {
		if err := e.catalog.Compact(); err != nil {
			errs = append(errs, fmt.Errorf("failed to compact catalog: %w", err))
		}
	}

	// 3. Audit containers.
	if err := audit.DestroyDir(e.root); err != nil {
		errs = append(errs, fmt.Errorf("failed to destroy audit trail: %w", err))
	}

	// Wipe as much as possible before reporting; a failed step must not
	// shield the remaining data from the rest of the sequence.
	return errors.Join(errs...)
}

// wipeDir secure-wipes every regular file directly under dir, then
// removes the directory itself. Missing directories are fine.
func wipeDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := storage.SecureWipe(filepath.Join(dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}
