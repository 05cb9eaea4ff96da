// Package audit keeps the encrypted, append-only security event log.
//
// Entries are serialized, encrypted with the active session key and
// appended as length-prefixed frames to a single growing container file.
// When the active container exceeds the rotation threshold it is sealed
// as an archive; at most K archives are retained.
//
// Reads decrypt the whole container set and filter in memory. Frames
// written under another persona's session key fail authentication and
// are skipped, never surfaced as garbage.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/arenvik/deadbolt/internal/crypto"
	"github.com/arenvik/deadbolt/internal/escalate"
	"github.com/arenvik/deadbolt/internal/storage"
)

const (
	// Dir is the audit directory under the vault root.
	Dir = "audit"

	activeName    = "active.log"
	archivePrefix = "archive-"

	// maxFrameSize bounds a single frame so a corrupted length prefix
	// cannot trigger a huge allocation.
	maxFrameSize = 1 << 24
)

var ErrCorruptContainer = errors.New("corrupt audit container")

// Entry is one security event. The description is the only free-form
// field; everything sensitive belongs there because the whole entry is
// encrypted at rest anyway.
type Entry struct {
	Timestamp   time.Time         `json:"timestamp"`
	Category    escalate.Category `json:"category"`
	Severity    escalate.Severity `json:"severity"`
	EventType   string            `json:"event_type"`
	Description string            `json:"description"`
}

// Filter selects entries during Read. The zero value matches everything.
type Filter struct {
	Category    escalate.Category // empty matches all categories
	MinSeverity escalate.Severity
	From        time.Time // zero means unbounded
	To          time.Time // zero means unbounded
}

func (f Filter) matches(e Entry) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if e.Severity < f.MinSeverity {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Trail is the encrypted audit log for one session.
type Trail struct {
	dir         string
	enc         *crypto.Encryptor
	maxSize     int64
	maxArchives int

	// fallback receives one plain line when appending to the encrypted
	// container itself fails; never recursed into.
	fallback io.Writer

	mu sync.Mutex
}

// Open prepares the audit trail directory. The encryptor holds the
// active session key; entries appended now are only readable under the
// same persona's key.
func Open(rootDir string, enc *crypto.Encryptor, maxSize int64, maxArchives int) (*Trail, error) {
	dir := filepath.Join(rootDir, Dir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	return &Trail{
		dir:         dir,
		enc:         enc,
		maxSize:     maxSize,
		maxArchives: maxArchives,
		fallback:    os.Stderr,
	}, nil
}

func (t *Trail) activePath() string {
	return filepath.Join(t.dir, activeName)
}

// Append serializes, encrypts and appends one entry, rotating the
// container when it exceeds the size threshold.
func (t *Trail) Append(entry Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	plaintext, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	defer crypto.ClearBytes(plaintext)

	record, err := t.enc.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt audit entry: %w", err)
	}

	frame := record.Marshal()
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(frame)))

	f, err := os.OpenFile(t.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit container: %w", err)
	}
	if _, err := f.Write(append(header, frame...)); err != nil {
		f.Close()
		return fmt.Errorf("failed to append audit frame: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close audit container: %w", err)
	}

	return t.rotateIfNeeded()
}

// LogBestEffort appends an entry, swallowing any failure into the
// fallback channel so a logging failure can never cascade.
func (t *Trail) LogBestEffort(entry Entry) {
	if err := t.Append(entry); err != nil {
		fmt.Fprintf(t.fallback, "deadbolt: audit append failed: %v\n", err)
	}
}

// rotateIfNeeded seals the active container as an archive once it
// crosses the size threshold and prunes the oldest archives beyond the
// retention count. Caller holds the mutex.
func (t *Trail) rotateIfNeeded() error {
	info, err := os.Stat(t.activePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat audit container: %w", err)
	}
	if info.Size() < t.maxSize {
		return nil
	}

	name := fmt.Sprintf("%s%020d.log", archivePrefix, time.Now().UnixNano())
	if err := os.Rename(t.activePath(), filepath.Join(t.dir, name)); err != nil {
		return fmt.Errorf("failed to archive audit container: %w", err)
	}

	archives, err := t.archives()
	if err != nil {
		return err
	}
	for len(archives) > t.maxArchives {
		if err := storage.SecureWipe(archives[0]); err != nil {
			return fmt.Errorf("failed to discard oldest archive: %w", err)
		}
		archives = archives[1:]
	}
	return nil
}

// archives returns archived container paths, oldest first. Caller holds
// the mutex.
func (t *Trail) archives() ([]string, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit directory: %w", err)
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > len(archivePrefix) && e.Name()[:len(archivePrefix)] == archivePrefix {
			out = append(out, filepath.Join(t.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Read decrypts all containers and returns matching entries in append
// order: archived containers oldest first, then the active container.
func (t *Trail) Read(filter Filter) ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	archives, err := t.archives()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, path := range append(archives, t.activePath()) {
		chunk, err := t.readContainer(path)
		if err != nil {
			return nil, err
		}
		for _, e := range chunk {
			if filter.matches(e) {
				entries = append(entries, e)
			}
		}
	}
	return entries, nil
}

func (t *Trail) readContainer(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read audit container: %w", err)
	}

	var entries []Entry
	for len(raw) > 0 {
		if len(raw) < 4 {
			return nil, ErrCorruptContainer
		}
		size := binary.BigEndian.Uint32(raw[:4])
		if size > maxFrameSize || int(size) > len(raw)-4 {
			return nil, ErrCorruptContainer
		}
		frame := raw[4 : 4+size]
		raw = raw[4+size:]

		record, err := crypto.UnmarshalRecord(frame)
		if err != nil {
			return nil, ErrCorruptContainer
		}

		plaintext, err := t.enc.Decrypt(record)
		if err != nil {
			// Written under a different persona's key; stays opaque.
			continue
		}

		var entry Entry
		if err := json.Unmarshal(plaintext, &entry); err != nil {
			crypto.ClearBytes(plaintext)
			return nil, ErrCorruptContainer
		}
		crypto.ClearBytes(plaintext)
		entries = append(entries, entry)
	}
	return entries, nil
}

// Destroy secure-wipes the active container and every archive. Only the
// destruction sequence calls this.
func (t *Trail) Destroy() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return DestroyDir(filepath.Dir(t.dir))
}

// DestroyDir wipes all audit containers under the vault root without
// needing an open trail or any key material. Used during startup resume
// of an interrupted destruction.
func DestroyDir(rootDir string) error {
	dir := filepath.Join(rootDir, Dir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list audit directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := storage.SecureWipe(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
