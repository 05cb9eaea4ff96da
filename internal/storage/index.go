package storage

import (
	"time"
)

// Index is the decrypted metadata index for one scope. It is a single
// read-modify-write unit: loaded once per session, mutated in memory and
// flushed whole as one encrypted record.
type Index struct {
	Version  int          `json:"version"`
	Created  time.Time    `json:"created"`
	Modified time.Time    `json:"modified"`
	Entries  []IndexEntry `json:"entries"`
}

// IndexEntry describes one stored record. The caller-chosen tag lives
// only here, inside the encrypted index; the on-disk record is keyed by
// the opaque ID alone.
type IndexEntry struct {
	ID          string    `json:"id"`
	Tag         string    `json:"tag"`
	Size        int64     `json:"size"`
	Fingerprint string    `json:"fingerprint"`
	Created     time.Time `json:"created"`
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	now := time.Now()
	return &Index{
		Version: 1,
		Created: now,
		Entries: make([]IndexEntry, 0),
	}
}

// Add appends or replaces an entry by ID.
func (ix *Index) Add(entry IndexEntry) {
	for i := range ix.Entries {
		if ix.Entries[i].ID == entry.ID {
			ix.Entries[i] = entry
			ix.Modified = time.Now()
			return
		}
	}
	ix.Entries = append(ix.Entries, entry)
	ix.Modified = time.Now()
}

// Remove deletes an entry by ID, reporting whether it was present.
func (ix *Index) Remove(id string) bool {
	for i, e := range ix.Entries {
		if e.ID == id {
			ix.Entries = append(ix.Entries[:i], ix.Entries[i+1:]...)
			ix.Modified = time.Now()
			return true
		}
	}
	return false
}

// Find returns the entry with the given ID, or nil.
func (ix *Index) Find(id string) *IndexEntry {
	for i := range ix.Entries {
		if ix.Entries[i].ID == id {
			return &ix.Entries[i]
		}
	}
	return nil
}
