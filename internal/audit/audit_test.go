package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenvik/deadbolt/internal/crypto"
	"github.com/arenvik/deadbolt/internal/escalate"
)

func newTestTrail(t *testing.T, maxSize int64, maxArchives int) (*Trail, string) {
	t.Helper()
	dir := t.TempDir()

	key, err := crypto.GenerateRandom(crypto.KeySize)
	require.NoError(t, err)

	trail, err := Open(dir, crypto.NewEncryptor(key), maxSize, maxArchives)
	require.NoError(t, err)
	return trail, dir
}

func TestAppendReadRoundTrip(t *testing.T) {
	trail, _ := newTestTrail(t, 1<<20, 3)

	entry := Entry{
		Timestamp:   time.Now().Truncate(time.Millisecond),
		Category:    escalate.CategorySecurity,
		Severity:    escalate.SeverityHigh,
		EventType:   "classification-failed",
		Description: "invalid password presented at terminal 2",
	}
	require.NoError(t, trail.Append(entry))

	entries, err := trail.Read(Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.True(t, got.Timestamp.Equal(entry.Timestamp))
	assert.Equal(t, entry.Category, got.Category)
	assert.Equal(t, entry.Severity, got.Severity)
	assert.Equal(t, entry.EventType, got.EventType)
	assert.Equal(t, entry.Description, got.Description)
}

func TestAppendOrderPreserved(t *testing.T) {
	trail, _ := newTestTrail(t, 1<<20, 3)

	for i, typ := range []string{"first", "second", "third"} {
		require.NoError(t, trail.Append(Entry{
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
			Category:  escalate.CategoryOther,
			EventType: typ,
		}))
	}

	entries, err := trail.Read(Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "first", entries[0].EventType)
	assert.Equal(t, "third", entries[2].EventType)
}

func TestFilters(t *testing.T) {
	trail, _ := newTestTrail(t, 1<<20, 3)

	base := time.Now()
	seed := []Entry{
		{Timestamp: base, Category: escalate.CategoryCrypto, Severity: escalate.SeverityLow, EventType: "a"},
		{Timestamp: base.Add(time.Minute), Category: escalate.CategorySecurity, Severity: escalate.SeverityCritical, EventType: "b"},
		{Timestamp: base.Add(2 * time.Minute), Category: escalate.CategorySecurity, Severity: escalate.SeverityMedium, EventType: "c"},
	}
	for _, e := range seed {
		require.NoError(t, trail.Append(e))
	}

	byCategory, err := trail.Read(Filter{Category: escalate.CategorySecurity})
	require.NoError(t, err)
	assert.Len(t, byCategory, 2)

	bySeverity, err := trail.Read(Filter{MinSeverity: escalate.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, bySeverity, 1)
	assert.Equal(t, "b", bySeverity[0].EventType)

	byTime, err := trail.Read(Filter{From: base.Add(30 * time.Second), To: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, byTime, 1)
	assert.Equal(t, "b", byTime[0].EventType)
}

func TestEntriesEncryptedOnDisk(t *testing.T) {
	trail, dir := newTestTrail(t, 1<<20, 3)

	desc := "highly sensitive audit description"
	require.NoError(t, trail.Append(Entry{
		Category:    escalate.CategorySecurity,
		EventType:   "test",
		Description: desc,
	}))

	raw, err := os.ReadFile(filepath.Join(dir, Dir, "active.log"))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte(desc)), "plaintext description found in container")
	assert.False(t, bytes.Contains(raw, []byte("event_type")), "serialized field names found in container")
}

func TestRotationAndRetention(t *testing.T) {
	// Tiny threshold: every append rotates.
	trail, dir := newTestTrail(t, 1, 2)

	for i := 0; i < 5; i++ {
		require.NoError(t, trail.Append(Entry{Category: escalate.CategoryOther, EventType: "e"}))
	}

	archives, err := trail.archives()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(archives), 2, "retention must cap archived containers")

	// Entries in retained archives are still readable.
	entries, err := trail.Read(Filter{})
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
	assert.LessOrEqual(t, len(entries), 3) // 2 archives + active at one frame each

	// Discarded archives are gone from disk, not just renamed.
	files, err := os.ReadDir(filepath.Join(dir, Dir))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(files), 3)
}

func TestForeignKeyFramesSkipped(t *testing.T) {
	dir := t.TempDir()

	key1, _ := crypto.GenerateRandom(crypto.KeySize)
	trail1, err := Open(dir, crypto.NewEncryptor(key1), 1<<20, 3)
	require.NoError(t, err)
	require.NoError(t, trail1.Append(Entry{EventType: "master-event"}))

	key2, _ := crypto.GenerateRandom(crypto.KeySize)
	trail2, err := Open(dir, crypto.NewEncryptor(key2), 1<<20, 3)
	require.NoError(t, err)
	require.NoError(t, trail2.Append(Entry{EventType: "decoy-event"}))

	// Each session reads only its own entries; foreign frames stay opaque.
	entries, err := trail2.Read(Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "decoy-event", entries[0].EventType)
}

func TestLogBestEffortSwallowsFailure(t *testing.T) {
	trail, dir := newTestTrail(t, 1<<20, 3)

	var fallback strings.Builder
	trail.fallback = &fallback

	// Make the container path unwritable by replacing it with a directory.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, Dir, "active.log"), 0700))

	trail.LogBestEffort(Entry{EventType: "doomed"})
	assert.Contains(t, fallback.String(), "audit append failed")
}

func TestDestroyWipesAllContainers(t *testing.T) {
	trail, dir := newTestTrail(t, 1, 2)

	secret := "incriminating audit data"
	for i := 0; i < 4; i++ {
		require.NoError(t, trail.Append(Entry{Description: secret, EventType: "e"}))
	}

	require.NoError(t, trail.Destroy())

	files, err := os.ReadDir(filepath.Join(dir, Dir))
	require.NoError(t, err)
	assert.Empty(t, files, "containers must be removed by Destroy")
}

func TestCorruptContainerDetected(t *testing.T) {
	trail, dir := newTestTrail(t, 1<<20, 3)
	require.NoError(t, trail.Append(Entry{EventType: "e"}))

	// Truncate mid-frame.
	path := filepath.Join(dir, Dir, "active.log")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-3], 0600))

	_, err = trail.Read(Filter{})
	assert.ErrorIs(t, err, ErrCorruptContainer)
}
