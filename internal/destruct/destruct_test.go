package destruct

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenvik/deadbolt/internal/audit"
	"github.com/arenvik/deadbolt/internal/crypto"
	"github.com/arenvik/deadbolt/internal/escalate"
	"github.com/arenvik/deadbolt/internal/storage"
)

type fixture struct {
	dir     string
	catalog *storage.Catalog

	masterHandle storage.Handle
	masterCipher []byte
	decoyHandle  storage.Handle
	decoyKey     []byte
}

// newFixture builds a vault with one master record, one decoy record and
// one audit entry, then closes the stores so the executor owns the files.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	catalog, err := storage.OpenCatalog(filepath.Join(dir, "deadbolt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	require.NoError(t, catalog.Initialize())

	masterKey, err := crypto.GenerateRandom(crypto.KeySize)
	require.NoError(t, err)
	master, err := storage.OpenStore(dir, catalog, storage.ScopeMaster, crypto.NewEncryptor(masterKey))
	require.NoError(t, err)
	masterHandle, err := master.Store([]byte("the real secret"), "real")
	require.NoError(t, err)
	require.NoError(t, master.Close())

	masterCipher, err := os.ReadFile(filepath.Join(storage.ScopeDir(dir, storage.ScopeMaster), masterHandle.ID))
	require.NoError(t, err)

	decoyKey, err := crypto.GenerateRandom(crypto.KeySize)
	require.NoError(t, err)
	keyCopy := append([]byte(nil), decoyKey...)
	decoy, err := storage.OpenStore(dir, catalog, storage.ScopeDecoy, crypto.NewEncryptor(decoyKey))
	require.NoError(t, err)
	decoyHandle, err := decoy.Store([]byte("harmless cover data"), "cover")
	require.NoError(t, err)
	require.NoError(t, decoy.Close())

	auditKey, err := crypto.GenerateRandom(crypto.KeySize)
	require.NoError(t, err)
	trail, err := audit.Open(dir, crypto.NewEncryptor(auditKey), 1<<20, 3)
	require.NoError(t, err)
	require.NoError(t, trail.Append(audit.Entry{EventType: "unlock", Description: "session opened"}))

	return &fixture{
		dir:          dir,
		catalog:      catalog,
		masterHandle: masterHandle,
		masterCipher: masterCipher,
		decoyHandle:  decoyHandle,
		decoyKey:     keyCopy,
	}
}

func (f *fixture) assertMasterGone(t *testing.T) {
	t.Helper()

	// No file anywhere under the vault root may still hold the master
	// record's ciphertext body.
	needle := f.masterCipher[1+crypto.IVSize:]
	err := filepath.Walk(f.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.Contains(raw, needle) {
			t.Errorf("master ciphertext survives in %s", path)
		}
		return nil
	})
	require.NoError(t, err)

	data, err := f.catalog.GetIndexRecord(storage.ScopeMaster)
	require.NoError(t, err)
	assert.Nil(t, data, "master index record must be gone")

	auditFiles, err := os.ReadDir(filepath.Join(f.dir, audit.Dir))
	if err == nil {
		assert.Empty(t, auditFiles, "audit containers must be gone")
	}
}

func (f *fixture) assertDecoySurvives(t *testing.T) {
	t.Helper()

	decoy, err := storage.OpenStore(f.dir, f.catalog, storage.ScopeDecoy, crypto.NewEncryptor(f.decoyKey))
	require.NoError(t, err, "decoy scope must still open after destruction")
	defer decoy.Close()

	got, err := decoy.Retrieve(f.decoyHandle)
	require.NoError(t, err)
	assert.Equal(t, []byte("harmless cover data"), got)
}

func TestExecuteDestroysMasterAndSparesDecoy(t *testing.T) {
	f := newFixture(t)
	exec := New(f.dir, f.catalog)
	require.Equal(t, StateArmed, exec.State())

	err := exec.Execute(Trigger{Reason: "panic password entered", Source: escalate.SourcePersonaMatch})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, exec.State())

	f.assertMasterGone(t)
	f.assertDecoySurvives(t)

	// Marker must not linger after a completed sequence.
	_, err = os.Stat(filepath.Join(f.dir, MarkerName))
	assert.True(t, os.IsNotExist(err))
}

func TestExecuteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	exec := New(f.dir, f.catalog)

	require.NoError(t, exec.Execute(Trigger{Reason: "first", Source: escalate.SourceOperatorAction}))
	require.NoError(t, exec.Execute(Trigger{Reason: "second", Source: escalate.SourceOperatorAction}))

	assert.Equal(t, StateComplete, exec.State())
	f.assertDecoySurvives(t)
}

func TestResumeFinishesInterruptedDestruction(t *testing.T) {
	f := newFixture(t)

	// Simulate a crash after the marker was written but before any wiping.
	marker := `{"reason":"panic password entered","source":"explicit-persona-match"}`
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, MarkerName), []byte(marker), 0600))

	exec := New(f.dir, f.catalog)
	trigger, err := exec.ResumeIfNeeded()
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, "panic password entered", trigger.Reason)
	assert.Equal(t, escalate.SourcePersonaMatch, trigger.Source)
	assert.Equal(t, StateComplete, exec.State())

	f.assertMasterGone(t)
	f.assertDecoySurvives(t)
}

func TestResumeWithCorruptMarkerStillDestroys(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, MarkerName), []byte("not json"), 0600))

	exec := New(f.dir, f.catalog)
	trigger, err := exec.ResumeIfNeeded()
	require.NoError(t, err)
	require.NotNil(t, trigger)

	f.assertMasterGone(t)
}

func TestResumeOnCleanVault(t *testing.T) {
	f := newFixture(t)
	exec := New(f.dir, f.catalog)

	trigger, err := exec.ResumeIfNeeded()
	require.NoError(t, err)
	assert.Nil(t, trigger)
	assert.Equal(t, StateArmed, exec.State())

	// Nothing was touched.
	data, err := f.catalog.GetIndexRecord(storage.ScopeMaster)
	require.NoError(t, err)
	assert.NotNil(t, data)
}
