package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/arenvik/deadbolt/internal/crypto"
)

func newTestStore(t *testing.T) (*Store, *Catalog, string, []byte) {
	t.Helper()
	dir := t.TempDir()

	catalog, err := OpenCatalog(filepath.Join(dir, "deadbolt.db"))
	if err != nil {
		t.Fatalf("OpenCatalog failed: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })

	if err := catalog.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	key, err := crypto.GenerateRandom(crypto.KeySize)
	if err != nil {
		t.Fatalf("GenerateRandom failed: %v", err)
	}
	keyCopy := append([]byte(nil), key...)

	store, err := OpenStore(dir, catalog, ScopeMaster, crypto.NewEncryptor(key))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store, catalog, dir, keyCopy
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	store, _, _, _ := newTestStore(t)

	content := []byte("the real payload")
	handle, err := store.Store(content, "passport-scan")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if handle.ID == "" {
		t.Fatal("Handle has empty ID")
	}
	if handle.Size != int64(len(content)) {
		t.Errorf("Handle size %d, want %d", handle.Size, len(content))
	}
	if handle.Fingerprint != crypto.Fingerprint(content) {
		t.Error("Handle fingerprint does not match content")
	}

	got, err := store.Retrieve(handle)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("Retrieved content differs from stored content")
	}
}

func TestRecordFileNeverContainsPlaintextOrTag(t *testing.T) {
	store, _, dir, _ := newTestStore(t)

	content := []byte("super secret document body")
	tag := "very-identifying-tag-name"
	handle, err := store.Store(content, tag)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Neither the record file nor the catalog may contain the plaintext
	// or the caller's tag.
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.Contains(raw, content) {
			t.Errorf("plaintext found on disk in %s", path)
		}
		if bytes.Contains(raw, []byte(tag)) {
			t.Errorf("tag found on disk in %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}

	// Record file is named by the opaque id only.
	if _, err := os.Stat(filepath.Join(ScopeDir(dir, ScopeMaster), handle.ID)); err != nil {
		t.Errorf("record file missing: %v", err)
	}
}

func TestRetrieveWrongKeyFailsClosed(t *testing.T) {
	store, catalog, dir, _ := newTestStore(t)

	handle, err := store.Store([]byte("content"), "t")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	store.Close()

	wrongKey, _ := crypto.GenerateRandom(crypto.KeySize)
	_, err = OpenStore(dir, catalog, ScopeMaster, crypto.NewEncryptor(wrongKey))
	// The index itself cannot decrypt under the wrong key.
	if err == nil {
		t.Fatal("OpenStore with wrong key should fail to decrypt the index")
	}

	// A store holding the wrong key but a fresh index cannot decrypt the
	// record either.
	fresh, err := OpenStore(dir, catalog, ScopeDecoy, crypto.NewEncryptor(wrongKey))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer fresh.Close()
	if _, err := fresh.Retrieve(handle); err == nil {
		t.Fatal("Retrieve from foreign scope must fail")
	}
}

func TestRetrieveTamperedRecord(t *testing.T) {
	store, _, dir, _ := newTestStore(t)

	handle, err := store.Store([]byte("content"), "t")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Flip ciphertext bits on disk: authenticated decryption must fail,
	// never return altered data as success.
	p := filepath.Join(ScopeDir(dir, ScopeMaster), handle.ID)
	raw, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF
	if err := os.WriteFile(p, raw, 0600); err != nil {
		t.Fatalf("write record: %v", err)
	}

	if _, err := store.Retrieve(handle); !errors.Is(err, crypto.ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed, got %v", err)
	}
}

func TestRetrieveFingerprintMismatchIsIntegrityError(t *testing.T) {
	store, _, _, _ := newTestStore(t)

	handle, err := store.Store([]byte("content"), "t")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Corrupt the stored fingerprint: decryption succeeds, integrity
	// verification must fail with a distinct error.
	store.index.Find(handle.ID).Fingerprint = crypto.Fingerprint([]byte("other"))

	if _, err := store.Retrieve(handle); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Expected ErrIntegrity, got %v", err)
	}
}

func TestSecureDelete(t *testing.T) {
	store, _, dir, _ := newTestStore(t)

	handle, err := store.Store([]byte("to be destroyed"), "doomed")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	recordFile := filepath.Join(ScopeDir(dir, ScopeMaster), handle.ID)
	ciphertext, err := os.ReadFile(recordFile)
	if err != nil {
		t.Fatalf("read record before delete: %v", err)
	}

	if err := store.SecureDelete(handle); err != nil {
		t.Fatalf("SecureDelete failed: %v", err)
	}

	if _, err := store.Retrieve(handle); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if _, err := os.Stat(recordFile); !os.IsNotExist(err) {
		t.Error("record file still present after secure delete")
	}

	// Direct byte inspection: no surviving file may contain the deleted
	// record's ciphertext. Index absence alone is not enough.
	needle := ciphertext[1+crypto.IVSize:] // ciphertext body, past version+IV
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.Contains(raw, needle) {
			t.Errorf("deleted ciphertext survives in %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
}

func TestSecureDeleteUnknownHandle(t *testing.T) {
	store, _, _, _ := newTestStore(t)

	err := store.SecureDelete(Handle{ID: "b8f4f9a0-0000-0000-0000-000000000000"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestIndexSurvivesReopen(t *testing.T) {
	store, catalog, dir, key := newTestStore(t)

	h1, err := store.Store([]byte("one"), "first")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := store.Store([]byte("two"), "second"); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	store.Close()

	reopened, err := OpenStore(dir, catalog, ScopeMaster, crypto.NewEncryptor(key))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	entries := reopened.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries after reopen, got %d", len(entries))
	}
	if entries[0].Tag != "first" || entries[1].Tag != "second" {
		t.Error("tags not preserved in append order")
	}

	got, err := reopened.Retrieve(h1)
	if err != nil {
		t.Fatalf("Retrieve after reopen failed: %v", err)
	}
	if string(got) != "one" {
		t.Errorf("Expected %q, got %q", "one", got)
	}
}

func TestScopesAreIsolated(t *testing.T) {
	store, catalog, dir, _ := newTestStore(t)

	handle, err := store.Store([]byte("master only"), "t")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	decoyKey, _ := crypto.GenerateRandom(crypto.KeySize)
	decoy, err := OpenStore(dir, catalog, ScopeDecoy, crypto.NewEncryptor(decoyKey))
	if err != nil {
		t.Fatalf("OpenStore decoy failed: %v", err)
	}
	defer decoy.Close()

	if len(decoy.Entries()) != 0 {
		t.Error("decoy scope sees master entries")
	}
	if _, err := decoy.Retrieve(handle); err == nil {
		t.Error("decoy scope can retrieve a master record")
	}
}
