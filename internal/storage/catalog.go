package storage

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Scope separates the two record namespaces. The master scope holds the
// real contents and is what the destruction sequence wipes; the decoy
// scope survives so the vault still opens under the cover password.
type Scope string

const (
	ScopeMaster Scope = "master"
	ScopeDecoy  Scope = "decoy"
)

// Bucket names
var (
	ConfigBucket    = []byte("config")    // format version, timestamps, vault id, attempt counter
	VerifiersBucket = []byte("verifiers") // persona verifier bundle (salts + derived values)
	PrivateBucket   = []byte("private")   // encrypted per-scope index records
)

// Config keys
var (
	ConfigVersion  = []byte("version")
	ConfigCreated  = []byte("created")
	ConfigModified = []byte("modified")
	ConfigVaultID  = []byte("vault_id")
	ConfigAttempts = []byte("failed_attempts")
)

var verifierBundleKey = []byte("bundle")

// Catalog is the bbolt-backed control store: verifier bundle, vault
// identity, the failed-attempt counter and the encrypted index records.
// Record ciphertext itself lives in flat files so it can be overwritten
// in place during secure deletion.
type Catalog struct {
	db *bolt.DB
}

// OpenCatalog opens or creates the catalog database.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close closes the catalog.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Path returns the filesystem path of the catalog database.
func (c *Catalog) Path() string {
	return c.db.Path()
}

// Initialize creates the bucket structure for a new vault.
func (c *Catalog) Initialize() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, VerifiersBucket, PrivateBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if err := config.Put(ConfigVersion, []byte("1")); err != nil {
			return err
		}

		now := time.Now()
		created, _ := now.MarshalBinary()
		if err := config.Put(ConfigCreated, created); err != nil {
			return err
		}
		return config.Put(ConfigModified, created)
	})
}

// IsInitialized checks whether the catalog has been initialized.
func (c *Catalog) IsInitialized() (bool, error) {
	var initialized bool
	err := c.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config != nil && config.Get(ConfigVersion) != nil {
			initialized = true
		}
		return nil
	})
	return initialized, err
}

// SetVerifierBundle stores the serialized persona verifier bundle.
// Verifiers hold salts and derived values only; never plaintext.
func (c *Catalog) SetVerifierBundle(data []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		verifiers := tx.Bucket(VerifiersBucket)
		if verifiers == nil {
			return fmt.Errorf("verifiers bucket not found")
		}
		return verifiers.Put(verifierBundleKey, data)
	})
}

// GetVerifierBundle retrieves the serialized persona verifier bundle.
func (c *Catalog) GetVerifierBundle() ([]byte, error) {
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		verifiers := tx.Bucket(VerifiersBucket)
		if verifiers == nil {
			return fmt.Errorf("verifiers bucket not found")
		}
		data = verifiers.Get(verifierBundleKey)
		if data == nil {
			return fmt.Errorf("verifier bundle not found")
		}
		// Copy: the slice is only valid during the transaction.
		data = append([]byte(nil), data...)
		return nil
	})
	return data, err
}

// FailedAttempts returns the persisted invalid-classification counter.
// A vault restart must not reset progress toward the duress threshold.
func (c *Catalog) FailedAttempts() (uint32, error) {
	var count uint32
	err := c.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		raw := config.Get(ConfigAttempts)
		if raw == nil {
			return nil
		}
		if len(raw) != 4 {
			return fmt.Errorf("corrupt attempt counter")
		}
		count = binary.BigEndian.Uint32(raw)
		return nil
	})
	return count, err
}

// SetFailedAttempts stores the invalid-classification counter.
func (c *Catalog) SetFailedAttempts(count uint32) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		raw := make([]byte, 4)
		binary.BigEndian.PutUint32(raw, count)
		return config.Put(ConfigAttempts, raw)
	})
}

// UpdateModified updates the last modified timestamp.
func (c *Catalog) UpdateModified() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		now := time.Now()
		modified, _ := now.MarshalBinary()
		return config.Put(ConfigModified, modified)
	})
}

// GetModified retrieves the last modified timestamp.
func (c *Catalog) GetModified() (time.Time, error) {
	var modified time.Time
	err := c.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		data := config.Get(ConfigModified)
		if data == nil {
			return fmt.Errorf("modified time not found")
		}
		return modified.UnmarshalBinary(data)
	})
	return modified, err
}

// GetVaultID retrieves the vault ID.
func (c *Catalog) GetVaultID() (string, error) {
	var vaultID string
	err := c.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		data := config.Get(ConfigVaultID)
		if data == nil {
			return fmt.Errorf("vault_id not found")
		}
		vaultID = string(data)
		return nil
	})
	return vaultID, err
}

// GetOrCreateVaultID retrieves the existing vault ID or generates one.
func (c *Catalog) GetOrCreateVaultID() (string, error) {
	vaultID, err := c.GetVaultID()
	if err == nil {
		return vaultID, nil
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate vault ID: %w", err)
	}
	vaultID = hex.EncodeToString(b)

	err = c.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		return config.Put(ConfigVaultID, []byte(vaultID))
	})
	if err != nil {
		return "", err
	}

	return vaultID, nil
}

func indexKey(scope Scope) []byte {
	return []byte("index:" + string(scope))
}

func wrappedKeyKey(name string) []byte {
	return []byte("key:" + name)
}

// SetWrappedKey stores an encrypted (wrapped) scope key under a persona
// name. The value is ciphertext; the catalog never sees raw key material.
func (c *Catalog) SetWrappedKey(name string, wrapped []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		private := tx.Bucket(PrivateBucket)
		if private == nil {
			return fmt.Errorf("private bucket not found")
		}
		return private.Put(wrappedKeyKey(name), wrapped)
	})
}

// GetWrappedKey retrieves a wrapped scope key. Returns nil data without
// error when no key is stored under the name.
func (c *Catalog) GetWrappedKey(name string) ([]byte, error) {
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		private := tx.Bucket(PrivateBucket)
		if private == nil {
			return fmt.Errorf("private bucket not found")
		}
		if raw := private.Get(wrappedKeyKey(name)); raw != nil {
			data = append([]byte(nil), raw...)
		}
		return nil
	})
	return data, err
}

// WipeWrappedKey overwrites a wrapped scope key with random bytes before
// deleting it, like WipeIndexRecord. Compact must follow.
func (c *Catalog) WipeWrappedKey(name string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		private := tx.Bucket(PrivateBucket)
		if private == nil {
			return nil
		}
		key := wrappedKeyKey(name)
		existing := private.Get(key)
		if existing == nil {
			return nil
		}
		junk := make([]byte, len(existing))
		if _, err := rand.Read(junk); err != nil {
			return fmt.Errorf("failed to generate wipe bytes: %w", err)
		}
		if err := private.Put(key, junk); err != nil {
			return err
		}
		return private.Delete(key)
	})
}

// PutIndexRecord stores the encrypted index record for a scope. bbolt
// commits are transactional, so the whole-index flush is never observable
// half-written.
func (c *Catalog) PutIndexRecord(scope Scope, encrypted []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		private := tx.Bucket(PrivateBucket)
		if private == nil {
			return fmt.Errorf("private bucket not found")
		}
		return private.Put(indexKey(scope), encrypted)
	})
}

// GetIndexRecord retrieves the encrypted index record for a scope.
// Returns nil data without error when no index exists yet.
func (c *Catalog) GetIndexRecord(scope Scope) ([]byte, error) {
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		private := tx.Bucket(PrivateBucket)
		if private == nil {
			return fmt.Errorf("private bucket not found")
		}
		if raw := private.Get(indexKey(scope)); raw != nil {
			data = append([]byte(nil), raw...)
		}
		return nil
	})
	return data, err
}

// WipeIndexRecord overwrites the stored index record with random bytes of
// the same length before deleting it. Compact must follow to purge stale
// pages from the database file.
func (c *Catalog) WipeIndexRecord(scope Scope) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		private := tx.Bucket(PrivateBucket)
		if private == nil {
			return nil
		}
		key := indexKey(scope)
		existing := private.Get(key)
		if existing == nil {
			return nil
		}
		junk := make([]byte, len(existing))
		if _, err := rand.Read(junk); err != nil {
			return fmt.Errorf("failed to generate wipe bytes: %w", err)
		}
		if err := private.Put(key, junk); err != nil {
			return err
		}
		return private.Delete(key)
	})
}

// Compact creates a compacted copy of the catalog, dropping unused pages.
// Required after WipeIndexRecord so stale ciphertext does not survive in
// free pages.
func (c *Catalog) Compact() error {
	srcPath := c.db.Path()
	tmpPath := srcPath + ".compact"

	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact catalog: %w", err)
	}

	err = c.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy catalog data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact catalog: %w", err)
	}

	if err := c.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source catalog: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	os.Remove(backupPath)

	c.db, err = bolt.Open(srcPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to reopen catalog: %w", err)
	}

	return nil
}
