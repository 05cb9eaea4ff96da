package storage

import (
	"crypto/rand"
	"fmt"
	"os"
)

// WipePasses is the number of randomized overwrite passes performed
// before a file is unlinked.
const WipePasses = 3

// overwriteFile writes WipePasses full passes of random bytes over an
// open file, syncing after each pass so the writes reach the device
// before the unlink.
func overwriteFile(f *os.File, size int64) error {
	if size == 0 {
		return nil
	}

	buf := make([]byte, size)
	for pass := 0; pass < WipePasses; pass++ {
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("failed to generate wipe bytes: %w", err)
		}
		if _, err := f.WriteAt(buf, 0); err != nil {
			return fmt.Errorf("wipe pass %d failed: %w", pass+1, err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("wipe sync failed: %w", err)
		}
	}
	return nil
}

// SecureWipe overwrites the file at path with random passes and removes
// it. A missing file is not an error; the wipe is idempotent.
func SecureWipe(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open %s for wiping: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := overwriteFile(f, info.Size()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
