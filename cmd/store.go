package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arenvik/deadbolt/internal/crypto"
)

// Store encrypts a local file into the vault. The tag defaults to the
// file's base name and lives only inside the encrypted index.
func Store(ctx context.Context, path, tag string) {
	if err := ctx.Err(); err != nil {
		HandleError(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(data)

	if tag == "" {
		tag = filepath.Base(path)
	}

	v := OpenVault()
	defer v.Close()

	session := OpenSession(v)
	defer session.Close()

	handle, err := session.Store(ctx, data, tag)
	if err != nil {
		HandleError(err)
	}

	fmt.Printf("Stored %s (%d bytes)\n", tag, handle.Size)
	fmt.Printf("Record ID: %s\n", handle.ID)
}
