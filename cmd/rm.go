package cmd

import (
	"context"
	"fmt"
	"os"
)

// Remove secure-deletes a record: its ciphertext is overwritten on disk
// before the file is unlinked.
func Remove(ctx context.Context, id string) {
	v := OpenVault()
	defer v.Close()

	session := OpenSession(v)
	defer session.Close()

	handle, ok := session.Lookup(id)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: no such record\n")
		os.Exit(1)
	}

	if err := session.SecureDelete(ctx, handle); err != nil {
		HandleError(err)
	}
	fmt.Printf("Wiped record %s\n", id)
}
