package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/arenvik/deadbolt/internal/crypto"
)

// Get decrypts a record and writes it to a file or stdout.
func Get(ctx context.Context, id, out string) {
	if err := ctx.Err(); err != nil {
		HandleError(err)
	}

	v := OpenVault()
	defer v.Close()

	session := OpenSession(v)
	defer session.Close()

	handle, ok := session.Lookup(id)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: no such record\n")
		os.Exit(1)
	}

	data, err := session.Retrieve(ctx, handle)
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(data)

	if out == "" {
		os.Stdout.Write(data)
		return
	}

	if err := os.WriteFile(out, data, 0600); err != nil {
		HandleError(err)
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(data), out)
}
