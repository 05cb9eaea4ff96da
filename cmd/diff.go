package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/arenvik/deadbolt/internal/crypto"
	"github.com/arenvik/deadbolt/internal/diff"
)

// Diff compares a stored record against a local file and prints a
// unified diff. Binary content gets a one-line notice.
func Diff(ctx context.Context, id, path string) {
	if err := ctx.Err(); err != nil {
		HandleError(err)
	}

	localData, err := os.ReadFile(path)
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(localData)

	v := OpenVault()
	defer v.Close()

	session := OpenSession(v)
	defer session.Close()

	handle, ok := session.Lookup(id)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: no such record\n")
		os.Exit(1)
	}

	vaultData, err := session.Retrieve(ctx, handle)
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(vaultData)

	out, err := diff.Unified(path, vaultData, localData)
	if err != nil {
		HandleError(err)
	}

	if out == "" {
		fmt.Println("No changes detected")
		return
	}
	fmt.Print(out)
}
