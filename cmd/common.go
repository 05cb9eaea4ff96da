package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/arenvik/deadbolt/internal/auth"
	"github.com/arenvik/deadbolt/internal/crypto"
	"github.com/arenvik/deadbolt/internal/storage"
	"github.com/arenvik/deadbolt/internal/vault"
)

// VaultRootEnv overrides the default vault location.
const VaultRootEnv = "DEADBOLT_VAULT"

// DefaultVaultRoot is the vault directory created in the current
// working directory when no override is set.
const DefaultVaultRoot = ".deadbolt"

// VaultRoot returns the vault directory to operate on.
func VaultRoot() string {
	if root := os.Getenv(VaultRootEnv); root != "" {
		return root
	}
	return DefaultVaultRoot
}

// OpenVault opens the vault or exits with a consistent error message.
func OpenVault() *vault.Vault {
	v, err := vault.New(VaultRoot())
	if err != nil {
		HandleError(err)
	}
	if trigger := v.Resumed(); trigger != nil {
		fmt.Fprintf(os.Stderr, "Finished interrupted destruction (%s)\n", trigger.Reason)
	}
	return v
}

// OpenSession authenticates and returns a working session. The caller
// must Close it. Exits on any failure.
func OpenSession(v *vault.Vault) *vault.Session {
	password, err := vault.GetPassword("Enter password: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(password)

	session, err := v.Open(password)
	if err != nil {
		HandleError(err)
	}
	return session
}

// HandleError prints a consistent error message and exits.
func HandleError(err error) {
	switch {
	case errors.Is(err, auth.ErrNotInitialized):
		fmt.Fprintf(os.Stderr, "Error: vault not initialized\n")
		fmt.Fprintf(os.Stderr, "Run 'deadbolt init' first\n")
	case errors.Is(err, auth.ErrAlreadyInitialized):
		fmt.Fprintf(os.Stderr, "Error: vault already initialized\n")
		fmt.Fprintf(os.Stderr, "Use 'deadbolt status' to see current state\n")
	case errors.Is(err, auth.ErrSetup):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	case errors.Is(err, vault.ErrAccessDenied):
		fmt.Fprintf(os.Stderr, "Error: access denied\n")
	case errors.Is(err, storage.ErrNotFound):
		fmt.Fprintf(os.Stderr, "Error: no such record\n")
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(1)
}
