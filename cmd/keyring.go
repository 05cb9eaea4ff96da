package cmd

import (
	"fmt"
	"os"

	"github.com/arenvik/deadbolt/internal/crypto"
	"github.com/arenvik/deadbolt/internal/keyring"
	"github.com/arenvik/deadbolt/internal/vault"
)

// KeyringSave stores a vault password in the OS keyring after verifying
// it. The password goes through normal classification first, so a panic
// password entered here behaves exactly like a panic password anywhere.
func KeyringSave() {
	v := OpenVault()
	defer v.Close()

	password, err := vault.ReadPassword("Enter password: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(password)

	session, err := v.Open(password)
	if err != nil {
		HandleError(err)
	}
	session.Close()

	status, err := v.Status()
	if err != nil {
		HandleError(err)
	}
	if status.VaultID == "" {
		fmt.Fprintf(os.Stderr, "Error: vault has no ID\n")
		os.Exit(1)
	}

	if err := keyring.SavePassword(status.VaultID, string(password)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to save to keyring: %s\n", err)
		os.Exit(1)
	}
	fmt.Println("Password saved to keyring")
}

// KeyringDelete removes the stored password from the OS keyring.
func KeyringDelete() {
	v := OpenVault()
	defer v.Close()

	status, err := v.Status()
	if err != nil || status.VaultID == "" {
		fmt.Println("No password stored in keyring")
		return
	}

	if err := keyring.DeletePassword(status.VaultID); err != nil {
		fmt.Println("No password stored in keyring")
		return
	}
	fmt.Println("Password removed from keyring")
}

// KeyringStatus reports whether a password is stored for this vault.
func KeyringStatus() {
	v := OpenVault()
	defer v.Close()

	status, err := v.Status()
	if err != nil || status.VaultID == "" {
		fmt.Println("Password: not stored")
		return
	}

	if keyring.HasPassword(status.VaultID) {
		fmt.Println("Password: stored in keyring")
	} else {
		fmt.Println("Password: not stored")
	}
}
