package cmd

import (
	"fmt"

	"github.com/arenvik/deadbolt/internal/crypto"
	"github.com/arenvik/deadbolt/internal/vault"
)

// Init creates a new vault with three persona passwords.
func Init() {
	v, err := vault.New(VaultRoot())
	if err != nil {
		HandleError(err)
	}
	defer v.Close()

	fmt.Println("Choose three distinct passwords.")
	fmt.Println("The master password opens your real records. The panic password")
	fmt.Println("irreversibly destroys them. The decoy password opens a separate,")
	fmt.Println("harmless set of records.")
	fmt.Println()

	master, err := vault.ReadPasswordConfirm("Master password: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(master)

	panicPw, err := vault.ReadPasswordConfirm("Panic password: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(panicPw)

	decoy, err := vault.ReadPasswordConfirm("Decoy password: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(decoy)

	if err := v.Init(master, panicPw, decoy); err != nil {
		HandleError(err)
	}

	fmt.Printf("Vault created at %s\n", VaultRoot())
	fmt.Println("The passwords are not stored anywhere - you must remember them.")
}
