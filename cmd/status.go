package cmd

import (
	"fmt"
	"time"
)

// Status shows the vault state. Requires no password; only what is
// knowable without key material is printed.
func Status() {
	v := OpenVault()
	defer v.Close()

	status, err := v.Status()
	if err != nil {
		HandleError(err)
	}

	if !status.Initialized {
		fmt.Println("Vault: not initialized")
		fmt.Println("Run 'deadbolt init' to set it up")
		return
	}

	fmt.Println("Vault: initialized")
	if status.VaultID != "" {
		fmt.Printf("Vault ID: %s\n", status.VaultID)
	}
	if !status.Modified.IsZero() {
		fmt.Printf("Last modified: %s\n", status.Modified.Format(time.RFC3339))
	}
	fmt.Printf("Failed attempts: %d\n", status.FailedAttempts)
	fmt.Printf("Health: %d/100\n", status.Health.HealthScore)

	if status.Destroyed {
		fmt.Println("Master contents: destroyed")
	}
}
