package cmd

import (
	"fmt"
)

// Compact rewrites the catalog database to reclaim unused disk space.
// Runs automatically after destruction; manual use needs no password.
func Compact() {
	v := OpenVault()
	defer v.Close()

	if err := v.Compact(); err != nil {
		HandleError(err)
	}
	fmt.Println("Catalog compacted")
}
