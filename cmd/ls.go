package cmd

import (
	"fmt"
	"time"
)

// List shows the records visible to the authenticated persona.
func List() {
	v := OpenVault()
	defer v.Close()

	session := OpenSession(v)
	defer session.Close()

	entries := session.Entries()
	if len(entries) == 0 {
		fmt.Println("No records")
		return
	}

	for _, e := range entries {
		fmt.Printf("  %s  %8d  %s  %s\n", e.ID, e.Size, e.Created.Format(time.RFC3339), e.Tag)
	}
	fmt.Printf("\n%d record(s)\n", len(entries))
}
