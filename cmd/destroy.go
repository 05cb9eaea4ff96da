package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Destroy fires the destruction sequence on explicit operator request.
// Irreversible; the confirmation phrase must be typed in full unless
// -force is given.
func Destroy(force bool) {
	v := OpenVault()
	defer v.Close()

	if !force {
		fmt.Println("This permanently destroys the master contents of the vault.")
		fmt.Println("The decoy records and persona setup remain.")
		fmt.Print("Type 'destroy' to confirm: ")

		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			HandleError(err)
		}
		if strings.TrimSpace(line) != "destroy" {
			fmt.Println("Aborted")
			return
		}
	}

	if err := v.Destroy("operator requested destruction"); err != nil {
		HandleError(err)
	}
	fmt.Println("Master contents destroyed")
}
