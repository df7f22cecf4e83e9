package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// getCmd prints a server's plaintext password to stdout, for piping
// into other tools.
var getCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Print a server's password to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		blob, err := reg.Credential(name)
		if err != nil {
			return err
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}

		password, err := keys.DecryptPassword(blob, name)
		if err != nil {
			return err
		}

		os.Stdout.WriteString(password)
		fmt.Println()
		return nil
	},
}
