package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mpontes/rdcred/pkg/crypto"
	"github.com/mpontes/rdcred/pkg/keymgr"
	"github.com/mpontes/rdcred/pkg/security"
)

// masterCmd is the parent command for master password operations.
var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Master password operations",
}

func init() {
	masterCmd.AddCommand(masterSetCmd)
	masterCmd.AddCommand(masterChangeCmd)
	masterCmd.AddCommand(masterRemoveCmd)
	masterCmd.AddCommand(masterStatusCmd)
}

// promptNewPassword reads a new password twice and checks the copies
// match. The caller wipes the returned slice.
func promptNewPassword() ([]byte, error) {
	password1, err := readPassword("Enter new master password: ")
	if err != nil {
		return nil, err
	}
	password2, err := readPassword("Confirm new master password: ")
	if err != nil {
		crypto.SecureWipe(password1)
		return nil, err
	}
	defer crypto.SecureWipe(password2)

	if string(password1) != string(password2) {
		crypto.SecureWipe(password1)
		return nil, errors.New("passwords do not match")
	}
	if len(password1) == 0 {
		crypto.SecureWipe(password1)
		return nil, errors.New("password must not be empty")
	}
	if strength := security.CheckPassword(string(password1)); strength == security.StrengthWeak {
		fmt.Fprintf(os.Stderr, "warning: weak master password (%d characters, 8+ recommended)\n", len(password1))
	}
	return password1, nil
}

// masterSetCmd configures the master password for the first time.
var masterSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set a master password and re-encrypt all stored credentials",
	Long: `Set a master password. Every stored credential is re-encrypted under
a key derived from the new password; afterwards the password is
required once per session to access credentials.

The migration is atomic: on any failure nothing is changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if keys.State() != keymgr.UnlockedDefault {
			return errors.New("a master password is already configured (use 'master change')")
		}

		password, err := promptNewPassword()
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)

		if err := keys.SetMasterPassword(string(password)); err != nil {
			return err
		}
		fmt.Println("Master password set; all credentials re-encrypted")
		return nil
	},
}

// masterChangeCmd rotates the master password.
var masterChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the master password and re-encrypt all stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		oldPassword, err := readPassword("Enter current master password: ")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(oldPassword)

		newPassword, err := promptNewPassword()
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(newPassword)

		err = keys.ChangeMasterPassword(string(oldPassword), string(newPassword))
		if err != nil {
			if errors.Is(err, keymgr.ErrWrongPassword) {
				return errors.New("wrong master password")
			}
			if errors.Is(err, keymgr.ErrNoMasterPassword) {
				return errors.New("no master password configured (use 'master set')")
			}
			return err
		}
		fmt.Println("Master password changed; all credentials re-encrypted")
		return nil
	},
}

// masterRemoveCmd removes the master password.
var masterRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the master password, returning to the machine-bound key",
	Long: `Remove the master password. Every credential is re-encrypted under
the machine-bound default key: convenient, but anyone with access to
this user account can decrypt them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if keys.State() == keymgr.UnlockedDefault {
			fmt.Println("No master password configured")
			return nil
		}

		if !confirm("Credentials will be protected only by the machine-bound key. Continue?") {
			fmt.Println("Aborted")
			return nil
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}
		if err := keys.RemoveMasterPassword(); err != nil {
			return err
		}
		fmt.Println("Master password removed; credentials re-encrypted under the default key")
		return nil
	},
}

// masterStatusCmd reports the vault state.
var masterStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the credential vault state",
	RunE: func(cmd *cobra.Command, args []string) error {
		state := keys.State()
		fmt.Printf("State: %s\n", state)

		names, err := reg.Names()
		if err != nil {
			return err
		}
		servers, err := reg.List()
		if err != nil {
			return err
		}
		fmt.Printf("Servers: %d (%d with stored credentials)\n", len(servers), len(names))

		if state == keymgr.UnlockedDefault {
			fmt.Println("Hint: set a master password with 'rdcred master set'")
		}
		return nil
	},
}
