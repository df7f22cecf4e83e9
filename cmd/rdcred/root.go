package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mpontes/rdcred/pkg/audit"
	"github.com/mpontes/rdcred/pkg/config"
	"github.com/mpontes/rdcred/pkg/crypto"
	"github.com/mpontes/rdcred/pkg/keymgr"
	"github.com/mpontes/rdcred/pkg/keystore"
	"github.com/mpontes/rdcred/pkg/registry"
)

var (
	dirFlag string

	cfg      *config.Config
	reg      *registry.Registry
	keys     *keymgr.Manager
	auditLog *audit.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rdcred",
	Short: "rdcred manages remote desktop servers and their encrypted credentials",
	Long: `A remote desktop connection manager with encrypted credential storage.

Passwords are encrypted at rest with AES-256-GCM under a key derived
from a master password, or from a machine-bound default key when no
master password is configured.`,
	SilenceUsage: true,
	// PersistentPreRunE runs before every subcommand and wires up the
	// configuration, server registry and key manager.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir := dirFlag
		if dir == "" {
			var err error
			dir, err = config.DefaultDir()
			if err != nil {
				return err
			}
		}

		var err error
		cfg, err = config.Load(dir)
		if err != nil {
			return err
		}

		reg, err = registry.Open(cfg.Dir)
		if err != nil {
			return err
		}

		var opts []keymgr.Option
		if cfg.StrictContext {
			opts = append(opts, keymgr.WithStrictContext())
		}
		if cfg.Audit {
			auditLog = audit.NewLogger(filepath.Join(cfg.Dir, "audit"))
			opts = append(opts, keymgr.WithAudit(auditLog))
		}

		keys = keymgr.New(keystore.New(cfg.Dir), reg, opts...)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if reg != nil {
			return reg.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "Data directory (default: ~/.rdcred, or $RDCRED_DIR)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(masterCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(securityCmd)
}

// ensureUnlocked prompts for the master password while the vault is
// locked.
func ensureUnlocked() error {
	if keys.IsUnlocked() {
		return nil
	}

	password, err := readPassword("Enter master password: ")
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(password)

	if err := keys.Unlock(string(password)); err != nil {
		if errors.Is(err, keymgr.ErrWrongPassword) {
			return fmt.Errorf("wrong master password")
		}
		return err
	}
	return nil
}

// readPassword reads a password without echo. Falls back to a plain
// line read when stdin is not a terminal (piped input, tests).
func readPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		return password, nil
	}
	line, err := readLine()
	if err != nil {
		return nil, err
	}
	return []byte(line), nil
}

// readLine reads a single line from stdin, trimming the trailing
// newline.
func readLine() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

// confirm asks a yes/no question, defaulting to no.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false
	}
	return response == "y" || response == "Y"
}
