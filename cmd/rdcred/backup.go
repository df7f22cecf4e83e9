package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mpontes/rdcred/pkg/backup"
	"github.com/mpontes/rdcred/pkg/crypto"
)

// Flags for backup commands
var (
	backupKeyFile    string
	backupWithAudit  bool
	restoreTarget    string
	restoreOverwrite bool
)

// backupCmd is the parent command for backup operations.
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Encrypted backup and restore of the data directory",
}

func init() {
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupVerifyCmd)
	backupCmd.AddCommand(backupKeygenCmd)

	backupCmd.PersistentFlags().StringVar(&backupKeyFile, "key-file", "", "Encrypt or decrypt with a 32-byte key file instead of a passphrase")

	backupCreateCmd.Flags().BoolVar(&backupWithAudit, "with-audit", false, "Include audit logs in the backup")
	backupRestoreCmd.Flags().BoolVar(&backupWithAudit, "with-audit", false, "Restore audit logs from the backup")
	backupRestoreCmd.Flags().StringVar(&restoreTarget, "target", "", "Target data directory (default: the active data directory)")
	backupRestoreCmd.Flags().BoolVar(&restoreOverwrite, "overwrite", false, "Replace an existing data directory")

	rootCmd.AddCommand(backupCmd)
}

// backupPassword resolves the encryption secret for backup commands,
// prompting twice on create.
func backupPassword(confirmNew bool) ([]byte, error) {
	if backupKeyFile != "" {
		return nil, nil
	}

	password, err := readPassword("Enter backup passphrase: ")
	if err != nil {
		return nil, err
	}
	if len(password) == 0 {
		crypto.SecureWipe(password)
		return nil, errors.New("passphrase must not be empty")
	}
	if !confirmNew {
		return password, nil
	}

	again, err := readPassword("Confirm backup passphrase: ")
	if err != nil {
		crypto.SecureWipe(password)
		return nil, err
	}
	defer crypto.SecureWipe(again)
	if string(password) != string(again) {
		crypto.SecureWipe(password)
		return nil, errors.New("passphrases do not match")
	}
	return password, nil
}

// backupCreateCmd writes an encrypted backup file.
var backupCreateCmd = &cobra.Command{
	Use:   "create [file]",
	Short: "Write an encrypted backup of the data directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, err := reg.List()
		if err != nil {
			return err
		}

		password, err := backupPassword(true)
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)

		f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create backup file: %w", err)
		}

		err = backup.Backup(cfg.Dir, backup.Options{
			Output:       f,
			IncludeAudit: backupWithAudit,
			ServerCount:  len(servers),
			Password:     password,
			KeyFile:      backupKeyFile,
		})
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(args[0])
			return err
		}

		fmt.Printf("Backup written to %s (%d servers)\n", args[0], len(servers))
		return nil
	},
}

// backupRestoreCmd restores a data directory from a backup file.
var backupRestoreCmd = &cobra.Command{
	Use:   "restore [file]",
	Short: "Restore the data directory from an encrypted backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := restoreTarget
		if target == "" {
			target = cfg.Dir
		}

		password, err := backupPassword(false)
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)

		result, err := backup.Restore(args[0], backup.RestoreOptions{
			DataDir:   target,
			Overwrite: restoreOverwrite,
			WithAudit: backupWithAudit,
			Password:  password,
			KeyFile:   backupKeyFile,
		})
		if err != nil {
			if errors.Is(err, backup.ErrDataDirExists) {
				return fmt.Errorf("%w (use --overwrite to replace it)", err)
			}
			return err
		}

		fmt.Printf("Restored %d servers to %s\n", result.ServerCount, target)
		if result.AuditRestored {
			fmt.Println("Audit logs restored")
		}
		return nil
	},
}

// backupVerifyCmd checks a backup file without restoring it.
var backupVerifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Verify a backup file's integrity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := backupPassword(false)
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)

		result, err := backup.Verify(args[0], password, backupKeyFile)
		if err != nil {
			return err
		}
		if !result.Valid {
			return fmt.Errorf("backup verification failed: %s", result.Error)
		}

		fmt.Println("Backup verified")
		fmt.Printf("  Created: %s\n", result.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
		fmt.Printf("  Servers: %d\n", result.ServerCount)
		fmt.Printf("  Audit:   %v\n", result.IncludesAudit)
		return nil
	},
}

// backupKeygenCmd generates a key file for passphrase-free backups.
var backupKeygenCmd = &cobra.Command{
	Use:   "keygen [file]",
	Short: "Generate a 32-byte backup key file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := backup.GenerateKeyFile(args[0]); err != nil {
			return err
		}
		fmt.Printf("Key file written to %s (keep it safe; anyone with it can read your backups)\n", args[0])
		return nil
	},
}
