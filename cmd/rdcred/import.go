package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mpontes/rdcred/pkg/importer"
	"github.com/mpontes/rdcred/pkg/registry"
)

var importSource string

func init() {
	importCmd.Flags().StringVar(&importSource, "source", "", "Import format: csv or rdp (default: guessed from the file extension)")
	rootCmd.AddCommand(importCmd)
}

// importCmd imports server definitions from external files.
var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import servers from a CSV export or a Windows .rdp file",
	Long: `Import server definitions. Supported formats:

  csv  Header-based CSV with columns: name, host, port, username, password
       (only host is required)
  rdp  A Windows Remote Desktop connection file (.rdp)

Passwords found in the import file are encrypted under the active key.
Servers whose name already exists are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		source := importer.Source(importSource)
		if importSource == "" {
			if strings.EqualFold(filepath.Ext(path), ".rdp") {
				source = importer.SourceRDP
			} else {
				source = importer.SourceCSV
			}
		}

		parser, err := importer.GetParser(source)
		if err != nil {
			return fmt.Errorf("%w (valid sources: %s)", err, strings.Join(importer.ValidSources(), ", "))
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}

		result, err := parser.Parse(data)
		if err != nil {
			return err
		}

		for _, w := range result.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		for _, s := range result.Skipped {
			fmt.Fprintf(os.Stderr, "skipped '%s': %s\n", s.OriginalName, s.Reason)
		}

		// Unlock once up front when any entry carries a password
		for _, s := range result.Servers {
			if s.Password != "" {
				if err := ensureUnlocked(); err != nil {
					return err
				}
				break
			}
		}

		added, skipped, withCred := 0, 0, 0
		for _, s := range result.Servers {
			srv := &registry.Server{
				Name:     s.Name,
				Host:     s.Host,
				Port:     s.Port,
				Username: s.Username,
			}
			if err := reg.Add(srv); err != nil {
				if errors.Is(err, registry.ErrServerExists) {
					fmt.Fprintf(os.Stderr, "skipped '%s': already exists\n", s.Name)
					skipped++
					continue
				}
				return fmt.Errorf("failed to add '%s': %w", s.Name, err)
			}
			added++

			if s.Password != "" {
				blob, err := keys.EncryptPassword(s.Password, srv.Name)
				if err != nil {
					return fmt.Errorf("failed to encrypt password for '%s': %w", srv.Name, err)
				}
				if err := reg.SetCredential(srv.Name, blob); err != nil {
					return err
				}
				withCred++
			}
		}

		if withCred > 0 {
			if err := reg.Flush(); err != nil {
				return err
			}
		}

		fmt.Printf("Imported %d servers (%d with credentials, %d skipped)\n", added, withCred, skipped)
		return nil
	},
}
