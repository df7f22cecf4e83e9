package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpontes/rdcred/internal/cli"
	"github.com/mpontes/rdcred/pkg/crypto"
	"github.com/mpontes/rdcred/pkg/registry"
)

// Flags for server add / update
var (
	serverHost     string
	serverPort     int
	serverUsername string
	serverNoPrompt bool
)

// serverCmd is the parent command for server inventory operations.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the server inventory",
}

func init() {
	serverCmd.AddCommand(serverAddCmd)
	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverShowCmd)
	serverCmd.AddCommand(serverRemoveCmd)
	serverCmd.AddCommand(serverRenameCmd)
	serverCmd.AddCommand(serverSetPasswordCmd)
	serverCmd.AddCommand(serverClearPasswordCmd)

	serverAddCmd.Flags().StringVar(&serverHost, "host", "", "Server hostname or IP address (required)")
	serverAddCmd.Flags().IntVar(&serverPort, "port", registry.DefaultPort, "RDP port")
	serverAddCmd.Flags().StringVarP(&serverUsername, "username", "u", "", "Login username")
	serverAddCmd.Flags().BoolVar(&serverNoPrompt, "no-password", false, "Skip the password prompt")
	_ = serverAddCmd.MarkFlagRequired("host")
}

// serverAddCmd registers a new server.
var serverAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register a new server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		srv := &registry.Server{
			Name:     name,
			Host:     serverHost,
			Port:     serverPort,
			Username: serverUsername,
		}
		if err := reg.Add(srv); err != nil {
			return err
		}
		fmt.Printf("Server '%s' added\n", srv.Name)

		if serverNoPrompt {
			return nil
		}
		return storePassword(srv.Name, "Enter password (leave empty to skip): ", true)
	},
}

// serverListCmd lists registered servers, optionally filtered by a
// glob pattern.
var serverListCmd = &cobra.Command{
	Use:   "list [pattern]",
	Short: "List registered servers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, err := reg.List()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			names := make([]string, len(servers))
			for i, s := range servers {
				names[i] = s.Name
			}
			matched, err := cli.ExpandPattern(args[0], names)
			if err != nil {
				return err
			}
			keep := make(map[string]bool, len(matched))
			for _, name := range matched {
				keep[name] = true
			}
			filtered := servers[:0]
			for _, s := range servers {
				if keep[s.Name] {
					filtered = append(filtered, s)
				}
			}
			servers = filtered
		}
		if len(servers) == 0 {
			fmt.Println("No servers registered")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tHOST\tPORT\tUSERNAME\tCREDENTIAL")
		for _, s := range servers {
			cred := "-"
			if s.HasCred {
				cred = "stored"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.Name, s.Host, s.Port, s.Username, cred)
		}
		return w.Flush()
	},
}

// serverShowCmd shows one server's settings.
var serverShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a server's connection settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := reg.Get(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Name:       %s\n", s.Name)
		fmt.Printf("Host:       %s\n", s.Host)
		fmt.Printf("Port:       %d\n", s.Port)
		fmt.Printf("Username:   %s\n", s.Username)
		fmt.Printf("Credential: %v\n", s.HasCred)
		fmt.Printf("Created:    %s\n", s.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Updated:    %s\n", s.UpdatedAt.Format(time.RFC3339))
		return nil
	},
}

// serverRemoveCmd deletes servers and their credentials. Arguments may
// be exact names or glob patterns.
var serverRemoveCmd = &cobra.Command{
	Use:     "rm [name|pattern]...",
	Aliases: []string{"remove"},
	Short:   "Remove servers and their stored credentials",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, err := reg.List()
		if err != nil {
			return err
		}
		names := make([]string, len(servers))
		for i, s := range servers {
			names[i] = s.Name
		}

		matched, err := cli.ExpandPatterns(args, names)
		if err != nil {
			return err
		}

		if len(matched) > 1 {
			fmt.Println("Servers to remove:")
			for _, name := range cli.SortNames(matched) {
				fmt.Printf("  %s\n", name)
			}
			if !confirm(fmt.Sprintf("Remove %d servers?", len(matched))) {
				fmt.Println("Aborted")
				return nil
			}
		}

		for _, name := range matched {
			if err := reg.Remove(name); err != nil {
				return err
			}
			fmt.Printf("Server '%s' removed\n", name)
		}
		return nil
	},
}

// serverRenameCmd renames a server.
var serverRenameCmd = &cobra.Command{
	Use:   "rename [old] [new]",
	Short: "Rename a server, keeping its stored credential",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := reg.Rename(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Server '%s' renamed to '%s'\n", args[0], args[1])
		return nil
	},
}

// serverSetPasswordCmd stores or replaces a server's credential.
var serverSetPasswordCmd = &cobra.Command{
	Use:   "set-password [name]",
	Short: "Store or replace a server's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := reg.Get(args[0]); err != nil {
			return err
		}
		return storePassword(args[0], "Enter password: ", false)
	},
}

// serverClearPasswordCmd removes a server's stored credential.
var serverClearPasswordCmd = &cobra.Command{
	Use:   "clear-password [name]",
	Short: "Remove a server's stored password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := reg.RemoveCredential(args[0]); err != nil {
			return err
		}
		fmt.Printf("Password for '%s' removed\n", args[0])
		return nil
	},
}

// storePassword prompts for a password, encrypts it under the active
// key and persists it. With allowEmpty, an empty input skips storage.
func storePassword(name, prompt string, allowEmpty bool) error {
	password, err := readPassword(prompt)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(password)

	if len(password) == 0 {
		if allowEmpty {
			return nil
		}
		return errors.New("password must not be empty")
	}

	if err := ensureUnlocked(); err != nil {
		return err
	}

	blob, err := keys.EncryptPassword(string(password), name)
	if err != nil {
		return err
	}
	if err := reg.SetCredential(name, blob); err != nil {
		return err
	}
	if err := reg.Flush(); err != nil {
		return err
	}

	fmt.Printf("Password for '%s' stored\n", name)
	return nil
}
