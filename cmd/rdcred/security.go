package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mpontes/rdcred/pkg/security"
)

// securityCmd is the parent command for credential security checks.
var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Credential security checks",
}

func init() {
	securityCmd.AddCommand(securityAuditCmd)
}

// securityAuditCmd decrypts all stored passwords in memory and reports
// weak and reused ones. Nothing is printed in plaintext.
var securityAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report weak and reused server passwords",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := reg.Names()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No stored credentials to audit")
			return nil
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}

		creds := make([]security.Credential, 0, len(names))
		for _, name := range names {
			blob, err := reg.Credential(name)
			if err != nil {
				return err
			}
			password, err := keys.DecryptPassword(blob, name)
			if err != nil {
				return fmt.Errorf("failed to decrypt credential for '%s': %w", name, err)
			}
			creds = append(creds, security.Credential{Server: name, Password: password})
		}

		weak := security.FindWeak(creds)
		analyzer, err := security.NewAnalyzer()
		if err != nil {
			return err
		}
		reuse := analyzer.FindReuse(creds)

		fmt.Printf("Audited %d stored credentials\n", len(creds))

		if len(weak) == 0 && len(reuse) == 0 {
			fmt.Println("No issues found")
			return nil
		}

		if len(weak) > 0 {
			fmt.Printf("\nWeak passwords (%d):\n", len(weak))
			for _, w := range weak {
				fmt.Printf("  %s (%d characters)\n", w.Server, w.Length)
			}
		}

		if len(reuse) > 0 {
			fmt.Printf("\nReused passwords (%d groups):\n", len(reuse))
			for _, g := range reuse {
				fmt.Printf("  %d servers: %s\n", g.Count, strings.Join(g.Servers, ", "))
			}
		}
		return nil
	},
}
