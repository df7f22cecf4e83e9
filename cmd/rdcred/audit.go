package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// auditCmd is the parent command for audit log operations.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
}

// auditVerifyCmd verifies the audit log HMAC chain.
var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log chain integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditLog == nil {
			return errors.New("audit logging is disabled in the configuration")
		}

		result, err := auditLog.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}

		if result.Valid {
			fmt.Printf("Audit log verified: %d records, chain intact\n", result.RecordsTotal)
			return nil
		}

		fmt.Printf("Audit log verification FAILED (%d records)\n", result.RecordsTotal)
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
		return errors.New("audit log integrity check failed")
	},
}
