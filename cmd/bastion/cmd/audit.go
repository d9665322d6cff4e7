package cmd

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bastion-core/bastion/internal/domain/audit"
	"github.com/bastion-core/bastion/internal/service"
)

var auditScope string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run a one-off compliance audit",
	Long: `Run a single compliance audit against a fresh engine instance and
print the findings as JSON. Useful for inspecting the check set; a
meaningful audit runs inside a live deployment via the periodic monitor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger("warn")
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}

		fw, err := service.NewFramework(service.FrameworkConfig{DeploymentSecret: secret}, logger)
		if err != nil {
			return err
		}

		run, err := fw.RunAudit(context.Background(), audit.Scope(auditScope))
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditScope, "scope", string(audit.ScopeSystem), "audit scope (system, user, resource, network)")
	rootCmd.AddCommand(auditCmd)
}
