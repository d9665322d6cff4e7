// Package cmd provides the CLI commands for Bastion.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bastion-core/bastion/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bastion",
	Short: "Bastion - embeddable security engine",
	Long: `Bastion is a security engine providing identity management,
multi-factor authentication, session lifecycle, policy-based access
control, managed cryptographic keys, and compliance auditing.

Quick start:
  1. Create a config file: bastion.yaml
  2. Run: bastion serve

Configuration:
  Config is loaded from bastion.yaml in the current directory,
  $HOME/.bastion/, or /etc/bastion/.

  Environment variables can override config values with the BASTION_ prefix.
  Example: BASTION_SERVER_HTTP_ADDR=:9090

Commands:
  serve          Start the engine with the observability server
  audit          Run a one-off compliance audit
  hash-password  Hash a password with Argon2id
  version        Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./bastion.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
