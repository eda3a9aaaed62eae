package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/halcyonops/rollout/internal/config"
)

// Version is stamped at release time.
const Version = "0.3.0"

var (
	cfgFile string
	cfg     *config.Config
)

// errTargetsFailed marks a run that completed but left failed targets.
var errTargetsFailed = errors.New("some targets failed")

var rootCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Bulk-install a package onto remote Windows hosts",
	Long: `rollout stages an installer and its trust certificate onto each
target's administrative share, registers the certificate, and runs the
installer silently over WinRM. Targets are processed one at a time;
failures are collected and reported at the end of the run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

// Execute runs the CLI. Exit code 1 means targets failed; 2 means the
// run could not start at all.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rollout: %v\n", err)
		if errors.Is(err, errTargetsFailed) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath(), "config file path")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rollout %s\n", Version)
		},
	})
}
