package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/halcyonops/rollout/internal/credstore"
	"github.com/halcyonops/rollout/internal/deploy"
	"github.com/halcyonops/rollout/internal/history"
	"github.com/halcyonops/rollout/internal/inventory"
	"github.com/halcyonops/rollout/internal/probe"
)

var (
	deployInstaller string
	deployCert      string
	deploySource    string
	deployInventory string
	deployHosts     []string
	deployUser      string
	deployPassword  string
	deployForce     bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Install the package on every target host",
	Long: `Deploy copies the installer and trust certificate to each target's
administrative share, registers the certificate in the machine
TrustedPublisher store, and runs the installer with msiexec /qn.

Targets come from --inventory (YAML, heterogeneous entries) and/or
repeated --host flags. Hosts are processed strictly in order.`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVar(&deployInstaller, "installer", "", "installer file name under the source dir (required)")
	deployCmd.Flags().StringVar(&deployCert, "cert", "", "trust certificate file name under the source dir (required)")
	deployCmd.Flags().StringVar(&deploySource, "source", "", "local source directory (default from config)")
	deployCmd.Flags().StringVar(&deployInventory, "inventory", "", "YAML inventory file of targets")
	deployCmd.Flags().StringArrayVar(&deployHosts, "host", nil, "target address (repeatable)")
	deployCmd.Flags().StringVarP(&deployUser, "user", "u", "", `admin username, DOMAIN\user`)
	deployCmd.Flags().StringVar(&deployPassword, "password", "", "admin password (prompted or read from keyring if omitted)")
	deployCmd.Flags().BoolVarP(&deployForce, "force", "f", false, "skip the confirmation prompt")
	_ = deployCmd.MarkFlagRequired("installer")
	_ = deployCmd.MarkFlagRequired("cert")

	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	sourceDir := cfg.SourceDir
	if deploySource != "" {
		sourceDir = deploySource
	}

	opts := deploy.Options{
		Installer:     deployInstaller,
		Cert:          deployCert,
		SourceDir:     sourceDir,
		RemoteDir:     cfg.RemoteDir,
		RemoteDrive:   cfg.RemoteDrive(),
		TargetTimeout: time.Duration(cfg.TargetTimeoutSecs) * time.Second,
	}

	// Fail fast on missing payload files, before touching credentials
	// or the network.
	if err := opts.Validate(); err != nil {
		return err
	}

	targets, err := collectTargets()
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no targets: supply --inventory or --host")
	}

	cred, err := credstore.Resolve(deployUser, deployPassword)
	if err != nil {
		return err
	}

	if !deployForce && !confirm(targets) {
		return fmt.Errorf("aborted by operator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prober := &probe.PingProber{
		Timeout:    time.Duration(cfg.ProbeTimeoutSecs) * time.Second,
		Privileged: cfg.ProbePrivileged,
	}

	driver := deploy.New(opts, cred, prober,
		deploy.WinRMSessions(cfg.WinRMPort, cfg.UseSSL),
		deploy.AdminShareStagers(cfg.ShareName, 30*time.Second),
	)

	started := time.Now()
	results, runErr := driver.Run(ctx, targets)
	if runErr != nil && len(results) == 0 {
		return runErr
	}

	recordHistory(started, results)

	return finishRun(os.Stdout, len(targets), results, runErr)
}

// finishRun prints the batch summary and maps the outcome to the exit
// contract: nil when everything installed, errTargetsFailed when targets
// failed, and the run error itself when the batch was cut short.
func finishRun(w io.Writer, total int, results []deploy.TargetResult, runErr error) error {
	failed := deploy.Failures(results)
	if len(failed) > 0 {
		fmt.Fprintf(w, "\n%d of %d targets failed:\n", len(failed), len(results))
		for _, f := range failed {
			fmt.Fprintf(w, "  %-30s %-15s %s\n", f.Target, f.Reason, f.Detail)
		}
	}

	if runErr != nil {
		fmt.Fprintf(w, "\nRun stopped after %d of %d targets: %v\n", len(results), total, runErr)
		return fmt.Errorf("run stopped after %d of %d targets: %w", len(results), total, runErr)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %d of %d", errTargetsFailed, len(failed), len(results))
	}

	fmt.Fprintf(w, "\nAll %d targets installed successfully.\n", len(results))
	return nil
}

// collectTargets merges the inventory file and --host flags, inventory
// entries first.
func collectTargets() ([]inventory.Target, error) {
	var targets []inventory.Target

	if deployInventory != "" {
		fromFile, err := inventory.Load(deployInventory)
		if err != nil {
			return nil, err
		}
		targets = append(targets, fromFile...)
	}

	for _, h := range deployHosts {
		targets = append(targets, inventory.SingleAddress{Address: h})
	}

	return targets, nil
}

// confirm asks the operator to continue. Anything but y/yes declines.
func confirm(targets []inventory.Target) bool {
	fmt.Printf("About to install %s on %d hosts:\n", deployInstaller, len(targets))
	for _, t := range targets {
		fmt.Printf("  %s\n", t.Name())
	}
	fmt.Print("Continue? [y/N] ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// recordHistory saves the run locally. Best-effort only.
func recordHistory(started time.Time, results []deploy.TargetResult) {
	if cfg.HistoryDB == "" || len(results) == 0 {
		return
	}

	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		log.Printf("[history] Skipping run record: %v", err)
		return
	}
	defer store.Close()

	if _, err := store.RecordRun(context.Background(), started, deployInstaller, deployCert, results); err != nil {
		log.Printf("[history] Failed to record run: %v", err)
	}
}
