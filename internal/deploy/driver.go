// Package deploy implements the batch installer driver. For each target
// it resolves a reachable address, stages the installer and trust
// certificate onto the host's administrative share, registers the
// certificate, runs the installer silently, and classifies the outcome.
// Targets are processed strictly one at a time; a failure on one target
// never stops the batch.
package deploy

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/halcyonops/rollout/internal/credstore"
	"github.com/halcyonops/rollout/internal/inventory"
	"github.com/halcyonops/rollout/internal/probe"
	"github.com/halcyonops/rollout/internal/winexec"
)

// Stage names the furthest point a target's processing reached.
type Stage string

const (
	StageNormalized  Stage = "normalized"
	StageProbing     Stage = "probing"
	StageConnected   Stage = "connected"
	StageStaged      Stage = "staged"
	StageCertTrusted Stage = "cert-trusted"
	StageInstalled   Stage = "installed"
)

// Outcome classifies a target's terminal state.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Reason says why a target failed.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonUnreachable   Reason = "unreachable"
	ReasonStageFailed   Reason = "stage-failed"
	ReasonSessionFailed Reason = "session-failed"
	ReasonInstallFailed Reason = "install-failed"
)

// TargetResult is the structured per-target record of a run.
type TargetResult struct {
	Target       string
	AddressUsed  string
	StageReached Stage
	Outcome      Outcome
	Reason       Reason
	ExitCode     int
	Detail       string
	Duration     time.Duration
}

// Runner executes commands on a connected host. Satisfied by
// *winexec.Session. The context carries the per-target budget.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (winexec.Result, error)
	Close()
}

// Stager copies files onto a connected host's administrative share.
// Satisfied by *share.Mount. The context carries the per-target budget.
type Stager interface {
	Copy(ctx context.Context, localPath, remotePath string) error
	Close()
}

// SessionFactory opens a command-execution session against an address.
type SessionFactory func(addr string, cred credstore.Credential) (Runner, error)

// StagerFactory mounts the administrative share of an address.
type StagerFactory func(addr string, cred credstore.Credential) (Stager, error)

// Options configures a driver.
type Options struct {
	Installer string // file name under SourceDir
	Cert      string // file name under SourceDir
	SourceDir string

	RemoteDir   string // share-relative staging dir, e.g. Windows\Temp
	RemoteDrive string // drive the share maps, e.g. C:

	TargetTimeout time.Duration // bounds one target's whole sequence
}

// Driver runs the batch.
type Driver struct {
	opts     Options
	cred     credstore.Credential
	prober   probe.Prober
	sessions SessionFactory
	stagers  StagerFactory
}

// New builds a driver. Collaborators are injected so tests can substitute
// fakes for the network-facing pieces.
func New(opts Options, cred credstore.Credential, prober probe.Prober, sessions SessionFactory, stagers StagerFactory) *Driver {
	return &Driver{
		opts:     opts,
		cred:     cred,
		prober:   prober,
		sessions: sessions,
		stagers:  stagers,
	}
}

// Validate checks the run's preconditions: both payload files must exist
// under the source directory. Run calls this before any host is touched;
// callers may also invoke it early to fail before acquiring credentials.
func (o Options) Validate() error {
	for _, name := range []string{o.Installer, o.Cert} {
		if name == "" {
			return fmt.Errorf("installer and cert file names are required")
		}
		p := filepath.Join(o.SourceDir, name)
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("payload file %s: %w", p, err)
		}
	}
	return nil
}

// Run processes every target in order and returns one TargetResult per
// target. The error is non-nil only for batch-fatal precondition
// failures, in which case no target was touched. Use Failures to extract
// the failed subsequence.
func (d *Driver) Run(ctx context.Context, targets []inventory.Target) ([]TargetResult, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets supplied")
	}
	if err := d.opts.Validate(); err != nil {
		return nil, err
	}

	log.Printf("[deploy] Starting batch: %d targets, installer=%s cert=%s",
		len(targets), d.opts.Installer, d.opts.Cert)

	results := make([]TargetResult, 0, len(targets))
	for i, t := range targets {
		if ctx.Err() != nil {
			log.Printf("[deploy] Batch cancelled after %d/%d targets", i, len(targets))
			return results, ctx.Err()
		}

		res := d.runOne(ctx, t)
		results = append(results, res)

		if res.Outcome == OutcomeSuccess {
			log.Printf("[deploy] [%d/%d] %s: installed OK via %s (%.1fs)",
				i+1, len(targets), res.Target, res.AddressUsed, res.Duration.Seconds())
		} else {
			log.Printf("[deploy] [%d/%d] %s: FAILED (%s at %s): %s",
				i+1, len(targets), res.Target, res.Reason, res.StageReached, res.Detail)
		}
	}

	failed := len(Failures(results))
	log.Printf("[deploy] Batch complete: %d/%d succeeded, %d failed",
		len(results)-failed, len(results), failed)
	return results, nil
}

// runOne walks a single target through the state machine:
// normalized → probing → connected → staged → cert-trusted → installed.
// All failures are captured in the result; a panic is recovered so one
// bad target cannot take the batch down. The share mount and WinRM
// session are released on every exit path.
func (d *Driver) runOne(ctx context.Context, t inventory.Target) (res TargetResult) {
	start := time.Now()
	res = TargetResult{
		Target:       t.Name(),
		StageReached: StageNormalized,
		Outcome:      OutcomeFailure,
	}
	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailure
			if res.Reason == ReasonNone {
				res.Reason = ReasonSessionFailed
			}
			res.Detail = fmt.Sprintf("panic: %v", r)
		}
	}()

	tctx := ctx
	if d.opts.TargetTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, d.opts.TargetTimeout)
		defer cancel()
	}

	candidates := inventory.Normalize(t)
	res.StageReached = StageProbing
	addr, ok := probe.Resolve(tctx, d.prober, candidates)
	if !ok {
		res.Reason = ReasonUnreachable
		if len(candidates) == 0 {
			res.Detail = "target has no candidate addresses"
		} else {
			res.Detail = fmt.Sprintf("no reachable address among %v", candidates)
		}
		return res
	}
	res.AddressUsed = addr

	if err := d.stageFiles(tctx, addr, &res); err != nil {
		res.Reason = ReasonStageFailed
		res.Detail = err.Error()
		return res
	}

	sess, err := d.sessions(addr, d.cred)
	if err != nil {
		res.Reason = ReasonSessionFailed
		res.Detail = err.Error()
		return res
	}
	defer sess.Close()

	// Register the certificate in the machine TrustedPublisher store.
	// Side effect only; exit code deliberately not checked.
	certPath := d.remotePath(d.opts.Cert)
	if _, err := sess.Run(tctx, "certutil", "-addstore", "-f", "TrustedPublisher", certPath); err != nil {
		res.Reason = ReasonSessionFailed
		res.Detail = fmt.Sprintf("trust certificate: %v", err)
		return res
	}
	res.StageReached = StageCertTrusted

	msiPath := d.remotePath(d.opts.Installer)
	out, err := sess.Run(tctx, "msiexec", "/i", msiPath, "/qn", "/norestart")
	if err != nil {
		res.Reason = ReasonSessionFailed
		res.Detail = fmt.Sprintf("run installer: %v", err)
		return res
	}
	res.StageReached = StageInstalled
	res.ExitCode = out.ExitCode

	if out.ExitCode != 0 {
		res.Reason = ReasonInstallFailed
		res.Detail = fmt.Sprintf("installer exited %d", out.ExitCode)
		return res
	}

	res.Outcome = OutcomeSuccess
	return res
}

// stageFiles mounts the admin share, copies both payload files, and
// releases the mount before returning.
func (d *Driver) stageFiles(ctx context.Context, addr string, res *TargetResult) error {
	st, err := d.stagers(addr, d.cred)
	if err != nil {
		return fmt.Errorf("mount admin share: %w", err)
	}
	defer st.Close()
	res.StageReached = StageConnected

	for _, name := range []string{d.opts.Installer, d.opts.Cert} {
		local := filepath.Join(d.opts.SourceDir, name)
		remote := d.opts.RemoteDir + `\` + name
		if err := st.Copy(ctx, local, remote); err != nil {
			return err
		}
	}
	res.StageReached = StageStaged
	return nil
}

// remotePath addresses a staged file the way remote commands see it,
// e.g. C:\Windows\Temp\agent.msi.
func (d *Driver) remotePath(name string) string {
	return d.opts.RemoteDrive + `\` + d.opts.RemoteDir + `\` + name
}

// Failures filters results down to the failed subsequence, preserving
// input order and original target identity.
func Failures(results []TargetResult) []TargetResult {
	var failed []TargetResult
	for _, r := range results {
		if r.Outcome != OutcomeSuccess {
			failed = append(failed, r)
		}
	}
	return failed
}
