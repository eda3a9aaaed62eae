package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/halcyonops/rollout/internal/credstore"
	"github.com/halcyonops/rollout/internal/inventory"
	"github.com/halcyonops/rollout/internal/winexec"
)

// --- Fakes ---

type fakeProber struct {
	reachable map[string]bool
	probed    []string
}

func (f *fakeProber) Probe(_ context.Context, addr string) bool {
	f.probed = append(f.probed, addr)
	return f.reachable[addr]
}

type fakeRunner struct {
	exitCodes map[string]int // command name to exit code
	runErrs   map[string]error
	commands  []string
	closed    bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (winexec.Result, error) {
	f.commands = append(f.commands, name)
	if err := f.runErrs[name]; err != nil {
		return winexec.Result{ExitCode: -1}, err
	}
	return winexec.Result{ExitCode: f.exitCodes[name]}, nil
}

func (f *fakeRunner) Close() { f.closed = true }

// slowRunner blocks until the delay elapses or the context expires.
type slowRunner struct {
	delay  time.Duration
	closed bool
}

func (s *slowRunner) Run(ctx context.Context, name string, args ...string) (winexec.Result, error) {
	select {
	case <-ctx.Done():
		return winexec.Result{ExitCode: -1}, ctx.Err()
	case <-time.After(s.delay):
		return winexec.Result{}, nil
	}
}

func (s *slowRunner) Close() { s.closed = true }

type fakeStager struct {
	copyErr error
	copied  []string
	closed  bool
}

func (f *fakeStager) Copy(_ context.Context, local, remote string) error {
	if f.copyErr != nil {
		return f.copyErr
	}
	f.copied = append(f.copied, remote)
	return nil
}

func (f *fakeStager) Close() { f.closed = true }

// harness bundles a driver with its injected fakes.
type harness struct {
	driver  *Driver
	prober  *fakeProber
	runners map[string]*fakeRunner
	stagers map[string]*fakeStager

	sessionOpens int
	stagerOpens  int
}

func newHarness(t *testing.T, reachable map[string]bool) *harness {
	t.Helper()

	dir := t.TempDir()
	for _, name := range []string{"agent.msi", "publisher.cer"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("payload"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	h := &harness{
		prober:  &fakeProber{reachable: reachable},
		runners: make(map[string]*fakeRunner),
		stagers: make(map[string]*fakeStager),
	}

	opts := Options{
		Installer:   "agent.msi",
		Cert:        "publisher.cer",
		SourceDir:   dir,
		RemoteDir:   `Windows\Temp`,
		RemoteDrive: "C:",
	}

	sessions := func(addr string, _ credstore.Credential) (Runner, error) {
		h.sessionOpens++
		r, ok := h.runners[addr]
		if !ok {
			r = &fakeRunner{exitCodes: map[string]int{}}
			h.runners[addr] = r
		}
		return r, nil
	}
	stagers := func(addr string, _ credstore.Credential) (Stager, error) {
		h.stagerOpens++
		s, ok := h.stagers[addr]
		if !ok {
			s = &fakeStager{}
			h.stagers[addr] = s
		}
		return s, nil
	}

	h.driver = New(opts, credstore.Credential{Username: "admin"}, h.prober, sessions, stagers)
	return h
}

// --- Tests ---

func TestAllReachableAllSucceed(t *testing.T) {
	h := newHarness(t, map[string]bool{"10.0.0.1": true, "10.0.0.2": true})

	targets := []inventory.Target{
		inventory.SingleAddress{Address: "10.0.0.1"},
		inventory.SingleAddress{Address: "10.0.0.2"},
	}

	results, err := h.driver.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if failed := Failures(results); len(failed) != 0 {
		t.Fatalf("expected no failures, got %v", failed)
	}
	for _, r := range results {
		if r.StageReached != StageInstalled || r.Outcome != OutcomeSuccess {
			t.Errorf("%s: stage=%s outcome=%s", r.Target, r.StageReached, r.Outcome)
		}
	}
}

func TestUnreachableTargetRecordedAndSkipped(t *testing.T) {
	h := newHarness(t, map[string]bool{"192.168.1.11": true})

	targets := []inventory.Target{
		inventory.SingleAddress{Address: "192.168.1.10"},
		inventory.SingleAddress{Address: "192.168.1.11"},
	}

	results, err := h.driver.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	failed := Failures(results)
	if len(failed) != 1 || failed[0].Target != "192.168.1.10" {
		t.Fatalf("failures = %v, want exactly 192.168.1.10", failed)
	}
	if failed[0].Reason != ReasonUnreachable {
		t.Errorf("reason = %s, want unreachable", failed[0].Reason)
	}

	// No copy or session attempt for the unreachable target.
	if h.stagerOpens != 1 || h.sessionOpens != 1 {
		t.Errorf("stager opens = %d, session opens = %d, want 1 each", h.stagerOpens, h.sessionOpens)
	}
}

func TestZeroCandidateTarget(t *testing.T) {
	h := newHarness(t, map[string]bool{})

	targets := []inventory.Target{
		inventory.AdapterList{Label: "ipv6-only", Adapters: []string{"fe80::1", "::1"}},
	}

	results, err := h.driver.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	failed := Failures(results)
	if len(failed) != 1 || failed[0].Target != "ipv6-only" {
		t.Fatalf("failures = %v", failed)
	}
	if failed[0].Reason != ReasonUnreachable {
		t.Errorf("reason = %s", failed[0].Reason)
	}
	if len(h.prober.probed) != 0 {
		t.Errorf("no probes expected, got %v", h.prober.probed)
	}
	if h.stagerOpens != 0 || h.sessionOpens != 0 {
		t.Error("no stage/session operations expected for zero-candidate target")
	}
}

func TestProbeOrderFirstSuccessWins(t *testing.T) {
	h := newHarness(t, map[string]bool{"10.0.0.2": true})

	targets := []inventory.Target{
		inventory.AddressList{Label: "ws01", Addresses: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}},
	}

	results, err := h.driver.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if results[0].AddressUsed != "10.0.0.2" {
		t.Fatalf("address used = %s, want 10.0.0.2", results[0].AddressUsed)
	}
	// 10.0.0.3 must never be probed.
	for _, p := range h.prober.probed {
		if p == "10.0.0.3" {
			t.Fatal("probing should stop at first success")
		}
	}
}

func TestAdapterNormalizationExcludesIPv6(t *testing.T) {
	h := newHarness(t, map[string]bool{"10.0.0.5": true})

	targets := []inventory.Target{
		inventory.AdapterList{Label: "ws-lab", Adapters: []string{"fe80::1", "10.0.0.5"}},
	}

	results, err := h.driver.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(h.prober.probed) != 1 || h.prober.probed[0] != "10.0.0.5" {
		t.Fatalf("probed %v, want only 10.0.0.5", h.prober.probed)
	}
	if results[0].Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s", results[0].Outcome)
	}
}

func TestNonZeroExitCodeIsFailure(t *testing.T) {
	h := newHarness(t, map[string]bool{"10.0.0.1": true})
	h.runners["10.0.0.1"] = &fakeRunner{exitCodes: map[string]int{"msiexec": 1603}}

	targets := []inventory.Target{inventory.SingleAddress{Label: "ws01", Address: "10.0.0.1"}}

	results, err := h.driver.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	failed := Failures(results)
	if len(failed) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failed))
	}
	if failed[0].Reason != ReasonInstallFailed || failed[0].ExitCode != 1603 {
		t.Errorf("reason=%s exit=%d, want install-failed/1603", failed[0].Reason, failed[0].ExitCode)
	}
	if failed[0].StageReached != StageInstalled {
		t.Errorf("stage = %s, want installed", failed[0].StageReached)
	}
}

func TestCertExitCodeIgnored(t *testing.T) {
	h := newHarness(t, map[string]bool{"10.0.0.1": true})
	// certutil failing with a non-zero exit must not fail the target.
	h.runners["10.0.0.1"] = &fakeRunner{exitCodes: map[string]int{"certutil": 1, "msiexec": 0}}

	targets := []inventory.Target{inventory.SingleAddress{Address: "10.0.0.1"}}

	results, err := h.driver.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if results[0].Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", results[0].Outcome)
	}
}

func TestCopyFailureIsolatedPerTarget(t *testing.T) {
	h := newHarness(t, map[string]bool{"10.0.0.1": true, "10.0.0.2": true})
	h.stagers["10.0.0.1"] = &fakeStager{copyErr: errors.New("access denied")}

	targets := []inventory.Target{
		inventory.SingleAddress{Address: "10.0.0.1"},
		inventory.SingleAddress{Address: "10.0.0.2"},
	}

	results, err := h.driver.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	failed := Failures(results)
	if len(failed) != 1 || failed[0].Target != "10.0.0.1" {
		t.Fatalf("failures = %v", failed)
	}
	if failed[0].Reason != ReasonStageFailed {
		t.Errorf("reason = %s, want stage-failed", failed[0].Reason)
	}
	// The second target still went through.
	if results[1].Outcome != OutcomeSuccess {
		t.Errorf("second target outcome = %s", results[1].Outcome)
	}
	// The failed mount was still released.
	if !h.stagers["10.0.0.1"].closed {
		t.Error("stager must be closed on the error path")
	}
}

func TestSessionErrorIsolatedPerTarget(t *testing.T) {
	h := newHarness(t, map[string]bool{"10.0.0.1": true, "10.0.0.2": true})
	h.runners["10.0.0.1"] = &fakeRunner{
		exitCodes: map[string]int{},
		runErrs:   map[string]error{"msiexec": errors.New("connection reset")},
	}

	targets := []inventory.Target{
		inventory.SingleAddress{Address: "10.0.0.1"},
		inventory.SingleAddress{Address: "10.0.0.2"},
	}

	results, err := h.driver.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	failed := Failures(results)
	if len(failed) != 1 || failed[0].Reason != ReasonSessionFailed {
		t.Fatalf("failures = %v, want one session-failed", failed)
	}
	if !h.runners["10.0.0.1"].closed {
		t.Error("session must be closed on the error path")
	}
	if results[1].Outcome != OutcomeSuccess {
		t.Errorf("second target outcome = %s", results[1].Outcome)
	}
}

func TestFailureOrderPreserved(t *testing.T) {
	h := newHarness(t, map[string]bool{"b": true, "d": true})

	targets := []inventory.Target{
		inventory.SingleAddress{Address: "a"},
		inventory.SingleAddress{Address: "b"},
		inventory.SingleAddress{Address: "c"},
		inventory.SingleAddress{Address: "d"},
	}
	h.runners["b"] = &fakeRunner{exitCodes: map[string]int{"msiexec": 2}}

	results, err := h.driver.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	failed := Failures(results)
	want := []string{"a", "b", "c"}
	if len(failed) != len(want) {
		t.Fatalf("failures = %v, want %v", failed, want)
	}
	for i, f := range failed {
		if f.Target != want[i] {
			t.Fatalf("failure[%d] = %s, want %s", i, f.Target, want[i])
		}
	}
}

func TestMissingPayloadAborts(t *testing.T) {
	h := newHarness(t, map[string]bool{"10.0.0.1": true})
	h.driver.opts.Installer = "missing.msi"

	targets := []inventory.Target{inventory.SingleAddress{Address: "10.0.0.1"}}

	_, err := h.driver.Run(context.Background(), targets)
	if err == nil {
		t.Fatal("expected precondition failure")
	}
	// No network interaction before the abort.
	if len(h.prober.probed) != 0 || h.stagerOpens != 0 || h.sessionOpens != 0 {
		t.Error("no target may be touched when preconditions fail")
	}
}

func TestEmptyTargetListAborts(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.driver.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty target list")
	}
}

func TestStagedPathsAndCommands(t *testing.T) {
	h := newHarness(t, map[string]bool{"10.0.0.1": true})

	targets := []inventory.Target{inventory.SingleAddress{Address: "10.0.0.1"}}
	if _, err := h.driver.Run(context.Background(), targets); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	st := h.stagers["10.0.0.1"]
	wantCopies := []string{`Windows\Temp\agent.msi`, `Windows\Temp\publisher.cer`}
	if len(st.copied) != 2 || st.copied[0] != wantCopies[0] || st.copied[1] != wantCopies[1] {
		t.Errorf("copied = %v, want %v", st.copied, wantCopies)
	}

	r := h.runners["10.0.0.1"]
	if len(r.commands) != 2 || r.commands[0] != "certutil" || r.commands[1] != "msiexec" {
		t.Errorf("commands = %v, want [certutil msiexec]", r.commands)
	}
	if !st.closed || !r.closed {
		t.Error("stager and session must both be released")
	}
}

func TestPanicInOneTargetDoesNotKillBatch(t *testing.T) {
	h := newHarness(t, map[string]bool{"10.0.0.1": true, "10.0.0.2": true})

	h.driver.sessions = func(addr string, _ credstore.Credential) (Runner, error) {
		h.sessionOpens++
		if addr == "10.0.0.1" {
			panic("boom")
		}
		r := &fakeRunner{exitCodes: map[string]int{}}
		h.runners[addr] = r
		return r, nil
	}

	targets := []inventory.Target{
		inventory.SingleAddress{Address: "10.0.0.1"},
		inventory.SingleAddress{Address: "10.0.0.2"},
	}

	results, err := h.driver.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Outcome != OutcomeFailure || results[0].Detail != "panic: boom" {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].Outcome != OutcomeSuccess {
		t.Errorf("second target outcome = %s", results[1].Outcome)
	}
}

func TestRemotePath(t *testing.T) {
	d := &Driver{opts: Options{RemoteDrive: "C:", RemoteDir: `Windows\Temp`}}
	want := `C:\Windows\Temp\agent.msi`
	if got := d.remotePath("agent.msi"); got != want {
		t.Fatalf("remotePath = %s, want %s", got, want)
	}
}

func TestMixedReachabilityScenario(t *testing.T) {
	// One unreachable host, one reachable host installing cleanly.
	h := newHarness(t, map[string]bool{"192.168.1.11": true})

	targets := []inventory.Target{
		inventory.SingleAddress{Address: "192.168.1.10"},
		inventory.SingleAddress{Address: "192.168.1.11"},
	}

	results, err := h.driver.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	failed := Failures(results)
	if len(failed) != 1 {
		t.Fatalf("failures = %v", failed)
	}
	if got := failed[0].Target; got != "192.168.1.10" {
		t.Fatalf("failed target = %s, want 192.168.1.10", got)
	}
}

func TestTargetTimeoutBoundsRemoteCommands(t *testing.T) {
	h := newHarness(t, map[string]bool{"10.0.0.1": true, "10.0.0.2": true})
	h.driver.opts.TargetTimeout = 50 * time.Millisecond

	slow := &slowRunner{delay: 5 * time.Second}
	h.driver.sessions = func(addr string, _ credstore.Credential) (Runner, error) {
		if addr == "10.0.0.1" {
			return slow, nil
		}
		r := &fakeRunner{exitCodes: map[string]int{}}
		h.runners[addr] = r
		return r, nil
	}

	targets := []inventory.Target{
		inventory.SingleAddress{Address: "10.0.0.1"},
		inventory.SingleAddress{Address: "10.0.0.2"},
	}

	start := time.Now()
	results, err := h.driver.Run(context.Background(), targets)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The budget, not the hung command, bounds the first target.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("run took %v, budget did not bite", elapsed)
	}
	if results[0].Outcome != OutcomeFailure || results[0].Reason != ReasonSessionFailed {
		t.Fatalf("first result = %+v, want session-failed", results[0])
	}
	if !slow.closed {
		t.Error("timed-out session must still be released")
	}
	// The next target gets a fresh budget.
	if results[1].Outcome != OutcomeSuccess {
		t.Errorf("second target outcome = %s", results[1].Outcome)
	}
}

func TestFailuresNoDuplicates(t *testing.T) {
	results := []TargetResult{
		{Target: "a", Outcome: OutcomeFailure},
		{Target: "b", Outcome: OutcomeSuccess},
		{Target: "c", Outcome: OutcomeFailure},
	}
	failed := Failures(results)
	seen := map[string]bool{}
	for _, f := range failed {
		if seen[f.Target] {
			t.Fatalf("duplicate %s in failures", f.Target)
		}
		seen[f.Target] = true
	}
	if len(failed) != 2 {
		t.Fatalf("len = %d", len(failed))
	}
}
