// Package probe answers one question: does a candidate address respond to
// ping. Each probe sends a fixed burst of echo requests and succeeds when
// at least one reply comes back.
package probe

import (
	"context"
	"log"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

const (
	// probeCount is the number of echo requests sent per candidate.
	probeCount     = 3
	defaultTimeout = 5 * time.Second
)

// Prober reports whether an address is reachable.
type Prober interface {
	Probe(ctx context.Context, addr string) bool
}

// PingProber probes with ICMP echo requests. With Privileged unset it uses
// unprivileged UDP ping, which works without root on Linux when
// net.ipv4.ping_group_range allows it.
type PingProber struct {
	Timeout    time.Duration
	Privileged bool
}

func (p *PingProber) Probe(ctx context.Context, addr string) bool {
	pinger, err := probing.NewPinger(addr)
	if err != nil {
		log.Printf("[probe] %s: %v", addr, err)
		return false
	}

	pinger.Count = probeCount
	pinger.Timeout = p.Timeout
	if pinger.Timeout <= 0 {
		pinger.Timeout = defaultTimeout
	}
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		log.Printf("[probe] %s: %v", addr, err)
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

// Resolve tries candidates in order and returns the first one that answers
// the probe. ok is false when no candidate answers or the list is empty.
func Resolve(ctx context.Context, p Prober, candidates []string) (addr string, ok bool) {
	for _, c := range candidates {
		if ctx.Err() != nil {
			return "", false
		}
		if p.Probe(ctx, c) {
			return c, true
		}
		log.Printf("[probe] %s did not respond", c)
	}
	return "", false
}
