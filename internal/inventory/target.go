// Package inventory models the hosts a rollout run operates on. A target
// can be supplied in one of three shapes: a single address, an explicit
// address list, or a dump of network-adapter addresses. Normalize reduces
// each shape to an ordered list of candidate addresses.
package inventory

import "strings"

// Target is one remote host in one of its input shapes.
type Target interface {
	// Name is the stable identity reported in results. It is the label
	// the target was supplied under, falling back to its first address.
	Name() string
	// Candidates returns the ordered candidate addresses for this target
	// after shape-specific filtering.
	Candidates() []string
}

// SingleAddress is a target known by exactly one address.
type SingleAddress struct {
	Label   string
	Address string
}

func (t SingleAddress) Name() string {
	if t.Label != "" {
		return t.Label
	}
	return t.Address
}

func (t SingleAddress) Candidates() []string {
	if t.Address == "" {
		return nil
	}
	return []string{t.Address}
}

// AddressList is a target with an explicit, ordered list of addresses.
type AddressList struct {
	Label     string
	Addresses []string
}

func (t AddressList) Name() string {
	if t.Label != "" {
		return t.Label
	}
	if len(t.Addresses) > 0 {
		return t.Addresses[0]
	}
	return ""
}

func (t AddressList) Candidates() []string {
	out := make([]string, 0, len(t.Addresses))
	for _, a := range t.Addresses {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// AdapterList is a target described by its network adapters. IPv6-shaped
// entries (anything containing a colon) are excluded.
type AdapterList struct {
	Label    string
	Adapters []string
}

func (t AdapterList) Name() string {
	if t.Label != "" {
		return t.Label
	}
	for _, a := range t.Adapters {
		if a != "" && !strings.Contains(a, ":") {
			return a
		}
	}
	return ""
}

func (t AdapterList) Candidates() []string {
	out := make([]string, 0, len(t.Adapters))
	for _, a := range t.Adapters {
		if a == "" || strings.Contains(a, ":") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Normalize returns the ordered candidate address list for a target.
// A target with no usable addresses yields an empty list.
func Normalize(t Target) []string {
	return t.Candidates()
}
