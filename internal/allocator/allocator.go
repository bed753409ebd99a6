// Package allocator generates machine identifiers of the form
// <prefix>-<random letters> that are unique at a DNS provider, and reserves
// each one by publishing a placeholder AAAA record for it.
//
// Two allocators running at once against the same provider can still pick
// the same free name between the uniqueness check and the write. Claiming
// the name re-reads it and fails when a second record shows up, which
// narrows that window without closing it.
package allocator

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/metrics"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/reconcile"
)

const (
	// DefaultLabelLength is the number of random letters in an identifier.
	DefaultLabelLength = 8
	// DefaultPlaceholder is the address published for a freshly claimed name.
	DefaultPlaceholder = "::1"

	alphabet = "abcdefghijklmnopqrstuvwxyz"
)

// Request describes where and how to allocate an identifier.
type Request struct {
	Zone dns.Zone
	// Network is the domain machine names live under. Empty means the zone
	// apex.
	Network     string
	Prefix      string
	LabelLength int
}

func (r Request) network() string {
	n := strings.ToLower(strings.TrimSuffix(r.Network, "."))
	if n == "" {
		n = r.Zone.Name
	}
	return n
}

// Identifier is an allocated machine name.
type Identifier struct {
	Label    string `json:"machine_id"` // prefix-random
	FQDN     string `json:"fqdn"`
	Network  string `json:"network"`
	Attempts int    `json:"attempts"`
}

// Options configures an Allocator.
type Options struct {
	Rand        io.Reader // nil = crypto/rand.Reader
	Placeholder string    // "" = DefaultPlaceholder
	Metrics     *metrics.Recorder
}

// Allocator finds and claims unused identifiers.
type Allocator struct {
	log         logr.Logger
	engine      *reconcile.Engine
	rand        io.Reader
	placeholder string
	metrics     *metrics.Recorder
}

// New creates an Allocator that commits names through engine.
func New(log logr.Logger, engine *reconcile.Engine, opts Options) *Allocator {
	a := &Allocator{
		log:         log,
		engine:      engine,
		rand:        opts.Rand,
		placeholder: opts.Placeholder,
		metrics:     opts.Metrics,
	}
	if a.rand == nil {
		a.rand = rand.Reader
	}
	if a.placeholder == "" {
		a.placeholder = DefaultPlaceholder
	}
	return a
}

// Allocate draws candidates until one is free at p, then claims it. The loop
// has no attempt limit and only ends on success, a provider error, or ctx
// being done.
func (a *Allocator) Allocate(ctx context.Context, p dns.Provider, req Request) (Identifier, error) {
	if req.LabelLength == 0 {
		req.LabelLength = DefaultLabelLength
	}
	if err := Validate(req); err != nil {
		return Identifier{}, err
	}
	network := req.network()
	log := a.log.WithValues("provider", p.Name(), "network", network)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Identifier{}, fmt.Errorf("allocator: gave up after %d attempts: %w", attempt-1, err)
		}

		random, err := a.randomLabel(req.LabelLength)
		if err != nil {
			return Identifier{}, err
		}
		label := req.Prefix + "-" + random
		fqdn := label + "." + network
		if !validFQDN(fqdn) {
			return Identifier{}, fmt.Errorf("allocator: composed name %q is not a valid FQDN: %w", fqdn, dns.ErrConfiguration)
		}

		free, err := a.unused(ctx, p, req.Zone, fqdn)
		if err != nil {
			a.metrics.Attempt(metrics.AttemptFailed)
			return Identifier{}, err
		}
		if !free {
			log.V(1).Info("candidate already in use", "fqdn", fqdn, "attempt", attempt)
			a.metrics.Attempt(metrics.AttemptCollision)
			continue
		}

		out, err := a.engine.Claim(ctx, p, req.Zone, fqdn, a.placeholder)
		if err != nil {
			a.metrics.Attempt(metrics.AttemptFailed)
			return Identifier{}, fmt.Errorf("allocator: claim %s: %w", fqdn, err)
		}
		if out.Failed() {
			a.metrics.Attempt(metrics.AttemptFailed)
			if out.Err != nil {
				return Identifier{}, fmt.Errorf("allocator: claim %s: %w", fqdn, out.Err)
			}
			return Identifier{}, fmt.Errorf("allocator: claim %s: %s", fqdn, out.Reason)
		}

		a.metrics.Attempt(metrics.AttemptClaimed)
		log.Info("claimed identifier", "fqdn", fqdn, "attempts", attempt)
		return Identifier{Label: label, FQDN: fqdn, Network: network, Attempts: attempt}, nil
	}
}

// AllocateN allocates count identifiers one after another. Names claimed
// earlier in the batch are visible to later uniqueness checks, and a
// duplicate FQDN is treated as an error rather than returned twice.
func (a *Allocator) AllocateN(ctx context.Context, p dns.Provider, req Request, count int) ([]Identifier, error) {
	if count < 1 {
		return nil, fmt.Errorf("allocator: count must be at least 1, got %d: %w", count, dns.ErrConfiguration)
	}
	ids := make([]Identifier, 0, count)
	seen := make(map[string]bool, count)
	for i := 0; i < count; i++ {
		id, err := a.Allocate(ctx, p, req)
		if err != nil {
			return ids, err
		}
		if seen[id.FQDN] {
			return ids, fmt.Errorf("allocator: %s allocated twice in one batch", id.FQDN)
		}
		seen[id.FQDN] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// unused reports whether fqdn has no AAAA record at p. The lookup runs under
// the engine's per-call deadline.
func (a *Allocator) unused(ctx context.Context, p dns.Provider, zone dns.Zone, fqdn string) (bool, error) {
	records, err := a.engine.Records(ctx, p, zone, fqdn)
	if err != nil {
		return false, fmt.Errorf("allocator: checking %s: %w", fqdn, err)
	}
	return len(records) == 0, nil
}

// randomLabel draws n letters uniformly from a-z. Bytes at or above the
// largest multiple of 26 are rejected so that every letter is equally likely.
func (a *Allocator) randomLabel(n int) (string, error) {
	const limit = 256 - 256%len(alphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(a.rand, buf[:n-len(out)]); err != nil {
			return "", fmt.Errorf("allocator: reading randomness: %w", err)
		}
		for _, c := range buf[:n-len(out)] {
			if int(c) < limit {
				out = append(out, alphabet[int(c)%len(alphabet)])
			}
		}
	}
	return string(out), nil
}
