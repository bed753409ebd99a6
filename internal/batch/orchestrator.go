// Package batch drives the reconcile engine over every configured provider,
// zone and host, and gathers the outcomes into a single run result.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/metrics"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/reconcile"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/zone"
)

// DefaultBackoff spaces out the attempts made for a host whose reconcile
// failed transiently. Steps is the total number of attempts.
var DefaultBackoff = wait.Backoff{
	Steps:    3,
	Duration: 500 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
}

// Target is one configured provider account with the hosts it manages.
type Target struct {
	Name     string
	Provider dns.Provider
	Zones    config.ZoneList
	// ZoneIDs pins zone identifiers by zone name.
	ZoneIDs map[string]string
}

// Options configures an Orchestrator.
type Options struct {
	// Retries overrides Backoff.Steps when positive.
	Retries  int
	Backoff  wait.Backoff // zero = DefaultBackoff
	Parallel bool
	// CallTimeout bounds each zone lookup. 0 = reconcile.DefaultCallTimeout.
	CallTimeout time.Duration
	Metrics     *metrics.Recorder
}

// Orchestrator runs a batch of reconciles.
type Orchestrator struct {
	log      logr.Logger
	engine   *reconcile.Engine
	backoff  wait.Backoff
	parallel bool
	timeout  time.Duration
	metrics  *metrics.Recorder
}

// New creates an Orchestrator.
func New(log logr.Logger, engine *reconcile.Engine, opts Options) *Orchestrator {
	backoff := opts.Backoff
	if backoff.Steps == 0 && backoff.Duration == 0 {
		backoff = DefaultBackoff
	}
	if opts.Retries > 0 {
		backoff.Steps = opts.Retries
	}
	if backoff.Steps < 1 {
		backoff.Steps = 1
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = reconcile.DefaultCallTimeout
	}
	return &Orchestrator{
		log:      log,
		engine:   engine,
		backoff:  backoff,
		parallel: opts.Parallel,
		timeout:  timeout,
		metrics:  opts.Metrics,
	}
}

// Run reconciles every host of every target onto value. Host failures are
// collected, never raised; a provider whose zone cannot be resolved or whose
// credentials are rejected is skipped for the rest of the run.
func (o *Orchestrator) Run(ctx context.Context, targets []Target, value string) *Result {
	parts := make([]*Result, len(targets))

	if o.parallel && len(targets) > 1 {
		var g errgroup.Group
		for i := range targets {
			g.Go(func() error {
				parts[i] = o.runTarget(ctx, targets[i], value)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range targets {
			parts[i] = o.runTarget(ctx, targets[i], value)
		}
	}

	res := &Result{Value: value}
	for _, p := range parts {
		res.Outcomes = append(res.Outcomes, p.Outcomes...)
		res.ProviderErrors = append(res.ProviderErrors, p.ProviderErrors...)
	}
	o.metrics.Finished(time.Now())
	return res
}

func (o *Orchestrator) runTarget(ctx context.Context, t Target, value string) *Result {
	log := o.log.WithValues("provider", t.Name)
	res := &Result{Value: value}

	abort := func(zoneName string, err error) *Result {
		log.Error(err, "aborting provider", "zone", zoneName)
		o.metrics.ProviderError(t.Name)
		res.ProviderErrors = append(res.ProviderErrors, ProviderError{Provider: t.Name, Zone: zoneName, Err: err})
		return res
	}

	for _, zh := range t.Zones {
		if err := ctx.Err(); err != nil {
			return abort(zh.Zone, err)
		}

		z, err := o.resolve(ctx, t, zh.Zone)
		if err != nil {
			return abort(zh.Zone, err)
		}
		log.V(1).Info("resolved zone", "zone", z.Name, "id", z.ID, "hosts", len(zh.Hosts))

		for _, host := range zh.Hosts {
			if err := ctx.Err(); err != nil {
				return abort(zh.Zone, err)
			}
			out, err := o.reconcile(ctx, t, z, host, value)
			if err != nil {
				// The provider error names the host that triggered it.
				return abort(zh.Zone, err)
			}
			out.Provider = t.Name
			res.Outcomes = append(res.Outcomes, out)
		}
	}
	return res
}

// resolve finds the zone, honouring a pinned identifier. Transient lookup
// failures are retried like host reconciles.
func (o *Orchestrator) resolve(ctx context.Context, t Target, name string) (dns.Zone, error) {
	if id := t.ZoneIDs[name]; id != "" {
		return zone.Fixed(id, name), nil
	}
	var z dns.Zone
	err := retry.OnError(o.backoff, isTransient, func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()
		var err error
		z, err = zone.Lookup(callCtx, t.Provider, name)
		return err
	})
	return z, err
}

// reconcile runs one host through the engine, starting over while the
// failure is transient. Reconcile re-reads state on every attempt, so a
// repeat never double-applies a write.
func (o *Orchestrator) reconcile(ctx context.Context, t Target, z dns.Zone, host, value string) (reconcile.Outcome, error) {
	start := time.Now()
	var out reconcile.Outcome
	attempts := 0
	err := retry.OnError(o.backoff, isTransient, func() error {
		attempts++
		var err error
		out, err = o.engine.Reconcile(ctx, t.Provider, z, host, value)
		if err != nil {
			return err
		}
		if out.Failed() && errors.Is(out.Err, dns.ErrTransient) {
			return out.Err
		}
		return nil
	})
	if attempts > 1 {
		o.log.V(1).Info("host needed several attempts", "provider", t.Name, "host", host, "attempts", attempts)
	}
	o.metrics.Outcome(t.Name, string(out.Action), time.Since(start))

	// Exhausted transient retries leave the last failed outcome in out; only
	// errors the engine itself raised abort the provider.
	if err != nil && dns.IsFatal(err) {
		return out, fmt.Errorf("%s: %w", host, err)
	}
	return out, nil
}

func isTransient(err error) bool {
	return errors.Is(err, dns.ErrTransient)
}
