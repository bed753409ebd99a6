// Package reconcile converges a host's AAAA record at a provider onto a
// desired address with the minimal set of API calls, and verifies every
// write by re-reading live state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
)

const (
	// DefaultTTL is the expiry given to every created record.
	DefaultTTL = 60
	// DefaultCallTimeout bounds each individual provider call.
	DefaultCallTimeout = 5 * time.Second
)

// Options configures an Engine.
type Options struct {
	TTL         int           // 0 = DefaultTTL
	CallTimeout time.Duration // 0 = DefaultCallTimeout
	Progress    io.Writer     // receives UNCHANGED/UPDATED/CREATED lines; nil discards them
}

// Engine reconciles single hosts. It is safe for concurrent use by
// goroutines driving different providers.
type Engine struct {
	log     logr.Logger
	ttl     int
	timeout time.Duration

	mu  sync.Mutex // serializes progress lines
	out io.Writer
}

// NewEngine creates an Engine.
func NewEngine(log logr.Logger, opts Options) *Engine {
	e := &Engine{
		log:     log,
		ttl:     opts.TTL,
		timeout: opts.CallTimeout,
		out:     opts.Progress,
	}
	if e.ttl <= 0 {
		e.ttl = DefaultTTL
	}
	if e.timeout <= 0 {
		e.timeout = DefaultCallTimeout
	}
	if e.out == nil {
		e.out = io.Discard
	}
	return e
}

// Reconcile converges host's AAAA records onto target.
//
// Every matching record is considered on its own: records already holding
// target are left alone, each stale one is updated and verified. Only when
// the provider returned no record at all is one created.
//
// The returned error is non-nil only for failures that invalidate the whole
// provider (ErrAuth). All other failures are reported through a Failed
// outcome.
func (e *Engine) Reconcile(ctx context.Context, p dns.Provider, zone dns.Zone, host, target string) (Outcome, error) {
	log := e.log.WithValues("provider", p.Name(), "zone", zone.Name, "host", host)

	records, err := e.list(ctx, p, zone, host)
	if err != nil {
		return e.fail(log, host, "list records", err)
	}
	log.V(1).Info("fetched current records", "count", len(records))

	var (
		previous []string
		matched  bool
		created  bool
		fellBack bool
	)
	for _, rec := range records {
		if rec.Value == target {
			matched = true
			e.printf("UNCHANGED %s %s", host, target)
			continue
		}

		desired := dns.Record{
			Name:    host,
			Type:    dns.TypeAAAA,
			Value:   target,
			TTL:     rec.TTL,
			Proxied: rec.Proxied,
			Meta:    rec.Meta,
		}
		reason := ReasonUpdateMismatch
		recreated := false

		log.V(1).Info("updating stale record", "id", rec.ID, "old", rec.Value, "new", target)
		var written dns.Record
		err := e.call(ctx, func(ctx context.Context) error {
			var err error
			written, err = p.UpdateRecord(ctx, zone, rec.ID, desired)
			return err
		})
		if errors.Is(err, dns.ErrNotFound) && !fellBack {
			// The record vanished between list and update; create it once instead.
			fellBack = true
			recreated = true
			reason = ReasonCreateMismatch
			log.Info("record disappeared before update, falling back to create", "id", rec.ID)
			if desired.TTL == 0 {
				desired.TTL = e.ttl
			}
			err = e.call(ctx, func(ctx context.Context) error {
				var err error
				written, err = p.CreateRecord(ctx, zone, desired)
				return err
			})
		}
		if err != nil {
			return e.fail(log, host, "update record", err)
		}

		ok, err := e.verify(ctx, p, zone, host, func(rs []dns.Record) bool {
			return rewritten(rs, rec, written, target)
		})
		if err != nil {
			return e.fail(log, host, "verify update", err)
		}
		if !ok {
			log.Info("write accepted but not observable", "reason", reason, "id", rec.ID)
			return Failed(host, reason, nil), nil
		}

		if recreated {
			e.printf("CREATED %s %s", host, target)
			created = true
		} else {
			e.printf("UPDATED %s %s -> %s", host, rec.Value, target)
			previous = append(previous, rec.Value)
		}
		matched = true
	}

	switch {
	case len(previous) > 0:
		return Updated(host, target, previous...), nil
	case created:
		return Created(host, target), nil
	case matched:
		return Unchanged(host, target), nil
	}
	return e.create(ctx, p, zone, host, target, false)
}

// Create writes a new record for name and confirms value is visible
// afterwards. It does not look for existing records first.
func (e *Engine) Create(ctx context.Context, p dns.Provider, zone dns.Zone, name, value string) (Outcome, error) {
	return e.create(ctx, p, zone, name, value, false)
}

// Claim is Create with a stricter check: after the write, name must hold
// exactly one record and it must carry value. A second record means another
// writer raced us to the name.
func (e *Engine) Claim(ctx context.Context, p dns.Provider, zone dns.Zone, name, value string) (Outcome, error) {
	return e.create(ctx, p, zone, name, value, true)
}

func (e *Engine) create(ctx context.Context, p dns.Provider, zone dns.Zone, name, value string, exclusive bool) (Outcome, error) {
	log := e.log.WithValues("provider", p.Name(), "zone", zone.Name, "host", name)

	record := dns.Record{Name: name, Type: dns.TypeAAAA, Value: value, TTL: e.ttl}
	log.V(1).Info("creating record", "value", value, "ttl", e.ttl)
	err := e.call(ctx, func(ctx context.Context) error {
		_, err := p.CreateRecord(ctx, zone, record)
		return err
	})
	if err != nil {
		return e.fail(log, name, "create record", err)
	}

	check := func(rs []dns.Record) bool { return containsValue(rs, value) }
	if exclusive {
		check = func(rs []dns.Record) bool { return len(rs) == 1 && rs[0].Value == value }
	}
	ok, err := e.verify(ctx, p, zone, name, check)
	if err != nil {
		return e.fail(log, name, "verify create", err)
	}
	if !ok {
		log.Info("write accepted but not observable", "reason", ReasonCreateMismatch)
		return Failed(name, ReasonCreateMismatch, nil), nil
	}

	e.printf("CREATED %s %s", name, value)
	return Created(name, value), nil
}

// Records lists name's AAAA records under the per-call deadline.
func (e *Engine) Records(ctx context.Context, p dns.Provider, zone dns.Zone, name string) ([]dns.Record, error) {
	return e.list(ctx, p, zone, name)
}

// verify re-reads live state. Nothing is cached between a write and its check.
func (e *Engine) verify(ctx context.Context, p dns.Provider, zone dns.Zone, name string, ok func([]dns.Record) bool) (bool, error) {
	records, err := e.list(ctx, p, zone, name)
	if err != nil {
		return false, err
	}
	return ok(records), nil
}

func (e *Engine) list(ctx context.Context, p dns.Provider, zone dns.Zone, name string) ([]dns.Record, error) {
	var records []dns.Record
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		records, err = p.ListRecords(ctx, zone, name, dns.TypeAAAA)
		return err
	})
	return records, err
}

// call runs fn under the per-call deadline. A timed-out call is transient.
func (e *Engine) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return dns.Classify(fn(callCtx))
}

func (e *Engine) fail(log logr.Logger, host, op string, err error) (Outcome, error) {
	err = fmt.Errorf("%s: %w", op, err)
	log.Error(err, "reconcile failed")
	out := Failed(host, err.Error(), err)
	if errors.Is(err, dns.ErrAuth) {
		return out, err
	}
	return out, nil
}

func (e *Engine) printf(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.out, format+"\n", args...)
}

// rewritten reports whether the write that replaced stale is visible in rs.
// A sibling record already holding target proves nothing, so the rewritten
// record is found by the stale record's ID, then by the ID the provider
// returned. Providers that use the value as the ID drop the stale ID once the
// write lands.
func rewritten(rs []dns.Record, stale, written dns.Record, target string) bool {
	if stale.ID != "" {
		for _, r := range rs {
			if r.ID == stale.ID {
				return r.Value == target
			}
		}
	}
	if written.ID != "" {
		for _, r := range rs {
			if r.ID == written.ID {
				return r.Value == target
			}
		}
		return false
	}
	return containsValue(rs, target)
}

func containsValue(records []dns.Record, value string) bool {
	for _, r := range records {
		if r.Value == value {
			return true
		}
	}
	return false
}
