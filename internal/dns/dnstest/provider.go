// Package dnstest provides an in-memory dns.Provider for tests.
package dnstest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
)

// Provider is an in-memory dns.Provider that records every call.
type Provider struct {
	mu     sync.Mutex
	name   string
	zones  []dns.Zone
	store  map[string]dns.Record // keyed by record ID
	order  []string
	nextID int

	// Hooks that let a test inject failures. A non-nil return value is
	// returned to the caller instead of performing the operation.
	ListErr   func(name string) error
	CreateErr func(record dns.Record) error
	UpdateErr func(id string, record dns.Record) error
	ZonesErr  func(name string) error

	// DropWrites accepts writes but never applies them, simulating a provider
	// that lags or silently discards fields.
	DropWrites bool
	// DropUpdate, when set, decides per record ID whether an accepted update
	// is discarded.
	DropUpdate func(id string) bool

	Lists   []string // names passed to ListRecords, in order
	Creates []dns.Record
	Updates []dns.Record
}

// New creates an empty fake provider serving the given zones.
func New(name string, zones ...dns.Zone) *Provider {
	return &Provider{name: name, zones: zones, store: map[string]dns.Record{}}
}

// Seed stores records without counting them as writes. It returns the IDs
// assigned to them.
func (p *Provider) Seed(records ...dns.Record) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, p.put(r))
	}
	return ids
}

// Delete removes a record by ID, simulating drift behind the engine's back.
func (p *Provider) Delete(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.store, id)
}

// Records returns a snapshot of the stored records in insertion order.
func (p *Provider) Records() []dns.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]dns.Record, 0, len(p.store))
	for _, id := range p.order {
		if r, ok := p.store[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Writes returns the number of create and update calls received.
func (p *Provider) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Creates) + len(p.Updates)
}

func (p *Provider) put(r dns.Record) string {
	if r.ID == "" {
		p.nextID++
		r.ID = fmt.Sprintf("rec-%d", p.nextID)
	}
	if r.Type == "" {
		r.Type = dns.TypeAAAA
	}
	if _, exists := p.store[r.ID]; !exists {
		p.order = append(p.order, r.ID)
	}
	p.store[r.ID] = r
	return r.ID
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) ListZones(_ context.Context, name string) ([]dns.Zone, error) {
	if p.ZonesErr != nil {
		if err := p.ZonesErr(name); err != nil {
			return nil, err
		}
	}
	var out []dns.Zone
	for _, z := range p.zones {
		if strings.EqualFold(z.Name, name) {
			out = append(out, z)
		}
	}
	return out, nil
}

func (p *Provider) ListRecords(ctx context.Context, _ dns.Zone, name, recordType string) ([]dns.Record, error) {
	p.mu.Lock()
	p.Lists = append(p.Lists, name)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, dns.Classify(err)
	}
	if p.ListErr != nil {
		if err := p.ListErr(name); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := []dns.Record{}
	for _, id := range p.order {
		r, ok := p.store[id]
		if !ok {
			continue
		}
		if strings.EqualFold(r.Name, name) && r.Type == recordType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *Provider) CreateRecord(_ context.Context, _ dns.Zone, record dns.Record) (dns.Record, error) {
	p.mu.Lock()
	p.Creates = append(p.Creates, record)
	p.mu.Unlock()

	if p.CreateErr != nil {
		if err := p.CreateErr(record); err != nil {
			return dns.Record{}, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DropWrites {
		return record, nil
	}
	record.ID = ""
	record.ID = p.put(record)
	return record, nil
}

func (p *Provider) UpdateRecord(_ context.Context, _ dns.Zone, id string, record dns.Record) (dns.Record, error) {
	p.mu.Lock()
	p.Updates = append(p.Updates, record)
	p.mu.Unlock()

	if p.UpdateErr != nil {
		if err := p.UpdateErr(id, record); err != nil {
			return dns.Record{}, err
		}
	}

	drop := p.DropUpdate != nil && p.DropUpdate(id)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.store[id]; !ok {
		return dns.Record{}, fmt.Errorf("dnstest: update %s: %w", id, dns.ErrNotFound)
	}
	record.ID = id
	if p.DropWrites || drop {
		return record, nil
	}
	p.put(record)
	return record, nil
}
