// Package rfc2136 implements dns.Provider as RFC 2136 dynamic updates sent
// to an authoritative primary, optionally signed with TSIG.
package rfc2136

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/go-logr/logr"
	mdns "github.com/miekg/dns"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
)

const (
	defaultTTL      = 60
	tsigFudge       = 300
	defaultTSIGAlgo = mdns.HmacSHA256
)

func init() {
	dns.Register("rfc2136", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

// Provider implements dns.Provider for any server accepting dynamic updates.
type Provider struct {
	server   string
	tsigKey  string
	tsigAlgo string
	client   *mdns.Client
	log      logr.Logger
}

// New creates an RFC 2136 provider from the given settings map.
// Required settings: server (host:port, port defaults to 53).
// Optional settings: tsig_key, tsig_secret, tsig_algorithm (default
// hmac-sha256), net (udp or tcp, default udp), timeout (default 5s).
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	server := settings["server"]
	if server == "" {
		return nil, fmt.Errorf("rfc2136: missing required setting 'server': %w", dns.ErrConfiguration)
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	timeout := 5 * time.Second
	if v := settings["timeout"]; v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("rfc2136: invalid timeout %q: %w: %w", v, dns.ErrConfiguration, err)
		}
		timeout = parsed
	}

	network := settings["net"]
	switch network {
	case "":
		network = "udp"
	case "udp", "tcp":
	default:
		return nil, fmt.Errorf("rfc2136: invalid net %q: %w", network, dns.ErrConfiguration)
	}

	p := &Provider{
		server: server,
		client: &mdns.Client{Net: network, Timeout: timeout},
		log:    log,
	}

	if key := settings["tsig_key"]; key != "" {
		secret := settings["tsig_secret"]
		if secret == "" {
			return nil, fmt.Errorf("rfc2136: tsig_key set without tsig_secret: %w", dns.ErrConfiguration)
		}
		p.tsigKey = mdns.Fqdn(key)
		p.tsigAlgo = defaultTSIGAlgo
		if a := settings["tsig_algorithm"]; a != "" {
			p.tsigAlgo = mdns.Fqdn(strings.ToLower(a))
		}
		p.client.TsigSecret = map[string]string{p.tsigKey: secret}
	}
	return p, nil
}

func (p *Provider) Name() string { return "rfc2136" }

// exchange sends m and maps transport failures and response codes onto the
// error taxonomy. NXDOMAIN on a query is an empty answer, not an error.
func (p *Provider) exchange(ctx context.Context, op string, m *mdns.Msg) (*mdns.Msg, error) {
	if p.tsigKey != "" {
		m.SetTsig(p.tsigKey, p.tsigAlgo, tsigFudge, time.Now().Unix())
	}
	in, _, err := p.client.ExchangeContext(ctx, m, p.server)
	if err != nil {
		if errors.Is(err, mdns.ErrSig) || errors.Is(err, mdns.ErrSecret) || errors.Is(err, mdns.ErrTime) {
			return nil, fmt.Errorf("rfc2136: %s: %w: %w", op, dns.ErrAuth, err)
		}
		return nil, fmt.Errorf("rfc2136: %s: %w: %w", op, dns.ErrTransient, err)
	}
	switch {
	case in.Rcode == mdns.RcodeSuccess:
		return in, nil
	case in.Rcode == mdns.RcodeNameError && m.Opcode == mdns.OpcodeQuery:
		return in, nil
	}
	return nil, rcodeError(op, in.Rcode)
}

func rcodeError(op string, rcode int) error {
	var kind error
	switch rcode {
	case mdns.RcodeNotAuth, mdns.RcodeRefused, mdns.RcodeBadSig:
		kind = dns.ErrAuth
	case mdns.RcodeNXRrset, mdns.RcodeNameError:
		kind = dns.ErrNotFound
	case mdns.RcodeServerFailure:
		kind = dns.ErrTransient
	default:
		kind = dns.ErrValidation
	}
	return fmt.Errorf("rfc2136: %s: server answered %s: %w", op, mdns.RcodeToString[rcode], kind)
}

// ListZones asks the server for the SOA of name. The zone exists when the
// server answers with a SOA owned by name itself.
func (p *Provider) ListZones(ctx context.Context, name string) ([]dns.Zone, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), mdns.TypeSOA)
	in, err := p.exchange(ctx, "SOA "+name, m)
	if err != nil {
		return nil, err
	}

	zones := []dns.Zone{}
	for _, rr := range in.Answer {
		if soa, ok := rr.(*mdns.SOA); ok && strings.EqualFold(soa.Hdr.Name, mdns.Fqdn(name)) {
			zones = append(zones, dns.Zone{ID: name, Name: name})
		}
	}
	return zones, nil
}

// ListRecords queries the server for name. Record identifiers are the
// address literals themselves since the protocol has no other handle.
func (p *Provider) ListRecords(ctx context.Context, _ dns.Zone, name, recordType string) ([]dns.Record, error) {
	qtype, ok := mdns.StringToType[recordType]
	if !ok {
		return nil, fmt.Errorf("rfc2136: unsupported record type %q: %w", recordType, dns.ErrValidation)
	}

	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), qtype)
	in, err := p.exchange(ctx, recordType+" "+name, m)
	if err != nil {
		return nil, err
	}

	records := []dns.Record{}
	for _, rr := range in.Answer {
		aaaa, ok := rr.(*mdns.AAAA)
		if !ok || !strings.EqualFold(aaaa.Hdr.Name, mdns.Fqdn(name)) {
			continue
		}
		addr, ok := netip.AddrFromSlice(aaaa.AAAA)
		if !ok {
			continue
		}
		value := addr.String()
		records = append(records, dns.Record{
			ID:    value,
			Name:  strings.TrimSuffix(name, "."),
			Type:  recordType,
			Value: value,
			TTL:   int(aaaa.Hdr.Ttl),
		})
	}
	p.log.V(1).Info("listed records", "name", name, "type", recordType, "count", len(records))
	return records, nil
}

func newAAAA(name, value string, ttl int) (*mdns.AAAA, error) {
	addr, err := netip.ParseAddr(value)
	if err != nil || !addr.Is6() || addr.Is4In6() {
		return nil, fmt.Errorf("rfc2136: %q is not an IPv6 address: %w", value, dns.ErrValidation)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &mdns.AAAA{
		Hdr:  mdns.RR_Header{Name: mdns.Fqdn(name), Rrtype: mdns.TypeAAAA, Class: mdns.ClassINET, Ttl: uint32(ttl)},
		AAAA: net.IP(addr.AsSlice()),
	}, nil
}

// CreateRecord adds record to zone with a single insert.
func (p *Provider) CreateRecord(ctx context.Context, zone dns.Zone, record dns.Record) (dns.Record, error) {
	if !dns.InZone(record.Name, zone.Name) {
		return dns.Record{}, fmt.Errorf("rfc2136: %s is outside zone %s: %w", record.Name, zone.Name, dns.ErrValidation)
	}
	rr, err := newAAAA(record.Name, record.Value, record.TTL)
	if err != nil {
		return dns.Record{}, err
	}
	p.log.Info("creating record", "name", record.Name, "value", record.Value)

	m := new(mdns.Msg)
	m.SetUpdate(mdns.Fqdn(zone.Name))
	m.Insert([]mdns.RR{rr})
	if _, err := p.exchange(ctx, "UPDATE "+zone.Name, m); err != nil {
		return dns.Record{}, err
	}

	record.ID = record.Value
	record.TTL = int(rr.Hdr.Ttl)
	return record, nil
}

// UpdateRecord replaces the address id with record's value. The update is
// conditional on id still being present, so a concurrent removal surfaces as
// dns.ErrNotFound.
func (p *Provider) UpdateRecord(ctx context.Context, zone dns.Zone, id string, record dns.Record) (dns.Record, error) {
	old, err := newAAAA(record.Name, id, record.TTL)
	if err != nil {
		return dns.Record{}, fmt.Errorf("rfc2136: record id %q: %w", id, dns.ErrNotFound)
	}
	rr, err := newAAAA(record.Name, record.Value, record.TTL)
	if err != nil {
		return dns.Record{}, err
	}
	p.log.Info("updating record", "name", record.Name, "old", id, "value", record.Value)

	m := new(mdns.Msg)
	m.SetUpdate(mdns.Fqdn(zone.Name))
	prereq := *old
	m.Used([]mdns.RR{&prereq})
	m.Remove([]mdns.RR{old})
	m.Insert([]mdns.RR{rr})
	if _, err := p.exchange(ctx, "UPDATE "+zone.Name, m); err != nil {
		return dns.Record{}, err
	}

	record.ID = record.Value
	record.TTL = int(rr.Hdr.Ttl)
	return record, nil
}
