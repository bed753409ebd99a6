package dns

import "context"

// TypeAAAA is the only record type this module manages.
const TypeAAAA = "AAAA"

// Record represents a host address record as seen by a provider.
type Record struct {
	ID      string            // provider-specific identifier, empty until created
	Name    string            // FQDN, e.g. "db.example.com"
	Type    string            // always TypeAAAA
	Value   string            // IPv6 literal
	TTL     int               // 0 = provider default
	Proxied *bool             // Cloudflare proxy flag, nil when the provider has none
	Meta    map[string]string // other provider-specific pass-through fields (e.g. "description")
}

// Zone is a registrable domain managed by a provider.
type Zone struct {
	ID   string
	Name string
}

// Provider is the interface that DNS providers must implement.
//
// ListRecords returns an empty slice, not an error, when nothing matches.
// UpdateRecord fails with ErrNotFound when id no longer exists.
type Provider interface {
	Name() string
	ListZones(ctx context.Context, name string) ([]Zone, error)
	ListRecords(ctx context.Context, zone Zone, name, recordType string) ([]Record, error)
	CreateRecord(ctx context.Context, zone Zone, record Record) (Record, error)
	UpdateRecord(ctx context.Context, zone Zone, id string, record Record) (Record, error)
}
