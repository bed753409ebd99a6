// Package zone maps host names to provider zone identifiers.
package zone

import (
	"context"
	"fmt"
	"strings"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
)

// Resolve finds the provider zone that host belongs to. The candidate zone
// name is the last two labels of host.
func Resolve(ctx context.Context, p dns.Provider, host string) (dns.Zone, error) {
	name, err := dns.ZoneName(host)
	if err != nil {
		return dns.Zone{}, fmt.Errorf("zone: %w", err)
	}
	return Lookup(ctx, p, name)
}

// Lookup finds the zone called name. The provider must know exactly one
// zone with that name.
func Lookup(ctx context.Context, p dns.Provider, name string) (dns.Zone, error) {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	zones, err := p.ListZones(ctx, name)
	if err != nil {
		return dns.Zone{}, fmt.Errorf("zone: listing %s at %s: %w", name, p.Name(), dns.Classify(err))
	}

	var matches []dns.Zone
	for _, z := range zones {
		if strings.EqualFold(strings.TrimSuffix(z.Name, "."), name) {
			matches = append(matches, z)
		}
	}

	switch len(matches) {
	case 0:
		return dns.Zone{}, fmt.Errorf("zone: %s at %s: %w", name, p.Name(), dns.ErrZoneNotFound)
	case 1:
		return matches[0], nil
	default:
		return dns.Zone{}, fmt.Errorf("zone: %s at %s returned %d items: %w", name, p.Name(), len(matches), dns.ErrAmbiguousZone)
	}
}

// Fixed builds a zone from an explicitly configured identifier, skipping the
// provider lookup.
func Fixed(id, name string) dns.Zone {
	return dns.Zone{ID: id, Name: strings.ToLower(strings.TrimSuffix(name, "."))}
}
