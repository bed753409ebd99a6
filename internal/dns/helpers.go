package dns

import (
	"fmt"
	"strings"
)

// ZoneName derives the registrable domain of a host from its last two labels.
// e.g. "db.mac.corpdk.com" → "corpdk.com"
func ZoneName(host string) (string, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	labels := strings.Split(host, ".")
	if len(labels) < 2 || labels[len(labels)-1] == "" || labels[len(labels)-2] == "" {
		return "", fmt.Errorf("cannot derive zone from %q: %w", host, ErrConfiguration)
	}
	return strings.Join(labels[len(labels)-2:], "."), nil
}

// RelativeName strips the zone suffix from fqdn. The zone apex becomes "".
// e.g. ("sub.app.example.com", "example.com") → "sub.app"
func RelativeName(fqdn, zone string) string {
	fqdn = strings.TrimSuffix(fqdn, ".")
	zone = strings.TrimSuffix(zone, ".")
	if strings.EqualFold(fqdn, zone) {
		return ""
	}
	suffix := "." + zone
	if len(fqdn) > len(suffix) && strings.EqualFold(fqdn[len(fqdn)-len(suffix):], suffix) {
		return fqdn[:len(fqdn)-len(suffix)]
	}
	return fqdn
}

// InZone reports whether fqdn is zone itself or a name below it.
func InZone(fqdn, zone string) bool {
	fqdn = strings.TrimSuffix(fqdn, ".")
	zone = strings.TrimSuffix(zone, ".")
	if zone == "" {
		return false
	}
	return strings.EqualFold(fqdn, zone) || RelativeName(fqdn, zone) != fqdn
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
