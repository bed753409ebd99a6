package allocator

import (
	"fmt"
	"strings"

	mdns "github.com/miekg/dns"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
)

const (
	maxLabelLength   = validation.DNS1123LabelMaxLength     // 63
	maxFQDNLength    = validation.DNS1123SubdomainMaxLength // 253
	maxNetworkLength = maxFQDNLength - maxLabelLength
)

// Validate checks a request before any provider is contacted. Every problem
// found is reported, wrapped in dns.ErrConfiguration.
func Validate(req Request) error {
	var errs []error

	if req.Prefix == "" {
		errs = append(errs, fmt.Errorf("prefix not set"))
	} else if msgs := validation.IsDNS1123Label(req.Prefix); len(msgs) > 0 || strings.Contains(req.Prefix, ".") {
		errs = append(errs, fmt.Errorf("prefix %q is not a proper hostname component %v", req.Prefix, msgs))
	}

	if req.LabelLength < 1 {
		errs = append(errs, fmt.Errorf("label length must be at least 1, got %d", req.LabelLength))
	}
	labelLength := len(req.Prefix) + 1 + req.LabelLength // one "-" between prefix and label
	if labelLength > maxLabelLength {
		errs = append(errs, fmt.Errorf("generated label length %d exceeds %d, cap the prefix at %d characters",
			labelLength, maxLabelLength, maxLabelLength-1-req.LabelLength))
	}

	network := req.network()
	if network == "" {
		errs = append(errs, fmt.Errorf("network not set"))
	} else {
		if msgs := validation.IsDNS1123Subdomain(network); len(msgs) > 0 || !strings.Contains(network, ".") {
			errs = append(errs, fmt.Errorf("network %q is not a proper FQDN %v", network, msgs))
		}
		if len(network) > maxNetworkLength {
			errs = append(errs, fmt.Errorf("network length %d exceeds %d", len(network), maxNetworkLength))
		}
		if labelLength+1+len(network) > maxFQDNLength {
			errs = append(errs, fmt.Errorf("generated FQDN length %d exceeds %d", labelLength+1+len(network), maxFQDNLength))
		}
		if req.Zone.Name != "" && !dns.InZone(network, req.Zone.Name) {
			errs = append(errs, fmt.Errorf("network %q is outside zone %q", network, req.Zone.Name))
		}
	}

	if agg := utilerrors.NewAggregate(errs); agg != nil {
		return fmt.Errorf("allocator: %w: %w", dns.ErrConfiguration, agg)
	}
	return nil
}

// validFQDN applies both the RFC 1123 and the wire-format checks to a
// composed candidate.
func validFQDN(fqdn string) bool {
	if len(validation.IsDNS1123Subdomain(fqdn)) > 0 {
		return false
	}
	_, ok := mdns.IsDomainName(fqdn)
	return ok
}
