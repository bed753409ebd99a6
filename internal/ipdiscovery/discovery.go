// Package ipdiscovery finds the public IPv6 address of this machine by asking
// external echo services.
package ipdiscovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// DefaultSources are tried in order until one answers with an IPv6 address.
var DefaultSources = []string{
	"https://api6.ipify.org/",
	"https://www.trackip.net/ip",
	"https://ipapi.co/ip",
}

// DefaultTimeout bounds each source request.
const DefaultTimeout = 5 * time.Second

// ErrNoAddress is returned when no source produced an IPv6 address.
var ErrNoAddress = errors.New("could not find ipv6 address")

// maxBody caps how much of a response is read. An address is at most 45
// characters; anything much longer is not an answer.
const maxBody = 256

// Discoverer queries address echo services.
type Discoverer struct {
	log     logr.Logger
	sources []string
	client  *http.Client
}

// New creates a Discoverer. Empty sources means DefaultSources and a
// non-positive timeout means DefaultTimeout.
func New(log logr.Logger, sources []string, timeout time.Duration) *Discoverer {
	if len(sources) == 0 {
		sources = DefaultSources
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Discoverer{log: log, sources: sources, client: &http.Client{Timeout: timeout}}
}

// Discover returns the first valid IPv6 address reported by a source. When
// all sources fail, the error wraps ErrNoAddress and every source's failure.
func (d *Discoverer) Discover(ctx context.Context) (netip.Addr, error) {
	var errs []error
	for _, src := range d.sources {
		addr, err := d.query(ctx, src)
		if err == nil {
			d.log.V(1).Info("discovered address", "source", src, "address", addr)
			return addr, nil
		}
		d.log.V(1).Info("address source failed", "source", src, "error", err.Error())
		errs = append(errs, fmt.Errorf("%s: %w", src, err))
		if ctx.Err() != nil {
			break
		}
	}
	return netip.Addr{}, fmt.Errorf("%w: %w", ErrNoAddress, errors.Join(errs...))
}

func (d *Discoverer) query(ctx context.Context, src string) (netip.Addr, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return netip.Addr{}, err
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := d.client.Do(req)
	if err != nil {
		return netip.Addr{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return netip.Addr{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	return Parse(string(body))
}

// Parse accepts a textual IPv6 address. IPv4 and IPv4-mapped addresses are
// rejected, as are zoned addresses.
func Parse(s string) (netip.Addr, error) {
	s = strings.TrimSpace(s)
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%q is not an IP address", s)
	}
	if !addr.Is6() || addr.Is4In6() || addr.Zone() != "" {
		return netip.Addr{}, fmt.Errorf("%q is not an IPv6 address", s)
	}
	return addr, nil
}
