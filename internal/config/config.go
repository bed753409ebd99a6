package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
)

// Config is the provider → zone → host mapping plus run-wide defaults.
type Config struct {
	Defaults  Defaults         `yaml:"defaults"`
	Providers []ProviderConfig `yaml:"providers"`
}

// Defaults holds run-wide tuning. Zero values mean "use the built-in default".
type Defaults struct {
	TTL         int           `yaml:"ttl"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	Retries     int           `yaml:"retries"`
	Parallel    bool          `yaml:"parallel"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w: %w", dns.ErrConfiguration, err)
	}

	for i := range cfg.Providers {
		pc := &cfg.Providers[i]
		if pc.Name == "" {
			pc.Name = pc.Provider
		}
		pc.expandSettings()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every name in the configuration. It never touches the
// network, so a malformed file aborts the run before any provider is called.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Providers) == 0 {
		errs = append(errs, fmt.Errorf("no providers configured"))
	}

	names := make(map[string]bool, len(c.Providers))
	for _, pc := range c.Providers {
		if pc.Provider == "" {
			errs = append(errs, fmt.Errorf("provider %q: missing required field 'provider'", pc.Name))
		}
		if names[pc.Name] {
			errs = append(errs, fmt.Errorf("provider %q: duplicate name", pc.Name))
		}
		names[pc.Name] = true

		if pc.Hosts() == 0 {
			errs = append(errs, fmt.Errorf("provider %q: no hosts configured", pc.Name))
		}
		for _, z := range pc.Zones {
			errs = append(errs, validateZone(pc.Name, z)...)
		}
	}

	if agg := utilerrors.NewAggregate(errs); agg != nil {
		return fmt.Errorf("config: %w: %w", dns.ErrConfiguration, agg)
	}
	return nil
}

func validateZone(provider string, z ZoneHosts) []error {
	var errs []error
	if msgs := validation.IsDNS1123Subdomain(z.Zone); len(msgs) > 0 || !strings.Contains(z.Zone, ".") {
		errs = append(errs, fmt.Errorf("provider %q: zone %q is not a valid domain %v", provider, z.Zone, msgs))
	}
	for _, h := range z.Hosts {
		if msgs := validation.IsDNS1123Subdomain(h); len(msgs) > 0 {
			errs = append(errs, fmt.Errorf("provider %q: host %q is not a valid FQDN %v", provider, h, msgs))
			continue
		}
		if !dns.InZone(h, z.Zone) {
			errs = append(errs, fmt.Errorf("provider %q: host %q is outside zone %q", provider, h, z.Zone))
		}
	}
	return errs
}

// LoadHostsFile reads a plain host list, one FQDN per line. Blank lines,
// comments and lines that are not valid FQDNs are skipped. Hosts are grouped
// by their derived zone in first-seen order.
func LoadHostsFile(path string) (ZoneList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading hosts file: %w", err)
	}
	defer f.Close()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := normalize(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(validation.IsDNS1123Subdomain(line)) > 0 || !strings.Contains(line, ".") {
			continue
		}
		hosts = append(hosts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading hosts file: %w", err)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("hosts file %s: no valid FQDN specified: %w", path, dns.ErrConfiguration)
	}

	var zones ZoneList
	index := map[string]int{}
	for _, h := range dedupe(hosts) {
		zone, err := dns.ZoneName(h)
		if err != nil {
			return nil, err
		}
		i, ok := index[zone]
		if !ok {
			i = len(zones)
			index[zone] = i
			zones = append(zones, ZoneHosts{Zone: zone})
		}
		zones[i].Hosts = append(zones[i].Hosts, h)
	}
	return zones, nil
}
