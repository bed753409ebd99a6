package config

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// ProviderConfig holds one DNS provider account: its kind, connection
// settings, and the zones and hosts it manages.
type ProviderConfig struct {
	Name     string            `yaml:"name"`
	Provider string            `yaml:"provider"`
	Settings map[string]string `yaml:"settings"`
	// ZoneIDs pins zone identifiers by zone name, skipping the lookup.
	ZoneIDs map[string]string `yaml:"zone_ids"`
	Zones   ZoneList          `yaml:"zones"`
}

// ZoneHosts is the ordered, de-duplicated set of hosts managed in one zone.
type ZoneHosts struct {
	Zone  string
	Hosts []string
}

// ZoneList keeps zones in document order.
type ZoneList []ZoneHosts

// UnmarshalYAML decodes a "zone: [hosts...]" mapping without losing the
// order in which zones appear in the file.
func (zl *ZoneList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: zones must be a mapping of zone name to host list", value.Line)
	}
	out := make(ZoneList, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		var hosts []string
		if err := val.Decode(&hosts); err != nil {
			return fmt.Errorf("line %d: zone %q: %w", val.Line, key.Value, err)
		}
		out = append(out, ZoneHosts{Zone: normalize(key.Value), Hosts: dedupe(hosts)})
	}
	*zl = out
	return nil
}

// expandSettings expands ${ENV_VAR} references in setting values.
func (pc *ProviderConfig) expandSettings() {
	for k, v := range pc.Settings {
		pc.Settings[k] = os.ExpandEnv(v)
	}
}

// Hosts returns the number of hosts configured for the provider.
func (pc *ProviderConfig) Hosts() int {
	n := 0
	for _, z := range pc.Zones {
		n += len(z.Hosts)
	}
	return n
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
}

func dedupe(hosts []string) []string {
	seen := make(map[string]bool, len(hosts))
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = normalize(h)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}
