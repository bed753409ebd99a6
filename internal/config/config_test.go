package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	content := `defaults:
  ttl: 120
  call_timeout: 3s
  retries: 2
providers:
  - name: cf-main
    provider: cloudflare
    settings:
      api_token: "token"
    zones:
      example.com:
        - db.example.com
        - www.example.com
        - DB.example.com.
      corpdk.com:
        - rpi4-abcdefgh.mac.corpdk.com
  - provider: opnsense
    settings:
      base_url: "https://opnsense.local/api"
    zones:
      home.arpa.net:
        - nas.home.arpa.net
`
	cfg, err := LoadConfig(writeFile(t, "ddns.yaml", content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Defaults.TTL != 120 || cfg.Defaults.CallTimeout != 3*time.Second || cfg.Defaults.Retries != 2 {
		t.Errorf("unexpected defaults: %+v", cfg.Defaults)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(cfg.Providers))
	}

	cf := cfg.Providers[0]
	if cf.Name != "cf-main" || cf.Provider != "cloudflare" {
		t.Errorf("unexpected provider %+v", cf)
	}
	if len(cf.Zones) != 2 {
		t.Fatalf("expected 2 zones, got %d", len(cf.Zones))
	}
	// Document order is kept.
	if cf.Zones[0].Zone != "example.com" || cf.Zones[1].Zone != "corpdk.com" {
		t.Errorf("zones out of order: %+v", cf.Zones)
	}
	// Duplicate host (case and trailing dot) is dropped.
	want := []string{"db.example.com", "www.example.com"}
	if len(cf.Zones[0].Hosts) != len(want) {
		t.Fatalf("expected hosts %v, got %v", want, cf.Zones[0].Hosts)
	}
	for i, h := range want {
		if cf.Zones[0].Hosts[i] != h {
			t.Errorf("host %d: got %q, want %q", i, cf.Zones[0].Hosts[i], h)
		}
	}

	// Name defaults to the provider kind.
	if cfg.Providers[1].Name != "opnsense" {
		t.Errorf("expected name to default to 'opnsense', got %q", cfg.Providers[1].Name)
	}
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no providers", "providers: []\n"},
		{"missing kind", `providers:
  - name: x
    zones:
      example.com: [db.example.com]
`},
		{"host outside zone", `providers:
  - provider: cloudflare
    zones:
      example.com: [db.example.org]
`},
		{"malformed host", `providers:
  - provider: cloudflare
    zones:
      example.com: [db_bad!.example.com]
`},
		{"single label zone", `providers:
  - provider: cloudflare
    zones:
      localhost: [localhost]
`},
		{"duplicate names", `providers:
  - provider: cloudflare
    zones:
      example.com: [a.example.com]
  - provider: cloudflare
    zones:
      example.com: [b.example.com]
`},
		{"zones not a mapping", `providers:
  - provider: cloudflare
    zones:
      - example.com
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "ddns.yaml", tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoadConfig_ValidationIsConfigurationError(t *testing.T) {
	content := `providers:
  - provider: cloudflare
    zones:
      example.com: [db.example.org]
`
	_, err := LoadConfig(writeFile(t, "ddns.yaml", content))
	if !errors.Is(err, dns.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/ddns.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadHostsFile(t *testing.T) {
	content := `# managed hosts
db.example.com

www.example.com
not a host
rpi4-abcdefgh.mac.corpdk.com
db.example.com
`
	zones, err := LoadHostsFile(writeFile(t, "ddns.hosts", content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(zones) != 2 {
		t.Fatalf("expected 2 zones, got %+v", zones)
	}
	if zones[0].Zone != "example.com" || len(zones[0].Hosts) != 2 {
		t.Errorf("unexpected first zone %+v", zones[0])
	}
	if zones[1].Zone != "corpdk.com" || zones[1].Hosts[0] != "rpi4-abcdefgh.mac.corpdk.com" {
		t.Errorf("unexpected second zone %+v", zones[1])
	}
}

func TestLoadHostsFile_Empty(t *testing.T) {
	_, err := LoadHostsFile(writeFile(t, "ddns.hosts", "\n# nothing\nlocalhost\n"))
	if !errors.Is(err, dns.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
