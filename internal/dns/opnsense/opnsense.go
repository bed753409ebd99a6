package opnsense

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
)

func init() {
	dns.Register("opnsense", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

const defaultDescription = "managed by yk-ddns"

// Provider implements dns.Provider for OPNsense Unbound DNS host overrides.
type Provider struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
	log       logr.Logger
}

// New creates an OPNsense DNS provider from the given settings map.
// Required settings: base_url, api_key, api_secret.
// Optional settings: timeout (default 5s), skip_tls_verify (default false).
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	baseURL := settings["base_url"]
	if baseURL == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'base_url': %w", dns.ErrConfiguration)
	}
	apiKey := settings["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'api_key': %w", dns.ErrConfiguration)
	}
	apiSecret := settings["api_secret"]
	if apiSecret == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'api_secret': %w", dns.ErrConfiguration)
	}

	timeout := 5 * time.Second
	if v := settings["timeout"]; v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("opnsense: invalid timeout %q: %w: %w", v, dns.ErrConfiguration, err)
		}
		timeout = parsed
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if v := settings["skip_tls_verify"]; v == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Provider{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Transport: transport, Timeout: timeout},
		log:       log,
	}, nil
}

func (p *Provider) Name() string { return "opnsense" }

// doRequest builds and executes an HTTP request against the OPNsense API.
func (p *Provider) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("opnsense: marshal request body: %w: %w", dns.ErrValidation, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	url := strings.TrimRight(p.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("opnsense: build request: %w: %w", dns.ErrConfiguration, err)
	}

	req.SetBasicAuth(p.apiKey, p.apiSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opnsense: %s %s: %w: %w", method, path, dns.ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, dns.StatusError("opnsense", path, resp.StatusCode, string(respBody))
	}
	return resp, nil
}

// reconfigure tells OPNsense to apply DNS changes.
func (p *Provider) reconfigure(ctx context.Context) error {
	resp, err := p.doRequest(ctx, http.MethodPost, "unbound/service/reconfigure", struct{}{})
	if err != nil {
		return fmt.Errorf("opnsense: reconfigure: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("opnsense: decode reconfigure response: %w: %w", dns.ErrTransient, err)
	}
	p.log.V(1).Info("reconfigure completed", "status", result.Status)
	return nil
}

// searchResponse is the shape returned by searchHostOverride.
type searchResponse struct {
	Rows []hostRow `json:"rows"`
}

// hostRow represents a single host override row from the search response.
type hostRow struct {
	UUID        string `json:"uuid"`
	Enabled     string `json:"enabled"`
	Hostname    string `json:"hostname"`
	Domain      string `json:"domain"`
	RR          string `json:"rr"`
	Server      string `json:"server"`
	Description string `json:"description"`
}

func (r hostRow) fqdn() string {
	if r.Hostname == "" {
		return r.Domain
	}
	return r.Hostname + "." + r.Domain
}

// ListZones returns a synthetic zone. Unbound host overrides are not grouped
// into provider-side zones, so any domain is accepted.
func (p *Provider) ListZones(_ context.Context, name string) ([]dns.Zone, error) {
	return []dns.Zone{{ID: name, Name: name}}, nil
}

// ListRecords returns every enabled host override matching name and record type.
func (p *Provider) ListRecords(ctx context.Context, _ dns.Zone, name, recordType string) ([]dns.Record, error) {
	resp, err := p.doRequest(ctx, http.MethodGet, "unbound/settings/searchHostOverride", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("opnsense: decode search response: %w: %w", dns.ErrTransient, err)
	}

	name = strings.TrimSuffix(name, ".")
	records := []dns.Record{}
	for _, row := range sr.Rows {
		if row.Enabled == "0" {
			continue
		}
		if strings.EqualFold(row.fqdn(), name) && strings.EqualFold(row.RR, recordType) {
			records = append(records, dns.Record{
				ID:    row.UUID,
				Name:  name,
				Type:  recordType,
				Value: row.Server,
				Meta:  map[string]string{"description": row.Description},
			})
		}
	}
	p.log.V(1).Info("listed host overrides", "name", name, "type", recordType, "count", len(records))
	return records, nil
}

// buildHostBody creates the JSON body for add/set host override calls. The
// API expects the full override object, so unused MX fields are sent empty.
// The host label is submitted relative to the zone.
func buildHostBody(zone dns.Zone, record dns.Record) map[string]interface{} {
	description := defaultDescription
	if d := record.Meta["description"]; d != "" {
		description = d
	}
	return map[string]interface{}{
		"host": map[string]string{
			"enabled":     "1",
			"hostname":    dns.RelativeName(record.Name, zone.Name),
			"domain":      zone.Name,
			"rr":          record.Type,
			"server":      record.Value,
			"description": description,
			"mxprio":      "",
			"mx":          "",
		},
	}
}

// CreateRecord adds a new DNS host override.
func (p *Provider) CreateRecord(ctx context.Context, zone dns.Zone, record dns.Record) (dns.Record, error) {
	if !dns.InZone(record.Name, zone.Name) {
		return dns.Record{}, fmt.Errorf("opnsense: %s is outside zone %s: %w", record.Name, zone.Name, dns.ErrValidation)
	}
	p.log.Info("creating record", "hostname", record.Name, "type", record.Type, "value", record.Value)

	resp, err := p.doRequest(ctx, http.MethodPost, "unbound/settings/addHostOverride", buildHostBody(zone, record))
	if err != nil {
		return dns.Record{}, err
	}
	defer resp.Body.Close()

	var result struct {
		Result      string                 `json:"result"`
		UUID        string                 `json:"uuid"`
		Validations map[string]interface{} `json:"validations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return dns.Record{}, fmt.Errorf("opnsense: decode addHostOverride response: %w: %w", dns.ErrTransient, err)
	}
	if result.Result != "saved" {
		return dns.Record{}, fmt.Errorf("opnsense: addHostOverride unexpected result: %s %v: %w", result.Result, result.Validations, dns.ErrValidation)
	}

	p.log.Info("record created", "uuid", result.UUID)
	record.ID = result.UUID
	return record, p.reconfigure(ctx)
}

// UpdateRecord modifies an existing DNS host override.
func (p *Provider) UpdateRecord(ctx context.Context, zone dns.Zone, id string, record dns.Record) (dns.Record, error) {
	p.log.Info("updating record", "uuid", id, "hostname", record.Name, "type", record.Type, "value", record.Value)

	resp, err := p.doRequest(ctx, http.MethodPost, "unbound/settings/setHostOverride/"+id, buildHostBody(zone, record))
	if err != nil {
		return dns.Record{}, err
	}
	defer resp.Body.Close()

	var result struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return dns.Record{}, fmt.Errorf("opnsense: decode setHostOverride response: %w: %w", dns.ErrTransient, err)
	}
	if result.Result != "saved" {
		return dns.Record{}, fmt.Errorf("opnsense: setHostOverride unexpected result: %s: %w", result.Result, dns.ErrValidation)
	}

	p.log.Info("record updated", "uuid", id)
	record.ID = id
	return record, p.reconfigure(ctx)
}
