// Package cloudflare implements dns.Provider against the Cloudflare v4 API.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

func init() {
	dns.Register("cloudflare", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

// Provider implements dns.Provider for Cloudflare.
type Provider struct {
	baseURL  string
	apiToken string
	client   *http.Client
	log      logr.Logger
}

// New creates a Cloudflare DNS provider from the given settings map.
// Required settings: api_token.
// Optional settings: base_url, timeout (default 5s).
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	apiToken := settings["api_token"]
	if apiToken == "" {
		return nil, fmt.Errorf("cloudflare: missing required setting 'api_token': %w", dns.ErrConfiguration)
	}

	baseURL := settings["base_url"]
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := 5 * time.Second
	if v := settings["timeout"]; v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: invalid timeout %q: %w: %w", v, dns.ErrConfiguration, err)
		}
		timeout = parsed
	}

	return &Provider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}, nil
}

func (p *Provider) Name() string { return "cloudflare" }

// envelope is the response wrapper shared by every Cloudflare endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiMessage    `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type zoneRow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type recordRow struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied *bool  `json:"proxied,omitempty"`
}

// do executes a request and decodes the envelope's result into out.
func (p *Provider) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	op := method + " " + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cloudflare: marshal request body: %w: %w", dns.ErrValidation, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	u := p.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("cloudflare: build request: %w: %w", dns.ErrConfiguration, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("cloudflare: %s: %w: %w", op, dns.ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cloudflare: %s: read body: %w: %w", op, dns.ErrTransient, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return dns.StatusError("cloudflare", op, resp.StatusCode, messages(data))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("cloudflare: %s: decode response: %w: %w", op, dns.ErrTransient, err)
	}
	if !env.Success {
		return fmt.Errorf("cloudflare: %s: %s: %w", op, joinMessages(env.Errors), dns.ErrValidation)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("cloudflare: %s: decode result: %w: %w", op, dns.ErrTransient, err)
		}
	}
	return nil
}

// ListZones returns the zones whose name is exactly name.
func (p *Provider) ListZones(ctx context.Context, name string) ([]dns.Zone, error) {
	var rows []zoneRow
	if err := p.do(ctx, http.MethodGet, "zones", url.Values{"name": {name}}, nil, &rows); err != nil {
		return nil, err
	}
	zones := make([]dns.Zone, 0, len(rows))
	for _, r := range rows {
		zones = append(zones, dns.Zone{ID: r.ID, Name: r.Name})
	}
	return zones, nil
}

// ListRecords returns all records of recordType at name in zone.
func (p *Provider) ListRecords(ctx context.Context, zone dns.Zone, name, recordType string) ([]dns.Record, error) {
	query := url.Values{
		"name":     {name},
		"type":     {recordType},
		"match":    {"all"},
		"per_page": {"100"},
	}
	var rows []recordRow
	if err := p.do(ctx, http.MethodGet, "zones/"+zone.ID+"/dns_records", query, nil, &rows); err != nil {
		return nil, err
	}
	p.log.V(1).Info("listed records", "name", name, "type", recordType, "count", len(rows))

	records := make([]dns.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, fromRow(r))
	}
	return records, nil
}

// CreateRecord adds a new record to zone.
func (p *Provider) CreateRecord(ctx context.Context, zone dns.Zone, record dns.Record) (dns.Record, error) {
	p.log.Info("creating record", "name", record.Name, "type", record.Type, "value", record.Value)

	var row recordRow
	if err := p.do(ctx, http.MethodPost, "zones/"+zone.ID+"/dns_records", nil, toRow(record), &row); err != nil {
		return dns.Record{}, err
	}
	p.log.Info("record created", "id", row.ID)
	return fromRow(row), nil
}

// UpdateRecord overwrites record id in zone.
func (p *Provider) UpdateRecord(ctx context.Context, zone dns.Zone, id string, record dns.Record) (dns.Record, error) {
	p.log.Info("updating record", "id", id, "name", record.Name, "value", record.Value)

	var row recordRow
	if err := p.do(ctx, http.MethodPut, "zones/"+zone.ID+"/dns_records/"+id, nil, toRow(record), &row); err != nil {
		return dns.Record{}, err
	}
	p.log.Info("record updated", "id", row.ID)
	return fromRow(row), nil
}

func toRow(r dns.Record) recordRow {
	ttl := r.TTL
	if ttl == 0 {
		ttl = 1 // "automatic"
	}
	return recordRow{
		Type:    r.Type,
		Name:    r.Name,
		Content: r.Value,
		TTL:     ttl,
		Proxied: r.Proxied,
	}
}

func fromRow(r recordRow) dns.Record {
	return dns.Record{
		ID:      r.ID,
		Name:    r.Name,
		Type:    r.Type,
		Value:   r.Content,
		TTL:     r.TTL,
		Proxied: r.Proxied,
	}
}

// messages extracts API error messages from an error body, falling back to
// the raw body.
func messages(data []byte) string {
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.Errors) > 0 {
		return joinMessages(env.Errors)
	}
	return string(data)
}

func joinMessages(msgs []apiMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, fmt.Sprintf("%d %s", m.Code, m.Message))
	}
	return strings.Join(parts, "; ")
}
