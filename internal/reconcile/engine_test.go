package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns/dnstest"
)

var testZone = dns.Zone{ID: "zone-1", Name: "example.com"}

func newEngine(t *testing.T) (*Engine, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return NewEngine(logr.Discard(), Options{Progress: &out}), &out
}

func aaaa(name, value string) dns.Record {
	return dns.Record{Name: name, Type: dns.TypeAAAA, Value: value}
}

func TestReconcile_CreateThenUnchanged(t *testing.T) {
	fake := dnstest.New("fake", testZone)
	e, out := newEngine(t)
	ctx := context.Background()

	got, err := e.Reconcile(ctx, fake, testZone, "db.example.com", "2001:db8::1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Action != ActionCreated {
		t.Fatalf("expected created, got %+v", got)
	}
	if len(fake.Creates) != 1 {
		t.Fatalf("expected 1 create call, got %d", len(fake.Creates))
	}
	if fake.Creates[0].TTL != DefaultTTL {
		t.Errorf("expected created TTL %d, got %d", DefaultTTL, fake.Creates[0].TTL)
	}

	// Second run with the same target is a no-op.
	got, err = e.Reconcile(ctx, fake, testZone, "db.example.com", "2001:db8::1")
	if err != nil {
		t.Fatalf("unexpected error on second reconcile: %v", err)
	}
	if got.Action != ActionUnchanged {
		t.Fatalf("expected unchanged, got %+v", got)
	}
	if fake.Writes() != 1 {
		t.Errorf("expected no additional writes, got %d total", fake.Writes())
	}

	want := "CREATED db.example.com 2001:db8::1\nUNCHANGED db.example.com 2001:db8::1\n"
	if out.String() != want {
		t.Errorf("progress output:\ngot  %q\nwant %q", out.String(), want)
	}
}

func TestReconcile_UpdateStaleRecord(t *testing.T) {
	fake := dnstest.New("fake", testZone)
	rec := aaaa("db.example.com", "2001:db8::1")
	rec.Proxied = dns.BoolPtr(true)
	rec.TTL = 120
	fake.Seed(rec)
	e, out := newEngine(t)

	got, err := e.Reconcile(context.Background(), fake, testZone, "db.example.com", "2001:db8::2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Action != ActionUpdated {
		t.Fatalf("expected updated, got %+v", got)
	}
	if len(got.Previous) != 1 || got.Previous[0] != "2001:db8::1" || got.Value != "2001:db8::2" {
		t.Errorf("unexpected outcome values: %+v", got)
	}
	if len(fake.Updates) != 1 || len(fake.Creates) != 0 {
		t.Fatalf("expected exactly 1 update and no create, got %d/%d", len(fake.Updates), len(fake.Creates))
	}
	upd := fake.Updates[0]
	if upd.Proxied == nil || !*upd.Proxied {
		t.Error("expected proxied flag to be preserved on update")
	}
	if upd.TTL != 120 {
		t.Errorf("expected TTL 120 to be preserved, got %d", upd.TTL)
	}
	if !strings.Contains(out.String(), "UPDATED db.example.com 2001:db8::1 -> 2001:db8::2") {
		t.Errorf("missing UPDATED line, got %q", out.String())
	}
	// list + verify
	if len(fake.Lists) != 2 {
		t.Errorf("expected 2 list calls, got %d", len(fake.Lists))
	}
}

func TestReconcile_MatchingRecordIssuesNoWrite(t *testing.T) {
	fake := dnstest.New("fake", testZone)
	fake.Seed(aaaa("db.example.com", "2001:db8::1"))
	e, _ := newEngine(t)

	got, err := e.Reconcile(context.Background(), fake, testZone, "db.example.com", "2001:db8::1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Action != ActionUnchanged {
		t.Fatalf("expected unchanged, got %+v", got)
	}
	if fake.Writes() != 0 {
		t.Errorf("expected zero writes, got %d", fake.Writes())
	}
}

func TestReconcile_DuplicateStaleRecordsEachUpdated(t *testing.T) {
	fake := dnstest.New("fake", testZone)
	fake.Seed(
		aaaa("db.example.com", "2001:db8::a"),
		aaaa("db.example.com", "2001:db8::2"),
		aaaa("db.example.com", "2001:db8::b"),
	)
	e, out := newEngine(t)

	got, err := e.Reconcile(context.Background(), fake, testZone, "db.example.com", "2001:db8::2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Action != ActionUpdated {
		t.Fatalf("expected updated, got %+v", got)
	}
	if len(fake.Updates) != 2 {
		t.Fatalf("expected one update per stale record (2), got %d", len(fake.Updates))
	}
	if len(got.Previous) != 2 || got.Previous[0] != "2001:db8::a" || got.Previous[1] != "2001:db8::b" {
		t.Errorf("unexpected previous values: %v", got.Previous)
	}
	for _, r := range fake.Records() {
		if r.Value != "2001:db8::2" {
			t.Errorf("record %s still holds %s", r.ID, r.Value)
		}
	}
	if strings.Count(out.String(), "UPDATED") != 2 || strings.Count(out.String(), "UNCHANGED") != 1 {
		t.Errorf("unexpected progress output %q", out.String())
	}
}

func TestReconcile_UpdateVerificationMismatch(t *testing.T) {
	fake := dnstest.New("fake", testZone)
	fake.Seed(aaaa("db.example.com", "2001:db8::1"))
	fake.DropWrites = true
	e, out := newEngine(t)

	got, err := e.Reconcile(context.Background(), fake, testZone, "db.example.com", "2001:db8::2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Failed() || got.Reason != ReasonUpdateMismatch {
		t.Fatalf("expected update mismatch failure, got %+v", got)
	}
	if len(fake.Updates) != 1 {
		t.Errorf("expected the update not to be retried, got %d calls", len(fake.Updates))
	}
	if out.Len() != 0 {
		t.Errorf("expected no progress line for failed update, got %q", out.String())
	}
}

func TestReconcile_DroppedUpdateBesideMatchingRecord(t *testing.T) {
	fake := dnstest.New("fake", testZone)
	fake.Seed(
		aaaa("db.example.com", "2001:db8::2"),
		aaaa("db.example.com", "2001:db8::1"),
	)
	fake.DropWrites = true
	e, out := newEngine(t)

	got, err := e.Reconcile(context.Background(), fake, testZone, "db.example.com", "2001:db8::2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Failed() || got.Reason != ReasonUpdateMismatch {
		t.Fatalf("expected update mismatch failure, got %+v", got)
	}
	if strings.Contains(out.String(), "UPDATED") {
		t.Errorf("dropped update reported as applied: %q", out.String())
	}
}

func TestReconcile_DroppedSecondStaleUpdate(t *testing.T) {
	fake := dnstest.New("fake", testZone)
	ids := fake.Seed(
		aaaa("db.example.com", "2001:db8::a"),
		aaaa("db.example.com", "2001:db8::b"),
	)
	fake.DropUpdate = func(id string) bool { return id == ids[1] }
	e, out := newEngine(t)

	got, err := e.Reconcile(context.Background(), fake, testZone, "db.example.com", "2001:db8::2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Failed() || got.Reason != ReasonUpdateMismatch {
		t.Fatalf("expected update mismatch failure, got %+v", got)
	}
	if len(fake.Updates) != 2 {
		t.Errorf("expected both stale records to be written, got %d updates", len(fake.Updates))
	}
	want := "UPDATED db.example.com 2001:db8::a -> 2001:db8::2\n"
	if out.String() != want {
		t.Errorf("progress output:\ngot  %q\nwant %q", out.String(), want)
	}
}

// valueKeyed is a provider whose record IDs are the record values, the way
// the rfc2136 adapter identifies RRs.
type valueKeyed struct {
	values []string
	drop   bool
}

func (v *valueKeyed) Name() string { return "value-keyed" }

func (v *valueKeyed) ListZones(context.Context, string) ([]dns.Zone, error) {
	return []dns.Zone{testZone}, nil
}

func (v *valueKeyed) ListRecords(_ context.Context, _ dns.Zone, name, _ string) ([]dns.Record, error) {
	out := []dns.Record{}
	for _, val := range v.values {
		out = append(out, dns.Record{ID: val, Name: name, Type: dns.TypeAAAA, Value: val})
	}
	return out, nil
}

func (v *valueKeyed) CreateRecord(_ context.Context, _ dns.Zone, r dns.Record) (dns.Record, error) {
	if !v.drop {
		v.values = append(v.values, r.Value)
	}
	r.ID = r.Value
	return r, nil
}

func (v *valueKeyed) UpdateRecord(_ context.Context, _ dns.Zone, id string, r dns.Record) (dns.Record, error) {
	if !v.drop {
		for i, val := range v.values {
			if val == id {
				v.values[i] = r.Value
			}
		}
	}
	r.ID = r.Value
	return r, nil
}

func TestReconcile_ValueKeyedProvider(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		drop   bool
		want   Action
	}{
		{"applied", []string{"2001:db8::1"}, false, ActionUpdated},
		{"applied beside matching", []string{"2001:db8::2", "2001:db8::1"}, false, ActionUpdated},
		{"dropped beside matching", []string{"2001:db8::2", "2001:db8::1"}, true, ActionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &valueKeyed{values: tt.values, drop: tt.drop}
			e, _ := newEngine(t)

			got, err := e.Reconcile(context.Background(), p, testZone, "db.example.com", "2001:db8::2")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Action != tt.want {
				t.Fatalf("expected %s, got %+v", tt.want, got)
			}
			if tt.want == ActionFailed && got.Reason != ReasonUpdateMismatch {
				t.Errorf("expected update mismatch, got %q", got.Reason)
			}
		})
	}
}

func TestReconcile_CreateVerificationMismatch(t *testing.T) {
	fake := dnstest.New("fake", testZone)
	fake.DropWrites = true
	e, _ := newEngine(t)

	got, err := e.Reconcile(context.Background(), fake, testZone, "db.example.com", "2001:db8::1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Failed() || got.Reason != ReasonCreateMismatch {
		t.Fatalf("expected create mismatch failure, got %+v", got)
	}
}

func TestReconcile_NotFoundFallsBackToCreate(t *testing.T) {
	fake := dnstest.New("fake", testZone)
	ids := fake.Seed(aaaa("db.example.com", "2001:db8::1"))
	fake.UpdateErr = func(id string, _ dns.Record) error {
		// Record deleted behind our back between list and update.
		fake.Delete(ids[0])
		return nil
	}
	e, out := newEngine(t)

	got, err := e.Reconcile(context.Background(), fake, testZone, "db.example.com", "2001:db8::2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Action != ActionCreated || len(got.Previous) != 0 {
		t.Fatalf("expected created after fallback, got %+v", got)
	}
	if len(fake.Creates) != 1 {
		t.Fatalf("expected 1 fallback create, got %d", len(fake.Creates))
	}
	recs := fake.Records()
	if len(recs) != 1 || recs[0].Value != "2001:db8::2" {
		t.Errorf("unexpected final records: %+v", recs)
	}
	if want := "CREATED db.example.com 2001:db8::2\n"; out.String() != want {
		t.Errorf("progress output:\ngot  %q\nwant %q", out.String(), want)
	}
}

func TestReconcile_NotFoundFallbackOnlyOnce(t *testing.T) {
	fake := dnstest.New("fake", testZone)
	fake.Seed(aaaa("db.example.com", "2001:db8::a"), aaaa("db.example.com", "2001:db8::b"))
	fake.UpdateErr = func(string, dns.Record) error { return fmt.Errorf("gone: %w", dns.ErrNotFound) }
	e, _ := newEngine(t)

	got, err := e.Reconcile(context.Background(), fake, testZone, "db.example.com", "2001:db8::2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Failed() || !errors.Is(got.Err, dns.ErrNotFound) {
		t.Fatalf("expected second not-found to fail the host, got %+v", got)
	}
	if len(fake.Creates) != 1 {
		t.Errorf("expected exactly one fallback create, got %d", len(fake.Creates))
	}
}

func TestReconcile_AdapterErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantFatal bool
	}{
		{"transient", fmt.Errorf("rate limited: %w", dns.ErrTransient), false},
		{"validation", fmt.Errorf("bad content: %w", dns.ErrValidation), false},
		{"auth", fmt.Errorf("bad token: %w", dns.ErrAuth), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := dnstest.New("fake", testZone)
			fake.CreateErr = func(dns.Record) error { return tt.err }
			e, _ := newEngine(t)

			got, err := e.Reconcile(context.Background(), fake, testZone, "db.example.com", "2001:db8::1")
			if !got.Failed() {
				t.Fatalf("expected failed outcome, got %+v", got)
			}
			if !errors.Is(got.Err, tt.err) {
				t.Errorf("expected outcome to carry %v, got %v", tt.err, got.Err)
			}
			if tt.wantFatal != (err != nil) {
				t.Errorf("fatal: got err=%v, want fatal=%v", err, tt.wantFatal)
			}
		})
	}
}

func TestReconcile_ListErrorIsCollected(t *testing.T) {
	fake := dnstest.New("fake", testZone)
	fake.ListErr = func(string) error { return fmt.Errorf("boom: %w", dns.ErrTransient) }
	e, _ := newEngine(t)

	got, err := e.Reconcile(context.Background(), fake, testZone, "db.example.com", "2001:db8::1")
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if !got.Failed() || !errors.Is(got.Err, dns.ErrTransient) {
		t.Fatalf("expected transient failure, got %+v", got)
	}
	if fake.Writes() != 0 {
		t.Errorf("expected no writes after failed list, got %d", fake.Writes())
	}
}

type slowProvider struct{ *dnstest.Provider }

func (s slowProvider) ListRecords(ctx context.Context, _ dns.Zone, _, _ string) ([]dns.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestReconcile_CallTimeoutIsTransient(t *testing.T) {
	p := slowProvider{dnstest.New("slow", testZone)}
	e := NewEngine(logr.Discard(), Options{CallTimeout: 10 * time.Millisecond})

	got, err := e.Reconcile(context.Background(), p, testZone, "db.example.com", "2001:db8::1")
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if !got.Failed() || !errors.Is(got.Err, dns.ErrTransient) {
		t.Fatalf("expected timeout to be transient, got %+v", got)
	}
}

func TestClaim_RequiresExclusiveRecord(t *testing.T) {
	fake := dnstest.New("fake", testZone)
	fake.CreateErr = func(dns.Record) error {
		// Another writer sneaks in just before our create lands.
		fake.Seed(aaaa("m.example.com", "2001:db8::99"))
		return nil
	}
	e, _ := newEngine(t)

	got, err := e.Claim(context.Background(), fake, testZone, "m.example.com", "::1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Failed() || got.Reason != ReasonCreateMismatch {
		t.Fatalf("expected claim to fail on racing record, got %+v", got)
	}

	// Plain Create accepts the same state.
	fake2 := dnstest.New("fake", testZone)
	fake2.Seed(aaaa("m.example.com", "2001:db8::99"))
	got, err = e.Create(context.Background(), fake2, testZone, "m.example.com", "::1")
	if err != nil || got.Action != ActionCreated {
		t.Fatalf("expected create to succeed, got %+v (err=%v)", got, err)
	}
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		o    Outcome
		want string
	}{
		{Unchanged("a.example.com", "::1"), "UNCHANGED a.example.com ::1"},
		{Updated("a.example.com", "::2", "::1"), "UPDATED a.example.com ::1 -> ::2"},
		{Updated("a.example.com", "::2", "::1", "::3"), "UPDATED a.example.com ::1,::3 -> ::2"},
		{Created("a.example.com", "::1"), "CREATED a.example.com ::1"},
		{Failed("a.example.com", "boom", nil), "FAILED a.example.com: boom"},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}
