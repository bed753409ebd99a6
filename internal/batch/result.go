package batch

import (
	"encoding/json"
	"fmt"
	"io"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/reconcile"
)

// ProviderError records a provider whose remaining hosts were skipped.
type ProviderError struct {
	Provider string
	Zone     string
	Err      error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("provider %s (zone %s): %v", e.Provider, e.Zone, e.Err)
}

func (e ProviderError) Unwrap() error { return e.Err }

// Result is everything a run produced. Successful outcomes are kept even
// when other hosts or providers failed.
type Result struct {
	Value          string
	Outcomes       []reconcile.Outcome
	ProviderErrors []ProviderError
}

// Failed reports whether any host failed or any provider was aborted.
func (r *Result) Failed() bool {
	if len(r.ProviderErrors) > 0 {
		return true
	}
	for _, o := range r.Outcomes {
		if o.Failed() {
			return true
		}
	}
	return false
}

// Err aggregates one error per failed host and per aborted provider, or
// returns nil.
func (r *Result) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if !o.Failed() {
			continue
		}
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %s: %w", o.Provider, o.Name, o.Err))
		} else {
			errs = append(errs, fmt.Errorf("%s: %s: %s", o.Provider, o.Name, o.Reason))
		}
	}
	for _, pe := range r.ProviderErrors {
		errs = append(errs, pe)
	}
	return utilerrors.NewAggregate(errs)
}

// Count returns how many outcomes carry action.
func (r *Result) Count(action reconcile.Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == action {
			n++
		}
	}
	return n
}

// WriteSummary prints the end-of-run error report: a JSON list with one
// "Error Updating" line per failure. Nothing is written when the run
// succeeded.
func (r *Result) WriteSummary(w io.Writer) error {
	if !r.Failed() {
		return nil
	}
	var lines []string
	for _, o := range r.Outcomes {
		if o.Failed() {
			lines = append(lines, fmt.Sprintf("Error Updating %s at %s: %s", o.Name, o.Provider, o.Reason))
		}
	}
	for _, pe := range r.ProviderErrors {
		lines = append(lines, fmt.Sprintf("Error Updating provider %s: %v", pe.Provider, pe.Err))
	}
	data, err := json.MarshalIndent(lines, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

type report struct {
	Value          string              `json:"value"`
	Failed         bool                `json:"failed"`
	Outcomes       []reconcile.Outcome `json:"outcomes"`
	ProviderErrors []providerReport    `json:"provider_errors,omitempty"`
}

type providerReport struct {
	Provider string `json:"provider"`
	Zone     string `json:"zone"`
	Error    string `json:"error"`
}

// WriteJSON emits the structured outcome list.
func (r *Result) WriteJSON(w io.Writer) error {
	rep := report{Value: r.Value, Failed: r.Failed(), Outcomes: r.Outcomes}
	if rep.Outcomes == nil {
		rep.Outcomes = []reconcile.Outcome{}
	}
	for _, pe := range r.ProviderErrors {
		rep.ProviderErrors = append(rep.ProviderErrors, providerReport{Provider: pe.Provider, Zone: pe.Zone, Error: pe.Err.Error()})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
