package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrConfiguration reports a malformed name, length or setting found
	// before any network call was made.
	ErrConfiguration = errors.New("configuration error")
	// ErrAuth reports rejected credentials. Fatal for the provider.
	ErrAuth = errors.New("authentication rejected")
	// ErrZoneNotFound reports that no zone matched the derived zone name.
	ErrZoneNotFound = errors.New("zone not found")
	// ErrAmbiguousZone reports that more than one zone matched.
	ErrAmbiguousZone = errors.New("ambiguous zone")
	// ErrTransient reports a network, timeout or rate-limit failure. Retryable.
	ErrTransient = errors.New("transient provider error")
	// ErrValidation reports a payload the provider refused to accept.
	ErrValidation = errors.New("validation error")
	// ErrNotFound reports that a record identifier no longer exists.
	ErrNotFound = errors.New("record not found")
)

// IsFatal reports whether err must abort the provider (or the run) instead
// of being collected as a host-level failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrZoneNotFound) ||
		errors.Is(err, ErrAmbiguousZone)
}

// Classify tags timeouts and network failures as ErrTransient. Errors that
// already carry a taxonomy sentinel are returned unchanged.
func Classify(err error) error {
	if err == nil || hasKind(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

func hasKind(err error) bool {
	for _, kind := range []error{ErrConfiguration, ErrAuth, ErrZoneNotFound, ErrAmbiguousZone, ErrTransient, ErrValidation, ErrNotFound} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// StatusError maps a non-2xx HTTP response from a provider API onto the
// error taxonomy.
func StatusError(provider, op string, status int, body string) error {
	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuth
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		kind = ErrTransient
	case status >= 400:
		kind = ErrValidation
	default:
		kind = ErrTransient
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return fmt.Errorf("%s: %s returned status %d: %w", provider, op, status, kind)
	}
	return fmt.Errorf("%s: %s returned status %d: %s: %w", provider, op, status, body, kind)
}
