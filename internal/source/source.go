// Package source defines the contract every message adapter implements and
// the errors the pipeline uses to decide whether a source contributes.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/MikeSquared-Agency/replyclock/internal/message"
)

// Adapter fetches the user's inbound and outbound messages for one channel.
// Fetch returns every message with start <= Timestamp <= end, and may add
// earlier messages from threads it already read. Records it cannot parse are
// returned with zero fields so the matcher can count them.
type Adapter interface {
	Channel() message.Channel
	Fetch(ctx context.Context, start, end time.Time) ([]message.Message, error)
}

// AuthError means the credential for a source is invalid, expired or revoked.
// It is fatal for that source only.
type AuthError struct {
	Source message.Channel
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Source, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError covers network failures, rate limits and provider 5xx.
type TransientError struct {
	Source     message.Channel
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient failure (status %d): %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsAuth reports whether err is, or wraps, an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// CheckResponse returns nil for 2xx responses and a classified error otherwise.
// The body is drained and included in the error text.
func CheckResponse(resp *http.Response, src message.Channel) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	err := fmt.Errorf("api returned %d: %s", resp.StatusCode, string(body))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Source: src, Err: err}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransientError{Source: src, StatusCode: resp.StatusCode, Err: err}
	default:
		return err
	}
}

// Classify maps an error from an HTTP round trip to AuthError or
// TransientError. Token refresh failures are auth failures; anything else
// that happened before a response arrived is transient. Errors that are
// already classified, and context cancellation, pass through unchanged.
func Classify(err error, src message.Channel) error {
	if err == nil {
		return nil
	}
	if IsAuth(err) || IsTransient(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return &AuthError{Source: src, Err: err}
	}
	return &TransientError{Source: src, Err: err}
}

// Do sends req with client and classifies both transport and status failures.
// On success the caller owns the response body.
func Do(client *http.Client, req *http.Request, src message.Channel) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, Classify(err, src)
	}
	if err := CheckResponse(resp, src); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}
