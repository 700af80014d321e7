package analysis

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure for display
type Kind string

const (
	KindCredentialMissing  Kind = "CredentialMissing"
	KindDataUnavailable    Kind = "DataUnavailable"
	KindNoModelAvailable   Kind = "NoModelAvailable"
	KindRateLimited        Kind = "RateLimited"
	KindEmptyModelResponse Kind = "EmptyModelResponse"
	KindUnclassified       Kind = "UnclassifiedError"
)

// Sentinels for errors.Is matching against a *Error of the same kind
var (
	ErrCredentialMissing  = &Error{Kind: KindCredentialMissing}
	ErrDataUnavailable    = &Error{Kind: KindDataUnavailable}
	ErrNoModelAvailable   = &Error{Kind: KindNoModelAvailable}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrEmptyModelResponse = &Error{Kind: KindEmptyModelResponse}
	ErrUnclassified       = &Error{Kind: KindUnclassified}
)

// Error is a classified pipeline failure. Reason carries provider detail
// such as a finish reason or the symbol that had no data.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can test errors.Is(err, ErrRateLimited)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// UserMessage returns the banner text shown for this failure
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindCredentialMissing:
		return "No Gemini API key is configured. Enter a key in the form and try again."
	case KindDataUnavailable:
		if e.Reason != "" {
			return fmt.Sprintf("Price data not found for %s. Check the symbol (Japanese equities need a .T suffix, e.g. 7203.T).", e.Reason)
		}
		return "Price data could not be retrieved. Check the symbol and try again."
	case KindNoModelAvailable:
		return "No generative model is available for this API key."
	case KindRateLimited:
		return "The model provider is rate limiting requests. Wait a minute and try again."
	case KindEmptyModelResponse:
		if e.Reason != "" {
			return fmt.Sprintf("The model returned no content (reason: %s).", e.Reason)
		}
		return "The model returned no content."
	}
	if e.Err != nil {
		return "An error occurred: " + e.Err.Error()
	}
	return "An error occurred: " + e.Error()
}

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// AsError extracts the classified error, wrapping anything else as unclassified
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(KindUnclassified, "", err)
}
