package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies fetch failures.
type Kind int

const (
	// KindTimeout is a request aborted at the transport level, most
	// commonly by the per-attempt timeout.
	KindTimeout Kind = iota + 1
	// KindHTTP is a non-2xx response from the upstream.
	KindHTTP
	// KindParse is a 2xx response whose body is not valid JSON.
	KindParse
	// KindExhausted means every attempt failed and no stale cache entry
	// was available to fall back on.
	KindExhausted
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHTTP:
		return "http"
	case KindParse:
		return "parse"
	case KindExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Error is the failure type returned by the fetch client.
type Error struct {
	Kind     Kind
	URL      string
	Status   int // HTTP status code, set for KindHTTP
	Attempts int // attempts made, set for KindExhausted
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
	case KindExhausted:
		return fmt.Sprintf("fetch %s: all %d attempts failed: %v", e.URL, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or 0 if err is not a fetch error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
