package source

import "fmt"

// TransientError is a retryable failure: a 5xx or 429 response, a network
// error, or a truncated body.
type TransientError struct {
	StatusCode int // 0 for network errors
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient upstream error %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient upstream error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentRequestError is a 4xx response other than 429. It is never retried.
type PermanentRequestError struct {
	StatusCode int
	Body       string
}

func (e *PermanentRequestError) Error() string {
	return fmt.Sprintf("upstream rejected request %d: %s", e.StatusCode, e.Body)
}
