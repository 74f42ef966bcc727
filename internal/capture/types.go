package capture

import "fmt"

// Error codes surfaced by the capture engine. The api layer maps these onto
// HTTP statuses.
const (
	CodeValidation    = "VALIDATION"
	CodeBrowserLaunch = "BROWSER_LAUNCH"
	CodeCaptureFailed = "CAPTURE_FAILED"
)

// CodedError carries a stable machine code alongside the human message.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// Resource is one sub-asset observed while the page loaded. Keyed by
// absolute URL; never mutated after the session ends.
type Resource struct {
	URL         string
	Content     []byte
	ContentType string
}

// Result is the outcome of one capture session.
type Result struct {
	HTML      string
	Title     string
	FinalURL  string
	Resources []Resource

	// Partial marks a capture that hit settling timeouts and proceeded
	// with whatever had rendered.
	Partial bool
	// Emergency marks a last-resort save after a mid-session failure.
	Emergency bool
}
