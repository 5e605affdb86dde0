package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// User-facing guidance attached to non-retryable failures.
const (
	MessageTimeout       = "The service took too long to respond. Try a shorter file, or convert it to a compressed audio format with the Converter first."
	MessageTooLarge      = "The file is too large to upload. Use the Converter to make a smaller audio file and submit that instead."
	MessageUnreachable   = "Could not reach the service. Check your connection and try again."
	MessageRateLimited   = "The service is rate limiting requests. Try again in a few minutes."
	MessageServerFailure = "The service had a temporary problem. Try again later."
	MessageCanceled      = "The request was canceled."
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureError is the typed rejection a worker returns. Retryable marks
// failures worth one silent automatic retry. Code carries the HTTP status when
// the failure came from a remote service.
type FailureError struct {
	Message   string
	Retryable bool
	Code      int
	Err       error
}

func (e *FailureError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code > 0 {
		return fmt.Sprintf("%s (HTTP %d)", msg, e.Code)
	}
	return msg
}

func (e *FailureError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewFailure constructs a FailureError.
func NewFailure(message string, retryable bool, code int, err error) *FailureError {
	return &FailureError{Message: strings.TrimSpace(message), Retryable: retryable, Code: code, Err: err}
}

// HTTPFailure classifies a non-2xx worker response. detail is the server's
// own message, used only when no specific guidance applies.
func HTTPFailure(code int, detail string) *FailureError {
	detail = strings.TrimSpace(detail)
	switch code {
	case http.StatusTooManyRequests:
		return NewFailure(MessageRateLimited, true, code, nil)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return NewFailure(MessageServerFailure, true, code, nil)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return NewFailure(MessageTimeout, false, code, nil)
	case http.StatusRequestEntityTooLarge:
		return NewFailure(MessageTooLarge, false, code, nil)
	}
	if detail == "" {
		detail = fmt.Sprintf("The request was rejected: %s.", strings.ToLower(http.StatusText(code)))
	}
	return NewFailure(detail, false, code, nil)
}

// Classify maps any error returned while processing a job to a FailureError.
// Existing FailureErrors pass through unchanged.
func Classify(err error) *FailureError {
	if err == nil {
		return nil
	}
	var failure *FailureError
	if errors.As(err, &failure) && failure != nil {
		return failure
	}
	switch {
	case errors.Is(err, context.Canceled):
		return NewFailure(MessageCanceled, false, 0, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout), isNetTimeout(err):
		return NewFailure(MessageTimeout, false, 0, err)
	case errors.Is(err, ErrTransient), isNoResponse(err):
		msg := MessageUnreachable
		if errors.Is(err, ErrTransient) {
			msg = err.Error()
		}
		return NewFailure(msg, true, 0, err)
	default:
		return NewFailure(err.Error(), false, 0, err)
	}
}

// Hint returns a short operator hint for the error's class, suitable for the
// error_hint log field.
func Hint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "check the mediadesk configuration file"
	case errors.Is(err, ErrValidation):
		return "check the submitted file and options"
	case errors.Is(err, ErrExternalTool):
		return "run mediadesk doctor to verify ffmpeg and ffprobe"
	case errors.Is(err, ErrNotFound):
		return "check that the source file still exists"
	}
	failure := Classify(err)
	switch {
	case failure.Code == http.StatusRequestEntityTooLarge:
		return "convert the file to a smaller audio format"
	case failure.Retryable:
		return "retry later; the failure looked transient"
	case failure.Message == MessageTimeout:
		return "increase queue.submit_timeout or shorten the file"
	}
	return "check logs for details"
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isNoResponse reports failures where the request never produced a response.
func isNoResponse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
