package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"deltastream/internal/domain"
)

// maxResponseBody caps non-streaming bodies and error bodies.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

const eventStreamContentType = "text/event-stream"

// doJSONRequest performs a JSON POST request and returns the response body.
// Returns a *domain.HTTPStatusError for non-2xx responses.
func doJSONRequest(ctx context.Context, client *http.Client, spec domain.HTTPRequestSpec) ([]byte, error) {
	httpResp, err := send(ctx, client, spec)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if !isSuccess(httpResp.StatusCode) {
		return nil, statusError(httpResp)
	}
	return readBody(ctx, httpResp.Body)
}

// doStreamRequest performs a JSON POST request and returns the open response
// (caller must close Body). A non-2xx status is returned as an error carrying
// the response body, read up to maxResponseBody.
func doStreamRequest(ctx context.Context, client *http.Client, spec domain.HTTPRequestSpec) (*http.Response, error) {
	httpResp, err := send(ctx, client, spec)
	if err != nil {
		return nil, err
	}

	if !isSuccess(httpResp.StatusCode) {
		defer httpResp.Body.Close()
		return nil, statusError(httpResp)
	}

	return httpResp, nil
}

// statusError builds the error for a non-2xx response. A failed body read is
// reported next to the status instead of passing for an empty body.
func statusError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	statusErr := mapHTTPError(resp.StatusCode, body)
	if err != nil {
		return fmt.Errorf("%w (reading body: %v)", statusErr, err)
	}
	return statusErr
}

// readBody reads a whole successful body. A body over maxResponseBody is an
// error: a truncated document must not be decoded as if it were complete.
func readBody(ctx context.Context, r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxResponseBody+1))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if len(data) > maxResponseBody {
		return nil, domain.NewDomainError("llm.readBody", domain.ErrBodyTooLarge, fmt.Sprintf("over %d bytes", maxResponseBody))
	}
	return data, nil
}

func send(ctx context.Context, client *http.Client, spec domain.HTTPRequestSpec) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.URL, bytes.NewReader(spec.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrInvalidInput, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range spec.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	return httpResp, nil
}

// transportError classifies a failed exchange: cancellation and deadline take
// precedence over the generic network failure.
func transportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return domain.ErrCancelled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }

// isEventStream reports whether a Content-Type header announces SSE.
func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), eventStreamContentType)
	}
	return mediaType == eventStreamContentType
}

// mapHTTPError maps an HTTP status code + response body to a domain error.
func mapHTTPError(statusCode int, body []byte) error {
	e := &domain.HTTPStatusError{StatusCode: statusCode, Body: string(body)}
	switch statusCode {
	case http.StatusTooManyRequests:
		e.Kind = domain.ErrRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = domain.ErrAuthInvalid
	}
	return e
}

// vendorError extracts the message of an "error" member: error.message when
// present, otherwise the whole error value. ok is false when the member is
// absent or null.
func vendorError(raw json.RawMessage) (*domain.VendorError, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	var obj struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != nil {
		return &domain.VendorError{Message: *obj.Message}, true
	}
	if s, ok := rawString(raw); ok {
		return &domain.VendorError{Message: s}, true
	}
	return &domain.VendorError{Message: string(raw)}, true
}

// rawString decodes raw as a JSON string.
func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func parseError(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrParse, err)
}

// baseURL trims a trailing slash and substitutes the vendor default when empty.
func baseURL(configured, fallback string) string {
	u := strings.TrimRight(strings.TrimSpace(configured), "/")
	if u == "" {
		return fallback
	}
	return u
}
