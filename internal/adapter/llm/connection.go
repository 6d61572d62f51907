package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"deltastream/internal/domain"
	"deltastream/internal/infra/tracer"
)

const (
	// DefaultConnectionTestTimeout bounds one connection test end to end.
	DefaultConnectionTestTimeout = 15 * time.Second

	maxErrorSnippet = 200
	probePrompt     = "Hi"
)

// ConnectionError is a failed connection test. Its message is at most
// maxErrorSnippet characters; the full cause stays reachable via Unwrap.
type ConnectionError struct {
	Snippet string
	Err     error
}

func (e *ConnectionError) Error() string { return e.Snippet }

func (e *ConnectionError) Unwrap() error { return e.Err }

// TestConnection issues one minimal non-streaming request for desc, reusing
// the adapter's request construction but none of the streaming machinery.
// Returns nil on success or a *ConnectionError.
func (c *Client) TestConnection(ctx context.Context, desc domain.RequestDescriptor, timeout time.Duration) error {
	ctx, span := tracer.StartSpan(ctx, "llm.connection_test",
		trace.WithAttributes(
			tracer.StringAttr(tracer.AttrProvider, desc.Provider),
			tracer.StringAttr(tracer.AttrModel, desc.Model),
		),
	)
	defer span.End()

	err := c.probe(ctx, desc, timeout)
	if err != nil {
		tracer.RecordError(span, err)
		c.logger.Debug("connection test failed", "provider", desc.Provider, "model", desc.Model, "error", err)
		return &ConnectionError{Snippet: truncate(err.Error(), maxErrorSnippet), Err: err}
	}
	tracer.SetOK(span)
	return nil
}

func (c *Client) probe(ctx context.Context, desc domain.RequestDescriptor, timeout time.Duration) error {
	adapter, err := c.registry.Resolve(desc.Provider)
	if err != nil {
		return err
	}

	spec, err := adapter.BuildProbe(desc)
	if err != nil {
		return err
	}

	if timeout <= 0 {
		timeout = DefaultConnectionTestTimeout
	}
	ctx, cancel := withDeadline(ctx, timeout)
	defer cancel()

	body, err := doJSONRequest(ctx, c.http, spec)
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			return domain.NewDomainError("TestConnection", domain.ErrTimeout, timeout.String())
		}
		return err
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if verr, ok := vendorError(envelope.Error); ok {
			return verr
		}
	}
	return nil
}

// truncate cuts s to at most n characters (runes), never splitting one.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
