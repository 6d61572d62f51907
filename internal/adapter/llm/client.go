package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"deltastream/internal/domain"
	"deltastream/internal/infra/config"
)

const defaultReadBufferSize = 4096

// Options configures a Client. Every dependency is explicit; there is no
// package-level client or default provider.
type Options struct {
	HTTPClient     *http.Client
	Registry       *Registry
	Breakers       *Breakers
	ReadBufferSize int
	Logger         *slog.Logger
}

// Client performs vendor exchanges. It implements domain.Streamer and is safe
// for concurrent use; per-stream state lives on the goroutine's stack.
type Client struct {
	http     *http.Client
	registry *Registry
	breakers *Breakers
	bufSize  int
	logger   *slog.Logger
}

// NewClient creates a Client, filling unset options with defaults.
func NewClient(opts Options) *Client {
	c := &Client{
		http:     opts.HTTPClient,
		registry: opts.Registry,
		breakers: opts.Breakers,
		bufSize:  opts.ReadBufferSize,
		logger:   opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Transport: NewPooledTransport(0, config.PoolConfig{})}
	}
	if c.registry == nil {
		c.registry = NewDefaultRegistry()
	}
	if c.bufSize <= 0 {
		c.bufSize = defaultReadBufferSize
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Stream implements domain.Streamer.
func (c *Client) Stream(ctx context.Context, desc domain.RequestDescriptor, obs domain.ChunkObserver) error {
	adapter, err := c.registry.Resolve(desc.Provider)
	if err != nil {
		return err
	}

	spec, err := adapter.Build(desc)
	if err != nil {
		return err
	}

	obs.Phase(domain.PhaseConnecting)
	resp, err := c.breakers.Open(adapter.Kind(), func() (*http.Response, error) {
		return doStreamRequest(ctx, c.http, spec)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	c.logger.Debug("llm stream connected",
		"provider", string(adapter.Kind()),
		"model", desc.Model,
		"status", resp.StatusCode,
		"content_type", contentType,
	)

	if !isEventStream(contentType) {
		obs.Phase(domain.PhaseBatchParsing)
		return c.consumeBody(ctx, adapter.Kind(), resp.Body, obs)
	}

	obs.Phase(domain.PhaseStreaming)
	return c.consumeSSE(ctx, adapter, resp.Body, obs)
}

// consumeBody reads a non-streaming response and routes it to the fallback decoder.
func (c *Client) consumeBody(ctx context.Context, kind domain.ProviderKind, body io.Reader, obs domain.ChunkObserver) error {
	data, err := readBody(ctx, body)
	if err != nil {
		return err
	}

	fragments, err := DecodeFallback(kind, data)
	if err != nil {
		return err
	}
	obs.Chunk(domain.VendorChunk{Deltas: fragments, Done: true})
	return nil
}

// consumeSSE frames the body into lines and decodes each data payload until
// a terminal chunk arrives or the body ends.
func (c *Client) consumeSSE(ctx context.Context, adapter domain.StreamAdapter, body io.Reader, obs domain.ChunkObserver) error {
	framer := NewLineFramer()
	buf := make([]byte, c.bufSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				done, err := c.handleLine(adapter, line, obs)
				if err != nil || done {
					return err
				}
			}
		}

		if errors.Is(rerr, io.EOF) {
			// The line buffer dies with the body; an unterminated tail is not a line.
			if rest, ok := framer.Flush(); ok {
				c.logger.Debug("discarding unterminated sse line",
					"provider", string(adapter.Kind()),
					"bytes", len(rest),
				)
			}
			return nil
		}
		if rerr != nil {
			return transportError(ctx, rerr)
		}
	}
}

// handleLine decodes one framed line. done reports a terminal chunk.
func (c *Client) handleLine(adapter domain.StreamAdapter, line string, obs domain.ChunkObserver) (done bool, err error) {
	data, ok := Payload(line)
	if !ok {
		return false, nil
	}

	chunk, err := adapter.DecodeLine(data)
	if err != nil {
		if errors.Is(err, domain.ErrParse) {
			obs.Dropped(data, err)
			return false, nil
		}
		return false, err
	}
	if chunk == nil {
		return false, nil
	}

	obs.Chunk(*chunk)
	return chunk.Done, nil
}

var _ domain.Streamer = (*Client)(nil)
