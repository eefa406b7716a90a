package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tether/internal/wire"
)

const tracerName = "github.com/roach88/tether/internal/transport"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// HTTP posts requests as form data to a single endpoint.
type HTTP struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	tracer   trace.Tracer
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

// WithLogger sets the logger for absorbed failures.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) HTTPOption {
	return func(h *HTTP) {
		if tp != nil {
			h.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewHTTP creates a transport posting to endpoint.
func NewHTTP(endpoint string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		endpoint: endpoint,
		client:   &http.Client{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Endpoint returns the server URL.
func (h *HTTP) Endpoint() string {
	return h.endpoint
}

// Exchange posts req and returns the response body. Deadlines come from ctx.
func (h *HTTP) Exchange(ctx context.Context, req wire.Request) ([]byte, bool) {
	ctx, span := h.tracer.Start(ctx, "tether.exchange",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tether.action", string(req.Action)),
			attribute.String("tether.client", req.Client),
			attribute.Int("tether.events", len(req.Events)),
		))
	defer span.End()

	body, err := h.do(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Debug("exchange failed",
			"action", req.Action,
			"endpoint", h.endpoint,
			"error", err)
		return nil, false
	}
	span.SetAttributes(attribute.Int("tether.response_bytes", len(body)))
	return body, true
}

func (h *HTTP) do(ctx context.Context, req wire.Request) ([]byte, error) {
	form, err := req.Form()
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("%w: status %d", ErrTransportFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransportFailure, err)
	}
	return body, nil
}
