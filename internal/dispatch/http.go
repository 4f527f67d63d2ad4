package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/rpsgen/internal/httpclient"
	"github.com/torosent/rpsgen/internal/tracing"
)

// HTTPOptions configures the GET dispatcher.
type HTTPOptions struct {
	Client    *http.Client      // shared across every Target of a run
	Headers   map[string]string // extra request headers
	ReadBody  bool              // read response bodies to EOF
	Tracer    trace.Tracer      // nil disables spans
	Propagate bool              // inject W3C trace headers
}

// HTTP issues GET requests. Request builders are prepared per Target up
// front and only read afterwards, so Dispatch is safe for concurrent use.
type HTTP struct {
	client    *http.Client
	headers   map[string]string
	readBody  bool
	tracer    trace.Tracer
	propagate bool
	builders  map[Target]*httpclient.RequestBuilder
}

// NewHTTP validates every target's URL, Host header and opts.Headers.
func NewHTTP(opts HTTPOptions, targets ...Target) (*HTTP, error) {
	if opts.Client == nil {
		return nil, errors.New("dispatch: http client is required")
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	h := &HTTP{
		client:    opts.Client,
		headers:   opts.Headers,
		readBody:  opts.ReadBody,
		tracer:    tracer,
		propagate: opts.Propagate,
		builders:  make(map[Target]*httpclient.RequestBuilder, len(targets)),
	}
	for _, t := range targets {
		b, err := httpclient.NewRequestBuilder(t.URL, t.HostHeader, opts.Headers)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t, err)
		}
		h.builders[t] = b
	}
	return h, nil
}

func (h *HTTP) Dispatch(ctx context.Context, target Target) Result {
	ctx, span := tracing.StartDispatchSpan(ctx, h.tracer, target.Name, target.URL, target.HostHeader)
	res := h.do(ctx, target)

	attrs := []attribute.KeyValue{tracing.AttrOutcome.String(res.Outcome())}
	if res.StatusCode != 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", res.StatusCode))
	}
	tracing.EndSpan(span, res.Err, attrs...)
	return res
}

func (h *HTTP) do(ctx context.Context, target Target) Result {
	builder, ok := h.builders[target]
	if !ok {
		var err error
		builder, err = httpclient.NewRequestBuilder(target.URL, target.HostHeader, h.headers)
		if err != nil {
			return Failure(ReasonRequest, err)
		}
	}

	req, err := builder.Build(ctx)
	if err != nil {
		return Failure(ReasonRequest, err)
	}
	if h.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Failure(Classify(ctx, err), err)
	}
	// Body errors after the status line never change the classification.
	_, _ = httpclient.FinishBody(resp, h.readBody)
	return Status(resp.StatusCode)
}
