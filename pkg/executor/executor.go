// Package executor issues the HTTP request behind a tool call and
// normalizes the response.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/edgeopslabs/manifold/pkg/metrics"
	"github.com/edgeopslabs/manifold/pkg/router"
	"github.com/edgeopslabs/manifold/pkg/stream"
	"github.com/edgeopslabs/manifold/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName   = "github.com/edgeopslabs/manifold/pkg/executor"
	acceptHeader = "application/json, text/event-stream"

	contentTypeJSON   = "application/json"
	contentTypeStream = "text/event-stream"
)

// RemoteAPIError is returned for a non-2xx response. Body holds the response
// body exactly as received.
type RemoteAPIError struct {
	StatusCode int
	Body       string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("remote api error: status %d: %s", e.StatusCode, e.Body)
}

// Request is a fully routed tool call.
type Request struct {
	Method    string
	URL       string
	Query     map[string]any
	Body      map[string]any
	RequestID string
}

type Executor struct {
	client     *http.Client
	token      string
	clientName string
	tracer     trace.Tracer
	logger     *slog.Logger
}

type Option func(*Executor)

// WithHTTPClient replaces the default client. No timeout is set by default;
// deadlines come from the caller's context.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) { e.client = client }
}

func WithClientName(name string) Option {
	return func(e *Executor) { e.clientName = name }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) { e.tracer = tp.Tracer(tracerName) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

func New(token string, opts ...Option) *Executor {
	e := &Executor{
		client:     &http.Client{},
		token:      token,
		clientName: "manifold-mcp-bridge",
		tracer:     otel.Tracer(tracerName),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute sends req and normalizes the response: event streams are consumed
// to completion, JSON bodies are decoded, anything else is returned as text.
func (e *Executor) Execute(ctx context.Context, req Request) (types.Result, error) {
	method := strings.ToUpper(req.Method)
	ctx, span := e.tracer.Start(ctx, "remote.request", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", req.URL),
		))
	defer span.End()

	start := time.Now()
	status, result, err := e.do(ctx, method, req)
	metrics.ObserveRemoteRequest(method, status, time.Since(start))

	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.Result{}, err
	}
	span.SetAttributes(attribute.String("manifold.result_kind", string(result.Kind)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (e *Executor) do(ctx context.Context, method string, req Request) (int, types.Result, error) {
	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + router.EncodeQuery(req.Query)
	}

	var body io.Reader
	if hasBody(method) && len(req.Body) > 0 {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return 0, types.Result{}, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, types.Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.token)
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", acceptHeader)
	httpReq.Header.Set("User-Agent", e.clientName)
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-Id", req.RequestID)
	}

	e.logger.Debug("remote request", "method", method, "url", target, "request_id", req.RequestID)
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return 0, types.Result{}, fmt.Errorf("failed to call %s %s: %w", method, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return resp.StatusCode, types.Result{}, fmt.Errorf("failed to read error body (status %d): %w", resp.StatusCode, readErr)
		}
		return resp.StatusCode, types.Result{}, &RemoteAPIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	switch mediaType(resp.Header.Get("Content-Type")) {
	case contentTypeStream:
		result, err := stream.Consume(ctx, resp.Body)
		return resp.StatusCode, result, err
	case contentTypeJSON:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, types.Result{}, fmt.Errorf("failed to read response: %w", err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return resp.StatusCode, types.ValueResult(""), nil
		}
		payload, err := decodeJSON(data)
		if err != nil {
			return resp.StatusCode, types.Result{}, fmt.Errorf("failed to decode json response: %w: %s", err, string(data))
		}
		return resp.StatusCode, types.ValueResult(payload), nil
	default:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, types.Result{}, fmt.Errorf("failed to read response: %w", err)
		}
		return resp.StatusCode, types.ValueResult(string(data)), nil
	}
}

// decodeJSON decodes a single JSON value, keeping numbers as json.Number so
// integers beyond float64 precision survive unchanged.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after json value")
	}
	return payload, nil
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// mediaType reduces a Content-Type header to its media type, folding
// structured "+json" types into application/json.
func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(header, ";", 2)[0]))
	}
	if strings.HasSuffix(mt, "+json") {
		return contentTypeJSON
	}
	return mt
}
