// Package bridge exposes the tools of a manifest and dispatches invocations
// to their HTTP endpoints.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/edgeopslabs/manifold/pkg/executor"
	"github.com/edgeopslabs/manifold/pkg/manifest"
	"github.com/edgeopslabs/manifold/pkg/metrics"
	"github.com/edgeopslabs/manifold/pkg/router"
	"github.com/edgeopslabs/manifold/pkg/stream"
	"github.com/edgeopslabs/manifold/pkg/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/edgeopslabs/manifold/pkg/bridge"

var ErrToolNotFound = errors.New("tool not found")

// Executor sends a routed request to the remote API.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) (types.Result, error)
}

// ToolInfo is the caller-visible part of a manifest tool.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Bridge is built once from a validated manifest and is read-only
// afterwards, so it is safe for concurrent use.
type Bridge struct {
	name    string
	version string
	tools   []manifest.Tool
	index   map[string]int
	exec    Executor
	logger  *slog.Logger
	tracer  trace.Tracer
}

type Option func(*Bridge)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Bridge) { b.tracer = tp.Tracer(tracerName) }
}

func New(m *manifest.Manifest, exec Executor, opts ...Option) *Bridge {
	b := &Bridge{
		name:    m.Name,
		version: m.Version,
		tools:   append([]manifest.Tool(nil), m.Tools...),
		index:   make(map[string]int, len(m.Tools)),
		exec:    exec,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for i, tool := range b.tools {
		b.index[tool.Name] = i
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.ManifestTools.Set(float64(len(b.tools)))
	return b
}

func (b *Bridge) Name() string    { return b.name }
func (b *Bridge) Version() string { return b.version }

// ListTools returns the manifest's tools in manifest order.
func (b *Bridge) ListTools() []ToolInfo {
	out := make([]ToolInfo, 0, len(b.tools))
	for _, tool := range b.tools {
		out = append(out, ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return out
}

// Tool looks a tool up by exact name.
func (b *Bridge) Tool(name string) (manifest.Tool, bool) {
	i, ok := b.index[name]
	if !ok {
		return manifest.Tool{}, false
	}
	return b.tools[i], true
}

// Invoke routes args for the named tool and calls its endpoint.
func (b *Bridge) Invoke(ctx context.Context, name string, args map[string]any) (types.Result, error) {
	tool, ok := b.Tool(name)
	if !ok {
		metrics.ToolCallsTotal.WithLabelValues(metrics.UnknownTool, metrics.OutcomeNotFound).Inc()
		return types.Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	ctx, span := b.tracer.Start(ctx, "tool.invoke", trace.WithAttributes(
		attribute.String("tool_name", name),
		attribute.String("http.request.method", tool.Handler.Method),
	))
	defer span.End()

	result, err := b.invoke(ctx, tool, args)
	outcome := outcomeOf(err)
	metrics.ToolCallsTotal.WithLabelValues(name, outcome).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		b.logger.Warn("tool call failed", "tool", name, "error", err)
		return types.Result{}, err
	}
	for _, event := range result.Events {
		metrics.StreamEventsTotal.WithLabelValues(eventLabel(event.Type)).Inc()
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (b *Bridge) invoke(ctx context.Context, tool manifest.Tool, args map[string]any) (types.Result, error) {
	routed, err := router.Classify(tool.Handler.URL, tool.Handler.Method, args)
	if err != nil {
		return types.Result{}, fmt.Errorf("tool %s: %w", tool.Name, err)
	}

	requestID := uuid.NewString()
	b.logger.Info("calling endpoint",
		"tool", tool.Name,
		"method", tool.Handler.Method,
		"url", tool.Handler.URL,
		"request_id", requestID,
	)
	return b.exec.Execute(ctx, executor.Request{
		Method:    tool.Handler.Method,
		URL:       routed.URL,
		Query:     routed.Query,
		Body:      routed.Body,
		RequestID: requestID,
	})
}

func outcomeOf(err error) string {
	var apiErr *executor.RemoteAPIError
	var streamErr *stream.Error
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &apiErr):
		return metrics.OutcomeRemoteError
	case errors.As(err, &streamErr):
		return metrics.OutcomeStreamError
	default:
		return metrics.OutcomeError
	}
}

func eventLabel(eventType string) string {
	if eventType == "" {
		return "untyped"
	}
	return eventType
}
