package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeopslabs/manifold/pkg/metrics"
	"github.com/edgeopslabs/manifold/pkg/stream"
	"github.com/edgeopslabs/manifold/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type captured struct {
	method  string
	path    string
	query   string
	header  http.Header
	body    []byte
	hasBody bool
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.header = r.Header.Clone()
		got.body, _ = io.ReadAll(r.Body)
		got.hasBody = r.ContentLength > 0
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func jsonHandler(body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

func TestExecuteGetWithoutQueryOrBody(t *testing.T) {
	srv, got := newServer(t, jsonHandler(`{"id":"42"}`))
	e := New("secret", WithHTTPClient(srv.Client()), WithClientName("test-client"))

	_, err := e.Execute(context.Background(), Request{Method: "GET", URL: srv.URL + "/users/42", RequestID: "req-1"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "/users/42", got.path)
	assert.Empty(t, got.query)
	assert.Empty(t, got.body)
	assert.Equal(t, "Bearer secret", got.header.Get("Authorization"))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "application/json, text/event-stream", got.header.Get("Accept"))
	assert.Equal(t, "test-client", got.header.Get("User-Agent"))
	assert.Equal(t, "req-1", got.header.Get("X-Request-Id"))
}

func TestExecuteAppendsQuery(t *testing.T) {
	srv, got := newServer(t, jsonHandler(`[]`))
	e := New("t", WithHTTPClient(srv.Client()))

	_, err := e.Execute(context.Background(), Request{
		Method: "GET",
		URL:    srv.URL + "/search?fixed=1",
		Query:  map[string]any{"q": "a b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed=1&q=a+b", got.query)
}

func TestExecuteSendsJSONBody(t *testing.T) {
	srv, got := newServer(t, jsonHandler(`{"ok":true}`))
	e := New("t", WithHTTPClient(srv.Client()))

	_, err := e.Execute(context.Background(), Request{
		Method: "POST",
		URL:    srv.URL + "/users",
		Body:   map[string]any{"name": "ada", "age": 36.0},
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, got.method)
	assert.JSONEq(t, `{"name":"ada","age":36}`, string(got.body))
}

func TestExecuteOmitsEmptyBody(t *testing.T) {
	srv, got := newServer(t, jsonHandler(`{}`))
	e := New("t", WithHTTPClient(srv.Client()))

	_, err := e.Execute(context.Background(), Request{Method: "PUT", URL: srv.URL + "/x", Body: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, got.hasBody)
	assert.Empty(t, got.body)
}

func TestExecuteDeleteNeverSendsBody(t *testing.T) {
	srv, got := newServer(t, jsonHandler(`{}`))
	e := New("t", WithHTTPClient(srv.Client()))

	_, err := e.Execute(context.Background(), Request{Method: "DELETE", URL: srv.URL + "/x", Body: map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.Empty(t, got.body)
}

func TestExecuteJSONRoundTrip(t *testing.T) {
	srv, _ := newServer(t, jsonHandler(`{"a":1}`))
	e := New("t", WithHTTPClient(srv.Client()))

	result, err := e.Execute(context.Background(), Request{Method: "GET", URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, types.KindValue, result.Kind)
	assert.Equal(t, map[string]any{"a": json.Number("1")}, result.Payload)
}

func TestExecuteJSONKeepsLargeIntegers(t *testing.T) {
	srv, _ := newServer(t, jsonHandler(`{"id":9007199254740993}`))
	e := New("t", WithHTTPClient(srv.Client()))

	result, err := e.Execute(context.Background(), Request{Method: "GET", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": json.Number("9007199254740993")}, result.Payload)

	rendered, err := json.Marshal(result.Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":9007199254740993}`, string(rendered))
	assert.Contains(t, string(rendered), "9007199254740993")
}

func TestExecuteJSONRejectsTrailingData(t *testing.T) {
	srv, _ := newServer(t, jsonHandler(`{"a":1} {"b":2}`))
	e := New("t", WithHTTPClient(srv.Client()))

	_, err := e.Execute(context.Background(), Request{Method: "GET", URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode json response")
}

func TestExecuteProblemJSONIsDecoded(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.api+json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	e := New("t", WithHTTPClient(srv.Client()))

	result, err := e.Execute(context.Background(), Request{Method: "GET", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"data": []any{}}, result.Payload)
}

func TestExecuteTextFallback(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("pong"))
	})
	e := New("t", WithHTTPClient(srv.Client()))

	result, err := e.Execute(context.Background(), Request{Method: "GET", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, types.ValueResult("pong"), result)
}

func TestExecuteRemoteAPIError(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("not allowed"))
	})
	e := New("t", WithHTTPClient(srv.Client()))

	before := testutil.ToFloat64(metrics.RemoteRequestsTotal.WithLabelValues("GET", "403"))
	_, err := e.Execute(context.Background(), Request{Method: "GET", URL: srv.URL})

	var apiErr *RemoteAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "not allowed", apiErr.Body)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RemoteRequestsTotal.WithLabelValues("GET", "403")))
}

func TestExecuteEventStream(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range []string{
			"data: {\"type\":\"delta\",\"content\":\"Hi\"}\n",
			"data: {\"type\":\"delta\",\"content\":\" there\"}\n",
			"data: [DONE]\n",
		} {
			_, _ = w.Write([]byte(line))
			flusher.Flush()
		}
	})
	e := New("t", WithHTTPClient(srv.Client()))

	result, err := e.Execute(context.Background(), Request{Method: "POST", URL: srv.URL, Body: map[string]any{"prompt": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, types.KindStream, result.Kind)
	assert.Equal(t, "Hi there", result.AccumulatedText)
	assert.Equal(t, 2, result.EventCount)
}

func TestExecuteStreamCancelled(t *testing.T) {
	release := make(chan struct{})
	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"type\":\"delta\",\"content\":\"partial\"}\n"))
		w.(http.Flusher).Flush()
		<-release
	})
	defer close(release)
	ctx, cancel := context.WithCancel(context.Background())
	tracked := &cancelOnFirstRead{cancel: cancel}
	e := New("t", WithHTTPClient(&http.Client{Transport: tracked.wrap(http.DefaultTransport)}))

	result, err := e.Execute(ctx, Request{Method: "GET", URL: srv.URL})
	var streamErr *stream.Error
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, types.Result{}, result)
}

func TestExecuteRecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	e := New("t", WithHTTPClient(srv.Client()), WithTracerProvider(tp))

	_, err := e.Execute(context.Background(), Request{Method: "get", URL: srv.URL})
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "remote.request", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	found := false
	for _, attr := range spans[0].Attributes {
		if string(attr.Key) == "http.response.status_code" && attr.Value.AsInt64() == http.StatusNotFound {
			found = true
		}
	}
	assert.True(t, found, "expected status code attribute")
}

func TestExecuteTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New("t").Execute(context.Background(), Request{Method: "GET", URL: addr})
	require.Error(t, err)
	var apiErr *RemoteAPIError
	assert.False(t, errors.As(err, &apiErr))
}

// cancelOnFirstRead cancels the request context once the response headers
// have arrived, simulating a caller deadline expiring mid-stream.
type cancelOnFirstRead struct {
	cancel context.CancelFunc
}

func (c *cancelOnFirstRead) wrap(next http.RoundTripper) http.RoundTripper {
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		resp, err := next.RoundTrip(r)
		if err == nil {
			c.cancel()
		}
		return resp, err
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
