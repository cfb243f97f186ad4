package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/edgeopslabs/manifold/pkg/config"
	"github.com/edgeopslabs/manifold/pkg/metrics"
	"github.com/edgeopslabs/manifold/pkg/policy"
	"github.com/edgeopslabs/manifold/pkg/types"
	"github.com/mark3labs/mcp-go/server"
)

type toolSummary struct {
	Module      string `json:"module"`
	Name        string `json:"name"`
	Method      string `json:"method"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
}

type toolInventory struct {
	Server    string        `json:"server"`
	Version   string        `json:"version"`
	Transport string        `json:"transport"`
	Tools     []toolSummary `json:"tools"`
}

func collectToolSummaries(modules []types.Module, toolPolicy *policy.Policy) []toolSummary {
	summaries := []toolSummary{}
	for _, module := range modules {
		for _, tool := range module.GetTools() {
			method := module.Method(tool.Name)
			summaries = append(summaries, toolSummary{
				Module:      module.Name(),
				Name:        tool.Name,
				Method:      method,
				Description: tool.Description,
				Status:      toolPolicy.Evaluate(tool.Name, method).String(),
			})
		}
	}
	return summaries
}

func writeInventory(w io.Writer, inventory toolInventory) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(inventory)
}

// baseMux serves the endpoints shared by the HTTP transports.
func baseMux(cfg *config.Config, tools []toolSummary) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/tools", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = writeInventory(w, toolInventory{
			Server:    cfg.Server.Name,
			Version:   cfg.Server.Version,
			Transport: cfg.Server.Transport,
			Tools:     tools,
		})
	})
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}
	return mux
}

func startSSEServer(ctx context.Context, mcpServer *server.MCPServer, cfg *config.Config, tools []toolSummary) error {
	baseURL := cfg.Server.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost" + cfg.Server.HTTPAddr
	}
	basePath := cfg.Server.BasePath

	sseServer := server.NewSSEServer(
		mcpServer,
		server.WithBaseURL(baseURL),
		server.WithStaticBasePath(basePath),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithUseFullURLForMessageEndpoint(true),
		server.WithKeepAlive(true),
	)

	mux := baseMux(cfg, tools)
	mux.Handle(basePath+"/sse", sseServer.SSEHandler())
	mux.Handle(basePath+"/message", sseServer.MessageHandler())

	slog.Info("starting sse server", "addr", cfg.Server.HTTPAddr, "baseURL", baseURL, "basePath", basePath)
	return listen(ctx, cfg.Server.HTTPAddr, mux)
}

func startStreamableServer(ctx context.Context, mcpServer *server.MCPServer, cfg *config.Config, tools []toolSummary) error {
	basePath := cfg.Server.BasePath
	streamable := server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath(basePath))

	mux := baseMux(cfg, tools)
	mux.Handle(basePath, streamable)

	slog.Info("starting streamable http server", "addr", cfg.Server.HTTPAddr, "path", basePath)
	return listen(ctx, cfg.Server.HTTPAddr, mux)
}

func listen(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", "error", err)
		return err
	}
	return nil
}
