package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/edgeopslabs/manifold/pkg/bridge"
	"github.com/edgeopslabs/manifold/pkg/config"
	"github.com/edgeopslabs/manifold/pkg/executor"
	"github.com/edgeopslabs/manifold/pkg/manifest"
	"github.com/edgeopslabs/manifold/pkg/registry"
	"github.com/edgeopslabs/manifold/pkg/types"
	"github.com/mark3labs/mcp-go/mcp"
)

const moduleName = "remote"

// Module serves the tools of a remote API manifest.
type Module struct {
	cfg    *config.Config
	client *http.Client
	bridge *bridge.Bridge
}

func New() *Module {
	return &Module{client: &http.Client{}}
}

// NewWithClient is New with a caller-supplied HTTP client.
func NewWithClient(client *http.Client) *Module {
	return &Module{client: client}
}

func (m *Module) Name() string {
	return moduleName
}

// Init loads the manifest, from remote.manifest_file when set and from
// {domain}{manifest_path} otherwise. Any failure aborts startup.
func (m *Module) Init(ctx context.Context, cfg *config.Config) error {
	m.cfg = cfg
	man, err := m.loadManifest(ctx)
	if err != nil {
		return err
	}

	exec := executor.New(cfg.Remote.Token,
		executor.WithHTTPClient(m.client),
		executor.WithClientName(cfg.Remote.ClientName),
	)
	m.bridge = bridge.New(man, exec)
	slog.Info("manifest loaded", "name", man.Name, "version", man.Version, "tools", len(man.Tools))
	return nil
}

func (m *Module) loadManifest(ctx context.Context) (*manifest.Manifest, error) {
	if path := m.cfg.Remote.ManifestFile; path != "" {
		slog.Info("loading manifest file", "path", path)
		return manifest.Load(path)
	}
	base := m.cfg.Remote.BaseURL()
	if base == "" {
		return nil, errors.New("remote domain is required")
	}
	manifestURL := manifest.URL(base, m.cfg.Remote.ManifestPath)
	slog.Info("fetching manifest", "url", manifestURL)
	return manifest.Fetch(ctx, m.client, manifestURL, m.cfg.Remote.ClientName)
}

// Bridge returns the bridge built by Init, or nil before Init succeeds.
func (m *Module) Bridge() *bridge.Bridge {
	return m.bridge
}

func (m *Module) GetTools() []mcp.Tool {
	if m.bridge == nil {
		return nil
	}
	infos := m.bridge.ListTools()
	tools := make([]mcp.Tool, 0, len(infos))
	for _, info := range infos {
		tool, err := buildTool(info, m.Method(info.Name))
		if err != nil {
			slog.Warn("skipping tool with invalid input schema", "tool", info.Name, "error", err)
			continue
		}
		tools = append(tools, tool)
	}
	return tools
}

func (m *Module) Method(name string) string {
	if m.bridge == nil {
		return ""
	}
	tool, ok := m.bridge.Tool(name)
	if !ok {
		return ""
	}
	return tool.Handler.Method
}

// HandleCall invokes a tool. Invocation failures, including unknown tools and
// remote errors, are reported as error results carrying the full cause.
func (m *Module) HandleCall(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if m.bridge == nil {
		return mcp.NewToolResultError("remote module is not initialized"), nil
	}

	result, err := m.bridge.Invoke(ctx, name, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return toolResult(result)
}

func buildTool(info bridge.ToolInfo, method string) (mcp.Tool, error) {
	schema := make(map[string]any, len(info.InputSchema)+1)
	for key, value := range info.InputSchema {
		schema[key] = value
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return mcp.Tool{}, err
	}

	tool := mcp.NewToolWithRawSchema(info.Name, info.Description, raw)
	readOnly := method == http.MethodGet || method == http.MethodHead
	destructive := method == http.MethodDelete
	openWorld := true
	tool.Annotations.ReadOnlyHint = &readOnly
	tool.Annotations.DestructiveHint = &destructive
	tool.Annotations.OpenWorldHint = &openWorld
	return tool, nil
}

// toolResult renders a normalized result as MCP text content: text payloads
// verbatim, JSON payloads and stream results as indented JSON.
func toolResult(result types.Result) (*mcp.CallToolResult, error) {
	if result.Kind == types.KindValue {
		if text, ok := result.Payload.(string); ok {
			return mcp.NewToolResultText(text), nil
		}
		data, err := json.MarshalIndent(result.Payload, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode tool result: %w", err)
		}
		return mcp.NewToolResultText(string(data)), nil
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func init() {
	registry.Register(moduleName, New())
}

var _ types.Module = (*Module)(nil)
