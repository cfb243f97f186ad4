// manifold serves the tools declared by a remote API's /mcp.json manifest
// over MCP, forwarding each call to the tool's HTTP endpoint.
//
// Claude Desktop (~/.claude/claude_desktop_config.json):
//
//	{
//	  "mcpServers": {
//	    "example": {
//	      "command": "/path/to/manifold",
//	      "args": ["--domain", "api.example.com"],
//	      "env": {"MANIFOLD_TOKEN": "..."}
//	    }
//	  }
//	}
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/edgeopslabs/manifold/pkg/common"
	"github.com/edgeopslabs/manifold/pkg/config"
	"github.com/edgeopslabs/manifold/pkg/metrics"
	"github.com/edgeopslabs/manifold/pkg/policy"
	"github.com/edgeopslabs/manifold/pkg/registry"
	"github.com/edgeopslabs/manifold/pkg/types"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "github.com/edgeopslabs/manifold/pkg/modules/remote"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "manifold",
		Short: "MCP bridge for manifest-described HTTP APIs",
		Long: `manifold fetches {domain}/mcp.json, exposes every tool it declares to an
MCP host, and forwards each tool call to the tool's HTTP endpoint. JSON,
text and event-stream responses are normalized into a single tool result.

Logging goes to stderr so it does not interfere with the stdio transport.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "manifold.yaml", "path to manifold configuration file")
	flags.String("domain", "", "remote API domain or base URL serving the manifest")
	flags.String("token", "", "bearer token sent to the remote API")
	flags.String("manifest-file", "", "load the manifest from a local JSON/YAML file instead of the domain")
	flags.Bool("safe-mode", false, "deny tools backed by POST, PUT, PATCH or DELETE")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	serveFlags := root.Flags()
	serveFlags.String("transport", "", "transport: stdio, sse or http")
	serveFlags.String("http-addr", "", "listen address for sse/http transports")
	serveFlags.String("base-url", "", "base URL for the sse endpoint (e.g. http://localhost:8080)")
	serveFlags.String("base-path", "", "base path for MCP endpoints")

	v.SetEnvPrefix("MANIFOLD")
	v.SetEnvKeyReplacer(newReplacer())
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)
	_ = v.BindPFlags(serveFlags)

	root.AddCommand(newToolsCmd(v), newVersionCmd())
	return root
}

// newReplacer maps flag names to environment keys: safe-mode becomes
// MANIFOLD_SAFE_MODE.
func newReplacer() *strings.Replacer {
	return strings.NewReplacer("-", "_")
}

func newToolsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tools the manifest exposes, with their policy status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := setup(v)
			modules, err := registry.LoadModules(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			toolPolicy := policy.New(cfg.Policy, cfg.Server.SafeMode)
			return writeInventory(cmd.OutOrStdout(), toolInventory{
				Server:    cfg.Server.Name,
				Version:   cfg.Server.Version,
				Transport: cfg.Server.Transport,
				Tools:     collectToolSummaries(modules, toolPolicy),
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the manifold version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), common.Version)
		},
	}
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg := setup(v)
	common.PrintBanner(os.Stderr)
	if cfg.Server.SafeMode {
		slog.Warn("safe mode enabled (read-only methods only)")
	}

	modules, err := registry.LoadModules(ctx, cfg)
	if err != nil {
		slog.Error("failed to load modules", "error", err)
		return err
	}

	s := server.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	toolPolicy := policy.New(cfg.Policy, cfg.Server.SafeMode)
	toolSummaries := collectToolSummaries(modules, toolPolicy)
	if registerTools(s, modules, toolPolicy) == 0 {
		slog.Warn("no tools exposed; check policy and safe mode")
	}

	switch strings.ToLower(cfg.Server.Transport) {
	case "sse":
		return startSSEServer(ctx, s, cfg, toolSummaries)
	case "http", "streamable-http":
		return startStreamableServer(ctx, s, cfg, toolSummaries)
	}

	fmt.Fprintln(os.Stderr, "manifold is serving on stdio")
	if err := server.ServeStdio(s); err != nil {
		slog.Error("server error", "error", err)
		return err
	}
	return nil
}

// setup loads the config file, overlays flags and MANIFOLD_* environment
// variables, and installs the default logger.
func setup(v *viper.Viper) *config.Config {
	configPath := v.GetString("config")
	cfg, err := config.LoadConfig(configPath)
	applyOverrides(cfg, v)
	configureLogging(cfg)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("config file not found, using defaults", "path", configPath)
		} else {
			slog.Warn("failed to load config, using defaults", "path", configPath, "error", err)
		}
	}
	return cfg
}

func applyOverrides(cfg *config.Config, v *viper.Viper) {
	overrides := map[string]*string{
		"domain":        &cfg.Remote.Domain,
		"token":         &cfg.Remote.Token,
		"manifest-file": &cfg.Remote.ManifestFile,
		"log-level":     &cfg.Server.LogLevel,
		"transport":     &cfg.Server.Transport,
		"http-addr":     &cfg.Server.HTTPAddr,
		"base-url":      &cfg.Server.BaseURL,
		"base-path":     &cfg.Server.BasePath,
	}
	for key, target := range overrides {
		if v.IsSet(key) && v.GetString(key) != "" {
			*target = v.GetString(key)
		}
	}
	if v.GetBool("safe-mode") {
		cfg.Server.SafeMode = true
	}
}

func configureLogging(cfg *config.Config) {
	level := parseLogLevel(cfg.Server.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// registerTools adds every tool the policy does not deny and returns how
// many were registered.
func registerTools(s *server.MCPServer, modules []types.Module, toolPolicy *policy.Policy) int {
	registered := 0
	for _, module := range modules {
		mod := module
		for _, tool := range mod.GetTools() {
			name := tool.Name
			method := mod.Method(name)
			if toolPolicy.Evaluate(name, method) == policy.Deny {
				slog.Warn("tool blocked by policy", "module", mod.Name(), "tool", name, "method", method)
				continue
			}

			s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				switch toolPolicy.Evaluate(name, method) {
				case policy.Deny:
					metrics.ToolCallsTotal.WithLabelValues(name, metrics.OutcomeDenied).Inc()
					return mcp.NewToolResultError("tool blocked by policy"), nil
				case policy.Confirm:
					if !confirmTool(name, method) {
						metrics.ToolCallsTotal.WithLabelValues(name, metrics.OutcomeDenied).Inc()
						return mcp.NewToolResultError("tool execution denied by user"), nil
					}
				}
				args, ok := request.Params.Arguments.(map[string]interface{})
				if !ok {
					args = make(map[string]interface{})
				}
				return mod.HandleCall(ctx, name, args)
			})
			registered++
			slog.Info("tool registered", "module", mod.Name(), "tool", name, "method", method)
		}
	}
	return registered
}

func confirmTool(tool, method string) bool {
	tty, err := os.OpenFile(filepath.Clean("/dev/tty"), os.O_RDWR, 0)
	if err != nil {
		slog.Warn("confirmation unavailable; denying tool", "tool", tool, "error", err)
		return false
	}
	defer tty.Close()

	_, _ = fmt.Fprintf(tty, "Confirm %s call to %s [y/N]: ", method, tool)
	reader := bufio.NewReader(tty)
	line, _ := reader.ReadString('\n')
	response := strings.TrimSpace(strings.ToLower(line))
	return response == "y" || response == "yes"
}
