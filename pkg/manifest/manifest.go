// Package manifest describes the tool manifest a remote API publishes and
// retrieves it over HTTP or from a local file.
package manifest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnavailable is returned when the manifest cannot be retrieved or
	// decoded, or describes tools that cannot be served.
	ErrUnavailable = errors.New("manifest unavailable")
	// ErrEmpty is returned when a manifest declares no tools.
	ErrEmpty = errors.New("manifest contains no tools")
)

type Manifest struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description"`
	Tools       []Tool `json:"tools" yaml:"tools"`
}

type Tool struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	InputSchema map[string]any `json:"inputSchema" yaml:"inputSchema"`
	Handler     Handler        `json:"handler" yaml:"handler"`
}

// Handler binds a tool to an HTTP endpoint. URL may contain {name}
// placeholders filled from the call arguments.
type Handler struct {
	Method string `json:"method" yaml:"method"`
	URL    string `json:"url" yaml:"url"`
}

// Validate normalizes handler methods and checks the manifest can be served:
// at least one tool, unique non-empty names, and a URL on every handler.
func Validate(m *Manifest) error {
	if len(m.Tools) == 0 {
		return ErrEmpty
	}
	seen := make(map[string]struct{}, len(m.Tools))
	for i := range m.Tools {
		tool := &m.Tools[i]
		if tool.Name == "" {
			return fmt.Errorf("%w: tool at index %d has no name", ErrUnavailable, i)
		}
		if _, exists := seen[tool.Name]; exists {
			return fmt.Errorf("%w: duplicate tool name: %s", ErrUnavailable, tool.Name)
		}
		seen[tool.Name] = struct{}{}
		if strings.TrimSpace(tool.Handler.URL) == "" {
			return fmt.Errorf("%w: tool %s has no handler url", ErrUnavailable, tool.Name)
		}
		tool.Handler.Method = strings.ToUpper(strings.TrimSpace(tool.Handler.Method))
		if tool.Handler.Method == "" {
			tool.Handler.Method = http.MethodGet
		}
		if tool.InputSchema == nil {
			tool.InputSchema = map[string]any{"type": "object"}
		}
	}
	return nil
}
