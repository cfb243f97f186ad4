package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/edgeopslabs/manifold/pkg/config"
	"github.com/edgeopslabs/manifold/pkg/types"
)

var (
	mu       sync.RWMutex
	modules  = make(map[string]types.Module)
	loaded   []types.Module
	loadErr  error
	loadOnce sync.Once
)

func Register(name string, module types.Module) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := modules[name]; exists {
		panic(fmt.Sprintf("module already registered: %s", name))
	}
	modules[name] = module
}

// LoadModules initializes every registered module exactly once, in name
// order, and returns them. Later calls return the first outcome.
func LoadModules(ctx context.Context, cfg *config.Config) ([]types.Module, error) {
	loadOnce.Do(func() {
		mu.RLock()
		names := make([]string, 0, len(modules))
		for name := range modules {
			names = append(names, name)
		}
		mu.RUnlock()
		sort.Strings(names)

		for _, name := range names {
			mu.RLock()
			module := modules[name]
			mu.RUnlock()
			if err := module.Init(ctx, cfg); err != nil {
				loadErr = fmt.Errorf("failed to init module %s: %w", name, err)
				loaded = nil
				return
			}
			slog.Info("module loaded", "name", name)
			loaded = append(loaded, module)
		}
	})

	if loadErr != nil {
		return nil, loadErr
	}
	return append([]types.Module(nil), loaded...), nil
}
