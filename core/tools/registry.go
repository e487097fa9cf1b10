package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jinzhu/copier"

	"github.com/hrilab/voiceagent-core/core/realtime"
)

// Registry is the set of tools offered to the session. Registration order is
// preserved so the advertised list is stable across reconnects.
type Registry struct {
	mu    sync.RWMutex
	tools []Tool
	names map[string]int
}

func NewRegistry(tools ...Tool) *Registry {
	registry := &Registry{names: map[string]int{}}
	for _, tool := range tools {
		_ = registry.Register(tool)
	}
	return registry
}

func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if tool.Handle == nil {
		return fmt.Errorf("tool %q has no handler", tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.names[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	r.names[tool.Name] = len(r.tools)
	r.tools = append(r.tools, tool)
	return nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	index, ok := r.names[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[index], true
}

// Available returns the tools currently advertised to the session.
func (r *Registry) Available() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	available := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		if tool.Available == nil || tool.Available() {
			available = append(available, tool)
		}
	}
	return available
}

// Schemas projects the available tools into their wire form for the session
// configuration.
func (r *Registry) Schemas() []realtime.ToolSchema {
	available := r.Available()

	schemas := []realtime.ToolSchema{}
	if err := copier.Copy(&schemas, available); err != nil {
		logger.Error("failed to project tool schemas", "error", err)
		return nil
	}

	for i := range schemas {
		schemas[i].Type = "function"
		if available[i].Parameters == nil {
			continue
		}
		parameters, err := json.Marshal(available[i].Parameters)
		if err != nil {
			logger.Error("failed to serialize tool parameters", "tool", available[i].Name, "error", err)
			continue
		}
		schemas[i].Parameters = parameters
	}
	return schemas
}
