// Package tools provides the tool catalog, input-schema validation, and the
// sales tool implementations offered to the model.
package tools

import (
	"context"
	"fmt"
	"sync"
)

// ExecResult is the outcome of a tool execution. Content is what the model
// sees; Action, when set, is rendered by the host application out-of-band.
type ExecResult struct {
	Content string
	Action  *SpecialAction
}

// Tool is a capability the model may invoke during the agentic loop.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	Exec(ctx context.Context, args map[string]any) (*ExecResult, error)
}

// toolDescriptor pairs a tool's metadata with its factory.
type toolDescriptor struct {
	meta    ToolDefinition
	factory func() Tool
}

// immutableRegistry is the global, sealed-after-startup tool catalog.
type immutableRegistry struct {
	mu     sync.RWMutex
	sealed bool
	tools  map[string]toolDescriptor
}

//nolint:gochecknoglobals // catalog is process-wide static data
var globalRegistry = &immutableRegistry{
	tools: make(map[string]toolDescriptor),
}

// Register adds a tool factory to the global catalog.
// Panics if called after the catalog is sealed.
func Register(name string, factory func() Tool, meta ToolDefinition) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if globalRegistry.sealed {
		panic(fmt.Sprintf("tool registry sealed - cannot register tool %q", name))
	}
	globalRegistry.tools[name] = toolDescriptor{meta: meta, factory: factory}
}

// Seal prevents further registrations. Called automatically when the first
// Provider is created.
func Seal() {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.sealed = true
}

// Provider exposes a fixed subset of the catalog to one conversation turn.
type Provider struct {
	mu       sync.Mutex
	tools    map[string]Tool
	allowSet map[string]struct{}
}

// NewProvider creates a Provider limited to the named tools.
// An empty allow list exposes the full catalog.
func NewProvider(allowedTools []string) *Provider {
	Seal()

	allowSet := make(map[string]struct{}, len(allowedTools))
	if len(allowedTools) == 0 {
		globalRegistry.mu.RLock()
		for name := range globalRegistry.tools {
			allowSet[name] = struct{}{}
		}
		globalRegistry.mu.RUnlock()
	} else {
		for _, name := range allowedTools {
			allowSet[name] = struct{}{}
		}
	}

	return &Provider{
		tools:    make(map[string]Tool),
		allowSet: allowSet,
	}
}

// Get retrieves a tool instance, creating it lazily.
func (p *Provider) Get(name string) (Tool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.allowSet[name]; !ok {
		return nil, fmt.Errorf("tool %q not allowed in this context", name)
	}
	if tool, ok := p.tools[name]; ok {
		return tool, nil
	}

	globalRegistry.mu.RLock()
	desc, exists := globalRegistry.tools[name]
	globalRegistry.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("tool %q not registered", name)
	}

	tool := desc.factory()
	p.tools[name] = tool
	return tool, nil
}

// List returns the definitions of all allowed tools.
func (p *Provider) List() []ToolDefinition {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	result := make([]ToolDefinition, 0, len(p.allowSet))
	for name := range p.allowSet {
		if desc, ok := globalRegistry.tools[name]; ok {
			result = append(result, desc.meta)
		}
	}
	return result
}

// Execute runs the named tool after validating args against its schema.
// Business-logic failures come back as error-string results, not errors;
// only catalog misuse (unknown tool, bad schema) returns an error.
func (p *Provider) Execute(ctx context.Context, name string, args map[string]any) (*ExecResult, error) {
	tool, err := p.Get(name)
	if err != nil {
		return nil, err
	}

	if err := ValidateArgs(tool.Definition().InputSchema, args); err != nil {
		return &ExecResult{Content: fmt.Sprintf("Ошибка вызова инструмента: %v", err)}, nil
	}

	return tool.Exec(ctx, args)
}
