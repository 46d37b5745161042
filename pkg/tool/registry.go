package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/parlancehq/parlance/pkg/conversation"
	"github.com/rs/zerolog/log"
)

// Result is the outcome of a single tool call. A failed execution is carried
// as error text rather than an error value so the model can react to it.
type Result struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Message converts the result into a tool-role conversation message.
func (r Result) Message() conversation.Message {
	return conversation.ToolResult(r.Content, r.Name, r.CallID)
}

// Registry maps tool names to implementations. Registering a name that
// already exists replaces the prior entry: last registration wins.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any prior tool with the same name.
func (r *Registry) Register(t Tool) {
	name := t.Definition().Name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		log.Debug().Str("tool", name).Msg("Replacing registered tool")
	} else {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns all tool definitions in registration order, for
// inclusion in completion requests.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// ExecuteAll dispatches every call concurrently and joins before returning.
// Results are ordered by the original call order regardless of completion
// order. A failing or unknown tool yields an error-text result; it never
// aborts sibling calls.
func (r *Registry) ExecuteAll(ctx context.Context, calls []conversation.ToolCall) []Result {
	results := make([]Result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call conversation.ToolCall) {
			defer wg.Done()
			results[i] = r.executeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

func (r *Registry) executeOne(ctx context.Context, call conversation.ToolCall) Result {
	res := Result{CallID: call.ID, Name: call.Name}

	t, ok := r.Get(call.Name)
	if !ok {
		res.IsError = true
		res.Content = fmt.Sprintf("tool %q is not registered", call.Name)
		return res
	}

	out, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		log.Debug().Str("tool", call.Name).Str("call_id", call.ID).Err(err).Msg("Tool execution failed")
		res.IsError = true
		res.Content = err.Error()
		return res
	}

	res.Content = out
	return res
}
