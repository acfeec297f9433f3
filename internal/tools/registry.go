package tools

import (
    "context"
    "encoding/json"
    "log/slog"
    "sort"
    "sync"
)

// Tool is one capability offered to the delegate. Execute always returns a
// JSON-encodable result object; failures are reported inside it, never as
// raw errors.
type Tool struct {
    Name        string
    Description string
    Parameters  json.RawMessage
    ReadOnly    bool
    Execute     func(ctx context.Context, input json.RawMessage) any
}

// Definition is the part of a Tool advertised to the delegate.
type Definition struct {
    Name        string          `json:"name"`
    Description string          `json:"description"`
    Parameters  json.RawMessage `json:"parameters"`
}

type failure struct {
    Success bool   `json:"success"`
    Error   string `json:"error"`
}

func fail(msg string) any { return failure{Success: false, Error: msg} }

type Registry struct {
    mu     sync.RWMutex
    tools  map[string]*Tool
    logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
    if logger == nil { logger = slog.New(slog.DiscardHandler) }
    return &Registry{tools: make(map[string]*Tool), logger: logger}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t *Tool) {
    r.mu.Lock()
    r.tools[t.Name] = t
    r.mu.Unlock()
}

func (r *Registry) Get(name string) *Tool {
    r.mu.RLock()
    defer r.mu.RUnlock()
    return r.tools[name]
}

// Definitions lists every tool sorted by name.
func (r *Registry) Definitions() []Definition {
    r.mu.RLock()
    defer r.mu.RUnlock()
    out := make([]Definition, 0, len(r.tools))
    for _, t := range r.tools {
        out = append(out, Definition{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
    return out
}

// Call runs the named tool and returns its encoded result.
func (r *Registry) Call(ctx context.Context, name string, input json.RawMessage) json.RawMessage {
    t := r.Get(name)
    var res any
    if t == nil {
        res = fail("Unknown tool")
    } else {
        res = t.Execute(ctx, input)
    }
    b, err := json.Marshal(res)
    if err != nil {
        r.logger.Error("tool_result_encode_error", "tool", name, "error", err)
        b, _ = json.Marshal(fail("Tool failed"))
    }
    return b
}

func decodeInput(input json.RawMessage, v any) error {
    if len(input) == 0 { input = json.RawMessage(`{}`) }
    return json.Unmarshal(input, v)
}
