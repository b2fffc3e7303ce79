package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("sqlchart-agent/internal/tools")

// Function executes a tool with its JSON-encoded arguments. Failures the
// model should see and recover from are returned as result text; a non-nil
// error means the call could not be made at all.
type Function func(ctx context.Context, input json.RawMessage) (string, error)

// Tool is a callable exposed to an agent.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
	// PrimaryArg receives the value when the model passes a bare string
	// instead of an arguments object.
	PrimaryArg string
	Function   Function
}

// GenerateSchema reflects the parameter schema of T.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	var v T
	schema := reflector.Reflect(v)
	schema.Version = ""
	return schema
}

// Invocation is a request to run Tool with Input. Input is either a
// map[string]any of named arguments or a bare string for the primary
// argument.
type Invocation struct {
	Tool  string
	Input any
}

// ErrUnknownTool is returned by Executor.Invoke for unregistered names.
var ErrUnknownTool = errors.New("unknown tool")

// Executor dispatches invocations to registered tools.
type Executor struct {
	tools  []Tool
	byName map[string]int
}

// NewExecutor registers tools in order. Names must be unique.
func NewExecutor(tools ...Tool) (*Executor, error) {
	e := &Executor{byName: make(map[string]int, len(tools))}
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, errors.New("tools: tool name must not be empty")
		}
		if t.Function == nil {
			return nil, fmt.Errorf("tools: tool %q has no function", name)
		}
		if _, dup := e.byName[name]; dup {
			return nil, fmt.Errorf("tools: duplicate tool %q", name)
		}
		e.byName[name] = len(e.tools)
		e.tools = append(e.tools, t)
	}
	return e, nil
}

// Names returns the registered tool names in registration order.
func (e *Executor) Names() []string {
	names := make([]string, len(e.tools))
	for i, t := range e.tools {
		names[i] = t.Name
	}
	return names
}

// Lookup returns the tool registered under name.
func (e *Executor) Lookup(name string) (Tool, bool) {
	i, ok := e.byName[name]
	if !ok {
		return Tool{}, false
	}
	return e.tools[i], true
}

// Invoke runs the tool named by inv.
func (e *Executor) Invoke(ctx context.Context, inv Invocation) (string, error) {
	ctx, span := tracer.Start(ctx, "execute tool", trace.WithAttributes(attribute.String("tool.name", inv.Tool)))
	defer span.End()

	t, ok := e.Lookup(inv.Tool)
	if !ok {
		err := fmt.Errorf("tools: %w: %q", ErrUnknownTool, inv.Tool)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	raw, err := encodeInput(t, inv.Input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("tool.input_size", len(raw)))

	out, err := t.Function(ctx, raw)
	if err != nil {
		err = fmt.Errorf("tools: execute %q: %w", t.Name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("tool.output_size", len(out)))
	return out, nil
}

func encodeInput(t Tool, input any) (json.RawMessage, error) {
	switch v := input.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return v, nil
	case string:
		if t.PrimaryArg == "" {
			return nil, fmt.Errorf("tools: %q does not accept a bare string input", t.Name)
		}
		input = map[string]any{t.PrimaryArg: v}
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("tools: encode %q input: %w", t.Name, err)
	}
	return raw, nil
}

// Registry returns the tools backing the pipeline in a fixed order: the SQL
// tool first, then the code-execution tool.
func Registry(q Querier, r CodeRunner) []Tool {
	return []Tool{NewSQLQueryTool(q), NewPythonREPLTool(r)}
}
