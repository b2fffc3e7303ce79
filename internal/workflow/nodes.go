package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"sqlchart-agent/internal/domain"
	"sqlchart-agent/internal/tools"
)

// Route keys returned by Route.
const (
	RouteContinue = "continue"
	RouteCallTool = "call_tool"
	RouteEnd      = "end"
)

// FinalAnswerMarker in a reply ends the run.
const FinalAnswerMarker = "FINAL ANSWER"

// Invoker is an agent that produces the next reply for a state.
type Invoker interface {
	Invoke(ctx context.Context, state domain.State) (domain.Message, error)
}

// ToolInvoker executes tool calls by name.
type ToolInvoker interface {
	Names() []string
	Invoke(ctx context.Context, inv tools.Invocation) (string, error)
}

// Route inspects the last message: the final-answer marker wins over a
// pending function call; anything else hands over to the next agent.
func Route(state domain.State) string {
	last, ok := state.Last()
	if !ok {
		return RouteContinue
	}
	if strings.Contains(last.Content, FinalAnswerMarker) {
		return RouteEnd
	}
	if last.HasFunctionCall() {
		return RouteCallTool
	}
	return RouteContinue
}

// SenderRoute routes on the agent that requested the last tool call.
func SenderRoute(state domain.State) string {
	return state.Sender
}

// AgentNode wraps an agent. Replies other than function messages are
// re-tagged as user messages named after the agent so the next agent reads
// them as input from a peer.
func AgentNode(a Invoker, name string) NodeFunc {
	return func(ctx context.Context, state domain.State) (domain.Update, error) {
		reply, err := a.Invoke(ctx, state)
		if err != nil {
			return domain.Update{}, err
		}
		if reply.Role != domain.RoleFunction {
			reply.Role = domain.RoleUser
			reply.Name = name
		}
		slog.InfoContext(ctx, "agent replied",
			"agent", name,
			"function_call", functionName(reply),
			"final", strings.Contains(reply.Content, FinalAnswerMarker),
		)
		return domain.Update{Messages: []domain.Message{reply}, Sender: name}, nil
	}
}

// ToolNode executes the function call carried by the last message. Tool
// failures are reported in the resulting function message, never as a node
// error.
func ToolNode(exec ToolInvoker) NodeFunc {
	return func(ctx context.Context, state domain.State) (domain.Update, error) {
		last, ok := state.Last()
		if !ok || !last.HasFunctionCall() {
			return domain.Update{}, errors.New("workflow: tool node reached without a function call")
		}
		call := last.FunctionCall

		var result string
		input, err := ParseToolInput(call.Arguments)
		if err == nil {
			result, err = exec.Invoke(ctx, tools.Invocation{Tool: call.Name, Input: input})
		}
		if err != nil {
			result = toolErrorText(call.Name, exec.Names(), err)
			slog.WarnContext(ctx, "tool call failed", "tool", call.Name, "err", err)
		} else {
			slog.InfoContext(ctx, "tool call succeeded", "tool", call.Name, "output_size", len(result))
		}

		return domain.Update{Messages: []domain.Message{{
			Role:    domain.RoleFunction,
			Name:    call.Name,
			Content: fmt.Sprintf("%s response: %s", call.Name, result),
		}}}, nil
	}
}

// ParseToolInput decodes function-call arguments. Models return either a
// JSON object or a bare string; a bare string becomes {"code": arguments}.
// An object holding only "__arg1" collapses to that value.
func ParseToolInput(arguments string) (any, error) {
	var input map[string]any
	if strings.HasPrefix(arguments, "{") && strings.HasSuffix(arguments, "}") {
		dec := json.NewDecoder(bytes.NewReader([]byte(arguments)))
		dec.UseNumber()
		if err := dec.Decode(&input); err != nil {
			return nil, fmt.Errorf("workflow: decode tool arguments: %w", err)
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, errors.New("workflow: decode tool arguments: trailing data after object")
		}
	} else {
		input = map[string]any{"code": arguments}
	}
	if v, ok := input["__arg1"]; ok && len(input) == 1 {
		return v, nil
	}
	return input, nil
}

func toolErrorText(name string, known []string, err error) string {
	if errors.Is(err, tools.ErrUnknownTool) {
		return fmt.Sprintf("%s is not a valid tool, try one of [%s].", name, strings.Join(known, ", "))
	}
	return err.Error()
}

func functionName(m domain.Message) string {
	if !m.HasFunctionCall() {
		return ""
	}
	return m.FunctionCall.Name
}
