// Package agent builds the LLM-backed agents of the chart pipeline. Each
// agent is a shared system prompt, an agent-specific instruction and a set of
// tools exposed to the model as callable functions.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sqlchart-agent/internal/domain"
	"sqlchart-agent/internal/integrations/openai"
	"sqlchart-agent/internal/tools"
)

// Agent names double as graph node names and message sender names.
const (
	SQLResearcherName  = "SQLResearcher"
	ChartGeneratorName = "Chart Generator"
)

const systemTemplate = "You are a helpful AI assistant, collaborating with other assistants." +
	" If you are unable to fully answer, that's OK, another assistant with different tools " +
	" will help where you left off. Execute what you can to make progress." +
	" You have access to the following tools: {tool_names}.\n{system_message}" +
	" Once you have retrieved the data, pass the control to the python_repl tool to analyze it." +
	" Prefix your response with FINAL ANSWER once you have generated the chart."

// LLM is the chat model an agent talks to.
type LLM interface {
	Chat(ctx context.Context, model string, messages []domain.Message, functions []openai.Function) (domain.Message, error)
}

type Agent struct {
	Name          string
	Model         string
	SystemMessage string

	llm       LLM
	tools     []tools.Tool
	functions []openai.Function
}

func New(name string, llm LLM, model string, ts []tools.Tool, systemMessage string) (*Agent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("agent: name must not be empty")
	}
	if llm == nil {
		return nil, errors.New("agent: llm must not be nil")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("agent: model must not be empty")
	}
	fns := make([]openai.Function, 0, len(ts))
	for _, t := range ts {
		fns = append(fns, openai.Function{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return &Agent{
		Name:          name,
		Model:         model,
		SystemMessage: systemMessage,
		llm:           llm,
		tools:         ts,
		functions:     fns,
	}, nil
}

// ToolNames lists the bound tools in order.
func (a *Agent) ToolNames() []string {
	names := make([]string, len(a.tools))
	for i, t := range a.tools {
		names[i] = t.Name
	}
	return names
}

// SystemPrompt renders the shared template for this agent.
func (a *Agent) SystemPrompt() string {
	return strings.NewReplacer(
		"{tool_names}", strings.Join(a.ToolNames(), ", "),
		"{system_message}", a.SystemMessage,
	).Replace(systemTemplate)
}

// Invoke sends the system prompt followed by the conversation so far and
// returns the model's reply as-is.
func (a *Agent) Invoke(ctx context.Context, state domain.State) (domain.Message, error) {
	msgs := make([]domain.Message, 0, len(state.Messages)+1)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: a.SystemPrompt()})
	msgs = append(msgs, state.Messages...)

	reply, err := a.llm.Chat(ctx, a.Model, msgs, a.functions)
	if err != nil {
		return domain.Message{}, fmt.Errorf("agent: %s: %w", a.Name, err)
	}
	return reply, nil
}
