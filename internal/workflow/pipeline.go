package workflow

import (
	"errors"

	"sqlchart-agent/internal/agent"
)

// CallToolNode is the name of the tool-dispatch node.
const CallToolNode = "call_tool"

// NewChartGraph wires the researcher, the chart generator and the tool node:
//
//	SQLResearcher   continue -> Chart Generator, call_tool -> call_tool, end -> End
//	Chart Generator call_tool -> call_tool, end -> End
//	call_tool       back to SQLResearcher when it asked, else End
//
// The chart generator has no continue edge; a plain reply without the final
// answer marker fails the run with ErrNoEdge.
func NewChartGraph(researcher, charts Invoker, exec ToolInvoker) (*Graph, error) {
	if researcher == nil || charts == nil {
		return nil, errors.New("workflow: agents must not be nil")
	}
	if exec == nil {
		return nil, errors.New("workflow: tool executor must not be nil")
	}
	g := NewGraph()
	if err := g.AddNode(agent.SQLResearcherName, AgentNode(researcher, agent.SQLResearcherName)); err != nil {
		return nil, err
	}
	if err := g.AddNode(agent.ChartGeneratorName, AgentNode(charts, agent.ChartGeneratorName)); err != nil {
		return nil, err
	}
	if err := g.AddNode(CallToolNode, ToolNode(exec)); err != nil {
		return nil, err
	}

	if err := g.AddConditionalEdges(agent.SQLResearcherName, Route, map[string]string{
		RouteContinue: agent.ChartGeneratorName,
		RouteCallTool: CallToolNode,
		RouteEnd:      End,
	}); err != nil {
		return nil, err
	}
	if err := g.AddConditionalEdges(agent.ChartGeneratorName, Route, map[string]string{
		RouteCallTool: CallToolNode,
		RouteEnd:      End,
	}); err != nil {
		return nil, err
	}
	if err := g.AddConditionalEdges(CallToolNode, SenderRoute, map[string]string{
		agent.SQLResearcherName:  agent.SQLResearcherName,
		agent.ChartGeneratorName: End,
	}); err != nil {
		return nil, err
	}
	if err := g.SetEntryPoint(agent.SQLResearcherName); err != nil {
		return nil, err
	}
	return g, nil
}
