package domain

// Role identifies who produced a message in the agent conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// FunctionCall is the structured call a model asks the pipeline to execute.
// Arguments is kept exactly as returned by the model: usually a JSON object,
// sometimes a bare string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is the provider-agnostic chat message shape shared by the agents,
// the workflow graph and the LLM integration.
type Message struct {
	Role         Role          `json:"role"`
	Name         string        `json:"name,omitempty"`
	Content      string        `json:"content"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// HasFunctionCall reports whether the message asks for a tool invocation.
func (m Message) HasFunctionCall() bool {
	return m.FunctionCall != nil && m.FunctionCall.Name != ""
}

// State is the conversation state threaded through the workflow graph.
type State struct {
	Messages []Message
	Sender   string
}

// Update is what a graph node returns. Messages are appended to the state;
// Sender replaces the current sender only when non-empty.
type Update struct {
	Messages []Message
	Sender   string
}

// Apply merges u into s. Messages only ever accumulate in order.
func (s *State) Apply(u Update) {
	s.Messages = append(s.Messages, u.Messages...)
	if u.Sender != "" {
		s.Sender = u.Sender
	}
}

// Last returns the most recent message, or false for an empty state.
func (s State) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
