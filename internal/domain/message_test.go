package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateApply_AppendsInOrder(t *testing.T) {
	var s State
	s.Apply(Update{Messages: []Message{{Role: RoleUser, Content: "a"}}, Sender: "SQLResearcher"})
	s.Apply(Update{Messages: []Message{{Role: RoleFunction, Content: "b"}}})

	require.Len(t, s.Messages, 2)
	require.Equal(t, "a", s.Messages[0].Content)
	require.Equal(t, "b", s.Messages[1].Content)
	require.Equal(t, "SQLResearcher", s.Sender, "empty sender must not overwrite")
}

func TestStateLast(t *testing.T) {
	_, ok := State{}.Last()
	require.False(t, ok)

	s := State{Messages: []Message{{Content: "x"}, {Content: "y"}}}
	last, ok := s.Last()
	require.True(t, ok)
	require.Equal(t, "y", last.Content)
}

func TestHasFunctionCall(t *testing.T) {
	require.False(t, Message{}.HasFunctionCall())
	require.False(t, Message{FunctionCall: &FunctionCall{}}.HasFunctionCall())
	require.True(t, Message{FunctionCall: &FunctionCall{Name: "sql_db_query"}}.HasFunctionCall())
}
