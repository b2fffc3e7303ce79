package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	out   string
	err   error
	query string
}

func (f *fakeQuerier) Run(_ context.Context, query string) (string, error) {
	f.query = query
	return f.out, f.err
}

type fakeRunner struct {
	res  RunResult
	err  error
	code string
}

func (f *fakeRunner) Run(_ context.Context, code string) (RunResult, error) {
	f.code = code
	return f.res, f.err
}

func mustExecutor(t *testing.T, q Querier, r CodeRunner) *Executor {
	t.Helper()
	e, err := NewExecutor(Registry(q, r)...)
	require.NoError(t, err)
	return e
}

func TestRegistry_Order(t *testing.T) {
	e := mustExecutor(t, &fakeQuerier{}, &fakeRunner{})
	require.Equal(t, []string{"sql_db_query", "python_repl"}, e.Names())
}

func TestNewExecutor_Validation(t *testing.T) {
	noop := func(context.Context, json.RawMessage) (string, error) { return "", nil }

	_, err := NewExecutor(Tool{Name: " ", Function: noop})
	require.Error(t, err)

	_, err = NewExecutor(Tool{Name: "a"})
	require.Error(t, err)

	_, err = NewExecutor(Tool{Name: "a", Function: noop}, Tool{Name: "a", Function: noop})
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate")
}

func TestInvoke_UnknownTool(t *testing.T) {
	e := mustExecutor(t, &fakeQuerier{}, &fakeRunner{})
	_, err := e.Invoke(context.Background(), Invocation{Tool: "sql_db_schema"})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnknownTool))
}

func TestInvoke_MapInput(t *testing.T) {
	q := &fakeQuerier{out: "[(1, 2)]"}
	e := mustExecutor(t, q, &fakeRunner{})

	out, err := e.Invoke(context.Background(), Invocation{
		Tool:  SQLQueryToolName,
		Input: map[string]any{"query": "SELECT 1, 2"},
	})
	require.NoError(t, err)
	require.Equal(t, "[(1, 2)]", out)
	require.Equal(t, "SELECT 1, 2", q.query)
}

func TestInvoke_BareStringMapsToPrimaryArg(t *testing.T) {
	q := &fakeQuerier{out: "[(3,)]"}
	e := mustExecutor(t, q, &fakeRunner{})

	out, err := e.Invoke(context.Background(), Invocation{Tool: SQLQueryToolName, Input: "SELECT COUNT(*) FROM orders"})
	require.NoError(t, err)
	require.Equal(t, "[(3,)]", out)
	require.Equal(t, "SELECT COUNT(*) FROM orders", q.query)
}

func TestInvoke_BareStringWithoutPrimaryArg(t *testing.T) {
	e, err := NewExecutor(Tool{
		Name:     "noargs",
		Function: func(context.Context, json.RawMessage) (string, error) { return "ok", nil },
	})
	require.NoError(t, err)

	_, err = e.Invoke(context.Background(), Invocation{Tool: "noargs", Input: "x"})
	require.Error(t, err)

	out, err := e.Invoke(context.Background(), Invocation{Tool: "noargs"})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}

func TestInvoke_FunctionError(t *testing.T) {
	e, err := NewExecutor(Tool{
		Name:     "boom",
		Function: func(context.Context, json.RawMessage) (string, error) { return "", errors.New("kaput") },
	})
	require.NoError(t, err)

	_, err = e.Invoke(context.Background(), Invocation{Tool: "boom", Input: map[string]any{}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "kaput")
}

func TestGenerateSchema(t *testing.T) {
	raw, err := json.Marshal(GenerateSchema[SQLQueryInput]())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, "object", got["type"])
	require.Equal(t, false, got["additionalProperties"])
	require.Equal(t, []any{"query"}, got["required"])
	require.NotContains(t, got, "$schema")
	require.NotContains(t, got, "$ref")

	props, ok := got["properties"].(map[string]any)
	require.True(t, ok)
	query, ok := props["query"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "string", query["type"])
	require.Equal(t, "A detailed and correct SQL query.", query["description"])
}
