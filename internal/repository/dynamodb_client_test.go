package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"sqlchart-agent/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	queryPages   []*dynamodb.QueryOutput
	queryErr     error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	queryInputs  []dynamodb.QueryInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, *in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryPages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := f.queryPages[0]
	f.queryPages = f.queryPages[1:]
	return page, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func sqlCall() domain.Message {
	return domain.Message{
		Role:         domain.RoleUser,
		Name:         "SQLResearcher",
		FunctionCall: &domain.FunctionCall{Name: "sql_db_query", Arguments: `{"query":"SELECT 1"}`},
	}
}

func strVal(t *testing.T, item map[string]types.AttributeValue, key string) string {
	t.Helper()
	v, ok := item[key].(*types.AttributeValueMemberS)
	require.True(t, ok, "attribute %q", key)
	return v.Value
}

// ---------------------------------------------------------------------------
// keys
// ---------------------------------------------------------------------------

func TestKeys(t *testing.T) {
	require.Equal(t, "RUN#run-1", runPK("run-1"))
	require.Equal(t, "MSG#000007", msgSK(7))
	require.Less(t, msgSK(9), msgSK(10), "sort keys must order numerically")
}

func TestNewTranscriptItem_Fields(t *testing.T) {
	it := NewTranscriptItem("run-1", 3, "call_tool", domain.Message{Role: domain.RoleFunction, Name: "python_repl"})
	require.Equal(t, "RUN#run-1", it.PK)
	require.Equal(t, "MSG#000003", it.SK)
	require.Equal(t, 3, it.Seq)
	require.Equal(t, "call_tool", it.Node)
	require.Greater(t, it.TTL, int64(0))
}

func TestNewRunMeta_Fields(t *testing.T) {
	tables := []string{"users", "orders"}
	meta := NewRunMeta("run-2", tables, "Plot me the number of orders per user.", domain.RunStatusRunning)
	tables[0] = "mutated"

	require.Equal(t, "RUN#run-2", meta.PK)
	require.Equal(t, skMeta, meta.SK)
	require.Equal(t, []string{"users", "orders"}, meta.Tables)
	require.Equal(t, domain.RunStatusRunning, meta.Status)
	require.NotEmpty(t, meta.LastActivity)
}

// ---------------------------------------------------------------------------
// item encoding / SaveRunMeta
// ---------------------------------------------------------------------------

func TestTranscriptItem_FunctionCallAttributes(t *testing.T) {
	item := transcriptItem(NewTranscriptItem("run-1", 1, "SQLResearcher", sqlCall()))
	require.Equal(t, "user", strVal(t, item, "role"))
	require.Equal(t, "SQLResearcher", strVal(t, item, "name"))
	require.Equal(t, "sql_db_query", strVal(t, item, "functionName"))
	require.Equal(t, `{"query":"SELECT 1"}`, strVal(t, item, "functionArgs"))
	require.NotContains(t, item, "truncated")

	plain := transcriptItem(NewTranscriptItem("run-1", 0, "", domain.Message{Role: domain.RoleUser, Content: "Get me some usefull data"}))
	require.NotContains(t, plain, "functionName")
}

func TestCapText(t *testing.T) {
	short, cut := capText("short")
	require.False(t, cut)
	require.Equal(t, "short", short)

	// The leading byte puts a two-byte rune across the limit.
	long := "a" + strings.Repeat("è", maxTextBytes)
	got, cut := capText(long)
	require.True(t, cut)
	require.True(t, utf8.ValidString(got))
	require.True(t, strings.HasPrefix(got, "a"+strings.Repeat("è", maxTextBytes/2-1)+"\n[truncated "))
	require.Contains(t, got, fmt.Sprintf("[truncated %d bytes]", len(long)-maxTextBytes+1))
}

func TestSaveRunMeta(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	meta := NewRunMeta("run-1", []string{"users"}, "q", domain.RunStatusComplete)
	meta.FinalAnswer = "FINAL ANSWER: saved"
	meta.Steps = 5

	require.NoError(t, c.SaveRunMeta(context.Background(), meta))
	require.Equal(t, "complete", strVal(t, db.lastPutInput.Item, "status"))
	require.Equal(t, "5", db.lastPutInput.Item["steps"].(*types.AttributeValueMemberN).Value)
	require.Nil(t, db.lastPutInput.ConditionExpression)

	require.ErrorContains(t, c.SaveRunMeta(context.Background(), domain.RunMeta{}), "required")

	c = mustNewClient(t, &fakeDynamo{putErr: errors.New("internal server error")})
	require.ErrorContains(t, c.SaveRunMeta(context.Background(), meta), "SaveRunMeta")
}

// ---------------------------------------------------------------------------
// SaveStep
// ---------------------------------------------------------------------------

func TestSaveStep_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	items := []domain.TranscriptItem{NewTranscriptItem("run-1", 1, "SQLResearcher", sqlCall())}
	meta := NewRunMeta("run-1", []string{"users"}, "", domain.RunStatusRunning)

	require.NoError(t, c.SaveStep(context.Background(), items, meta))
	require.Len(t, db.lastTxInput.TransactItems, 2)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastTxInput.TransactItems[0].Put.ConditionExpression)
	require.Nil(t, db.lastTxInput.TransactItems[1].Put.ConditionExpression)
	require.Equal(t, skMeta, strVal(t, db.lastTxInput.TransactItems[1].Put.Item, "SK"))
}

func TestSaveStep_Errors(t *testing.T) {
	meta := NewRunMeta("run-1", nil, "", domain.RunStatusRunning)
	c := mustNewClient(t, &fakeDynamo{})

	require.ErrorContains(t, c.SaveStep(context.Background(), nil, domain.RunMeta{}), "meta PK")
	require.ErrorContains(t, c.SaveStep(context.Background(), []domain.TranscriptItem{{}}, meta), "message PK")
	require.ErrorContains(t, c.SaveStep(context.Background(), make([]domain.TranscriptItem, 100), meta), "too many")

	c = mustNewClient(t, &fakeDynamo{txErr: errors.New("transaction canceled")})
	require.ErrorContains(t, c.SaveStep(context.Background(), nil, meta), "SaveStep")
}

func TestSaveStep_OversizedMessageIsCapped(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	huge := strings.Repeat("(1, 'x'), ", 100_000) // ~1 MB tool output
	msg := domain.Message{
		Role:         domain.RoleUser,
		Name:         "Chart Generator",
		Content:      huge,
		FunctionCall: &domain.FunctionCall{Name: "python_repl", Arguments: huge},
	}
	items := []domain.TranscriptItem{NewTranscriptItem("run-1", 4, "Chart Generator", msg)}
	meta := NewRunMeta("run-1", []string{"users"}, "", domain.RunStatusRunning)

	require.NoError(t, c.SaveStep(context.Background(), items, meta))

	item := db.lastTxInput.TransactItems[0].Put.Item
	size := 0
	for k, v := range item {
		size += len(k)
		if sv, ok := v.(*types.AttributeValueMemberS); ok {
			size += len(sv.Value)
		}
	}
	require.Less(t, size, 400<<10)
	require.True(t, item["truncated"].(*types.AttributeValueMemberBOOL).Value)

	back, err := itemToTranscript(item)
	require.NoError(t, err)
	require.True(t, back.Truncated)
	require.Contains(t, back.Message.Content, "[truncated ")
}

// ---------------------------------------------------------------------------
// GetRunMeta
// ---------------------------------------------------------------------------

func TestGetRunMeta_RoundTrip(t *testing.T) {
	meta := NewRunMeta("run-9", []string{"users", "orders"}, "q", domain.RunStatusFailed)
	meta.Error = "workflow: recursion limit reached"
	meta.Steps = 150
	meta.Charts = []string{"orders.svg"}

	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: metaItem(meta)}}
	c := mustNewClient(t, db)

	got, found, err := c.GetRunMeta(context.Background(), "run-9")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, meta.Tables, got.Tables)
	require.Equal(t, domain.RunStatusFailed, got.Status)
	require.Equal(t, 150, got.Steps)
	require.Equal(t, []string{"orders.svg"}, got.Charts)
	require.Equal(t, meta.Error, got.Error)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetRunMeta_Missing(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, found, err := c.GetRunMeta(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetRunMeta_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, _, err := c.GetRunMeta(context.Background(), "run-1")
	require.ErrorContains(t, err, "GetRunMeta")

	c = mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: "RUN#run-1"},
		"status": &types.AttributeValueMemberS{Value: "complete"},
		"steps":  &types.AttributeValueMemberS{Value: "bad"},
	}}})
	_, _, err = c.GetRunMeta(context.Background(), "run-1")
	require.ErrorContains(t, err, "steps")
}

// ---------------------------------------------------------------------------
// GetTranscript
// ---------------------------------------------------------------------------

func TestGetTranscript_FollowsPages(t *testing.T) {
	first := NewTranscriptItem("run-1", 0, "", domain.Message{Role: domain.RoleUser, Content: "Get me some usefull data"})
	second := NewTranscriptItem("run-1", 1, "SQLResearcher", sqlCall())
	third := NewTranscriptItem("run-1", 2, "call_tool", domain.Message{Role: domain.RoleFunction, Name: "sql_db_query", Content: "sql_db_query response: [(1,)]"})

	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{transcriptItem(first), transcriptItem(second)},
			LastEvaluatedKey: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: second.PK}, "SK": &types.AttributeValueMemberS{Value: second.SK}},
		},
		{Items: []map[string]types.AttributeValue{transcriptItem(third)}},
	}}
	c := mustNewClient(t, db)

	items, err := c.GetTranscript(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, 2, items[2].Seq)
	require.Equal(t, "SQLResearcher", items[1].Node)
	require.True(t, items[1].Message.HasFunctionCall())
	require.Equal(t, `{"query":"SELECT 1"}`, items[1].Message.FunctionCall.Arguments)
	require.Equal(t, domain.RoleFunction, items[2].Message.Role)

	require.Len(t, db.queryInputs, 2)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.queryInputs[0].KeyConditionExpression)
	require.True(t, *db.queryInputs[0].ScanIndexForward)
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.NotNil(t, db.queryInputs[1].ExclusiveStartKey)
}

func TestGetTranscript_Empty(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	items, err := c.GetTranscript(context.Background(), "run-1")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestGetTranscript_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := c.GetTranscript(context.Background(), "run-1")
	require.ErrorContains(t, err, "GetTranscript")

	c = mustNewClient(t, &fakeDynamo{queryPages: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{{
		"PK": &types.AttributeValueMemberS{Value: "RUN#run-1"},
		"SK": &types.AttributeValueMemberS{Value: "MSG#000001"},
	}}}}})
	_, err = c.GetTranscript(context.Background(), "run-1")
	require.ErrorContains(t, err, "role")
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.ErrorContains(t, err, "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.ErrorContains(t, err, "must not be empty")
}
