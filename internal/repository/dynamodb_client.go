package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"sqlchart-agent/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL

	// maxTextBytes caps each free-text attribute so that an item holding
	// content and function arguments stays under DynamoDB's 400 KB limit.
	maxTextBytes = 100 << 10
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding run transcripts. Each run is one
// partition: a META# item plus one MSG#<seq> item per message.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func runPK(runID string) string {
	return "RUN#" + runID
}

// msgSK zero-pads seq so lexical order matches message order.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%06d", skPrefixMsg, seq)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// SaveRunMeta writes or replaces the run metadata record.
func (c *Client) SaveRunMeta(ctx context.Context, meta domain.RunMeta) error {
	if meta.PK == "" || meta.SK == "" {
		return errors.New("repository: SaveRunMeta: PK and SK are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      metaItem(meta),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveRunMeta: %w", err)
	}
	return nil
}

// SaveStep writes the messages a workflow step produced together with the
// updated run metadata in one transaction.
func (c *Client) SaveStep(ctx context.Context, items []domain.TranscriptItem, meta domain.RunMeta) error {
	if meta.PK == "" || meta.SK == "" {
		return errors.New("repository: SaveStep: meta PK and SK are required")
	}
	// One slot is reserved for the meta item.
	if len(items) > 99 {
		return fmt.Errorf("repository: SaveStep: too many messages in one step (%d)", len(items))
	}

	writes := make([]types.TransactWriteItem, 0, len(items)+1)
	for _, it := range items {
		if it.PK == "" || it.SK == "" {
			return errors.New("repository: SaveStep: message PK and SK are required")
		}
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                transcriptItem(it),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}
	writes = append(writes, types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(c.tableName),
			Item:      metaItem(meta),
		},
	})

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes}); err != nil {
		return fmt.Errorf("repository: SaveStep: %w", err)
	}
	return nil
}

// GetRunMeta returns the metadata of a run; found is false when the run does
// not exist.
func (c *Client) GetRunMeta(ctx context.Context, runID string) (meta domain.RunMeta, found bool, err error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: runPK(runID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.RunMeta{}, false, fmt.Errorf("repository: GetRunMeta get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.RunMeta{}, false, nil
	}
	meta, err = itemToMeta(out.Item)
	if err != nil {
		return domain.RunMeta{}, false, fmt.Errorf("repository: GetRunMeta decode: %w", err)
	}
	return meta, true, nil
}

// GetTranscript returns every message of a run in sequence order.
func (c *Client) GetTranscript(ctx context.Context, runID string) ([]domain.TranscriptItem, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: runPK(runID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
	}

	var items []domain.TranscriptItem
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: GetTranscript query: %w", err)
		}
		if out == nil {
			break
		}
		for _, raw := range out.Items {
			it, err := itemToTranscript(raw)
			if err != nil {
				return nil, fmt.Errorf("repository: GetTranscript unmarshal: %w", err)
			}
			items = append(items, it)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return items, nil
}

// NewTranscriptItem constructs a TranscriptItem with keys and TTL set.
func NewTranscriptItem(runID string, seq int, node string, msg domain.Message) domain.TranscriptItem {
	return domain.TranscriptItem{
		PK:      runPK(runID),
		SK:      msgSK(seq),
		RunID:   runID,
		Seq:     seq,
		Node:    node,
		Message: msg,
		TTL:     ttlValue(),
	}
}

// NewRunMeta constructs a RunMeta record stamped with the current time.
func NewRunMeta(runID string, tables []string, question string, status domain.RunStatus) domain.RunMeta {
	return domain.RunMeta{
		PK:           runPK(runID),
		SK:           skMeta,
		RunID:        runID,
		Tables:       append([]string(nil), tables...),
		Question:     question,
		Status:       status,
		LastActivity: time.Now().UTC().Format(time.RFC3339),
		TTL:          ttlValue(),
	}
}

func transcriptItem(it domain.TranscriptItem) map[string]types.AttributeValue {
	content, cut := capText(it.Message.Content)
	item := map[string]types.AttributeValue{
		"PK":      &types.AttributeValueMemberS{Value: it.PK},
		"SK":      &types.AttributeValueMemberS{Value: it.SK},
		"runId":   &types.AttributeValueMemberS{Value: it.RunID},
		"seq":     &types.AttributeValueMemberN{Value: strconv.Itoa(it.Seq)},
		"node":    &types.AttributeValueMemberS{Value: it.Node},
		"role":    &types.AttributeValueMemberS{Value: string(it.Message.Role)},
		"name":    &types.AttributeValueMemberS{Value: it.Message.Name},
		"content": &types.AttributeValueMemberS{Value: content},
		"ttl":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", it.TTL)},
	}
	if it.Message.HasFunctionCall() {
		args, argsCut := capText(it.Message.FunctionCall.Arguments)
		cut = cut || argsCut
		item["functionName"] = &types.AttributeValueMemberS{Value: it.Message.FunctionCall.Name}
		item["functionArgs"] = &types.AttributeValueMemberS{Value: args}
	}
	if cut {
		item["truncated"] = &types.AttributeValueMemberBOOL{Value: true}
	}
	return item
}

func metaItem(meta domain.RunMeta) map[string]types.AttributeValue {
	answer, _ := capText(meta.FinalAnswer)
	errText, _ := capText(meta.Error)
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: meta.PK},
		"SK":           &types.AttributeValueMemberS{Value: meta.SK},
		"runId":        &types.AttributeValueMemberS{Value: meta.RunID},
		"tables":       stringList(meta.Tables),
		"charts":       stringList(meta.Charts),
		"question":     &types.AttributeValueMemberS{Value: meta.Question},
		"status":       &types.AttributeValueMemberS{Value: string(meta.Status)},
		"finalAnswer":  &types.AttributeValueMemberS{Value: answer},
		"steps":        &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Steps)},
		"error":        &types.AttributeValueMemberS{Value: errText},
		"lastActivity": &types.AttributeValueMemberS{Value: meta.LastActivity},
		"ttl":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.TTL)},
	}
}

func itemToTranscript(item map[string]types.AttributeValue) (domain.TranscriptItem, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.TranscriptItem{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.TranscriptItem{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.TranscriptItem{}, err
	}
	seq, err := intAttr(item, "seq")
	if err != nil {
		return domain.TranscriptItem{}, err
	}
	runID, _ := strAttr(item, "runId")
	node, _ := strAttr(item, "node")
	name, _ := strAttr(item, "name")       // allow empty
	content, _ := strAttr(item, "content") // allow empty

	msg := domain.Message{Role: domain.Role(role), Name: name, Content: content}
	if fn, _ := strAttr(item, "functionName"); fn != "" {
		args, _ := strAttr(item, "functionArgs")
		msg.FunctionCall = &domain.FunctionCall{Name: fn, Arguments: args}
	}
	it := domain.TranscriptItem{PK: pk, SK: sk, RunID: runID, Seq: seq, Node: node, Message: msg}
	if b, ok := item["truncated"].(*types.AttributeValueMemberBOOL); ok {
		it.Truncated = b.Value
	}
	return it, nil
}

func itemToMeta(item map[string]types.AttributeValue) (domain.RunMeta, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.RunMeta{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.RunMeta{}, err
	}
	steps, err := intAttr(item, "steps")
	if err != nil {
		return domain.RunMeta{}, err
	}
	meta := domain.RunMeta{PK: pk, SK: skMeta, Status: domain.RunStatus(status), Steps: steps}
	meta.RunID, _ = strAttr(item, "runId")
	meta.Question, _ = strAttr(item, "question")
	meta.FinalAnswer, _ = strAttr(item, "finalAnswer")
	meta.Error, _ = strAttr(item, "error")
	meta.LastActivity, _ = strAttr(item, "lastActivity")
	meta.Tables = listAttr(item, "tables")
	meta.Charts = listAttr(item, "charts")
	return meta, nil
}

func stringList(vals []string) *types.AttributeValueMemberL {
	l := make([]types.AttributeValue, 0, len(vals))
	for _, v := range vals {
		l = append(l, &types.AttributeValueMemberS{Value: v})
	}
	return &types.AttributeValueMemberL{Value: l}
}

func listAttr(item map[string]types.AttributeValue, key string) []string {
	l, ok := item[key].(*types.AttributeValueMemberL)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range l.Value {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			out = append(out, s.Value)
		}
	}
	return out
}

// capText cuts s to maxTextBytes on a rune boundary and notes how much was
// dropped.
func capText(s string) (string, bool) {
	if len(s) <= maxTextBytes {
		return s, false
	}
	n := maxTextBytes
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + fmt.Sprintf("\n[truncated %d bytes]", len(s)-n), true
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
