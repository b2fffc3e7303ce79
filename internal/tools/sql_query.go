package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// SQLQueryToolName is the tool the SQL agent is bound to.
const SQLQueryToolName = "sql_db_query"

// Querier runs a read query and renders its result as text.
type Querier interface {
	Run(ctx context.Context, query string) (string, error)
}

type SQLQueryInput struct {
	Query string `json:"query" jsonschema_description:"A detailed and correct SQL query."`
}

// NewSQLQueryTool exposes q to the model. Query errors are reported back as
// "Error: ..." so the model can rewrite the query.
func NewSQLQueryTool(q Querier) Tool {
	return Tool{
		Name: SQLQueryToolName,
		Description: "Input to this tool is a detailed and correct SQL query, output is a result from the database. " +
			"If the query is not correct, an error message will be returned. " +
			"If an error is returned, rewrite the query, check the query, and try again. " +
			"If you encounter an issue with Unknown column 'xxxx' in 'field list', use sql_db_schema to query the correct table fields.",
		Parameters: GenerateSchema[SQLQueryInput](),
		PrimaryArg: "query",
		Function: func(ctx context.Context, input json.RawMessage) (string, error) {
			var in SQLQueryInput
			if err := json.Unmarshal(input, &in); err != nil {
				return "", fmt.Errorf("decode sql_db_query input: %w", err)
			}
			out, err := q.Run(ctx, in.Query)
			if err != nil {
				return "Error: " + err.Error(), nil
			}
			return out, nil
		},
	}
}
