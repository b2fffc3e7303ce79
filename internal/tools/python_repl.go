package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// PythonREPLToolName is the tool the chart agent is bound to.
const PythonREPLToolName = "python_repl"

type PythonREPLInput struct {
	Code string `json:"code" jsonschema_description:"The python code to execute to generate your chart."`
}

// NewPythonREPLTool runs model-written code through r. A script that fails
// inside the interpreter still counts as executed; its error text is part of
// the reported output. Only a failure to run the script at all is reported
// as "Failed to execute".
func NewPythonREPLTool(r CodeRunner) Tool {
	return Tool{
		Name: PythonREPLToolName,
		Description: "Use this to execute python code. If you want to see the output of a value, " +
			"you should print it out with `print(...)`. This is visible to the user.",
		Parameters: GenerateSchema[PythonREPLInput](),
		PrimaryArg: "code",
		Function: func(ctx context.Context, input json.RawMessage) (string, error) {
			var in PythonREPLInput
			if err := json.Unmarshal(input, &in); err != nil {
				return "", fmt.Errorf("decode python_repl input: %w", err)
			}
			res, err := r.Run(ctx, in.Code)
			if err != nil {
				return fmt.Sprintf("Failed to execute. Error: %v", err), nil
			}
			return fmt.Sprintf("Successfully executed:\n```python\n%s\n```\nStdout: %s", in.Code, res.Output()), nil
		},
	}
}
