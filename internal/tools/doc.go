// Package tools defines the tools the agents can call and the executor that
// dispatches model-requested calls to them.
//
// Includes:
//   - Tool: name, description, JSON Schema parameters, handler.
//   - GenerateSchema[T](): derive the parameter schema from a Go struct.
//   - sql_db_query: read query against the local database.
//   - python_repl: run model-written Python (plotting code) in a subprocess.
//   - Executor: dispatch an Invocation by tool name.
package tools
