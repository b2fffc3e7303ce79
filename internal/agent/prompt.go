package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PlotRoot is the directory, relative to the code runner's working
// directory, under which charts are saved.
const PlotRoot = "plots"

// SQLPrompt is the SQL researcher's instruction. The question, when given,
// is quoted back to the model.
func SQLPrompt(schema, question string) string {
	prompt := "You are an expert at SQL lite. You have access to a SQL lite database with the following tables:\n\n" +
		schema +
		"\n\nGiven a user question related to the data in the database, first get the relevant data from the table " +
		"as a DataFrame using the create_df_from_sql tool."
	if question = strings.TrimSpace(question); question != "" {
		prompt += "\nThis is what the user asked: \"" + question + "\""
	}
	return prompt
}

// ChartPrompt is the chart generator's instruction. plotDir is the
// directory the chart must be saved in, as the code runner sees it.
func ChartPrompt(plotDir string) string {
	return "Any charts you display will be visible by the user. " +
		"Don't ask the user what type of chart they want, just make a decision and display it. " +
		"Save the chart as an SVG file in the '" + filepath.ToSlash(plotDir) + "/' directory, give an appropriate name to the chart."
}

// PlotDir names the chart directory for tables: every table name followed by
// an underscore, under PlotRoot.
func PlotDir(tables []string) string {
	var b strings.Builder
	for _, t := range tables {
		b.WriteString(t)
		b.WriteString("_")
	}
	return PlotRoot + "/" + b.String()
}

// EnsurePlotDir creates PlotDir(tables) below workDir and returns the
// relative directory name.
func EnsurePlotDir(workDir string, tables []string) (string, error) {
	rel := PlotDir(tables)
	if err := os.MkdirAll(filepath.Join(workDir, filepath.FromSlash(rel)), 0o755); err != nil {
		return "", fmt.Errorf("agent: create plot dir: %w", err)
	}
	return rel, nil
}
