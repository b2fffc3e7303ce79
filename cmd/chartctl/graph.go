package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sqlchart-agent/internal/domain"
	"sqlchart-agent/internal/tools"
	"sqlchart-agent/internal/workflow"
)

var graphOut string

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the pipeline graph as a Mermaid flowchart",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		text, err := mermaidGraph()
		if err != nil {
			return err
		}

		out := graphOut
		if out == "" {
			out = cfg.GraphFile
		}
		if out == "" {
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		}
		if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
			return fmt.Errorf("write graph: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s graph written to %s\n", color.GreenString("✓"), out)
		return nil
	},
}

func init() {
	graphCmd.Flags().StringVarP(&graphOut, "output", "o", "", "write to this file instead of stdout")
	rootCmd.AddCommand(graphCmd)
}

// previewAgent stands in for the real agents; drawing the graph never runs it.
type previewAgent struct{}

func (previewAgent) Invoke(context.Context, domain.State) (domain.Message, error) {
	return domain.Message{}, errors.New("preview agent cannot be invoked")
}

func mermaidGraph() (string, error) {
	exec, err := tools.NewExecutor(tools.Registry(nil, nil)...)
	if err != nil {
		return "", err
	}
	g, err := workflow.NewChartGraph(previewAgent{}, previewAgent{}, exec)
	if err != nil {
		return "", err
	}
	return g.Mermaid(), nil
}
