package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sqlchart-agent/internal/domain"
	"sqlchart-agent/internal/repository"
	"sqlchart-agent/internal/usecase"
	"sqlchart-agent/internal/workflow"
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript <run-id>",
	Short: "Print a persisted run and its messages",
	Long: `Read a run back from the DynamoDB table named by state_table and print its
status followed by every message in the order it was recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		if cfg.StateTable == "" {
			return errors.New("transcript needs state_table to be set")
		}
		awsCfg, err := config.LoadDefaultConfig(cmd.Context())
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		repo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return err
		}
		runs, err := usecase.NewRunService(repo)
		if err != nil {
			return err
		}
		view, err := runs.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printRun(cmd.OutOrStdout(), view)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(transcriptCmd)
}

func printRun(w io.Writer, view usecase.RunView) {
	meta := view.Meta
	status := color.YellowString(string(meta.Status))
	switch meta.Status {
	case domain.RunStatusComplete:
		status = color.GreenString(string(meta.Status))
	case domain.RunStatusFailed:
		status = color.RedString(string(meta.Status))
	}
	fmt.Fprintf(w, "run %s %s after %d steps (%s)\n", meta.RunID, status, meta.Steps, meta.LastActivity)
	fmt.Fprintf(w, "  tables: %s\n", strings.Join(meta.Tables, ", "))
	if meta.Question != "" {
		fmt.Fprintf(w, "  question: %s\n", meta.Question)
	}
	if len(meta.Charts) > 0 {
		fmt.Fprintf(w, "  charts: %s\n", color.CyanString(strings.Join(meta.Charts, ", ")))
	}
	if meta.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", color.RedString(meta.Error))
	}
	fmt.Fprintln(w, "----")

	// Messages are grouped back into the steps that produced them.
	var step *workflow.Step
	flush := func() {
		if step != nil {
			printStep(w, *step)
			step = nil
		}
	}
	for _, it := range view.Transcript {
		node := it.Node
		if node == "" {
			node = "input"
		}
		if step == nil || step.Node != node {
			flush()
			step = &workflow.Step{Node: node}
		}
		step.Update.Messages = append(step.Update.Messages, it.Message)
	}
	flush()
}
