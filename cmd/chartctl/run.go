package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sqlchart-agent/internal/domain"
	"sqlchart-agent/internal/integrations/openai"
	"sqlchart-agent/internal/integrations/paramstore"
	"sqlchart-agent/internal/repository"
	"sqlchart-agent/internal/sqldb"
	"sqlchart-agent/internal/tools"
	"sqlchart-agent/internal/usecase"
	"sqlchart-agent/internal/workflow"
)

var (
	runTables   []string
	runQuestion string
	runID       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for a set of tables",
	Long: `Run the SQL researcher and the chart generator against the configured
database. Every graph step is printed as it completes. The chart is saved
under plots/<table>_<table>_/ relative to work_dir.

The OpenAI key comes from openai_api_key (or OPENAI_API_KEY). When it is not
set, param_prefix must name an SSM prefix holding <prefix>/open-ai-token.
Setting state_table persists the transcript to DynamoDB.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		db, err := sqldb.Open(ctx, cfg.DB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		svc, err := newChartService(ctx, cfg, db)
		if err != nil {
			return err
		}

		out, err := svc.Generate(ctx, usecase.GenerateInput{
			Tables:   runTables,
			Question: runQuestion,
			RunID:    runID,
			OnStep:   func(s workflow.Step) { printStep(cmd.OutOrStdout(), s) },
		})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s run %s finished after %d steps\n", color.GreenString("✓"), out.RunID, out.Steps)
		fmt.Fprintf(w, "  charts: %s\n", color.CyanString(out.PlotDir))
		for _, c := range out.Charts {
			fmt.Fprintf(w, "    %s (%s, %d bytes)\n", c.Name, c.ContentType, len(c.Data))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringSliceVarP(&runTables, "tables", "t", []string{"users", "orders"}, "tables the researcher may query")
	runCmd.Flags().StringVarP(&runQuestion, "question", "q", "Plot me the number of orders per user.", "question to answer with a chart")
	runCmd.Flags().StringVar(&runID, "run-id", "", "run id (default: random UUID)")
	runCmd.Flags().String("model", "", "OpenAI model")
	cobra.CheckErr(viper.BindPFlag("model", runCmd.Flags().Lookup("model")))
	rootCmd.AddCommand(runCmd)
}

// newChartService wires the pipeline from cfg. AWS is only contacted when
// param_prefix or state_table is set.
func newChartService(ctx context.Context, cfg Config, db *sqldb.DB) (*usecase.ChartService, error) {
	var (
		params usecase.ParamGetter
		store  usecase.RunStore
		ps     *paramstore.Client
	)
	if cfg.ParamPrefix != "" || cfg.StateTable != "" {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		if cfg.ParamPrefix != "" {
			if ps, err = paramstore.New(awsssm.NewFromConfig(awsCfg)); err != nil {
				return nil, err
			}
			params = ps
		}
		if cfg.StateTable != "" {
			repo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
			if err != nil {
				return nil, err
			}
			store = repo
		}
	}

	llm, err := newLLM(cfg, ps)
	if err != nil {
		return nil, err
	}

	runner := &tools.PythonRunner{Binary: cfg.Python, Dir: cfg.WorkDir, Timeout: cfg.PythonTimeout}
	return usecase.NewChartService(params, llm, db, runner, store, usecase.Config{
		ParamPrefix:    cfg.ParamPrefix,
		DefaultModel:   cfg.Model,
		WorkDir:        cfg.WorkDir,
		RecursionLimit: cfg.RecursionLimit,
		MaxQuestionLen: cfg.MaxQuestionLength,
		GraphFile:      cfg.GraphFile,
	})
}

func newLLM(cfg Config, ps *paramstore.Client) (*openai.Client, error) {
	opts := []openai.Option{openai.WithBaseURL(cfg.OpenAIBaseURL)}
	if cfg.OpenAIAPIKey != "" {
		return openai.NewClient(nil, "", append(opts, openai.WithAPIKey(cfg.OpenAIAPIKey))...)
	}
	if ps == nil {
		return nil, fmt.Errorf("no OpenAI key: set openai_api_key or param_prefix")
	}
	return openai.NewClient(ps, cfg.ParamPrefix, opts...)
}

var (
	nodeColor = color.New(color.FgCyan, color.Bold)
	callColor = color.New(color.FgYellow)
	toolColor = color.New(color.FgMagenta)
	doneColor = color.New(color.FgGreen, color.Bold)
)

// printStep writes one graph step the way it would be read in a terminal:
// the node, then each message it added, then a separator.
func printStep(w io.Writer, s workflow.Step) {
	nodeColor.Fprintf(w, "▶ %s\n", s.Node)
	for _, m := range s.Update.Messages {
		switch {
		case m.Role == domain.RoleFunction:
			toolColor.Fprintf(w, "  [%s] ", m.Name)
			fmt.Fprintln(w, indent(m.Content))
		case strings.Contains(m.Content, workflow.FinalAnswerMarker):
			doneColor.Fprintf(w, "  %s\n", indent(m.Content))
		default:
			if m.Content != "" {
				fmt.Fprintf(w, "  %s\n", indent(m.Content))
			}
		}
		if m.HasFunctionCall() {
			callColor.Fprintf(w, "  → %s(%s)\n", m.FunctionCall.Name, m.FunctionCall.Arguments)
		}
	}
	fmt.Fprintln(w, "----")
}

func indent(s string) string {
	return strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
}
