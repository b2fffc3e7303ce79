package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"sqlchart-agent/internal/agent"
	"sqlchart-agent/internal/domain"
	"sqlchart-agent/internal/integrations/paramstore"
	"sqlchart-agent/internal/repository"
	"sqlchart-agent/internal/sqldb"
	"sqlchart-agent/internal/tools"
	"sqlchart-agent/internal/workflow"
)

const (
	DefaultModel       = "gpt-4o"
	InitialPrompt      = "Get me some usefull data"
	defaultMaxQuestion = 300
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	agent.LLM
	Moderate(ctx context.Context, input string) (bool, error)
}

// Database is the SQL side of the pipeline: schema introspection for the
// researcher's prompt and read queries for its tool.
type Database interface {
	tools.Querier
	TableSchema(ctx context.Context, tables []string) (string, error)
}

// RunStore persists run transcripts. It is optional.
type RunStore interface {
	SaveStep(ctx context.Context, items []domain.TranscriptItem, meta domain.RunMeta) error
	SaveRunMeta(ctx context.Context, meta domain.RunMeta) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type Config struct {
	// ParamPrefix locates the model override (<prefix>/config/openai_model).
	// Empty disables the lookup.
	ParamPrefix    string
	DefaultModel   string
	WorkDir        string
	RecursionLimit int
	MaxQuestionLen int
	// GraphFile, when set, receives the Mermaid rendering of the graph.
	GraphFile string
}

type ChartService struct {
	params ParamGetter
	llm    LLMClient
	db     Database
	runner tools.CodeRunner
	store  RunStore
	cfg    Config

	cacheMu     sync.RWMutex
	cacheLoaded bool
	openaiModel string
}

type GenerateInput struct {
	Tables   []string
	Question string
	RunID    string
	// OnStep, if set, observes every workflow step as it completes.
	OnStep func(workflow.Step)
}

type GenerateOutput struct {
	RunID       string
	FinalAnswer string
	Steps       int
	PlotDir     string
	Charts      []Chart
	Messages    []domain.Message
}

// NewChartService wires the pipeline. params and store may be nil.
func NewChartService(p ParamGetter, llm LLMClient, db Database, runner tools.CodeRunner, store RunStore, cfg Config) (*ChartService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if db == nil {
		return nil, errors.New("usecase: database must not be nil")
	}
	if runner == nil {
		return nil, errors.New("usecase: code runner must not be nil")
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if cfg.RecursionLimit <= 0 {
		cfg.RecursionLimit = workflow.DefaultRecursionLimit
	}
	if cfg.MaxQuestionLen <= 0 {
		cfg.MaxQuestionLen = defaultMaxQuestion
	}
	return &ChartService{
		params: p,
		llm:    llm,
		db:     db,
		runner: runner,
		store:  store,
		cfg:    cfg,
	}, nil
}

func (s *ChartService) Generate(ctx context.Context, in GenerateInput) (GenerateOutput, error) {
	tables, err := normalizeTables(in.Tables)
	if err != nil {
		return GenerateOutput{}, err
	}
	question := strings.TrimSpace(in.Question)
	if len(question) > s.cfg.MaxQuestionLen {
		return GenerateOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}

	if question != "" {
		flagged, err := s.llm.Moderate(ctx, question)
		if err != nil {
			if status, ok := upstreamStatusCode(err); ok && status == 429 {
				return GenerateOutput{}, newError(ErrorRateLimited, "moderation_rate_limited", err)
			}
			return GenerateOutput{}, newError(ErrorUpstream, "moderation_error", err)
		}
		if flagged {
			return GenerateOutput{}, newError(ErrorInvalidQuestion, "moderation_flagged", nil)
		}
	}

	if err := s.ensureConfig(ctx); err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	schema, err := s.schema(ctx, tables)
	if err != nil {
		return GenerateOutput{}, err
	}

	plotDir, err := agent.EnsurePlotDir(s.cfg.WorkDir, tables)
	if err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "plot_dir_error", err)
	}
	plotPath := filepath.Join(s.cfg.WorkDir, filepath.FromSlash(plotDir))
	existing, err := snapshotPlots(plotPath)
	if err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "plot_dir_error", err)
	}

	graph, err := s.buildGraph(schema, question, plotDir)
	if err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "workflow_build_error", err)
	}
	if s.cfg.GraphFile != "" {
		if err := os.WriteFile(s.cfg.GraphFile, []byte(graph.Mermaid()), 0o644); err != nil {
			slog.WarnContext(ctx, "failed to write graph file", "path", s.cfg.GraphFile, "err", err)
		}
	}

	runID := strings.TrimSpace(in.RunID)
	if runID == "" {
		runID = newUUID()
	}
	rec := &recorder{store: s.store, meta: repository.NewRunMeta(runID, tables, question, domain.RunStatusRunning)}

	initial := domain.State{Messages: []domain.Message{{Role: domain.RoleUser, Content: InitialPrompt}}}
	if err := rec.record(ctx, "", initial.Messages); err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}

	slog.InfoContext(ctx, "chart run started", "run_id", runID, "tables", tables, "model", s.openaiModel)
	final, runErr := graph.Stream(ctx, initial, func(step workflow.Step) error {
		rec.meta.Steps++
		if err := rec.record(ctx, step.Node, step.Update.Messages); err != nil {
			return &storeError{err: err}
		}
		if in.OnStep != nil {
			in.OnStep(step)
		}
		return nil
	})

	var se *storeError
	if errors.As(runErr, &se) {
		return GenerateOutput{}, newError(ErrorInternal, "dynamodb_write_error", se.err)
	}
	if runErr != nil {
		rec.meta.Status = domain.RunStatusFailed
		rec.meta.Error = runErr.Error()
		if err := rec.finish(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to record failed run", "run_id", runID, "err", err)
		}
		slog.ErrorContext(ctx, "chart run failed", "run_id", runID, "steps", rec.meta.Steps, "err", runErr)
		return GenerateOutput{}, classifyRunError(runErr)
	}

	charts, err := collectCharts(ctx, plotPath, existing)
	if err != nil {
		slog.WarnContext(ctx, "failed to collect charts", "run_id", runID, "dir", plotPath, "err", err)
	}

	answer := finalAnswer(final)
	rec.meta.Status = domain.RunStatusComplete
	rec.meta.FinalAnswer = answer
	rec.meta.Charts = chartNames(charts)
	if err := rec.finish(ctx); err != nil {
		return GenerateOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}
	slog.InfoContext(ctx, "chart run complete", "run_id", runID, "steps", rec.meta.Steps, "charts", len(charts))

	return GenerateOutput{
		RunID:       runID,
		FinalAnswer: answer,
		Steps:       rec.meta.Steps,
		PlotDir:     plotDir,
		Charts:      charts,
		Messages:    final.Messages,
	}, nil
}

func (s *ChartService) schema(ctx context.Context, tables []string) (string, error) {
	schema, err := s.db.TableSchema(ctx, tables)
	if err != nil {
		if errors.Is(err, sqldb.ErrUnknownTable) {
			return "", newError(ErrorInvalidInput, "unknown_table", err)
		}
		return "", newError(ErrorInternal, "schema_error", err)
	}
	return schema, nil
}

func (s *ChartService) buildGraph(schema, question, plotDir string) (*workflow.Graph, error) {
	researcher, err := agent.New(agent.SQLResearcherName, s.llm, s.openaiModel,
		[]tools.Tool{tools.NewSQLQueryTool(s.db)}, agent.SQLPrompt(schema, question))
	if err != nil {
		return nil, err
	}
	charts, err := agent.New(agent.ChartGeneratorName, s.llm, s.openaiModel,
		[]tools.Tool{tools.NewPythonREPLTool(s.runner)}, agent.ChartPrompt(plotDir))
	if err != nil {
		return nil, err
	}
	exec, err := tools.NewExecutor(tools.Registry(s.db, s.runner)...)
	if err != nil {
		return nil, err
	}
	graph, err := workflow.NewChartGraph(researcher, charts, exec)
	if err != nil {
		return nil, err
	}
	graph.RecursionLimit = s.cfg.RecursionLimit
	return graph, nil
}

func (s *ChartService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model := s.cfg.DefaultModel
	if s.params != nil && s.cfg.ParamPrefix != "" {
		var err error
		model, err = paramstore.Lookup(ctx, s.params, s.cfg.ParamPrefix+"/config/openai_model", s.cfg.DefaultModel)
		if err != nil {
			return fmt.Errorf("usecase: load openai model: %w", err)
		}
	}
	s.openaiModel = model
	s.cacheLoaded = true
	return nil
}

// recorder numbers transcript messages and forwards them to the store.
type recorder struct {
	store RunStore
	meta  domain.RunMeta
	seq   int
}

func (r *recorder) record(ctx context.Context, node string, msgs []domain.Message) error {
	items := make([]domain.TranscriptItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, repository.NewTranscriptItem(r.meta.RunID, r.seq, node, m))
		r.seq++
	}
	if r.store == nil {
		return nil
	}
	return r.store.SaveStep(ctx, items, r.meta)
}

func (r *recorder) finish(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	return r.store.SaveRunMeta(ctx, r.meta)
}

type storeError struct{ err error }

func (e *storeError) Error() string { return "usecase: persist step: " + e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func normalizeTables(in []string) ([]string, error) {
	tables := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if seen[t] {
			return nil, newError(ErrorInvalidInput, "duplicate_table", nil)
		}
		seen[t] = true
		tables = append(tables, t)
	}
	if len(tables) == 0 {
		return nil, newError(ErrorInvalidInput, "no_tables", nil)
	}
	return tables, nil
}

func finalAnswer(state domain.State) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if strings.Contains(state.Messages[i].Content, workflow.FinalAnswerMarker) {
			return state.Messages[i].Content
		}
	}
	if last, ok := state.Last(); ok {
		return last.Content
	}
	return ""
}

func classifyRunError(err error) *Error {
	if status, ok := upstreamStatusCode(err); ok {
		if status == 429 {
			return newError(ErrorRateLimited, "openai_rate_limited", err)
		}
		return newError(ErrorUpstream, "openai_error", err)
	}
	switch {
	case errors.Is(err, workflow.ErrRecursionLimit):
		return newError(ErrorWorkflow, "recursion_limit", err)
	case errors.Is(err, workflow.ErrNoEdge):
		return newError(ErrorWorkflow, "no_edge", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorInternal, "canceled", err)
	default:
		return newError(ErrorUpstream, "agent_error", err)
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
