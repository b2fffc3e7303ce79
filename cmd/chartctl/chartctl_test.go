package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"sqlchart-agent/internal/domain"
	"sqlchart-agent/internal/usecase"
	"sqlchart-agent/internal/workflow"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestLoadConfig_Defaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	require.Equal(t, "test.db", cfg.DB)
	require.Equal(t, "gpt-4o", cfg.Model)
	require.Equal(t, 2*time.Minute, cfg.PythonTimeout)
	require.Equal(t, 150, cfg.RecursionLimit)
	require.Equal(t, 300, cfg.MaxQuestionLength)
	require.Empty(t, cfg.StateTable)
}

func TestLoadConfig_FromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chartctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
db = "sqlite:///data/psychology_study.db"
model = "gpt-4o-mini"
python_timeout = "30s"
recursion_limit = 40
`), 0o644))

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	require.Equal(t, "sqlite:///data/psychology_study.db", cfg.DB)
	require.Equal(t, "gpt-4o-mini", cfg.Model)
	require.Equal(t, 30*time.Second, cfg.PythonTimeout)
	require.Equal(t, 40, cfg.RecursionLimit)
}

func TestNewLLM_RequiresKeySource(t *testing.T) {
	_, err := newLLM(Config{}, nil)
	require.ErrorContains(t, err, "no OpenAI key")

	c, err := newLLM(Config{OpenAIAPIKey: "sk-local"}, nil)
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestPrintStep(t *testing.T) {
	var buf bytes.Buffer
	printStep(&buf, workflow.Step{Node: "SQLResearcher", Update: domain.Update{Messages: []domain.Message{{
		Role:         domain.RoleUser,
		Name:         "SQLResearcher",
		FunctionCall: &domain.FunctionCall{Name: "sql_db_query", Arguments: `{"query":"SELECT 1"}`},
	}}}})
	printStep(&buf, workflow.Step{Node: "call_tool", Update: domain.Update{Messages: []domain.Message{{
		Role:    domain.RoleFunction,
		Name:    "sql_db_query",
		Content: "sql_db_query response: [(1,)]",
	}}}})

	require.Equal(t,
		"▶ SQLResearcher\n"+
			"  → sql_db_query({\"query\":\"SELECT 1\"})\n"+
			"----\n"+
			"▶ call_tool\n"+
			"  [sql_db_query] sql_db_query response: [(1,)]\n"+
			"----\n",
		buf.String())
}

func TestIndent(t *testing.T) {
	require.Equal(t, "a\n  b", indent("a\nb\n"))
}

func TestMermaidGraph(t *testing.T) {
	text, err := mermaidGraph()
	require.NoError(t, err)
	require.Contains(t, text, "SQLResearcher -. &nbsp;call_tool&nbsp; .-> call_tool;")
}

func TestSeedCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "mock.db")
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"seed", "users_orders", "--out", out})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		seedOut = ""
	})

	require.NoError(t, rootCmd.Execute())
	require.Contains(t, buf.String(), "seeded users_orders into "+out)
	require.Contains(t, buf.String(), "users: ")

	_, err := os.Stat(out)
	require.NoError(t, err)
}

func TestPrintRun(t *testing.T) {
	var buf bytes.Buffer
	printRun(&buf, usecase.RunView{
		Meta: domain.RunMeta{
			RunID:        "r1",
			Tables:       []string{"users", "orders"},
			Question:     "Plot orders per user.",
			Status:       domain.RunStatusComplete,
			Charts:       []string{"orders.svg"},
			Steps:        2,
			LastActivity: "2024-01-01T00:00:00Z",
		},
		Transcript: []domain.TranscriptItem{
			{Seq: 0, Message: domain.Message{Role: domain.RoleUser, Content: "Plot orders per user."}},
			{Seq: 1, Node: "SQLResearcher", Message: domain.Message{Role: domain.RoleUser, Name: "SQLResearcher", Content: "looking"}},
			{Seq: 2, Node: "SQLResearcher", Message: domain.Message{Role: domain.RoleUser, Name: "SQLResearcher", Content: "FINAL ANSWER"}},
			{Seq: 3, Node: "ChartGenerator", Message: domain.Message{Role: domain.RoleUser, Name: "ChartGenerator", Content: "done"}},
		},
	})

	require.Equal(t,
		"run r1 complete after 2 steps (2024-01-01T00:00:00Z)\n"+
			"  tables: users, orders\n"+
			"  question: Plot orders per user.\n"+
			"  charts: orders.svg\n"+
			"----\n"+
			"▶ input\n"+
			"  Plot orders per user.\n"+
			"----\n"+
			"▶ SQLResearcher\n"+
			"  looking\n"+
			"  FINAL ANSWER\n"+
			"----\n"+
			"▶ ChartGenerator\n"+
			"  done\n"+
			"----\n",
		buf.String())
}

func TestTranscriptCommand_RequiresStateTable(t *testing.T) {
	t.Setenv("CHARTCTL_STATE_TABLE", "")
	rootCmd.SetArgs([]string{"transcript", "r1"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.ErrorContains(t, rootCmd.Execute(), "state_table")
}
