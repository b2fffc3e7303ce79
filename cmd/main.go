package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"sqlchart-agent/handler"
	"sqlchart-agent/internal/integrations/openai"
	"sqlchart-agent/internal/integrations/paramstore"
	"sqlchart-agent/internal/repository"
	"sqlchart-agent/internal/sqldb"
	"sqlchart-agent/internal/tools"
	"sqlchart-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	dbPath := mustEnv("DB_PATH")
	plotsDir := envString("PLOTS_DIR", "/tmp")
	pythonBin := envString("PYTHON_BIN", "python3")
	recursionLimit := envInt("RECURSION_LIMIT", 150)
	maxQuestionLen := envInt("MAX_QUESTION_LENGTH", 300)
	pythonTimeout := time.Duration(envInt("PYTHON_TIMEOUT_SECONDS", 120)) * time.Second

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	runStore, err := repository.New(dynamoClient, stateTable)
	if err != nil {
		slog.Error("failed to create run store", "err", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	db, err := sqldb.Open(ctx, dbPath)
	if err != nil {
		slog.Error("failed to open database", "path", dbPath, "err", err)
		os.Exit(1)
	}
	runner := &tools.PythonRunner{Binary: pythonBin, Dir: plotsDir, Timeout: pythonTimeout}

	// ---- Handler ----
	chartService, err := usecase.NewChartService(ssmClient, openaiClient, db, runner, runStore, usecase.Config{
		ParamPrefix:    paramPrefix,
		WorkDir:        plotsDir,
		RecursionLimit: recursionLimit,
		MaxQuestionLen: maxQuestionLen,
	})
	if err != nil {
		slog.Error("failed to create chart service", "err", err)
		os.Exit(1)
	}

	runService, err := usecase.NewRunService(runStore)
	if err != nil {
		slog.Error("failed to create run service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chartService, runService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
