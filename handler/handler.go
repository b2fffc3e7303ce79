// Package handler adapts API Gateway proxy events to the chart service.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"sqlchart-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ChartUseCase interface {
	Generate(ctx context.Context, in usecase.GenerateInput) (usecase.GenerateOutput, error)
}

type RunUseCase interface {
	Get(ctx context.Context, runID string) (usecase.RunView, error)
}

type Handler struct {
	uc   ChartUseCase
	runs RunUseCase
}

type chartRequest struct {
	Tables   []string `json:"tables"`
	Question string   `json:"question"`
	RunID    string   `json:"runId"`
}

type chartFile struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

type chartResponse struct {
	RunID   string      `json:"runId"`
	Answer  string      `json:"answer"`
	PlotDir string      `json:"plotDir"`
	Steps   int         `json:"steps"`
	Charts  []chartFile `json:"charts"`
}

type functionCallResponse struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type messageResponse struct {
	Seq          int                   `json:"seq"`
	Node         string                `json:"node,omitempty"`
	Role         string                `json:"role"`
	Name         string                `json:"name,omitempty"`
	Content      string                `json:"content"`
	FunctionCall *functionCallResponse `json:"functionCall,omitempty"`
	Truncated    bool                  `json:"truncated,omitempty"`
}

type runResponse struct {
	RunID        string            `json:"runId"`
	Status       string            `json:"status"`
	Tables       []string          `json:"tables"`
	Question     string            `json:"question,omitempty"`
	Answer       string            `json:"answer,omitempty"`
	Charts       []string          `json:"charts"`
	Steps        int               `json:"steps"`
	Error        string            `json:"error,omitempty"`
	LastActivity string            `json:"lastActivity"`
	Messages     []messageResponse `json:"messages"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(uc ChartUseCase, runs RunUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if runs == nil {
		return nil, errors.New("handler: run use case must not be nil")
	}
	return &Handler{uc: uc, runs: runs}, nil
}

// Handle serves POST /charts and GET /charts/{runId}.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	logger := slog.With("correlation_id", corrID, "path", event.Path)

	switch event.HTTPMethod {
	case "", http.MethodPost:
	case http.MethodGet:
		return h.getRun(ctx, logger, corrID, event), nil
	default:
		return respond(corrID, http.StatusMethodNotAllowed, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "method_not_allowed"}), nil
	}

	var req chartRequest
	dec := json.NewDecoder(bytes.NewReader([]byte(event.Body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "err", err)
		return respond(corrID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"}), nil
	}

	out, err := h.uc.Generate(ctx, usecase.GenerateInput{
		Tables:   req.Tables,
		Question: req.Question,
		RunID:    req.RunID,
	})
	if err != nil {
		status, body := mapError(err)
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(ctx, "chart generation failed", "err", err)
		} else {
			logger.WarnContext(ctx, "chart request rejected", "err", err)
		}
		return respond(corrID, status, body), nil
	}

	logger.InfoContext(ctx, "chart generated", "run_id", out.RunID, "steps", out.Steps, "charts", len(out.Charts))
	charts := make([]chartFile, 0, len(out.Charts))
	for _, c := range out.Charts {
		charts = append(charts, chartFile{Name: c.Name, ContentType: c.ContentType, Data: c.Data})
	}
	return respond(corrID, http.StatusOK, chartResponse{
		RunID:   out.RunID,
		Answer:  out.FinalAnswer,
		PlotDir: out.PlotDir,
		Steps:   out.Steps,
		Charts:  charts,
	}), nil
}

func (h *Handler) getRun(ctx context.Context, logger *slog.Logger, corrID string, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	view, err := h.runs.Get(ctx, runIDFromPath(event))
	if err != nil {
		status, body := mapError(err)
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(ctx, "run lookup failed", "err", err)
		}
		return respond(corrID, status, body)
	}

	meta := view.Meta
	resp := runResponse{
		RunID:        meta.RunID,
		Status:       string(meta.Status),
		Tables:       meta.Tables,
		Question:     meta.Question,
		Answer:       meta.FinalAnswer,
		Charts:       meta.Charts,
		Steps:        meta.Steps,
		Error:        meta.Error,
		LastActivity: meta.LastActivity,
		Messages:     make([]messageResponse, 0, len(view.Transcript)),
	}
	for _, it := range view.Transcript {
		m := messageResponse{
			Seq:       it.Seq,
			Node:      it.Node,
			Role:      string(it.Message.Role),
			Name:      it.Message.Name,
			Content:   it.Message.Content,
			Truncated: it.Truncated,
		}
		if it.Message.HasFunctionCall() {
			m.FunctionCall = &functionCallResponse{Name: it.Message.FunctionCall.Name, Arguments: it.Message.FunctionCall.Arguments}
		}
		resp.Messages = append(resp.Messages, m)
	}
	return respond(corrID, http.StatusOK, resp)
}

// runIDFromPath prefers the {runId} path parameter and falls back to the
// last segment of /charts/<id>.
func runIDFromPath(event events.APIGatewayProxyRequest) string {
	if id := event.PathParameters["runId"]; id != "" {
		return id
	}
	rest, ok := strings.CutPrefix(strings.TrimRight(event.Path, "/"), "/charts/")
	if !ok || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

func mapError(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	body := errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuestion:
		return http.StatusBadRequest, body
	case usecase.ErrorNotFound:
		return http.StatusNotFound, body
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, body
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, body
	case usecase.ErrorWorkflow:
		return http.StatusUnprocessableEntity, body
	default:
		return http.StatusInternalServerError, body
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func respond(corrID string, status int, payload any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}
