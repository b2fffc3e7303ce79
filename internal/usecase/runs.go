package usecase

import (
	"context"
	"errors"
	"strings"

	"sqlchart-agent/internal/domain"
)

// RunReader reads persisted runs back.
type RunReader interface {
	GetRunMeta(ctx context.Context, runID string) (domain.RunMeta, bool, error)
	GetTranscript(ctx context.Context, runID string) ([]domain.TranscriptItem, error)
}

// RunView is a persisted run with its transcript in sequence order.
type RunView struct {
	Meta       domain.RunMeta
	Transcript []domain.TranscriptItem
}

type RunService struct {
	reader RunReader
}

func NewRunService(r RunReader) (*RunService, error) {
	if r == nil {
		return nil, errors.New("usecase: run reader must not be nil")
	}
	return &RunService{reader: r}, nil
}

// Get loads the metadata and transcript of runID.
func (s *RunService) Get(ctx context.Context, runID string) (RunView, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return RunView{}, newError(ErrorInvalidInput, "missing_run_id", nil)
	}
	meta, found, err := s.reader.GetRunMeta(ctx, runID)
	if err != nil {
		return RunView{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	if !found {
		return RunView{}, newError(ErrorNotFound, "run_not_found", nil)
	}
	transcript, err := s.reader.GetTranscript(ctx, runID)
	if err != nil {
		return RunView{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	return RunView{Meta: meta, Transcript: transcript}, nil
}
