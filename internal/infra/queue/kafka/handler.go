package kafka

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// TypedMessageHandler decodes JSON messages into T before processing.
type TypedMessageHandler[T any] struct {
	// Validate checks if the message should be processed
	Validate func(msg *T) bool
	// Process handles the actual message processing
	Process func(ctx context.Context, msg *T) error
	// AlwaysMark marks messages that fail decoding, validation or processing.
	// A message whose session ended before Process finished is never marked.
	AlwaysMark bool
	Log        *zap.Logger
}

// HandleMessage implements MessageHandler
func (h *TypedMessageHandler[T]) HandleMessage(ctx context.Context, message []byte) (bool, error) {
	var msg T
	if err := json.Unmarshal(message, &msg); err != nil {
		h.logger().Warn("failed to unmarshal message", zap.Error(err))
		return h.AlwaysMark, nil
	}
	if h.Validate != nil && !h.Validate(&msg) {
		return h.AlwaysMark, nil
	}
	if err := h.Process(ctx, &msg); err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		return h.AlwaysMark, err
	}
	return true, nil
}

func (h *TypedMessageHandler[T]) logger() *zap.Logger {
	if h.Log == nil {
		return zap.L()
	}
	return h.Log
}

// RunRequest asks a worker to execute the pipeline for an existing run.
type RunRequest struct {
	RunID string `json:"run_id"`
}

// NewRunRequestHandler marks every message it hands to run: a run is attempted
// at most once and its failure is recorded on the run itself. run is usually
// RunPool.Submit.
func NewRunRequestHandler(run func(ctx context.Context, id domain.RunID) error, log *zap.Logger) *TypedMessageHandler[RunRequest] {
	return &TypedMessageHandler[RunRequest]{
		Validate: func(msg *RunRequest) bool {
			msg.RunID = strings.TrimSpace(msg.RunID)
			return msg.RunID != ""
		},
		Process: func(ctx context.Context, msg *RunRequest) error {
			return run(ctx, domain.RunID(msg.RunID))
		},
		AlwaysMark: true,
		Log:        log,
	}
}
