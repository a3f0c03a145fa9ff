package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dictumlabs/dictum/internal/resilience"
	"github.com/dictumlabs/dictum/pkg/provider/llm"
)

// completeStage performs one oracle round trip for a stage: build the
// request, warn when the payload crowds the model's context window, retry
// transient transport failures, and hand back the raw reply text. Reply
// validation stays with the caller; a malformed reply is a protocol error,
// not a transport one, and must not be retried here.
func completeStage(ctx context.Context, oracle llm.Provider, stage Stage, cfg stageConfig, system, payload string) (string, error) {
	req := llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: payload}},
		Temperature:  cfg.temperature,
		ForceJSON:    true,
	}
	warnNearContextWindow(oracle, stage, req)

	resp, err := resilience.Retry(ctx, cfg.retry, string(stage), func(ctx context.Context) (*llm.CompletionResponse, error) {
		return oracle.Complete(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("%s: oracle: %w", stage, err)
	}
	slog.Debug("oracle reply received",
		"stage", stage,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return resp.Content, nil
}

// warnNearContextWindow logs when a stage payload uses more than 80% of the
// model's context window. Token counts are estimates, so this only warns.
func warnNearContextWindow(oracle llm.Provider, stage Stage, req llm.CompletionRequest) {
	msgs := make([]llm.Message, 0, len(req.Messages)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: req.SystemPrompt})
	msgs = append(msgs, req.Messages...)

	count, err := oracle.CountTokens(msgs)
	if err != nil {
		return
	}
	window := oracle.Capabilities().ContextWindow
	if window > 0 && count > window*4/5 {
		slog.Warn("stage payload close to context window",
			"stage", stage,
			"estimated_tokens", count,
			"context_window", window)
	}
}

// batchRange is one contiguous slice of the input a single oracle call
// covers.
type batchRange struct {
	start, end int
}

// batches cuts n items into ranges of at most size.
func batches(n, size int) []batchRange {
	if n <= 0 {
		return nil
	}
	out := make([]batchRange, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		out = append(out, batchRange{start: start, end: min(start+size, n)})
	}
	return out
}
