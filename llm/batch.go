package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Batch pacing. Chunks stay well below the provider RPM ceiling and the
// inter-chunk sleep lets quota refill between jobs.
const (
	batchChunkSize         = 15
	defaultPollInterval    = 10 * time.Second
	defaultPollTimeout     = 30 * time.Minute
	defaultInterChunkSleep = 90 * time.Second
	maxChunkAttempts       = 3
)

func defaultQuotaBackoffs() []time.Duration {
	return []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SummarizeItemsBatch runs an item sweep through the batch API in chunks of
// 15, yielding each chunk's results to fn as soon as the chunk completes so
// the caller can persist incrementally. A single item failure surfaces as
// that result's Err and the sweep continues; a chunk that exhausts its quota
// retries aborts the sweep with an error wrapping ErrQuotaExhausted, since
// later chunks would hit the same ceiling. Already-persisted chunks keep
// their summaries and a re-run skips them.
func (s *Summarizer) SummarizeItemsBatch(ctx context.Context, reqs []ItemRequest, fn func([]ItemResult) error) error {
	if len(reqs) == 0 {
		return nil
	}
	if !s.client.Available() {
		return fmt.Errorf("llm client not configured")
	}

	for start := 0; start < len(reqs); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(reqs) {
			end = len(reqs)
		}
		chunk := reqs[start:end]

		if start > 0 {
			if err := s.sleep(ctx, s.interChunkSleep); err != nil {
				return err
			}
		}

		results, err := s.processChunk(ctx, chunk, start/batchChunkSize)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(results); err != nil {
			return fmt.Errorf("failed to persist batch chunk: %w", err)
		}
	}
	return nil
}

// processChunk submits one chunk, retrying on quota exhaustion. A non-quota
// chunk failure fails each of its items so the sweep continues; exhausted
// quota is returned as an error.
func (s *Summarizer) processChunk(ctx context.Context, chunk []ItemRequest, index int) ([]ItemResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxChunkAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.quotaBackoffs[min(attempt-1, len(s.quotaBackoffs)-1)]
			s.logger.Warn("retrying batch chunk after quota exhaustion",
				"chunk", index, "attempt", attempt+1, "backoff", backoff)
			if err := s.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		results, err := s.runChunk(ctx, chunk, index, attempt)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if !errors.Is(err, ErrQuotaExhausted) {
			break
		}
	}

	if errors.Is(lastErr, ErrQuotaExhausted) {
		return nil, fmt.Errorf("batch chunk %d exhausted quota after %d attempts: %w", index, maxChunkAttempts, lastErr)
	}

	s.logger.Error("batch chunk failed", "chunk", index, "error", lastErr)
	failed := make([]ItemResult, len(chunk))
	for i, r := range chunk {
		failed[i] = ItemResult{ItemID: r.ItemID, Err: fmt.Errorf("batch chunk failed: %w", lastErr)}
	}
	return failed, nil
}

// runChunk submits one batch job and polls it to a terminal state.
func (s *Summarizer) runChunk(ctx context.Context, chunk []ItemRequest, index, attempt int) ([]ItemResult, error) {
	inline := make([]InlineRequest, len(chunk))
	for i, r := range chunk {
		_, req := s.itemGenerateRequest(r)
		inline[i] = InlineRequest{
			Request:  req,
			Metadata: map[string]string{"key": r.ItemID},
		}
	}

	// Batch jobs run on one model; size the chunk by its largest item.
	model := ModelLite
	for _, r := range chunk {
		if m := SelectModel(len(r.Text), EstimatePages(len(r.Text))); m == ModelFlagship {
			model = ModelFlagship
			break
		}
	}

	display := fmt.Sprintf("item-sweep-chunk-%d-attempt-%d", index, attempt)
	op, err := s.client.CreateBatch(ctx, model, display, inline)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch job: %w", err)
	}
	s.logger.Info("batch job submitted", "job", op.Name, "chunk", index, "items", len(chunk), "model", model)

	op, err = s.pollBatch(ctx, op)
	if err != nil {
		return nil, err
	}

	state := op.Metadata.State
	if state != BatchStateSucceeded {
		if op.Error != nil {
			return nil, fmt.Errorf("batch job %s ended in state %s: %s", op.Name, state, op.Error.Message)
		}
		return nil, fmt.Errorf("batch job %s ended in state %s", op.Name, state)
	}
	if op.Response == nil {
		return nil, fmt.Errorf("batch job %s succeeded with no response payload", op.Name)
	}

	return s.collectChunkResults(chunk, op.Response.InlinedResponses.InlinedResponses), nil
}

func (s *Summarizer) pollBatch(ctx context.Context, op *BatchOperation) (*BatchOperation, error) {
	deadline := time.Now().Add(s.pollTimeout)
	for !op.Done && !TerminalBatchState(op.Metadata.State) {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("batch job %s did not finish within %s", op.Name, s.pollTimeout)
		}
		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return nil, err
		}
		next, err := s.client.GetBatch(ctx, op.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to poll batch job: %w", err)
		}
		op = next
	}
	return op, nil
}

// collectChunkResults parses each inline response independently, matching on
// the metadata key and falling back to positional order.
func (s *Summarizer) collectChunkResults(chunk []ItemRequest, responses []InlineResponse) []ItemResult {
	byKey := make(map[string]InlineResponse, len(responses))
	for _, r := range responses {
		if k := r.Metadata["key"]; k != "" {
			byKey[k] = r
		}
	}

	results := make([]ItemResult, len(chunk))
	for i, req := range chunk {
		results[i] = ItemResult{ItemID: req.ItemID}

		resp, ok := byKey[req.ItemID]
		if !ok {
			if i < len(responses) && len(byKey) == 0 {
				resp = responses[i]
			} else {
				results[i].Err = fmt.Errorf("no batch response for item %s", req.ItemID)
				continue
			}
		}

		if resp.Error != nil {
			results[i].Err = fmt.Errorf("batch item error %d: %s", resp.Error.Code, resp.Error.Message)
			continue
		}
		if resp.Response == nil {
			results[i].Err = fmt.Errorf("empty batch response for item %s", req.ItemID)
			continue
		}
		summary, err := s.parseItemResponse(resp.Response)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Summary = summary
	}
	return results
}
