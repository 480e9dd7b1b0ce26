package sending

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/logger"
)

// DefaultBatchConcurrency bounds concurrent chunk calls when the caller
// passes zero.
const DefaultBatchConcurrency = 5

// Partition splits list into contiguous chunks of at most size entries.
// The chunks are copies; concatenating them reproduces list.
func Partition(list []string, size int) [][]string {
	if size <= 0 || len(list) <= size {
		return [][]string{append([]string(nil), list...)}
	}
	chunks := make([][]string, 0, (len(list)+size-1)/size)
	for start := 0; start < len(list); start += size {
		end := min(start+size, len(list))
		chunks = append(chunks, append([]string(nil), list[start:end]...))
	}
	return chunks
}

// SplitAndSend calls send directly when msg fits in one call. Otherwise it
// sends one call per contiguous chunk of maxPerCall recipients, at most
// concurrency at a time, and aggregates the outcomes by chunk index.
// Chunk failures are recorded in Results; the aggregate succeeds only if
// every chunk did.
func SplitAndSend(ctx context.Context, msg *domain.EmailMessage, provider domain.ProviderKind, maxPerCall, concurrency int, send SendFunc) (*domain.SendResult, error) {
	if maxPerCall <= 0 || len(msg.To) <= maxPerCall {
		return send(ctx, msg)
	}
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	chunks := Partition(msg.To, maxPerCall)
	results := make([]domain.SendResult, len(chunks))
	logger.Info("[Splitter] splitting send",
		"provider", string(provider),
		"recipients", len(msg.To),
		"chunks", len(chunks),
		"max_per_call", maxPerCall,
	)

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			part := msg.Clone()
			part.To = chunk
			res, err := send(ctx, &part)
			switch {
			case err != nil:
				results[i] = domain.SendResult{Provider: provider, MessageID: domain.UnknownMessageID, Error: err.Error(), SentAt: time.Now()}
			case res == nil:
				results[i] = domain.SendResult{Provider: provider, MessageID: domain.UnknownMessageID, Error: "no result", SentAt: time.Now()}
			default:
				results[i] = *res
			}
			if !results[i].Success {
				logger.Warn("[Splitter] chunk failed", "provider", string(provider), "chunk", i, "error", results[i].Error)
			}
			return nil
		})
	}
	_ = g.Wait()

	agg := &domain.SendResult{
		Success:         true,
		Provider:        provider,
		MessageID:       domain.UnknownMessageID,
		SentAt:          time.Now(),
		TotalRecipients: len(msg.To),
		MessagesSent:    len(chunks),
		Results:         results,
	}
	failed := 0
	for _, r := range results {
		if !r.Success {
			agg.Success = false
			failed++
		}
		if agg.FromEmail == "" {
			agg.FromEmail = r.FromEmail
		}
	}
	if failed > 0 {
		agg.Error = fmt.Sprintf("%d of %d chunks failed", failed, len(chunks))
	}
	return agg, nil
}
