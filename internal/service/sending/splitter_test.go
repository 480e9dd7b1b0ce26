package sending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailengine/internal/domain"
)

func recipients(n int) domain.Recipients {
	out := make(domain.Recipients, n)
	for i := range out {
		out[i] = fmt.Sprintf("user%04d@example.com", i)
	}
	return out
}

func TestPartition(t *testing.T) {
	for _, n := range []int{0, 1, 499, 500, 501, 1000, 1200, 1501} {
		list := recipients(n)
		chunks := Partition(list, 500)

		want := (n + 499) / 500
		if want == 0 {
			want = 1
		}
		assert.Len(t, chunks, want, "n=%d", n)

		var joined []string
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 500)
			joined = append(joined, c...)
		}
		assert.Equal(t, []string(list), append([]string{}, joined...), "n=%d", n)
	}
}

func TestSplitAndSend_SingleCallUnderLimit(t *testing.T) {
	msg := &domain.EmailMessage{To: recipients(500), Subject: "S"}
	var calls atomic.Int32
	res, err := SplitAndSend(context.Background(), msg, domain.ProviderGraph, 500, 3, func(ctx context.Context, m *domain.EmailMessage) (*domain.SendResult, error) {
		calls.Add(1)
		assert.Same(t, msg, m)
		return &domain.SendResult{Success: true, Provider: domain.ProviderGraph, MessageID: domain.UnknownMessageID}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, res.IsBatch())
}

func TestSplitAndSend_ChunksAndAggregates(t *testing.T) {
	msg := &domain.EmailMessage{To: recipients(1200), Subject: "S", HTML: "<p>x</p>"}

	var mu sync.Mutex
	seen := map[string]int{}
	res, err := SplitAndSend(context.Background(), msg, domain.ProviderGraph, 500, 2, func(ctx context.Context, m *domain.EmailMessage) (*domain.SendResult, error) {
		mu.Lock()
		for _, to := range m.To {
			seen[to]++
		}
		mu.Unlock()
		return &domain.SendResult{Success: true, Provider: domain.ProviderGraph, MessageID: domain.UnknownMessageID, FromEmail: "ops@example.com"}, nil
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.MessagesSent)
	assert.Equal(t, 1200, res.TotalRecipients)
	assert.Len(t, res.Results, 3)
	assert.Equal(t, "ops@example.com", res.FromEmail)
	assert.Len(t, seen, 1200)
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
	// caller's list untouched
	assert.Len(t, msg.To, 1200)
}

func TestSplitAndSend_MiddleChunkFailure(t *testing.T) {
	msg := &domain.EmailMessage{To: recipients(1200), Subject: "S"}
	middle := msg.To[500]

	res, err := SplitAndSend(context.Background(), msg, domain.ProviderGraph, 500, 3, func(ctx context.Context, m *domain.EmailMessage) (*domain.SendResult, error) {
		if m.To[0] == middle {
			return nil, &domain.UpstreamError{Provider: domain.ProviderGraph, StatusCode: 503, Body: "busy"}
		}
		return &domain.SendResult{Success: true, Provider: domain.ProviderGraph}, nil
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.MessagesSent)
	require.Len(t, res.Results, 3)
	assert.True(t, res.Results[0].Success)
	assert.False(t, res.Results[1].Success)
	assert.Contains(t, res.Results[1].Error, "busy")
	assert.True(t, res.Results[2].Success)
	assert.Equal(t, "1 of 3 chunks failed", res.Error)
}

func TestSplitAndSend_BoundedConcurrency(t *testing.T) {
	msg := &domain.EmailMessage{To: recipients(50), Subject: "S"}
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			release <- struct{}{}
		}
	}()

	_, err := SplitAndSend(context.Background(), msg, domain.ProviderSES, 5, 2, func(ctx context.Context, m *domain.EmailMessage) (*domain.SendResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return &domain.SendResult{Success: true}, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSplitAndSend_NilResultIsFailure(t *testing.T) {
	msg := &domain.EmailMessage{To: recipients(4), Subject: "S"}
	res, err := SplitAndSend(context.Background(), msg, domain.ProviderSES, 2, 1, func(ctx context.Context, m *domain.EmailMessage) (*domain.SendResult, error) {
		if m.To[0] == msg.To[0] {
			return nil, nil
		}
		return nil, errors.New("boom")
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "no result", res.Results[0].Error)
	assert.Equal(t, "boom", res.Results[1].Error)
}
