package llm_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/knowme/internal/llm"
)

// fakeModel replays scripted results and records what it was sent.
type fakeModel struct {
	mu       sync.Mutex
	results  []result
	calls    int
	requests [][]llms.MessageContent

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

type result struct {
	text string
	err  error
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, messages)
	i := f.calls
	f.calls++

	r := result{text: fmt.Sprintf("answer %d", i)}
	if i < len(f.results) {
		r = f.results[i]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: r.text}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errNetwork = &url.Error{Op: "Post", URL: "https://llm.example", Err: errors.New("connection reset")}

func newInvoker(t *testing.T, model llms.Model, mem *llm.Memory) *llm.Invoker {
	t.Helper()
	inv, err := llm.NewInvoker(model, mem, llm.Config{Backoff: time.Millisecond}, nil)
	require.NoError(t, err)
	return inv
}

func texts(msgs []llms.MessageContent) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = fmt.Sprintf("%s:%s", m.Role, m.Parts[0].(llms.TextContent).Text)
	}
	return out
}

func TestInvoker_RetryCap(t *testing.T) {
	model := &fakeModel{results: []result{{err: errNetwork}, {err: errNetwork}, {err: errNetwork}, {text: "too late"}}}
	inv := newInvoker(t, model, nil)

	_, err := inv.Invoke(context.Background(), llm.Request{UserID: "u1", Input: "hi"})
	assert.ErrorIs(t, err, llm.ErrGenerationFailed)
	assert.ErrorIs(t, err, errNetwork)
	assert.Equal(t, 3, model.callCount())

	history, err := inv.Memory().History(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, history, "failed turns are not remembered")
}

func TestInvoker_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		results   []result
		want      string
		wantErr   bool
		wantCalls int
	}{
		{name: "first try", results: []result{{text: "hello"}}, want: "hello", wantCalls: 1},
		{name: "recovers on third", results: []result{{err: errNetwork}, {err: errors.New("API returned unexpected status code: 429: slow down")}, {text: "ok"}}, want: "ok", wantCalls: 3},
		{name: "empty completion retried", results: []result{{text: "  "}, {text: "real"}}, want: "real", wantCalls: 2},
		{name: "bad request not retried", results: []result{{err: errors.New("API returned unexpected status code: 400: bad")}}, wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &fakeModel{results: tt.results}
			inv := newInvoker(t, model, nil)

			got, err := inv.Invoke(context.Background(), llm.Request{UserID: "u1", Input: "hi"})
			assert.Equal(t, tt.wantCalls, model.callCount())
			if tt.wantErr {
				assert.ErrorIs(t, err, llm.ErrGenerationFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInvoker_HistoryPerUser(t *testing.T) {
	model := &fakeModel{}
	inv := newInvoker(t, model, nil)
	ctx := context.Background()

	_, err := inv.Invoke(ctx, llm.Request{UserID: "u1", Input: "q1\n\ncontext", Remember: "q1"})
	require.NoError(t, err)
	_, err = inv.Invoke(ctx, llm.Request{UserID: "u1", Input: "q2"})
	require.NoError(t, err)
	_, err = inv.Invoke(ctx, llm.Request{UserID: "u2", Input: "other"})
	require.NoError(t, err)

	require.Len(t, model.requests, 3)
	second := texts(model.requests[1])
	assert.Equal(t, []string{"human:q1", "ai:answer 0", "human:q2"}, second[1:])
	assert.Equal(t, llms.ChatMessageTypeSystem, model.requests[1][0].Role)

	third := texts(model.requests[2])
	assert.Equal(t, []string{"human:other"}, third[1:], "u2 sees none of u1's turns")
}

func TestInvoker_SameUserTurnsSerialize(t *testing.T) {
	model := &fakeModel{delay: 5 * time.Millisecond}
	inv := newInvoker(t, model, nil)
	ctx := context.Background()

	const turns = 8
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := inv.Invoke(ctx, llm.Request{UserID: "u1", Input: fmt.Sprintf("q%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), model.maxInFlight.Load())
	history, err := inv.Memory().History(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, history, 2*turns)
	for i, msg := range history {
		if i%2 == 0 {
			assert.Equal(t, llms.ChatMessageTypeHuman, msg.GetType())
		} else {
			assert.Equal(t, llms.ChatMessageTypeAI, msg.GetType())
		}
	}
}

func TestInvoker_DistinctUsersRunConcurrently(t *testing.T) {
	model := &fakeModel{delay: 20 * time.Millisecond}
	inv := newInvoker(t, model, nil)

	var wg sync.WaitGroup
	for _, user := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := inv.Invoke(context.Background(), llm.Request{UserID: user, Input: "hi"})
			assert.NoError(t, err)
		}(user)
	}
	wg.Wait()
	assert.Greater(t, model.maxInFlight.Load(), int32(1))
}

func TestInvoker_ResetAndWindow(t *testing.T) {
	mem := llm.NewMemory(llm.MemoryConfig{MaxMessages: 4}, nil)
	t.Cleanup(func() { _ = mem.Close() })
	inv := newInvoker(t, &fakeModel{}, mem)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := inv.Invoke(ctx, llm.Request{UserID: "u1", Input: fmt.Sprintf("q%d", i)})
		require.NoError(t, err)
	}
	history, err := mem.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "q1", history[0].GetContent())

	require.NoError(t, mem.Reset(ctx, "u1"))
	history, err = mem.History(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestInvoker_AttemptMetrics(t *testing.T) {
	before := testutil.ToFloat64(llm.AttemptsTotal.WithLabelValues("retryable"))
	beforeOK := testutil.ToFloat64(llm.AttemptsTotal.WithLabelValues("success"))

	model := &fakeModel{results: []result{{err: errNetwork}, {text: "done"}}}
	_, err := newInvoker(t, model, nil).Invoke(context.Background(), llm.Request{UserID: "u1", Input: "hi"})
	require.NoError(t, err)

	assert.Equal(t, before+1, testutil.ToFloat64(llm.AttemptsTotal.WithLabelValues("retryable")))
	assert.Equal(t, beforeOK+1, testutil.ToFloat64(llm.AttemptsTotal.WithLabelValues("success")))
}

func TestInvoker_Validation(t *testing.T) {
	_, err := llm.NewInvoker(nil, nil, llm.Config{}, nil)
	assert.Error(t, err)

	inv := newInvoker(t, &fakeModel{}, nil)
	_, err = inv.Invoke(context.Background(), llm.Request{Input: "hi"})
	assert.ErrorIs(t, err, llm.ErrGenerationFailed)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "url error", err: errNetwork, want: true},
		{name: "wrapped url error", err: fmt.Errorf("call: %w", errNetwork), want: true},
		{name: "rate limited", err: errors.New("API returned unexpected status code: 429: quota"), want: true},
		{name: "server error", err: errors.New("API returned unexpected status code: 503"), want: true},
		{name: "bad request", err: errors.New("API returned unexpected status code: 400"), want: false},
		{name: "unauthorized", err: errors.New("API returned unexpected status code: 401"), want: false},
		{name: "empty completion", err: llm.ErrEmptyCompletion, want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "plain", err: errors.New("invalid prompt"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.IsRetryable(tt.err))
		})
	}
}
