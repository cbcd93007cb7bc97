package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedClient returns canned results/errors in order, then repeats the
// last entry.
type scriptedClient struct {
	results []*Result
	errs    []error
	calls   int
	users   []string
}

func (c *scriptedClient) Complete(_ context.Context, _, user string) (*Result, error) {
	i := c.calls
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	c.calls++
	c.users = append(c.users, user)
	if c.errs[i] != nil {
		return nil, c.errs[i]
	}
	return c.results[i], nil
}

func fastGateway(c Client) *Gateway {
	return NewGateway(c, GatewayConfig{MaxAttempts: 3, MaxContinuations: 3, Backoff: time.Millisecond})
}

func TestComplete_Success(t *testing.T) {
	client := &scriptedClient{
		results: []*Result{{Text: "done", FinishReason: FinishStop, InputChars: 10, OutputChars: 4}},
		errs:    []error{nil},
	}
	res, err := fastGateway(client).Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if res.Text != "done" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 call, got %d", client.calls)
	}
}

func TestComplete_RetriesTransientErrors(t *testing.T) {
	client := &scriptedClient{
		results: []*Result{nil, nil, {Text: "ok", FinishReason: FinishStop}},
		errs:    []error{&APIError{Status: 429}, &APIError{Status: 500}, nil},
	}
	res, err := fastGateway(client).Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if res.Text != "ok" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", client.calls)
	}
}

func TestComplete_ExhaustsRetryBudget(t *testing.T) {
	client := &scriptedClient{
		results: []*Result{nil},
		errs:    []error{&APIError{Status: 503}},
	}
	_, err := fastGateway(client).Complete(context.Background(), "sys", "user")
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if genErr.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", genErr.Attempts)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", client.calls)
	}
}

func TestComplete_NonRetryableFailsImmediately(t *testing.T) {
	client := &scriptedClient{
		results: []*Result{nil},
		errs:    []error{&APIError{Status: 401}},
	}
	_, err := fastGateway(client).Complete(context.Background(), "sys", "user")
	if err == nil {
		t.Fatal("expected error")
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 call for auth error, got %d", client.calls)
	}
}

func TestComplete_ContinuesTruncatedOutput(t *testing.T) {
	client := &scriptedClient{
		results: []*Result{
			{Text: "part1 ", FinishReason: FinishLength, OutputChars: 6},
			{Text: "part2", FinishReason: FinishStop, OutputChars: 5},
		},
		errs: []error{nil, nil},
	}
	res, err := fastGateway(client).Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if res.Text != "part1 part2" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.FinishReason != FinishStop {
		t.Fatalf("unexpected finish reason %q", res.FinishReason)
	}
	if res.OutputChars != 11 {
		t.Fatalf("expected summed output chars, got %d", res.OutputChars)
	}
	if len(client.users) != 2 || client.users[1] == "user" {
		t.Fatal("expected a continuation prompt on the second call")
	}
}

func TestComplete_ContinuationCapStopsLoop(t *testing.T) {
	client := &scriptedClient{
		results: []*Result{{Text: "x", FinishReason: FinishLength}},
		errs:    []error{nil},
	}
	res, err := fastGateway(client).Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	// 1 initial + 3 continuations.
	if client.calls != 4 {
		t.Fatalf("expected 4 calls, got %d", client.calls)
	}
	if res.FinishReason != FinishLength {
		t.Fatalf("expected length finish after cap, got %q", res.FinishReason)
	}
}

func TestComplete_ContinuationFailureReturnsPartial(t *testing.T) {
	client := &scriptedClient{
		results: []*Result{{Text: "partial", FinishReason: FinishLength}, nil},
		errs:    []error{nil, &APIError{Status: 400}},
	}
	res, err := fastGateway(client).Complete(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("expected partial result, got error %v", err)
	}
	if res.Text != "partial" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestComplete_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{results: []*Result{{Text: "x"}}, errs: []error{nil}}
	_, err := fastGateway(client).Complete(ctx, "sys", "user")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if client.calls != 0 {
		t.Fatal("expected no calls after cancellation")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", &APIError{Status: 429}, true},
		{"server error", &APIError{Status: 502}, true},
		{"unauthorized", &APIError{Status: 401}, false},
		{"forbidden", &APIError{Status: 403}, false},
		{"not found", &APIError{Status: 404}, false},
		{"bad request", &APIError{Status: 400}, false},
		{"network", errors.New("connection reset"), true},
		{"context cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
