package fcm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
)

func init() {
	SetLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

type fakeSender struct {
	mu     sync.Mutex
	chunks [][]string
	err    error
}

func (f *fakeSender) SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, append([]string(nil), m.Tokens...))
	if f.err != nil {
		return nil, f.err
	}
	res := &messaging.BatchResponse{}
	for _, tok := range m.Tokens {
		res.SuccessCount++
		res.Responses = append(res.Responses, &messaging.SendResponse{Success: true, MessageID: "id-" + tok})
	}
	return res, nil
}

func TestNewClient_RequiresSender(t *testing.T) {
	if _, err := NewClient(DefaultConfig(), nil); err == nil {
		t.Fatalf("expected error for nil sender")
	}
}

func TestSend_ChunksLargeMulticasts(t *testing.T) {
	s := &fakeSender{}
	c, err := NewClient(Config{}, s)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	tokens := make([]string, MaxTokensPerCall+3)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("tok-%d", i)
	}
	res, err := c.Send(context.Background(), &messaging.MulticastMessage{Tokens: tokens})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(s.chunks) != 2 || len(s.chunks[0]) != MaxTokensPerCall || len(s.chunks[1]) != 3 {
		t.Fatalf("unexpected chunking: %d chunks", len(s.chunks))
	}
	if res.SuccessCount != len(tokens) || len(res.Responses) != len(tokens) {
		t.Fatalf("unexpected merged response: %d/%d", res.SuccessCount, len(res.Responses))
	}
	if res.Responses[MaxTokensPerCall].MessageID != "id-tok-500" {
		t.Fatalf("responses out of order: %s", res.Responses[MaxTokensPerCall].MessageID)
	}
}

func TestSend_CircuitOpensAfterFailures(t *testing.T) {
	s := &fakeSender{err: errors.New("unavailable")}
	c, err := NewClient(Config{Timeout: time.Second, CircuitFailureThreshold: 2, CircuitReset: time.Hour}, s)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	msg := &messaging.MulticastMessage{Tokens: []string{"a"}}

	for i := 0; i < 2; i++ {
		if _, err := c.Send(context.Background(), msg); err == nil || errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("attempt %d: expected sender error, got %v", i, err)
		}
	}
	if _, err := c.Send(context.Background(), msg); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if len(s.chunks) != 2 {
		t.Fatalf("open circuit must not reach the sender, got %d calls", len(s.chunks))
	}
}

func TestSend_CircuitHalfOpensAfterReset(t *testing.T) {
	s := &fakeSender{err: errors.New("unavailable")}
	c, _ := NewClient(Config{Timeout: time.Second, CircuitFailureThreshold: 1, CircuitReset: 10 * time.Millisecond}, s)
	msg := &messaging.MulticastMessage{Tokens: []string{"a"}}

	_, _ = c.Send(context.Background(), msg)
	if _, err := c.Send(context.Background(), msg); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	if _, err := c.Send(context.Background(), msg); err != nil {
		t.Fatalf("expected half-open attempt to succeed, got %v", err)
	}
}

func TestClose_IdempotentAndRejectsSends(t *testing.T) {
	c, _ := NewClient(DefaultConfig(), &fakeSender{})
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := c.Send(context.Background(), &messaging.MulticastMessage{Tokens: []string{"a"}}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
