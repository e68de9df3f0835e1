package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

// MaxTokensPerCall is the FCM limit on tokens in one multicast request.
const MaxTokensPerCall = 500

var (
	ErrCircuitOpen = errors.New("fcm circuit open")
	ErrClosed      = errors.New("fcm client closed")
)

// Sender is the subset of *messaging.Client used by Client.
type Sender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Client wraps the FCM messaging client and adds a timeout, chunking and a
// circuit breaker.
type Client struct {
	sender Sender
	cfg    Config

	// simple circuit breaker state
	failures  int32
	openUntil int64 // unix nano
	closed    int32 // atomic flag for Close()
}

// NewClient creates a client around an existing sender.
func NewClient(cfg Config, sender Sender) (*Client, error) {
	if sender == nil {
		return nil, fmt.Errorf("fcm: sender is nil")
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CircuitFailureThreshold <= 0 {
		cfg.CircuitFailureThreshold = def.CircuitFailureThreshold
	}
	if cfg.CircuitReset <= 0 {
		cfg.CircuitReset = def.CircuitReset
	}
	logger.Info("fcm: NewClient created", slog.Duration("timeout", cfg.Timeout))
	return &Client{sender: sender, cfg: cfg}, nil
}

// NewFromApp creates a client from an initialized Firebase app.
func NewFromApp(ctx context.Context, app *firebase.App, cfg Config) (*Client, error) {
	mc, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: messaging client: %w", err)
	}
	return NewClient(cfg, mc)
}

// package-level logger for pkg/fcm; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by pkg/fcm. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.failures) < int32(c.cfg.CircuitFailureThreshold) {
		return false
	}

	if time.Now().UnixNano() < atomic.LoadInt64(&c.openUntil) {
		return true
	}

	// attempt half-open: reset failures and allow a request
	atomic.StoreInt32(&c.failures, 0)
	return false
}

func (c *Client) recordFailure() {
	v := atomic.AddInt32(&c.failures, 1)
	if v >= int32(c.cfg.CircuitFailureThreshold) {
		atomic.StoreInt64(&c.openUntil, time.Now().Add(c.cfg.CircuitReset).UnixNano())
	}
}

// Send delivers msg to all of its tokens, splitting it into requests of at
// most MaxTokensPerCall tokens. Responses keep the order of msg.Tokens. If a
// chunk fails as a whole the error is returned and no partial report is.
func (c *Client) Send(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, ErrClosed
	}
	if c.isCircuitOpen() {
		return nil, ErrCircuitOpen
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out := &messaging.BatchResponse{}
	for start := 0; start < len(msg.Tokens); start += MaxTokensPerCall {
		end := min(start+MaxTokensPerCall, len(msg.Tokens))
		chunk := *msg
		chunk.Tokens = msg.Tokens[start:end]

		res, err := c.sender.SendEachForMulticast(ctx, &chunk)
		if err != nil {
			c.recordFailure()
			return nil, fmt.Errorf("fcm multicast: %w", err)
		}
		out.SuccessCount += res.SuccessCount
		out.FailureCount += res.FailureCount
		out.Responses = append(out.Responses, res.Responses...)
	}

	atomic.StoreInt32(&c.failures, 0)
	return out, nil
}

// Close marks the client closed. The Firebase SDK owns its HTTP transport, so
// there is nothing else to release. Close is idempotent.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	logger.Info("fcm: client closed")
	return nil
}
