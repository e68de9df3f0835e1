package push

import (
	"context"
	"log/slog"

	"github.com/garnizeh/hostel/internal/notify"
)

// Log writes notifications to the logger and reports every token delivered.
// It is the development transport.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

var _ notify.Transport = (*Log)(nil)

func (l *Log) SendEachForMulticast(ctx context.Context, msg *notify.Message) (*notify.BatchResponse, error) {
	out := &notify.BatchResponse{}
	for _, tok := range msg.Tokens {
		out.SuccessCount++
		out.Responses = append(out.Responses, notify.SendResponse{Token: tok, Success: true})
	}
	var title, body string
	if msg.Notification != nil {
		title, body = msg.Notification.Title, msg.Notification.Body
	}
	l.logger.Info("push: log transport", slog.Int("tokens", len(msg.Tokens)), slog.String("title", title), slog.String("body", body))
	return out, nil
}
