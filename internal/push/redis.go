package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garnizeh/hostel/internal/notify"
	"github.com/redis/go-redis/v9"
)

// ErrNoSubscriber reports a token nobody was listening on.
var ErrNoSubscriber = errors.New("push/unregistered: no subscriber for device")

// DeviceChannel is the pub/sub channel a device listens on.
func DeviceChannel(token string) string {
	return "device_notifications:" + token
}

// Publisher is satisfied by *redis.Client.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Redis publishes each notification on the device channels of its tokens.
// Browsers receive them through the notifications websocket.
type Redis struct {
	pub Publisher
}

func NewRedis(pub Publisher) *Redis {
	return &Redis{pub: pub}
}

var _ notify.Transport = (*Redis)(nil)

// Payload is what subscribers receive.
type Payload struct {
	Notification *notify.Notification  `json:"notification,omitempty"`
	Webpush      *notify.WebpushConfig `json:"webpush,omitempty"`
}

func (r *Redis) SendEachForMulticast(ctx context.Context, msg *notify.Message) (*notify.BatchResponse, error) {
	b, err := json.Marshal(Payload{Notification: msg.Notification, Webpush: msg.Webpush})
	if err != nil {
		return nil, fmt.Errorf("marshal push payload: %w", err)
	}

	out := &notify.BatchResponse{}
	var lastErr error
	transportErrors := 0
	for _, tok := range msg.Tokens {
		sr := notify.SendResponse{Token: tok}
		receivers, err := r.pub.Publish(ctx, DeviceChannel(tok), b).Result()
		switch {
		case err != nil:
			sr.Error = err
			lastErr = err
			transportErrors++
		case receivers == 0:
			sr.Error = ErrNoSubscriber
		default:
			sr.Success = true
		}
		if sr.Success {
			out.SuccessCount++
		} else {
			out.FailureCount++
		}
		out.Responses = append(out.Responses, sr)
	}

	if len(msg.Tokens) > 0 && transportErrors == len(msg.Tokens) {
		return nil, fmt.Errorf("redis publish: %w", lastErr)
	}
	return out, nil
}
