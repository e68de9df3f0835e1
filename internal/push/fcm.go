// Package push implements notify.Transport on top of concrete delivery
// channels.
package push

import (
	"context"

	"firebase.google.com/go/v4/messaging"
	"github.com/garnizeh/hostel/internal/notify"
)

// MulticastSender is satisfied by *fcm.Client.
type MulticastSender interface {
	Send(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCM delivers through Firebase Cloud Messaging.
type FCM struct {
	client MulticastSender
}

func NewFCM(client MulticastSender) *FCM {
	return &FCM{client: client}
}

var _ notify.Transport = (*FCM)(nil)

func (f *FCM) SendEachForMulticast(ctx context.Context, msg *notify.Message) (*notify.BatchResponse, error) {
	res, err := f.client.Send(ctx, toMulticast(msg))
	if err != nil {
		return nil, err
	}

	out := &notify.BatchResponse{SuccessCount: res.SuccessCount, FailureCount: res.FailureCount}
	for i, r := range res.Responses {
		sr := notify.SendResponse{Success: r.Success, MessageID: r.MessageID, Error: r.Error}
		if i < len(msg.Tokens) {
			sr.Token = msg.Tokens[i]
		}
		out.Responses = append(out.Responses, sr)
	}
	return out, nil
}

func toMulticast(msg *notify.Message) *messaging.MulticastMessage {
	mm := &messaging.MulticastMessage{Tokens: msg.Tokens}
	if n := msg.Notification; n != nil {
		mm.Notification = &messaging.Notification{Title: n.Title, Body: n.Body}
	}
	if msg.Webpush != nil && msg.Webpush.Notification != nil {
		wn := msg.Webpush.Notification
		mm.Webpush = &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{Title: wn.Title, Body: wn.Body, Icon: wn.Icon},
		}
	}
	return mm
}
