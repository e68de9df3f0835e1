package push_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/garnizeh/hostel/internal/notify"
	"github.com/garnizeh/hostel/internal/push"
	"github.com/redis/go-redis/v9"
)

func testMessage(tokens ...string) *notify.Message {
	return notify.LeaveWatch.Content("Approved").Message(tokens, notify.DefaultIcon)
}

type fakeMulticast struct {
	got *messaging.MulticastMessage
	res *messaging.BatchResponse
	err error
}

func (f *fakeMulticast) Send(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.got = m
	return f.res, f.err
}

func TestFCM_MapsBothProjectionsAndResponses(t *testing.T) {
	failure := errors.New("registration-token-not-registered")
	f := &fakeMulticast{res: &messaging.BatchResponse{
		SuccessCount: 1,
		FailureCount: 1,
		Responses: []*messaging.SendResponse{
			{Success: true, MessageID: "m1"},
			{Success: false, Error: failure},
		},
	}}

	res, err := push.NewFCM(f).SendEachForMulticast(context.Background(), testMessage("a", "b"))
	if err != nil {
		t.Fatalf("SendEachForMulticast: %v", err)
	}

	if f.got.Notification.Title != "Leave Status Updated" || f.got.Notification.Body != "Your leave has been Approved." {
		t.Fatalf("unexpected notification %+v", f.got.Notification)
	}
	wn := f.got.Webpush.Notification
	if wn.Title != f.got.Notification.Title || wn.Body != f.got.Notification.Body || wn.Icon != "/logo192.png" {
		t.Fatalf("unexpected webpush notification %+v", wn)
	}
	if res.SuccessCount != 1 || res.FailureCount != 1 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.Responses[0].Token != "a" || res.Responses[1].Token != "b" || !errors.Is(res.Responses[1].Error, failure) {
		t.Fatalf("unexpected responses %+v", res.Responses)
	}
}

func TestFCM_PropagatesCallFailure(t *testing.T) {
	f := &fakeMulticast{err: errors.New("circuit open")}
	if _, err := push.NewFCM(f).SendEachForMulticast(context.Background(), testMessage("a")); err == nil {
		t.Fatalf("expected error")
	}
}

type fakePublisher struct {
	receivers map[string]int64
	err       error
	published map[string][]byte
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	if f.published == nil {
		f.published = map[string][]byte{}
	}
	if b, ok := message.([]byte); ok {
		f.published[channel] = b
	}
	return redis.NewIntResult(f.receivers[channel], f.err)
}

func TestRedis_ReportsPerTokenDelivery(t *testing.T) {
	pub := &fakePublisher{receivers: map[string]int64{push.DeviceChannel("online"): 2}}

	res, err := push.NewRedis(pub).SendEachForMulticast(context.Background(), testMessage("online", "offline"))
	if err != nil {
		t.Fatalf("SendEachForMulticast: %v", err)
	}
	if res.SuccessCount != 1 || res.FailureCount != 1 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if !errors.Is(res.Responses[1].Error, push.ErrNoSubscriber) {
		t.Fatalf("expected ErrNoSubscriber for offline device, got %v", res.Responses[1].Error)
	}

	var p push.Payload
	if err := json.Unmarshal(pub.published[push.DeviceChannel("online")], &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.Notification.Body != "Your leave has been Approved." || p.Webpush.Notification.Icon != "/logo192.png" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestRedis_AllPublishesFailingIsACallFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	if _, err := push.NewRedis(pub).SendEachForMulticast(context.Background(), testMessage("a", "b")); err == nil {
		t.Fatalf("expected error when redis is unreachable")
	}
}

func TestLog_ReportsAllDelivered(t *testing.T) {
	l := push.NewLog(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	res, err := l.SendEachForMulticast(context.Background(), testMessage("a", "b", "c"))
	if err != nil || res.SuccessCount != 3 || res.FailureCount != 0 {
		t.Fatalf("unexpected result %+v, %v", res, err)
	}
}
