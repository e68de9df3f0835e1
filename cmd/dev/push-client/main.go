// Command push-client sends a single test notification through one of the
// push transports, e.g.
//
//	go run ./cmd/dev/push-client -transport fcm -credentials sa.json <token>...
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/garnizeh/hostel/internal/notify"
	"github.com/garnizeh/hostel/internal/push"
	"github.com/garnizeh/hostel/pkg/fcm"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
)

const (
	defaultTitle = "Test notification"
	defaultBody  = "Push delivery is working."
)

func main() {
	transportName := flag.String("transport", "log", "log, fcm or redis")
	project := flag.String("project", "", "Firebase project id (fcm)")
	credentials := flag.String("credentials", "", "Service account file (fcm)")
	redisURL := flag.String("redis-url", "redis://localhost:6379/0", "Redis URL (redis)")
	title := flag.String("title", defaultTitle, "Notification title")
	body := flag.String("body", defaultBody, "Notification body")
	icon := flag.String("icon", "", "Webpush icon URL")
	flag.Parse()

	tokens := flag.Args()
	if len(tokens) == 0 {
		log.Fatal("at least one device token is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	transport, closeFn, err := newTransport(ctx, *transportName, *project, *credentials, *redisURL)
	if err != nil {
		log.Fatal(err)
	}
	defer closeFn()

	msg := notify.Content{Title: *title, Body: *body}.Message(tokens, *icon)
	resp, err := transport.SendEachForMulticast(ctx, msg)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("success=%d failure=%d\n", resp.SuccessCount, resp.FailureCount)
	for _, r := range resp.Responses {
		if r.Success {
			fmt.Printf("  %s ok %s\n", r.Token, r.MessageID)
		} else {
			fmt.Printf("  %s failed: %v\n", r.Token, r.Error)
		}
	}
}

func newTransport(ctx context.Context, name, project, credentials, redisURL string) (notify.Transport, func(), error) {
	switch name {
	case "log":
		return push.NewLog(slog.New(slog.NewTextHandler(os.Stdout, nil))), func() {}, nil
	case "fcm":
		var opts []option.ClientOption
		if credentials != "" {
			opts = append(opts, option.WithCredentialsFile(credentials))
		}
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: project}, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("firebase app: %w", err)
		}
		client, err := fcm.NewFromApp(ctx, app, fcm.DefaultConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("fcm client: %w", err)
		}
		return push.NewFCM(client), func() { _ = client.Close() }, nil
	case "redis":
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		return push.NewRedis(rdb), func() { _ = rdb.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", name)
}
