package notify

import "context"

// Notification is the generic visible projection of a push.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// WebpushNotification is the browser projection of a push.
type WebpushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
}

type WebpushConfig struct {
	Notification *WebpushNotification `json:"notification,omitempty"`
}

// Message is one multicast push addressed to every token in Tokens.
type Message struct {
	Tokens       []string       `json:"tokens"`
	Notification *Notification  `json:"notification,omitempty"`
	Webpush      *WebpushConfig `json:"webpush,omitempty"`
}

// SendResponse is the outcome for a single token, in Tokens order.
type SendResponse struct {
	Token     string
	Success   bool
	MessageID string
	Error     error
}

// BatchResponse is the per-token report of a multicast send.
type BatchResponse struct {
	SuccessCount int
	FailureCount int
	Responses    []SendResponse
}

// Transport delivers a multicast message. An error means the call as a
// whole failed; per-token failures are reported in the BatchResponse.
type Transport interface {
	SendEachForMulticast(ctx context.Context, msg *Message) (*BatchResponse, error)
}

// Content is the text of a notification. Both projections of a Message are
// rendered from the same Content so they can never disagree.
type Content struct {
	Title string
	Body  string
}

// Message renders c for the given tokens.
func (c Content) Message(tokens []string, icon string) *Message {
	return &Message{
		Tokens:       append([]string(nil), tokens...),
		Notification: &Notification{Title: c.Title, Body: c.Body},
		Webpush: &WebpushConfig{
			Notification: &WebpushNotification{Title: c.Title, Body: c.Body, Icon: icon},
		},
	}
}
