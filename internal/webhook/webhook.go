// Package webhook verifies and decodes Plain webhook deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

// Header names set by Plain on every delivery.
const (
	HeaderSignature   = "Plain-Signature"
	HeaderEventID     = "Plain-Event-Id"
	HeaderEventType   = "Plain-Event-Type"
	HeaderWorkspaceID = "Plain-Workspace-Id"
)

// Event is the webhook envelope.
type Event struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Timestamp       string         `json:"timestamp"`
	WorkspaceID     string         `json:"workspaceId"`
	WebhookMetadata map[string]any `json:"webhookMetadata"`
	Payload         Payload        `json:"payload"`
}

// Payload holds the part of the event body the router cares about.
type Payload struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against body. An empty secret or signature never
// verifies.
func Verify(secret string, body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return support.Errorf(support.ErrUnauthorized, "invalid signature")
	}
	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return support.Errorf(support.ErrUnauthorized, "invalid signature")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return support.Errorf(support.ErrUnauthorized, "invalid signature")
	}
	return nil
}

// Parse decodes a verified body.
func Parse(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, support.Errorf(support.ErrValidation, "invalid webhook body: %v", err)
	}
	return evt, nil
}

// Headers carries the Plain delivery headers, used when the body omits them.
type Headers struct {
	EventID     string
	EventType   string
	WorkspaceID string
}

// Resolve fills event identity from headers where the body is silent and
// reports an error when no event id is available.
func (e Event) Resolve(h Headers) (Event, error) {
	if strings.TrimSpace(e.ID) == "" {
		e.ID = strings.TrimSpace(h.EventID)
	}
	if e.Type == "" {
		e.Type = h.EventType
	}
	if e.WorkspaceID == "" {
		e.WorkspaceID = h.WorkspaceID
	}
	if e.ID == "" {
		return Event{}, support.Errorf(support.ErrValidation, "event id is required")
	}
	return e, nil
}

// Content returns the trimmed support question carried by the event.
func (e Event) Content() string {
	return strings.TrimSpace(e.Payload.Message.Content)
}

// Request translates the event into a support request. ok is false when the
// event carries no question.
func (e Event) Request() (support.Request, bool) {
	content := e.Content()
	if content == "" {
		return support.Request{}, false
	}
	return support.Request{
		Query:       content,
		Source:      support.SourceWebhook,
		EventID:     e.ID,
		EventType:   e.Type,
		WorkspaceID: e.WorkspaceID,
	}.Normalize(), true
}
