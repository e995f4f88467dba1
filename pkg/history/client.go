// Package history implements the HTTP fallback API: windowed message
// polling, message send as a secondary transport, and global retraction.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chatsync/internal/errors"
)

// Client is the surface the engine depends on.
type Client interface {
	PollMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]json.RawMessage, error)
	SendMessage(ctx context.Context, req *SendRequest) (*SendResponse, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
}

// SessionProvider supplies the bearer credential for API calls.
type SessionProvider interface {
	CurrentUserID() string
	AuthToken() string
}

// SendRequest is the HTTP-transport send body.
type SendRequest struct {
	ConversationID string `json:"conversationId"`
	CorrelationID  string `json:"correlationId"`
	Content        string `json:"content"`
	Kind           string `json:"kind,omitempty"`
	AttachmentURL  string `json:"attachmentUrl,omitempty"`
	AttachmentName string `json:"attachmentName,omitempty"`
	AttachmentSize int64  `json:"attachmentSize,omitempty"`
	ReplyToID      string `json:"replyToId,omitempty"`
}

// SendResponse is returned on an accepted send.
type SendResponse struct {
	Accepted  bool   `json:"accepted"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type pollResponse struct {
	Messages []json.RawMessage `json:"messages"`
}

// HTTPClient talks to the conversation API over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	session SessionProvider
}

func NewClient(baseURL string, timeout time.Duration, session SessionProvider) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		session: session,
	}
}

// PollMessages fetches a window of raw message payloads created after
// `since`. The payloads are returned untyped; normalization happens in
// the ingest router so poll results share the live-channel path.
func (c *HTTPClient) PollMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	q.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/v1/conversations/%s/messages?%s", c.baseURL, url.PathEscape(conversationID), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewTransportError("history", "poll", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp, "poll"); err != nil {
		return nil, err
	}

	var decoded pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}
	return decoded.Messages, nil
}

// SendMessage posts a message over the fallback transport.
func (c *HTTPClient) SendMessage(ctx context.Context, sendReq *SendRequest) (*SendResponse, error) {
	body, err := json.Marshal(sendReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/conversations/%s/messages", c.baseURL, url.PathEscape(sendReq.ConversationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewTransportError("history", "send", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp, "send"); err != nil {
		return nil, err
	}

	var decoded SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode send response: %w", err)
	}
	if !decoded.Accepted {
		return &decoded, errors.NewTransportError("history", "send", resp.StatusCode,
			fmt.Errorf("send rejected: %s", decoded.Error))
	}
	return &decoded, nil
}

// DeleteMessage issues a global retraction. Local hiding never reaches
// this call.
func (c *HTTPClient) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	endpoint := fmt.Sprintf("%s/v1/conversations/%s/messages/%s",
		c.baseURL, url.PathEscape(conversationID), url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.NewTransportError("history", "delete", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Retracting an already-deleted message is an idempotent no-op.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil
	}
	return c.checkStatus(resp, "delete")
}

func (c *HTTPClient) authorize(req *http.Request) {
	if token := c.session.AuthToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-User-ID", c.session.CurrentUserID())
}

func (c *HTTPClient) checkStatus(resp *http.Response, endpoint string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(snippet))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.NewAuthError(fmt.Sprintf("%s returned %d", endpoint, resp.StatusCode))
	}
	return errors.NewTransportError("history", endpoint, resp.StatusCode, err)
}
