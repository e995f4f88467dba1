package service

import (
	"context"
	"time"

	"chatsync/internal/errors"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/retry"
	"chatsync/internal/tracing"

	"chatsync/pkg/history"
	"chatsync/pkg/livechannel"
	"chatsync/pkg/livechannel/types"
	"chatsync/pkg/media"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// LiveTransport is the slice of the live channel the sender uses.
type LiveTransport interface {
	Send(ctx context.Context, event, convID string, payload interface{}) error
	State() livechannel.ConnectionState
}

// Sender runs the outbound pipeline: optimistic insert, live-channel
// send with bounded retries, HTTP fallback, terminal failure. The
// message is never removed on failure; it stays visible as failed so
// the user can retry it.
type Sender struct {
	live    LiveTransport
	history history.Client
	media   media.Uploader
	logger  *logrus.Logger

	config models.SendConfig
}

func NewSender(live LiveTransport, historyClient history.Client, uploader media.Uploader, config models.SendConfig, logger *logrus.Logger) *Sender {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sender{
		live:    live,
		history: historyClient,
		media:   uploader,
		logger:  logger,
		config:  config,
	}
}

// Send submits the draft optimistically and pushes it through the
// transports. It returns the correlation id as soon as the optimistic
// entry exists; transport delivery continues in the calling goroutine.
func (s *Sender) Send(ctx context.Context, conv *Conversation, draft *models.Draft) (string, error) {
	correlationID, err := conv.Submit(draft)
	if err != nil {
		return "", err
	}

	timeout := s.sendTimeout(draft)
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.deliver(sendCtx, conv, draft, correlationID); err != nil {
		conv.Fail(correlationID, err.Error())
		return correlationID, err
	}
	return correlationID, nil
}

// SendAttachment uploads the payload first, then sends a draft
// referencing the stored attachment.
func (s *Sender) SendAttachment(ctx context.Context, conv *Conversation, draft *models.Draft, data []byte, filename string) (string, error) {
	if s.media == nil {
		return "", errors.New(errors.ErrCodeMediaUpload, "no media uploader configured")
	}
	attachment, err := s.media.Upload(ctx, data, filename, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeMediaUpload, "attachment upload failed")
	}
	draft.Attachment = attachment
	return s.Send(ctx, conv, draft)
}

// Retry re-runs transport delivery for a message that previously
// failed. The failed entry flips back to pending for the duration.
func (s *Sender) Retry(ctx context.Context, conv *Conversation, correlationID string) error {
	draft, ok := conv.RetryableDraft(correlationID)
	if !ok {
		return errors.NewNotFoundError("pending send", correlationID)
	}

	timeout := s.sendTimeout(&draft)
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.deliver(sendCtx, conv, &draft, correlationID); err != nil {
		conv.Fail(correlationID, err.Error())
		return err
	}
	return nil
}

func (s *Sender) deliver(ctx context.Context, conv *Conversation, draft *models.Draft, correlationID string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "send",
		attribute.String("conversation.id", conv.ID()),
		attribute.String("message.kind", string(draft.Kind)))
	defer func() { tracing.EndSpan(span, err) }()

	liveErr := s.deliverLive(ctx, conv, draft, correlationID)
	if liveErr == nil {
		return nil
	}
	s.logger.WithError(liveErr).WithFields(logrus.Fields{
		"conversation_id": conv.ID(),
	}).Debug("Live transport exhausted, falling back to HTTP")

	httpErr := s.deliverHTTP(ctx, conv, draft, correlationID)
	if httpErr == nil {
		return nil
	}
	return errors.Wrap(httpErr, errors.ErrCodeTransientNetwork, "all transports exhausted")
}

func (s *Sender) deliverLive(ctx context.Context, conv *Conversation, draft *models.Draft, correlationID string) error {
	if s.live == nil || s.live.State() != livechannel.StateConnected {
		return errors.New(errors.ErrCodeLiveChannel, "live channel not connected")
	}
	conv.RecordTransport(correlationID, "live")

	conversationID := conv.ID()
	payload := types.MessageSendPayload{
		ConversationID: conversationID,
		CorrelationID:  correlationID,
		Content:        draft.Content,
		Kind:           string(draft.Kind),
		ReplyToID:      draft.ReplyToID,
	}
	if draft.Attachment != nil {
		payload.AttachmentURL = draft.Attachment.URL
		payload.AttachmentName = draft.Attachment.Name
		payload.AttachmentSize = draft.Attachment.Size
	}

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(s.config.BackoffInitialMs) * time.Millisecond,
		MaxDelay:     time.Duration(s.config.BackoffMaxMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  s.config.AttemptsPerTransport,
		Jitter:       true,
	})
	return backoff.Retry(ctx, func() error {
		metrics.IncrementCounter(metrics.MetricSendAttempts, 1)
		return s.live.Send(ctx, types.EventMessageSend, conversationID, payload)
	}, errors.IsTransient)
}

func (s *Sender) deliverHTTP(ctx context.Context, conv *Conversation, draft *models.Draft, correlationID string) error {
	conv.RecordTransport(correlationID, "history")
	req := &history.SendRequest{
		ConversationID: conv.ID(),
		CorrelationID:  correlationID,
		Content:        draft.Content,
		Kind:           string(draft.Kind),
		ReplyToID:      draft.ReplyToID,
	}
	if draft.Attachment != nil {
		req.AttachmentURL = draft.Attachment.URL
		req.AttachmentName = draft.Attachment.Name
		req.AttachmentSize = draft.Attachment.Size
	}

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(s.config.BackoffInitialMs) * time.Millisecond,
		MaxDelay:     time.Duration(s.config.BackoffMaxMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  s.config.AttemptsPerTransport,
		Jitter:       true,
	})

	var resp *history.SendResponse
	err := backoff.Retry(ctx, func() error {
		metrics.IncrementCounter(metrics.MetricSendAttempts, 1)
		r, err := s.history.SendMessage(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, errors.IsTransient)
	if err != nil {
		return err
	}
	if !resp.Accepted {
		return errors.New(errors.ErrCodeHistoryAPI, "send rejected: "+resp.Error)
	}

	// The HTTP transport confirms synchronously when the server hands
	// back the canonical id. Without one, confirmation waits for the
	// message to surface via live push or the next resync.
	if resp.MessageID != "" {
		conv.Confirm(correlationID, &models.Message{
			ID:        resp.MessageID,
			CreatedAt: time.Now().UTC(),
		})
	}
	return nil
}

// sendTimeout scales the transport deadline with attachment size so
// large uploads on slow links are not cut off by a flat timeout.
func (s *Sender) sendTimeout(draft *models.Draft) time.Duration {
	timeout := time.Duration(s.config.TimeoutSec) * time.Second
	if draft.Attachment != nil && draft.Attachment.Size > 0 {
		sizeMB := draft.Attachment.Size / (1 << 20)
		timeout += time.Duration(sizeMB) * time.Duration(s.config.TimeoutPerMBSec) * time.Second
	}
	return timeout
}
