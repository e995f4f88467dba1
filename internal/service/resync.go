package service

import (
	"context"
	"encoding/json"
	"time"

	"chatsync/internal/errors"
	"chatsync/internal/metrics"
	"chatsync/internal/retry"
	"chatsync/internal/tracing"

	"chatsync/pkg/history"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ResyncCoordinator closes gaps left by live channel outages. It polls
// the history API from just before the last confirmed message and
// replays everything through the conversation's normal apply path, so
// a resync is nothing more than a burst of poll-source candidates and
// inherits all of the resolver's idempotence.
type ResyncCoordinator struct {
	history history.Client
	logger  *logrus.Logger
	backoff *retry.Backoff

	// overlap widens the poll window into already-seen territory to
	// absorb clock skew between client and server timestamps.
	overlap time.Duration
	limit   int
}

func NewResyncCoordinator(historyClient history.Client, overlap time.Duration, limit int, logger *logrus.Logger) *ResyncCoordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &ResyncCoordinator{
		history: historyClient,
		logger:  logger,
		backoff: retry.NewBackoff(retry.DefaultBackoffConfig()),
		overlap: overlap,
		limit:   limit,
	}
}

// Resync polls one conversation and merges the results. The sync
// cursor only advances after a fully successful pass; a failed poll
// leaves it where it was so the next attempt re-covers the same gap.
func (r *ResyncCoordinator) Resync(ctx context.Context, conv *Conversation) (err error) {
	ctx, span := tracing.StartSpan(ctx, "resync",
		attribute.String("conversation.id", conv.ID()))
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	defer func() { metrics.RecordTimer(metrics.MetricResyncDuration, time.Since(start)) }()

	_, lastAt := conv.LastKnown()
	var since time.Time
	if !lastAt.IsZero() {
		since = lastAt.Add(-r.overlap)
	}

	var pages []json.RawMessage
	err = r.backoff.Retry(ctx, func() error {
		raw, err := r.history.PollMessages(ctx, conv.ID(), since, r.limit)
		if err != nil {
			return err
		}
		pages = raw
		return nil
	}, errors.IsTransient)
	if err != nil {
		metrics.IncrementCounter(metrics.MetricResyncFailures, 1)
		r.logger.WithError(err).WithField("conversation_id", conv.ID()).
			Warn("Resync poll failed")
		return errors.Wrap(err, errors.ErrCodeHistoryAPI, "resync poll failed")
	}

	received := time.Now().UTC()
	merged := 0
	for _, raw := range pages {
		cand, err := NormalizeMessage(raw, received)
		if err != nil {
			r.logger.WithError(err).Warn("Skipping malformed poll record")
			continue
		}
		if err := conv.ApplyInbound(cand); err != nil {
			r.logger.WithError(err).Warn("Failed to apply poll record")
			continue
		}
		merged++
	}

	conv.MarkSynced(time.Now().UTC())
	metrics.IncrementCounter(metrics.MetricResyncRuns, 1)
	r.logger.WithFields(logrus.Fields{
		"conversation_id": conv.ID(),
		"records":         merged,
		"duration_ms":     time.Since(start).Milliseconds(),
	}).Debug("Resync completed")
	return nil
}
