package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/coachpo/backoffice/internal/observability"
	"github.com/coachpo/backoffice/internal/schema"
)

const (
	publishTimeout       = 10 * time.Second
	maxPublishBackoff    = 15 * time.Second
	maxPublishAttempts   = 5
	marketEventsPerTrade = 2
)

// Publisher drains a feed into the intake endpoint, pacing submissions with a
// rate limiter. Market data publishes marketEventsPerTrade times as often as
// trades, matching the cadence of the recorded stream.
type Publisher struct {
	client  *resty.Client
	feed    *Feed
	limiter *rate.Limiter
}

// NewPublisher constructs a publisher posting to baseURL at the given rate.
func NewPublisher(feed *Feed, baseURL string, perSecond float64, burst int) *Publisher {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(publishTimeout)
	return &Publisher{
		client:  client,
		feed:    feed,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Run publishes until the feed is drained or the context is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for tick := 0; p.feed.Remaining() > 0; tick++ {
		evt, ok := p.nextEvent(tick)
		if !ok {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := p.publish(ctx, evt); err != nil {
			return err
		}
	}
	observability.Log().Info("feed drained")
	return nil
}

func (p *Publisher) nextEvent(tick int) (*schema.Event, bool) {
	if tick%(marketEventsPerTrade+1) == marketEventsPerTrade {
		if evt, ok := p.feed.NextTradeEvent(); ok {
			return evt, true
		}
		return p.feed.NextMarketData()
	}
	if evt, ok := p.feed.NextMarketData(); ok {
		return evt, true
	}
	return p.feed.NextTradeEvent()
}

// publish posts one event, retrying transient failures with exponential
// backoff. A 4xx response is not retried: the payload will never be accepted.
func (p *Publisher) publish(ctx context.Context, evt *schema.Event) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxPublishBackoff

	var lastErr error
	for attempt := 0; attempt < maxPublishAttempts; attempt++ {
		resp, err := p.client.R().
			SetContext(ctx).
			SetFormData(FormData(evt)).
			Post("/api/events/")
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode() >= http.StatusBadRequest && resp.StatusCode() < http.StatusInternalServerError:
			return fmt.Errorf("feed: event %d rejected: status %d: %s", evt.ID, resp.StatusCode(), resp.String())
		case resp.StatusCode() >= http.StatusInternalServerError:
			lastErr = fmt.Errorf("feed: event %d: status %d", evt.ID, resp.StatusCode())
		default:
			observability.Log().Debug("event published",
				observability.Field{Key: "event_id", Value: evt.ID},
				observability.Field{Key: "event_type", Value: string(evt.Kind)})
			return nil
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxPublishBackoff
		}
		observability.Log().Error("publish failed, retrying",
			observability.Field{Key: "event_id", Value: evt.ID},
			observability.Field{Key: "error", Value: lastErr.Error()})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return fmt.Errorf("feed: event %d: retries exhausted: %w", evt.ID, lastErr)
}
